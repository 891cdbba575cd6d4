package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port          string
	AllowedOrigin string

	// DatabaseURL empty means the server runs on the in-memory store.
	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	AuthSecret     string
	AccessTokenTTL time.Duration

	ReportCacheTTL time.Duration

	// CancelWindow bounds how long after creation a sale may be cancelled.
	CancelWindow time.Duration
}

func Load() (Config, error) {
	cfg := Config{
		Port:          getEnv("PORT", "8080"),
		AllowedOrigin: getEnv("ALLOWED_ORIGIN", "*"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
	}

	var err error
	if cfg.RedisDB, err = getEnvInt("REDIS_DB", 0); err != nil {
		return Config{}, err
	}

	cfg.AuthSecret = os.Getenv("AUTH_SECRET")

	ttlMinutes, err := getEnvInt("ACCESS_TOKEN_TTL_MINUTES", 60)
	if err != nil {
		return Config{}, err
	}
	if ttlMinutes < 1 {
		return Config{}, fmt.Errorf("config: ACCESS_TOKEN_TTL_MINUTES must be positive, got %d", ttlMinutes)
	}
	cfg.AccessTokenTTL = time.Duration(ttlMinutes) * time.Minute

	cacheSeconds, err := getEnvInt("REPORT_CACHE_TTL_SECONDS", 60)
	if err != nil {
		return Config{}, err
	}
	if cacheSeconds < 0 {
		return Config{}, fmt.Errorf("config: REPORT_CACHE_TTL_SECONDS must not be negative, got %d", cacheSeconds)
	}
	cfg.ReportCacheTTL = time.Duration(cacheSeconds) * time.Second

	windowHours, err := getEnvInt("CANCEL_WINDOW_HOURS", 24)
	if err != nil {
		return Config{}, err
	}
	if windowHours < 1 {
		return Config{}, fmt.Errorf("config: CANCEL_WINDOW_HOURS must be positive, got %d", windowHours)
	}
	cfg.CancelWindow = time.Duration(windowHours) * time.Hour

	return cfg, nil
}

// Address is the listen address for the HTTP server.
func (c Config) Address() string {
	return ":" + c.Port
}

// ValidateForServing enforces the settings a reachable deployment cannot
// run without.
func (c Config) ValidateForServing() error {
	if len(c.AuthSecret) < 32 {
		return fmt.Errorf("config: AUTH_SECRET must be at least 32 bytes, got %d", len(c.AuthSecret))
	}
	return nil
}

func getEnv(key string, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be an integer, got %q", key, v)
	}
	return n, nil
}
