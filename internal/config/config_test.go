package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Fatalf("port = %s, want 8080", cfg.Port)
	}
	if cfg.AccessTokenTTL != time.Hour {
		t.Fatalf("token ttl = %s, want 1h", cfg.AccessTokenTTL)
	}
	if cfg.CancelWindow != 24*time.Hour {
		t.Fatalf("cancel window = %s, want 24h", cfg.CancelWindow)
	}
	if cfg.ReportCacheTTL != time.Minute {
		t.Fatalf("report cache ttl = %s, want 1m", cfg.ReportCacheTTL)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("CANCEL_WINDOW_HOURS", "48")
	t.Setenv("REPORT_CACHE_TTL_SECONDS", "0")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "9090" {
		t.Fatalf("port = %s, want 9090", cfg.Port)
	}
	if cfg.CancelWindow != 48*time.Hour {
		t.Fatalf("cancel window = %s, want 48h", cfg.CancelWindow)
	}
	if cfg.ReportCacheTTL != 0 {
		t.Fatalf("report cache ttl = %s, want 0", cfg.ReportCacheTTL)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("CANCEL_WINDOW_HOURS", "0")
	if _, err := Load(); err == nil {
		t.Fatalf("zero cancel window should be rejected")
	}

	t.Setenv("CANCEL_WINDOW_HOURS", "abc")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "CANCEL_WINDOW_HOURS") {
		t.Fatalf("non-numeric cancel window: got %v", err)
	}
}

func TestValidateForServing(t *testing.T) {
	cfg := Config{AuthSecret: "short"}
	if err := cfg.ValidateForServing(); err == nil {
		t.Fatalf("short secret should be rejected")
	}

	cfg.AuthSecret = strings.Repeat("x", 32)
	if err := cfg.ValidateForServing(); err != nil {
		t.Fatalf("valid secret rejected: %v", err)
	}
}
