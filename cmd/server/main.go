package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stokkita/backend/internal/cache"
	"stokkita/backend/internal/config"
	"stokkita/backend/internal/httpapi"
	"stokkita/backend/internal/service"
	"stokkita/backend/internal/store"
	"stokkita/backend/internal/store/memory"
	"stokkita/backend/internal/store/postgres"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("[server] FATAL: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.ValidateForServing(); err != nil {
		return err
	}

	ctx := context.Background()

	var st store.Store
	if cfg.DatabaseURL != "" {
		pg, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pg.Close()
		st = pg
		log.Printf("[server] store: postgres")
	} else {
		st = memory.NewSeeded()
		log.Printf("[server] WARN: DATABASE_URL not set, using in-memory store with seed data")
	}

	var reportCache cache.ReportCache
	if cfg.RedisAddr != "" {
		rc, err := cache.NewRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return err
		}
		defer rc.Close()
		reportCache = rc
		log.Printf("[server] report cache: redis at %s", cfg.RedisAddr)
	} else {
		reportCache = cache.NewNoop()
		log.Printf("[server] WARN: REDIS_ADDR not set, report caching disabled")
	}

	svc := service.New(st, reportCache, cfg.ReportCacheTTL, cfg.CancelWindow)
	auth := httpapi.NewAuthManager(st, cfg.AuthSecret, cfg.AccessTokenTTL)
	api := httpapi.NewServer(svc, auth, cfg.AllowedOrigin)

	srv := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[server] listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stopCh:
		log.Printf("[server] received %s, shutting down", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Printf("[server] shutdown complete")
	return nil
}
