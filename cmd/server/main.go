package main

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"shoptally/backend/internal/cache"
	"shoptally/backend/internal/config"
	"shoptally/backend/internal/httpapi"
	"shoptally/backend/internal/report"
	"shoptally/backend/internal/service"
	"shoptally/backend/internal/store"
	"shoptally/backend/internal/store/memory"
	"shoptally/backend/internal/store/postgres"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	var closers []io.Closer

	var repo store.Repository
	if cfg.DatabaseURL != "" {
		pg, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("postgres: %v", err)
		}
		closers = append(closers, pg)
		repo = pg
		log.Printf("using postgres store")
	} else {
		repo = memory.NewSeeded()
		log.Printf("DATABASE_URL not set, using seeded in-memory store")
	}

	var reportCache cache.ReportCache = cache.NoopReportCache{}
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisReportCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := redisCache.Ping(pingCtx)
		cancel()
		if err != nil {
			log.Printf("redis unreachable, report cache disabled: %v", err)
			_ = redisCache.Close()
		} else {
			closers = append(closers, redisCache)
			reportCache = redisCache
			log.Printf("report cache on redis %s", cfg.RedisAddr)
		}
	}

	reports := report.NewEngine(repo, reportCache, cfg.ReportCacheTTL)
	svc := service.New(repo, reports)
	api := httpapi.New(svc, cfg.AllowedOrigin)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Printf("listening on %s", server.Addr)
		serveErr <- server.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	awaitShutdown(ctx, server, stop, serveErr)
	closeAll(closers)
}

// awaitShutdown blocks until a shutdown signal or a serve failure.
// Either way it returns instead of exiting, so the caller can release
// its resources.
func awaitShutdown(ctx context.Context, server *http.Server, stop <-chan os.Signal, serveErr <-chan error) {
	select {
	case <-stop:
		log.Printf("shutting down")
		shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown: %v", err)
		}
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("server: %v", err)
		}
	}
}

func closeAll(closers []io.Closer) {
	for _, closer := range closers {
		_ = closer.Close()
	}
}
