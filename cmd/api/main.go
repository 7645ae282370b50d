package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/flowwatch/flowwatch/internal/app/migrate"
	httpx "github.com/flowwatch/flowwatch/internal/http"
	"github.com/flowwatch/flowwatch/internal/repository/postgres"
	"github.com/flowwatch/flowwatch/internal/service/auth"
	"github.com/flowwatch/flowwatch/internal/service/credential"
	"github.com/flowwatch/flowwatch/internal/service/deploy"
	"github.com/flowwatch/flowwatch/internal/service/monitor"
	"github.com/flowwatch/flowwatch/internal/service/notification"
	"github.com/flowwatch/flowwatch/internal/ws"
	"github.com/flowwatch/flowwatch/pkg/config"
	"github.com/flowwatch/flowwatch/pkg/logger"
)

func main() {
	cfg := config.LoadServerConfig()
	log := logger.New("api", slog.LevelInfo)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	defer runner.Close()
	if err := runner.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	if err := runner.Ensure(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	repo := postgres.New(pool)
	healthHub := ws.NewHub()

	authSvc := auth.New(repo, log, cfg)
	deploySvc := deploy.New(repo, log)
	monitorSvc := monitor.New(repo, repo, healthHub, log)
	notificationSvc := notification.New(repo, log)
	credentialSvc, err := credential.New(repo, repo, cfg.CredentialSecret, log)
	if err != nil {
		log.Error("credential service unavailable", "error", err)
		os.Exit(1)
	}

	prober := monitor.NewHTTPProber(cfg.MonitorProbeTimeout, log)
	scheduler := monitor.NewScheduler(repo, prober, monitorSvc, log, cfg.MonitorInterval, cfg.MonitorConcurrency)
	go scheduler.Run(ctx)

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(log, authSvc, deploySvc, monitorSvc, notificationSvc, credentialSvc, healthHub, limiter, pool.Ping)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.Addr, "env", cfg.Environment)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("api server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
