package main

import (
	"context"
	"errors"
	nethttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Faixee/LUMI-OS/internal/config"
	"github.com/Faixee/LUMI-OS/internal/db"
	"github.com/Faixee/LUMI-OS/internal/gate"
	"github.com/Faixee/LUMI-OS/internal/http"
	"github.com/Faixee/LUMI-OS/internal/policy"
	"github.com/Faixee/LUMI-OS/internal/ratelimit"
	"github.com/Faixee/LUMI-OS/internal/repository"
)

func main() {
	_ = godotenv.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg := config.Load()
	if cfg.IsProduction() && cfg.JWTSecret == "development-secret-key-not-for-production" {
		logger.Fatal("JWT_SECRET must be set in production")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer pool.Close()

	store := repository.NewStore(pool)
	if err := store.Migrate(ctx); err != nil {
		logger.Fatal("migration failed", zap.Error(err))
	}

	table := policy.Default()
	if cfg.PolicyPath != "" {
		table, err = policy.Load(cfg.PolicyPath)
		if err != nil {
			logger.Fatal("policy file rejected", zap.Error(err))
		}
		logger.Info("feature policy loaded", zap.String("path", cfg.PolicyPath))
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unavailable, rate limiting disabled", zap.Error(err))
			redisClient = nil
		}
		defer func() {
			if redisClient != nil {
				redisClient.Close()
			}
		}()
	}

	featureGate := gate.New(table, store, prometheus.DefaultRegisterer)
	limiter := ratelimit.New(redisClient, logger)
	server := http.NewServer(cfg, store, featureGate, limiter, logger)

	httpServer := &nethttp.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.HTTPAddr), zap.String("environment", cfg.Environment))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown incomplete", zap.Error(err))
		}
	}
}
