package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/KDR9MGR/digital-payments-sub002/internal/api"
	"github.com/KDR9MGR/digital-payments-sub002/internal/api/middleware"
	"github.com/KDR9MGR/digital-payments-sub002/internal/config"
	"github.com/KDR9MGR/digital-payments-sub002/internal/db"
	"github.com/KDR9MGR/digital-payments-sub002/internal/gateway"
	"github.com/KDR9MGR/digital-payments-sub002/internal/idempotency"
	"github.com/KDR9MGR/digital-payments-sub002/internal/observability"
	"github.com/KDR9MGR/digital-payments-sub002/internal/repository"
	"github.com/KDR9MGR/digital-payments-sub002/internal/service"
	"github.com/KDR9MGR/digital-payments-sub002/internal/worker"
)

// Run bootstraps the HTTP server and background workers, blocking until
// shutdown.
func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	observability.Init()
	middleware.SetJWTSecret(cfg.JWTSecret)
	middleware.SetJWTValidation(cfg.JWTIssuer, cfg.JWTAudience)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	redisClient, err := newRedisClient(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer redisClient.Close()

	idemStore := idempotency.NewStore(redisClient, pool, cfg.IdempotencyTTL)
	repo := repository.New(pool)

	gw := gateway.NewStripeGateway(gateway.StripeConfig{
		SecretKey:            cfg.StripeSecretKey,
		WebhookSigningSecret: cfg.StripeWebhookSecret,
		BaseURL:              cfg.StripeBaseURL,
		OnboardingRefreshURL: cfg.OnboardingRefreshURL,
		OnboardingReturnURL:  cfg.OnboardingReturnURL,
		RequestTimeout:       cfg.GatewayCallTimeout,
		MaxRetries:           cfg.GatewayMaxRetries,
	}, logger)

	engine := service.NewOrchestrationEngine(repo, repo, gw, cfg.GatewayCallTimeout)
	onboarding := service.NewOnboardingService(repo, gw)
	reconciler := service.NewWebhookReconciler(repo, repo, gw, engine)

	sweepSvc := service.NewSweepService(repo, idemStore, cfg.SweepPendingAfter, 100)
	sweepWorker := worker.NewSweepWorker(sweepSvc).WithInterval(cfg.SweepInterval)
	stopSweep := sweepWorker.Run(ctx)
	logger.Info("sweep worker started", zap.Duration("interval", cfg.SweepInterval))

	statusWorker := worker.NewStatusWorker(onboarding, repo).
		WithInterval(cfg.StatusPollInterval).
		WithStaleAfter(cfg.StatusStaleAfter)
	stopStatus := statusWorker.Run(ctx)
	logger.Info("status worker started", zap.Duration("interval", cfg.StatusPollInterval))

	router := api.NewRouter(engine, onboarding, reconciler, idemStore, pool, redisClient, logger,
		cfg.PublicRateLimitRPS, cfg.AuthRateLimitRPS)

	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("port", cfg.HTTPPort))
		serverErr <- server.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("stopping workers")
	stopSweep()
	stopStatus()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	switch strings.ToLower(level) {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info", "":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

func newRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}
