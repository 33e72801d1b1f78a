package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"

	"github.com/jewelcraft/jewelcraft-backend/api/controllers"
	"github.com/jewelcraft/jewelcraft-backend/api/routes"
	"github.com/jewelcraft/jewelcraft-backend/internal/billing"
	"github.com/jewelcraft/jewelcraft-backend/internal/ledger"
	"github.com/jewelcraft/jewelcraft-backend/internal/shops"
	stripewebhook "github.com/jewelcraft/jewelcraft-backend/internal/webhooks/stripe"
	"github.com/jewelcraft/jewelcraft-backend/pkg/config"
	"github.com/jewelcraft/jewelcraft-backend/pkg/db"
	"github.com/jewelcraft/jewelcraft-backend/pkg/logger"
	"github.com/jewelcraft/jewelcraft-backend/pkg/metrics"
	"github.com/jewelcraft/jewelcraft-backend/pkg/migrate"
	"github.com/jewelcraft/jewelcraft-backend/pkg/redis"
	pkgstripe "github.com/jewelcraft/jewelcraft-backend/pkg/stripe"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logg); err != nil {
		logg.Error(context.Background(), "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) (err error) {
	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, dbClient.Close()) }()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return err
	}

	var (
		redisClient *redis.Client
		redisPinger controllers.Pinger
		guard       *stripewebhook.IdempotencyGuard
	)
	if cfg.Redis.Enabled() {
		redisClient, err = redis.New(ctx, cfg.Redis, logg)
		if err != nil {
			return err
		}
		defer func() { err = multierr.Append(err, redisClient.Close()) }()

		guard, err = stripewebhook.NewIdempotencyGuard(redisClient, cfg.Webhook.IdempotencyTTL, stripewebhook.IdempotencyScope)
		if err != nil {
			return err
		}
		redisPinger = redisClient
	} else {
		logg.Info(ctx, "redis not configured, webhook cache disabled")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	verifier, err := pkgstripe.NewVerifier(ctx, cfg.Stripe, logg)
	if err != nil {
		return err
	}

	params := stripewebhook.ReconcilerParams{
		LedgerRepo:        ledger.NewRepository(dbClient.DB()),
		BillingRepo:       billing.NewRepository(dbClient.DB()),
		ShopRepo:          shops.NewRepository(dbClient.DB()),
		TransactionRunner: dbClient,
		Metrics:           metrics.NewWebhookMetrics(registry),
		Logger:            logg,
	}
	if guard != nil {
		params.Cache = guard
	}
	reconciler, err := stripewebhook.NewReconciler(params)
	if err != nil {
		return err
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	id := os.Getenv("DYNO")
	if id == "" {
		id = "local"
	}
	logCtx := logg.WithFields(ctx, map[string]any{
		"env":        cfg.App.Env,
		"addr":       addr,
		"instance":   id,
		"stripe_env": verifier.Environment(),
	})
	logg.Info(logCtx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.RouterParams{
			Config:    cfg,
			Logger:    logg,
			DB:        dbClient,
			Redis:     redisPinger,
			Gatherer:  registry,
			Verifier:  verifier,
			Processor: reconciler,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	logg.Info(logCtx, "shutting down api server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
