package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/credeo/lendmarket-backend/internal/cron"
	"github.com/credeo/lendmarket-backend/internal/marketplace"
	"github.com/credeo/lendmarket-backend/internal/platform"
	"github.com/credeo/lendmarket-backend/internal/valuation"
	"github.com/credeo/lendmarket-backend/pkg/config"
	"github.com/credeo/lendmarket-backend/pkg/db"
	"github.com/credeo/lendmarket-backend/pkg/logger"
	"github.com/credeo/lendmarket-backend/pkg/metrics"
	"github.com/credeo/lendmarket-backend/pkg/migrate"
	"github.com/credeo/lendmarket-backend/pkg/outbox"
	"github.com/credeo/lendmarket-backend/pkg/redis"
)

func lockKey(env string) string {
	return fmt.Sprintf("lm:cron-worker:lock:%s", env)
}

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(ctx, "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(ctx, "error closing redis", err)
		}
	}()

	conn := dbClient.DB()
	outboxService := outbox.NewService(outbox.NewRepository(conn), logg)

	valuationService, err := valuation.NewService(
		dbClient,
		valuation.NewRepository(conn),
		platform.NewRepository(conn),
		outboxService,
		logg,
	)
	if err != nil {
		logg.Error(ctx, "failed to create valuation service", err)
		os.Exit(1)
	}

	monitorJob, err := cron.NewValuationMonitorJob(cron.ValuationMonitorJobParams{
		Logger:  logg,
		Monitor: valuationService,
	})
	if err != nil {
		logg.Error(ctx, "failed to create valuation monitor job", err)
		os.Exit(1)
	}

	expiryJob, err := cron.NewMarketplaceExpiryJob(cron.MarketplaceExpiryJobParams{
		Logger:       logg,
		DB:           dbClient,
		Offers:       marketplace.NewOfferRepository(conn),
		Applications: marketplace.NewApplicationRepository(conn),
		Outbox:       outboxService,
	})
	if err != nil {
		logg.Error(ctx, "failed to create marketplace expiry job", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, lockKey(cfg.App.Env), 0)
	if err != nil {
		logg.Error(ctx, "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(monitorJob, expiryJob),
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Valuation.MonitorInterval,
	})
	if err != nil {
		logg.Error(ctx, "failed to create cron service", err)
		os.Exit(1)
	}

	logg.Info(logg.WithField(ctx, "env", cfg.App.Env), "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}
}
