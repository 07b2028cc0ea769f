package main

import (
	"context"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	marketplaceconsumer "github.com/credeo/lendmarket-backend/internal/consumers/marketplace"
	"github.com/credeo/lendmarket-backend/internal/consumers/settlement"
	"github.com/credeo/lendmarket-backend/internal/invoices"
	"github.com/credeo/lendmarket-backend/internal/liquidation"
	"github.com/credeo/lendmarket-backend/internal/loans"
	"github.com/credeo/lendmarket-backend/internal/marketplace"
	"github.com/credeo/lendmarket-backend/internal/matching"
	"github.com/credeo/lendmarket-backend/internal/platform"
	"github.com/credeo/lendmarket-backend/internal/rates"
	"github.com/credeo/lendmarket-backend/internal/valuation"
	"github.com/credeo/lendmarket-backend/pkg/config"
	"github.com/credeo/lendmarket-backend/pkg/db"
	"github.com/credeo/lendmarket-backend/pkg/logger"
	"github.com/credeo/lendmarket-backend/pkg/metrics"
	"github.com/credeo/lendmarket-backend/pkg/migrate"
	"github.com/credeo/lendmarket-backend/pkg/outbox"
	"github.com/credeo/lendmarket-backend/pkg/pubsub"
	"github.com/credeo/lendmarket-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "worker",
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

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap pubsub", err)
		os.Exit(1)
	}
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(ctx, "error closing pubsub", err)
		}
	}()

	conn := dbClient.DB()
	offerRepo := marketplace.NewOfferRepository(conn)
	appRepo := marketplace.NewApplicationRepository(conn)
	outboxService := outbox.NewService(outbox.NewRepository(conn), logg)

	rateProvider, err := rates.NewRedisProvider(redisClient)
	if err != nil {
		logg.Error(ctx, "failed to create rate provider", err)
		os.Exit(1)
	}

	strategy, err := matching.NewStrategy(cfg.Matching.Strategy)
	if err != nil {
		logg.Error(ctx, "failed to create matching strategy", err)
		os.Exit(1)
	}

	orchestrator, err := matching.NewOrchestrator(
		dbClient,
		offerRepo,
		appRepo,
		strategy,
		rateProvider,
		outboxService,
		metrics.NewMatchingMetrics(prometheus.DefaultRegisterer),
		logg,
	)
	if err != nil {
		logg.Error(ctx, "failed to create matching orchestrator", err)
		os.Exit(1)
	}

	consumer, err := marketplaceconsumer.NewConsumer(
		orchestrator,
		pubsubClient.MarketplaceSubscription(),
		cfg.Matching.BatchSize,
		logg,
	)
	if err != nil {
		logg.Error(ctx, "failed to create marketplace consumer", err)
		os.Exit(1)
	}

	invoiceService, err := invoices.NewService(
		dbClient,
		invoices.NewRepository(conn),
		offerRepo,
		appRepo,
		outboxService,
		logg,
	)
	if err != nil {
		logg.Error(ctx, "failed to create invoice service", err)
		os.Exit(1)
	}

	loanRepo := loans.NewRepository(conn)
	loanService, err := loans.NewService(
		dbClient,
		loanRepo,
		offerRepo,
		appRepo,
		valuation.NewRepository(conn),
		outboxService,
		logg,
	)
	if err != nil {
		logg.Error(ctx, "failed to create loan service", err)
		os.Exit(1)
	}

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

	liquidationService, err := liquidation.NewService(
		dbClient,
		liquidation.NewRepository(conn),
		loanRepo,
		outboxService,
		logg,
	)
	if err != nil {
		logg.Error(ctx, "failed to create liquidation service", err)
		os.Exit(1)
	}

	settlementConsumer, err := settlement.NewConsumer(
		invoiceService,
		loanService,
		valuationService,
		liquidationService,
		pubsubClient.SettlementSubscription(),
		logg,
	)
	if err != nil {
		logg.Error(ctx, "failed to create settlement consumer", err)
		os.Exit(1)
	}

	relay, err := NewRelay(RelayParams{
		Logger:       logg,
		Store:        outbox.NewRepository(conn),
		Publisher:    gcpPublisher{pub: pubsubClient.MarketplacePublisher()},
		BatchSize:    cfg.Outbox.BatchSize,
		PollInterval: time.Duration(cfg.Outbox.PollIntervalMS) * time.Millisecond,
		MaxAttempts:  cfg.Outbox.MaxAttempts,
	})
	if err != nil {
		logg.Error(ctx, "failed to create outbox relay", err)
		os.Exit(1)
	}

	service, err := NewService(ServiceParams{
		Logger:        logg,
		Consumer:      consumer,
		Settlement:    settlementConsumer,
		Relay:         relay,
		Matcher:       orchestrator,
		DB:            dbClient,
		Redis:         redisClient,
		PubSub:        pubsubClient,
		SweepInterval: cfg.Matching.SweepInterval,
		BatchSize:     cfg.Matching.BatchSize,
	})
	if err != nil {
		logg.Error(ctx, "failed to create worker service", err)
		os.Exit(1)
	}

	logg.Info(logg.WithField(ctx, "env", cfg.App.Env), "starting marketplace worker")

	if err := service.Run(ctx); err != nil {
		logg.Error(ctx, "marketplace worker stopped unexpectedly", err)
		os.Exit(1)
	}
}
