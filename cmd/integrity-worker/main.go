package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/angelmondragon/venue-ledger/internal/cron"
	"github.com/angelmondragon/venue-ledger/internal/idempotency"
	"github.com/angelmondragon/venue-ledger/internal/ledger"
	"github.com/angelmondragon/venue-ledger/pkg/config"
	"github.com/angelmondragon/venue-ledger/pkg/db"
	"github.com/angelmondragon/venue-ledger/pkg/instance"
	"github.com/angelmondragon/venue-ledger/pkg/logger"
	"github.com/angelmondragon/venue-ledger/pkg/metrics"
	"github.com/angelmondragon/venue-ledger/pkg/migrate"
	"github.com/angelmondragon/venue-ledger/pkg/redis"
)

const serviceName = "integrity-worker"

func main() {
	once := flag.Bool("once", false, "run a single sweep and exit non-zero if any chain fails verification")
	flag.Parse()

	logg := logger.New(logger.Options{ServiceName: serviceName})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = serviceName

	logg = logger.New(logger.Options{
		ServiceName: serviceName,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		redisClient, err = redis.New(context.Background(), cfg.Redis, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to bootstrap redis", err)
			os.Exit(1)
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing redis", err)
			}
		}()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	ledgerService, err := ledger.NewFromConfig(cfg, ledger.Dependencies{
		DB:         dbClient,
		Redis:      redisClient,
		Registerer: registry,
		Logger:     logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to build ledger service", err)
		os.Exit(1)
	}

	sweep, err := cron.NewIntegritySweepJob(cron.IntegritySweepJobParams{
		Logger:      logg,
		Verifier:    ledgerService,
		Concurrency: cfg.Sweep.Concurrency,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create integrity sweep", err)
		os.Exit(1)
	}
	purge, err := cron.NewIdempotencyPurgeJob(cron.IdempotencyPurgeJobParams{
		Logger:     logg,
		Repository: idempotency.NewRepository(dbClient.DB()),
		Grace:      cfg.Sweep.IdempotencyGrace,
		BatchSize:  cfg.Sweep.PurgeBatchSize,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create idempotency purge", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(sweep, purge),
		Lock:     sweepLock(cfg, redisClient, logg),
		Metrics:  metrics.NewWorkerMetrics(registry),
		Interval: cfg.Sweep.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.GetID(),
	})

	if *once {
		if err := service.RunOnce(ctx); err != nil {
			logg.Error(ctx, "integrity sweep reported failures", err)
			os.Exit(2)
		}
		return
	}

	if cfg.Service.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.Service.MetricsAddr, registry); err != nil {
				logg.Error(ctx, "metrics server stopped", err)
			}
		}()
	}

	logg.Info(ctx, "starting integrity worker")
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "integrity worker stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "integrity worker shutting down gracefully")
}

func sweepLock(cfg *config.Config, client *redis.Client, logg *logger.Logger) cron.Lock {
	if client == nil {
		logg.Warn(context.Background(), "redis not configured; sweep lock is process local")
		return &cron.LocalLock{}
	}
	lock, err := cron.NewRedisLock(client.Raw(), client.CronLockKey(serviceName+":"+envOrLocal(cfg.App.Env)), cfg.Sweep.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create sweep lock", err)
		os.Exit(1)
	}
	return lock
}

func envOrLocal(env string) string {
	if env == "" {
		return "local"
	}
	return env
}
