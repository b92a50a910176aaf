package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/quorum/internal/app"
	"github.com/odyssey-erp/quorum/internal/audit"
	"github.com/odyssey-erp/quorum/internal/platform/kv"
	"github.com/odyssey-erp/quorum/internal/platform/transport"
	"github.com/odyssey-erp/quorum/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	store, hook, cleanup, err := buildStorage(ctx, cfg, logger)
	if err != nil {
		logger.Error("init storage", slog.Any("error", err))
		os.Exit(1)
	}
	defer cleanup()

	tr, err := buildTransport(ctx, cfg)
	if err != nil {
		logger.Error("init transport", slog.Any("error", err))
		os.Exit(1)
	}

	// The worker only pulls and verifies; it never signs records.
	workspaces, err := app.BuildWorkspaces(cfg, store, tr, nil, hook, logger)
	if err != nil {
		logger.Error("build workspaces", slog.Any("error", err))
		os.Exit(1)
	}

	syncJob := jobs.NewSyncJob(workspaces, logger)
	syncJob.Metrics = jobs.NewSyncMetrics(nil)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Sync:      syncJob,
		Cron: []jobs.CronRegistration{
			{
				Spec: fmt.Sprintf("@every %s", cfg.SyncInterval),
				Task: jobs.NewSyncAllTask(),
			},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("quorum worker started",
		slog.Any("namespaces", workspaces.Names()),
		slog.Duration("sync_interval", cfg.SyncInterval),
	)
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func buildStorage(ctx context.Context, cfg *app.Config, logger *slog.Logger) (kv.Store, audit.Hook, func(), error) {
	switch cfg.StorageDriver {
	case "postgres":
		store, err := kv.NewPostgres(ctx, cfg.PGDSN)
		if err != nil {
			return nil, nil, nil, err
		}
		return store, audit.NewRecorder(store.Pool(), logger), store.Close, nil
	case "redis":
		store, err := kv.NewRedis(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, nil, nil, err
		}
		return store, audit.NewSlog(logger), func() {}, nil
	case "memory":
		return kv.NewMemory(), audit.NewSlog(logger), func() {}, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
}

func buildTransport(ctx context.Context, cfg *app.Config) (transport.Transport, error) {
	switch cfg.TransportDriver {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("transport redis ping: %w", err)
		}
		return transport.NewRedis(client), nil
	case "memory":
		return transport.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown transport driver %q", cfg.TransportDriver)
	}
}
