package main

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/quorum/internal/app"
	"github.com/odyssey-erp/quorum/internal/audit"
	"github.com/odyssey-erp/quorum/internal/membership"
	membershiphttp "github.com/odyssey-erp/quorum/internal/membership/http"
	"github.com/odyssey-erp/quorum/internal/observability"
	"github.com/odyssey-erp/quorum/internal/platform/kv"
	"github.com/odyssey-erp/quorum/internal/platform/transport"
	"github.com/odyssey-erp/quorum/internal/policy"
	policyhttp "github.com/odyssey-erp/quorum/internal/policy/http"
	"github.com/odyssey-erp/quorum/internal/record"
	"github.com/odyssey-erp/quorum/internal/syncer"
	syncerhttp "github.com/odyssey-erp/quorum/internal/syncer/http"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	signer, err := loadSigner(cfg)
	if err != nil {
		logger.Error("load signer key", slog.Any("error", err))
		os.Exit(1)
	}

	metrics := observability.NewMetrics()
	hook = audit.Fanout{hook, observability.NewDecisionMetrics(metrics.Registerer())}

	workspaces, err := app.BuildWorkspaces(cfg, store, tr, signer, hook, logger)
	if err != nil {
		logger.Error("build workspaces", slog.Any("error", err))
		os.Exit(1)
	}

	router := app.NewRouter(app.RouterParams{
		Config:     cfg,
		Middleware: app.MiddlewareConfig{Logger: logger, Config: cfg, Metrics: metrics},
		MembershipHandler: membershiphttp.NewHandler(logger, func(ns string) (*membership.Service, bool) {
			ws, ok := workspaces.Get(ns)
			if !ok {
				return nil, false
			}
			return ws.Membership, true
		}),
		PolicyHandler: policyhttp.NewHandler(logger,
			func(ns string) (*policy.Engine, bool) {
				ws, ok := workspaces.Get(ns)
				if !ok {
					return nil, false
				}
				return ws.Policy, true
			},
			func(ctx context.Context, ns, actorID string) (record.Role, error) {
				ws, ok := workspaces.Get(ns)
				if !ok {
					return "", fmt.Errorf("unknown workspace %q", ns)
				}
				snap, err := ws.Membership.Snapshot(ctx)
				if err != nil {
					return "", err
				}
				return snap.Role(actorID), nil
			},
		),
		SyncHandler: syncerhttp.NewHandler(logger, func(ns string) (*syncer.Engine, bool) {
			ws, ok := workspaces.Get(ns)
			if !ok {
				return nil, false
			}
			return ws.Sync, true
		}),
		Workspaces: workspaces,
		Metrics:    metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("quorum api listening", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", slog.Any("error", err))
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

func loadSigner(cfg *app.Config) (record.Signer, error) {
	if cfg.SignerKey == "" {
		return nil, errors.New("QUORUM_SIGNER_KEY is required for the api server")
	}
	raw, err := base64.StdEncoding.DecodeString(cfg.SignerKey)
	if err != nil {
		return nil, fmt.Errorf("decode signer key: %w", err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("signer key must be %d bytes, got %d", ed25519.PrivateKeySize, len(raw))
	}
	return record.NewEd25519Signer(ed25519.PrivateKey(raw)), nil
}
