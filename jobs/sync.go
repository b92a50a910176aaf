package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/quorum/internal/app"
)

// syncConcurrency bounds how many namespaces reconcile at once. One
// Run per namespace at a time is the engine's contract; distinct
// namespaces are independent.
const syncConcurrency = 4

// SyncJob reconciles workspaces with the remote transport.
type SyncJob struct {
	Workspaces *app.Workspaces
	Logger     *slog.Logger
	// Metrics is optional; a nil value disables instrumentation.
	Metrics *SyncMetrics
}

// NewSyncJob initialises the sync handler.
func NewSyncJob(workspaces *app.Workspaces, logger *slog.Logger) *SyncJob {
	return &SyncJob{Workspaces: workspaces, Logger: logger}
}

// HandleNamespace executes a single-namespace sync task.
func (j *SyncJob) HandleNamespace(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Workspaces == nil {
		return errors.New("sync job: not configured")
	}
	var payload SyncNamespacePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	return j.syncOne(ctx, payload.Namespace)
}

// HandleAll fans out over every configured namespace.
func (j *SyncJob) HandleAll(ctx context.Context, _ *asynq.Task) error {
	if j == nil || j.Workspaces == nil {
		return errors.New("sync job: not configured")
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(syncConcurrency)
	for _, ns := range j.Workspaces.Names() {
		g.Go(func() error {
			return j.syncOne(ctx, ns)
		})
	}
	return g.Wait()
}

func (j *SyncJob) syncOne(ctx context.Context, ns string) error {
	ws, ok := j.Workspaces.Get(ns)
	if !ok {
		j.logger().Warn("sync task for unknown namespace", slog.String("namespace", ns))
		return asynq.SkipRetry
	}
	res, err := ws.Sync.Run(ctx, nil)
	j.Metrics.Observe(ns, res, err)
	if err != nil {
		j.logger().Error("sync run failed", slog.String("namespace", ns), slog.Any("error", err))
		return err
	}
	logger := j.logger().With(
		slog.String("namespace", ns),
		slog.Int("applied", res.Applied),
		slog.Int("pushed", res.Pushed),
		slog.Bool("completed", res.Completed),
	)
	for _, syncErr := range res.Errors {
		logger.Warn("record dropped during sync", slog.String("detail", syncErr.Error()))
	}
	logger.Info("sync pass finished")
	return nil
}

func (j *SyncJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
