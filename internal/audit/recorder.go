package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Recorder persists audit events into audit_events.
//
//	CREATE TABLE audit_events (
//	    id          BIGSERIAL PRIMARY KEY,
//	    actor_id    TEXT NOT NULL,
//	    event       TEXT NOT NULL,
//	    payload     JSONB,
//	    occurred_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
//	);
type Recorder struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewRecorder returns a durable Hook backed by the pool.
func NewRecorder(pool *pgxpool.Pool, logger *slog.Logger) *Recorder {
	return &Recorder{pool: pool, logger: logger}
}

// Log implements Hook. Write failures are logged and swallowed so a
// down audit store never blocks an authorization decision.
func (r *Recorder) Log(ctx context.Context, event string, payload map[string]any, actorID string) {
	if r == nil || r.pool == nil {
		return
	}
	meta, err := json.Marshal(payload)
	if err != nil {
		r.warn("audit payload marshal", err)
		return
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO audit_events (actor_id, event, payload, occurred_at) VALUES ($1, $2, $3, $4)`,
		actorID, event, meta, time.Now().UTC())
	if err != nil {
		r.warn("audit insert", err)
	}
}

func (r *Recorder) warn(msg string, err error) {
	if r.logger != nil {
		r.logger.Warn(msg, slog.Any("error", err))
	}
}
