// Package audit carries the side-channel every privileged decision
// reports into. The engine only talks to the Hook interface; hosts
// decide whether events land in logs, a database, or nowhere.
package audit

import (
	"context"
	"log/slog"
)

// Event types emitted by the engine.
const (
	EventPolicyAllow   = "POLICY_ALLOW"
	EventPolicyDeny    = "POLICY_DENY"
	EventPolicyUpdated = "POLICY_UPDATED"
	EventMemberAdded   = "MEMBER_ADDED"
	EventMemberRemoved = "MEMBER_REMOVED"
	EventRoleChanged   = "ROLE_CHANGED"
)

// Hook receives audit events. Implementations must not block the
// decision path; failures are the hook's problem, not the caller's.
type Hook interface {
	Log(ctx context.Context, event string, payload map[string]any, actorID string)
}

// Fanout dispatches every event to each hook in order.
type Fanout []Hook

// Log implements Hook.
func (f Fanout) Log(ctx context.Context, event string, payload map[string]any, actorID string) {
	for _, h := range f {
		if h != nil {
			h.Log(ctx, event, payload, actorID)
		}
	}
}

// Nop discards all events.
type Nop struct{}

// Log implements Hook.
func (Nop) Log(context.Context, string, map[string]any, string) {}

// Slog emits events through a structured logger.
type Slog struct {
	Logger *slog.Logger
}

// NewSlog wraps a logger as a Hook.
func NewSlog(logger *slog.Logger) *Slog {
	return &Slog{Logger: logger}
}

// Log implements Hook.
func (h *Slog) Log(ctx context.Context, event string, payload map[string]any, actorID string) {
	if h == nil || h.Logger == nil {
		return
	}
	h.Logger.InfoContext(ctx, "audit",
		slog.String("event", event),
		slog.String("actor", actorID),
		slog.Any("payload", payload),
	)
}
