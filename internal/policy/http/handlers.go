// Package policyhttp exposes policy document reads and saves.
package policyhttp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/quorum/internal/platform/httpx"
	"github.com/odyssey-erp/quorum/internal/policy"
	"github.com/odyssey-erp/quorum/internal/record"
)

// ActorHeader carries the acting user's id.
const ActorHeader = "X-Actor-ID"

// Resolver maps a namespace to its policy engine.
type Resolver func(ns string) (*policy.Engine, bool)

// RoleFunc resolves the actor's current role in a namespace; the
// save endpoint uses it to enforce the OWNER gate.
type RoleFunc func(ctx context.Context, ns, actorID string) (record.Role, error)

// Handler serves the policy endpoints.
type Handler struct {
	logger    *slog.Logger
	resolve   Resolver
	actorRole RoleFunc
}

// NewHandler builds the handler.
func NewHandler(logger *slog.Logger, resolve Resolver, actorRole RoleFunc) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, resolve: resolve, actorRole: actorRole}
}

// MountRoutes registers routes; mount under /workspaces/{ns}.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/policy", h.handleGet)
	r.Put("/policy", h.handleSave)
}

func (h *Handler) engine(w http.ResponseWriter, r *http.Request) (*policy.Engine, string, string, bool) {
	ns := chi.URLParam(r, "ns")
	engine, ok := h.resolve(ns)
	if !ok {
		httpx.Problem(w, http.StatusNotFound, "Not Found", fmt.Sprintf("unknown workspace %q", ns))
		return nil, "", "", false
	}
	actor := r.Header.Get(ActorHeader)
	if actor == "" {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing "+ActorHeader+" header")
		return nil, "", "", false
	}
	return engine, ns, actor, true
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	engine, ns, _, ok := h.engine(w, r)
	if !ok {
		return
	}
	doc, err := engine.Document(r.Context(), ns)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if doc == nil {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "no policy document saved")
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) handleSave(w http.ResponseWriter, r *http.Request) {
	engine, ns, actor, ok := h.engine(w, r)
	if !ok {
		return
	}
	var doc policy.Document
	if err := httpx.DecodeJSON(r, &doc); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed policy document")
		return
	}
	role, err := h.actorRole(r.Context(), ns, actor)
	if err != nil {
		h.logger.Error("resolve actor role", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if err := engine.Save(r.Context(), ns, doc, actor, role); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}
