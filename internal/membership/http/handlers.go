// Package membershiphttp exposes the membership facade over JSON.
package membershiphttp

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/quorum/internal/membership"
	"github.com/odyssey-erp/quorum/internal/platform/httpx"
	"github.com/odyssey-erp/quorum/internal/record"
)

// ActorHeader carries the acting user's id. Authentication happens
// upstream of this engine; the header is trusted input here.
const ActorHeader = "X-Actor-ID"

// Resolver maps a namespace to its membership service.
type Resolver func(ns string) (*membership.Service, bool)

// Handler serves the membership endpoints.
type Handler struct {
	logger  *slog.Logger
	resolve Resolver
}

// NewHandler builds the handler.
func NewHandler(logger *slog.Logger, resolve Resolver) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, resolve: resolve}
}

// MountRoutes registers routes; mount under /workspaces/{ns}.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/members", h.handleSnapshot)
	r.Post("/members", h.handleAdd)
	r.Delete("/members/{userID}", h.handleRemove)
	r.Put("/members/{userID}/role", h.handleSetRole)
	r.Get("/authz", h.handleAuthorize)
}

func (h *Handler) service(w http.ResponseWriter, r *http.Request) (*membership.Service, string, bool) {
	ns := chi.URLParam(r, "ns")
	svc, ok := h.resolve(ns)
	if !ok {
		httpx.Problem(w, http.StatusNotFound, "Not Found", fmt.Sprintf("unknown workspace %q", ns))
		return nil, "", false
	}
	actor := r.Header.Get(ActorHeader)
	if actor == "" {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing "+ActorHeader+" header")
		return nil, "", false
	}
	return svc, actor, true
}

type snapshotResponse struct {
	Users         map[string]record.Role `json:"users"`
	Owners        []string               `json:"owners"`
	LastUpdatedAt *time.Time             `json:"lastUpdatedAt,omitempty"`
}

func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	svc, actor, ok := h.service(w, r)
	if !ok {
		return
	}
	if err := svc.Authorize(r.Context(), actor, membership.ActionTaskRead); err != nil {
		httpx.RespondError(w, err)
		return
	}
	snap, err := svc.Snapshot(r.Context())
	if err != nil {
		h.logger.Error("load snapshot", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	resp := snapshotResponse{Users: snap.Users, Owners: snap.Owners()}
	if !snap.LastUpdatedAt.IsZero() {
		at := snap.LastUpdatedAt
		resp.LastUpdatedAt = &at
	}
	httpx.JSON(w, http.StatusOK, resp)
}

type addRequest struct {
	UserID string      `json:"userId"`
	Role   record.Role `json:"role"`
}

func (h *Handler) handleAdd(w http.ResponseWriter, r *http.Request) {
	svc, actor, ok := h.service(w, r)
	if !ok {
		return
	}
	var req addRequest
	if err := httpx.DecodeJSON(r, &req); err != nil || req.UserID == "" {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "userId and role are required")
		return
	}
	rec, err := svc.AddMember(r.Context(), actor, req.UserID, req.Role)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, rec)
}

func (h *Handler) handleRemove(w http.ResponseWriter, r *http.Request) {
	svc, actor, ok := h.service(w, r)
	if !ok {
		return
	}
	rec, err := svc.RemoveMember(r.Context(), actor, chi.URLParam(r, "userID"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

type setRoleRequest struct {
	Role record.Role `json:"role"`
}

func (h *Handler) handleSetRole(w http.ResponseWriter, r *http.Request) {
	svc, actor, ok := h.service(w, r)
	if !ok {
		return
	}
	var req setRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "role is required")
		return
	}
	rec, err := svc.SetRole(r.Context(), actor, chi.URLParam(r, "userID"), req.Role)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

type authzResponse struct {
	Action  membership.Action `json:"action"`
	Allowed bool              `json:"allowed"`
	Reason  string            `json:"reason,omitempty"`
}

func (h *Handler) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	svc, actor, ok := h.service(w, r)
	if !ok {
		return
	}
	action := membership.Action(r.URL.Query().Get("action"))
	err := svc.Authorize(r.Context(), actor, action)
	switch {
	case err == nil:
		httpx.JSON(w, http.StatusOK, authzResponse{Action: action, Allowed: true})
	case isDecisionError(err):
		httpx.JSON(w, http.StatusOK, authzResponse{Action: action, Allowed: false, Reason: err.Error()})
	default:
		httpx.RespondError(w, err)
	}
}
