// Package syncerhttp exposes manual sync triggering and cursor
// inspection for operators.
package syncerhttp

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/quorum/internal/platform/httpx"
	"github.com/odyssey-erp/quorum/internal/syncer"
)

// Resolver maps a namespace to its sync engine.
type Resolver func(ns string) (*syncer.Engine, bool)

// Handler serves the sync endpoints.
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
	r.Post("/sync", h.handleRun)
	r.Get("/sync/cursor", h.handleCursor)
}

func (h *Handler) engine(w http.ResponseWriter, r *http.Request) (*syncer.Engine, bool) {
	ns := chi.URLParam(r, "ns")
	engine, ok := h.resolve(ns)
	if !ok {
		httpx.Problem(w, http.StatusNotFound, "Not Found", fmt.Sprintf("unknown workspace %q", ns))
		return nil, false
	}
	return engine, true
}

type runResponse struct {
	Applied   int      `json:"applied"`
	Pushed    int      `json:"pushed"`
	Errors    []string `json:"errors"`
	Completed bool     `json:"completed"`
}

func (h *Handler) handleRun(w http.ResponseWriter, r *http.Request) {
	engine, ok := h.engine(w, r)
	if !ok {
		return
	}
	res, err := engine.Run(r.Context(), nil)
	if err != nil {
		h.logger.Error("sync run", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	resp := runResponse{
		Applied:   res.Applied,
		Pushed:    res.Pushed,
		Errors:    make([]string, 0, len(res.Errors)),
		Completed: res.Completed,
	}
	for _, syncErr := range res.Errors {
		resp.Errors = append(resp.Errors, syncErr.Error())
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) handleCursor(w http.ResponseWriter, r *http.Request) {
	engine, ok := h.engine(w, r)
	if !ok {
		return
	}
	since, err := engine.Cursor(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"since": since})
}
