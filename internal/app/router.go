package app

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	membershiphttp "github.com/odyssey-erp/quorum/internal/membership/http"
	"github.com/odyssey-erp/quorum/internal/observability"
	"github.com/odyssey-erp/quorum/internal/platform/httpx"
	policyhttp "github.com/odyssey-erp/quorum/internal/policy/http"
	syncerhttp "github.com/odyssey-erp/quorum/internal/syncer/http"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Config            *Config
	Middleware        MiddlewareConfig
	MembershipHandler *membershiphttp.Handler
	PolicyHandler     *policyhttp.Handler
	SyncHandler       *syncerhttp.Handler
	Workspaces        *Workspaces
	Metrics           *observability.Metrics
}

// NewRouter constructs the chi.Router with Quorum defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(params.Middleware) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/workspaces", func(w http.ResponseWriter, _ *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]any{"workspaces": params.Workspaces.Names()})
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/workspaces/{ns}", func(r chi.Router) {
		if params.MembershipHandler != nil {
			params.MembershipHandler.MountRoutes(r)
		}
		if params.PolicyHandler != nil {
			params.PolicyHandler.MountRoutes(r)
		}
		if params.SyncHandler != nil {
			params.SyncHandler.MountRoutes(r)
		}
	})

	return r
}
