package app

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/odyssey-erp/quorum/internal/audit"
	"github.com/odyssey-erp/quorum/internal/membership"
	"github.com/odyssey-erp/quorum/internal/platform/kv"
	"github.com/odyssey-erp/quorum/internal/platform/transport"
	"github.com/odyssey-erp/quorum/internal/policy"
	"github.com/odyssey-erp/quorum/internal/record"
	"github.com/odyssey-erp/quorum/internal/state"
	"github.com/odyssey-erp/quorum/internal/syncer"
)

// Workspace bundles the per-namespace engine instances. Configuration
// is explicit per instance; there is no process-wide namespace state.
type Workspace struct {
	Namespace  string
	Membership *membership.Service
	Policy     *policy.Engine
	Sync       *syncer.Engine
}

// Workspaces is the namespace-keyed registry the handlers resolve
// through.
type Workspaces struct {
	items map[string]*Workspace
}

// Get returns the workspace for ns.
func (w *Workspaces) Get(ns string) (*Workspace, bool) {
	ws, ok := w.items[ns]
	return ws, ok
}

// Names returns the configured namespaces, sorted.
func (w *Workspaces) Names() []string {
	names := make([]string, 0, len(w.items))
	for ns := range w.items {
		names = append(names, ns)
	}
	sort.Strings(names)
	return names
}

// BuildWorkspaces wires one engine stack per configured namespace on
// top of the shared store and transport.
func BuildWorkspaces(cfg *Config, store kv.Store, tr transport.Transport, signer record.Signer, hook audit.Hook, logger *slog.Logger) (*Workspaces, error) {
	issuersByNS, err := cfg.TrustedIssuers()
	if err != nil {
		return nil, err
	}
	if hook == nil {
		hook = audit.NewSlog(logger)
	}

	policyEngine := policy.NewEngine(store, hook, logger, policy.WithCacheTTL(cfg.PolicyCacheTTL))

	items := make(map[string]*Workspace, len(cfg.Namespaces))
	for _, ns := range cfg.Namespaces {
		issuers := issuersByNS[ns]
		log := record.NewLog(store, ns)
		projector := state.Projector{Issuers: issuers}
		svc := membership.NewService(log, projector, policyEngine, signer, hook, logger)
		sync := syncer.NewEngine(log, store, tr, record.Ed25519Verifier{}, syncer.Config{
			Namespace:     ns,
			Issuers:       issuers,
			SkewTolerance: cfg.SkewTolerance,
		}, logger)
		items[ns] = &Workspace{
			Namespace:  ns,
			Membership: svc,
			Policy:     policyEngine,
			Sync:       sync,
		}
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("no workspaces configured")
	}
	return &Workspaces{items: items}, nil
}
