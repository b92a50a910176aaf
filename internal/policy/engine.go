package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/quorum/internal/audit"
	"github.com/odyssey-erp/quorum/internal/platform/kv"
	"github.com/odyssey-erp/quorum/internal/record"
)

// DefaultCacheTTL bounds how stale a cached policy document may be.
const DefaultCacheTTL = 60 * time.Second

func documentKey(ns string) string {
	return fmt.Sprintf("policy:%s:set", ns)
}

func capKey(ns, operation, actorID string, day string) string {
	return fmt.Sprintf("policy:%s:cap:%s:%s:%s", ns, operation, actorID, day)
}

type cacheEntry struct {
	doc     *Document
	fetched time.Time
}

// Engine evaluates policy documents for any namespace sharing one
// store. Safe for concurrent use; the document cache is guarded.
type Engine struct {
	store    kv.Store
	hook     audit.Hook
	logger   *slog.Logger
	validate *validator.Validate
	cacheTTL time.Duration
	now      func() time.Time

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

// Option tweaks engine construction.
type Option func(*Engine)

// WithCacheTTL overrides the document cache TTL.
func WithCacheTTL(ttl time.Duration) Option {
	return func(e *Engine) { e.cacheTTL = ttl }
}

// WithClock overrides the engine clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine builds a policy engine over the given store and audit
// hook. A nil hook disables audit emission.
func NewEngine(store kv.Store, hook audit.Hook, logger *slog.Logger, opts ...Option) *Engine {
	if hook == nil {
		hook = audit.Nop{}
	}
	e := &Engine{
		store:    store,
		hook:     hook,
		logger:   logger,
		validate: validator.New(),
		cacheTTL: DefaultCacheTTL,
		now:      time.Now,
		cache:    make(map[string]cacheEntry),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Document returns the namespace's policy document, nil when none is
// saved. Served from a TTL cache that Save invalidates.
func (e *Engine) Document(ctx context.Context, ns string) (*Document, error) {
	e.mu.RLock()
	entry, ok := e.cache[ns]
	e.mu.RUnlock()
	if ok && e.now().Sub(entry.fetched) < e.cacheTTL {
		return entry.doc, nil
	}

	payload, found, err := e.store.Get(ctx, documentKey(ns))
	if err != nil {
		return nil, fmt.Errorf("policy: load document %s: %w", ns, err)
	}
	var doc *Document
	if found {
		doc = &Document{}
		if err := json.Unmarshal(payload, doc); err != nil {
			return nil, fmt.Errorf("policy: decode document %s: %w", ns, err)
		}
		if err := checkVersion(doc); err != nil {
			return nil, err
		}
	}

	e.mu.Lock()
	e.cache[ns] = cacheEntry{doc: doc, fetched: e.now()}
	e.mu.Unlock()
	return doc, nil
}

// Check computes the pure decision for the context. No audit events,
// no counter commits; the daily-cap counter is only read.
func (e *Engine) Check(ctx context.Context, in DecisionContext) (Outcome, error) {
	doc, err := e.Document(ctx, in.Namespace)
	if err != nil {
		return Outcome{}, err
	}
	if doc == nil {
		// Backward-compatible posture: no document means allow.
		return Outcome{Allowed: true}, nil
	}
	for i := range doc.Rules {
		rule := &doc.Rules[i]
		if !rule.matches(in) {
			continue
		}
		if rule.Effect == EffectDeny {
			return Outcome{Allowed: false, Rule: rule}, nil
		}
		if rule.PerActorDailyCap > 0 {
			count, err := e.capCount(ctx, in)
			if err != nil {
				return Outcome{}, err
			}
			if count >= rule.PerActorDailyCap {
				return Outcome{Allowed: false, Rule: rule, CapExceeded: true}, nil
			}
		}
		return Outcome{Allowed: true, Rule: rule}, nil
	}
	return Outcome{Allowed: true}, nil
}

// EnforceOptions controls Enforce side effects.
type EnforceOptions struct {
	// CommitCap increments the actor's daily counter on a final allow.
	CommitCap bool
	// ObserveMode audits the decision but never returns a denial,
	// used for safe rollout of new rules.
	ObserveMode bool
}

// Enforce evaluates the context, emits the audit event, optionally
// commits the quota, and returns a DeniedError on denial.
func (e *Engine) Enforce(ctx context.Context, in DecisionContext, opts EnforceOptions) error {
	out, err := e.Check(ctx, in)
	if err != nil {
		return err
	}

	event := audit.EventPolicyAllow
	if !out.Allowed {
		event = audit.EventPolicyDeny
	}
	e.hook.Log(ctx, event, map[string]any{
		"operation":   in.Operation,
		"namespace":   in.Namespace,
		"capExceeded": out.CapExceeded,
		"observeMode": opts.ObserveMode,
	}, in.ActorID)

	if !out.Allowed {
		if opts.ObserveMode {
			return nil
		}
		return &DeniedError{Context: in, Rule: out.Rule, CapExceeded: out.CapExceeded}
	}
	if opts.CommitCap && out.Rule != nil && out.Rule.PerActorDailyCap > 0 {
		if err := e.commitCap(ctx, in); err != nil {
			return err
		}
	}
	return nil
}

// Save replaces the namespace's policy document. Only an OWNER may
// save; every save invalidates the cache and emits POLICY_UPDATED.
func (e *Engine) Save(ctx context.Context, ns string, doc Document, actorID string, actorRole record.Role) error {
	if actorRole != record.RoleOwner {
		return ErrNotOwner
	}
	if err := checkVersion(&doc); err != nil {
		return err
	}
	if err := e.validate.Struct(doc); err != nil {
		return fmt.Errorf("policy: invalid document: %w", err)
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("policy: encode document %s: %w", ns, err)
	}
	if err := e.store.Set(ctx, documentKey(ns), payload); err != nil {
		return fmt.Errorf("policy: save document %s: %w", ns, err)
	}

	e.mu.Lock()
	delete(e.cache, ns)
	e.mu.Unlock()

	e.hook.Log(ctx, audit.EventPolicyUpdated, map[string]any{
		"namespace": ns,
		"revision":  doc.Revision,
		"rules":     len(doc.Rules),
	}, actorID)
	if e.logger != nil {
		e.logger.Info("policy document updated",
			slog.String("namespace", ns),
			slog.Int("rules", len(doc.Rules)),
			slog.String("actor", actorID),
		)
	}
	return nil
}

func checkVersion(doc *Document) error {
	if doc.Version != DocumentVersion {
		return fmt.Errorf("%w: got %d", ErrUnknownVersion, doc.Version)
	}
	if doc.MinEngineVersion > EngineVersion {
		return fmt.Errorf("%w: document requires engine >= %d", ErrUnknownVersion, doc.MinEngineVersion)
	}
	return nil
}

func (e *Engine) capCount(ctx context.Context, in DecisionContext) (int, error) {
	key := capKey(in.Namespace, in.Operation, in.ActorID, in.Now.UTC().Format("2006-01-02"))
	payload, ok, err := e.store.Get(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("policy: load cap counter: %w", err)
	}
	if !ok {
		return 0, nil
	}
	count, err := strconv.Atoi(string(payload))
	if err != nil {
		return 0, fmt.Errorf("policy: corrupt cap counter %s: %w", key, err)
	}
	return count, nil
}

// conditionalStore is the check-and-set capability the bundled kv
// drivers expose beyond the core Store contract.
type conditionalStore interface {
	SetIfAbsent(ctx context.Context, key string, value []byte) (bool, error)
}

func (e *Engine) commitCap(ctx context.Context, in DecisionContext) error {
	key := capKey(in.Namespace, in.Operation, in.ActorID, in.Now.UTC().Format("2006-01-02"))
	if cs, ok := e.store.(conditionalStore); ok {
		// The day's first commit races between enforcers; an atomic
		// insert keeps both from writing "1". The loser falls through
		// to the increment path below.
		inserted, err := cs.SetIfAbsent(ctx, key, []byte("1"))
		if err != nil {
			return fmt.Errorf("policy: commit cap counter: %w", err)
		}
		if inserted {
			return nil
		}
	}
	count, err := e.capCount(ctx, in)
	if err != nil {
		return err
	}
	if err := e.store.Set(ctx, key, []byte(strconv.Itoa(count+1))); err != nil {
		return fmt.Errorf("policy: commit cap counter: %w", err)
	}
	return nil
}
