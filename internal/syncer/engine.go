// Package syncer reconciles a namespace's local record log with a
// remote transport: push what we created, pull and verify what peers
// created, and advance a monotonic cursor.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/odyssey-erp/quorum/internal/platform/kv"
	"github.com/odyssey-erp/quorum/internal/platform/transport"
	"github.com/odyssey-erp/quorum/internal/record"
)

// Verification sentinels. These end up in Result.Errors, never abort
// a batch.
var (
	ErrUntrustedIssuer  = errors.New("syncer: untrusted issuer")
	ErrInvalidSignature = errors.New("syncer: invalid signature")
	ErrCrossWorkspace   = errors.New("syncer: cross-workspace replay blocked")
)

// DefaultSkewTolerance is how far ahead of the local clock a record
// timestamp may sit before we warn about it.
const DefaultSkewTolerance = 10 * time.Minute

// Config scopes an engine to one namespace. Issuers maps each
// trusted public key to the user it signs for; records from any
// other key are dropped.
type Config struct {
	Namespace     string
	Issuers       map[string]string
	SkewTolerance time.Duration
}

// Engine drives sync for a single namespace. Callers must not run
// two Run calls for the same namespace concurrently; cursor
// advancement under overlapping runs is undefined.
type Engine struct {
	log       *record.Log
	store     kv.Store
	transport transport.Transport
	verifier  record.Verifier
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
}

// Option tweaks engine construction.
type Option func(*Engine)

// WithClock overrides the skew-detection clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine builds a sync engine. The store must be the same one
// backing the record log so the cursor survives with the records.
func NewEngine(log *record.Log, store kv.Store, tr transport.Transport, verifier record.Verifier, cfg Config, logger *slog.Logger, opts ...Option) *Engine {
	if cfg.SkewTolerance <= 0 {
		cfg.SkewTolerance = DefaultSkewTolerance
	}
	e := &Engine{
		log:       log,
		store:     store,
		transport: tr,
		verifier:  verifier,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Plan is the pull side of a sync pass, computed before Run touches
// anything.
type Plan struct {
	Since     string
	PullKeys  []string
	NextSince string
}

// SyncError records one dropped record or failed transfer.
type SyncError struct {
	Key string
	Err error
}

// Error implements error.
func (e SyncError) Error() string {
	return fmt.Sprintf("%s: %v", e.Key, e.Err)
}

// Unwrap exposes the underlying sentinel to errors.Is.
func (e SyncError) Unwrap() error {
	return e.Err
}

// Result summarizes one Run. Completed is true only when every
// transport and storage call succeeded; verification drops alone do
// not clear it.
type Result struct {
	Applied   int
	Pushed    int
	Errors    []SyncError
	Completed bool
}

type cursorState struct {
	Since string `json:"since"`
}

func cursorKey(ns string) string {
	return fmt.Sprintf("m:%s:__sync_state__", ns)
}

// Cursor returns the persisted since token, "" when none exists.
func (e *Engine) Cursor(ctx context.Context) (string, error) {
	payload, ok, err := e.store.Get(ctx, cursorKey(e.cfg.Namespace))
	if err != nil {
		return "", fmt.Errorf("syncer: load cursor: %w", err)
	}
	if !ok {
		return "", nil
	}
	var st cursorState
	if err := json.Unmarshal(payload, &st); err != nil {
		return "", fmt.Errorf("syncer: decode cursor: %w", err)
	}
	return st.Since, nil
}

func (e *Engine) saveCursor(ctx context.Context, since string) error {
	payload, err := json.Marshal(cursorState{Since: since})
	if err != nil {
		return fmt.Errorf("syncer: encode cursor: %w", err)
	}
	if err := e.store.Set(ctx, cursorKey(e.cfg.Namespace), payload); err != nil {
		return fmt.Errorf("syncer: save cursor: %w", err)
	}
	return nil
}

// Plan asks the transport what is new since the cursor.
func (e *Engine) Plan(ctx context.Context) (*Plan, error) {
	since, err := e.Cursor(ctx)
	if err != nil {
		return nil, err
	}
	keys, next, err := e.transport.List(ctx, e.cfg.Namespace, since)
	if err != nil {
		return nil, fmt.Errorf("syncer: list remote: %w", err)
	}
	sort.Strings(keys)
	return &Plan{Since: since, PullKeys: keys, NextSince: next}, nil
}

// Run executes one sync pass: push pending records, then pull,
// verify, dedup, and store remote records. Verification failures are
// collected and skipped; the batch never aborts on a bad record. The
// cursor advances over the prefix that was verified and folded, then
// freezes at the first drop or failure so later runs re-examine the
// offending key. Dedup makes those re-pulls no-ops for good records.
func (e *Engine) Run(ctx context.Context, plan *Plan) (Result, error) {
	if plan == nil {
		var err error
		plan, err = e.Plan(ctx)
		if err != nil {
			return Result{}, err
		}
	}
	res := Result{Completed: true}

	if err := e.push(ctx, &res); err != nil {
		return res, err
	}

	seen, err := e.log.Hashes(ctx)
	if err != nil {
		return res, err
	}

	cursor := plan.Since
	blocked := false
	for _, key := range plan.PullKeys {
		folded, err := e.pullOne(ctx, key, seen, &res)
		if err != nil {
			res.Errors = append(res.Errors, SyncError{Key: key, Err: err})
			res.Completed = false
			blocked = true
			continue
		}
		if !folded {
			// Verification drop. A re-run under a corrected trust
			// configuration must see this key again, so the cursor
			// stops here; the rest of the batch still gets examined.
			blocked = true
			continue
		}
		if !blocked && key > cursor {
			cursor = key
		}
	}
	if !blocked && plan.NextSince > cursor {
		cursor = plan.NextSince
	}
	if cursor > plan.Since {
		if err := e.saveCursor(ctx, cursor); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (e *Engine) push(ctx context.Context, res *Result) error {
	pending, err := e.log.Pending(ctx)
	if err != nil {
		return err
	}
	for _, key := range pending {
		payload, ok, err := e.log.Payload(ctx, key)
		if err != nil {
			return err
		}
		if !ok {
			// Pending entry without a record; drop it.
			if err := e.log.MarkPushed(ctx, key); err != nil {
				return err
			}
			continue
		}
		if err := e.transport.Put(ctx, key, payload); err != nil {
			res.Errors = append(res.Errors, SyncError{Key: key, Err: err})
			res.Completed = false
			continue
		}
		if err := e.log.MarkPushed(ctx, key); err != nil {
			return err
		}
		res.Pushed++
	}
	return nil
}

// pullOne fetches and verifies one remote record. It reports whether
// the record was verified and folded (dedup hits count as folded);
// verification drops land in res.Errors with folded=false, and the
// returned error is non-nil only for transport or storage failures.
func (e *Engine) pullOne(ctx context.Context, key string, seen map[string]bool, res *Result) (bool, error) {
	payload, ok, err := e.transport.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("syncer: fetch %s: %w", key, err)
	}
	if !ok {
		// Listed but gone from the transport; nothing will ever be
		// fetchable under this key, so it counts as processed.
		return true, nil
	}
	rec, err := record.Decode(payload)
	if err != nil {
		res.Errors = append(res.Errors, SyncError{Key: key, Err: err})
		return false, nil
	}

	if _, trusted := e.cfg.Issuers[rec.Issuer.PublicKey]; !trusted {
		res.Errors = append(res.Errors, SyncError{Key: key, Err: ErrUntrustedIssuer})
		return false, nil
	}
	canonical, err := rec.CanonicalBytes()
	if err != nil {
		res.Errors = append(res.Errors, SyncError{Key: key, Err: err})
		return false, nil
	}
	if !e.verifier.Verify(canonical, rec.Issuer.Signature, rec.Issuer.PublicKey) {
		res.Errors = append(res.Errors, SyncError{Key: key, Err: ErrInvalidSignature})
		return false, nil
	}
	if rec.WorkspaceID != e.cfg.Namespace {
		res.Errors = append(res.Errors, SyncError{Key: key, Err: ErrCrossWorkspace})
		return false, nil
	}
	if skew := rec.Time().Sub(e.now()); skew > e.cfg.SkewTolerance {
		// Ahead-of-clock records are suspicious but still applied;
		// the fold order keeps them deterministic.
		if e.logger != nil {
			e.logger.Warn("record timestamp ahead of local clock",
				slog.String("key", key),
				slog.Duration("skew", skew),
			)
		}
	}

	applied, err := e.log.Ingest(ctx, rec, seen)
	if err != nil {
		return false, err
	}
	if applied {
		res.Applied++
	}
	return true, nil
}
