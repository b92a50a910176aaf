package record

import (
	"context"
	"fmt"

	"github.com/odyssey-erp/quorum/internal/platform/kv"
)

// Storage key layout. Timestamps are zero padded so the lexicographic
// key order matches the fold order, which lets cursor tokens be plain
// key strings.
//
//	m:<ns>:r:<ts>:<id>             one record
//	m:<ns>:__pending__:<rec key>   marker: created locally, not pushed
//	m:<ns>:__sync_state__          the sync cursor (owned by the syncer)
//
// Pending markers are one key per record, not a shared list: Append
// and MarkPushed may run concurrently (the API server mutates while
// the worker pushes against the same store) and must never overwrite
// each other's entries.

// StorageKey returns the store/transport key for a record within ns.
func StorageKey(ns string, r Record) string {
	return fmt.Sprintf("m:%s:r:%013d:%s", ns, r.Timestamp, r.ID)
}

// Prefix returns the key prefix under which all of ns's records live.
func Prefix(ns string) string {
	return fmt.Sprintf("m:%s:r:", ns)
}

func pendingPrefix(ns string) string {
	return fmt.Sprintf("m:%s:__pending__:", ns)
}

// Log is the append-only record log for one namespace, layered over
// an injected kv.Store. Records are never deleted, only superseded in
// the projected state.
type Log struct {
	store kv.Store
	ns    string
}

// NewLog binds a log to its namespace and backing store.
func NewLog(store kv.Store, ns string) *Log {
	return &Log{store: store, ns: ns}
}

// Namespace returns the namespace this log belongs to.
func (l *Log) Namespace() string {
	return l.ns
}

// Append durably stores a locally created record and queues it for
// push. The record becomes visible to All immediately.
func (l *Log) Append(ctx context.Context, rec Record) error {
	payload, err := rec.Encode()
	if err != nil {
		return err
	}
	key := StorageKey(l.ns, rec)
	if err := l.store.Set(ctx, key, payload); err != nil {
		return fmt.Errorf("record: append %s: %w", key, err)
	}
	if err := l.store.Set(ctx, pendingPrefix(l.ns)+key, []byte("1")); err != nil {
		return fmt.Errorf("record: queue %s for push: %w", key, err)
	}
	return nil
}

// Ingest stores a record that arrived via sync. It dedups by
// canonical hash against what is already stored and reports whether
// the record was new.
func (l *Log) Ingest(ctx context.Context, rec Record, seen map[string]bool) (bool, error) {
	hash, err := rec.CanonicalHash()
	if err != nil {
		return false, err
	}
	if seen[hash] {
		return false, nil
	}
	payload, err := rec.Encode()
	if err != nil {
		return false, err
	}
	key := StorageKey(l.ns, rec)
	if err := l.store.Set(ctx, key, payload); err != nil {
		return false, fmt.Errorf("record: ingest %s: %w", key, err)
	}
	seen[hash] = true
	return true, nil
}

// All loads every stored record for the namespace, unsorted.
func (l *Log) All(ctx context.Context) ([]Record, error) {
	keys, err := l.store.ListKeysByPrefix(ctx, Prefix(l.ns))
	if err != nil {
		return nil, fmt.Errorf("record: list %s: %w", l.ns, err)
	}
	records := make([]Record, 0, len(keys))
	for _, key := range keys {
		payload, ok, err := l.store.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("record: load %s: %w", key, err)
		}
		if !ok {
			continue
		}
		rec, err := Decode(payload)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// Hashes returns the canonical hashes of every stored record, the
// dedup set Ingest consults.
func (l *Log) Hashes(ctx context.Context) (map[string]bool, error) {
	records, err := l.All(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(records))
	for _, rec := range records {
		hash, err := rec.CanonicalHash()
		if err != nil {
			return nil, err
		}
		seen[hash] = true
	}
	return seen, nil
}

// Pending returns the storage keys queued for push, oldest first.
func (l *Log) Pending(ctx context.Context) ([]string, error) {
	prefix := pendingPrefix(l.ns)
	markers, err := l.store.ListKeysByPrefix(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("record: list pending %s: %w", l.ns, err)
	}
	keys := make([]string, 0, len(markers))
	for _, marker := range markers {
		keys = append(keys, marker[len(prefix):])
	}
	return keys, nil
}

// MarkPushed drops key from the pending queue. Marking a key that is
// not pending is a no-op.
func (l *Log) MarkPushed(ctx context.Context, key string) error {
	if err := l.store.Remove(ctx, pendingPrefix(l.ns)+key); err != nil {
		return fmt.Errorf("record: mark pushed %s: %w", key, err)
	}
	return nil
}

// Payload returns the stored bytes for one record key.
func (l *Log) Payload(ctx context.Context, key string) ([]byte, bool, error) {
	return l.store.Get(ctx, key)
}
