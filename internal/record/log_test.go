package record

import (
	"context"
	"testing"
	"time"

	"github.com/odyssey-erp/quorum/internal/platform/kv"
)

func TestLogAppendAndPending(t *testing.T) {
	ctx := context.Background()
	log := NewLog(kv.NewMemory(), "ws-a")
	signer := testSigner(t)

	rec, err := New(signer, "ws-a", OpAdd, "alice", RoleOwner, time.UnixMilli(1000))
	if err != nil {
		t.Fatalf("new record: %v", err)
	}
	if err := log.Append(ctx, rec); err != nil {
		t.Fatalf("append: %v", err)
	}

	all, err := log.All(ctx)
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	if len(all) != 1 || all[0].ID != rec.ID {
		t.Fatalf("expected the appended record, got %v", all)
	}

	pending, err := log.Pending(ctx)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 || pending[0] != StorageKey("ws-a", rec) {
		t.Fatalf("expected pending key, got %v", pending)
	}

	if err := log.MarkPushed(ctx, pending[0]); err != nil {
		t.Fatalf("mark pushed: %v", err)
	}
	pending, err = log.Pending(ctx)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected empty pending queue, got %v", pending)
	}
}

func TestLogIngestDedupsByCanonicalHash(t *testing.T) {
	ctx := context.Background()
	log := NewLog(kv.NewMemory(), "ws-a")
	signer := testSigner(t)

	rec, err := New(signer, "ws-a", OpAdd, "alice", RoleOwner, time.UnixMilli(1000))
	if err != nil {
		t.Fatalf("new record: %v", err)
	}

	seen, err := log.Hashes(ctx)
	if err != nil {
		t.Fatalf("hashes: %v", err)
	}
	applied, err := log.Ingest(ctx, rec, seen)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if !applied {
		t.Fatalf("first ingest must apply")
	}
	applied, err = log.Ingest(ctx, rec, seen)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if applied {
		t.Fatalf("duplicate ingest must be a no-op")
	}

	all, err := log.All(ctx)
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected exactly one stored record, got %d", len(all))
	}
}

// removeHookStore runs a callback before delegating the first Remove,
// standing in for a mutation that lands while another process is
// clearing its push queue.
type removeHookStore struct {
	kv.Store
	onRemove func()
}

func (s *removeHookStore) Remove(ctx context.Context, key string) error {
	if s.onRemove != nil {
		hook := s.onRemove
		s.onRemove = nil
		hook()
	}
	return s.Store.Remove(ctx, key)
}

func TestMarkPushedDoesNotEraseConcurrentAppend(t *testing.T) {
	ctx := context.Background()
	store := &removeHookStore{Store: kv.NewMemory()}
	log := NewLog(store, "ws-a")
	signer := testSigner(t)

	rec1, err := New(signer, "ws-a", OpAdd, "alice", RoleOwner, time.UnixMilli(1000))
	if err != nil {
		t.Fatalf("new record: %v", err)
	}
	if err := log.Append(ctx, rec1); err != nil {
		t.Fatalf("append: %v", err)
	}

	rec2, err := New(signer, "ws-a", OpAdd, "bob", RoleMember, time.UnixMilli(2000))
	if err != nil {
		t.Fatalf("new record: %v", err)
	}
	// The append lands in the middle of MarkPushed.
	store.onRemove = func() {
		if err := log.Append(ctx, rec2); err != nil {
			t.Fatalf("interleaved append: %v", err)
		}
	}

	if err := log.MarkPushed(ctx, StorageKey("ws-a", rec1)); err != nil {
		t.Fatalf("mark pushed: %v", err)
	}

	pending, err := log.Pending(ctx)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 || pending[0] != StorageKey("ws-a", rec2) {
		t.Fatalf("concurrent append must stay queued, got %v", pending)
	}
}
