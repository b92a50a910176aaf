package kv

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func testStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := store.Get(ctx, "missing")
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if ok {
		t.Fatalf("missing key reported present")
	}

	if err := store.Set(ctx, "m:ws-a:r:0000000001000:a", []byte("one")); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := store.Set(ctx, "m:ws-a:r:0000000002000:b", []byte("two")); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := store.Set(ctx, "m:ws-b:r:0000000001000:c", []byte("other")); err != nil {
		t.Fatalf("set: %v", err)
	}

	value, ok, err := store.Get(ctx, "m:ws-a:r:0000000001000:a")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if string(value) != "one" {
		t.Fatalf("get value = %q", value)
	}

	// Overwrite replaces.
	if err := store.Set(ctx, "m:ws-a:r:0000000001000:a", []byte("uno")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	value, _, err = store.Get(ctx, "m:ws-a:r:0000000001000:a")
	if err != nil {
		t.Fatalf("get after overwrite: %v", err)
	}
	if string(value) != "uno" {
		t.Fatalf("overwrite value = %q", value)
	}

	keys, err := store.ListKeysByPrefix(ctx, "m:ws-a:r:")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{"m:ws-a:r:0000000001000:a", "m:ws-a:r:0000000002000:b"}
	if len(keys) != len(want) {
		t.Fatalf("list = %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("list[%d] = %q, want %q (sorted)", i, keys[i], want[i])
		}
	}

	if err := store.Remove(ctx, "m:ws-a:r:0000000001000:a"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	_, ok, err = store.Get(ctx, "m:ws-a:r:0000000001000:a")
	if err != nil {
		t.Fatalf("get after remove: %v", err)
	}
	if ok {
		t.Fatalf("removed key still present")
	}

	// Removing a missing key is not an error.
	if err := store.Remove(ctx, "missing"); err != nil {
		t.Fatalf("remove missing: %v", err)
	}
}

func testConditionalStore(t *testing.T, store interface {
	Store
	SetIfAbsent(ctx context.Context, key string, value []byte) (bool, error)
}) {
	t.Helper()
	ctx := context.Background()

	inserted, err := store.SetIfAbsent(ctx, "lock", []byte("1"))
	if err != nil {
		t.Fatalf("setifabsent: %v", err)
	}
	if !inserted {
		t.Fatalf("first insert reported the key as present")
	}

	inserted, err = store.SetIfAbsent(ctx, "lock", []byte("2"))
	if err != nil {
		t.Fatalf("setifabsent again: %v", err)
	}
	if inserted {
		t.Fatalf("second insert claimed the key")
	}

	value, ok, err := store.Get(ctx, "lock")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if string(value) != "1" {
		t.Fatalf("losing insert overwrote the value: %q", value)
	}
}

func TestMemoryStore(t *testing.T) {
	testStore(t, NewMemory())
	testConditionalStore(t, NewMemory())
}

func TestMemoryStoreCopiesValues(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	payload := []byte("original")
	if err := store.Set(ctx, "k", payload); err != nil {
		t.Fatalf("set: %v", err)
	}
	payload[0] = 'X'

	value, _, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(value) != "original" {
		t.Fatalf("store aliased the caller's buffer: %q", value)
	}
	value[0] = 'Y'

	again, _, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(again) != "original" {
		t.Fatalf("get returned an aliased buffer: %q", again)
	}
}

func TestRedisStore(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	testStore(t, NewRedisFromClient(client))

	srv.FlushAll()
	testConditionalStore(t, NewRedisFromClient(client))
}
