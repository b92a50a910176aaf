package transport

import (
	"context"
	"reflect"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisTransport(t *testing.T) *Redis {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client)
}

func TestRedisPutListGet(t *testing.T) {
	ctx := context.Background()
	tr := newRedisTransport(t)

	keys := []string{
		"m:ws-a:r:0000000001000:a",
		"m:ws-a:r:0000000002000:b",
		"m:ws-a:r:0000000003000:c",
	}
	for _, key := range keys {
		if err := tr.Put(ctx, key, []byte("payload-"+key)); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}
	// A different namespace must not leak into ws-a listings.
	if err := tr.Put(ctx, "m:ws-b:r:0000000001000:z", []byte("other")); err != nil {
		t.Fatalf("put: %v", err)
	}

	listed, next, err := tr.List(ctx, "ws-a", "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !reflect.DeepEqual(listed, keys) {
		t.Fatalf("list = %v, want %v", listed, keys)
	}
	if next != keys[2] {
		t.Fatalf("next = %q, want %q", next, keys[2])
	}

	payload, ok, err := tr.Get(ctx, keys[0])
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if string(payload) != "payload-"+keys[0] {
		t.Fatalf("payload = %q", payload)
	}

	_, ok, err = tr.Get(ctx, "m:ws-a:r:0000000009000:missing")
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if ok {
		t.Fatalf("missing key reported present")
	}
}

func TestRedisListSinceIsExclusive(t *testing.T) {
	ctx := context.Background()
	tr := newRedisTransport(t)

	keys := []string{
		"m:ws-a:r:0000000001000:a",
		"m:ws-a:r:0000000002000:b",
		"m:ws-a:r:0000000003000:c",
	}
	for _, key := range keys {
		if err := tr.Put(ctx, key, []byte("x")); err != nil {
			t.Fatalf("put: %v", err)
		}
	}

	listed, next, err := tr.List(ctx, "ws-a", keys[0])
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !reflect.DeepEqual(listed, keys[1:]) {
		t.Fatalf("list since %q = %v, want %v", keys[0], listed, keys[1:])
	}
	if next != keys[2] {
		t.Fatalf("next = %q", next)
	}

	// Caught up: nothing newer, the token holds.
	listed, next, err = tr.List(ctx, "ws-a", keys[2])
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 0 {
		t.Fatalf("expected empty list, got %v", listed)
	}
	if next != keys[2] {
		t.Fatalf("caught-up next = %q, want %q", next, keys[2])
	}
}

func TestRedisPutIdempotent(t *testing.T) {
	ctx := context.Background()
	tr := newRedisTransport(t)

	key := "m:ws-a:r:0000000001000:a"
	if err := tr.Put(ctx, key, []byte("v1")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := tr.Put(ctx, key, []byte("v1")); err != nil {
		t.Fatalf("re-put: %v", err)
	}

	listed, _, err := tr.List(ctx, "ws-a", "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("re-put duplicated the feed entry: %v", listed)
	}
}

func TestRedisPutRejectsMalformedKey(t *testing.T) {
	tr := newRedisTransport(t)
	if err := tr.Put(context.Background(), "not-a-record-key", []byte("x")); err == nil {
		t.Fatalf("expected error for malformed key")
	}
}

func TestMemoryTransport(t *testing.T) {
	ctx := context.Background()
	tr := NewMemory()

	keys := []string{
		"m:ws-a:r:0000000001000:a",
		"m:ws-a:r:0000000002000:b",
	}
	for _, key := range keys {
		if err := tr.Put(ctx, key, []byte("x")); err != nil {
			t.Fatalf("put: %v", err)
		}
	}

	listed, next, err := tr.List(ctx, "ws-a", "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !reflect.DeepEqual(listed, keys) {
		t.Fatalf("list = %v", listed)
	}
	if next != keys[1] {
		t.Fatalf("next = %q", next)
	}

	listed, _, err = tr.List(ctx, "ws-a", keys[0])
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !reflect.DeepEqual(listed, keys[1:]) {
		t.Fatalf("list since = %v", listed)
	}

	_, _, err = tr.List(ctx, "ws-b", "")
	if err != nil {
		t.Fatalf("list other ns: %v", err)
	}
}
