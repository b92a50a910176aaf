package transport

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Redis is a Transport where replicas rendezvous through a shared
// Redis. Payloads live under their record key; per-namespace ordering
// comes from a lexicographic sorted set, so the since token is just
// the last key seen.
type Redis struct {
	client *redis.Client
}

// NewRedis wraps a client as a Transport.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func indexKey(ns string) string {
	return fmt.Sprintf("quorum:feed:%s", ns)
}

// List implements Transport via ZRANGEBYLEX over the namespace feed.
func (r *Redis) List(ctx context.Context, ns, since string) ([]string, string, error) {
	min := "-"
	if since != "" {
		min = "(" + since
	}
	keys, err := r.client.ZRangeByLex(ctx, indexKey(ns), &redis.ZRangeBy{Min: min, Max: "+"}).Result()
	if err != nil {
		return nil, "", fmt.Errorf("transport: redis list %s: %w", ns, err)
	}
	next := since
	if len(keys) > 0 {
		next = keys[len(keys)-1]
	}
	return keys, next, nil
}

// Get implements Transport.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	payload, err := r.client.Get(ctx, "quorum:rec:"+key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("transport: redis get %s: %w", key, err)
	}
	return payload, true, nil
}

// Put implements Transport. The payload write and the feed index
// entry go in one pipeline so a listed key is always fetchable.
func (r *Redis) Put(ctx context.Context, key string, payload []byte) error {
	ns, err := namespaceOf(key)
	if err != nil {
		return err
	}
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, "quorum:rec:"+key, payload, 0)
	pipe.ZAdd(ctx, indexKey(ns), redis.Z{Score: 0, Member: key})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("transport: redis put %s: %w", key, err)
	}
	return nil
}

// namespaceOf extracts <ns> from a m:<ns>:r:... record key.
func namespaceOf(key string) (string, error) {
	if len(key) < 2 || key[:2] != "m:" {
		return "", fmt.Errorf("transport: malformed record key %q", key)
	}
	rest := key[2:]
	for i := 0; i < len(rest); i++ {
		if rest[i] == ':' {
			return rest[:i], nil
		}
	}
	return "", fmt.Errorf("transport: malformed record key %q", key)
}
