package kv

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

// Postgres is a Store backed by a single quorum_kv table.
//
//	CREATE TABLE quorum_kv (
//	    key        TEXT PRIMARY KEY,
//	    value      BYTEA NOT NULL,
//	    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
//	);
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects, pings, and wraps the pool as a Store.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("kv: parse postgres config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("kv: new postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("kv: postgres ping: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// NewPostgresFromPool wraps an existing pool.
func NewPostgresFromPool(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Close releases the underlying pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

// Pool exposes the underlying pool for collaborators that share the
// same database, e.g. the audit recorder.
func (p *Postgres) Pool() *pgxpool.Pool {
	return p.pool
}

// Get implements Store.
func (p *Postgres) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := p.pool.QueryRow(ctx, `SELECT value FROM quorum_kv WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("kv: postgres get %s: %w", key, err)
	}
	return value, true, nil
}

// Set implements Store.
func (p *Postgres) Set(ctx context.Context, key string, value []byte) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO quorum_kv (key, value, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		key, value)
	if err != nil {
		return fmt.Errorf("kv: postgres set %s: %w", key, err)
	}
	return nil
}

// SetIfAbsent writes the value only when the key does not exist yet
// and reports whether this call inserted it. Backed by the primary
// key constraint, so two concurrent callers cannot both win.
func (p *Postgres) SetIfAbsent(ctx context.Context, key string, value []byte) (bool, error) {
	_, err := p.pool.Exec(ctx, `INSERT INTO quorum_kv (key, value) VALUES ($1, $2)`, key, value)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return false, nil
		}
		return false, fmt.Errorf("kv: postgres set-if-absent %s: %w", key, err)
	}
	return true, nil
}

// Remove implements Store.
func (p *Postgres) Remove(ctx context.Context, key string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM quorum_kv WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("kv: postgres remove %s: %w", key, err)
	}
	return nil
}

// ListKeysByPrefix implements Store.
func (p *Postgres) ListKeysByPrefix(ctx context.Context, prefix string) ([]string, error) {
	rows, err := p.pool.Query(ctx, `SELECT key FROM quorum_kv WHERE key LIKE $1 || '%' ORDER BY key`, prefix)
	if err != nil {
		return nil, fmt.Errorf("kv: postgres list %s: %w", prefix, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("kv: postgres list scan: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("kv: postgres list rows: %w", err)
	}
	return keys, nil
}
