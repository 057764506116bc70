package profiledb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CacheGet returns the artifact stored under key.
func (d *DB) CacheGet(ctx context.Context, key string) ([]byte, bool, error) {
	var content []byte
	err := d.db.QueryRowContext(ctx, `SELECT content FROM cache WHERE key = ?`, key).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("profiledb: cache get: %w", err)
	}
	return content, true, nil
}

// CachePut stores an artifact under key, replacing any previous entry.
func (d *DB) CachePut(ctx context.Context, key string, content []byte) error {
	if _, err := d.db.ExecContext(ctx,
		`INSERT INTO cache (key, content, created_at) VALUES (?, ?, ?)
		 ON CONFLICT (key) DO UPDATE SET content = excluded.content, created_at = excluded.created_at`,
		key, content, time.Now().UnixNano()); err != nil {
		return fmt.Errorf("profiledb: cache put: %w", err)
	}
	return nil
}

// CacheClear drops every cached artifact.
func (d *DB) CacheClear(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM cache`); err != nil {
		return fmt.Errorf("profiledb: cache clear: %w", err)
	}
	return nil
}
