// Package cache is a small SQLite key/value store. The retriever uses it to
// memoize search results across runs.
package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLite stores values by (namespace, key) with an optional time-to-live.
type SQLite struct {
	conn *sql.DB
	ttl  time.Duration
	now  func() time.Time
}

// Open opens (or creates) the cache database at path. A zero ttl keeps
// entries forever.
func Open(path string, ttl time.Duration) (*SQLite, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// one writer at a time keeps sqlite from returning SQLITE_BUSY
	conn.SetMaxOpenConns(1)

	c := &SQLite{conn: conn, ttl: ttl, now: time.Now}
	if err := c.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return c, nil
}

func (c *SQLite) Close() error {
	return c.conn.Close()
}

func (c *SQLite) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS entries (
		namespace TEXT NOT NULL,
		key TEXT NOT NULL,
		value BLOB NOT NULL,
		stored_at INTEGER NOT NULL,
		PRIMARY KEY (namespace, key)
	);`
	_, err := c.conn.Exec(schema)
	return err
}

// Get returns the stored value and whether a live entry exists.
func (c *SQLite) Get(ctx context.Context, namespace, key string) ([]byte, bool, error) {
	var value []byte
	var storedAt int64
	err := c.conn.QueryRowContext(ctx,
		`SELECT value, stored_at FROM entries WHERE namespace = ? AND key = ?`,
		namespace, key).Scan(&value, &storedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("query entry: %w", err)
	}
	if c.ttl > 0 && c.now().Sub(time.Unix(storedAt, 0)) > c.ttl {
		return nil, false, nil
	}
	return value, true, nil
}

// Put stores value, replacing any previous entry.
func (c *SQLite) Put(ctx context.Context, namespace, key string, value []byte) error {
	_, err := c.conn.ExecContext(ctx,
		`INSERT INTO entries (namespace, key, value, stored_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(namespace, key) DO UPDATE SET value = excluded.value, stored_at = excluded.stored_at`,
		namespace, key, value, c.now().Unix())
	if err != nil {
		return fmt.Errorf("store entry: %w", err)
	}
	return nil
}

// Purge deletes expired entries and reports how many were removed.
func (c *SQLite) Purge(ctx context.Context) (int64, error) {
	if c.ttl <= 0 {
		return 0, nil
	}
	cutoff := c.now().Add(-c.ttl).Unix()
	res, err := c.conn.ExecContext(ctx, `DELETE FROM entries WHERE stored_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge entries: %w", err)
	}
	return res.RowsAffected()
}
