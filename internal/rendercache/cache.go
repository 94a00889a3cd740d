// Package rendercache provides SQLite-backed memoization of rendered page
// output. Entries are keyed by page identity (URL) and carry a content
// fingerprint; a lookup only hits when the fingerprint still matches, and
// writers invalidate explicitly after saving.
package rendercache

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS render_cache (
	key         TEXT PRIMARY KEY,
	fingerprint TEXT NOT NULL,
	html        TEXT NOT NULL,
	updated_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// Cache wraps a sql.DB with render-memoization operations.
type Cache struct {
	conn *sql.DB
}

// Open opens (or creates) the cache database and applies the schema.
func Open(dsn string) (*Cache, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("rendercache: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("rendercache: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("rendercache: apply schema: %w", err)
	}
	return &Cache{conn: conn}, nil
}

// Close closes the underlying database connection.
func (c *Cache) Close() error {
	return c.conn.Close()
}

// Fingerprint returns the hex-encoded SHA-256 digest of raw page content.
func Fingerprint(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Get returns the cached HTML for key when the stored fingerprint matches.
// A missing entry or a stale fingerprint is a miss, not an error.
func (c *Cache) Get(key, fingerprint string) (string, bool, error) {
	var storedFP, html string
	err := c.conn.QueryRow(
		`SELECT fingerprint, html FROM render_cache WHERE key = ?`, key,
	).Scan(&storedFP, &html)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("rendercache: get %s: %w", key, err)
	}
	if storedFP != fingerprint {
		return "", false, nil
	}
	return html, true, nil
}

// Put inserts or replaces the cached HTML for key.
func (c *Cache) Put(key, fingerprint, html string) error {
	_, err := c.conn.Exec(`
		INSERT INTO render_cache (key, fingerprint, html, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			fingerprint = excluded.fingerprint,
			html        = excluded.html,
			updated_at  = excluded.updated_at
	`, key, fingerprint, html, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("rendercache: put %s: %w", key, err)
	}
	return nil
}

// Keys returns every cached key.
func (c *Cache) Keys() ([]string, error) {
	rows, err := c.conn.Query(`SELECT key FROM render_cache`)
	if err != nil {
		return nil, fmt.Errorf("rendercache: keys: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// Invalidate removes the cached entry for key. Removing an absent key is a
// no-op.
func (c *Cache) Invalidate(key string) error {
	if _, err := c.conn.Exec(`DELETE FROM render_cache WHERE key = ?`, key); err != nil {
		return fmt.Errorf("rendercache: invalidate %s: %w", key, err)
	}
	return nil
}
