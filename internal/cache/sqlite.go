package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/tursodatabase/go-libsql"
)

// SQLiteStore is the durable backend, one JSON blob per cache key. It
// survives process restarts the way the widget's origin-scoped storage
// survives a new tab.
type SQLiteStore struct {
	db *sql.DB
}

const cacheSchema = `
CREATE TABLE IF NOT EXISTS cache_records (
    key TEXT PRIMARY KEY,
    payload TEXT NOT NULL,
    written_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(key)
);
`

// NewSQLiteStore opens (creating if needed) the cache database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	db, err := sql.Open("libsql", "file:"+dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping cache database: %w", err)
	}

	if _, err := db.Exec(cacheSchema); err != nil {
		return nil, fmt.Errorf("failed to initialize cache schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Get retrieves and decodes the record for key, or nil when absent.
func (s *SQLiteStore) Get(ctx context.Context, key string) (*Record, error) {
	var payload string
	query := `SELECT payload FROM cache_records WHERE key = ?`

	err := s.db.QueryRowContext(ctx, query, key).Scan(&payload)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read cache record: %w", err)
	}

	var rec Record
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return nil, fmt.Errorf("failed to decode cache record: %w", err)
	}
	return &rec, nil
}

// Put serializes the record as a single JSON blob and upserts it.
func (s *SQLiteStore) Put(ctx context.Context, key string, rec Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode cache record: %w", err)
	}

	query := `INSERT INTO cache_records (key, payload, written_at) VALUES (?, ?, ?)
	          ON CONFLICT(key) DO UPDATE SET payload = excluded.payload, written_at = excluded.written_at`

	if _, err := s.db.ExecContext(ctx, query, key, string(payload), rec.WrittenAt); err != nil {
		return fmt.Errorf("failed to write cache record: %w", err)
	}
	return nil
}

// Clear deletes the record. Deleting a missing key is not an error.
func (s *SQLiteStore) Clear(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_records WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to clear cache record: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
