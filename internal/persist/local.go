package persist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const createLocalStatesTable = `
CREATE TABLE IF NOT EXISTS local_states (
	storage_key TEXT PRIMARY KEY,
	state       TEXT NOT NULL,
	updated_at  INTEGER NOT NULL
)`

// LocalStore is the visitor-side device-local store: an embedded SQLite
// database holding the same JSON documents as the shared backend, keyed by
// the deterministic storage key. It is never shared between devices.
type LocalStore struct {
	db *sql.DB
}

// OpenLocalStore opens (or creates) the device-local store at path.
func OpenLocalStore(path string) (*LocalStore, error) {
	if path == "" {
		return nil, fmt.Errorf("local store path is required")
	}

	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping local store: %w", err)
	}
	if _, err := db.Exec(createLocalStatesTable); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create local_states table: %w", err)
	}
	return &LocalStore{db: db}, nil
}

func (s *LocalStore) Load(ctx context.Context, key Key) ([]byte, bool, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM local_states WHERE storage_key = ?`, key.StorageKey()).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load local state %s: %w", key.StorageKey(), err)
	}
	return []byte(doc), true, nil
}

func (s *LocalStore) Save(ctx context.Context, key Key, doc []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO local_states (storage_key, state, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (storage_key) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`,
		key.StorageKey(), string(doc), time.Now().UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("save local state %s: %w", key.StorageKey(), err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *LocalStore) Close() error {
	return s.db.Close()
}
