package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/okapilabs/steer/pkg/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id       TEXT PRIMARY KEY,
	status   TEXT NOT NULL,
	snapshot TEXT NOT NULL,
	saved_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_saved_at ON sessions (saved_at DESC);
`

// SQLiteStore persists session snapshots in a local SQLite database. The
// snapshot rides as a JSON column; id, status and saved_at are promoted to
// real columns for listing without decoding.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if necessary) the database at path and
// ensures the schema exists. Use ":memory:" for an ephemeral database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	// The driver is single-writer; serialize access at the pool level.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// NewSQLiteStoreFromDB wraps an existing database handle. The caller owns
// the handle's lifecycle and schema.
func NewSQLiteStoreFromDB(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Save implements Store with an upsert keyed on session id.
func (s *SQLiteStore) Save(ctx context.Context, snap *models.SessionSnapshot) error {
	if snap == nil {
		return errors.New("snapshot is required")
	}
	if snap.SessionID == "" {
		return errors.New("snapshot has no session id")
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", snap.SessionID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, status, snapshot, saved_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			snapshot = excluded.snapshot,
			saved_at = excluded.saved_at`,
		snap.SessionID, string(snap.Status), string(raw), snap.SavedAt)
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", snap.SessionID, err)
	}
	return nil
}

// Load implements Store.
func (s *SQLiteStore) Load(ctx context.Context, sessionID string) (*models.SessionSnapshot, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT snapshot FROM sessions WHERE id = ?`, sessionID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", sessionID, err)
	}

	var snap models.SessionSnapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", sessionID, err)
	}
	return &snap, nil
}

// List implements Store. Entries come back newest first.
func (s *SQLiteStore) List(ctx context.Context) ([]ListEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, status, saved_at FROM sessions ORDER BY saved_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []ListEntry
	for rows.Next() {
		var entry ListEntry
		var status string
		var savedAt time.Time
		if err := rows.Scan(&entry.SessionID, &status, &savedAt); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		entry.Status = models.Status(status)
		entry.SavedAt = savedAt
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return out, nil
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, sessionID string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return nil
}
