// Package store persists session snapshots so conversations survive
// process restarts. Two implementations are provided: an in-memory store
// for tests and ephemeral runs, and a SQLite store for durable local state.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/okapilabs/steer/pkg/models"
)

// ErrSessionNotFound is returned when loading or deleting an unknown session.
var ErrSessionNotFound = errors.New("session not found")

// ListEntry is one row of a session listing.
type ListEntry struct {
	SessionID string
	Status    models.Status
	SavedAt   time.Time
}

// Store is the persistence boundary for session snapshots. Save overwrites
// any previous snapshot for the same session ID.
type Store interface {
	Save(ctx context.Context, snap *models.SessionSnapshot) error
	Load(ctx context.Context, sessionID string) (*models.SessionSnapshot, error)
	List(ctx context.Context) ([]ListEntry, error)
	Delete(ctx context.Context, sessionID string) error
}
