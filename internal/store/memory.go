package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/okapilabs/steer/pkg/models"
)

// MemoryStore is an in-memory Store for tests and ephemeral runs.
// Snapshots are deep-copied through JSON on both Save and Load so callers
// never share state with the store.
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[string][]byte
	entries   map[string]ListEntry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snapshots: map[string][]byte{},
		entries:   map[string]ListEntry{},
	}
}

// Save implements Store.
func (m *MemoryStore) Save(ctx context.Context, snap *models.SessionSnapshot) error {
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

	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[snap.SessionID] = raw
	m.entries[snap.SessionID] = ListEntry{
		SessionID: snap.SessionID,
		Status:    snap.Status,
		SavedAt:   snap.SavedAt,
	}
	return nil
}

// Load implements Store.
func (m *MemoryStore) Load(ctx context.Context, sessionID string) (*models.SessionSnapshot, error) {
	m.mu.RLock()
	raw, ok := m.snapshots[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	var snap models.SessionSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", sessionID, err)
	}
	return &snap, nil
}

// List implements Store. Entries come back newest first.
func (m *MemoryStore) List(ctx context.Context) ([]ListEntry, error) {
	m.mu.RLock()
	out := make([]ListEntry, 0, len(m.entries))
	for _, entry := range m.entries {
		out = append(out, entry)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].SavedAt.After(out[j].SavedAt) })
	return out, nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.snapshots[sessionID]; !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	delete(m.snapshots, sessionID)
	delete(m.entries, sessionID)
	return nil
}
