package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/okapilabs/steer/pkg/models"
)

func testSnapshot(id string, status models.Status, savedAt time.Time) *models.SessionSnapshot {
	return &models.SessionSnapshot{
		SessionID: id,
		Status:    status,
		History:   json.RawMessage(`[]`),
		Metrics:   models.Metrics{Iterations: 2, ToolCalls: 1},
		SavedAt:   savedAt,
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	snap := testSnapshot("s1", models.StatusWaitingUser, time.Now())
	if err := s.Save(ctx, snap); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := s.Load(ctx, "s1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.SessionID != "s1" || loaded.Status != models.StatusWaitingUser {
		t.Errorf("loaded = %+v", loaded)
	}
	if loaded.Metrics.Iterations != 2 {
		t.Errorf("metrics = %+v", loaded.Metrics)
	}

	// The loaded snapshot must be independent of the stored one.
	loaded.Status = models.StatusError
	again, _ := s.Load(ctx, "s1")
	if again.Status != models.StatusWaitingUser {
		t.Error("load aliased stored state")
	}
}

func TestMemoryStoreNotFound(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.Load(context.Background(), "nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Load = %v, want ErrSessionNotFound", err)
	}
	if err := s.Delete(context.Background(), "nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Delete = %v, want ErrSessionNotFound", err)
	}
}

func TestMemoryStoreSaveValidation(t *testing.T) {
	s := NewMemoryStore()
	if err := s.Save(context.Background(), nil); err == nil {
		t.Error("expected error saving nil snapshot")
	}
	if err := s.Save(context.Background(), &models.SessionSnapshot{}); err == nil {
		t.Error("expected error saving snapshot without id")
	}
}

func TestMemoryStoreListNewestFirst(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Now()

	for i, id := range []string{"old", "mid", "new"} {
		snap := testSnapshot(id, models.StatusFinished, base.Add(time.Duration(i)*time.Minute))
		if err := s.Save(ctx, snap); err != nil {
			t.Fatalf("Save %s: %v", id, err)
		}
	}

	entries, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(entries))
	}
	if entries[0].SessionID != "new" || entries[2].SessionID != "old" {
		t.Errorf("order = %s, %s, %s", entries[0].SessionID, entries[1].SessionID, entries[2].SessionID)
	}
}

func TestMemoryStoreSaveOverwrites(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.Save(ctx, testSnapshot("s1", models.StatusRunning, time.Now())); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Save(ctx, testSnapshot("s1", models.StatusFinished, time.Now())); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := s.Load(ctx, "s1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Status != models.StatusFinished {
		t.Errorf("status = %s, want finished after overwrite", loaded.Status)
	}
	entries, _ := s.List(ctx)
	if len(entries) != 1 {
		t.Errorf("entries = %d, want 1", len(entries))
	}
}
