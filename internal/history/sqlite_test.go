package history

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"hydroflow/internal/domain"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "history.db") + "?cache=shared&mode=rwc"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	if err := EnsureSchema(db); err != nil {
		t.Fatal(err)
	}
	return db
}

func TestRecordAndListRecent(t *testing.T) {
	store := NewStore(openTestDB(t))
	ctx := context.Background()

	id, err := store.Record(ctx, Attempt{
		BoundaryID: "hero",
		State:      "hydrated",
		Priority:   "critical",
		Trigger:    "immediate",
		Duration:   12 * time.Millisecond,
		Replayed:   2,
		OccurredAt: time.Now().Add(-time.Minute),
	})
	if err != nil {
		t.Fatal(err)
	}
	if id == "" {
		t.Fatal("expected generated attempt id")
	}
	_, err = store.Record(ctx, Attempt{
		BoundaryID: "sidebar",
		State:      "error",
		Priority:   "low",
		Trigger:    "visible",
		Error:      "fetch failed",
		OccurredAt: time.Now(),
	})
	if err != nil {
		t.Fatal(err)
	}

	attempts, err := store.ListRecent(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(attempts) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(attempts))
	}
	if attempts[0].BoundaryID != "sidebar" {
		t.Errorf("expected newest first, got %s", attempts[0].BoundaryID)
	}
	if attempts[0].Error != "fetch failed" {
		t.Errorf("error column round trip: %q", attempts[0].Error)
	}
	if attempts[1].Duration != 12*time.Millisecond || attempts[1].Replayed != 2 {
		t.Errorf("numeric round trip: %+v", attempts[1])
	}
}

func TestCountByState(t *testing.T) {
	store := NewStore(openTestDB(t))
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		store.Record(ctx, Attempt{BoundaryID: "a", State: "hydrated", Priority: "normal", Trigger: "immediate"})
	}
	store.Record(ctx, Attempt{BoundaryID: "b", State: "error", Priority: "normal", Trigger: "immediate"})

	counts, err := store.CountByState(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts["hydrated"] != 3 || counts["error"] != 1 {
		t.Errorf("counts: %v", counts)
	}
}

func TestAttemptFromEvent(t *testing.T) {
	a, ok := AttemptFromEvent(domain.Event{
		Kind:     domain.EventHydrationComplete,
		Boundary: "hero",
		Priority: domain.PriorityCritical,
		Trigger:  domain.TriggerImmediate,
		Duration: 8 * time.Millisecond,
		Replayed: 1,
		State:    domain.StateHydrated,
	})
	if !ok {
		t.Fatal("completion events must map to attempts")
	}
	if a.State != "hydrated" || a.Priority != "critical" || a.Replayed != 1 {
		t.Errorf("mapping wrong: %+v", a)
	}

	if _, ok := AttemptFromEvent(domain.Event{Kind: domain.EventSchedulerPaused}); ok {
		t.Error("non-terminal events must not map")
	}
}
