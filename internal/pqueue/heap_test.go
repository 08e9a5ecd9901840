package pqueue

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"hydroflow/internal/domain"
)

func task(id string, p domain.Priority, at time.Time) domain.Task {
	return domain.Task{ID: domain.BoundaryID(id), Priority: p, RegisteredAt: at}
}

func TestExtractOrderAcrossTiers(t *testing.T) {
	q := New(0, nil)
	now := time.Now()

	q.Insert(task("low", domain.PriorityLow, now))
	q.Insert(task("critical", domain.PriorityCritical, now))
	q.Insert(task("idle", domain.PriorityIdle, now))
	q.Insert(task("normal", domain.PriorityNormal, now))
	q.Insert(task("high", domain.PriorityHigh, now))

	want := []string{"critical", "high", "normal", "low", "idle"}
	for _, id := range want {
		got, ok := q.ExtractMin()
		if !ok {
			t.Fatalf("queue empty, want %s", id)
		}
		if got.ID.String() != id {
			t.Errorf("expected %s, got %s", id, got.ID)
		}
	}
}

func TestFIFOWithinTier(t *testing.T) {
	q := New(0, nil)
	base := time.Now()
	for i := 0; i < 10; i++ {
		q.Insert(task(fmt.Sprintf("t%d", i), domain.PriorityNormal, base.Add(time.Duration(i)*time.Millisecond)))
	}
	for i := 0; i < 10; i++ {
		got, _ := q.ExtractMin()
		if want := fmt.Sprintf("t%d", i); got.ID.String() != want {
			t.Errorf("extraction %d: expected %s, got %s", i, want, got.ID)
		}
	}
}

func TestFIFOWithEqualTimestamps(t *testing.T) {
	q := New(0, nil)
	same := time.Now()
	for i := 0; i < 5; i++ {
		q.Insert(task(fmt.Sprintf("t%d", i), domain.PriorityNormal, same))
	}
	for i := 0; i < 5; i++ {
		got, _ := q.ExtractMin()
		if want := fmt.Sprintf("t%d", i); got.ID.String() != want {
			t.Errorf("extraction %d: expected %s, got %s", i, want, got.ID)
		}
	}
}

func TestCriticalNeverStarvedByIdleStream(t *testing.T) {
	q := New(0, nil)
	now := time.Now()
	for i := 0; i < 100; i++ {
		q.Insert(task(fmt.Sprintf("idle%d", i), domain.PriorityIdle, now.Add(time.Duration(i))))
	}
	q.Insert(task("urgent", domain.PriorityCritical, now.Add(time.Hour)))
	got, _ := q.ExtractMin()
	if got.ID != "urgent" {
		t.Errorf("expected urgent to be next extraction, got %s", got.ID)
	}
}

func TestPeekDoesNotRemove(t *testing.T) {
	q := New(0, nil)
	q.Insert(task("a", domain.PriorityHigh, time.Now()))
	if got, ok := q.Peek(); !ok || got.ID != "a" {
		t.Fatalf("peek: got %v ok=%v", got.ID, ok)
	}
	if q.Len() != 1 {
		t.Errorf("peek should not remove, len=%d", q.Len())
	}
}

func TestDuplicateInsertUpdatesPriority(t *testing.T) {
	q := New(0, nil)
	now := time.Now()
	q.Insert(task("a", domain.PriorityLow, now))
	q.Insert(task("b", domain.PriorityNormal, now))
	q.Insert(task("a", domain.PriorityCritical, now))

	if q.Len() != 2 {
		t.Fatalf("duplicate insert must not grow the queue, len=%d", q.Len())
	}
	got, _ := q.ExtractMin()
	if got.ID != "a" {
		t.Errorf("expected promoted a first, got %s", got.ID)
	}
}

func TestRemoveMiddle(t *testing.T) {
	q := New(0, nil)
	now := time.Now()
	q.Insert(task("a", domain.PriorityCritical, now))
	q.Insert(task("b", domain.PriorityNormal, now))
	q.Insert(task("c", domain.PriorityIdle, now))

	if !q.Remove("b") {
		t.Fatal("expected removal to succeed")
	}
	if q.Remove("b") {
		t.Error("second removal should report absent")
	}
	if q.Contains("b") {
		t.Error("removed id still reported present")
	}
	first, _ := q.ExtractMin()
	second, _ := q.ExtractMin()
	if first.ID != "a" || second.ID != "c" {
		t.Errorf("expected a then c, got %s then %s", first.ID, second.ID)
	}
}

func TestUpdatePriorityResorts(t *testing.T) {
	q := New(0, nil)
	now := time.Now()
	q.Insert(task("a", domain.PriorityHigh, now))
	q.Insert(task("b", domain.PriorityLow, now))

	if !q.UpdatePriority("b", domain.PriorityCritical) {
		t.Fatal("expected update to succeed")
	}
	if q.UpdatePriority("zzz", domain.PriorityCritical) {
		t.Error("update of unknown id should report absent")
	}
	got, _ := q.ExtractMin()
	if got.ID != "b" {
		t.Errorf("expected b after promotion, got %s", got.ID)
	}
}

func TestCapacityDropsWorseTask(t *testing.T) {
	var dropped []domain.BoundaryID
	q := New(2, func(t domain.Task) { dropped = append(dropped, t.ID) })
	now := time.Now()

	q.Insert(task("a", domain.PriorityCritical, now))
	q.Insert(task("b", domain.PriorityNormal, now))

	// Not strictly better than the worst occupant: rejected.
	if q.Insert(task("c", domain.PriorityIdle, now)) {
		t.Error("worse task should be rejected at capacity")
	}
	if len(dropped) != 1 || dropped[0] != "c" {
		t.Fatalf("expected overflow callback with c, got %v", dropped)
	}
	if q.Len() != 2 || !q.Contains("a") || !q.Contains("b") {
		t.Error("queue must be unchanged after a capacity drop")
	}
}

func TestCapacityEvictsWorstForBetterTask(t *testing.T) {
	var dropped []domain.BoundaryID
	q := New(2, func(t domain.Task) { dropped = append(dropped, t.ID) })
	now := time.Now()

	q.Insert(task("a", domain.PriorityNormal, now))
	q.Insert(task("b", domain.PriorityIdle, now))

	if !q.Insert(task("c", domain.PriorityCritical, now)) {
		t.Fatal("better task should displace the worst occupant")
	}
	if len(dropped) != 1 || dropped[0] != "b" {
		t.Fatalf("expected b evicted, got %v", dropped)
	}
	if !q.Contains("c") || q.Contains("b") {
		t.Error("eviction left wrong occupants")
	}
}

// Heap invariant: no entry ranks better than its parent after an
// arbitrary mutation sequence.
func TestHeapInvariantUnderRandomOps(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	q := New(0, nil)
	base := time.Now()
	alive := map[string]bool{}

	check := func() {
		t.Helper()
		for i := 1; i < q.h.Len(); i++ {
			parent := (i - 1) / 2
			if less(q.h.entries[i], q.h.entries[parent]) {
				t.Fatalf("heap violation at index %d", i)
			}
			if q.h.entries[i].index != i {
				t.Fatalf("index map out of sync at %d", i)
			}
		}
	}

	for op := 0; op < 2000; op++ {
		id := fmt.Sprintf("b%d", rng.Intn(200))
		switch rng.Intn(4) {
		case 0:
			q.Insert(task(id, domain.Priority(rng.Intn(5)), base.Add(time.Duration(rng.Intn(1000)))))
			alive[id] = true
		case 1:
			if q.Remove(domain.BoundaryID(id)) {
				delete(alive, id)
			}
		case 2:
			q.UpdatePriority(domain.BoundaryID(id), domain.Priority(rng.Intn(5)))
		case 3:
			if tk, ok := q.ExtractMin(); ok {
				delete(alive, tk.ID.String())
			}
		}
		check()
	}
	if q.Len() != len(alive) {
		t.Errorf("length drifted: heap=%d tracked=%d", q.Len(), len(alive))
	}
}
