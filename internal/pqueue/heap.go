// Package pqueue implements the pending-task priority queue: a binary
// min-heap ordered by (priority tier, registration time) with an
// identity index for O(1) membership checks and O(log n) in-place
// priority updates and removals.
package pqueue

import (
	"container/heap"

	"hydroflow/internal/domain"
)

type entry struct {
	task  domain.Task
	index int
	seq   uint64
}

// taskHeap implements container/heap.Interface. Swap keeps the identity
// index in sync, so positions are always current after any mutation.
type taskHeap struct {
	entries []*entry
	byID    map[domain.BoundaryID]*entry
}

func (h *taskHeap) Len() int { return len(h.entries) }

func (h *taskHeap) Less(i, j int) bool {
	return less(h.entries[i], h.entries[j])
}

// less is the ordering rule: tier ascending, then registration time
// ascending, then insertion sequence so equal timestamps stay FIFO.
func less(a, b *entry) bool {
	if a.task.Priority != b.task.Priority {
		return a.task.Priority < b.task.Priority
	}
	if !a.task.RegisteredAt.Equal(b.task.RegisteredAt) {
		return a.task.RegisteredAt.Before(b.task.RegisteredAt)
	}
	return a.seq < b.seq
}

func (h *taskHeap) Swap(i, j int) {
	h.entries[i], h.entries[j] = h.entries[j], h.entries[i]
	h.entries[i].index = i
	h.entries[j].index = j
}

func (h *taskHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(h.entries)
	h.entries = append(h.entries, e)
	h.byID[e.task.ID] = e
}

func (h *taskHeap) Pop() any {
	old := h.entries
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	h.entries = old[:n-1]
	delete(h.byID, e.task.ID)
	return e
}

// Queue is the bounded priority queue. Not safe for concurrent use;
// the owning scheduler serializes access.
type Queue struct {
	h        taskHeap
	capacity int
	seq      uint64

	// onOverflow fires with the task dropped or evicted when an insert
	// hits capacity. May be nil.
	onOverflow func(domain.Task)
}

// New returns a queue holding at most capacity tasks. capacity <= 0
// means unbounded.
func New(capacity int, onOverflow func(domain.Task)) *Queue {
	return &Queue{
		h:          taskHeap{byID: make(map[domain.BoundaryID]*entry)},
		capacity:   capacity,
		onOverflow: onOverflow,
	}
}

func (q *Queue) Len() int { return q.h.Len() }

// Contains reports whether a task with the given identity is queued.
func (q *Queue) Contains(id domain.BoundaryID) bool {
	_, ok := q.h.byID[id]
	return ok
}

// Insert queues a task. Re-inserting a queued identity updates its
// priority in place instead of duplicating. At capacity the task is
// compared against the current worst occupant: if not strictly better
// it is dropped, otherwise the worst occupant is evicted to make room.
// Returns false when the new task was dropped.
func (q *Queue) Insert(t domain.Task) bool {
	if e, ok := q.h.byID[t.ID]; ok {
		q.update(e, t.Priority)
		return true
	}
	if q.capacity > 0 && q.h.Len() >= q.capacity {
		w := q.worst()
		cand := &entry{task: t, seq: q.seq + 1}
		if !less(cand, w) {
			if q.onOverflow != nil {
				q.onOverflow(t)
			}
			return false
		}
		evicted := w.task
		heap.Remove(&q.h, w.index)
		if q.onOverflow != nil {
			q.onOverflow(evicted)
		}
	}
	q.seq++
	heap.Push(&q.h, &entry{task: t, seq: q.seq})
	return true
}

// ExtractMin removes and returns the best task.
func (q *Queue) ExtractMin() (domain.Task, bool) {
	if q.h.Len() == 0 {
		return domain.Task{}, false
	}
	e := heap.Pop(&q.h).(*entry)
	return e.task, true
}

// Peek returns the best task without removing it.
func (q *Queue) Peek() (domain.Task, bool) {
	if q.h.Len() == 0 {
		return domain.Task{}, false
	}
	return q.h.entries[0].task, true
}

// Remove deletes a queued task by identity. Returns false when absent.
func (q *Queue) Remove(id domain.BoundaryID) bool {
	e, ok := q.h.byID[id]
	if !ok {
		return false
	}
	heap.Remove(&q.h, e.index)
	return true
}

// UpdatePriority re-ranks a queued task. Returns false when absent.
func (q *Queue) UpdatePriority(id domain.BoundaryID, p domain.Priority) bool {
	e, ok := q.h.byID[id]
	if !ok {
		return false
	}
	q.update(e, p)
	return true
}

func (q *Queue) update(e *entry, p domain.Priority) {
	e.task.Priority = p
	heap.Fix(&q.h, e.index)
}

// worst returns the entry the comparator ranks last. Leaves only: an
// interior node is always better than one of its children.
func (q *Queue) worst() *entry {
	w := q.h.entries[0]
	for _, e := range q.h.entries[q.h.Len()/2:] {
		if less(w, e) {
			w = e
		}
	}
	return w
}

// Tasks returns the queued tasks in no particular order.
func (q *Queue) Tasks() []domain.Task {
	out := make([]domain.Task, 0, q.h.Len())
	for _, e := range q.h.entries {
		out = append(out, e.task)
	}
	return out
}

// Clear empties the queue without firing overflow callbacks.
func (q *Queue) Clear() {
	q.h.entries = nil
	q.h.byID = make(map[domain.BoundaryID]*entry)
}
