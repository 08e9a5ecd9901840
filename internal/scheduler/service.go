// Package scheduler orchestrates deferred boundary activation: it owns
// the pending-task priority queue, the per-boundary state table, the
// interaction replay buffers, and the budgeted execution loop that
// drains work on frame or idle callbacks.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"hydroflow/internal/domain"
	"hydroflow/internal/events"
	"hydroflow/internal/metrics"
	"hydroflow/internal/pqueue"
	"hydroflow/internal/replay"
)

var (
	ErrNotRegistered = errors.New("boundary not registered")
	ErrDisposed      = errors.New("scheduler disposed")
)

// Config tunes the execution loop and the owned subsystems.
type Config struct {
	// FrameBudget is the wall-clock ceiling for one frame pass.
	FrameBudget time.Duration

	// MaxTasksPerFrame caps tasks dequeued in one pass.
	MaxTasksPerFrame int

	// YieldEvery yields the processor back to the host every N tasks
	// within a pass. 0 disables yielding.
	YieldEvery int

	// IdleEnabled routes idle-tier work through the idle callback
	// instead of the frame callback.
	IdleEnabled bool

	// QueueCapacity bounds the pending queue. 0 means unbounded.
	QueueCapacity int

	// VisibilityThreshold is the visible fraction that fires visible
	// triggers.
	VisibilityThreshold float64

	Replay replay.Config
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		FrameBudget:         50 * time.Millisecond,
		MaxTasksPerFrame:    10,
		YieldEvery:          3,
		IdleEnabled:         true,
		QueueCapacity:       256,
		VisibilityThreshold: 0.1,
		Replay:              replay.DefaultConfig(),
	}
}

type record struct {
	task    domain.Task
	status  domain.Status
	cancels []func()
}

func (r *record) cancelTriggers() {
	for _, c := range r.cancels {
		c()
	}
	r.cancels = nil
}

// Scheduler is the hydration orchestrator. All mutation goes through
// its exported operations, which serialize on one mutex; task actions
// themselves run outside the lock, one at a time per pass.
type Scheduler struct {
	cfg   Config
	ports Ports

	mu         sync.Mutex
	queue      *pqueue.Queue
	records    map[domain.BoundaryID]*record
	overflowed []domain.Task
	cancelPass func()
	processing bool
	paused     bool
	disposed   bool

	replay    *replay.Manager
	bus       *events.Bus
	collector *metrics.Collector

	ctx       context.Context
	cancelCtx context.CancelFunc
	startedAt time.Time
}

// New builds a scheduler over the given ports. Zero port fields get
// production defaults; pass test doubles for deterministic loops.
func New(cfg Config, ports Ports, resolver domain.TargetResolver) *Scheduler {
	if cfg.FrameBudget <= 0 {
		cfg.FrameBudget = DefaultConfig().FrameBudget
	}
	if cfg.MaxTasksPerFrame <= 0 {
		cfg.MaxTasksPerFrame = DefaultConfig().MaxTasksPerFrame
	}
	if cfg.VisibilityThreshold <= 0 {
		cfg.VisibilityThreshold = DefaultConfig().VisibilityThreshold
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cfg:       cfg,
		ports:     ports.withDefaults(),
		records:   make(map[domain.BoundaryID]*record),
		replay:    replay.NewManager(cfg.Replay, resolver),
		bus:       events.NewBus(),
		collector: metrics.NewCollector(),
		ctx:       ctx,
		cancelCtx: cancel,
		startedAt: time.Now(),
	}
	s.queue = pqueue.New(cfg.QueueCapacity, func(t domain.Task) {
		// Runs under s.mu inside Insert; published after unlock.
		s.overflowed = append(s.overflowed, t)
	})
	return s
}

// Register adds a boundary. Re-registering an identity replaces the
// prior registration and cancels its pending triggers.
func (s *Scheduler) Register(t domain.Task) error {
	if t.ID == "" {
		return domain.ErrInvalidBoundaryID
	}
	if !t.Trigger.Valid() {
		return fmt.Errorf("boundary %s: unknown trigger %q", t.ID, t.Trigger)
	}
	if !t.Priority.Valid() {
		return fmt.Errorf("boundary %s: priority out of range", t.ID)
	}
	if t.Action == nil && !t.NonInteractive {
		return fmt.Errorf("boundary %s: action is required", t.ID)
	}
	if t.Trigger == domain.TriggerScheduled && t.CronExpr == "" {
		return fmt.Errorf("boundary %s: scheduled trigger needs a cron expression", t.ID)
	}
	if t.RegisteredAt.IsZero() {
		t.RegisteredAt = time.Now()
	}

	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return ErrDisposed
	}
	if prev, ok := s.records[t.ID]; ok {
		prev.cancelTriggers()
		s.queue.Remove(t.ID)
		s.replay.Clear(t.ID)
	}
	rec := &record{task: t, status: domain.Status{State: domain.StatePending}}
	if t.NonInteractive {
		rec.status = domain.Status{State: domain.StateSkipped, CompletedAt: time.Now()}
	}
	s.records[t.ID] = rec
	state := rec.status.State
	s.mu.Unlock()

	s.bus.Publish(domain.Event{
		Kind:     domain.EventBoundaryRegistered,
		Boundary: t.ID,
		Priority: t.Priority,
		Trigger:  t.Trigger,
		State:    state,
	})
	log.Debug().
		Str("boundary", t.ID.String()).
		Str("priority", t.Priority.String()).
		Str("trigger", string(t.Trigger)).
		Msg("boundary registered")

	if t.NonInteractive {
		s.mu.Lock()
		s.maybeMarkSettledLocked()
		s.mu.Unlock()
		return nil
	}
	if err := s.wireTrigger(rec); err != nil {
		s.mu.Lock()
		delete(s.records, t.ID)
		s.mu.Unlock()
		return err
	}
	return nil
}

// Unregister removes a boundary: it leaves the queue, its triggers and
// timers are cancelled, and its capture buffer is discarded. An action
// already mid-execution is not interrupted.
func (s *Scheduler) Unregister(id domain.BoundaryID) {
	s.mu.Lock()
	rec, ok := s.records[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	rec.cancelTriggers()
	s.queue.Remove(id)
	delete(s.records, id)
	s.maybeMarkSettledLocked()
	s.mu.Unlock()

	s.replay.Clear(id)
	s.bus.Publish(domain.Event{
		Kind:     domain.EventBoundaryUnregistered,
		Boundary: id,
		Priority: rec.task.Priority,
		State:    rec.status.State,
	})
}

// GetStatus returns a snapshot of the boundary's status.
func (s *Scheduler) GetStatus(id domain.BoundaryID) (domain.Status, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return domain.Status{}, false
	}
	return rec.status, true
}

// Statuses returns a snapshot of every registered boundary's status.
func (s *Scheduler) Statuses() map[domain.BoundaryID]domain.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[domain.BoundaryID]domain.Status, len(s.records))
	for id, rec := range s.records {
		out[id] = rec.status
	}
	return out
}

// StateCounts tallies boundaries per lifecycle state.
type StateCounts struct {
	Pending   int `json:"pending"`
	Hydrating int `json:"hydrating"`
	Hydrated  int `json:"hydrated"`
	Errored   int `json:"errored"`
	Skipped   int `json:"skipped"`
}

// State is a point-in-time scheduler snapshot.
type State struct {
	Counts     StateCounts `json:"counts"`
	Registered int         `json:"registered"`
	QueueLen   int         `json:"queue_len"`
	Paused     bool        `json:"paused"`
}

func (s *Scheduler) GetState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := State{
		Registered: len(s.records),
		QueueLen:   s.queue.Len(),
		Paused:     s.paused,
	}
	for _, rec := range s.records {
		switch rec.status.State {
		case domain.StatePending:
			st.Counts.Pending++
		case domain.StateHydrating:
			st.Counts.Hydrating++
		case domain.StateHydrated:
			st.Counts.Hydrated++
		case domain.StateError:
			st.Counts.Errored++
		case domain.StateSkipped:
			st.Counts.Skipped++
		}
	}
	return st
}

// UpdatePriority re-ranks a still-pending boundary. It is a no-op once
// the boundary has left pending, and for unknown identities.
func (s *Scheduler) UpdatePriority(id domain.BoundaryID, p domain.Priority) {
	if !p.Valid() {
		return
	}
	s.mu.Lock()
	rec, ok := s.records[id]
	if !ok || rec.status.State != domain.StatePending {
		s.mu.Unlock()
		return
	}
	rec.task.Priority = p
	if s.queue.UpdatePriority(id, p) {
		s.scheduleProcessingLocked()
	}
	s.mu.Unlock()
}

// Pause stops scheduling without clearing the queue.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	if s.paused || s.disposed {
		s.mu.Unlock()
		return
	}
	s.paused = true
	if s.cancelPass != nil {
		s.cancelPass()
		s.cancelPass = nil
	}
	s.mu.Unlock()
	s.bus.Publish(domain.Event{Kind: domain.EventSchedulerPaused})
	log.Info().Msg("scheduler paused")
}

// Resume restarts scheduling.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	if !s.paused || s.disposed {
		s.mu.Unlock()
		return
	}
	s.paused = false
	s.scheduleProcessingLocked()
	s.mu.Unlock()
	s.bus.Publish(domain.Event{Kind: domain.EventSchedulerResumed})
	log.Info().Msg("scheduler resumed")
}

// ForceHydrate executes a boundary immediately, bypassing trigger and
// priority ordering. Terminal or in-flight boundaries are left alone.
func (s *Scheduler) ForceHydrate(id domain.BoundaryID) error {
	s.mu.Lock()
	rec, ok := s.records[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("force hydrate %s: %w", id, ErrNotRegistered)
	}
	if rec.status.State != domain.StatePending {
		s.mu.Unlock()
		return nil
	}
	s.queue.Remove(id)
	task := rec.task
	s.mu.Unlock()

	s.execute(task)
	return nil
}

// ForceHydrateAll executes every still-pending boundary sequentially
// in priority order, including manual boundaries that were never
// enqueued.
func (s *Scheduler) ForceHydrateAll() {
	for {
		s.mu.Lock()
		var best *record
		for _, rec := range s.records {
			if rec.status.State != domain.StatePending {
				continue
			}
			if best == nil || taskLess(rec.task, best.task) {
				best = rec
			}
		}
		if best == nil {
			s.mu.Unlock()
			return
		}
		s.queue.Remove(best.task.ID)
		task := best.task
		s.mu.Unlock()

		s.execute(task)
	}
}

func taskLess(a, b domain.Task) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return a.RegisteredAt.Before(b.RegisteredAt)
}

// Subscribe registers a lifecycle event handler for one kind.
func (s *Scheduler) Subscribe(kind domain.EventKind, h events.Handler) (cancel func()) {
	return s.bus.Subscribe(kind, h)
}

// SubscribeAll registers a handler for every lifecycle event.
func (s *Scheduler) SubscribeAll(h events.Handler) (cancel func()) {
	return s.bus.SubscribeAll(h)
}

// MetricsReport combines the per-state counts with the collector's
// duration statistics.
type MetricsReport struct {
	Counts StateCounts `json:"counts"`
	metrics.Snapshot
}

func (s *Scheduler) Metrics() MetricsReport {
	return MetricsReport{
		Counts:   s.GetState().Counts,
		Snapshot: s.collector.Snapshot(),
	}
}

// CapturedCount exposes the replay buffer depth for a boundary.
func (s *Scheduler) CapturedCount(id domain.BoundaryID) int {
	return s.replay.CapturedCount(id)
}

// Dispose stops the loop, cancels every pending trigger and timer,
// clears capture buffers, and releases subscriptions. The scheduler is
// unusable afterwards.
func (s *Scheduler) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	if s.cancelPass != nil {
		s.cancelPass()
		s.cancelPass = nil
	}
	for _, rec := range s.records {
		rec.cancelTriggers()
	}
	s.queue.Clear()
	s.mu.Unlock()

	s.cancelCtx()
	s.replay.Dispose()
	log.Info().Msg("scheduler disposed")
}

// maybeMarkSettledLocked records the fully-settled milestone the first
// time every registered boundary is terminal. Caller holds s.mu.
func (s *Scheduler) maybeMarkSettledLocked() {
	if len(s.records) == 0 {
		return
	}
	for _, rec := range s.records {
		if !rec.status.State.Terminal() {
			return
		}
	}
	s.collector.MarkAllSettled(time.Since(s.startedAt))
}

// flushOverflow publishes queue_overflow events collected during an
// insert. Caller must not hold s.mu.
func (s *Scheduler) flushOverflow() {
	s.mu.Lock()
	dropped := s.overflowed
	s.overflowed = nil
	s.mu.Unlock()
	for _, t := range dropped {
		s.bus.Publish(domain.Event{
			Kind:     domain.EventQueueOverflow,
			Boundary: t.ID,
			Priority: t.Priority,
			Trigger:  t.Trigger,
		})
		log.Warn().Str("boundary", t.ID.String()).Msg("task dropped, queue at capacity")
	}
}

var (
	defaultOnce sync.Once
	defaultInst *Scheduler
)

// Default returns a lazily constructed process-wide scheduler over the
// production host loop. Prefer constructing your own with New.
func Default() *Scheduler {
	defaultOnce.Do(func() {
		defaultInst = New(DefaultConfig(), Ports{}, nil)
	})
	return defaultInst
}
