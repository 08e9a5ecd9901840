package scheduler

import (
	"fmt"
	"runtime"
	"time"

	"github.com/rs/zerolog/log"

	"hydroflow/internal/domain"
	"hydroflow/internal/metrics"
)

// scheduleProcessingLocked decides how the next pass runs: on the
// frame callback for critical..low work, on the idle callback when the
// best queued task is idle-tier and idle scheduling is enabled. Any
// previously scheduled pass is cancelled first. Caller holds s.mu.
func (s *Scheduler) scheduleProcessingLocked() {
	if s.paused || s.disposed || s.processing || s.queue.Len() == 0 {
		return
	}
	if s.cancelPass != nil {
		s.cancelPass()
		s.cancelPass = nil
	}
	best, _ := s.queue.Peek()
	if best.Priority == domain.PriorityIdle && s.cfg.IdleEnabled {
		s.cancelPass = s.ports.Idle.Request(s.idlePass)
	} else {
		s.cancelPass = s.ports.Frame.Request(s.framePass)
	}
}

// beginPass flips the re-entrancy guard. Returns false when another
// pass is active or the scheduler cannot run.
func (s *Scheduler) beginPass() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.processing || s.paused || s.disposed {
		return false
	}
	s.processing = true
	s.cancelPass = nil
	return true
}

func (s *Scheduler) endPass() {
	s.mu.Lock()
	s.processing = false
	if s.queue.Len() > 0 {
		s.scheduleProcessingLocked()
	} else {
		s.maybeMarkSettledLocked()
	}
	s.mu.Unlock()
}

// framePass drains the queue until it empties, the per-pass task cap
// is hit, or the frame budget elapses, yielding to the host every
// YieldEvery tasks.
func (s *Scheduler) framePass() {
	if !s.beginPass() {
		return
	}
	defer s.endPass()

	start := time.Now()
	n := 0
	for n < s.cfg.MaxTasksPerFrame && time.Since(start) < s.cfg.FrameBudget {
		s.mu.Lock()
		task, ok := s.queue.ExtractMin()
		s.mu.Unlock()
		if !ok {
			return
		}
		s.execute(task)
		n++
		if s.cfg.YieldEvery > 0 && n%s.cfg.YieldEvery == 0 {
			runtime.Gosched()
		}
	}
}

// idlePass drains the queue while the host reports remaining idle
// time, re-checking the deadline between tasks.
func (s *Scheduler) idlePass(deadline IdleDeadline) {
	if !s.beginPass() {
		return
	}
	defer s.endPass()

	for deadline.TimeRemaining() > 0 || deadline.DidTimeout() {
		s.mu.Lock()
		task, ok := s.queue.ExtractMin()
		s.mu.Unlock()
		if !ok {
			return
		}
		s.execute(task)
	}
}

// execute runs one task's single hydration attempt: transition to
// hydrating, invoke the action, then settle into hydrated (replaying
// captured interactions) or error (discarding them). A failure never
// propagates past the boundary's own status.
func (s *Scheduler) execute(t domain.Task) {
	s.mu.Lock()
	rec, ok := s.records[t.ID]
	if !ok || rec.status.State != domain.StatePending {
		s.mu.Unlock()
		return
	}
	rec.cancelTriggers()
	start := time.Now()
	rec.status = domain.Status{
		State:     domain.StateHydrating,
		StartedAt: start,
		Attempts:  rec.status.Attempts + 1,
	}
	task := rec.task
	s.mu.Unlock()

	s.bus.Publish(domain.Event{
		Kind:     domain.EventHydrationStart,
		Boundary: task.ID,
		Priority: task.Priority,
		Trigger:  task.Trigger,
		State:    domain.StateHydrating,
	})

	err := s.runAction(task)
	duration := time.Since(start)

	if err != nil {
		s.settleError(task, start, duration, err)
		return
	}
	s.settleHydrated(task, start, duration)
}

// runAction invokes the task action, converting a panic into an error
// so a single misbehaving boundary cannot take down the loop.
func (s *Scheduler) runAction(t domain.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("hydration action panicked: %v", r)
		}
	}()
	return t.Action(s.ctx)
}

func (s *Scheduler) settleHydrated(t domain.Task, start time.Time, duration time.Duration) {
	s.mu.Lock()
	rec, ok := s.records[t.ID]
	if ok {
		rec.status = domain.Status{
			State:       domain.StateHydrated,
			StartedAt:   start,
			CompletedAt: start.Add(duration),
			Duration:    duration,
			Attempts:    rec.status.Attempts,
		}
	}
	s.maybeMarkSettledLocked()
	s.mu.Unlock()

	// The transition lands before replay; pollers during the
	// inter-event delay must already see hydrated. The Replayed count
	// is patched into the snapshot once the drain finishes.
	replayed := s.replay.Replay(s.ctx, t.ID)
	if replayed > 0 {
		s.mu.Lock()
		if rec, ok := s.records[t.ID]; ok {
			st := rec.status
			st.Replayed = replayed
			rec.status = st
		}
		s.mu.Unlock()
	}

	s.collector.Observe(metrics.Record{
		Boundary: t.ID,
		Priority: t.Priority,
		Duration: duration,
		At:       start,
	})
	if replayed > 0 {
		s.collector.AddReplayed(replayed)
	}
	if t.Meta.AboveTheFold {
		s.collector.MarkFirstAboveFold(time.Since(s.startedAt))
	}

	s.invokeCallback(t.ID, func() {
		if t.OnHydrated != nil {
			t.OnHydrated()
		}
	})
	s.bus.Publish(domain.Event{
		Kind:     domain.EventHydrationComplete,
		Boundary: t.ID,
		Priority: t.Priority,
		Trigger:  t.Trigger,
		Duration: duration,
		Replayed: replayed,
		State:    domain.StateHydrated,
	})
	log.Debug().
		Str("boundary", t.ID.String()).
		Dur("duration", duration).
		Int("replayed", replayed).
		Msg("boundary hydrated")
}

func (s *Scheduler) settleError(t domain.Task, start time.Time, duration time.Duration, actionErr error) {
	s.replay.Clear(t.ID)

	s.mu.Lock()
	rec, ok := s.records[t.ID]
	if ok {
		rec.status = domain.Status{
			State:       domain.StateError,
			StartedAt:   start,
			CompletedAt: start.Add(duration),
			Duration:    duration,
			Err:         actionErr,
			Attempts:    rec.status.Attempts,
		}
	}
	s.maybeMarkSettledLocked()
	s.mu.Unlock()

	s.collector.Observe(metrics.Record{
		Boundary: t.ID,
		Priority: t.Priority,
		Duration: duration,
		Failed:   true,
		At:       start,
	})

	s.invokeCallback(t.ID, func() {
		if t.OnError != nil {
			t.OnError(actionErr)
		}
	})
	s.bus.Publish(domain.Event{
		Kind:     domain.EventHydrationError,
		Boundary: t.ID,
		Priority: t.Priority,
		Trigger:  t.Trigger,
		Duration: duration,
		Err:      actionErr.Error(),
		State:    domain.StateError,
	})
	log.Warn().
		Err(actionErr).
		Str("boundary", t.ID.String()).
		Dur("duration", duration).
		Msg("boundary hydration failed")
}

// invokeCallback shields the scheduler from panics in caller-supplied
// completion callbacks.
func (s *Scheduler) invokeCallback(id domain.BoundaryID, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("boundary", id.String()).
				Msg("boundary callback panicked")
		}
	}()
	fn()
}
