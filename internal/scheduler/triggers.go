package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"hydroflow/internal/domain"
)

// interactionTriggerKinds are the one-shot listener kinds that promote
// and enqueue an interaction-triggered boundary.
var interactionTriggerKinds = []domain.InteractionKind{
	domain.InteractionClick,
	domain.InteractionFocus,
	domain.InteractionTouchStart,
}

// wireTrigger sets up the registration's trigger subscriptions and the
// optional deadline timer. Called once per registration, after the
// record is in the table.
func (s *Scheduler) wireTrigger(rec *record) error {
	t := rec.task

	switch t.Trigger {
	case domain.TriggerImmediate, domain.TriggerIdle:
		// Idle-ness affects when the loop runs, not heap position.
		s.enqueue(t.ID)

	case domain.TriggerVisible:
		s.wireVisible(rec)

	case domain.TriggerInteraction:
		s.wireInteraction(rec)

	case domain.TriggerMedia:
		s.wireMedia(rec)

	case domain.TriggerScheduled:
		if err := s.wireScheduled(rec); err != nil {
			return err
		}

	case domain.TriggerManual:
		// Only an explicit force call enqueues it.
	}

	if t.Deadline > 0 {
		id := t.ID
		timer := time.AfterFunc(t.Deadline, func() {
			log.Debug().Str("boundary", id.String()).Msg("deadline elapsed, force enqueueing")
			s.enqueue(id)
		})
		s.addCancel(rec, func() { timer.Stop() })
	}
	return nil
}

func (s *Scheduler) wireVisible(rec *record) {
	id := rec.task.ID
	cancel := s.ports.Visibility.Observe(rec.task.Target, s.cfg.VisibilityThreshold, func() {
		s.enqueue(id)
	})
	s.addCancel(rec, cancel)
}

func (s *Scheduler) wireInteraction(rec *record) {
	id := rec.task.ID
	target := rec.task.Target

	// Capture must attach before the trigger listeners so the firing
	// interaction itself lands in the buffer.
	s.replay.StartCapture(id, target)
	s.addCancel(rec, func() { s.replay.StopCapture(id) })

	var once sync.Once
	fire := func(domain.Interaction) {
		once.Do(func() {
			s.promote(id, domain.PriorityCritical)
			s.enqueue(id)
		})
	}
	if target != nil {
		for _, kind := range interactionTriggerKinds {
			cancel := target.Listen(kind, fire)
			s.addCancel(rec, cancel)
		}
	}

	// Visibility fallback so an untouched boundary still hydrates.
	s.wireVisible(rec)
}

func (s *Scheduler) wireMedia(rec *record) {
	id := rec.task.ID
	query := rec.task.MediaQuery
	if s.ports.Media.Evaluate(query) {
		s.enqueue(id)
		return
	}
	var once sync.Once
	cancel := s.ports.Media.Subscribe(query, func(matches bool) {
		if !matches {
			return
		}
		once.Do(func() { s.enqueue(id) })
	})
	s.addCancel(rec, cancel)
}

// wireScheduled enqueues at the cron expression's next occurrence.
// One-shot: a boundary hydrates once, so later occurrences are moot.
func (s *Scheduler) wireScheduled(rec *record) error {
	schedule, err := cron.ParseStandard(rec.task.CronExpr)
	if err != nil {
		return fmt.Errorf("boundary %s: invalid cron expression %q: %w", rec.task.ID, rec.task.CronExpr, err)
	}
	id := rec.task.ID
	next := schedule.Next(time.Now())
	timer := time.AfterFunc(time.Until(next), func() {
		s.enqueue(id)
	})
	s.addCancel(rec, func() { timer.Stop() })
	log.Debug().
		Str("boundary", id.String()).
		Time("next", next).
		Msg("scheduled trigger armed")
	return nil
}

func (s *Scheduler) addCancel(rec *record, cancel func()) {
	if cancel == nil {
		return
	}
	s.mu.Lock()
	rec.cancels = append(rec.cancels, cancel)
	s.mu.Unlock()
}

// promote raises a pending boundary's priority. Promotions take effect
// before the next dequeue, never retroactively.
func (s *Scheduler) promote(id domain.BoundaryID, p domain.Priority) {
	s.mu.Lock()
	rec, ok := s.records[id]
	if ok && rec.status.State == domain.StatePending && p < rec.task.Priority {
		rec.task.Priority = p
		s.queue.UpdatePriority(id, p)
	}
	s.mu.Unlock()
}

// enqueue puts a still-pending boundary into the queue and kicks the
// loop. Interaction capture stops here: the buffer's contents are
// frozen once the boundary is on its way to execution.
func (s *Scheduler) enqueue(id domain.BoundaryID) {
	s.mu.Lock()
	rec, ok := s.records[id]
	if !ok || s.disposed || rec.status.State != domain.StatePending {
		s.mu.Unlock()
		return
	}
	inserted := s.queue.Insert(rec.task)
	if inserted {
		s.scheduleProcessingLocked()
	}
	s.mu.Unlock()

	s.replay.StopCapture(id)
	s.flushOverflow()
}
