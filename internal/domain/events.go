package domain

import "time"

// EventKind names one scheduler lifecycle event.
type EventKind string

const (
	EventBoundaryRegistered   EventKind = "boundary_registered"
	EventBoundaryUnregistered EventKind = "boundary_unregistered"
	EventHydrationStart       EventKind = "hydration_start"
	EventHydrationComplete    EventKind = "hydration_complete"
	EventHydrationError       EventKind = "hydration_error"
	EventSchedulerPaused      EventKind = "scheduler_paused"
	EventSchedulerResumed     EventKind = "scheduler_resumed"
	EventQueueOverflow        EventKind = "queue_overflow"
)

// Event is one timestamped lifecycle notification. Duration, Replayed
// and Err are only set for completion/error events.
type Event struct {
	ID       string         `json:"id"`
	Kind     EventKind      `json:"kind"`
	Boundary BoundaryID     `json:"boundary,omitempty"`
	Priority Priority       `json:"priority"`
	Trigger  TriggerKind    `json:"trigger,omitempty"`
	At       time.Time      `json:"at"`
	Duration time.Duration  `json:"duration,omitempty"`
	Replayed int            `json:"replayed,omitempty"`
	Err      string         `json:"error,omitempty"`
	State    HydrationState `json:"state,omitempty"`
}
