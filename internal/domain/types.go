package domain

import (
	"context"
	"errors"
	"strings"
	"time"
)

// BoundaryID identifies one registered hydration boundary. Construct
// through ParseBoundaryID so raw strings cannot leak in unchecked.
type BoundaryID string

var ErrInvalidBoundaryID = errors.New("boundary id must be non-empty and contain no whitespace")

func ParseBoundaryID(s string) (BoundaryID, error) {
	if s == "" || strings.ContainsAny(s, " \t\n\r") {
		return "", ErrInvalidBoundaryID
	}
	return BoundaryID(s), nil
}

func (id BoundaryID) String() string { return string(id) }

// Priority orders pending boundaries. Lower is better.
type Priority int

const (
	PriorityCritical Priority = iota
	PriorityHigh
	PriorityNormal
	PriorityLow
	PriorityIdle
)

func (p Priority) Valid() bool { return p >= PriorityCritical && p <= PriorityIdle }

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	case PriorityIdle:
		return "idle"
	}
	return "unknown"
}

// TriggerKind selects the condition that enqueues a pending boundary.
type TriggerKind string

const (
	TriggerImmediate   TriggerKind = "immediate"
	TriggerVisible     TriggerKind = "visible"
	TriggerInteraction TriggerKind = "interaction"
	TriggerIdle        TriggerKind = "idle"
	TriggerManual      TriggerKind = "manual"
	TriggerMedia       TriggerKind = "media"
	TriggerScheduled   TriggerKind = "scheduled"
)

func (k TriggerKind) Valid() bool {
	switch k {
	case TriggerImmediate, TriggerVisible, TriggerInteraction,
		TriggerIdle, TriggerManual, TriggerMedia, TriggerScheduled:
		return true
	}
	return false
}

// HydrationState is the per-boundary lifecycle state. The only legal
// transitions are pending→hydrating, hydrating→hydrated,
// hydrating→error, and pending→skipped.
type HydrationState string

const (
	StatePending   HydrationState = "pending"
	StateHydrating HydrationState = "hydrating"
	StateHydrated  HydrationState = "hydrated"
	StateError     HydrationState = "error"
	StateSkipped   HydrationState = "skipped"
)

// Terminal reports whether no further transition can leave the state.
func (s HydrationState) Terminal() bool {
	return s == StateHydrated || s == StateError || s == StateSkipped
}

// Action is a boundary's unit of work. It runs at most once.
type Action func(ctx context.Context) error

// Metadata carries optional descriptive fields for a boundary.
type Metadata struct {
	Name         string
	AboveTheFold bool
	Tags         []string
}

// Task is one registered unit of deferred activation work.
type Task struct {
	ID       BoundaryID
	Priority Priority
	Trigger  TriggerKind
	Action   Action

	OnHydrated func()
	OnError    func(error)

	RegisteredAt time.Time

	// Deadline, when non-zero, force-enqueues the boundary after the
	// given duration regardless of the configured trigger.
	Deadline time.Duration

	// CronExpr is required for TriggerScheduled: the boundary is
	// enqueued at the expression's next occurrence.
	CronExpr string

	// MediaQuery is required for TriggerMedia.
	MediaQuery string

	// Target is the render-target handle used by visibility and
	// interaction triggers and by interaction capture.
	Target Target

	// NonInteractive marks the boundary skipped at registration; it
	// never hydrates.
	NonInteractive bool

	// CostHint is an optional caller estimate of the action's cost in
	// milliseconds. Informational only.
	CostHint int

	Meta Metadata
}

// Status is an immutable snapshot of a boundary's progress. The
// scheduler replaces the whole value on every transition; callers never
// hold a live reference.
type Status struct {
	State       HydrationState
	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration
	Err         error
	Attempts    int
	// Replayed counts interactions re-dispatched after hydration.
	Replayed int
}
