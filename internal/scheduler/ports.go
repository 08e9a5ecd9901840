package scheduler

import (
	"time"

	"hydroflow/internal/domain"
)

// IdleDeadline reports how much idle budget remains for the current
// idle callback, mirroring the host's deadline object.
type IdleDeadline interface {
	TimeRemaining() time.Duration
	DidTimeout() bool
}

// FrameScheduler runs a callback on the next coordinated frame. The
// returned cancel revokes a not-yet-fired request. Implementations
// must not invoke fn synchronously from Request: the scheduler may
// hold internal locks at request time.
type FrameScheduler interface {
	Request(fn func()) (cancel func())
}

// IdleScheduler runs a callback when the host is idle, passing the
// remaining-deadline handle.
type IdleScheduler interface {
	Request(fn func(IdleDeadline)) (cancel func())
}

// VisibilityObserver fires once when the target's visible fraction
// crosses the threshold.
type VisibilityObserver interface {
	Observe(t domain.Target, threshold float64, fn func()) (cancel func())
}

// MediaQuerier evaluates declarative condition queries and notifies on
// changes.
type MediaQuerier interface {
	Evaluate(query string) bool
	Subscribe(query string, fn func(matches bool)) (cancel func())
}

// Ports bundles the host scheduling primitives the scheduler depends
// on. Zero fields are replaced with production defaults by New.
type Ports struct {
	Frame      FrameScheduler
	Idle       IdleScheduler
	Visibility VisibilityObserver
	Media      MediaQuerier
}

func (p Ports) withDefaults() Ports {
	if p.Frame == nil {
		p.Frame = NewFrameTicker(defaultFrameInterval)
	}
	if p.Idle == nil {
		p.Idle = NewIdleTimer(defaultIdleDelay, defaultIdleBudget)
	}
	if p.Visibility == nil {
		p.Visibility = NopVisibility{}
	}
	if p.Media == nil {
		p.Media = NewStaticMedia(nil)
	}
	return p
}
