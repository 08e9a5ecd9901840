package scheduler

import (
	"sync"
	"time"

	"hydroflow/internal/domain"
)

const (
	defaultFrameInterval = 16 * time.Millisecond
	defaultIdleDelay     = 4 * time.Millisecond
	defaultIdleBudget    = 50 * time.Millisecond
)

// frameTicker is the production FrameScheduler: each request fires on
// its own timer at the configured frame cadence.
type frameTicker struct {
	interval time.Duration
}

func NewFrameTicker(interval time.Duration) FrameScheduler {
	if interval <= 0 {
		interval = defaultFrameInterval
	}
	return &frameTicker{interval: interval}
}

func (f *frameTicker) Request(fn func()) (cancel func()) {
	t := time.AfterFunc(f.interval, fn)
	return func() { t.Stop() }
}

// idleTimer is the production IdleScheduler: the callback runs after a
// short delay with a fixed idle budget.
type idleTimer struct {
	delay  time.Duration
	budget time.Duration
}

func NewIdleTimer(delay, budget time.Duration) IdleScheduler {
	if budget <= 0 {
		budget = defaultIdleBudget
	}
	return &idleTimer{delay: delay, budget: budget}
}

func (i *idleTimer) Request(fn func(IdleDeadline)) (cancel func()) {
	t := time.AfterFunc(i.delay, func() {
		fn(&timedDeadline{expires: time.Now().Add(i.budget)})
	})
	return func() { t.Stop() }
}

type timedDeadline struct {
	expires time.Time
}

func (d *timedDeadline) TimeRemaining() time.Duration {
	r := time.Until(d.expires)
	if r < 0 {
		return 0
	}
	return r
}

func (d *timedDeadline) DidTimeout() bool { return false }

// NopVisibility never reports a crossing. Hosts with a real viewport
// supply their own observer.
type NopVisibility struct{}

func (NopVisibility) Observe(domain.Target, float64, func()) (cancel func()) {
	return func() {}
}

// StaticMedia is a map-backed MediaQuerier. Set flips a query's value
// and notifies subscribers, which makes it usable both as a production
// stand-in and as a test double.
type StaticMedia struct {
	mu      sync.Mutex
	matches map[string]bool
	subs    map[string]map[int]func(bool)
	nextID  int
}

func NewStaticMedia(initial map[string]bool) *StaticMedia {
	m := &StaticMedia{
		matches: make(map[string]bool),
		subs:    make(map[string]map[int]func(bool)),
	}
	for q, v := range initial {
		m.matches[q] = v
	}
	return m
}

func (m *StaticMedia) Evaluate(query string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.matches[query]
}

func (m *StaticMedia) Subscribe(query string, fn func(bool)) (cancel func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	set, ok := m.subs[query]
	if !ok {
		set = make(map[int]func(bool))
		m.subs[query] = set
	}
	set[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(set, id)
	}
}

// Set updates a query's value and notifies its subscribers when the
// value changed.
func (m *StaticMedia) Set(query string, matches bool) {
	m.mu.Lock()
	if m.matches[query] == matches {
		m.mu.Unlock()
		return
	}
	m.matches[query] = matches
	fns := make([]func(bool), 0, len(m.subs[query]))
	for _, fn := range m.subs[query] {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(matches)
	}
}
