// Package events is the scheduler's lifecycle event bus: per-kind
// handler sets with panic isolation, so one faulty subscriber never
// breaks delivery to the rest.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"hydroflow/internal/domain"
)

// Handler receives published events. Handlers run synchronously on the
// publishing goroutine and must not block.
type Handler func(domain.Event)

type Bus struct {
	mu     sync.RWMutex
	nextID int
	byKind map[domain.EventKind]map[int]Handler
	all    map[int]Handler
}

func NewBus() *Bus {
	return &Bus{
		byKind: make(map[domain.EventKind]map[int]Handler),
		all:    make(map[int]Handler),
	}
}

// Subscribe registers a handler for one event kind and returns an
// unsubscribe function.
func (b *Bus) Subscribe(kind domain.EventKind, h Handler) (cancel func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	set, ok := b.byKind[kind]
	if !ok {
		set = make(map[int]Handler)
		b.byKind[kind] = set
	}
	set[id] = h
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(set, id)
	}
}

// SubscribeAll registers a handler for every event kind.
func (b *Bus) SubscribeAll(h Handler) (cancel func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.all[id] = h
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.all, id)
	}
}

// Publish delivers the event to all matching handlers. Missing ID and
// timestamp fields are filled in.
func (b *Bus) Publish(evt domain.Event) {
	if evt.ID == "" {
		evt.ID = "evt_" + uuid.NewString()
	}
	if evt.At.IsZero() {
		evt.At = time.Now()
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.byKind[evt.Kind])+len(b.all))
	for _, h := range b.byKind[evt.Kind] {
		handlers = append(handlers, h)
	}
	for _, h := range b.all {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		deliver(h, evt)
	}
}

func deliver(h Handler, evt domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("event", string(evt.Kind)).
				Str("boundary", evt.Boundary.String()).
				Msg("event handler panicked")
		}
	}()
	h(evt)
}
