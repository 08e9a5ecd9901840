// Package replay preserves user input aimed at not-yet-hydrated
// boundaries. Each boundary gets a bounded capture buffer that evicts
// by age and by size; once the boundary hydrates, buffered interactions
// are re-dispatched in order against re-resolved targets.
package replay

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"

	"hydroflow/internal/domain"
)

const maxClassTokens = 3

// Config bounds the capture buffers and paces replay.
type Config struct {
	// MaxEntries is the per-boundary buffer size; oldest entries drop
	// first when exceeded.
	MaxEntries int

	// MaxAge evicts entries older than this at capture and drain time.
	MaxAge time.Duration

	// ReplayDelay is the pause between dispatched events, giving the
	// host a chance to settle state between them.
	ReplayDelay time.Duration
}

// DefaultConfig matches the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxEntries:  50,
		MaxAge:      30 * time.Second,
		ReplayDelay: 10 * time.Millisecond,
	}
}

const resolveCacheSize = 128

type buffer struct {
	entries   []domain.CapturedInteraction
	capturing bool
	detach    []func()
}

// Manager owns all per-boundary capture buffers. Safe for use from the
// scheduler's serialized entry points; an internal lock also protects
// against listener callbacks arriving from host goroutines.
type Manager struct {
	cfg      Config
	resolver domain.TargetResolver

	mu      sync.Mutex
	buffers map[domain.BoundaryID]*buffer

	cache *lru.Cache[string, domain.Target]
	now   func() time.Time
}

// NewManager builds a manager over the given resolver. A nil resolver
// makes every replay entry unresolvable (counted, skipped).
func NewManager(cfg Config, resolver domain.TargetResolver) *Manager {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultConfig().MaxEntries
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultConfig().MaxAge
	}
	cache, _ := lru.New[string, domain.Target](resolveCacheSize)
	return &Manager{
		cfg:      cfg,
		resolver: resolver,
		buffers:  make(map[domain.BoundaryID]*buffer),
		cache:    cache,
		now:      time.Now,
	}
}

// StartCapture attaches capture listeners for every interaction kind to
// the boundary's target. Re-starting an active capture is a no-op.
func (m *Manager) StartCapture(id domain.BoundaryID, t domain.Target) {
	if t == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	b := m.buffers[id]
	if b == nil {
		b = &buffer{}
		m.buffers[id] = b
	}
	if b.capturing {
		return
	}
	b.capturing = true
	for _, kind := range domain.InteractionKinds {
		kind := kind
		cancel := t.Listen(kind, func(in domain.Interaction) {
			in.Kind = kind
			m.capture(id, t, in)
		})
		b.detach = append(b.detach, cancel)
	}
	log.Debug().Str("boundary", id.String()).Msg("interaction capture started")
}

// StopCapture detaches listeners but keeps any buffered entries.
func (m *Manager) StopCapture(id domain.BoundaryID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopCaptureLocked(id)
}

func (m *Manager) stopCaptureLocked(id domain.BoundaryID) {
	b := m.buffers[id]
	if b == nil || !b.capturing {
		return
	}
	b.capturing = false
	for _, detach := range b.detach {
		detach()
	}
	b.detach = nil
}

// Capture buffers one interaction against the boundary, deriving the
// re-targeting descriptor from the target. Exposed for hosts that feed
// events directly rather than through Listen.
func (m *Manager) Capture(id domain.BoundaryID, t domain.Target, in domain.Interaction) {
	m.capture(id, t, in)
}

func (m *Manager) capture(id domain.BoundaryID, t domain.Target, in domain.Interaction) {
	entry := domain.CapturedInteraction{
		ID:          "cap_" + uuid.NewString(),
		Interaction: in,
		Descriptor:  DescribeTarget(t),
		CapturedAt:  m.now(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	b := m.buffers[id]
	if b == nil {
		b = &buffer{}
		m.buffers[id] = b
	}
	b.entries = m.evictExpired(b.entries)
	if len(b.entries) >= m.cfg.MaxEntries {
		b.entries = b.entries[len(b.entries)-m.cfg.MaxEntries+1:]
	}
	b.entries = append(b.entries, entry)
}

func (m *Manager) evictExpired(entries []domain.CapturedInteraction) []domain.CapturedInteraction {
	cutoff := m.now().Add(-m.cfg.MaxAge)
	i := 0
	for i < len(entries) && entries[i].CapturedAt.Before(cutoff) {
		i++
	}
	return entries[i:]
}

// CapturedCount returns the number of buffered interactions for the
// boundary.
func (m *Manager) CapturedCount(id domain.BoundaryID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.buffers[id]
	if b == nil {
		return 0
	}
	return len(b.entries)
}

// Replay stops capture, atomically drains the boundary's buffer, then
// re-dispatches each entry in original order against its re-resolved
// target. Entries whose target cannot be resolved are skipped and
// counted as not replayed. Returns the number replayed.
func (m *Manager) Replay(ctx context.Context, id domain.BoundaryID) int {
	m.mu.Lock()
	m.stopCaptureLocked(id)
	b := m.buffers[id]
	var drained []domain.CapturedInteraction
	if b != nil {
		drained = m.evictExpired(b.entries)
		b.entries = nil
	}
	m.mu.Unlock()

	replayed := 0
	for i, entry := range drained {
		target, ok := m.resolve(entry.Descriptor)
		if !ok {
			log.Warn().
				Str("boundary", id.String()).
				Str("selector", entry.Descriptor.Selector()).
				Str("kind", string(entry.Kind)).
				Msg("replay target not found, skipping")
			continue
		}
		target.Dispatch(entry.Interaction)
		replayed++

		if m.cfg.ReplayDelay > 0 && i < len(drained)-1 {
			select {
			case <-ctx.Done():
				m.cache.Purge()
				return replayed
			case <-time.After(m.cfg.ReplayDelay):
			}
		}
	}
	m.cache.Purge()
	if len(drained) > 0 {
		log.Debug().
			Str("boundary", id.String()).
			Int("replayed", replayed).
			Int("captured", len(drained)).
			Msg("interaction replay finished")
	}
	return replayed
}

func (m *Manager) resolve(d domain.TargetDescriptor) (domain.Target, bool) {
	if m.resolver == nil || d.Empty() {
		return nil, false
	}
	key := d.Selector()
	if t, ok := m.cache.Get(key); ok {
		return t, true
	}
	t, ok := m.resolver.Resolve(d)
	if ok {
		m.cache.Add(key, t)
	}
	return t, ok
}

// Clear discards the boundary's buffer without replay and stops
// capture. Used on hydration error and on unregistration.
func (m *Manager) Clear(id domain.BoundaryID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopCaptureLocked(id)
	delete(m.buffers, id)
}

// Dispose stops all captures and drops every buffer.
func (m *Manager) Dispose() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.buffers {
		m.stopCaptureLocked(id)
	}
	m.buffers = make(map[domain.BoundaryID]*buffer)
	m.cache.Purge()
}

// DescribeTarget builds the re-targeting descriptor for a target,
// preferring a stable id attribute, then a test identifier, then the
// hydration marker attribute, then the structural path.
func DescribeTarget(t domain.Target) domain.TargetDescriptor {
	if t == nil {
		return domain.TargetDescriptor{}
	}
	if v, ok := t.Attribute("id"); ok && v != "" {
		return domain.TargetDescriptor{ID: v}
	}
	if v, ok := t.Attribute("data-testid"); ok && v != "" {
		return domain.TargetDescriptor{TestID: v}
	}
	if v, ok := t.Attribute("data-hydration-target"); ok && v != "" {
		return domain.TargetDescriptor{Marker: v}
	}
	return domain.TargetDescriptor{Path: clipPath(t.Path())}
}

// clipPath trims class lists to a few tokens per segment so selectors
// stay stable across cosmetic class churn.
func clipPath(path []domain.PathSegment) []domain.PathSegment {
	out := make([]domain.PathSegment, len(path))
	for i, seg := range path {
		if len(seg.Classes) > maxClassTokens {
			seg.Classes = seg.Classes[:maxClassTokens]
		}
		out[i] = seg
	}
	return out
}
