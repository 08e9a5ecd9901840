// Package metrics aggregates completed-hydration records into summary
// statistics: counts, mean and 95th-percentile duration over a bounded
// trailing sample, replay totals, and the two milestone timestamps.
package metrics

import (
	"sort"
	"sync"
	"time"

	"hydroflow/internal/domain"
)

// SampleCap is the hard cap on retained duration records; oldest are
// dropped first.
const SampleCap = 1000

// Record is one finished hydration attempt.
type Record struct {
	Boundary domain.BoundaryID
	Priority domain.Priority
	Duration time.Duration
	Failed   bool
	At       time.Time
}

// Snapshot is the on-demand metrics view.
type Snapshot struct {
	Samples       int           `json:"samples"`
	Failures      int           `json:"failures"`
	MeanDuration  time.Duration `json:"mean_duration"`
	P95Duration   time.Duration `json:"p95_duration"`
	ReplayedTotal int           `json:"replayed_total"`

	// TimeToAllSettled is the time from scheduler start until every
	// registered boundary first reached a terminal state. Zero until
	// that happens.
	TimeToAllSettled time.Duration `json:"time_to_all_settled"`

	// TimeToFirstAboveFold is the time until the first boundary tagged
	// above-the-fold hydrated. Zero until that happens.
	TimeToFirstAboveFold time.Duration `json:"time_to_first_above_fold"`
}

type Collector struct {
	mu            sync.Mutex
	samples       []Record
	failures      int
	replayedTotal int
	allSettled    time.Duration
	aboveFold     time.Duration
}

func NewCollector() *Collector { return &Collector{} }

// Observe records one finished attempt, evicting the oldest sample
// past the cap.
func (c *Collector) Observe(r Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r.Failed {
		c.failures++
	}
	c.samples = append(c.samples, r)
	if len(c.samples) > SampleCap {
		c.samples = c.samples[len(c.samples)-SampleCap:]
	}
}

// AddReplayed adds to the total replayed-interaction count.
func (c *Collector) AddReplayed(n int) {
	c.mu.Lock()
	c.replayedTotal += n
	c.mu.Unlock()
}

// MarkAllSettled records the fully-settled milestone. Only the first
// call takes effect.
func (c *Collector) MarkAllSettled(sinceStart time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.allSettled == 0 {
		c.allSettled = sinceStart
	}
}

// MarkFirstAboveFold records the above-the-fold milestone. Only the
// first call takes effect.
func (c *Collector) MarkFirstAboveFold(sinceStart time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.aboveFold == 0 {
		c.aboveFold = sinceStart
	}
}

func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{
		Samples:              len(c.samples),
		Failures:             c.failures,
		ReplayedTotal:        c.replayedTotal,
		TimeToAllSettled:     c.allSettled,
		TimeToFirstAboveFold: c.aboveFold,
	}
	if len(c.samples) == 0 {
		return s
	}

	durs := make([]time.Duration, len(c.samples))
	var sum time.Duration
	for i, r := range c.samples {
		durs[i] = r.Duration
		sum += r.Duration
	}
	sort.Slice(durs, func(i, j int) bool { return durs[i] < durs[j] })

	s.MeanDuration = sum / time.Duration(len(durs))
	s.P95Duration = durs[p95Index(len(durs))]
	return s
}

// p95Index returns the index of the 95th percentile (nearest-rank) in
// a sorted sample of size n.
func p95Index(n int) int {
	i := (n*95 + 99) / 100
	if i < 1 {
		i = 1
	}
	return i - 1
}

// Reset discards all recorded state.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.samples = nil
	c.failures = 0
	c.replayedTotal = 0
	c.allSettled = 0
	c.aboveFold = 0
}
