package metrics

import (
	"testing"
	"time"
)

func TestMeanAndP95(t *testing.T) {
	c := NewCollector()
	// 1..100ms: mean 50.5ms, nearest-rank p95 is the 95th value.
	for i := 1; i <= 100; i++ {
		c.Observe(Record{Duration: time.Duration(i) * time.Millisecond})
	}

	s := c.Snapshot()
	if s.Samples != 100 {
		t.Fatalf("expected 100 samples, got %d", s.Samples)
	}
	if s.MeanDuration != 50500*time.Microsecond {
		t.Errorf("mean: expected 50.5ms, got %v", s.MeanDuration)
	}
	if s.P95Duration != 95*time.Millisecond {
		t.Errorf("p95: expected 95ms, got %v", s.P95Duration)
	}
}

func TestSampleCapDropsOldest(t *testing.T) {
	c := NewCollector()
	for i := 0; i < SampleCap+100; i++ {
		c.Observe(Record{Duration: time.Duration(i) * time.Millisecond})
	}
	s := c.Snapshot()
	if s.Samples != SampleCap {
		t.Errorf("expected cap of %d samples, got %d", SampleCap, s.Samples)
	}
	// Oldest 100 dropped: minimum retained duration is 100ms, so the
	// mean over 100..1099 is 599.5ms.
	if s.MeanDuration != 5995*100*time.Microsecond {
		t.Errorf("mean over retained window: got %v", s.MeanDuration)
	}
}

func TestFailureCountSurvivesSampleEviction(t *testing.T) {
	c := NewCollector()
	c.Observe(Record{Failed: true})
	for i := 0; i < SampleCap; i++ {
		c.Observe(Record{})
	}
	if s := c.Snapshot(); s.Failures != 1 {
		t.Errorf("expected failure count 1, got %d", s.Failures)
	}
}

func TestMilestonesRecordedOnce(t *testing.T) {
	c := NewCollector()
	c.MarkAllSettled(2 * time.Second)
	c.MarkAllSettled(9 * time.Second)
	c.MarkFirstAboveFold(time.Second)
	c.MarkFirstAboveFold(8 * time.Second)

	s := c.Snapshot()
	if s.TimeToAllSettled != 2*time.Second {
		t.Errorf("all-settled milestone overwritten: %v", s.TimeToAllSettled)
	}
	if s.TimeToFirstAboveFold != time.Second {
		t.Errorf("above-fold milestone overwritten: %v", s.TimeToFirstAboveFold)
	}
}

func TestReplayedTotalAccumulates(t *testing.T) {
	c := NewCollector()
	c.AddReplayed(3)
	c.AddReplayed(2)
	if s := c.Snapshot(); s.ReplayedTotal != 5 {
		t.Errorf("expected 5 replayed, got %d", s.ReplayedTotal)
	}
}

func TestEmptySnapshot(t *testing.T) {
	s := NewCollector().Snapshot()
	if s.MeanDuration != 0 || s.P95Duration != 0 || s.Samples != 0 {
		t.Errorf("empty collector should produce zero snapshot: %+v", s)
	}
}
