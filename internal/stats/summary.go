package stats

import (
	"sync"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Summary describes local response-time percentiles since the last clear.
// It complements the rolling report, which is reset on every flush.
type Summary struct {
	Count int64
	MinMs int64
	MaxMs int64
	P50Ms int64
	P90Ms int64
	P99Ms int64
}

// latencySummary accumulates response times in an HDR histogram.
type latencySummary struct {
	mu   sync.Mutex
	hist *hdrhistogram.Histogram
}

func newLatencySummary() *latencySummary {
	// 1ms up to 1h with 3 significant figures.
	return &latencySummary{hist: hdrhistogram.New(1, 3_600_000, 3)}
}

func (s *latencySummary) record(ms int64) {
	if ms < s.hist.LowestTrackableValue() {
		ms = s.hist.LowestTrackableValue()
	}
	if ms > s.hist.HighestTrackableValue() {
		ms = s.hist.HighestTrackableValue()
	}
	s.mu.Lock()
	_ = s.hist.RecordValue(ms)
	s.mu.Unlock()
}

func (s *latencySummary) reset() {
	s.mu.Lock()
	s.hist.Reset()
	s.mu.Unlock()
}

func (s *latencySummary) snapshot() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hist.TotalCount() == 0 {
		return Summary{}
	}
	return Summary{
		Count: s.hist.TotalCount(),
		MinMs: s.hist.Min(),
		MaxMs: s.hist.Max(),
		P50Ms: s.hist.ValueAtQuantile(50),
		P90Ms: s.hist.ValueAtQuantile(90),
		P99Ms: s.hist.ValueAtQuantile(99),
	}
}
