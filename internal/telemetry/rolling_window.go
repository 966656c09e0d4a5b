package telemetry

import (
	"sync"
	"time"
)

// DefaultWindowRetention is how much history the rolling window keeps
// per metric.
const DefaultWindowRetention = 60 * time.Second

// RollingWindow keeps the last minute of validated samples per metric and
// answers short-term average/max queries over them. It is reconstructible
// from the sample stream and never persisted.
//
// Time is taken from sample timestamps, not the wall clock, so slightly
// out-of-order delivery is tolerated and tests are deterministic.
type RollingWindow struct {
	mu              sync.Mutex
	retention       time.Duration
	samplesByMetric map[Metric][]ValidatedSample
	newest          time.Time
}

func NewRollingWindow() *RollingWindow {
	return NewRollingWindowWithRetention(DefaultWindowRetention)
}

func NewRollingWindowWithRetention(retention time.Duration) *RollingWindow {
	if retention <= 0 {
		panic("RollingWindow: retention must be > 0")
	}
	return &RollingWindow{
		retention:       retention,
		samplesByMetric: make(map[Metric][]ValidatedSample),
	}
}

// Push adds a validated sample and evicts anything older than the
// retention horizon.
func (w *RollingWindow) Push(sample ValidatedSample) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if sample.Timestamp.After(w.newest) {
		w.newest = sample.Timestamp
	}
	w.samplesByMetric[sample.Metric] = append(w.samplesByMetric[sample.Metric], sample)
	w.evictLocked()
}

func (w *RollingWindow) evictLocked() {
	horizon := w.newest.Add(-w.retention)
	for metric, samples := range w.samplesByMetric {
		firstKept := 0
		for firstKept < len(samples) && samples[firstKept].Timestamp.Before(horizon) {
			firstKept++
		}
		if firstKept > 0 {
			w.samplesByMetric[metric] = append(samples[:0:0], samples[firstKept:]...)
		}
	}
}

// Average returns the mean value of the metric over the trailing window,
// or 0 when no samples fall inside it. window is clamped to the retention.
func (w *RollingWindow) Average(metric Metric, window time.Duration) float64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	if window <= 0 || window > w.retention {
		window = w.retention
	}
	horizon := w.newest.Add(-window)

	sum := 0.0
	count := 0
	for _, s := range w.samplesByMetric[metric] {
		if s.Timestamp.Before(horizon) {
			continue
		}
		sum += s.Value
		count++
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

// Max returns the largest value of the metric currently in the window,
// or 0 when the window holds no samples for it.
func (w *RollingWindow) Max(metric Metric) float64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	samples := w.samplesByMetric[metric]
	if len(samples) == 0 {
		return 0
	}
	max := samples[0].Value
	for _, s := range samples[1:] {
		if s.Value > max {
			max = s.Value
		}
	}
	return max
}

// Count returns how many samples for the metric are currently held
func (w *RollingWindow) Count(metric Metric) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.samplesByMetric[metric])
}
