// Package metrics exposes Prometheus collectors for tabula columns and
// storage handles.
//
// # Overview
//
// The collectors track the rare, interesting events of the column layer:
//   - resizes (count and latency per backend)
//   - optimistic write/capacity retries taken by synchronized columns
//   - storage allocation failures
//   - live and retired bytes held by storage handles
//
// Hot-path reads and writes are deliberately not instrumented.
//
// # Basic Usage
//
//	timer := metrics.NewTimer("resize")
//	grow()
//	metrics.ObserveResize("array", "double", timer.Stop())
package metrics

import (
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ColumnResizes counts completed column resizes.
	// Labels: backend (array/mapped/object), type (double/float/int/...)
	ColumnResizes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabula_column_resizes_total",
			Help: "Total number of completed column resizes",
		},
		[]string{"backend", "type"},
	)

	// ResizeLatency tracks how long a resize holds its backend, in nanoseconds.
	ResizeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "tabula_column_resize_duration_nanoseconds",
			Help: "Column resize duration in nanoseconds",
			Buckets: []float64{
				1000,  // 1μs - tiny array copies
				10000, // 10μs
				1e5,   // 100μs
				1e6,   // 1ms - large array copies
				1e7,   // 10ms - mapped region growth
				1e8,   // 100ms
				1e9,   // 1s
			},
		},
		[]string{"backend"},
	)

	// OptimisticRetries counts optimistic operations that lost a race with a
	// resize and were repeated under the read lock.
	// Labels: operation (set/capacity)
	OptimisticRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabula_column_optimistic_retries_total",
			Help: "Optimistic column operations retried under the read lock",
		},
		[]string{"operation"},
	)

	// AllocationFailures counts storage requests that could not be satisfied.
	// Labels: storage (heap/mmap), reason
	AllocationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabula_storage_allocation_failures_total",
			Help: "Storage region allocations that failed",
		},
		[]string{"storage", "reason"},
	)

	// StorageBytes tracks bytes held by storage handles.
	// Labels: storage (heap/mmap), state (live/retired)
	StorageBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tabula_storage_bytes",
			Help: "Bytes held by storage handles",
		},
		[]string{"storage", "state"},
	)

	// ActiveMappings tracks live memory mappings across all mmap storages.
	ActiveMappings = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tabula_storage_active_mappings",
			Help: "Number of live memory mappings",
		},
	)
)

// ObserveResize records one completed resize.
func ObserveResize(backend, dataType string, d time.Duration) {
	ColumnResizes.WithLabelValues(backend, dataType).Inc()
	ResizeLatency.WithLabelValues(backend).Observe(float64(d.Nanoseconds()))
}

// Timer provides a simple timing mechanism for measuring operation durations.
// It captures the start time on creation and calculates elapsed time on stop.
type Timer struct {
	start time.Time
	name  string
}

// NewTimer creates a new timer and starts timing immediately.
func NewTimer(name string) *Timer {
	return &Timer{
		start: time.Now(),
		name:  name,
	}
}

// Name returns the timer's name.
func (t *Timer) Name() string { return t.name }

// Stop returns the elapsed duration since creation. It can be called more
// than once.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}

// Snapshot gathers the tabula_* counters and gauges from the default registry
// and sums them over labels. Histograms report their sample count.
func Snapshot() (map[string]float64, error) {
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		return nil, err
	}

	out := make(map[string]float64)
	for _, mf := range families {
		name := mf.GetName()
		if len(name) < 7 || name[:7] != "tabula_" {
			continue
		}
		var total float64
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				total += m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				total += m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				total += float64(m.GetHistogram().GetSampleCount())
			}
		}
		out[name] = total
	}
	return out, nil
}

// SortedNames returns the keys of a Snapshot in order, for stable output.
func SortedNames(snapshot map[string]float64) []string {
	names := make([]string, 0, len(snapshot))
	for name := range snapshot {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
