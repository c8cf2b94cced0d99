// Package profile accumulates per-operation timing counters.
//
// A Recorder is owned by whoever constructs it and passed explicitly to the
// components it measures, so separate mounts never share counters. A nil
// *Recorder is valid and records nothing.
package profile

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"time"
)

// Metric is the accumulated cost of one operation.
type Metric struct {
	Count int64
	Total time.Duration
}

// Mean returns the average duration per call.
func (m Metric) Mean() time.Duration {
	if m.Count == 0 {
		return 0
	}
	return m.Total / time.Duration(m.Count)
}

// Recorder collects metrics by operation name.
type Recorder struct {
	mu      sync.Mutex
	metrics map[string]*Metric
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{metrics: make(map[string]*Metric)}
}

// Observe adds one call of name taking d.
func (r *Recorder) Observe(name string, d time.Duration) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.metrics[name]
	if !ok {
		m = &Metric{}
		r.metrics[name] = m
	}
	m.Count++
	m.Total += d
}

// Snapshot returns a copy of all metrics.
func (r *Recorder) Snapshot() map[string]Metric {
	out := make(map[string]Metric)
	if r == nil {
		return out
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, m := range r.metrics {
		out[name] = *m
	}
	return out
}

// Reset drops all metrics.
func (r *Recorder) Reset() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics = make(map[string]*Metric)
}

// WriteTable prints metrics sorted by name.
func (r *Recorder) WriteTable(w io.Writer) error {
	snap := r.Snapshot()
	names := make([]string, 0, len(snap))
	for name := range snap {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		m := snap[name]
		if _, err := fmt.Fprintf(w, "%-10s %8d calls %12v total %10v mean\n", name, m.Count, m.Total, m.Mean()); err != nil {
			return err
		}
	}
	return nil
}
