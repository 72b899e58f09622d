package stats

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"
)

var (
	// ErrKindMismatch is returned when a name is observed with a different
	// kind than the one it was created with.
	ErrKindMismatch = errors.New("metric kind mismatch")
	ErrInvalidValue = errors.New("invalid metric value")
)

type entry struct {
	kind Kind
	c    *counter
	r    *rate
	t    *trend
}

// Registry holds the named metrics and per-group call counters of one run.
// It is safe for concurrent use by any number of workers.
type Registry struct {
	mu      sync.RWMutex
	metrics map[string]*entry
	groups  map[string]*GroupCounter
}

func NewRegistry() *Registry {
	return &Registry{
		metrics: make(map[string]*entry),
		groups:  make(map[string]*GroupCounter),
	}
}

func (r *Registry) lookup(name string, kind Kind) (*entry, error) {
	r.mu.RLock()
	e, ok := r.metrics[name]
	r.mu.RUnlock()

	if !ok {
		r.mu.Lock()
		// Double check
		if e, ok = r.metrics[name]; !ok {
			e = &entry{kind: kind}
			switch kind {
			case Counter:
				e.c = &counter{}
			case Rate:
				e.r = &rate{}
			case Trend:
				e.t = newTrend()
			default:
				r.mu.Unlock()
				return nil, fmt.Errorf("metric %q: unknown kind %d", name, kind)
			}
			r.metrics[name] = e
		}
		r.mu.Unlock()
	}

	if e.kind != kind {
		return nil, fmt.Errorf("metric %q is a %s, observed as %s: %w", name, e.kind, kind, ErrKindMismatch)
	}
	return e, nil
}

// Observe records value under name. Rates treat any non-zero value as true.
// Failed observations are not counted.
func (r *Registry) Observe(name string, kind Kind, value float64) error {
	if name == "" {
		return fmt.Errorf("empty metric name: %w", ErrInvalidValue)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return fmt.Errorf("metric %q: %v: %w", name, value, ErrInvalidValue)
	}
	if kind == Counter && value < 0 {
		return fmt.Errorf("counter %q only grows, got %v: %w", name, value, ErrInvalidValue)
	}

	e, err := r.lookup(name, kind)
	if err != nil {
		return err
	}

	switch e.kind {
	case Counter:
		e.c.add(value)
	case Rate:
		e.r.mark(value != 0)
	case Trend:
		e.t.record(value)
	}
	return nil
}

// Add increments a counter. Kind mismatches are dropped.
func (r *Registry) Add(name string, v float64) {
	_ = r.Observe(name, Counter, v)
}

// Mark records a boolean observation on a rate.
func (r *Registry) Mark(name string, ok bool) {
	v := 0.0
	if ok {
		v = 1
	}
	_ = r.Observe(name, Rate, v)
}

// Record appends a sample to a trend.
func (r *Registry) Record(name string, v float64) {
	_ = r.Observe(name, Trend, v)
}

// RecordDuration appends d to a trend in milliseconds.
func (r *Registry) RecordDuration(name string, d time.Duration) {
	r.Record(name, float64(d)/float64(time.Millisecond))
}

// Group returns the call counter for a group label, creating it on first use.
func (r *Registry) Group(name string) *GroupCounter {
	r.mu.RLock()
	g, ok := r.groups[name]
	r.mu.RUnlock()
	if ok {
		return g
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok = r.groups[name]; !ok {
		g = &GroupCounter{}
		r.groups[name] = g
	}
	return g
}

// RecordCall feeds one HTTP call outcome into the group counters and the
// standard request metrics.
func (r *Registry) RecordCall(o CallOutcome) {
	group := o.Group
	if group == "" {
		group = DefaultGroup
	}
	r.Group(group).Record(o.Success)

	r.Add(MetricHTTPReqs, 1)
	r.Mark(MetricHTTPReqFailed, !o.Success)
	r.RecordDuration(MetricHTTPReqDuration, o.Latency)
	r.RecordDuration(GroupMetric(MetricHTTPReqDuration, group), o.Latency)
	if o.Success {
		r.Add(MetricSuccessfulCalls, 1)
	} else {
		r.Add(MetricFailedCalls, 1)
	}
}

// Live returns the current counter sum, rate fraction or trend mean for
// name without taking a full snapshot.
func (r *Registry) Live(name string) (float64, bool) {
	r.mu.RLock()
	e, ok := r.metrics[name]
	r.mu.RUnlock()
	if !ok {
		return 0, false
	}

	switch e.kind {
	case Counter:
		return e.c.value(), true
	case Rate:
		total := e.r.total.Load()
		if total == 0 {
			return 0, true
		}
		return float64(e.r.trues.Load()) / float64(total), true
	case Trend:
		return e.t.hist.Mean(), true
	}
	return 0, false
}

// LiveQuantile returns an approximate quantile (0-100) of a trend from its
// histogram.
func (r *Registry) LiveQuantile(name string, q float64) (float64, bool) {
	r.mu.RLock()
	e, ok := r.metrics[name]
	r.mu.RUnlock()
	if !ok || e.kind != Trend {
		return 0, false
	}
	return e.t.hist.ValueAtQuantile(q), true
}

// LiveTrend is a histogram readout of a trend. Quantiles are approximate.
type LiveTrend struct {
	Count int64
	Mean  float64
	Max   float64
	// Quantiles maps each requested quantile (0-100) to its value.
	Quantiles map[float64]float64
}

// LiveTrendOf reads a trend's histogram without copying its samples.
func (r *Registry) LiveTrendOf(name string, quantiles ...float64) (LiveTrend, bool) {
	r.mu.RLock()
	e, ok := r.metrics[name]
	r.mu.RUnlock()
	if !ok || e.kind != Trend {
		return LiveTrend{}, false
	}

	h := e.t.hist
	lt := LiveTrend{
		Count:     h.TotalCount(),
		Mean:      h.Mean(),
		Max:       h.Max(),
		Quantiles: make(map[float64]float64, len(quantiles)),
	}
	for _, q := range quantiles {
		lt.Quantiles[q] = h.ValueAtQuantile(q)
	}
	return lt, true
}

// LiveGroups returns the current call counts of every group.
func (r *Registry) LiveGroups() map[string]GroupSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]GroupSnapshot, len(r.groups))
	for name, g := range r.groups {
		out[name] = g.snapshot()
	}
	return out
}

// Names returns the sorted metric names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.metrics))
	for name := range r.metrics {
		names = append(names, name)
	}
	r.mu.RUnlock()

	sort.Strings(names)
	return names
}

// Kind returns the kind a metric was created with.
func (r *Registry) Kind(name string) (Kind, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.metrics[name]
	if !ok {
		return 0, false
	}
	return e.kind, true
}

// Snapshot copies every metric and group. Two snapshots with no observations
// in between are equal.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	entries := make(map[string]*entry, len(r.metrics))
	for name, e := range r.metrics {
		entries[name] = e
	}
	groups := make(map[string]*GroupCounter, len(r.groups))
	for name, g := range r.groups {
		groups[name] = g
	}
	r.mu.RUnlock()

	snap := Snapshot{
		Metrics: make(map[string]MetricSnapshot, len(entries)),
		Groups:  make(map[string]GroupSnapshot, len(groups)),
	}
	for name, e := range entries {
		snap.Metrics[name] = e.snapshot(name)
	}
	for name, g := range groups {
		snap.Groups[name] = g.snapshot()
	}
	return snap
}

// Snapshot is an immutable copy of a Registry.
type Snapshot struct {
	Metrics map[string]MetricSnapshot `json:"metrics"`
	Groups  map[string]GroupSnapshot  `json:"groups"`
}

// Metric looks up a metric by name.
func (s Snapshot) Metric(name string) (MetricSnapshot, bool) {
	m, ok := s.Metrics[name]
	return m, ok
}

// MetricNames returns the sorted metric names.
func (s Snapshot) MetricNames() []string {
	names := make([]string, 0, len(s.Metrics))
	for name := range s.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GroupNames returns the sorted group labels.
func (s Snapshot) GroupNames() []string {
	names := make([]string, 0, len(s.Groups))
	for name := range s.Groups {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
