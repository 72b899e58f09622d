package stats

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"
)

// Kind is the aggregation type of a metric.
type Kind int

const (
	Counter Kind = iota + 1
	Rate
	Trend
)

func (k Kind) String() string {
	switch k {
	case Counter:
		return "counter"
	case Rate:
		return "rate"
	case Trend:
		return "trend"
	default:
		return "unknown"
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// counter is a lock-free float accumulator.
type counter struct {
	bits atomic.Uint64
	n    atomic.Int64
}

func (c *counter) add(v float64) {
	for {
		old := c.bits.Load()
		next := math.Float64bits(math.Float64frombits(old) + v)
		if c.bits.CompareAndSwap(old, next) {
			break
		}
	}
	c.n.Add(1)
}

func (c *counter) value() float64 {
	return math.Float64frombits(c.bits.Load())
}

type rate struct {
	trues atomic.Int64
	total atomic.Int64
}

func (r *rate) mark(ok bool) {
	if ok {
		r.trues.Add(1)
	}
	r.total.Add(1)
}

// trend keeps every sample so percentiles are exact and deterministic.
// The histogram mirrors the samples for cheap live quantiles.
type trend struct {
	mu      sync.Mutex
	samples []float64
	sum     float64
	min     float64
	max     float64
	hist    *SafeHistogram
}

func newTrend() *trend {
	return &trend{
		samples: make([]float64, 0, 1024),
		hist:    NewSafeHistogram(),
	}
}

func (t *trend) record(v float64) {
	t.mu.Lock()
	if len(t.samples) == 0 || v < t.min {
		t.min = v
	}
	if len(t.samples) == 0 || v > t.max {
		t.max = v
	}
	t.samples = append(t.samples, v)
	t.sum += v
	t.mu.Unlock()

	t.hist.RecordValue(v)
}

// MetricSnapshot is the aggregated value of one metric at snapshot time.
type MetricSnapshot struct {
	Name  string `json:"name"`
	Kind  Kind   `json:"kind"`
	Count int64  `json:"count"`

	// Value is the sum for counters, the true fraction for rates and the
	// mean for trends.
	Value float64 `json:"value"`

	Passes int64 `json:"passes,omitempty"`
	Fails  int64 `json:"fails,omitempty"`

	// Trend aggregates. Zero is a real value here, e.g. a 0ms minimum.
	Avg float64 `json:"avg"`
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Med float64 `json:"med"`
	P90 float64 `json:"p90"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`

	sorted []float64
}

// Percentile returns the p-th percentile (0-100) of a trend snapshot.
// Other kinds return 0.
func (m MetricSnapshot) Percentile(p float64) float64 {
	return Percentile(m.sorted, p)
}

func (e *entry) snapshot(name string) MetricSnapshot {
	s := MetricSnapshot{Name: name, Kind: e.kind}

	switch e.kind {
	case Counter:
		s.Count = e.c.n.Load()
		s.Value = e.c.value()
	case Rate:
		// total is incremented after trues, so load total first to keep
		// passes <= count.
		total := e.r.total.Load()
		trues := e.r.trues.Load()
		if trues > total {
			trues = total
		}
		s.Count = total
		s.Passes = trues
		s.Fails = total - trues
		if total > 0 {
			s.Value = float64(trues) / float64(total)
		}
	case Trend:
		e.t.mu.Lock()
		sorted := make([]float64, len(e.t.samples))
		copy(sorted, e.t.samples)
		sum, lo, hi := e.t.sum, e.t.min, e.t.max
		e.t.mu.Unlock()

		sort.Float64s(sorted)
		s.sorted = sorted
		s.Count = int64(len(sorted))
		if s.Count > 0 {
			s.Avg = sum / float64(s.Count)
			s.Value = s.Avg
			s.Min = lo
			s.Max = hi
			s.Med = Percentile(sorted, 50)
			s.P90 = Percentile(sorted, 90)
			s.P95 = Percentile(sorted, 95)
			s.P99 = Percentile(sorted, 99)
		}
	}
	return s
}

// Percentile calculates the p-th percentile of sorted using linear
// interpolation between closest ranks. p is clamped to [0, 100].
func Percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}

	index := (p / 100.0) * float64(len(sorted)-1)
	lower := int(index)
	upper := lower + 1
	if upper >= len(sorted) {
		return sorted[len(sorted)-1]
	}

	weight := index - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}
