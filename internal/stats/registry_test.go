package stats

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounterSums(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Observe("hits", Counter, 1))
	require.NoError(t, reg.Observe("hits", Counter, 2.5))

	m, ok := reg.Snapshot().Metric("hits")
	require.True(t, ok)
	assert.Equal(t, Counter, m.Kind)
	assert.Equal(t, int64(2), m.Count)
	assert.InDelta(t, 3.5, m.Value, 1e-9)
}

func TestRateFraction(t *testing.T) {
	reg := NewRegistry()
	obs := []bool{true, false, true, true, false, true, true, false}
	trues := 0
	for _, ok := range obs {
		if ok {
			trues++
		}
		reg.Mark("checks", ok)
	}

	m, ok := reg.Snapshot().Metric("checks")
	require.True(t, ok)
	assert.Equal(t, int64(len(obs)), m.Count)
	assert.Equal(t, int64(trues), m.Passes)
	assert.Equal(t, int64(len(obs)-trues), m.Fails)
	assert.InDelta(t, float64(trues)/float64(len(obs)), m.Value, 1e-12)
}

func TestRateWithoutObservationsIsZero(t *testing.T) {
	e := &entry{kind: Rate, r: &rate{}}
	s := e.snapshot("empty")
	assert.Equal(t, 0.0, s.Value)
	assert.Zero(t, s.Count)

	reg := NewRegistry()
	reg.metrics["empty"] = e
	v, ok := reg.Live("empty")
	assert.True(t, ok)
	assert.Equal(t, 0.0, v)
}

func TestTrendAggregates(t *testing.T) {
	reg := NewRegistry()
	values := []float64{120, 15, 300, 42.5, 99, 15, 1800}
	sum := 0.0
	for _, v := range values {
		sum += v
		reg.Record("latency", v)
	}

	m, ok := reg.Snapshot().Metric("latency")
	require.True(t, ok)
	assert.Equal(t, int64(len(values)), m.Count)
	assert.InDelta(t, sum/float64(len(values)), m.Avg, 1e-9)
	assert.Equal(t, 15.0, m.Min)
	assert.Equal(t, 1800.0, m.Max)
	assert.Equal(t, 99.0, m.Med)
	assert.Equal(t, m.Avg, m.Value)
}

func TestPercentileInterpolation(t *testing.T) {
	sorted := []float64{10, 20, 30, 40, 50}

	assert.Equal(t, 10.0, Percentile(sorted, 0))
	assert.Equal(t, 30.0, Percentile(sorted, 50))
	assert.Equal(t, 50.0, Percentile(sorted, 100))
	assert.InDelta(t, 48.0, Percentile(sorted, 95), 1e-9)
	assert.InDelta(t, 12.0, Percentile(sorted, 5), 1e-9)
	assert.Equal(t, 0.0, Percentile(nil, 95))
	assert.Equal(t, 10.0, Percentile(sorted, -3))
	assert.Equal(t, 50.0, Percentile(sorted, 250))
}

func TestPercentileDeterministic(t *testing.T) {
	a, b := NewRegistry(), NewRegistry()
	values := []float64{5, 3, 9, 1, 7, 2, 8}
	for i := range values {
		a.Record("t", values[i])
		b.Record("t", values[len(values)-1-i])
	}

	ma, _ := a.Snapshot().Metric("t")
	mb, _ := b.Snapshot().Metric("t")
	for _, p := range []float64{1, 25, 50, 75, 90, 95, 99, 99.9} {
		assert.Equal(t, ma.Percentile(p), mb.Percentile(p), "p(%v)", p)
	}
}

func TestKindMismatchIsRejected(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Observe("x", Counter, 1))

	err := reg.Observe("x", Trend, 5)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrKindMismatch))

	m, _ := reg.Snapshot().Metric("x")
	assert.Equal(t, int64(1), m.Count)
}

func TestInvalidValuesAreRejected(t *testing.T) {
	reg := NewRegistry()
	assert.ErrorIs(t, reg.Observe("x", Trend, math.NaN()), ErrInvalidValue)
	assert.ErrorIs(t, reg.Observe("x", Trend, math.Inf(1)), ErrInvalidValue)
	assert.ErrorIs(t, reg.Observe("", Counter, 1), ErrInvalidValue)
	assert.Empty(t, reg.Names())

	reg.Add("c", 5)
	assert.ErrorIs(t, reg.Observe("c", Counter, -3), ErrInvalidValue)
	reg.Add("c", -1)
	v, ok := reg.Live("c")
	require.True(t, ok)
	assert.Equal(t, 5.0, v)

	// Negative samples are fine on trends.
	assert.NoError(t, reg.Observe("skew", Trend, -2))
}

func TestConcurrentObserveLosesNothing(t *testing.T) {
	reg := NewRegistry()
	const workers = 32
	const perWorker = 500

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				reg.Add("c", 1)
				reg.Mark("r", i%2 == 0)
				reg.Record("t", float64(i))
				reg.Group("g").Record(w%2 == 0)
			}
		}(w)
	}
	wg.Wait()

	snap := reg.Snapshot()
	total := int64(workers * perWorker)

	c, _ := snap.Metric("c")
	assert.Equal(t, total, c.Count)
	assert.Equal(t, float64(total), c.Value)

	r, _ := snap.Metric("r")
	assert.Equal(t, total, r.Count)
	assert.Equal(t, total/2, r.Passes)

	tr, _ := snap.Metric("t")
	assert.Equal(t, total, tr.Count)

	g := snap.Groups["g"]
	assert.Equal(t, total, g.Total)
	assert.Equal(t, g.Total, g.Success+g.Failure)
}

func TestSnapshotIdempotent(t *testing.T) {
	reg := NewRegistry()
	reg.Add("c", 3)
	reg.Mark("r", true)
	reg.Record("t", 12)
	reg.RecordCall(CallOutcome{Group: "login", Success: true, StatusCode: 200, Latency: 40 * time.Millisecond})

	first := reg.Snapshot()
	second := reg.Snapshot()
	assert.Equal(t, first, second)
}

func TestRecordCall(t *testing.T) {
	reg := NewRegistry()
	reg.RecordCall(CallOutcome{Group: "search", Success: true, StatusCode: 200, Latency: 100 * time.Millisecond})
	reg.RecordCall(CallOutcome{Group: "search", Success: false, StatusCode: 503, Latency: 300 * time.Millisecond})
	reg.RecordCall(CallOutcome{Success: false, Latency: time.Second})

	snap := reg.Snapshot()

	assert.Equal(t, GroupSnapshot{Total: 2, Success: 1, Failure: 1, SuccessRate: 0.5}, snap.Groups["search"])
	assert.Equal(t, int64(1), snap.Groups[DefaultGroup].Failure)

	reqs, _ := snap.Metric(MetricHTTPReqs)
	assert.Equal(t, 3.0, reqs.Value)

	failed, _ := snap.Metric(MetricHTTPReqFailed)
	assert.InDelta(t, 2.0/3.0, failed.Value, 1e-9)

	dur, _ := snap.Metric(GroupMetric(MetricHTTPReqDuration, "search"))
	assert.Equal(t, int64(2), dur.Count)
	assert.InDelta(t, 200.0, dur.Avg, 1e-9)

	ok, _ := snap.Metric(MetricSuccessfulCalls)
	bad, _ := snap.Metric(MetricFailedCalls)
	assert.Equal(t, 1.0, ok.Value)
	assert.Equal(t, 2.0, bad.Value)
}

func TestLiveTrendAndGroups(t *testing.T) {
	reg := NewRegistry()
	for i := 1; i <= 10; i++ {
		reg.Record("lat", float64(i))
	}
	reg.Group("login").Record(true)
	reg.Group("login").Record(false)

	lt, ok := reg.LiveTrendOf("lat", 50)
	require.True(t, ok)
	assert.Equal(t, int64(10), lt.Count)
	assert.InDelta(t, 10, lt.Max, 0.05)
	assert.InDelta(t, 5.5, lt.Mean, 0.05)
	assert.Contains(t, lt.Quantiles, 50.0)

	_, ok = reg.LiveTrendOf("missing")
	assert.False(t, ok)

	groups := reg.LiveGroups()
	assert.Equal(t, int64(2), groups["login"].Total)
	assert.Equal(t, int64(1), groups["login"].Failure)
}

func TestLiveQuantile(t *testing.T) {
	reg := NewRegistry()
	for i := 1; i <= 100; i++ {
		reg.Record("lat", float64(i))
	}

	p50, ok := reg.LiveQuantile("lat", 50)
	require.True(t, ok)
	assert.InDelta(t, 50, p50, 1)

	_, ok = reg.LiveQuantile("missing", 50)
	assert.False(t, ok)

	reg.Add("c", 1)
	_, ok = reg.LiveQuantile("c", 50)
	assert.False(t, ok)
}
