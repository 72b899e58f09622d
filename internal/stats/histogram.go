package stats

import (
	"math"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// histScale converts trend units (usually milliseconds) into histogram
// integer units, so millisecond trends keep microsecond resolution.
const histScale = 1000

// SafeHistogram is a thread-safe wrapper around hdrhistogram.
// It only backs live readouts; final aggregates come from exact samples.
type SafeHistogram struct {
	hist *hdrhistogram.Histogram
	mu   sync.Mutex
}

func NewSafeHistogram() *SafeHistogram {
	// 1us to 10min, 3 significant figures
	h := hdrhistogram.New(1, int64(10*time.Minute/time.Microsecond), 3)
	return &SafeHistogram{hist: h}
}

// RecordValue records v in trend units. Values outside the trackable range
// are clamped instead of dropped.
func (h *SafeHistogram) RecordValue(v float64) {
	scaled := int64(math.Round(v * histScale))

	h.mu.Lock()
	defer h.mu.Unlock()
	if scaled < 0 {
		scaled = 0
	}
	if highest := h.hist.HighestTrackableValue(); scaled > highest {
		scaled = highest
	}
	_ = h.hist.RecordValue(scaled)
}

// ValueAtQuantile returns the approximate value at q (0-100) in trend units.
func (h *SafeHistogram) ValueAtQuantile(q float64) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return float64(h.hist.ValueAtQuantile(q)) / histScale
}

func (h *SafeHistogram) Mean() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hist.Mean() / histScale
}

func (h *SafeHistogram) Max() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return float64(h.hist.Max()) / histScale
}

func (h *SafeHistogram) TotalCount() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hist.TotalCount()
}
