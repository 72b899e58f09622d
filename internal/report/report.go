package report

import (
	"time"

	"steadyvu/internal/stats"
	"steadyvu/internal/threshold"
)

// RunReport is the final aggregate of one run. It is built once, after every
// worker has drained, and never modified.
type RunReport struct {
	RunID     string        `json:"run_id"`
	StartedAt time.Time     `json:"started_at"`
	EndedAt   time.Time     `json:"ended_at"`
	Duration  time.Duration `json:"duration"`

	Metrics    map[string]stats.MetricSnapshot `json:"metrics"`
	Groups     map[string]stats.GroupSnapshot  `json:"groups"`
	Thresholds []threshold.Result              `json:"thresholds"`

	MaxVUs int `json:"max_vus"`
	// Interrupted is set when the run ended by external cancellation.
	Interrupted bool `json:"interrupted,omitempty"`
	// Passed is true when every threshold passed.
	Passed bool `json:"passed"`
}

// New assembles a report from a final snapshot and evaluated thresholds.
func New(runID string, started, ended time.Time, snap stats.Snapshot, results []threshold.Result, maxVUs int) *RunReport {
	return &RunReport{
		RunID:      runID,
		StartedAt:  started,
		EndedAt:    ended,
		Duration:   ended.Sub(started),
		Metrics:    snap.Metrics,
		Groups:     snap.Groups,
		Thresholds: results,
		MaxVUs:     maxVUs,
		Passed:     threshold.AllPassed(results),
	}
}

// Snapshot returns the metrics and groups as a stats.Snapshot, which also
// serves as a threshold.MetricSource.
func (r *RunReport) Snapshot() stats.Snapshot {
	return stats.Snapshot{Metrics: r.Metrics, Groups: r.Groups}
}

// FailedThresholds returns the thresholds that did not pass.
func (r *RunReport) FailedThresholds() []threshold.Result {
	var failed []threshold.Result
	for _, t := range r.Thresholds {
		if !t.Passed {
			failed = append(failed, t)
		}
	}
	return failed
}

// Counter returns a counter's sum, or 0 when it never fired.
func (r *RunReport) Counter(name string) float64 {
	if m, ok := r.Metrics[name]; ok && m.Kind == stats.Counter {
		return m.Value
	}
	return 0
}
