package stats

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Standard metric names fed by the engine.
const (
	MetricIterations          = "total_iterations"
	MetricSuccessRate         = "success_rate"
	MetricIterationDuration   = "iteration_duration"
	MetricWorkflowErrors      = "workflow_errors"
	MetricWorkerStartFailures = "worker_start_failures"
	MetricVUs                 = "vus"

	MetricHTTPReqs        = "http_reqs"
	MetricHTTPReqFailed   = "http_req_failed"
	MetricHTTPReqDuration = "http_req_duration"
	MetricSuccessfulCalls = "successful_api_calls"
	MetricFailedCalls     = "failed_api_calls"
	// MetricRequestBuildErrors counts calls rejected before sending.
	MetricRequestBuildErrors = "request_build_errors"
)

const (
	DefaultGroup  = "default"
	WorkflowGroup = "workflow"
)

// GroupMetric names the per-group submetric of base, e.g.
// http_req_duration{group:login}.
func GroupMetric(base, group string) string {
	return fmt.Sprintf("%s{group:%s}", base, group)
}

// CallOutcome is the result of one step invocation.
type CallOutcome struct {
	Group      string        `json:"group"`
	Name       string        `json:"name,omitempty"`
	Success    bool          `json:"success"`
	StatusCode int           `json:"status_code"`
	Latency    time.Duration `json:"latency"`
	Err        error         `json:"-"`
}

func (o CallOutcome) String() string {
	status := "ok"
	if !o.Success {
		status = "failed"
	}
	if o.Err != nil {
		return fmt.Sprintf("[%s] %s %s (%s): %v", o.Group, o.Name, status, o.Latency.Round(time.Millisecond), o.Err)
	}
	return fmt.Sprintf("[%s] %s %s %d (%s)", o.Group, o.Name, status, o.StatusCode, o.Latency.Round(time.Millisecond))
}

// GroupCounter counts the calls issued under one group label.
type GroupCounter struct {
	total   atomic.Int64
	success atomic.Int64
	failure atomic.Int64
}

func (g *GroupCounter) Record(success bool) {
	g.total.Add(1)
	if success {
		g.success.Add(1)
	} else {
		g.failure.Add(1)
	}
}

// GroupSnapshot holds the call counts of one group.
type GroupSnapshot struct {
	Total       int64   `json:"total"`
	Success     int64   `json:"success"`
	Failure     int64   `json:"failure"`
	SuccessRate float64 `json:"success_rate"`
}

func (g *GroupCounter) snapshot() GroupSnapshot {
	// Outcomes are loaded before total so success+failure never exceeds it.
	s := GroupSnapshot{
		Success: g.success.Load(),
		Failure: g.failure.Load(),
	}
	s.Total = g.total.Load()
	if s.Total > 0 {
		s.SuccessRate = float64(s.Success) / float64(s.Total)
	}
	return s
}
