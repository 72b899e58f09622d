package runner

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"steadyvu/internal/executor"
	"steadyvu/internal/report"
	"steadyvu/internal/stats"
	"steadyvu/internal/threshold"
)

// Progress is a live view of a running test, pushed to the UI.
type Progress struct {
	Elapsed time.Duration
	Total   time.Duration
	VUs     int
	MaxVUs  int

	Iterations  float64
	Requests    float64
	Failed      float64
	SuccessRate float64

	P50Ms float64
	P95Ms float64
	P99Ms float64
}

// Fraction is the completed share of the staged duration, capped at 1.
func (p Progress) Fraction() float64 {
	if p.Total <= 0 {
		return 0
	}
	f := float64(p.Elapsed) / float64(p.Total)
	if f > 1 {
		return 1
	}
	return f
}

// ProgressChan is the channel type
type ProgressChan chan Progress

// WorkflowFactory builds the workflow for VU id. It may fail; the VU is
// then retried on the next scheduler tick.
type WorkflowFactory func(id int) (Workflow, error)

// Option configures a Runner.
type Option func(*Runner)

func WithLogger(log *zap.Logger) Option {
	return func(r *Runner) { r.log = log }
}

func WithRegistry(reg *stats.Registry) Option {
	return func(r *Runner) { r.Metrics = reg }
}

// WithUpdates sets the channel live progress is pushed to.
func WithUpdates(ch ProgressChan) Option {
	return func(r *Runner) { r.Updates = ch }
}

// Runner executes one load test: it owns the run's registry, scheduler and
// shared request client.
type Runner struct {
	Cfg     RunConfig
	Metrics *stats.Registry
	Client  executor.Sender

	// Event Channel
	Updates ProgressChan

	log       *zap.Logger
	scheduler *Scheduler
	startedAt atomic.Int64
}

func New(cfg RunConfig, client executor.Sender, opts ...Option) (*Runner, error) {
	cfg, err := cfg.Normalize()
	if err != nil {
		return nil, fmt.Errorf("invalid run config: %w", err)
	}
	if client == nil {
		return nil, errors.New("runner: nil request client")
	}

	r := &Runner{
		Cfg:    cfg,
		Client: client,
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.Metrics == nil {
		r.Metrics = stats.NewRegistry()
	}
	if r.Updates == nil {
		// Avoid nil panics if not provided
		r.Updates = make(ProgressChan, 10)
	}
	r.scheduler = NewScheduler(cfg, r.Metrics, r.log)
	return r, nil
}

// StartTickLoop starts a goroutine that pushes progress updates until ctx
// ends.
func (r *Runner) StartTickLoop(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.sendUpdate()
			}
		}
	}()
}

func (r *Runner) sendUpdate() {
	// Non-blocking send
	select {
	case r.Updates <- r.Progress():
	default:
		// Drop update if channel full, UI acts as backpressure
	}
}

// Progress reads the live registry without taking a snapshot.
func (r *Runner) Progress() Progress {
	p := Progress{
		Total:  r.Cfg.TotalDuration(),
		VUs:    r.scheduler.Active(),
		MaxVUs: r.scheduler.MaxVUs(),
	}
	if ns := r.startedAt.Load(); ns != 0 {
		p.Elapsed = time.Since(time.Unix(0, ns))
	}
	p.Iterations, _ = r.Metrics.Live(stats.MetricIterations)
	p.Requests, _ = r.Metrics.Live(stats.MetricHTTPReqs)
	p.Failed, _ = r.Metrics.Live(stats.MetricFailedCalls)
	p.SuccessRate, _ = r.Metrics.Live(stats.MetricSuccessRate)
	p.P50Ms, _ = r.Metrics.LiveQuantile(stats.MetricHTTPReqDuration, 50)
	p.P95Ms, _ = r.Metrics.LiveQuantile(stats.MetricHTTPReqDuration, 95)
	p.P99Ms, _ = r.Metrics.LiveQuantile(stats.MetricHTTPReqDuration, 99)
	return p
}

// Run runs wf on every VU. See RunFactory.
func (r *Runner) Run(ctx context.Context, wf Workflow) *report.RunReport {
	return r.RunFactory(ctx, func(int) (Workflow, error) { return wf, nil })
}

// RunFactory executes the staged run and returns its report. Cancelling
// ctx ends the run early; the report is still produced and marked
// interrupted. Threshold failures are reported, never returned as errors.
func (r *Runner) RunFactory(ctx context.Context, newWorkflow WorkflowFactory) *report.RunReport {
	runID := uuid.NewString()
	log := r.log.With(zap.String("run_id", runID))

	start := time.Now()
	r.startedAt.Store(start.UnixNano())
	budget := NewBudget(r.Cfg.MaxIterations, r.Cfg.Deadline(start))

	factory := func(id int) (*Worker, error) {
		wf, err := newWorkflow(id)
		if err != nil {
			return nil, err
		}
		return NewWorker(id, wf, r.Client, r.Metrics, log), nil
	}

	tickCtx, stopTicks := context.WithCancel(ctx)
	r.StartTickLoop(tickCtx, 200*time.Millisecond)
	err := r.scheduler.Run(ctx, budget, factory)
	stopTicks()
	r.sendUpdate()

	ended := time.Now()
	snap := r.Metrics.Snapshot()
	results := threshold.Evaluate(snap, r.Cfg.Thresholds)

	rep := report.New(runID, start, ended, snap, results, r.scheduler.MaxVUs())
	rep.Interrupted = err != nil

	log.Info("run finished",
		zap.Duration("duration", rep.Duration),
		zap.Int64("iterations", budget.Used()),
		zap.Int("max_vus", rep.MaxVUs),
		zap.Bool("thresholds_passed", rep.Passed),
	)
	for _, t := range rep.FailedThresholds() {
		log.Warn("threshold failed", zap.String("threshold", t.Name), zap.Float64("actual", t.Actual), zap.String("reason", t.Reason))
	}
	return rep
}
