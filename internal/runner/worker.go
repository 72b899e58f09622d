package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"steadyvu/internal/executor"
	"steadyvu/internal/stats"
)

// Worker is one virtual user. It runs iterations back to back until it is
// stopped, its context ends or the shared budget is spent.
type Worker struct {
	ID int

	workflow  Workflow
	client    executor.Sender
	metrics   *stats.Registry
	log       *zap.Logger
	templates *TemplateEngine

	session    session
	iterations int64

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func NewWorker(id int, wf Workflow, client executor.Sender, metrics *stats.Registry, log *zap.Logger) *Worker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Worker{
		ID:        id,
		workflow:  wf,
		client:    client,
		metrics:   metrics,
		log:       log.With(zap.Int("vu", id)),
		templates: NewTemplateEngine(),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Stop asks the worker to exit at its next iteration boundary. It never
// interrupts an iteration in progress.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
}

// Done is closed when Loop has returned.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Iterations returns how many iterations the worker has started. Only valid
// after Done is closed.
func (w *Worker) Iterations() int64 {
	return w.iterations
}

func (w *Worker) stopped(ctx context.Context) bool {
	select {
	case <-w.stop:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// Loop runs iterations until stopped. Cancelling ctx has the same effect as
// Stop: in-flight requests of the current iteration run to completion.
func (w *Worker) Loop(ctx context.Context, budget *Budget) {
	defer close(w.done)

	// Requests are bounded by their own timeouts, not by the run.
	iterCtx := context.WithoutCancel(ctx)

	for {
		if w.stopped(ctx) || !budget.Take() {
			return
		}

		w.iterate(iterCtx)

		if tt, ok := w.workflow.(ThinkTimer); ok {
			if !w.sleep(ctx, tt.ThinkTime(), budget.Deadline()) {
				return
			}
		}
	}
}

// sleep waits for d or until the worker is stopped. It returns false when
// the worker should exit.
func (w *Worker) sleep(ctx context.Context, d time.Duration, deadline time.Time) bool {
	if d <= 0 {
		return true
	}
	if !deadline.IsZero() {
		if left := time.Until(deadline); left < d {
			d = left
		}
		if d <= 0 {
			return false
		}
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-w.stop:
		return false
	case <-ctx.Done():
		return false
	}
}

func (w *Worker) iterate(ctx context.Context) {
	w.iterations++
	state := &IterationContext{
		ID:        uuid.NewString(),
		VU:        w.ID,
		Iteration: w.iterations,
		Token:     w.session.token,
		UserID:    w.session.userID,
		Vars:      make(map[string]string),
	}
	it := &Iteration{
		State:     state,
		Client:    w.client,
		Metrics:   w.metrics,
		Log:       w.log,
		templates: w.templates,
	}

	start := time.Now()
	err := w.run(ctx, it)
	elapsed := time.Since(start)

	w.session = session{token: state.Token, userID: state.UserID}

	w.metrics.Add(stats.MetricIterations, 1)
	w.metrics.Mark(stats.MetricSuccessRate, err == nil && !state.Failed)
	w.metrics.RecordDuration(stats.MetricIterationDuration, elapsed)

	if err != nil {
		w.metrics.Group(stats.WorkflowGroup).Record(false)
		w.metrics.Add(stats.MetricWorkflowErrors, 1)
		w.log.Warn("iteration failed",
			zap.Int64("iteration", state.Iteration),
			zap.String("group", stats.WorkflowGroup),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
	}
}

func (w *Worker) run(ctx context.Context, it *Iteration) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("workflow panic: %v", r)
		}
	}()
	return w.workflow.Run(ctx, it)
}
