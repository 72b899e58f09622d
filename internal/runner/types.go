package runner

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

const (
	DefaultTick         = time.Second
	DefaultGracefulStop = 30 * time.Second
)

// Stage ramps the VU count linearly to Target over Duration.
type Stage struct {
	Duration time.Duration `json:"duration"`
	Target   int           `json:"target"`
}

// RunConfig is supplied once per run and never mutated afterwards.
type RunConfig struct {
	Stages []Stage
	// StartVUs is the VU count at the start of the first stage.
	StartVUs int
	// Thresholds maps a metric name to its predicate expressions.
	Thresholds map[string][]string

	// MaxIterations caps iterations across all VUs (0 = unlimited).
	MaxIterations int64
	// MaxDuration ends the run early when shorter than the stages (0 = stages only).
	MaxDuration time.Duration

	// Tick is the scheduler control interval.
	Tick time.Duration
	// GracefulStop is how long the final drain waits before logging the
	// workers that are still finishing their iteration.
	GracefulStop time.Duration
}

// TotalDuration is the sum of all stage durations.
func (c RunConfig) TotalDuration() time.Duration {
	var total time.Duration
	for _, s := range c.Stages {
		total += s.Duration
	}
	return total
}

// Deadline returns the wall-clock end of a run started at start.
func (c RunConfig) Deadline(start time.Time) time.Time {
	d := c.TotalDuration()
	if c.MaxDuration > 0 && c.MaxDuration < d {
		d = c.MaxDuration
	}
	return start.Add(d)
}

// MaxTarget is the highest VU count any stage asks for.
func (c RunConfig) MaxTarget() int {
	max := c.StartVUs
	for _, s := range c.Stages {
		if s.Target > max {
			max = s.Target
		}
	}
	return max
}

// Normalize fills defaults and validates the stages.
func (c RunConfig) Normalize() (RunConfig, error) {
	if len(c.Stages) == 0 {
		return c, errors.New("at least one stage is required")
	}
	if c.StartVUs < 0 {
		return c, fmt.Errorf("start vus must be >= 0, got %d", c.StartVUs)
	}
	for i, s := range c.Stages {
		if s.Duration < 0 {
			return c, fmt.Errorf("stage %d: negative duration %s", i, s.Duration)
		}
		if s.Target < 0 {
			return c, fmt.Errorf("stage %d: negative target %d", i, s.Target)
		}
	}
	if c.TotalDuration() <= 0 {
		return c, errors.New("total stage duration must be positive")
	}
	if c.MaxIterations < 0 {
		return c, fmt.Errorf("max iterations must be >= 0, got %d", c.MaxIterations)
	}
	if c.Tick <= 0 {
		c.Tick = DefaultTick
	}
	if c.GracefulStop <= 0 {
		c.GracefulStop = DefaultGracefulStop
	}

	stages := make([]Stage, len(c.Stages))
	copy(stages, c.Stages)
	c.Stages = stages
	return c, nil
}

// Workflow is one end-to-end scripted interaction. Run is invoked once per
// iteration; returning an error abandons the iteration.
type Workflow interface {
	Run(ctx context.Context, it *Iteration) error
}

// WorkflowFunc adapts a function to Workflow.
type WorkflowFunc func(ctx context.Context, it *Iteration) error

func (f WorkflowFunc) Run(ctx context.Context, it *Iteration) error {
	return f(ctx, it)
}

// ThinkTimer is implemented by workflows that pause between iterations.
type ThinkTimer interface {
	ThinkTime() time.Duration
}

// Budget is the iteration and time allowance shared by all workers of a run.
type Budget struct {
	max      int64
	deadline time.Time
	used     atomic.Int64
}

// NewBudget caps iterations at max (0 = unlimited) until deadline (zero =
// no deadline).
func NewBudget(max int64, deadline time.Time) *Budget {
	return &Budget{max: max, deadline: deadline}
}

// Take claims one iteration. It returns false once the budget is spent.
func (b *Budget) Take() bool {
	if !b.deadline.IsZero() && !time.Now().Before(b.deadline) {
		return false
	}
	if b.max <= 0 {
		b.used.Add(1)
		return true
	}
	for {
		used := b.used.Load()
		if used >= b.max {
			return false
		}
		if b.used.CompareAndSwap(used, used+1) {
			return true
		}
	}
}

// Exhausted reports whether no further iteration can be taken.
func (b *Budget) Exhausted() bool {
	if !b.deadline.IsZero() && !time.Now().Before(b.deadline) {
		return true
	}
	return b.max > 0 && b.used.Load() >= b.max
}

// Used returns the number of iterations taken so far.
func (b *Budget) Used() int64 {
	return b.used.Load()
}

// Deadline returns the budget's end time.
func (b *Budget) Deadline() time.Time {
	return b.deadline
}
