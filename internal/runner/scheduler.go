package runner

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"steadyvu/internal/stats"
)

// WorkerFactory builds the worker for VU id.
type WorkerFactory func(id int) (*Worker, error)

// DesiredVUs returns the VU target at elapsed time into a run. Within each
// stage the target moves linearly from the previous stage's target (start
// for the first stage) to the stage's own target, rounded half up. done is
// true once elapsed is past the last stage.
func DesiredVUs(start int, stages []Stage, elapsed time.Duration) (target int, done bool) {
	if elapsed < 0 {
		elapsed = 0
	}

	from := start
	var offset time.Duration
	for _, s := range stages {
		end := offset + s.Duration
		if elapsed <= end {
			if s.Duration <= 0 {
				return from, false
			}
			frac := float64(elapsed-offset) / float64(s.Duration)
			v := float64(from) + float64(s.Target-from)*frac
			return int(math.Floor(v + 0.5)), false
		}
		from = s.Target
		offset = end
	}
	return from, true
}

// Scheduler tracks the stage target by spawning and retiring workers on
// every tick.
type Scheduler struct {
	cfg     RunConfig
	metrics *stats.Registry
	log     *zap.Logger

	mu      sync.Mutex
	active  []*Worker
	retired []*Worker
	nextID  int

	running atomic.Int64
	maxVUs  atomic.Int64
}

// NewScheduler expects cfg to be normalized.
func NewScheduler(cfg RunConfig, metrics *stats.Registry, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		cfg:     cfg,
		metrics: metrics,
		log:     log.With(zap.String("component", "scheduler")),
		nextID:  1,
	}
}

// Active returns the number of workers currently assigned to the run.
func (s *Scheduler) Active() int {
	return int(s.running.Load())
}

// MaxVUs returns the highest concurrent worker count reached.
func (s *Scheduler) MaxVUs() int {
	return int(s.maxVUs.Load())
}

// Run drives workers until the last stage ends, the budget is spent or ctx
// is cancelled, then waits for every worker to drain. It returns ctx.Err()
// when the run was cancelled.
func (s *Scheduler) Run(ctx context.Context, budget *Budget, factory WorkerFactory) error {
	start := time.Now()
	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()

	s.log.Info("run started",
		zap.Int("stages", len(s.cfg.Stages)),
		zap.Duration("duration", s.cfg.TotalDuration()),
		zap.Int("max_target", s.cfg.MaxTarget()),
	)

	var runErr error
	for {
		target, done := DesiredVUs(s.cfg.StartVUs, s.cfg.Stages, time.Since(start))
		if done || budget.Exhausted() {
			break
		}
		s.adjust(ctx, budget, factory, target)

		select {
		case <-ctx.Done():
			runErr = ctx.Err()
			s.log.Info("run cancelled", zap.Error(runErr))
		case <-ticker.C:
			continue
		}
		break
	}

	s.drain()
	return runErr
}

func (s *Scheduler) adjust(ctx context.Context, budget *Budget, factory WorkerFactory, target int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.prune()

	for len(s.active) < target {
		id := s.nextID
		w, err := s.spawn(factory, id)
		if err != nil {
			s.metrics.Add(stats.MetricWorkerStartFailures, 1)
			s.log.Error("worker start failed, retrying next tick", zap.Int("vu", id), zap.Error(err))
			break
		}
		s.nextID++
		s.active = append(s.active, w)
		go w.Loop(ctx, budget)
		s.log.Debug("worker spawned", zap.Int("vu", id))
	}

	for len(s.active) > target {
		last := len(s.active) - 1
		w := s.active[last]
		s.active = s.active[:last]
		w.Stop()
		s.retired = append(s.retired, w)
		s.log.Debug("worker retired", zap.Int("vu", w.ID))
	}

	n := int64(len(s.active))
	s.running.Store(n)
	if n > s.maxVUs.Load() {
		s.maxVUs.Store(n)
	}
	s.metrics.Record(stats.MetricVUs, float64(n))
}

// prune drops workers that exited on their own, e.g. when the budget ran out.
func (s *Scheduler) prune() {
	kept := s.active[:0]
	for _, w := range s.active {
		select {
		case <-w.Done():
			s.retired = append(s.retired, w)
			s.log.Debug("worker finished", zap.Int("vu", w.ID), zap.Int64("iterations", w.Iterations()))
		default:
			kept = append(kept, w)
		}
	}
	s.active = kept
}

func (s *Scheduler) spawn(factory WorkerFactory, id int) (w *Worker, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker factory panic: %v", r)
		}
	}()
	w, err = factory(id)
	if err == nil && w == nil {
		err = fmt.Errorf("worker factory returned no worker for vu %d", id)
	}
	return w, err
}

// drain stops every worker and waits for all of them. Workers are never
// abandoned; GracefulStop only controls when the wait is logged.
func (s *Scheduler) drain() {
	s.mu.Lock()
	all := append(append([]*Worker(nil), s.active...), s.retired...)
	s.active = nil
	s.mu.Unlock()

	for _, w := range all {
		w.Stop()
	}

	grace := time.NewTimer(s.cfg.GracefulStop)
	defer grace.Stop()

	for i, w := range all {
		select {
		case <-w.Done():
			continue
		case <-grace.C:
			s.log.Warn("graceful stop exceeded, waiting for in-flight iterations",
				zap.Int("remaining", len(all)-i),
				zap.Duration("graceful_stop", s.cfg.GracefulStop),
			)
		}
		<-w.Done()
	}

	s.running.Store(0)
	s.log.Info("all workers drained", zap.Int("workers", len(all)))
}
