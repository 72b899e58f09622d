package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"steadyvu/internal/config"
	"steadyvu/internal/executor"
	"steadyvu/internal/journey"
	"steadyvu/internal/logger"
	"steadyvu/internal/promexport"
	"steadyvu/internal/report"
	"steadyvu/internal/runner"
	"steadyvu/internal/tui"
)

// ExitThresholds is the process exit code of a run whose thresholds failed.
const ExitThresholds = 99

const progressSteps = 1000

type Options struct {
	// OutPrefix writes <prefix>.json, .csv and .txt when set.
	OutPrefix string
	// TUI runs the live terminal view instead of the progress bar.
	TUI bool
	// MetricsAddr serves /metrics for the duration of the run when set.
	MetricsAddr string

	Log *zap.Logger
	// Stdout receives the header and summary, Stderr the progress bar.
	Stdout io.Writer
	Stderr io.Writer
}

func (o *Options) defaults() {
	if o.Log == nil {
		o.Log = zap.NewNop()
	}
	if o.Stdout == nil {
		o.Stdout = os.Stdout
	}
	if o.Stderr == nil {
		o.Stderr = os.Stderr
	}
}

// Start runs the built-in user journey under plan and returns the process
// exit code: 0 on success, ExitThresholds when a threshold failed.
func Start(ctx context.Context, plan *config.Plan, opts Options) (int, error) {
	opts.defaults()

	cfg, err := plan.RunConfig()
	if err != nil {
		return 1, err
	}
	j, err := journey.New(journey.Options{
		ThinkMin:    time.Duration(plan.Journey.ThinkMin),
		ThinkMax:    time.Duration(plan.Journey.ThinkMax),
		KeepSession: plan.Journey.KeepSession,
		Keywords:    plan.Journey.Keywords,
	})
	if err != nil {
		return 1, fmt.Errorf("journey: %w", err)
	}

	rep, err := Execute(ctx, plan, cfg, j, opts)
	if err != nil {
		return 1, err
	}

	if opts.TUI {
		// The live view already showed the summary.
		fmt.Fprintf(opts.Stdout, "result: %s\n", verdict(rep.Passed))
	} else {
		printSummary(opts.Stdout, rep)
	}
	if err := handleAutoReport(opts.Stdout, rep, opts.OutPrefix); err != nil {
		return 1, err
	}

	if !rep.Passed {
		return ExitThresholds, nil
	}
	return 0, nil
}

// Execute runs wf under cfg with the plan's client settings, alongside the
// progress display and the optional metrics endpoint.
func Execute(ctx context.Context, plan *config.Plan, cfg runner.RunConfig, wf runner.Workflow, opts Options) (*report.RunReport, error) {
	opts.defaults()
	printHeader(opts.Stdout, plan, cfg)

	client := executor.NewClient(plan.ClientOptions())
	updates := make(runner.ProgressChan, 100)
	r, err := runner.New(cfg, client,
		runner.WithLogger(logger.Component(opts.Log, "runner")),
		runner.WithUpdates(updates),
	)
	if err != nil {
		return nil, err
	}

	// Sidecars stop when the run ends.
	sideCtx, stopSide := context.WithCancel(ctx)
	defer stopSide()
	g, gctx := errgroup.WithContext(sideCtx)

	if opts.MetricsAddr != "" {
		g.Go(func() error {
			return promexport.Serve(gctx, opts.MetricsAddr, r.Metrics, logger.Component(opts.Log, "metrics"))
		})
	}

	var rep *report.RunReport
	if opts.TUI {
		rep, err = tui.Run(ctx, plan.Name, updates, func(ctx context.Context) *report.RunReport {
			return r.Run(ctx, wf)
		})
		stopSide()
		if gerr := g.Wait(); err == nil {
			err = gerr
		}
		return rep, err
	}

	bar := newProgressBar(opts.Stderr)
	g.Go(func() error {
		watchProgress(gctx, updates, bar)
		return nil
	})

	rep = r.Run(ctx, wf)
	stopSide()
	if err := g.Wait(); err != nil {
		return rep, err
	}
	_ = bar.Finish()
	fmt.Fprintln(opts.Stderr)
	return rep, nil
}

func printHeader(w io.Writer, plan *config.Plan, cfg runner.RunConfig) {
	fmt.Fprintf(w, "\nSTARTING STEADYVU LOAD TEST\n")
	fmt.Fprintf(w, "======================================================================\n")
	if plan.Name != "" {
		fmt.Fprintf(w, "Plan       : %s\n", plan.Name)
	}
	fmt.Fprintf(w, "Base URL   : %s\n", plan.BaseURL)
	fmt.Fprintf(w, "Stages     : %d (max %d VUs, %s)\n", len(cfg.Stages), cfg.MaxTarget(), cfg.TotalDuration())
	if cfg.MaxIterations > 0 {
		fmt.Fprintf(w, "Iterations : %d\n", cfg.MaxIterations)
	}
	fmt.Fprintf(w, "Thresholds : %d metrics\n", len(cfg.Thresholds))
	fmt.Fprintf(w, "======================================================================\n\n")
}

func newProgressBar(w io.Writer) *progressbar.ProgressBar {
	return progressbar.NewOptions64(progressSteps,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetWidth(20),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionThrottle(200*time.Millisecond),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// watchProgress moves bar with every update until ctx ends.
func watchProgress(ctx context.Context, updates runner.ProgressChan, bar *progressbar.ProgressBar) {
	for {
		select {
		case <-ctx.Done():
			return
		case p := <-updates:
			bar.Describe(describe(p))
			_ = bar.Set64(int64(p.Fraction() * progressSteps))
		}
	}
}

func describe(p runner.Progress) string {
	return fmt.Sprintf("%s/%s | VUs %d/%d | Req %.0f | Fail %.0f | P95 %.1fms",
		p.Elapsed.Round(time.Second), p.Total.Round(time.Second),
		p.VUs, p.MaxVUs, p.Requests, p.Failed, p.P95Ms)
}

func printSummary(w io.Writer, rep *report.RunReport) {
	_, text := report.Render(rep)
	fmt.Fprintf(w, "\nLOAD TEST RESULTS\n")
	fmt.Fprintf(w, "======================================================================\n")
	fmt.Fprint(w, text)
	fmt.Fprintf(w, "======================================================================\n")
}

func handleAutoReport(w io.Writer, rep *report.RunReport, prefix string) error {
	if prefix == "" {
		return nil
	}

	fmt.Fprintf(w, "\nGenerating reports with prefix: %s\n", prefix)
	if err := report.ExportFiles(rep, prefix); err != nil {
		return fmt.Errorf("export reports: %w", err)
	}
	fmt.Fprintf(w, "Reports saved to %s.{json,csv,txt}\n", prefix)
	return nil
}

func verdict(passed bool) string {
	if passed {
		return "PASSED"
	}
	return "FAILED"
}
