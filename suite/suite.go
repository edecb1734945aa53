// Package suite runs the pagecheck steps against one target URL: navigate,
// extract, observe, screenshots and the self-healing action, with a
// background recorder and a persisted report.
package suite

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/hazyhaar/pagecheck/baseline"
	"github.com/hazyhaar/pagecheck/config"
	"github.com/hazyhaar/pagecheck/idgen"
	"github.com/hazyhaar/pagecheck/recorder"
	"github.com/hazyhaar/pagecheck/report"
)

// ErrRunFailed is returned by Run when at least one step failed.
var ErrRunFailed = errors.New("suite: run failed")

// teardownTimeout bounds teardown, which runs on a fresh context because the
// run context may already be expired.
const teardownTimeout = 30 * time.Second

// Options configures a Runner.
type Options struct {
	Config *config.Config
	// Driver starts the browser. Default: BrowserDriver(Config).
	Driver DriverFactory
	// Store persists the run. Nil = not persisted.
	Store *report.Store
	// Summary receives the end-of-run summary. Nil = not printed.
	Summary io.Writer
	Logger  *slog.Logger
}

// Runner executes the suite. A Runner may be reused for sequential runs.
type Runner struct {
	cfg     *config.Config
	driver  DriverFactory
	store   *report.Store
	summary io.Writer
	logger  *slog.Logger
}

// New creates a Runner.
func New(opts Options) (*Runner, error) {
	if opts.Config == nil {
		return nil, errors.New("suite: nil config")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Driver == nil {
		opts.Driver = BrowserDriver(opts.Config, opts.Logger)
	}
	return &Runner{
		cfg:     opts.Config,
		driver:  opts.Driver,
		store:   opts.Store,
		summary: opts.Summary,
		logger:  opts.Logger,
	}, nil
}

// dirs are the per-run output directories.
type dirs struct {
	screenshots string
	recordings  string
	diffs       string
}

// state is what one run accumulates.
type state struct {
	run       *report.Run
	log       report.Log
	dirs      dirs
	logger    *slog.Logger
	driver    Driver
	page      Page
	rec       *recorder.Recorder
	baselines *baseline.Store
	// pending baselines, saved at teardown when the run passed.
	pending []promotion
}

type promotion struct {
	path       string
	checkpoint string
}

func (s *state) promote(path, checkpoint string) {
	s.pending = append(s.pending, promotion{path: path, checkpoint: checkpoint})
}

// pause holds the recorder for the duration of a main-sequence capture.
func (s *state) pause() func() {
	if s.rec == nil {
		return func() {}
	}
	s.rec.Pause()
	return s.rec.Resume
}

// Run executes every step and returns the run record. The error is
// ErrRunFailed when a step failed, or the infrastructure error that
// prevented the run. Teardown always happens, also after a panic.
func (r *Runner) Run(ctx context.Context) (run *report.Run, err error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.RunTimeout)
	defer cancel()

	run = &report.Run{
		ID:        idgen.RunID(),
		TargetURL: r.cfg.TargetURL,
		StartedAt: time.Now().UTC(),
	}
	st := &state{
		run:    run,
		logger: r.logger.With("run_id", run.ID),
		dirs: dirs{
			screenshots: filepath.Join(r.cfg.Paths.Screenshots, run.ID),
			recordings:  filepath.Join(r.cfg.Paths.Recordings, run.ID),
			diffs:       filepath.Join(r.cfg.Paths.Diffs, run.ID),
		},
	}
	run.ArtifactDir = st.dirs.screenshots

	defer func() {
		if p := recover(); p != nil {
			st.logger.Error("suite: panic", "panic", p, "stack", string(debug.Stack()))
			r.crashScreenshot(st)
			st.log.Add(report.StepResult{Name: "crash", Detail: fmt.Sprint(p)})
			run.Error = fmt.Sprintf("panic: %v", p)
			err = fmt.Errorf("suite: panic: %v", p)
		}
		r.teardown(ctx, st)
		if err == nil && !run.Passed {
			err = ErrRunFailed
		}
	}()

	st.logger.Info("suite: run started", "url", r.cfg.TargetURL)
	if err := r.setup(ctx, st); err != nil {
		run.Error = err.Error()
		return run, err
	}

	if !r.step(ctx, st, "navigate", r.navigate).Passed {
		st.logger.Warn("suite: navigation failed, remaining steps skipped")
		return run, nil
	}
	r.step(ctx, st, "extract", r.extract)
	r.step(ctx, st, "observe", r.observe)
	r.step(ctx, st, "screenshots", r.screenshots)
	r.step(ctx, st, r.cfg.SelfHeal.Name, r.selfHeal)

	if ctx.Err() != nil {
		run.Error = ctx.Err().Error()
	}
	return run, nil
}

func (r *Runner) setup(ctx context.Context, st *state) error {
	if err := os.MkdirAll(st.dirs.screenshots, 0o755); err != nil {
		return fmt.Errorf("suite: mkdir: %w", err)
	}
	b, err := baseline.New(baseline.Config{
		Dir:     r.cfg.Paths.Baselines,
		DiffDir: st.dirs.diffs,
		Logger:  st.logger,
	})
	if err != nil {
		return err
	}
	st.baselines = b

	d, err := r.driver(ctx)
	if err != nil {
		st.log.Add(report.StepResult{Name: "navigate", Detail: "browser: " + err.Error()})
		return fmt.Errorf("suite: start browser: %w", err)
	}
	st.driver = d
	return nil
}

type stepFunc func(ctx context.Context, st *state) report.StepResult

// step runs fn, stamps name and duration and appends the result.
func (r *Runner) step(ctx context.Context, st *state, name string, fn stepFunc) report.StepResult {
	start := time.Now()
	var res report.StepResult
	if err := ctx.Err(); err != nil {
		res = report.StepResult{Detail: "not run: " + err.Error()}
	} else {
		res = fn(ctx, st)
	}
	res.Name = name
	res.Duration = time.Since(start)
	st.log.Add(res)

	attrs := []any{"step", name, "status", res.Status(), "duration", res.Duration}
	if res.ArtifactPath != "" {
		attrs = append(attrs, "artifact", res.ArtifactPath)
	}
	if res.Passed {
		st.logger.Info("suite: step done", attrs...)
	} else {
		st.logger.Warn("suite: step done", append(attrs, "detail", res.Detail)...)
	}
	return res
}

// crashScreenshot is best effort: the page may be the cause of the panic.
func (r *Runner) crashScreenshot(st *state) {
	if st.page == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resume := st.pause()
	data, err := st.page.Screenshot(ctx)
	resume()
	if err != nil {
		st.logger.Warn("suite: crash screenshot failed", "error", err)
		return
	}
	p := filepath.Join(st.dirs.screenshots, "crash.png")
	if err := os.WriteFile(p, data, 0o644); err != nil {
		st.logger.Warn("suite: crash screenshot write failed", "error", err)
		return
	}
	st.logger.Info("suite: crash screenshot saved", "path", p)
}

// teardown stops the recorder, bundles frames, promotes pending baselines of
// a passed run, persists the run, prints the summary and closes the browser.
// Each stage logs its own failure and the next stage still runs.
func (r *Runner) teardown(ctx context.Context, st *state) {
	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
	defer cancel()
	run := st.run

	if st.rec != nil {
		st.rec.Stop()
		if r.cfg.Recording.Bundle {
			frames := st.rec.Frames()
			out := filepath.Join(st.dirs.recordings, "frames.pdf")
			if err := report.BundlePDF(frames, out); err != nil {
				st.logger.Warn("suite: frame bundle failed", "frames", len(frames), "error", err)
			} else {
				run.BundlePath = out
			}
		}
	}

	run.Steps = st.log.Results()
	run.Passed = run.Error == "" && report.AllPassed(run.Steps)
	run.FinishedAt = time.Now().UTC()

	if run.Passed {
		for _, p := range st.pending {
			if _, err := st.baselines.Save(p.path, p.checkpoint); err != nil {
				st.logger.Error("suite: baseline promotion failed", "checkpoint", p.checkpoint, "error", err)
			}
		}
	} else if len(st.pending) > 0 {
		st.logger.Info("suite: run failed, baselines left unchanged", "pending", len(st.pending))
	}

	if r.store != nil {
		if err := r.store.SaveRun(tctx, run); err != nil {
			st.logger.Error("suite: save run failed", "error", err)
		}
	}
	if r.summary != nil {
		if err := report.WriteSummary(r.summary, run); err != nil {
			st.logger.Warn("suite: summary failed", "error", err)
		}
	}
	if st.driver != nil {
		if err := st.driver.Close(); err != nil {
			st.logger.Warn("suite: browser close failed", "error", err)
		}
	}

	st.logger.Info("suite: run finished",
		"passed", run.Passed,
		"steps", len(run.Steps),
		"duration", run.Duration())
}
