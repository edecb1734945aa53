// Package selfheal runs one risky UI action behind a visual-regression gate
// and recovers from a stale cached target with a single retry.
//
// The sequence is:
//
//	Start → VisualCheck → Aborted
//	                    → ActionAttempt → Passed
//	                                    → SelfHeal → ActionAttempt → Passed | Failed
//
// A page that already looks broken (mismatch above Threshold) is never
// acted on. An action whose outcome check fails gets exactly one recovery
// cycle: extra pages closed, action cache cleared, original page reloaded.
package selfheal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/hazyhaar/pagecheck/horosafe"
	"github.com/hazyhaar/pagecheck/imgdiff"
	"github.com/hazyhaar/pagecheck/tabs"
)

// DefaultThreshold is the fraction of differing pixels above which a page
// is considered structurally broken.
const DefaultThreshold = 0.10

// State of the orchestrator.
type State int

const (
	StateStart State = iota
	StateVisualCheck
	StateAborted
	StateActionAttempt
	StateSelfHeal
	StatePassed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateVisualCheck:
		return "visual_check"
	case StateAborted:
		return "aborted"
	case StateActionAttempt:
		return "action_attempt"
	case StateSelfHeal:
		return "self_heal"
	case StatePassed:
		return "passed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ActResult is what the act capability reports. Success only says that
// some target was operated on, not that it was the right one.
type ActResult struct {
	Success  bool
	Selector string
	Cached   bool
}

// Actor resolves a natural-language instruction to a target and operates it.
type Actor interface {
	Act(ctx context.Context, instruction string) (ActResult, error)
}

// Baselines compares against and promotes checkpoint reference images.
type Baselines interface {
	Compare(currentPath, checkpoint string) (imgdiff.Result, error)
	Save(currentPath, checkpoint string) (string, error)
}

// CacheClearer wipes and re-provisions a workflow cache directory.
type CacheClearer interface {
	Clear(workflowDir string) error
}

// Pauser is implemented by the background recorder. Screenshots taken by
// the orchestrator are bracketed by Pause and Resume.
type Pauser interface {
	Pause()
	Resume()
}

// Config for an Orchestrator.
type Config struct {
	// Name of the step, used for artifact names.
	Name string
	// Checkpoint whose baseline gates the action.
	Checkpoint string
	// Instruction handed to the Actor.
	Instruction string
	// TargetSubstring must appear in a page URL for the action to count.
	TargetSubstring string
	// WorkflowDir is the action cache cleared during self-heal.
	WorkflowDir string
	// ArtifactDir receives screenshots.
	ArtifactDir string

	// Threshold is the visual-regression limit. Default: DefaultThreshold.
	Threshold float64
	// NewPageTimeout bounds the poll for a new page. Default: 5s.
	NewPageTimeout time.Duration
	// PollInterval between page-list snapshots. Default: 300ms.
	PollInterval time.Duration
	// SettleDelay lets URLs finalise after the poll. Default: 1s.
	SettleDelay time.Duration
	// ReloadTimeout bounds the reload and load wait of self-heal. Default: 30s.
	ReloadTimeout time.Duration

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Checkpoint == "" {
		c.Checkpoint = c.Name
	}
	if c.Threshold <= 0 {
		c.Threshold = DefaultThreshold
	}
	if c.NewPageTimeout <= 0 {
		c.NewPageTimeout = 5 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 300 * time.Millisecond
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = time.Second
	}
	if c.ReloadTimeout <= 0 {
		c.ReloadTimeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

func (c *Config) validate() error {
	switch {
	case c.Name == "":
		return errors.New("selfheal: empty step name")
	case c.Instruction == "":
		return errors.New("selfheal: empty instruction")
	case c.TargetSubstring == "":
		return errors.New("selfheal: empty target substring")
	case c.WorkflowDir == "":
		return errors.New("selfheal: empty workflow dir")
	case c.ArtifactDir == "":
		return errors.New("selfheal: empty artifact dir")
	}
	if err := horosafe.ValidateName(c.Name); err != nil {
		return fmt.Errorf("selfheal: step name: %w", err)
	}
	if err := horosafe.ValidateName(c.Checkpoint); err != nil {
		return fmt.Errorf("selfheal: checkpoint: %w", err)
	}
	return nil
}

// Deps are the collaborators of an Orchestrator. Pauser may be nil.
type Deps struct {
	Actor     Actor
	Baselines Baselines
	Cache     CacheClearer
	Pages     tabs.Lister
	Pauser    Pauser
}

// Orchestrator runs the self-healing action for one step.
type Orchestrator struct {
	cfg     Config
	deps    Deps
	tracker *tabs.Tracker
	logger  *slog.Logger
}

// New validates cfg and deps.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	cfg.defaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if deps.Actor == nil || deps.Baselines == nil || deps.Cache == nil || deps.Pages == nil {
		return nil, errors.New("selfheal: missing collaborator")
	}
	return &Orchestrator{
		cfg:     cfg,
		deps:    deps,
		tracker: tabs.NewTracker(deps.Pages, cfg.Logger),
		logger:  cfg.Logger,
	}, nil
}

// Outcome of one Run.
type Outcome struct {
	Step        string
	State       State
	Transitions []State
	Attempts    []Attempt

	// Comparison is the VisualCheck result.
	Comparison imgdiff.Result
	// BeforePath is the pre-action checkpoint screenshot.
	BeforePath string
	// ArtifactPath is what a reviewer should look at for this step.
	ArtifactPath string
	BaselinePath string
	DiffPath     string
	Detail       string
}

// Passed reports whether the step passed.
func (o *Outcome) Passed() bool { return o.State == StatePassed }

func (o *Outcome) enter(s State) {
	o.State = s
	o.Transitions = append(o.Transitions, s)
}

// Run executes the step against original, the page the action starts from.
// A returned error is a component I/O failure (capture, decode, cache
// re-provisioning, baseline write); the Outcome is then Failed.
func (o *Orchestrator) Run(ctx context.Context, original tabs.Page) (*Outcome, error) {
	out := &Outcome{Step: o.cfg.Name}
	out.enter(StateStart)

	if err := os.MkdirAll(o.cfg.ArtifactDir, 0o755); err != nil {
		return o.fail(out, fmt.Errorf("selfheal: mkdir artifacts: %w", err))
	}

	// VisualCheck.
	out.enter(StateVisualCheck)
	before, err := o.capture(ctx, original, "before")
	if err != nil {
		return o.fail(out, fmt.Errorf("selfheal: capture checkpoint: %w", err))
	}
	out.BeforePath = before

	cmp, err := o.deps.Baselines.Compare(before, o.cfg.Checkpoint)
	if err != nil {
		return o.fail(out, fmt.Errorf("selfheal: visual check: %w", err))
	}
	out.Comparison = cmp
	if !cmp.Skipped && cmp.MismatchRatio > o.cfg.Threshold {
		out.enter(StateAborted)
		out.DiffPath = cmp.DiffPath
		out.ArtifactPath = before
		if cmp.DiffSaved {
			out.ArtifactPath = cmp.DiffPath
		}
		out.Detail = fmt.Sprintf("visual regression: %.2f%% of pixels differ (limit %.2f%%)",
			cmp.MismatchRatio*100, o.cfg.Threshold*100)
		o.logger.Warn("selfheal: visual regression, action not attempted",
			"step", o.cfg.Name, "checkpoint", o.cfg.Checkpoint,
			"mismatch", cmp.MismatchRatio, "threshold", o.cfg.Threshold,
			"diff", cmp.DiffPath)
		return out, nil
	}

	// ActionAttempt.
	out.enter(StateActionAttempt)
	att := o.attempt(ctx, original)
	out.Attempts = append(out.Attempts, att)

	if !att.Success {
		// SelfHeal, once.
		out.enter(StateSelfHeal)
		if err := o.heal(ctx, original, att); err != nil {
			return o.fail(out, err)
		}
		out.enter(StateActionAttempt)
		att = o.attempt(ctx, original)
		out.Attempts = append(out.Attempts, att)
	}

	out.ArtifactPath = o.captureResult(ctx, original, att, before)

	if !att.Success {
		out.enter(StateFailed)
		out.Detail = fmt.Sprintf("no page reached %q after %d attempts", o.cfg.TargetSubstring, len(out.Attempts))
		o.logger.Warn("selfheal: step failed", "step", o.cfg.Name, "attempts", len(out.Attempts))
		return out, nil
	}

	stored, err := o.deps.Baselines.Save(before, o.cfg.Checkpoint)
	if err != nil {
		return o.fail(out, fmt.Errorf("selfheal: save baseline: %w", err))
	}
	out.BaselinePath = stored
	out.enter(StatePassed)
	out.Detail = fmt.Sprintf("reached %s", att.ResultURL)
	o.logger.Info("selfheal: step passed",
		"step", o.cfg.Name, "attempts", len(out.Attempts),
		"url", att.ResultURL, "new_page", att.NewPage)
	return out, nil
}

func (o *Orchestrator) fail(out *Outcome, err error) (*Outcome, error) {
	out.enter(StateFailed)
	out.Detail = err.Error()
	o.logger.Error("selfheal: step error", "step", o.cfg.Name, "error", err)
	return out, err
}

// heal closes what the failed attempt left open, clears the action cache
// and reloads the original page.
func (o *Orchestrator) heal(ctx context.Context, original tabs.Page, failed Attempt) error {
	closed := tabs.CloseExtraneous(original, failed.AllPages)

	if err := o.deps.Cache.Clear(o.cfg.WorkflowDir); err != nil {
		return fmt.Errorf("selfheal: clear cache: %w", err)
	}

	rctx, cancel := context.WithTimeout(ctx, o.cfg.ReloadTimeout)
	defer cancel()
	if err := original.Reload(rctx); err != nil {
		o.logger.Warn("selfheal: reload failed", "step", o.cfg.Name, "error", err)
	} else if err := original.WaitLoad(rctx); err != nil {
		o.logger.Warn("selfheal: wait load failed", "step", o.cfg.Name, "error", err)
	}

	o.logger.Info("selfheal: healed, retrying",
		"step", o.cfg.Name, "closed_pages", closed, "cache", o.cfg.WorkflowDir)
	return nil
}

// capture screenshots p into <ArtifactDir>/<step>.<tag>.png while the
// recorder is paused.
func (o *Orchestrator) capture(ctx context.Context, p tabs.Page, tag string) (string, error) {
	path, err := horosafe.NamedFile(o.cfg.ArtifactDir, o.cfg.Name+"."+tag, ".png")
	if err != nil {
		return "", err
	}

	if o.deps.Pauser != nil {
		o.deps.Pauser.Pause()
	}
	data, err := p.Screenshot(ctx)
	if o.deps.Pauser != nil {
		o.deps.Pauser.Resume()
	}
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// captureResult takes the screenshot that goes with the step result. A
// page other than the original gets a success or error tag. Capture
// failures here are not fatal: the page may be gone.
func (o *Orchestrator) captureResult(ctx context.Context, original tabs.Page, att Attempt, fallback string) string {
	page, tag := original, "after"
	if att.ResultingPage != nil && att.ResultingPage.ID() != original.ID() {
		page, tag = att.ResultingPage, "error"
		if att.Success {
			tag = "success"
		}
	}
	path, err := o.capture(ctx, page, tag)
	if err != nil {
		o.logger.Debug("selfheal: result capture failed", "step", o.cfg.Name, "error", err)
		return fallback
	}
	return path
}
