package suite

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hazyhaar/pagecheck/actioncache"
	"github.com/hazyhaar/pagecheck/extract"
	"github.com/hazyhaar/pagecheck/recorder"
	"github.com/hazyhaar/pagecheck/report"
	"github.com/hazyhaar/pagecheck/selfheal"
)

// landingCheckpoint is the baseline of the screenshots step.
const landingCheckpoint = "landing"

func failed(format string, args ...any) report.StepResult {
	return report.StepResult{Detail: fmt.Sprintf(format, args...)}
}

// navigate opens the target, starts the recorder and checks the title.
func (r *Runner) navigate(ctx context.Context, st *state) report.StepResult {
	page, err := st.driver.Open(ctx, r.cfg.TargetURL)
	if page != nil {
		st.page = page
	}
	if err != nil {
		return failed("open %s: %v", r.cfg.TargetURL, err)
	}

	if !r.cfg.Recording.Disabled {
		rec, err := recorder.New(recorder.Config{
			Dir:      st.dirs.recordings,
			Interval: r.cfg.Recording.Interval,
			Source:   page,
			Logger:   st.logger,
		})
		if err == nil {
			err = rec.Start(ctx)
		}
		if err != nil {
			st.logger.Warn("suite: recorder not started", "error", err)
		} else {
			st.rec = rec
		}
	}

	title := page.Title()
	switch {
	case title == "":
		return failed("page has no title")
	case r.cfg.Expect.TitleContains != "" && !strings.Contains(title, r.cfg.Expect.TitleContains):
		return failed("title %q does not contain %q", title, r.cfg.Expect.TitleContains)
	}
	return report.StepResult{Passed: true, Detail: fmt.Sprintf("title %q at %s", title, page.URL())}
}

// extract writes the structured document and its markdown rendering.
func (r *Runner) extract(ctx context.Context, st *state) report.StepResult {
	raw, err := st.page.HTML(ctx)
	if err != nil {
		return failed("read html: %v", err)
	}
	pageURL := st.page.URL()

	doc, err := extract.PageWith(raw, pageURL, extract.Options{
		Selectors:  r.cfg.Extract.Selectors,
		MinTextLen: r.cfg.Extract.MinTextLen,
	})
	if err != nil {
		return failed("extract: %v", err)
	}
	jsonPath := filepath.Join(st.dirs.screenshots, "extract.json")
	if err := writeJSONFile(jsonPath, doc); err != nil {
		return failed("%v", err)
	}

	md, err := extract.Markdown(raw, pageURL)
	if err != nil {
		st.logger.Warn("suite: markdown rendering failed", "error", err)
	} else if err := os.WriteFile(filepath.Join(st.dirs.screenshots, "extract.md"), []byte(md), 0o644); err != nil {
		st.logger.Warn("suite: markdown write failed", "error", err)
	}

	res := report.StepResult{
		Passed:       doc.HasContent(),
		ArtifactPath: jsonPath,
		Detail: fmt.Sprintf("%d headings, %d paragraphs, %d links",
			len(doc.Headings), len(doc.Paragraphs), len(doc.Links)),
	}
	if !res.Passed {
		res.Detail = "no title or body text extracted: " + res.Detail
	}
	return res
}

// observe enumerates interactive elements.
func (r *Runner) observe(ctx context.Context, st *state) report.StepResult {
	els, err := st.driver.Observe(ctx, st.page)
	if err != nil {
		return failed("observe: %v", err)
	}
	p := filepath.Join(st.dirs.screenshots, "observe.json")
	if err := writeJSONFile(p, els); err != nil {
		return failed("%v", err)
	}
	if len(els) == 0 {
		return report.StepResult{ArtifactPath: p, Detail: "no interactive elements"}
	}
	return report.StepResult{Passed: true, ArtifactPath: p, Detail: fmt.Sprintf("%d interactive elements", len(els))}
}

// screenshots captures the viewport and the full page, then compares the
// viewport against the landing baseline. Without one, the viewport becomes
// the baseline at teardown if the whole run passed.
func (r *Runner) screenshots(ctx context.Context, st *state) report.StepResult {
	resume := st.pause()
	view, err := st.page.Screenshot(ctx)
	var full []byte
	if err == nil {
		full, err = st.page.FullScreenshot(ctx)
	}
	resume()
	if err != nil {
		return failed("capture: %v", err)
	}

	viewPath := filepath.Join(st.dirs.screenshots, landingCheckpoint+".png")
	fullPath := filepath.Join(st.dirs.screenshots, landingCheckpoint+".full.png")
	if err := os.WriteFile(viewPath, view, 0o644); err != nil {
		return failed("write screenshot: %v", err)
	}
	if err := os.WriteFile(fullPath, full, 0o644); err != nil {
		return failed("write screenshot: %v", err)
	}

	cmp, err := st.baselines.Compare(viewPath, landingCheckpoint)
	if err != nil {
		return failed("compare: %v", err)
	}
	threshold := r.cfg.SelfHeal.Threshold
	switch {
	case cmp.Skipped:
		st.promote(viewPath, landingCheckpoint)
		return report.StepResult{Passed: true, ArtifactPath: viewPath, Detail: "no baseline yet, promoted if the run passes"}
	case cmp.MismatchRatio > threshold:
		artifact := viewPath
		if cmp.DiffSaved {
			artifact = cmp.DiffPath
		}
		return report.StepResult{
			ArtifactPath: artifact,
			Detail: fmt.Sprintf("visual regression: %.2f%% of pixels differ (limit %.2f%%)",
				cmp.MismatchRatio*100, threshold*100),
		}
	}
	return report.StepResult{
		Passed:       true,
		ArtifactPath: viewPath,
		Detail:       fmt.Sprintf("%.2f%% of pixels differ", cmp.MismatchRatio*100),
	}
}

// selfHeal runs the self-healing action orchestrator on the landing page.
func (r *Runner) selfHeal(ctx context.Context, st *state) report.StepResult {
	sh := r.cfg.SelfHeal
	workflowDir := r.cfg.WorkflowDir()

	ctrl := actioncache.NewController(st.logger)
	if err := ctrl.Ensure(workflowDir); err != nil {
		return failed("%v", err)
	}

	deps := selfheal.Deps{
		Actor:     st.driver.Actor(st.page, actioncache.NewStore(workflowDir)),
		Baselines: st.baselines,
		Cache:     ctrl,
		Pages:     st.driver,
	}
	if st.rec != nil {
		deps.Pauser = st.rec
	}

	orch, err := selfheal.New(selfheal.Config{
		Name:            sh.Name,
		Checkpoint:      sh.Checkpoint,
		Instruction:     sh.Instruction,
		TargetSubstring: sh.TargetSubstring,
		WorkflowDir:     workflowDir,
		ArtifactDir:     st.dirs.screenshots,
		Threshold:       sh.Threshold,
		NewPageTimeout:  sh.NewPageTimeout,
		PollInterval:    sh.PollInterval,
		SettleDelay:     sh.SettleDelay,
		Logger:          st.logger,
	}, deps)
	if err != nil {
		return failed("%v", err)
	}

	out, err := orch.Run(ctx, st.page)
	res := report.StepResult{
		Passed:       err == nil && out.Passed(),
		ArtifactPath: out.ArtifactPath,
		Detail:       fmt.Sprintf("%s (%s)", out.Detail, transitions(out.Transitions)),
	}
	return res
}

func transitions(states []selfheal.State) string {
	names := make([]string, len(states))
	for i, s := range states {
		names[i] = s.String()
	}
	return strings.Join(names, " > ")
}

func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}
