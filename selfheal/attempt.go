package selfheal

import (
	"context"
	"strings"
	"time"

	"github.com/hazyhaar/pagecheck/tabs"
)

// Attempt is one action plus its independent outcome check.
type Attempt struct {
	// Success is the verified outcome, not the actor's hint.
	Success bool
	// Hint is what the actor claimed.
	Hint    bool
	ActErr  error
	NewPage bool
	// InPlace is set when the original page navigated to the target. A page
	// that already showed the target before the action does not count.
	InPlace       bool
	ResultingPage tabs.Page
	ResultURL     string
	AllPages      []tabs.Page
}

// attempt invokes the actor and then decides from the page list whether the
// action reached the target, either in a new page or in place.
func (o *Orchestrator) attempt(ctx context.Context, original tabs.Page) Attempt {
	var att Attempt

	before, err := o.tracker.Snapshot(ctx)
	if err != nil {
		o.logger.Debug("selfheal: snapshot before action failed", "error", err)
	}
	baseline := len(before)
	if baseline == 0 {
		baseline = 1
	}
	fromURL := original.URL()

	res, err := o.deps.Actor.Act(ctx, o.cfg.Instruction)
	att.Hint = err == nil && res.Success
	att.ActErr = err
	if err != nil {
		o.logger.Warn("selfheal: act failed", "step", o.cfg.Name, "error", err)
	}

	att.NewPage = o.tracker.WaitForNewPage(ctx, baseline, o.cfg.NewPageTimeout, o.cfg.PollInterval)
	sleep(ctx, o.cfg.SettleDelay)

	all, err := o.tracker.Snapshot(ctx)
	if err != nil {
		o.logger.Debug("selfheal: snapshot after action failed", "error", err)
	}
	att.AllPages = all

	toURL := original.URL()
	att.InPlace = toURL != fromURL && strings.Contains(toURL, o.cfg.TargetSubstring)
	match := tabs.FindByURLSubstring(otherPages(original, all), o.cfg.TargetSubstring)
	att.Success = match != nil || att.InPlace

	switch {
	case match != nil:
		att.ResultingPage = match
	case att.InPlace:
		att.ResultingPage = original
	default:
		att.ResultingPage = tabs.Newest(original, all)
		if att.ResultingPage == nil {
			att.ResultingPage = original
		}
	}
	att.ResultURL = att.ResultingPage.URL()

	o.logger.Info("selfheal: attempt",
		"step", o.cfg.Name,
		"hint", att.Hint,
		"success", att.Success,
		"new_page", att.NewPage,
		"in_place", att.InPlace,
		"pages", len(all),
		"url", att.ResultURL)
	return att
}

// otherPages drops original from all; its navigation is judged by URL change.
func otherPages(original tabs.Page, all []tabs.Page) []tabs.Page {
	out := make([]tabs.Page, 0, len(all))
	for _, p := range all {
		if p.ID() != original.ID() {
			out = append(out, p)
		}
	}
	return out
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
