package selfheal

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/pagecheck/actioncache"
	"github.com/hazyhaar/pagecheck/baseline"
	"github.com/hazyhaar/pagecheck/tabs/tabstest"
)

const (
	startURL  = "https://example.com/"
	targetURL = "https://www.iana.org/help/example-domains"
	target    = "iana.org"
)

var (
	white = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	red   = color.NRGBA{R: 255, A: 255}
)

// scriptedActor runs fn on every Act call.
type scriptedActor struct {
	mu    sync.Mutex
	calls int
	fn    func(call int) (ActResult, error)
}

func (a *scriptedActor) Act(ctx context.Context, instruction string) (ActResult, error) {
	a.mu.Lock()
	a.calls++
	n := a.calls
	a.mu.Unlock()
	if a.fn == nil {
		return ActResult{Success: true}, nil
	}
	return a.fn(n)
}

func (a *scriptedActor) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

type countingPauser struct {
	mu             sync.Mutex
	pauses, resume int
	held           bool
	nested         bool
}

func (p *countingPauser) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.held {
		p.nested = true
	}
	p.held = true
	p.pauses++
}

func (p *countingPauser) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.held = false
	p.resume++
}

type fixture struct {
	dir       string
	browser   *tabstest.Browser
	original  *tabstest.Page
	actor     *scriptedActor
	baselines *baseline.Store
	pauser    *countingPauser
	cfg       Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	bs, err := baseline.New(baseline.Config{Dir: filepath.Join(dir, "baselines")})
	if err != nil {
		t.Fatalf("baseline.New: %v", err)
	}
	orig := tabstest.NewPage("main", startURL, 10, 10, white)
	return &fixture{
		dir:       dir,
		browser:   tabstest.NewBrowser(orig),
		original:  orig,
		actor:     &scriptedActor{},
		baselines: bs,
		pauser:    &countingPauser{},
		cfg: Config{
			Name:            "self-heal",
			Checkpoint:      "landing",
			Instruction:     "click the More information link",
			TargetSubstring: target,
			WorkflowDir:     filepath.Join(dir, "cache", "cta-click"),
			ArtifactDir:     filepath.Join(dir, "screenshots"),
			NewPageTimeout:  30 * time.Millisecond,
			PollInterval:    5 * time.Millisecond,
			SettleDelay:     time.Millisecond,
			ReloadTimeout:   time.Second,
		},
	}
}

func (f *fixture) run(t *testing.T) *Outcome {
	t.Helper()
	o, err := New(f.cfg, Deps{
		Actor:     f.actor,
		Baselines: f.baselines,
		Cache:     actioncache.NewController(nil),
		Pages:     f.browser,
		Pauser:    f.pauser,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	out, err := o.Run(context.Background(), f.original)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return out
}

// blockPNG is a w×h image of bg with a bw×bh block of fg in the top-left.
func blockPNG(w, h, bw, bh int, bg, fg color.NRGBA) []byte {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := bg
			if x < bw && y < bh {
				c = fg
			}
			img.SetNRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	png.Encode(&buf, img)
	return buf.Bytes()
}

func seedBaseline(t *testing.T, f *fixture, data []byte) {
	t.Helper()
	src := filepath.Join(f.dir, "seed.png")
	if err := os.WriteFile(src, data, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := f.baselines.Save(src, f.cfg.Checkpoint); err != nil {
		t.Fatalf("seed baseline: %v", err)
	}
}

func statesOf(out *Outcome) string {
	parts := make([]string, len(out.Transitions))
	for i, s := range out.Transitions {
		parts[i] = s.String()
	}
	return strings.Join(parts, ",")
}

func TestRun_AlwaysFailing_ExactlyTwoAttempts(t *testing.T) {
	f := newFixture(t)
	// The actor claims success but nothing ever navigates.
	f.actor.fn = func(int) (ActResult, error) { return ActResult{Success: true, Cached: true}, nil }

	out := f.run(t)

	if out.Passed() {
		t.Fatal("step passed with no navigation")
	}
	if got := f.actor.Calls(); got != 2 {
		t.Errorf("Act calls: got %d, want 2", got)
	}
	if len(out.Attempts) != 2 {
		t.Errorf("attempts: got %d, want 2", len(out.Attempts))
	}
	if got := f.original.Reloads(); got != 1 {
		t.Errorf("reloads: got %d, want 1", got)
	}
	want := "start,visual_check,action_attempt,self_heal,action_attempt,failed"
	if got := statesOf(out); got != want {
		t.Errorf("transitions:\n got %s\nwant %s", got, want)
	}
	if f.baselines.Has(f.cfg.Checkpoint) {
		t.Error("baseline written for a failed step")
	}
}

func TestRun_VisualRegressionShortCircuits(t *testing.T) {
	f := newFixture(t)
	seedBaseline(t, f, tabstest.SolidPNG(10, 10, white))
	// A quarter of the page changed.
	f.original.SetScreenshot(blockPNG(10, 10, 5, 5, white, red))

	out := f.run(t)

	if out.State != StateAborted {
		t.Fatalf("state: got %s, want aborted", out.State)
	}
	if out.Passed() {
		t.Error("aborted step reported as passed")
	}
	if got := f.actor.Calls(); got != 0 {
		t.Errorf("Act calls: got %d, want 0", got)
	}
	if out.Comparison.MismatchRatio <= DefaultThreshold {
		t.Errorf("mismatch: got %v, want > %v", out.Comparison.MismatchRatio, DefaultThreshold)
	}
	if out.DiffPath == "" {
		t.Fatal("no diff path on visual regression")
	}
	if _, err := os.Stat(out.DiffPath); err != nil {
		t.Errorf("diff artifact missing: %v", err)
	}
	if out.ArtifactPath != out.DiffPath {
		t.Errorf("artifact: got %q, want diff %q", out.ArtifactPath, out.DiffPath)
	}
}

func TestRun_SmallDriftBelowThresholdProceeds(t *testing.T) {
	f := newFixture(t)
	seedBaseline(t, f, tabstest.SolidPNG(10, 10, white))
	// 3x3 = 9% of pixels.
	f.original.SetScreenshot(blockPNG(10, 10, 3, 3, white, red))
	f.actor.fn = func(int) (ActResult, error) {
		f.original.SetURL(targetURL)
		return ActResult{Success: true}, nil
	}

	out := f.run(t)
	if !out.Passed() {
		t.Fatalf("state: got %s, want passed (%s)", out.State, out.Detail)
	}
	if out.Comparison.Skipped {
		t.Error("comparison skipped with a baseline present")
	}
}

func TestRun_FirstRunPassesAndPersistsBaseline(t *testing.T) {
	f := newFixture(t)
	f.original.SetScreenshot(blockPNG(10, 10, 2, 2, white, red))
	f.actor.fn = func(int) (ActResult, error) {
		f.browser.Open(tabstest.NewPage("popup", targetURL, 10, 10, white))
		return ActResult{Success: true}, nil
	}

	out := f.run(t)

	if !out.Passed() {
		t.Fatalf("state: got %s, want passed (%s)", out.State, out.Detail)
	}
	if !out.Comparison.Skipped {
		t.Error("first run comparison should be skipped")
	}
	if len(out.Attempts) != 1 || !out.Attempts[0].NewPage {
		t.Errorf("attempts: got %+v, want one new-page attempt", out.Attempts)
	}

	before, err := os.ReadFile(out.BeforePath)
	if err != nil {
		t.Fatal(err)
	}
	stored, err := os.ReadFile(out.BaselinePath)
	if err != nil {
		t.Fatalf("baseline not written: %v", err)
	}
	if !bytes.Equal(before, stored) {
		t.Error("baseline differs from the pre-action screenshot")
	}
	if !strings.HasSuffix(out.ArtifactPath, ".success.png") {
		t.Errorf("artifact: got %q, want *.success.png", out.ArtifactPath)
	}
	if f.original.Reloads() != 0 {
		t.Error("original page reloaded on a first-attempt pass")
	}
}

func TestRun_SecondRunComparesAgainstSavedBaseline(t *testing.T) {
	f := newFixture(t)
	f.actor.fn = func(int) (ActResult, error) {
		f.original.SetURL(targetURL)
		return ActResult{Success: true}, nil
	}
	f.run(t)

	f.original.SetURL(startURL)
	out := f.run(t)
	if out.Comparison.Skipped {
		t.Fatal("second run should compare against the stored baseline")
	}
	if out.Comparison.MismatchRatio != 0 {
		t.Errorf("mismatch: got %v, want 0", out.Comparison.MismatchRatio)
	}
	if !out.Passed() {
		t.Errorf("state: got %s, want passed", out.State)
	}
}

func TestRun_InPlaceNavigationIsSuccess(t *testing.T) {
	f := newFixture(t)
	f.actor.fn = func(int) (ActResult, error) {
		f.original.SetURL(targetURL)
		return ActResult{Success: true}, nil
	}

	out := f.run(t)

	if !out.Passed() {
		t.Fatalf("state: got %s, want passed", out.State)
	}
	att := out.Attempts[0]
	if !att.InPlace || att.NewPage {
		t.Errorf("attempt: in_place=%v new_page=%v, want true false", att.InPlace, att.NewPage)
	}
	if att.ResultingPage.ID() != "main" {
		t.Errorf("resulting page: got %s, want main", att.ResultingPage.ID())
	}
	if !strings.HasSuffix(out.ArtifactPath, ".after.png") {
		t.Errorf("artifact: got %q, want *.after.png", out.ArtifactPath)
	}
}

func TestRun_AlreadyOnTargetWithoutNavigationFails(t *testing.T) {
	f := newFixture(t)
	f.original.SetURL(targetURL)
	f.actor.fn = func(int) (ActResult, error) { return ActResult{}, nil }

	out := f.run(t)

	if out.Passed() {
		t.Fatalf("state: got %s, want failed when the action changed nothing", out.State)
	}
	if len(out.Attempts) != 2 {
		t.Errorf("attempts: got %d, want 2", len(out.Attempts))
	}
	for i, att := range out.Attempts {
		if att.InPlace {
			t.Errorf("attempt %d: in_place=true without a URL change", i)
		}
	}
	if f.baselines.Has(f.cfg.Checkpoint) {
		t.Error("baseline promoted by a failed step")
	}
}

func TestRun_ActErrorIsOnlyAHint(t *testing.T) {
	f := newFixture(t)
	f.actor.fn = func(int) (ActResult, error) {
		f.original.SetURL(targetURL)
		return ActResult{}, errors.New("element detached")
	}

	out := f.run(t)
	if !out.Passed() {
		t.Fatalf("state: got %s, want passed despite act error", out.State)
	}
	if out.Attempts[0].Hint {
		t.Error("hint: got true for a failed act")
	}
	if f.actor.Calls() != 1 {
		t.Errorf("Act calls: got %d, want 1", f.actor.Calls())
	}
}

func TestRun_SelfHealClearsCacheAndClosesPopups(t *testing.T) {
	f := newFixture(t)

	store := actioncache.NewStore(f.cfg.WorkflowDir)
	if err := store.Put(&actioncache.Entry{
		Instruction: f.cfg.Instruction, URL: startURL, Selector: "#stale", Operation: actioncache.OpClick,
	}); err != nil {
		t.Fatal(err)
	}

	popup := tabstest.NewPage("popup", "https://ads.example/", 10, 10, white)
	var cacheErr error
	f.actor.fn = func(call int) (ActResult, error) {
		switch call {
		case 1:
			f.browser.Open(popup)
			return ActResult{Success: true, Selector: "#stale", Cached: true}, nil
		default:
			entries, err := os.ReadDir(f.cfg.WorkflowDir)
			switch {
			case err != nil:
				cacheErr = err
			case len(entries) != 0:
				cacheErr = errors.New("cache not empty before retry")
			default:
				cacheErr = os.WriteFile(filepath.Join(f.cfg.WorkflowDir, "probe"), nil, 0o644)
			}
			f.browser.Open(tabstest.NewPage("target", targetURL, 10, 10, white))
			return ActResult{Success: true, Selector: "#more"}, nil
		}
	}

	out := f.run(t)

	if cacheErr != nil {
		t.Errorf("cache state before retry: %v", cacheErr)
	}
	if !out.Passed() {
		t.Fatalf("state: got %s, want passed after self-heal (%s)", out.State, out.Detail)
	}
	if !popup.Closed() {
		t.Error("popup from the failed attempt left open")
	}
	if f.original.Closed() {
		t.Error("original page closed during self-heal")
	}
	if f.original.Reloads() != 1 {
		t.Errorf("reloads: got %d, want 1", f.original.Reloads())
	}
	want := "start,visual_check,action_attempt,self_heal,action_attempt,passed"
	if got := statesOf(out); got != want {
		t.Errorf("transitions:\n got %s\nwant %s", got, want)
	}
}

func TestRun_FailedWrongPageGetsErrorArtifact(t *testing.T) {
	f := newFixture(t)
	f.actor.fn = func(call int) (ActResult, error) {
		f.browser.Open(tabstest.NewPage("wrong", "https://wrong.example/", 10, 10, white))
		return ActResult{Success: true}, nil
	}

	out := f.run(t)
	if out.Passed() {
		t.Fatal("wrong page accepted")
	}
	if !strings.HasSuffix(out.ArtifactPath, ".error.png") {
		t.Errorf("artifact: got %q, want *.error.png", out.ArtifactPath)
	}
}

func TestRun_ScreenshotsPauseRecorder(t *testing.T) {
	f := newFixture(t)
	f.actor.fn = func(int) (ActResult, error) {
		f.original.SetURL(targetURL)
		return ActResult{Success: true}, nil
	}
	f.run(t)

	p := f.pauser
	if p.pauses < 2 || p.pauses != p.resume {
		t.Errorf("pause/resume: got %d/%d, want balanced and >= 2", p.pauses, p.resume)
	}
	if p.nested {
		t.Error("Pause called twice without Resume")
	}
}

func TestRun_CaptureFailureIsError(t *testing.T) {
	f := newFixture(t)
	f.original.Close()

	o, err := New(f.cfg, Deps{
		Actor: f.actor, Baselines: f.baselines,
		Cache: actioncache.NewController(nil), Pages: f.browser,
	})
	if err != nil {
		t.Fatal(err)
	}
	out, err := o.Run(context.Background(), f.original)
	if err == nil {
		t.Fatal("expected error when the checkpoint cannot be captured")
	}
	if out.State != StateFailed {
		t.Errorf("state: got %s, want failed", out.State)
	}
	if f.actor.Calls() != 0 {
		t.Error("actor invoked after capture failure")
	}
}

func TestNew_Validation(t *testing.T) {
	f := newFixture(t)
	deps := Deps{Actor: f.actor, Baselines: f.baselines, Cache: actioncache.NewController(nil), Pages: f.browser}

	bad := f.cfg
	bad.TargetSubstring = ""
	if _, err := New(bad, deps); err == nil {
		t.Error("expected error for empty target substring")
	}

	bad = f.cfg
	bad.Checkpoint = "../escape"
	if _, err := New(bad, deps); err == nil {
		t.Error("expected error for traversal in checkpoint")
	}

	if _, err := New(f.cfg, Deps{Actor: f.actor}); err == nil {
		t.Error("expected error for missing collaborators")
	}
}
