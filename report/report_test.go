package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/pagecheck/dbopen"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(dbopen.OpenMemory(t, dbopen.WithSchema(Schema)))
}

func sampleRun(id string, started time.Time, passed bool) *Run {
	steps := []StepResult{
		{Name: "navigate", Passed: true, Duration: 1200 * time.Millisecond},
		{Name: "self-heal", Passed: passed, ArtifactPath: "screenshots/self-heal.success.png", Detail: "state=passed", Duration: 4 * time.Second},
	}
	return &Run{
		ID:         id,
		TargetURL:  "https://example.com",
		StartedAt:  started,
		FinishedAt: started.Add(6 * time.Second),
		Passed:     passed,
		Steps:      steps,
	}
}

func TestLog_AppendOnlyCopies(t *testing.T) {
	var l Log
	if l.Passed() {
		t.Error("empty log must not pass")
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Add(StepResult{Name: "step", Passed: true})
		}()
	}
	wg.Wait()

	got := l.Results()
	if len(got) != 10 {
		t.Fatalf("results: got %d, want 10", len(got))
	}
	got[0].Passed = false
	if !l.Passed() {
		t.Error("mutating the returned copy changed the log")
	}

	l.Add(StepResult{Name: "broken", Passed: false})
	if l.Passed() {
		t.Error("log with a failed step must not pass")
	}
}

func TestStore_SaveAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	if err := s.SaveRun(ctx, sampleRun("r1", started, true)); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	got, err := s.GetRun(ctx, "r1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if !got.Passed || got.TargetURL != "https://example.com" {
		t.Errorf("run: got %+v", got)
	}
	if !got.StartedAt.Equal(started) {
		t.Errorf("started_at: got %v, want %v", got.StartedAt, started)
	}
	if len(got.Steps) != 2 {
		t.Fatalf("steps: got %d, want 2", len(got.Steps))
	}
	if got.Steps[0].Name != "navigate" || got.Steps[1].Name != "self-heal" {
		t.Errorf("step order: got %q, %q", got.Steps[0].Name, got.Steps[1].Name)
	}
	if got.Steps[1].Duration != 4*time.Second {
		t.Errorf("duration: got %v, want 4s", got.Steps[1].Duration)
	}
}

func TestStore_SaveReplacesSteps(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	run := sampleRun("r1", time.Now(), true)
	if err := s.SaveRun(ctx, run); err != nil {
		t.Fatal(err)
	}

	run.Steps = run.Steps[:1]
	run.Passed = false
	if err := s.SaveRun(ctx, run); err != nil {
		t.Fatal(err)
	}

	steps, err := s.Steps(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if len(steps) != 1 {
		t.Errorf("steps after resave: got %d, want 1", len(steps))
	}
	got, _ := s.GetRun(ctx, "r1")
	if got.Passed {
		t.Error("passed flag not updated")
	}
}

func TestStore_ListRunsNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		if err := s.SaveRun(ctx, sampleRun(id, base.Add(time.Duration(i)*time.Hour), true)); err != nil {
			t.Fatal(err)
		}
	}

	runs, err := s.ListRuns(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Fatalf("runs: got %d, want 2", len(runs))
	}
	if runs[0].ID != "c" || runs[1].ID != "b" {
		t.Errorf("order: got %s, %s, want c, b", runs[0].ID, runs[1].ID)
	}
}

func TestStore_GetRunNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetRun(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("error: got %v, want ErrNotFound", err)
	}
}

func TestOpenStore_BusyTimeout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "runs.db")
	s, err := OpenStore(path, 2500*time.Millisecond)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer s.Close()

	var ms int
	if err := s.db.QueryRow("PRAGMA busy_timeout").Scan(&ms); err != nil {
		t.Fatal(err)
	}
	if ms != 2500 {
		t.Errorf("busy_timeout: got %d, want 2500", ms)
	}
	if err := s.SaveRun(context.Background(), &Run{ID: "r1", TargetURL: "https://example.com/", StartedAt: time.Now().UTC()}); err != nil {
		t.Errorf("SaveRun: %v", err)
	}
}

func TestWriteSummary(t *testing.T) {
	run := sampleRun("r1", time.Now(), false)
	run.Steps[1].Detail = "target not reached"
	run.Error = "suite: run failed"

	var buf bytes.Buffer
	if err := WriteSummary(&buf, run); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{
		"PASS", "navigate",
		"FAIL", "self-heal", "screenshots/self-heal.success.png", "target not reached",
		"FAILED: 1/2 steps passed",
		"error: suite: run failed",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}

func writePNG(t *testing.T, path string, c color.NRGBA) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 40, 30))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

func TestBundlePDF(t *testing.T) {
	dir := t.TempDir()
	var frames []string
	for i, c := range []color.NRGBA{{255, 0, 0, 255}, {0, 255, 0, 255}, {0, 0, 255, 255}} {
		p := filepath.Join(dir, fmt.Sprintf("frame_%05d.png", i+1))
		writePNG(t, p, c)
		frames = append(frames, p)
	}

	out := filepath.Join(dir, "bundle", "frames.pdf")
	if err := BundlePDF(frames, out); err != nil {
		t.Fatalf("BundlePDF: %v", err)
	}
	n, err := api.PageCountFile(out)
	if err != nil {
		t.Fatalf("PageCountFile: %v", err)
	}
	if n != 3 {
		t.Errorf("pages: got %d, want 3", n)
	}

	// A second bundle replaces the first instead of appending.
	if err := BundlePDF(frames[:1], out); err != nil {
		t.Fatal(err)
	}
	if n, _ := api.PageCountFile(out); n != 1 {
		t.Errorf("pages after rebundle: got %d, want 1", n)
	}
}

func TestBundlePDF_NoImages(t *testing.T) {
	if err := BundlePDF(nil, filepath.Join(t.TempDir(), "x.pdf")); !errors.Is(err, ErrNoImages) {
		t.Errorf("error: got %v, want ErrNoImages", err)
	}
}

func TestHandler(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.SaveRun(ctx, sampleRun("r1", time.Now(), true)); err != nil {
		t.Fatal(err)
	}
	artifacts := t.TempDir()
	os.MkdirAll(filepath.Join(artifacts, "screenshots"), 0o755)
	os.WriteFile(filepath.Join(artifacts, "screenshots", "landing.png"), []byte("png-bytes"), 0o644)

	srv := httptest.NewServer(Handler(s, artifacts))
	defer srv.Close()

	get := func(path string) (*http.Response, []byte) {
		t.Helper()
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		var buf bytes.Buffer
		buf.ReadFrom(resp.Body)
		return resp, buf.Bytes()
	}

	resp, _ := get("/health")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/health: got %d, want 200", resp.StatusCode)
	}
	if got := resp.Header.Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options: got %q, want nosniff", got)
	}
	if !strings.HasPrefix(resp.Header.Get("X-Request-ID"), "req_") {
		t.Errorf("X-Request-ID: got %q", resp.Header.Get("X-Request-ID"))
	}

	head, err := http.Head(srv.URL + "/api/runs/r1")
	if err != nil {
		t.Fatal(err)
	}
	head.Body.Close()
	if head.StatusCode != http.StatusOK {
		t.Errorf("HEAD /api/runs/r1: got %d, want 200", head.StatusCode)
	}

	resp, body := get("/api/runs")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/api/runs: got %d", resp.StatusCode)
	}
	var runs []Run
	if err := json.Unmarshal(body, &runs); err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].ID != "r1" {
		t.Errorf("runs: got %+v", runs)
	}

	resp, body = get("/api/runs/r1")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/api/runs/r1: got %d", resp.StatusCode)
	}
	var run Run
	json.Unmarshal(body, &run)
	if len(run.Steps) != 2 {
		t.Errorf("steps: got %d, want 2", len(run.Steps))
	}

	if resp, _ := get("/api/runs/nope"); resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown run: got %d, want 404", resp.StatusCode)
	}
	if resp, _ := get("/api/runs?limit=abc"); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad limit: got %d, want 400", resp.StatusCode)
	}

	resp, body = get("/artifacts/screenshots/landing.png")
	if resp.StatusCode != http.StatusOK || string(body) != "png-bytes" {
		t.Errorf("artifact: got %d %q", resp.StatusCode, body)
	}
	if resp, _ := get("/artifacts/screenshots/missing.png"); resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing artifact: got %d, want 404", resp.StatusCode)
	}
}

func TestRegisterMCP(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.SaveRun(ctx, sampleRun("r1", time.Now(), true)); err != nil {
		t.Fatal(err)
	}

	srv := mcp.NewServer(&mcp.Implementation{Name: "report-test", Version: "0.1.0"}, nil)
	RegisterMCP(srv, s)

	serverT, clientT := mcp.NewInMemoryTransports()
	go func() { _ = srv.Run(ctx, serverT) }()
	session, err := mcp.NewClient(&mcp.Implementation{Name: "client", Version: "0.1.0"}, nil).Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer session.Close()

	res, err := session.CallTool(ctx, &mcp.CallToolParams{Name: "pagecheck_runs", Arguments: map[string]any{}})
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("pagecheck_runs error: %+v", res.Content)
	}
	var runs []Run
	if err := json.Unmarshal([]byte(res.Content[0].(*mcp.TextContent).Text), &runs); err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 {
		t.Errorf("runs: got %d, want 1", len(runs))
	}

	res, err = session.CallTool(ctx, &mcp.CallToolParams{Name: "pagecheck_run", Arguments: map[string]any{"run_id": "r1"}})
	if err != nil {
		t.Fatal(err)
	}
	var run Run
	if err := json.Unmarshal([]byte(res.Content[0].(*mcp.TextContent).Text), &run); err != nil {
		t.Fatal(err)
	}
	if len(run.Steps) != 2 {
		t.Errorf("steps: got %d, want 2", len(run.Steps))
	}

	res, err = session.CallTool(ctx, &mcp.CallToolParams{Name: "pagecheck_run", Arguments: map[string]any{"run_id": "missing"}})
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError {
		t.Error("unknown run must be a tool error")
	}
}
