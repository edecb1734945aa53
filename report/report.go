// Package report records step results for a pagecheck run, persists runs to
// SQLite, renders the end-of-run summary, bundles captured frames into a
// PDF, and serves run history over HTTP and MCP.
package report

import (
	"sync"
	"time"
)

// StepResult is the outcome of one named test step.
type StepResult struct {
	Name         string        `json:"name"`
	Passed       bool          `json:"passed"`
	ArtifactPath string        `json:"artifact_path,omitempty"`
	Detail       string        `json:"detail,omitempty"`
	Duration     time.Duration `json:"duration_ns"`
}

// Status is "PASS" or "FAIL".
func (s StepResult) Status() string {
	if s.Passed {
		return "PASS"
	}
	return "FAIL"
}

// Log is an append-only, concurrency-safe list of step results.
type Log struct {
	mu      sync.Mutex
	results []StepResult
}

// Add appends a result.
func (l *Log) Add(r StepResult) {
	l.mu.Lock()
	l.results = append(l.results, r)
	l.mu.Unlock()
}

// Results returns a copy of the recorded results in insertion order.
func (l *Log) Results() []StepResult {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]StepResult, len(l.results))
	copy(out, l.results)
	return out
}

// Passed reports whether at least one step ran and none failed.
func (l *Log) Passed() bool {
	return AllPassed(l.Results())
}

// AllPassed reports whether steps is non-empty and every step passed.
func AllPassed(steps []StepResult) bool {
	if len(steps) == 0 {
		return false
	}
	for _, s := range steps {
		if !s.Passed {
			return false
		}
	}
	return true
}

// Run is one complete execution of the suite.
type Run struct {
	ID          string       `json:"id"`
	TargetURL   string       `json:"target_url"`
	StartedAt   time.Time    `json:"started_at"`
	FinishedAt  time.Time    `json:"finished_at"`
	Passed      bool         `json:"passed"`
	ArtifactDir string       `json:"artifact_dir,omitempty"`
	BundlePath  string       `json:"bundle_path,omitempty"`
	Error       string       `json:"error,omitempty"`
	Steps       []StepResult `json:"steps,omitempty"`
}

// Duration is the wall time of the run.
func (r *Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
