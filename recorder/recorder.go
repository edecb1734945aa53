// Package recorder captures page frames on a fixed interval in the
// background while the main sequence drives the browser.
//
// The recorder only reads: it takes screenshots of its Source and writes PNG
// frames into its own directory. It never navigates and never touches the
// action cache. The main sequence brackets its own captures with Pause and
// Resume so two screenshot calls never race on the same page.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Source is anything that can produce a PNG frame.
type Source interface {
	Screenshot(ctx context.Context) ([]byte, error)
}

// Config for a Recorder.
type Config struct {
	// Dir receives frame_00001.png, frame_00002.png, ...
	Dir string
	// Interval between frames. Default: 500ms.
	Interval time.Duration
	// FrameTimeout bounds a single capture. Default: 5s.
	FrameTimeout time.Duration
	Source       Source
	Logger       *slog.Logger
}

// Stats counts what the capture loop did.
type Stats struct {
	Captured int `json:"captured"`
	// Skipped ticks fell while the main sequence held the capture lock.
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// Recorder is the background frame-capture loop.
type Recorder struct {
	cfg    Config
	logger *slog.Logger

	// capture is held by the loop for one frame, or by the main sequence
	// between Pause and Resume.
	capture sync.Mutex

	mu     sync.Mutex
	frames []string
	stats  Stats

	// lc guards the lifecycle: a Recorder starts at most once and never
	// after Stop.
	lc      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// ErrStopped is returned by Start on a Recorder that was already stopped.
var ErrStopped = errors.New("recorder: stopped")

// New validates cfg and returns an idle Recorder.
func New(cfg Config) (*Recorder, error) {
	if cfg.Dir == "" {
		return nil, errors.New("recorder: empty frame directory")
	}
	if cfg.Source == nil {
		return nil, errors.New("recorder: nil source")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 500 * time.Millisecond
	}
	if cfg.FrameTimeout <= 0 {
		cfg.FrameTimeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Recorder{cfg: cfg, logger: cfg.Logger, done: make(chan struct{})}, nil
}

// Start creates the frame directory and launches the capture loop. The loop
// runs until ctx is cancelled or Stop is called. Calling Start twice is a
// no-op; calling it after Stop returns ErrStopped.
func (r *Recorder) Start(ctx context.Context) error {
	r.lc.Lock()
	defer r.lc.Unlock()
	if r.stopped {
		return ErrStopped
	}
	if r.started {
		return nil
	}
	if err := os.MkdirAll(r.cfg.Dir, 0o755); err != nil {
		return fmt.Errorf("recorder: mkdir: %w", err)
	}
	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.started = true
	go r.loop(loopCtx)
	r.logger.Info("recorder: started", "dir", r.cfg.Dir, "interval", r.cfg.Interval)
	return nil
}

// Stop ends the capture loop and waits for it to exit. It is safe to call
// more than once, and on a Recorder that never started.
func (r *Recorder) Stop() {
	r.lc.Lock()
	defer r.lc.Unlock()
	if r.stopped {
		return
	}
	r.stopped = true
	if !r.started {
		return
	}
	r.cancel()
	<-r.done
	st := r.Stats()
	r.logger.Info("recorder: stopped",
		"captured", st.Captured, "skipped", st.Skipped, "failed", st.Failed)
}

// Pause takes the capture lock. It waits at most for the frame currently in
// flight; afterwards every tick is skipped until Resume. Pause must not be
// called twice without a Resume in between.
func (r *Recorder) Pause() { r.capture.Lock() }

// Resume releases the capture lock taken by Pause.
func (r *Recorder) Resume() { r.capture.Unlock() }

// Frames returns the paths of the frames written so far, in capture order.
func (r *Recorder) Frames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.frames))
	copy(out, r.frames)
	return out
}

// Stats returns a copy of the loop counters.
func (r *Recorder) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

func (r *Recorder) loop(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !r.capture.TryLock() {
				r.count(func(s *Stats) { s.Skipped++ })
				continue
			}
			err := r.captureFrame(ctx)
			r.capture.Unlock()
			if err != nil {
				// Transient: the page may be navigating or already closed.
				r.logger.Debug("recorder: frame failed", "error", err)
				r.count(func(s *Stats) { s.Failed++ })
			}
		}
	}
}

func (r *Recorder) captureFrame(ctx context.Context) error {
	fctx, cancel := context.WithTimeout(ctx, r.cfg.FrameTimeout)
	defer cancel()

	data, err := r.cfg.Source.Screenshot(fctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	n := len(r.frames) + 1
	r.mu.Unlock()

	path := filepath.Join(r.cfg.Dir, fmt.Sprintf("frame_%05d.png", n))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}

	r.mu.Lock()
	r.frames = append(r.frames, path)
	r.stats.Captured++
	r.mu.Unlock()
	return nil
}

func (r *Recorder) count(fn func(*Stats)) {
	r.mu.Lock()
	fn(&r.stats)
	r.mu.Unlock()
}
