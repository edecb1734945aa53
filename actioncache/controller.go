// Package actioncache owns the on-disk cache of resolved UI actions, one
// directory per automation workflow.
//
// The act capability reads and writes entries (Store). The self-heal
// orchestrator only ever invalidates a whole workflow (Controller.Clear);
// it never edits a single entry.
package actioncache

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Controller provisions and invalidates workflow cache directories.
type Controller struct {
	mu     sync.Mutex
	logger *slog.Logger
}

// NewController creates a Controller.
func NewController(logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{logger: logger}
}

// Ensure creates workflowDir if it does not exist.
func (c *Controller) Ensure(workflowDir string) error {
	if workflowDir == "" {
		return fmt.Errorf("actioncache: empty workflow dir")
	}
	if err := os.MkdirAll(workflowDir, 0o755); err != nil {
		return fmt.Errorf("actioncache: mkdir %s: %w", workflowDir, err)
	}
	return nil
}

// Clear drops every entry of the workflow and leaves an empty, writable
// directory at the same path.
//
// The old tree is renamed aside before the new directory is created, so
// the path never points at a partially deleted cache.
func (c *Controller) Clear(workflowDir string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if workflowDir == "" {
		return fmt.Errorf("actioncache: empty workflow dir")
	}
	clean := filepath.Clean(workflowDir)

	var graveyard string
	if _, err := os.Stat(clean); err == nil {
		graveyard = fmt.Sprintf("%s.stale-%d", clean, time.Now().UnixNano())
		if err := os.Rename(clean, graveyard); err != nil {
			return fmt.Errorf("actioncache: move aside %s: %w", clean, err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("actioncache: stat %s: %w", clean, err)
	}

	if err := os.MkdirAll(clean, 0o755); err != nil {
		return fmt.Errorf("actioncache: recreate %s: %w", clean, err)
	}
	if err := probeWritable(clean); err != nil {
		return err
	}

	if graveyard != "" {
		if err := os.RemoveAll(graveyard); err != nil {
			c.logger.Warn("actioncache: stale tree not removed", "path", graveyard, "error", err)
		}
	}

	c.logger.Info("actioncache: cleared", "dir", clean)
	return nil
}

func probeWritable(dir string) error {
	f, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return fmt.Errorf("actioncache: %s not writable: %w", dir, err)
	}
	name := f.Name()
	f.Close()
	if err := os.Remove(name); err != nil {
		return fmt.Errorf("actioncache: remove probe: %w", err)
	}
	return nil
}
