// Package tabs observes the set of open pages around an action so the
// caller can tell whether the action opened a new tab, navigated in place,
// or did nothing.
package tabs

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// Page is a handle on one open browser page.
type Page interface {
	// ID is stable for the lifetime of the page (the CDP target ID).
	ID() string
	// URL is the current URL, or "" when the page is gone.
	URL() string
	// Screenshot captures the viewport as PNG.
	Screenshot(ctx context.Context) ([]byte, error)
	Reload(ctx context.Context) error
	// WaitLoad blocks until the page reaches a quiescent load state or ctx ends.
	WaitLoad(ctx context.Context) error
	Close() error
}

// Lister returns the currently open pages in a stable order.
type Lister interface {
	Pages(ctx context.Context) ([]Page, error)
}

// Tracker wraps a Lister with polling helpers.
type Tracker struct {
	lister Lister
	logger *slog.Logger
}

// NewTracker creates a Tracker.
func NewTracker(lister Lister, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{lister: lister, logger: logger}
}

// Snapshot returns the open pages.
func (t *Tracker) Snapshot(ctx context.Context) ([]Page, error) {
	return t.lister.Pages(ctx)
}

// WaitForNewPage polls Snapshot until more than baselineCount pages are
// open or timeout elapses. Opening a tab is not synchronous with the click
// that triggers it, hence polling. Listing errors are treated as "not yet".
func (t *Tracker) WaitForNewPage(ctx context.Context, baselineCount int, timeout, poll time.Duration) bool {
	if poll <= 0 {
		poll = 300 * time.Millisecond
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return false
		case <-ticker.C:
			pages, err := t.lister.Pages(ctx)
			if err != nil {
				t.logger.Debug("tabs: snapshot failed while polling", "error", err)
				continue
			}
			if len(pages) > baselineCount {
				return true
			}
		}
	}
}

// CloseExtraneous closes every page other than known. Close failures are
// ignored: the page may already be gone.
func CloseExtraneous(known Page, all []Page) int {
	closed := 0
	for _, p := range all {
		if p == nil || (known != nil && p.ID() == known.ID()) {
			continue
		}
		if err := p.Close(); err == nil {
			closed++
		}
	}
	return closed
}

// FindByURLSubstring returns the first page whose URL contains sub.
func FindByURLSubstring(all []Page, sub string) Page {
	if sub == "" {
		return nil
	}
	for _, p := range all {
		if p != nil && strings.Contains(p.URL(), sub) {
			return p
		}
	}
	return nil
}

// Newest returns the last page of all that is not known, or nil.
func Newest(known Page, all []Page) Page {
	for i := len(all) - 1; i >= 0; i-- {
		p := all[i]
		if p == nil || (known != nil && p.ID() == known.ID()) {
			continue
		}
		return p
	}
	return nil
}
