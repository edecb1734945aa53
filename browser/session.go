package browser

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/pagecheck/tabs"
)

// Session is the browser as seen by one run. It implements tabs.Lister.
type Session struct {
	b      *rod.Browser
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	routers []*rod.HijackRouter
}

// OpenPage creates a stealth page with the configured viewport and
// resource blocking.
func (s *Session) OpenPage(ctx context.Context) (*Page, error) {
	page, err := stealth.Page(s.b.Context(ctx))
	if err != nil {
		return nil, fmt.Errorf("browser: create page: %w", err)
	}

	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             s.cfg.ViewportWidth,
		Height:            s.cfg.ViewportHeight,
		DeviceScaleFactor: 1,
	}); err != nil {
		page.Close()
		return nil, fmt.Errorf("browser: set viewport: %w", err)
	}

	if r := blockResources(page, newBlockList(s.cfg.ResourceBlocking)); r != nil {
		s.mu.Lock()
		s.routers = append(s.routers, r)
		s.mu.Unlock()
	}

	return wrapPage(page), nil
}

// Navigate loads rawURL in p and waits for the load event, bounded by the
// configured navigation timeout. A load wait that times out is logged, not
// returned: slow third-party assets should not fail the navigation.
func (s *Session) Navigate(ctx context.Context, p *Page, rawURL string) error {
	navCtx, cancel := context.WithTimeout(ctx, s.cfg.NavigateTimeout)
	defer cancel()

	if err := p.p.Context(navCtx).Navigate(rawURL); err != nil {
		return fmt.Errorf("browser: navigate %s: %w", rawURL, err)
	}
	if err := p.p.Context(navCtx).WaitLoad(); err != nil {
		s.logger.Warn("browser: wait load timeout", "url", rawURL, "error", err)
	}
	waitStable(navCtx, p.p)
	return nil
}

// Pages lists the open page targets.
func (s *Session) Pages(ctx context.Context) ([]tabs.Page, error) {
	pages, err := s.b.Context(ctx).Pages()
	if err != nil {
		return nil, fmt.Errorf("browser: list pages: %w", err)
	}
	out := make([]tabs.Page, 0, len(pages))
	for _, p := range pages {
		out = append(out, wrapPage(p))
	}
	return out, nil
}

// Close stops request interception. Pages are closed with the browser.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.routers {
		if err := r.Stop(); err != nil {
			s.logger.Debug("browser: stop hijack router", "error", err)
		}
	}
	s.routers = nil
}
