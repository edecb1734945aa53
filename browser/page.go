package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// Page adapts a Rod page to tabs.Page.
type Page struct {
	p  *rod.Page
	id string
}

func wrapPage(p *rod.Page) *Page {
	return &Page{p: p, id: string(p.TargetID)}
}

// Rod exposes the underlying page.
func (p *Page) Rod() *rod.Page { return p.p }

func (p *Page) ID() string { return p.id }

// URL returns "" when the target is gone.
func (p *Page) URL() string {
	info, err := p.p.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

// Title returns "" when the target is gone.
func (p *Page) Title() string {
	info, err := p.p.Info()
	if err != nil {
		return ""
	}
	return info.Title
}

func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	return p.capture(ctx, false)
}

// FullScreenshot captures the whole scrollable page.
func (p *Page) FullScreenshot(ctx context.Context) ([]byte, error) {
	return p.capture(ctx, true)
}

func (p *Page) capture(ctx context.Context, full bool) ([]byte, error) {
	data, err := p.p.Context(ctx).Screenshot(full, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, fmt.Errorf("browser: screenshot: %w", err)
	}
	return data, nil
}

func (p *Page) Reload(ctx context.Context) error {
	if err := p.p.Context(ctx).Reload(); err != nil {
		return fmt.Errorf("browser: reload: %w", err)
	}
	return nil
}

// WaitLoad waits for the load event, then briefly for the DOM to settle.
func (p *Page) WaitLoad(ctx context.Context) error {
	if err := p.p.Context(ctx).WaitLoad(); err != nil {
		return fmt.Errorf("browser: wait load: %w", err)
	}
	waitStable(ctx, p.p)
	return nil
}

// HTML returns the serialised document.
func (p *Page) HTML(ctx context.Context) (string, error) {
	html, err := p.p.Context(ctx).HTML()
	if err != nil {
		return "", fmt.Errorf("browser: html: %w", err)
	}
	return html, nil
}

func (p *Page) Close() error { return p.p.Close() }

// waitStable gives the DOM up to 2s to stop changing. Pages with endless
// animations never settle, so the timeout is not an error.
func waitStable(ctx context.Context, page *rod.Page) {
	page.Context(ctx).Timeout(2*time.Second).WaitStable(500 * time.Millisecond)
}
