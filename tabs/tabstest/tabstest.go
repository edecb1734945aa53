// Package tabstest provides scripted in-memory pages for tests of code that
// consumes tabs.Page and tabs.Lister.
package tabstest

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"

	"github.com/hazyhaar/pagecheck/tabs"
)

// ErrClosed is returned by operations on a closed page.
var ErrClosed = errors.New("tabstest: page closed")

// Page is a scripted tabs.Page.
type Page struct {
	mu       sync.Mutex
	id       string
	url      string
	shot     []byte
	closed   bool
	closeErr error
	reloads  int
	shots    int
	onReload func(*Page)
}

// NewPage creates a page whose screenshot is a solid PNG of size w×h.
func NewPage(id, url string, w, h int, c color.NRGBA) *Page {
	return &Page{id: id, url: url, shot: SolidPNG(w, h, c)}
}

func (p *Page) ID() string { return p.id }

func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ""
	}
	return p.url
}

// SetURL simulates an in-place navigation.
func (p *Page) SetURL(u string) {
	p.mu.Lock()
	p.url = u
	p.mu.Unlock()
}

// SetScreenshot replaces the PNG returned by Screenshot.
func (p *Page) SetScreenshot(b []byte) {
	p.mu.Lock()
	p.shot = b
	p.mu.Unlock()
}

// SetCloseError makes Close fail with err (the page still closes).
func (p *Page) SetCloseError(err error) {
	p.mu.Lock()
	p.closeErr = err
	p.mu.Unlock()
}

// OnReload registers a hook run on every Reload.
func (p *Page) OnReload(fn func(*Page)) {
	p.mu.Lock()
	p.onReload = fn
	p.mu.Unlock()
}

func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}
	p.shots++
	return append([]byte(nil), p.shot...), nil
}

func (p *Page) Reload(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.reloads++
	hook := p.onReload
	p.mu.Unlock()
	if hook != nil {
		hook(p)
	}
	return nil
}

func (p *Page) WaitLoad(ctx context.Context) error { return ctx.Err() }

func (p *Page) Close() error {
	p.mu.Lock()
	p.closed = true
	err := p.closeErr
	p.mu.Unlock()
	return err
}

// Closed reports whether Close was called.
func (p *Page) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Reloads counts Reload calls.
func (p *Page) Reloads() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reloads
}

// Shots counts Screenshot calls.
func (p *Page) Shots() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.shots
}

// Browser is a scripted tabs.Lister. Closed pages disappear from Pages.
type Browser struct {
	mu      sync.Mutex
	pages   []*Page
	listErr error
	lists   int
}

// NewBrowser creates a Browser with the given open pages.
func NewBrowser(pages ...*Page) *Browser {
	b := &Browser{}
	for _, p := range pages {
		b.Open(p)
	}
	return b
}

// Open adds p to the open pages.
func (b *Browser) Open(p *Page) {
	b.mu.Lock()
	b.pages = append(b.pages, p)
	b.mu.Unlock()
}

// SetListError makes Pages fail with err until reset with nil.
func (b *Browser) SetListError(err error) {
	b.mu.Lock()
	b.listErr = err
	b.mu.Unlock()
}

// Lists counts Pages calls.
func (b *Browser) Lists() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lists
}

func (b *Browser) Pages(ctx context.Context) ([]tabs.Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lists++
	if b.listErr != nil {
		return nil, b.listErr
	}
	out := make([]tabs.Page, 0, len(b.pages))
	for _, p := range b.pages {
		if !p.Closed() {
			out = append(out, p)
		}
	}
	return out, nil
}

// SolidPNG encodes a w×h image filled with c.
func SolidPNG(w, h int, c color.NRGBA) []byte {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic("tabstest: encode png: " + err.Error())
	}
	return buf.Bytes()
}
