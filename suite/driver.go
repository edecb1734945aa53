package suite

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/pagecheck/actioncache"
	"github.com/hazyhaar/pagecheck/browser"
	"github.com/hazyhaar/pagecheck/config"
	"github.com/hazyhaar/pagecheck/selfheal"
	"github.com/hazyhaar/pagecheck/tabs"
)

// Page is a page the suite inspects.
type Page interface {
	tabs.Page
	Title() string
	HTML(ctx context.Context) (string, error)
	FullScreenshot(ctx context.Context) ([]byte, error)
}

// Driver is the browser as the suite uses it.
type Driver interface {
	tabs.Lister
	// Open creates a page and navigates it to url.
	Open(ctx context.Context, url string) (Page, error)
	Observe(ctx context.Context, p Page) ([]browser.Element, error)
	// Actor returns the act capability bound to p.
	Actor(p Page, cache *actioncache.Store) selfheal.Actor
	Close() error
}

// DriverFactory starts a Driver for one run.
type DriverFactory func(ctx context.Context) (Driver, error)

// BrowserDriver returns a factory that launches Chrome through Rod as
// described by cfg.
func BrowserDriver(cfg *config.Config, logger *slog.Logger) DriverFactory {
	return func(ctx context.Context) (Driver, error) {
		mgr := browser.NewManager(browser.Config{
			RemoteURL:        cfg.Browser.Remote,
			Bin:              cfg.Browser.Bin,
			Mode:             browser.ParseMode(cfg.Browser.Mode),
			ResourceBlocking: cfg.Browser.ResourceBlocking,
			ViewportWidth:    cfg.Browser.ViewportWidth,
			ViewportHeight:   cfg.Browser.ViewportHeight,
			NavigateTimeout:  cfg.Browser.NavigateTimeout,
			XvfbDisplay:      cfg.Browser.XvfbDisplay,
			Logger:           logger,
		})
		sess, err := mgr.Start(ctx)
		if err != nil {
			mgr.Close()
			return nil, err
		}
		return &rodDriver{mgr: mgr, sess: sess, logger: logger}, nil
	}
}

type rodDriver struct {
	mgr    *browser.Manager
	sess   *browser.Session
	logger *slog.Logger
}

func (d *rodDriver) Pages(ctx context.Context) ([]tabs.Page, error) {
	return d.sess.Pages(ctx)
}

func (d *rodDriver) Open(ctx context.Context, url string) (Page, error) {
	p, err := d.sess.OpenPage(ctx)
	if err != nil {
		return nil, err
	}
	if err := d.sess.Navigate(ctx, p, url); err != nil {
		return p, err
	}
	return p, nil
}

func (d *rodDriver) Observe(ctx context.Context, p Page) ([]browser.Element, error) {
	bp, ok := p.(*browser.Page)
	if !ok {
		return nil, fmt.Errorf("suite: observe: unexpected page type %T", p)
	}
	return browser.Observe(ctx, bp)
}

func (d *rodDriver) Actor(p Page, cache *actioncache.Store) selfheal.Actor {
	return browser.NewActor(browser.ActorConfig{
		Page:   p.(*browser.Page),
		Cache:  cache,
		Logger: d.logger,
	})
}

func (d *rodDriver) Close() error {
	d.sess.Close()
	return d.mgr.Close()
}
