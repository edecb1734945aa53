package browser

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/pagecheck/actioncache"
	"github.com/hazyhaar/pagecheck/selfheal"
)

// ActorConfig configures an Actor.
type ActorConfig struct {
	Page  *Page
	Cache *actioncache.Store
	// Resolver picks targets on a cache miss. Default: KeywordResolver.
	Resolver Resolver
	// ElementTimeout bounds the lookup and operation of one element. Default: 5s.
	ElementTimeout time.Duration
	Logger         *slog.Logger
}

// Actor performs instructions on one page, reusing cached targets keyed by
// (instruction, page URL). It implements selfheal.Actor.
type Actor struct {
	cfg ActorConfig
}

// NewActor creates an Actor.
func NewActor(cfg ActorConfig) *Actor {
	if cfg.Resolver == nil {
		cfg.Resolver = KeywordResolver{}
	}
	if cfg.ElementTimeout <= 0 {
		cfg.ElementTimeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Actor{cfg: cfg}
}

// Act resolves instruction to an element and operates it. Success means an
// element was found and operated, nothing more.
func (a *Actor) Act(ctx context.Context, instruction string) (selfheal.ActResult, error) {
	log := a.cfg.Logger
	pageURL := a.cfg.Page.URL()

	entry, err := a.cfg.Cache.Get(instruction, pageURL)
	if err != nil {
		log.Warn("browser: action cache read failed", "error", err)
	}
	if entry != nil {
		t := Target{Selector: entry.Selector, Operation: entry.Operation, Value: entry.Value}
		if err := a.operate(ctx, t); err == nil {
			entry.Hits++
			if err := a.cfg.Cache.Put(entry); err != nil {
				log.Warn("browser: action cache write failed", "error", err)
			}
			log.Info("browser: act from cache", "selector", entry.Selector, "hits", entry.Hits)
			return selfheal.ActResult{Success: true, Selector: entry.Selector, Cached: true}, nil
		}
		log.Info("browser: cached target stale, resolving again", "selector", entry.Selector, "error", err)
	}

	els, err := Observe(ctx, a.cfg.Page)
	if err != nil {
		return selfheal.ActResult{}, err
	}
	t, err := a.cfg.Resolver.Resolve(ctx, instruction, els)
	if err != nil {
		return selfheal.ActResult{}, fmt.Errorf("browser: resolve %q: %w", instruction, err)
	}
	if err := a.operate(ctx, t); err != nil {
		return selfheal.ActResult{}, err
	}

	if err := a.cfg.Cache.Put(&actioncache.Entry{
		Instruction: instruction,
		URL:         pageURL,
		Selector:    t.Selector,
		Operation:   t.Operation,
		Value:       t.Value,
		Description: t.Description,
	}); err != nil {
		log.Warn("browser: action cache write failed", "error", err)
	}
	log.Info("browser: act resolved", "selector", t.Selector, "target", t.Description)
	return selfheal.ActResult{Success: true, Selector: t.Selector}, nil
}

func (a *Actor) operate(ctx context.Context, t Target) error {
	page := a.cfg.Page.p.Context(ctx).Timeout(a.cfg.ElementTimeout)
	el, err := page.Element(t.Selector)
	if err != nil {
		return fmt.Errorf("browser: element %s: %w", t.Selector, err)
	}

	switch t.Operation {
	case actioncache.OpFill:
		// Replace existing content rather than appending to it.
		_ = el.SelectAllText()
		if err := el.Input(t.Value); err != nil {
			return fmt.Errorf("browser: input %s: %w", t.Selector, err)
		}
	default:
		if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
			// Overlays and zero-size wrappers reject synthetic mouse input.
			if _, jsErr := el.Eval(`() => this.click()`); jsErr != nil {
				return fmt.Errorf("browser: click %s: %w", t.Selector, err)
			}
		}
	}
	return nil
}
