// File: internal/browser/page.go
package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/enroll-cli/internal/config"
)

// Page wraps a single browser tab. All methods run against the tab's driver
// context combined with the caller's context.
type Page struct {
	ctx    context.Context
	cancel context.CancelFunc
	cfg    config.BrowserConfig
	logger *zap.Logger
}

func newPage(ctx context.Context, cancel context.CancelFunc, cfg config.BrowserConfig, logger *zap.Logger) *Page {
	return &Page{ctx: ctx, cancel: cancel, cfg: cfg, logger: logger}
}

// Context exposes the underlying driver context for packages that run their
// own protocol commands against this tab.
func (p *Page) Context() context.Context {
	return p.ctx
}

// Navigate loads the URL and waits for the page to settle.
func (p *Page) Navigate(ctx context.Context, url string) error {
	p.logger.Debug("Navigating to URL", zap.String("url", url))

	opCtx, opCancel := CombineContext(p.ctx, ctx)
	defer opCancel()

	navTimeout := p.cfg.NavigationTimeout
	if navTimeout <= 0 {
		navTimeout = 90 * time.Second
	}
	navCtx, navCancel := context.WithTimeout(opCtx, navTimeout)
	defer navCancel()

	if err := chromedp.Run(navCtx, chromedp.Navigate(url)); err != nil {
		if navCtx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("navigation timed out after %s: %w", navTimeout, err)
		}
		if opCtx.Err() != nil {
			return fmt.Errorf("navigation canceled: %w", opCtx.Err())
		}
		return fmt.Errorf("navigation failed: %w", err)
	}

	if err := p.stabilize(opCtx); err != nil {
		if opCtx.Err() != nil {
			return opCtx.Err()
		}
		p.logger.Warn("Page stabilization failed after navigation (non-critical).", zap.Error(err))
	}
	return nil
}

// stabilize waits for the DOM to be ready plus the configured quiet period.
func (p *Page) stabilize(ctx context.Context) error {
	stabCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := chromedp.Run(stabCtx, chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.logger.Debug("WaitReady failed during stabilization.", zap.Error(err))
	}

	quiet := p.cfg.PostLoadWait
	if quiet <= 0 {
		quiet = 1500 * time.Millisecond
	}
	return chromedp.Run(stabCtx, chromedp.Sleep(quiet))
}

// CurrentURL returns the tab's location.
func (p *Page) CurrentURL(ctx context.Context) (string, error) {
	var url string
	if err := p.runActions(ctx, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("could not read current location: %w", err)
	}
	return url, nil
}

// Click scrolls the element into view and clicks it.
func (p *Page) Click(ctx context.Context, selector string) error {
	p.logger.Debug("Attempting to click element", zap.String("selector", selector))

	actionCtx, cancel := p.actionContext(ctx)
	defer cancel()

	err := chromedp.Run(actionCtx,
		chromedp.ScrollIntoView(selector, chromedp.ByQuery),
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Click(selector, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("click action failed for selector %q: %w", selector, err)
	}
	return nil
}

// Type sends keys into the element matching the selector.
func (p *Page) Type(ctx context.Context, selector, text string) error {
	p.logger.Debug("Attempting to type into element", zap.String("selector", selector), zap.Int("text_length", len(text)))

	actionCtx, cancel := p.actionContext(ctx)
	defer cancel()

	err := chromedp.Run(actionCtx,
		chromedp.ScrollIntoView(selector, chromedp.ByQuery),
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, text, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("type action failed for selector %q: %w", selector, err)
	}
	return nil
}

// WaitVisible blocks until the selector is visible.
func (p *Page) WaitVisible(ctx context.Context, selector string) error {
	actionCtx, cancel := p.actionContext(ctx)
	defer cancel()

	if err := chromedp.Run(actionCtx, chromedp.WaitVisible(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("element %q did not become visible: %w", selector, err)
	}
	return nil
}

// Text returns the trimmed text content of the first match, or "" when the
// selector matches nothing.
func (p *Page) Text(ctx context.Context, selector string) (string, error) {
	var text string
	script := fmt.Sprintf(`(function() {
        const el = document.querySelector(%q);
        return el ? (el.textContent || '') : '';
    })()`, selector)
	if err := p.Evaluate(ctx, script, &text); err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// Exists reports whether the selector matches any element.
func (p *Page) Exists(ctx context.Context, selector string) (bool, error) {
	var found bool
	script := fmt.Sprintf(`document.querySelector(%q) !== null`, selector)
	if err := p.Evaluate(ctx, script, &found); err != nil {
		return false, err
	}
	return found, nil
}

// Evaluate runs a snippet of JavaScript in the current document and
// optionally unmarshals the result into res.
func (p *Page) Evaluate(ctx context.Context, script string, res interface{}) error {
	return p.runActions(ctx, chromedp.Evaluate(script, res))
}

// Close tears down the tab. Idempotent through the cancel func.
func (p *Page) Close() {
	if p.cancel != nil {
		p.cancel()
	}
}

func (p *Page) actionContext(ctx context.Context) (context.Context, context.CancelFunc) {
	opCtx, opCancel := CombineContext(p.ctx, ctx)
	timeout := p.cfg.ActionTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	actionCtx, timeoutCancel := context.WithTimeout(opCtx, timeout)
	return actionCtx, func() {
		timeoutCancel()
		opCancel()
	}
}

// runActions executes chromedp actions, respecting both the tab lifetime and
// the incoming request context.
func (p *Page) runActions(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := CombineContext(p.ctx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}
