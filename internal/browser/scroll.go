// File: internal/browser/scroll.go
package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"
)

const (
	scrollSteps     = 8
	pageDownPresses = 6
)

// RevealElement brings the element into the viewport, escalating through
// three strategies: a direct scrollIntoView jump, stepped window scrolling,
// and finally keyboard paging. Some layouts swallow programmatic scrolls, so
// each strategy is verified before moving on.
func (p *Page) RevealElement(ctx context.Context, selector string) error {
	if visible, _ := p.elementInViewport(ctx, selector); visible {
		return nil
	}

	// Strategy 1: jump.
	jump := fmt.Sprintf(`(function() {
        const el = document.querySelector(%q);
        if (el) { el.scrollIntoView({ block: 'center' }); }
    })()`, selector)
	if err := p.Evaluate(ctx, jump, nil); err == nil {
		if visible, _ := p.elementInViewport(ctx, selector); visible {
			p.logger.Debug("Element revealed by jump scroll.", zap.String("selector", selector))
			return nil
		}
	}

	// Strategy 2: stepped scrolling from the top of the document.
	if err := p.Evaluate(ctx, `window.scrollTo(0, 0)`, nil); err != nil {
		return fmt.Errorf("stepped scroll reset failed: %w", err)
	}
	for i := 0; i < scrollSteps; i++ {
		if err := p.Evaluate(ctx, `window.scrollBy(0, window.innerHeight * 0.8)`, nil); err != nil {
			return fmt.Errorf("stepped scroll failed: %w", err)
		}
		if err := p.runActions(ctx, chromedp.Sleep(150*time.Millisecond)); err != nil {
			return err
		}
		if visible, _ := p.elementInViewport(ctx, selector); visible {
			p.logger.Debug("Element revealed by stepped scroll.", zap.String("selector", selector), zap.Int("steps", i+1))
			return nil
		}
	}

	// Strategy 3: keyboard paging. Reaches containers that ignore window
	// scrolling but honor focus-driven key events.
	if err := p.runActions(ctx, chromedp.Click("body", chromedp.ByQuery)); err != nil {
		p.logger.Debug("Could not focus body for keyboard paging.", zap.Error(err))
	}
	for i := 0; i < pageDownPresses; i++ {
		if err := p.runActions(ctx, chromedp.KeyEvent(kb.PageDown), chromedp.Sleep(150*time.Millisecond)); err != nil {
			return fmt.Errorf("keyboard paging failed: %w", err)
		}
		if visible, _ := p.elementInViewport(ctx, selector); visible {
			p.logger.Debug("Element revealed by keyboard paging.", zap.String("selector", selector), zap.Int("presses", i+1))
			return nil
		}
	}

	return fmt.Errorf("element %q not reachable by any scroll strategy", selector)
}

// elementInViewport reports whether the element's box intersects the
// viewport.
func (p *Page) elementInViewport(ctx context.Context, selector string) (bool, error) {
	var visible bool
	script := fmt.Sprintf(`(function() {
        const el = document.querySelector(%q);
        if (!el) { return false; }
        const r = el.getBoundingClientRect();
        return r.width > 0 && r.height > 0 &&
            r.bottom > 0 && r.top < window.innerHeight &&
            r.right > 0 && r.left < window.innerWidth;
    })()`, selector)
	if err := p.Evaluate(ctx, script, &visible); err != nil {
		return false, err
	}
	return visible, nil
}
