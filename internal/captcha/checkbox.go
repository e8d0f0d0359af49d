// File: internal/captcha/checkbox.go
package captcha

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/enroll-cli/internal/browser"
)

// clickCheckbox clicks the widget checkbox inside the anchor frame. When the
// anchor frame cannot be located (inline widgets render in-process), it falls
// back to clicking the widget container on the page itself.
func (p *Pipeline) clickCheckbox(ctx context.Context) error {
	frameID, err := p.session.FindFrame(ctx, anchorFramePath, 5*time.Second)
	if err != nil {
		if !errors.Is(err, browser.ErrFrameNotFound) {
			return err
		}
		p.logStep("checkbox", "fallback", "no anchor frame; clicking page widget")
		if err := p.session.Page().Click(ctx, widgetSelector); err != nil {
			return fmt.Errorf("page-level widget click failed: %w", err)
		}
		return nil
	}

	frameCtx, cancel, err := p.session.AttachFrame(frameID)
	if err != nil {
		return err
	}
	defer cancel()

	clickCtx, clickCancel := context.WithTimeout(frameCtx, p.stepTimeout())
	defer clickCancel()

	err = chromedp.Run(clickCtx,
		chromedp.WaitVisible(checkboxSelector, chromedp.ByQuery),
		chromedp.Click(checkboxSelector, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("anchor frame checkbox click failed: %w", err)
	}
	p.logStep("checkbox", "ok", "clicked in anchor frame")
	return nil
}

// checkboxSolved reads the checkbox's checked state from the anchor frame.
func (p *Pipeline) checkboxSolved(ctx context.Context) bool {
	frameID, err := p.session.FindFrame(ctx, anchorFramePath, 2*time.Second)
	if err != nil {
		return false
	}
	frameCtx, cancel, err := p.session.AttachFrame(frameID)
	if err != nil {
		return false
	}
	defer cancel()

	var checked string
	checkCtx, checkCancel := context.WithTimeout(frameCtx, 5*time.Second)
	defer checkCancel()
	err = chromedp.Run(checkCtx,
		chromedp.AttributeValue(checkboxSelector, "aria-checked", &checked, nil, chromedp.ByQuery),
	)
	return err == nil && checked == "true"
}

// challengeOpen reports whether the image/audio challenge frame is present.
func (p *Pipeline) challengeOpen(ctx context.Context) bool {
	_, err := p.session.FindFrame(ctx, bframePath, 2*time.Second)
	return err == nil
}

// reloadChallenge clicks the challenge frame's reload control, dealing a
// fresh challenge for the next pass.
func (p *Pipeline) reloadChallenge(ctx context.Context) error {
	frameID, err := p.session.FindFrame(ctx, bframePath, 5*time.Second)
	if err != nil {
		return fmt.Errorf("challenge frame not found for reload: %w", err)
	}

	frameCtx, cancel, err := p.session.AttachFrame(frameID)
	if err != nil {
		return err
	}
	defer cancel()

	clickCtx, clickCancel := context.WithTimeout(frameCtx, p.stepTimeout())
	defer clickCancel()

	err = chromedp.Run(clickCtx,
		chromedp.WaitVisible(reloadSelector, chromedp.ByQuery),
		chromedp.Click(reloadSelector, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("challenge reload click failed: %w", err)
	}
	p.logStep("reload", "ok", "dealt a fresh challenge")
	return nil
}
