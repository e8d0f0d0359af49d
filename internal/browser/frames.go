// File: internal/browser/frames.go
package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// ErrFrameNotFound is wrapped by FindFrame when no target matches in time.
var ErrFrameNotFound = fmt.Errorf("frame not found")

// FindFrame polls the target list for an out-of-process iframe whose URL
// contains the given substring. Cross-origin widget frames (such as captcha
// anchor and challenge frames) surface as separate iframe targets.
func (s *Session) FindFrame(ctx context.Context, urlSubstring string, timeout time.Duration) (target.ID, error) {
	deadline := time.Now().Add(timeout)
	for {
		targets, err := s.listTargets()
		if err != nil {
			return "", fmt.Errorf("could not enumerate targets: %w", err)
		}
		for _, t := range targets {
			if t.Type == "iframe" && strings.Contains(t.URL, urlSubstring) {
				s.logger.Debug("Frame located.", zap.String("pattern", urlSubstring), zap.String("url", t.URL))
				return t.TargetID, nil
			}
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("%w: no iframe target matching %q after %s", ErrFrameNotFound, urlSubstring, timeout)
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(250 * time.Millisecond):
		}
	}
}

// AttachFrame returns a driver context bound to the given frame target.
// Actions run on it execute inside the frame's document. The caller must
// cancel the returned context when done.
func (s *Session) AttachFrame(id target.ID) (context.Context, context.CancelFunc, error) {
	frameCtx, cancel := chromedp.NewContext(s.base.ctx, chromedp.WithTargetID(id))
	if err := chromedp.Run(frameCtx); err != nil {
		cancel()
		return nil, nil, fmt.Errorf("could not attach to frame %s: %w", id, err)
	}
	return frameCtx, cancel, nil
}
