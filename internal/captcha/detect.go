// File: internal/captcha/detect.go
package captcha

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xkilldash9x/enroll-cli/internal/browser"
)

// Detect reports whether a challenge widget is reachable: either an element
// in the main document or an anchor frame target.
func (p *Pipeline) Detect(ctx context.Context) (bool, error) {
	var inDocument bool
	script := fmt.Sprintf(`document.querySelector(%q) !== null`, widgetSelector)
	if err := p.session.Page().Evaluate(ctx, script, &inDocument); err != nil {
		return false, fmt.Errorf("widget query failed: %w", err)
	}
	if inDocument {
		return true, nil
	}

	// Cross-origin widgets may render without a matching element in the top
	// document; the anchor frame target is the authoritative signal.
	_, err := p.session.FindFrame(ctx, anchorFramePath, 2*time.Second)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, browser.ErrFrameNotFound) {
		return false, nil
	}
	return false, err
}
