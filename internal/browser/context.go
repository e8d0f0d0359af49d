// File: internal/browser/context.go
package browser

import (
	"context"
)

// CombineContext derives a context from parentCtx whose cancellation is also
// linked to secondaryCtx. chromedp contexts carry target information in their
// values, so the driver context must stay the parent while caller deadlines
// are still honored.
func CombineContext(parentCtx, secondaryCtx context.Context) (context.Context, context.CancelFunc) {
	combinedCtx, cancel := context.WithCancel(parentCtx)

	go func() {
		select {
		case <-secondaryCtx.Done():
			cancel()
		case <-combinedCtx.Done():
			// Already canceled from the parent or a direct call.
		}
	}()

	return combinedCtx, cancel
}
