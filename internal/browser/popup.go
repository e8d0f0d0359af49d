// File: internal/browser/popup.go
package browser

import (
	"context"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/enroll-cli/internal/config"
)

const popupURLWait = 3 * time.Second

// watchPopups installs the browser-level target watcher that enforces the
// popup policy. Registered once at Start; the base tab anchors the listener
// for the whole browser lifetime.
func (s *Session) watchPopups() {
	chromedp.ListenBrowser(s.base.ctx, func(ev interface{}) {
		created, ok := ev.(*target.EventTargetCreated)
		if !ok {
			return
		}
		info := created.TargetInfo
		// Only windows opened by a page are popups. Tabs we create ourselves
		// (isolated pages) have no opener.
		if info.Type != "page" || info.OpenerID == "" {
			return
		}
		// Listener callbacks must not block the event loop.
		go s.handlePopup(info)
	})
}

func (s *Session) handlePopup(info *target.Info) {
	policy := s.PopupPolicy()
	logger := s.logger.With(
		zap.String("popup_target", string(info.TargetID)),
		zap.String("policy", string(policy)),
	)
	logger.Debug("Popup detected.", zap.String("url", info.URL))

	s.mu.Lock()
	closed := s.isClosed
	s.mu.Unlock()
	if closed {
		return
	}

	switch policy {
	case config.PopupSwitch:
		s.onPopupSwitch(info, logger)
	case config.PopupIgnore:
		// The current page never changes; the popup is discarded.
		s.onPopupDiscard(info, logger)
	case config.PopupRedirect:
		fallthrough
	default:
		s.onPopupRedirect(info, logger)
	}
}

// switchToPopup attaches to the popup target and makes it the current page.
func (s *Session) switchToPopup(info *target.Info, logger *zap.Logger) {
	tabCtx, tabCancel := chromedp.NewContext(s.base.ctx, chromedp.WithTargetID(info.TargetID))
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		logger.Warn("Could not attach to popup; leaving current page unchanged.", zap.Error(err))
		return
	}

	popupPage := newPage(tabCtx, tabCancel, s.cfg, s.logger)

	s.mu.Lock()
	if s.isClosed {
		s.mu.Unlock()
		popupPage.Close()
		return
	}
	old := s.page
	s.page = popupPage
	if old != nil && old != s.base {
		s.retired = append(s.retired, old)
	}
	s.mu.Unlock()

	logger.Info("Switched current page to popup.")
}

// redirectToPopupURL closes the popup and drives the current page to the URL
// the popup was heading for.
func (s *Session) redirectToPopupURL(info *target.Info, logger *zap.Logger) {
	url := s.awaitPopupURL(info)
	s.closeTarget(info.TargetID, logger)

	if url == "" || url == "about:blank" {
		logger.Warn("Popup never reported a usable URL; nothing to redirect to.")
		return
	}

	navCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.Page().Navigate(navCtx, url); err != nil {
		logger.Warn("Redirect navigation failed.", zap.String("url", url), zap.Error(err))
		return
	}
	logger.Info("Redirected current page to popup URL.", zap.String("url", url))
}

// awaitPopupURL polls the target list until the popup has committed to a real
// URL. Popups are frequently created as about:blank and navigate afterwards.
func (s *Session) awaitPopupURL(info *target.Info) string {
	best := info.URL

	deadline := time.Now().Add(popupURLWait)
	for time.Now().Before(deadline) {
		targets, err := s.listTargets()
		if err != nil {
			break
		}
		for _, t := range targets {
			if t.TargetID == info.TargetID && t.URL != "" && t.URL != "about:blank" {
				return t.URL
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	return best
}

// listTargets enumerates all targets via the browser connection.
func (s *Session) listTargets() ([]*target.Info, error) {
	c := chromedp.FromContext(s.base.ctx)
	execCtx := cdp.WithExecutor(s.base.ctx, c.Browser)
	return target.GetTargets().Do(execCtx)
}

// closeTarget closes a target through the browser connection, tolerating
// targets that are already gone.
func (s *Session) closeTarget(id target.ID, logger *zap.Logger) {
	c := chromedp.FromContext(s.base.ctx)
	execCtx := cdp.WithExecutor(s.base.ctx, c.Browser)
	if err := target.CloseTarget(id).Do(execCtx); err != nil {
		logger.Debug("Could not close popup target.", zap.Error(err))
	}
}
