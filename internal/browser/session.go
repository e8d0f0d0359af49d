// File: internal/browser/session.go

// Package browser manages the browser process, tabs, popup policy, storage
// state persistence and form interaction for the automation flows.
package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/enroll-cli/internal/config"
)

// ErrSessionClosed is returned by operations on a closed session.
var ErrSessionClosed = errors.New("browser session is closed")

// Session owns one browser process and tracks the current page. A Session is
// intended to be driven from a single goroutine (the runtime bridge).
type Session struct {
	id     string
	logger *zap.Logger
	cfg    config.BrowserConfig

	allocCtx    context.Context
	allocCancel context.CancelFunc

	// base is the first tab; it anchors browser-level event listeners and is
	// kept alive until Close.
	base *Page

	mu          sync.Mutex
	page        *Page
	retired     []*Page
	popupPolicy config.PopupPolicy
	isClosed    bool

	// Popup policy actions, swappable in tests.
	onPopupSwitch   func(info *target.Info, logger *zap.Logger)
	onPopupRedirect func(info *target.Info, logger *zap.Logger)
	onPopupDiscard  func(info *target.Info, logger *zap.Logger)
}

// NewSession creates an unstarted session.
func NewSession(cfg config.BrowserConfig, logger *zap.Logger) *Session {
	sessionID := uuid.New().String()
	s := &Session{
		id:          sessionID,
		logger:      logger.Named("browser").With(zap.String("session_id", sessionID)),
		cfg:         cfg,
		popupPolicy: cfg.PopupPolicy,
	}
	s.onPopupSwitch = s.switchToPopup
	s.onPopupRedirect = s.redirectToPopupURL
	s.onPopupDiscard = func(info *target.Info, logger *zap.Logger) {
		s.closeTarget(info.TargetID, logger)
	}
	return s
}

// ID returns the unique identifier for the session.
func (s *Session) ID() string {
	return s.id
}

// Start launches the browser, restores persisted storage state and installs
// the popup watcher.
func (s *Session) Start(ctx context.Context) error {
	s.logger.Info("Starting browser session.",
		zap.Bool("headless", s.cfg.Headless),
		zap.Bool("extension_mode", s.cfg.ExtensionPath != ""),
	)

	if s.cfg.ResetState {
		if err := s.resetRunState(); err != nil {
			return fmt.Errorf("failed to reset browser state: %w", err)
		}
	}

	opts := s.allocatorOptions()
	s.allocCtx, s.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)

	tabCtx, tabCancel := chromedp.NewContext(s.allocCtx, chromedp.WithLogf(func(format string, args ...interface{}) {
		s.logger.Debug(fmt.Sprintf(format, args...))
	}))
	s.base = newPage(tabCtx, tabCancel, s.cfg, s.logger)
	s.page = s.base

	// Connecting to the target starts the browser process. The timeout
	// context keeps the chromedp target values while bounding the launch.
	startCtx, cancel := context.WithTimeout(tabCtx, 60*time.Second)
	defer cancel()
	if err := chromedp.Run(startCtx); err != nil {
		s.teardownAfterStartFailure()
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	if err := s.restoreStorageState(ctx); err != nil {
		// Missing or stale state is not fatal for a fresh run.
		s.logger.Warn("Could not restore storage state.", zap.Error(err))
	}

	s.watchPopups()
	return nil
}

// resetRunState deletes the persisted storage state and the profile
// directory, so nothing from a previous run leaks into this one.
func (s *Session) resetRunState() error {
	var errs []error
	if s.cfg.StateFile != "" {
		if err := os.Remove(s.cfg.StateFile); err != nil && !os.IsNotExist(err) {
			errs = append(errs, fmt.Errorf("remove state file: %w", err))
		}
	}
	if s.cfg.ProfileDir != "" {
		if err := os.RemoveAll(s.cfg.ProfileDir); err != nil {
			errs = append(errs, fmt.Errorf("remove profile dir: %w", err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	s.logger.Debug("Cleared persisted browser state.")
	return nil
}

func (s *Session) teardownAfterStartFailure() {
	if s.base != nil {
		s.base.Close()
	}
	if s.allocCancel != nil {
		s.allocCancel()
	}
}

// allocatorOptions builds the exec allocator flag set. Extension mode forces
// a visible browser with a persistent profile, since unpacked extensions do
// not load headless.
func (s *Session) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)

	headless := s.cfg.Headless
	if s.cfg.ExtensionPath != "" {
		headless = false
		opts = append(opts,
			chromedp.UserDataDir(s.cfg.ProfileDir),
			chromedp.Flag("load-extension", s.cfg.ExtensionPath),
			chromedp.Flag("disable-extensions-except", s.cfg.ExtensionPath),
		)
	}
	if !headless {
		opts = append(opts, chromedp.Flag("headless", false))
	}

	opts = append(opts,
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if s.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(s.cfg.UserAgent))
	}
	if s.cfg.WindowWidth > 0 && s.cfg.WindowHeight > 0 {
		opts = append(opts, chromedp.WindowSize(s.cfg.WindowWidth, s.cfg.WindowHeight))
	}
	if s.cfg.Locale != "" {
		opts = append(opts, chromedp.Flag("lang", s.cfg.Locale))
	}
	for _, arg := range s.cfg.Args {
		opts = append(opts, chromedp.Flag(arg, true))
	}
	return opts
}

// Page returns the current page.
func (s *Session) Page() *Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.page
}

// PopupPolicy returns the active popup policy.
func (s *Session) PopupPolicy() config.PopupPolicy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.popupPolicy
}

// SetPopupPolicy changes how new targets are handled and returns the previous
// policy, so callers can restore it.
func (s *Session) SetPopupPolicy(p config.PopupPolicy) config.PopupPolicy {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.popupPolicy
	s.popupPolicy = p
	s.logger.Debug("Popup policy changed.", zap.String("from", string(prev)), zap.String("to", string(p)))
	return prev
}

// NewIsolatedPage opens a tab inside a brand-new browser context. The tab
// shares the browser process but nothing else: cookies, storage and cache are
// separate from the main session.
func (s *Session) NewIsolatedPage(ctx context.Context) (*Page, error) {
	s.mu.Lock()
	if s.isClosed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	base := s.base
	s.mu.Unlock()

	c := chromedp.FromContext(base.ctx)
	if c == nil || c.Browser == nil {
		return nil, errors.New("browser connection not established")
	}
	execCtx := cdp.WithExecutor(base.ctx, c.Browser)

	browserContextID, err := target.CreateBrowserContext().WithDisposeOnDetach(true).Do(execCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to create isolated browser context: %w", err)
	}

	targetID, err := target.CreateTarget("about:blank").WithBrowserContextID(browserContextID).Do(execCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to create tab in isolated context: %w", err)
	}

	tabCtx, tabCancel := chromedp.NewContext(base.ctx, chromedp.WithTargetID(targetID))
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		return nil, fmt.Errorf("failed to attach to isolated tab: %w", err)
	}

	page := newPage(tabCtx, tabCancel, s.cfg, s.logger.With(zap.String("isolated_context", string(browserContextID))))
	s.logger.Info("Opened isolated page.", zap.String("target_id", string(targetID)))

	s.mu.Lock()
	s.retired = append(s.retired, page)
	s.mu.Unlock()
	return page, nil
}

// Close persists storage state and tears everything down. Close is
// idempotent and best-effort: every step runs even when earlier ones fail,
// and the collected failures are reported once.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.isClosed {
		s.mu.Unlock()
		return nil
	}
	s.isClosed = true
	page := s.page
	retired := s.retired
	s.mu.Unlock()

	s.logger.Debug("Closing browser session.")
	var errs []error

	if s.base != nil {
		if err := s.saveStorageState(ctx); err != nil {
			errs = append(errs, fmt.Errorf("save storage state: %w", err))
		}
	}

	if page != nil && page != s.base {
		page.Close()
	}
	for _, p := range retired {
		p.Close()
	}
	if s.base != nil {
		s.base.Close()
	}
	if s.allocCancel != nil {
		s.allocCancel()
	}

	if len(errs) > 0 {
		err := errors.Join(errs...)
		s.logger.Warn("Session closed with cleanup failures.", zap.Error(err))
		return err
	}
	s.logger.Info("Browser session closed.")
	return nil
}
