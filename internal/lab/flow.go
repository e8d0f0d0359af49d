// File: internal/lab/flow.go
package lab

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/enroll-cli/internal/browser"
	"github.com/xkilldash9x/enroll-cli/internal/captcha"
	"github.com/xkilldash9x/enroll-cli/internal/config"
)

// Page is the slice of browser page behavior the flow drives. Satisfied by
// *browser.Page.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Click(ctx context.Context, selector string) error
	CurrentURL(ctx context.Context) (string, error)
	Exists(ctx context.Context, selector string) (bool, error)
	Text(ctx context.Context, selector string) (string, error)
	Evaluate(ctx context.Context, script string, res interface{}) error
	Close()
}

// Solver resolves the lab page challenge. Satisfied by *captcha.Pipeline.
type Solver interface {
	Solve(ctx context.Context) (captcha.SolveResult, error)
}

// Flow runs the lab: start the lab, pass the challenge, open the console in
// an isolated context, accept terms, and extract the provisioned credential.
type Flow struct {
	page           Page
	newIsolated    func(ctx context.Context) (Page, error)
	setPopupPolicy func(config.PopupPolicy) config.PopupPolicy
	solver         Solver
	cfg            config.LabConfig
	logger         *zap.Logger
}

// NewFlow wires the flow to a live browser session.
func NewFlow(session *browser.Session, solver Solver, cfg config.LabConfig, logger *zap.Logger) *Flow {
	return newFlow(
		session.Page(),
		func(ctx context.Context) (Page, error) { return session.NewIsolatedPage(ctx) },
		session.SetPopupPolicy,
		solver, cfg, logger,
	)
}

func newFlow(page Page, newIsolated func(ctx context.Context) (Page, error),
	setPopupPolicy func(config.PopupPolicy) config.PopupPolicy,
	solver Solver, cfg config.LabConfig, logger *zap.Logger) *Flow {
	return &Flow{
		page:           page,
		newIsolated:    newIsolated,
		setPopupPolicy: setPopupPolicy,
		solver:         solver,
		cfg:            cfg,
		logger:         logger.Named("lab"),
	}
}

// Run executes the full lab flow against labURL. The flow never follows or
// switches to popups: the lab UI opens the console in a new window, and the
// flow opens its own isolated page instead so console cookies stay out of
// the main profile. The previous popup policy is restored on return.
func (f *Flow) Run(ctx context.Context, labURL string) (Result, error) {
	previous := f.setPopupPolicy(config.PopupIgnore)
	defer f.setPopupPolicy(previous)

	f.logger.Info("Step 1: Opening lab page.", zap.String("url", labURL))
	if err := f.page.Navigate(ctx, labURL); err != nil {
		return failed("could not open lab page"), fmt.Errorf("navigate to lab: %w", err)
	}

	f.logger.Info("Step 2: Starting lab.")
	if err := f.clickStart(ctx); err != nil {
		return failed("start control not found"), err
	}

	f.logger.Info("Step 3: Resolving lab challenge.")
	solve, err := f.solver.Solve(ctx)
	if err != nil && !errors.Is(err, captcha.ErrExhausted) {
		return failed("challenge resolution failed"), err
	}
	if solve.Status == captcha.StatusExhausted {
		return failed("challenge attempts exhausted"), captcha.ErrExhausted
	}

	f.logger.Info("Step 4: Locating console URL.")
	consoleURL, err := f.discoverConsoleURL(ctx)
	if err != nil {
		return failed("console URL never appeared on lab page"), err
	}

	f.logger.Info("Step 5: Opening console in isolated context.", zap.String("url", consoleURL))
	console, err := f.newIsolated(ctx)
	if err != nil {
		return failed("could not open isolated console page"), err
	}
	defer console.Close()

	if err := console.Navigate(ctx, consoleURL); err != nil {
		return failed("console navigation failed"), fmt.Errorf("navigate to console: %w", err)
	}

	f.logger.Info("Step 6: Accepting console terms.")
	if err := f.acceptTerms(ctx, console); err != nil {
		// A missing terms dialog is normal on repeat visits.
		f.logger.Debug("Terms dialog was not accepted.", zap.Error(err))
	}

	f.logger.Info("Step 7: Reading project identifier.")
	projectID, err := f.awaitProjectID(ctx, console)
	if err != nil {
		return failed("project identifier not present in console URL"), err
	}

	f.logger.Info("Step 8: Extracting credential.", zap.String("project_id", projectID))
	credential, err := f.extractCredential(ctx, console, projectID)
	if err != nil {
		return Result{Success: false, ProjectID: projectID, Error: "credential never materialized"}, err
	}

	f.logger.Info("Lab flow complete.")
	return Result{Success: true, ProjectID: projectID, Credential: credential}, nil
}

// discoverConsoleURL polls the lab page for the console link the lab panel
// exposes once provisioning finishes.
func (f *Flow) discoverConsoleURL(ctx context.Context) (string, error) {
	timeout := f.cfg.StartTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	pollCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		var href string
		if err := f.page.Evaluate(pollCtx, consoleLinkScript, &href); err == nil && href != "" {
			return href, nil
		}
		select {
		case <-pollCtx.Done():
			return "", fmt.Errorf("console link did not appear within %s: %w", timeout, pollCtx.Err())
		case <-ticker.C:
		}
	}
}

// awaitProjectID reads the project from the console URL, polling briefly
// because the console rewrites its URL after the initial load.
func (f *Flow) awaitProjectID(ctx context.Context, console Page) (string, error) {
	pollCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		current, err := console.CurrentURL(pollCtx)
		if err == nil {
			if id, parseErr := ParseProjectID(current); parseErr == nil {
				return id, nil
			}
		}
		select {
		case <-pollCtx.Done():
			return "", fmt.Errorf("project id not found in console URL: %w", pollCtx.Err())
		case <-ticker.C:
		}
	}
}
