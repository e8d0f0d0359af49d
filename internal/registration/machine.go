// File: internal/registration/machine.go

// Package registration runs the account sign-up flow as an explicit state
// machine: Init → Navigated → FormFilled → CaptchaPending → Submitted →
// terminal outcome.
package registration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/enroll-cli/internal/browser"
	"github.com/xkilldash9x/enroll-cli/internal/captcha"
	"github.com/xkilldash9x/enroll-cli/internal/config"
	"github.com/xkilldash9x/enroll-cli/internal/identity"
)

// State is a position in the sign-up flow.
type State string

const (
	StateInit           State = "init"
	StateNavigated      State = "navigated"
	StateFormFilled     State = "form_filled"
	StateCaptchaPending State = "captcha_pending"
	StateSubmitted      State = "submitted"
)

// ErrCaptchaUnresolved flags a submission attempted before the challenge was
// resolved. This is a bug in the caller, never a runtime condition to retry.
var ErrCaptchaUnresolved = errors.New("submit called with unresolved captcha")

// legalTransitions encodes the only allowed state changes.
var legalTransitions = map[State][]State{
	StateInit:           {StateNavigated},
	StateNavigated:      {StateFormFilled},
	StateFormFilled:     {StateCaptchaPending},
	StateCaptchaPending: {StateSubmitted},
}

// Page is the browser surface the machine drives. *browser.Page satisfies
// it; tests substitute fakes.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Click(ctx context.Context, selector string) error
	FillForm(ctx context.Context, items []browser.FieldValue) error
	SetChecked(ctx context.Context, selector string, checked bool) error
	SelectOption(ctx context.Context, selector, value string) error
	CurrentURL(ctx context.Context) (string, error)
	Text(ctx context.Context, selector string) (string, error)
	Exists(ctx context.Context, selector string) (bool, error)
}

// Solver resolves the page's challenge widget.
type Solver interface {
	Solve(ctx context.Context) (captcha.SolveResult, error)
}

// Machine executes registrations.
type Machine struct {
	cfg    config.RegistrationConfig
	page   Page
	solver Solver
	logger *zap.Logger

	state State
}

// NewMachine builds a machine over a page and a challenge solver.
func NewMachine(page Page, solver Solver, cfg config.RegistrationConfig, logger *zap.Logger) *Machine {
	return &Machine{
		cfg:    cfg,
		page:   page,
		solver: solver,
		logger: logger.Named("registration"),
		state:  StateInit,
	}
}

// State returns the machine's current state.
func (m *Machine) State() State {
	return m.state
}

// transition moves to next, rejecting anything the flow does not allow.
func (m *Machine) transition(next State) error {
	for _, allowed := range legalTransitions[m.state] {
		if allowed == next {
			m.logger.Debug("State transition.", zap.String("from", string(m.state)), zap.String("to", string(next)))
			m.state = next
			return nil
		}
	}
	return fmt.Errorf("illegal transition %s -> %s", m.state, next)
}

// Run registers the profile, retrying failed attempts up to the configured
// budget. Unknown outcomes are retried at most once: re-submitting an
// account that may exist is worse than reporting uncertainty.
func (m *Machine) Run(ctx context.Context, profile identity.Profile) Result {
	maxAttempts := m.cfg.MaxRetries + 1
	unknownRetried := false

	var last Result
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return failure(m.state, attempt-1, err.Error(), "")
		}

		m.state = StateInit
		last = m.runOnce(ctx, profile)
		last.Attempts = attempt

		switch last.Outcome {
		case OutcomeSuccess:
			return last
		case OutcomeUnknown:
			if unknownRetried || attempt == maxAttempts {
				return last
			}
			unknownRetried = true
			m.logger.Warn("Attempt ended without a clear signal; retrying once.", zap.Int("attempt", attempt))
		case OutcomeFailure:
			if attempt == maxAttempts {
				return last
			}
			m.logger.Warn("Attempt failed; retrying.", zap.Int("attempt", attempt), zap.String("reason", last.Error))
		}
	}
	return last
}

// runOnce performs a single pass through the whole flow.
func (m *Machine) runOnce(ctx context.Context, profile identity.Profile) Result {
	if err := m.navigate(ctx); err != nil {
		return failure(m.state, 0, err.Error(), "")
	}
	if err := m.fillForm(ctx, profile); err != nil {
		return failure(m.state, 0, err.Error(), "")
	}

	solveResult, err := m.resolveCaptcha(ctx)
	if err != nil {
		return failure(m.state, 0, err.Error(), "")
	}

	if err := m.submit(ctx, solveResult); err != nil {
		return failure(m.state, 0, err.Error(), "")
	}

	return m.detectOutcome(ctx)
}

// navigate opens the sign-up page, following the entry link when the base
// URL lands elsewhere.
func (m *Machine) navigate(ctx context.Context) error {
	url := strings.TrimRight(m.cfg.BaseURL, "/") + "/users/sign_up"
	if err := m.page.Navigate(ctx, url); err != nil {
		return fmt.Errorf("could not open sign-up page: %w", err)
	}

	current, err := m.page.CurrentURL(ctx)
	if err == nil && !strings.Contains(current, m.signupPattern()) {
		if has, _ := m.page.Exists(ctx, signUpEntrySelector); has {
			m.logger.Debug("Landed off the form; following sign-up entry link.")
			if err := m.page.Click(ctx, signUpEntrySelector); err != nil {
				return fmt.Errorf("could not follow sign-up link: %w", err)
			}
		}
	}
	return m.transition(StateNavigated)
}

// fillForm writes the account fields, the birth-date dropdowns and the
// marketing preference.
func (m *Machine) fillForm(ctx context.Context, profile identity.Profile) error {
	if err := m.page.FillForm(ctx, formPlan(profile)); err != nil {
		return fmt.Errorf("form fill failed: %w", err)
	}

	if err := m.fillBirthDate(ctx, profile); err != nil {
		return err
	}
	if err := m.setMarketingOptIn(ctx); err != nil {
		return err
	}
	return m.transition(StateFormFilled)
}

// fillBirthDate drives the three dropdowns. Forms without a birth-date block
// are tolerated.
func (m *Machine) fillBirthDate(ctx context.Context, profile identity.Profile) error {
	for _, item := range birthDatePlan(profile) {
		if has, _ := m.page.Exists(ctx, item.Selector); !has {
			m.logger.Debug("Birth date control absent; skipping.", zap.String("selector", item.Selector))
			continue
		}
		if err := m.page.SelectOption(ctx, item.Selector, item.Value); err != nil {
			return fmt.Errorf("birth date selection failed: %w", err)
		}
	}
	return nil
}

// setMarketingOptIn forces the marketing checkbox to the configured state.
func (m *Machine) setMarketingOptIn(ctx context.Context) error {
	if has, _ := m.page.Exists(ctx, marketingOptInSelector); !has {
		return nil
	}
	if err := m.page.SetChecked(ctx, marketingOptInSelector, m.cfg.MarketingOptIn); err != nil {
		return fmt.Errorf("marketing opt-in failed: %w", err)
	}
	return nil
}

// resolveCaptcha runs the challenge pipeline.
func (m *Machine) resolveCaptcha(ctx context.Context) (captcha.SolveResult, error) {
	if err := m.transition(StateCaptchaPending); err != nil {
		return captcha.SolveResult{}, err
	}

	result, err := m.solver.Solve(ctx)
	if err != nil {
		return result, fmt.Errorf("captcha resolution failed: %w", err)
	}
	return result, nil
}

// submit clicks the form's submit control. Submitting with an unresolved
// challenge is rejected outright.
func (m *Machine) submit(ctx context.Context, solveResult captcha.SolveResult) error {
	if solveResult.Status != captcha.StatusSolved && solveResult.Status != captcha.StatusNotPresent {
		return ErrCaptchaUnresolved
	}

	if err := m.page.Click(ctx, submitSelector); err != nil {
		return fmt.Errorf("submit click failed: %w", err)
	}
	return m.transition(StateSubmitted)
}

// signupPattern returns the URL fragment that marks the sign-up page.
func (m *Machine) signupPattern() string {
	if m.cfg.SignupURLPattern != "" {
		return m.cfg.SignupURLPattern
	}
	return "sign_up"
}

// detectOutcome watches the page for the success or failure signal. A URL
// that has left the sign-up page wins; visible inline error text loses; when
// the window closes still on the sign-up URL with neither, the run is
// Unknown.
func (m *Machine) detectOutcome(ctx context.Context) Result {
	timeout := m.cfg.SubmitTimeout
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	deadline := time.Now().Add(timeout)

	var lastURL string
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return unknown(m.state, 0, "canceled while awaiting outcome: "+err.Error(), lastURL)
		}

		if url, err := m.page.CurrentURL(ctx); err == nil && url != "" {
			lastURL = url
			if !strings.Contains(url, m.signupPattern()) {
				m.logger.Info("Registration succeeded.", zap.String("url", url))
				return success(m.state, 0, url)
			}
		}

		for _, selector := range errorTextSelectors {
			text, err := m.page.Text(ctx, selector)
			if err == nil && text != "" {
				m.logger.Warn("Registration rejected.", zap.String("detail", text))
				return failure(m.state, 0, text, lastURL)
			}
		}

		select {
		case <-ctx.Done():
			return unknown(m.state, 0, "canceled while awaiting outcome", lastURL)
		case <-time.After(time.Second):
		}
	}

	m.logger.Warn("No outcome signal before timeout.", zap.String("url", lastURL))
	return unknown(m.state, 0, "", lastURL)
}
