// File: internal/registration/machine_test.go
package registration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/enroll-cli/internal/browser"
	"github.com/xkilldash9x/enroll-cli/internal/captcha"
	"github.com/xkilldash9x/enroll-cli/internal/config"
	"github.com/xkilldash9x/enroll-cli/internal/identity"
)

// fakePage scripts the browser surface per attempt.
type fakePage struct {
	url         string
	urlAfter    string // URL reported once the submit control was clicked
	errorText   string
	fillErr     error
	submitted   bool
	fillCalls   int
	navigations []string
}

func (f *fakePage) Navigate(ctx context.Context, url string) error {
	f.navigations = append(f.navigations, url)
	f.url = url
	return nil
}

func (f *fakePage) Click(ctx context.Context, selector string) error {
	if selector == submitSelector {
		f.submitted = true
		if f.urlAfter != "" {
			f.url = f.urlAfter
		}
	}
	return nil
}

func (f *fakePage) FillForm(ctx context.Context, items []browser.FieldValue) error {
	f.fillCalls++
	return f.fillErr
}

func (f *fakePage) SetChecked(ctx context.Context, selector string, checked bool) error { return nil }
func (f *fakePage) SelectOption(ctx context.Context, selector, value string) error      { return nil }

func (f *fakePage) CurrentURL(ctx context.Context) (string, error) { return f.url, nil }

func (f *fakePage) Text(ctx context.Context, selector string) (string, error) {
	if f.submitted && f.errorText != "" && selector == errorTextSelectors[0] {
		return f.errorText, nil
	}
	return "", nil
}

func (f *fakePage) Exists(ctx context.Context, selector string) (bool, error) { return false, nil }

type fakeSolver struct {
	result captcha.SolveResult
	err    error
	calls  int
}

func (f *fakeSolver) Solve(ctx context.Context) (captcha.SolveResult, error) {
	f.calls++
	return f.result, f.err
}

func testConfig() config.RegistrationConfig {
	return config.RegistrationConfig{
		BaseURL:          "https://platform.example",
		SignupURLPattern: "sign_up",
		MaxRetries:       1,
		SubmitTimeout:    2 * time.Second,
	}
}

func testProfile() identity.Profile {
	return identity.Profile{
		FirstName: "Robin",
		LastName:  "Hayes",
		Email:     "robin@relay.example",
		Password:  "Str0ng!Password",
	}
}

func solvedSolver() *fakeSolver {
	return &fakeSolver{result: captcha.SolveResult{Status: captcha.StatusSolved, Token: "tok", Attempts: 1}}
}

func TestRunSuccess(t *testing.T) {
	// Any redirect off the sign-up page counts as success, wherever it lands.
	page := &fakePage{urlAfter: "https://platform.example/dashboard"}
	m := NewMachine(page, solvedSolver(), testConfig(), zap.NewNop())

	result := m.Run(context.Background(), testProfile())

	assert.Equal(t, OutcomeSuccess, result.Outcome)
	assert.True(t, result.Succeeded())
	assert.Empty(t, result.Error)
	assert.Equal(t, 1, result.Attempts)
	assert.NotContains(t, result.FinalURL, "sign_up")
	require.Len(t, page.navigations, 1)
	assert.Equal(t, "https://platform.example/users/sign_up", page.navigations[0])
}

func TestSuccessFinalURLNeverOnSignupPage(t *testing.T) {
	// A final URL still matching the sign-up pattern must never read as
	// success, even with no error text visible.
	page := &fakePage{urlAfter: "https://platform.example/users/sign_up/retry"}
	cfg := testConfig()
	cfg.MaxRetries = 0
	cfg.SubmitTimeout = 50 * time.Millisecond
	m := NewMachine(page, solvedSolver(), cfg, zap.NewNop())

	result := m.Run(context.Background(), testProfile())

	assert.Equal(t, OutcomeUnknown, result.Outcome)
	assert.False(t, result.Succeeded())
}

func TestRunInlineErrorIsFailure(t *testing.T) {
	page := &fakePage{errorText: "Email has already been taken"}
	cfg := testConfig()
	cfg.MaxRetries = 0
	m := NewMachine(page, solvedSolver(), cfg, zap.NewNop())

	result := m.Run(context.Background(), testProfile())

	assert.Equal(t, OutcomeFailure, result.Outcome)
	assert.Equal(t, "Email has already been taken", result.Error)
}

func TestRunNoSignalIsUnknown(t *testing.T) {
	// Neither the success URL nor error text ever appears.
	page := &fakePage{}
	cfg := testConfig()
	cfg.MaxRetries = 0
	cfg.SubmitTimeout = 50 * time.Millisecond
	m := NewMachine(page, solvedSolver(), cfg, zap.NewNop())

	result := m.Run(context.Background(), testProfile())

	assert.Equal(t, OutcomeUnknown, result.Outcome)
	assert.NotEqual(t, OutcomeFailure, result.Outcome)
	assert.NotEmpty(t, result.Error)
}

func TestUnknownRetriedOnce(t *testing.T) {
	page := &fakePage{}
	cfg := testConfig()
	cfg.MaxRetries = 5
	cfg.SubmitTimeout = 30 * time.Millisecond
	solver := solvedSolver()
	m := NewMachine(page, solver, cfg, zap.NewNop())

	result := m.Run(context.Background(), testProfile())

	assert.Equal(t, OutcomeUnknown, result.Outcome)
	// One original attempt plus exactly one retry.
	assert.Equal(t, 2, solver.calls)
	assert.Equal(t, 2, result.Attempts)
}

func TestRunRetriesFailure(t *testing.T) {
	page := &fakePage{errorText: "temporary error"}
	cfg := testConfig()
	cfg.MaxRetries = 1
	m := NewMachine(page, solvedSolver(), cfg, zap.NewNop())

	result := m.Run(context.Background(), testProfile())

	assert.Equal(t, OutcomeFailure, result.Outcome)
	assert.Equal(t, 2, result.Attempts)
	assert.Equal(t, 2, page.fillCalls)
}

func TestCaptchaExhaustedIsFailure(t *testing.T) {
	page := &fakePage{urlAfter: "https://platform.example/confirm"}
	solver := &fakeSolver{
		result: captcha.SolveResult{Status: captcha.StatusExhausted, Attempts: 2},
		err:    captcha.ErrExhausted,
	}
	cfg := testConfig()
	cfg.MaxRetries = 0
	m := NewMachine(page, solver, cfg, zap.NewNop())

	result := m.Run(context.Background(), testProfile())

	assert.Equal(t, OutcomeFailure, result.Outcome)
	assert.Contains(t, result.Error, "captcha")
	assert.False(t, page.submitted, "must not submit after captcha exhaustion")
}

func TestSubmitRejectsUnresolvedCaptcha(t *testing.T) {
	// A solver returning an unsolved result without an error is a bug; the
	// machine must refuse to submit.
	page := &fakePage{}
	solver := &fakeSolver{result: captcha.SolveResult{Status: captcha.StatusExhausted}}
	cfg := testConfig()
	cfg.MaxRetries = 0
	m := NewMachine(page, solver, cfg, zap.NewNop())

	result := m.Run(context.Background(), testProfile())

	assert.Equal(t, OutcomeFailure, result.Outcome)
	assert.Contains(t, result.Error, ErrCaptchaUnresolved.Error())
	assert.False(t, page.submitted)
}

func TestCaptchaNotPresentSubmits(t *testing.T) {
	page := &fakePage{urlAfter: "https://platform.example/dashboard"}
	solver := &fakeSolver{result: captcha.SolveResult{Status: captcha.StatusNotPresent}}
	m := NewMachine(page, solver, testConfig(), zap.NewNop())

	result := m.Run(context.Background(), testProfile())

	assert.Equal(t, OutcomeSuccess, result.Outcome)
	assert.True(t, page.submitted)
}

func TestFormFillFailure(t *testing.T) {
	page := &fakePage{fillErr: errors.New("critical field failed: field \"email\": field not found")}
	cfg := testConfig()
	cfg.MaxRetries = 0
	m := NewMachine(page, solvedSolver(), cfg, zap.NewNop())

	result := m.Run(context.Background(), testProfile())

	assert.Equal(t, OutcomeFailure, result.Outcome)
	assert.Contains(t, result.Error, "form fill failed")
}

func TestNonSuccessAlwaysCarriesError(t *testing.T) {
	results := []Result{
		failure(StateSubmitted, 1, "", ""),
		unknown(StateSubmitted, 1, "", ""),
	}
	for _, r := range results {
		assert.NotEmpty(t, r.Error, "outcome %s must carry an error", r.Outcome)
	}
	assert.Empty(t, success(StateSubmitted, 1, "u").Error)
}

func TestIllegalTransition(t *testing.T) {
	m := NewMachine(&fakePage{}, solvedSolver(), testConfig(), zap.NewNop())
	require.Equal(t, StateInit, m.State())

	err := m.transition(StateSubmitted)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "illegal transition")
	assert.Equal(t, StateInit, m.State())
}
