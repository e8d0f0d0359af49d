// File: internal/lab/lab_test.go
package lab

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/enroll-cli/internal/captcha"
	"github.com/xkilldash9x/enroll-cli/internal/config"
)

func TestMatchesStartControl(t *testing.T) {
	cases := []struct {
		text string
		want bool
	}{
		{"Start Lab", true},
		{"  start lab  ", true},
		{"Mulai Lab", true},
		{"Begin Lab", true},
		{"Start", true},
		{"MULAI", true},
		{"End Lab", false},
		{"Open Console", false},
		{"", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, matchesStartControl(tc.text), "text=%q", tc.text)
	}
}

func TestParseProjectID(t *testing.T) {
	id, err := ParseProjectID("https://console.cloud.google.com/home/dashboard?project=qwiklabs-gcp-01-abc123")
	require.NoError(t, err)
	assert.Equal(t, "qwiklabs-gcp-01-abc123", id)

	_, err = ParseProjectID("https://console.cloud.google.com/home/dashboard")
	assert.Error(t, err)

	_, err = ParseProjectID("https://example.com/?project=nope")
	assert.Error(t, err)
}

func TestValidCredential(t *testing.T) {
	assert.True(t, ValidCredential("AIzaSyB1234567890abcdefghijklmnop"))
	assert.True(t, ValidCredential("  AIzaSyB1234567890abcdefghijklmnop  "))
	assert.False(t, ValidCredential("AIza-too-short"))
	assert.False(t, ValidCredential("SyB1234567890abcdefghijklmnopqrstuv"))
	assert.False(t, ValidCredential(""))
	assert.False(t, ValidCredential("Your API key will appear here"))
}

func TestCredentialsPageURL(t *testing.T) {
	assert.Equal(t,
		"https://console.cloud.google.com/apis/credentials?project=p-1",
		CredentialsPageURL("p-1"))
	assert.Equal(t,
		"https://console.cloud.google.com/apis/credentials?project=p+1%2Fx",
		CredentialsPageURL("p 1/x"))
}

// fakePage scripts evaluate responses by recognizing the script being run.
type fakePage struct {
	url         string
	started     bool
	startLabel  string
	consoleHref string
	termsSteps  []string
	keyValues   []string
	navigated   []string
	closed      bool
}

func (p *fakePage) Navigate(_ context.Context, url string) error {
	p.navigated = append(p.navigated, url)
	return nil
}

func (p *fakePage) Click(context.Context, string) error { return nil }

func (p *fakePage) CurrentURL(context.Context) (string, error) { return p.url, nil }

func (p *fakePage) Exists(context.Context, string) (bool, error) { return false, nil }

func (p *fakePage) Text(context.Context, string) (string, error) { return "", nil }

func (p *fakePage) Close() { p.closed = true }

func (p *fakePage) Evaluate(_ context.Context, script string, res interface{}) error {
	switch {
	case strings.Contains(script, "end lab"):
		*res.(*bool) = p.started
	case strings.Contains(script, "link.href"):
		*res.(*string) = p.consoleHref
	case strings.Contains(script, "acceptLabels"):
		out := "none"
		if len(p.termsSteps) > 0 {
			out = p.termsSteps[0]
			p.termsSteps = p.termsSteps[1:]
		}
		*res.(*string) = out
	case strings.Contains(script, "readonly"):
		out := ""
		if len(p.keyValues) > 0 {
			out = p.keyValues[0]
			p.keyValues = p.keyValues[1:]
		}
		*res.(*string) = out
	case strings.Contains(script, "el.value"):
		*res.(*string) = p.startLabel
	case strings.Contains(script, "create credentials"):
		*res.(*string) = "create"
	}
	return nil
}

type fakeSolver struct {
	result captcha.SolveResult
	err    error
}

func (s *fakeSolver) Solve(context.Context) (captcha.SolveResult, error) {
	return s.result, s.err
}

type policyRecorder struct {
	current config.PopupPolicy
	history []config.PopupPolicy
}

func (r *policyRecorder) set(p config.PopupPolicy) config.PopupPolicy {
	previous := r.current
	r.current = p
	r.history = append(r.history, p)
	return previous
}

func testFlow(t *testing.T, labPage, consolePage *fakePage, solver Solver, rec *policyRecorder, cfg config.LabConfig) *Flow {
	t.Helper()
	return newFlow(
		labPage,
		func(context.Context) (Page, error) { return consolePage, nil },
		rec.set,
		solver, cfg, zap.NewNop(),
	)
}

func TestRunHappyPath(t *testing.T) {
	labPage := &fakePage{
		startLabel:  "start lab",
		consoleHref: "https://console.cloud.google.com/home/dashboard?project=qwiklabs-gcp-01-xyz",
	}
	consolePage := &fakePage{
		url:        "https://console.cloud.google.com/home/dashboard?project=qwiklabs-gcp-01-xyz",
		termsSteps: []string{"pending", "accepted"},
		keyValues:  []string{"", "AIzaSyB1234567890abcdefghijklmnop"},
	}
	rec := &policyRecorder{current: config.PopupRedirect}
	solver := &fakeSolver{result: captcha.SolveResult{Status: captcha.StatusSolved, Method: captcha.MethodCheckbox}}

	flow := testFlow(t, labPage, consolePage, solver, rec, config.LabConfig{
		StartTimeout:      5 * time.Second,
		TermsTimeout:      5 * time.Second,
		CredentialTimeout: 5 * time.Second,
	})

	result, err := flow.Run(context.Background(), "https://labs.example/lab/1")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "qwiklabs-gcp-01-xyz", result.ProjectID)
	assert.Equal(t, "AIzaSyB1234567890abcdefghijklmnop", result.Credential)
	assert.Empty(t, result.Error)

	// Popups are ignored while running and the prior policy comes back.
	require.NotEmpty(t, rec.history)
	assert.Equal(t, config.PopupIgnore, rec.history[0])
	assert.Equal(t, config.PopupRedirect, rec.current)

	assert.True(t, consolePage.closed)
	require.Len(t, consolePage.navigated, 2)
	assert.Contains(t, consolePage.navigated[1], "/apis/credentials?project=qwiklabs-gcp-01-xyz")
}

func TestRunChallengeExhausted(t *testing.T) {
	labPage := &fakePage{startLabel: "start lab"}
	rec := &policyRecorder{current: config.PopupSwitch}
	solver := &fakeSolver{
		result: captcha.SolveResult{Status: captcha.StatusExhausted},
		err:    captcha.ErrExhausted,
	}

	flow := testFlow(t, labPage, &fakePage{}, solver, rec, config.LabConfig{StartTimeout: 5 * time.Second})

	result, err := flow.Run(context.Background(), "https://labs.example/lab/1")
	require.Error(t, err)
	assert.False(t, result.Success)
	assert.Empty(t, result.Credential)
	assert.NotEmpty(t, result.Error)
	assert.Equal(t, config.PopupSwitch, rec.current)
}

func TestRunCredentialTimeoutLeavesCredentialEmpty(t *testing.T) {
	labPage := &fakePage{
		startLabel:  "mulai lab",
		consoleHref: "https://console.cloud.google.com/home/dashboard?project=p-77",
	}
	consolePage := &fakePage{
		url:       "https://console.cloud.google.com/home/dashboard?project=p-77",
		keyValues: []string{"Your API key will appear here"},
	}
	rec := &policyRecorder{current: config.PopupRedirect}
	solver := &fakeSolver{result: captcha.SolveResult{Status: captcha.StatusNotPresent}}

	flow := testFlow(t, labPage, consolePage, solver, rec, config.LabConfig{
		StartTimeout:      5 * time.Second,
		TermsTimeout:      50 * time.Millisecond,
		CredentialTimeout: 50 * time.Millisecond,
	})

	result, err := flow.Run(context.Background(), "https://labs.example/lab/1")
	require.Error(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "p-77", result.ProjectID)
	assert.Empty(t, result.Credential)
	assert.NotEmpty(t, result.Error)
}

func TestRunAlreadyStartedLab(t *testing.T) {
	labPage := &fakePage{
		started:     true,
		consoleHref: "https://console.cloud.google.com/home/dashboard?project=p-1",
	}
	consolePage := &fakePage{
		url:       "https://console.cloud.google.com/home/dashboard?project=p-1",
		keyValues: []string{"AIzaSyB1234567890abcdefghijklmnop"},
	}
	rec := &policyRecorder{current: config.PopupRedirect}
	solver := &fakeSolver{result: captcha.SolveResult{Status: captcha.StatusNotPresent}}

	flow := testFlow(t, labPage, consolePage, solver, rec, config.LabConfig{
		StartTimeout:      5 * time.Second,
		TermsTimeout:      50 * time.Millisecond,
		CredentialTimeout: 5 * time.Second,
	})

	result, err := flow.Run(context.Background(), "https://labs.example/lab/1")
	require.NoError(t, err)
	assert.True(t, result.Success)
}
