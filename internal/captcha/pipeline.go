// File: internal/captcha/pipeline.go
package captcha

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/enroll-cli/internal/browser"
	"github.com/xkilldash9x/enroll-cli/internal/captcha/transcribe"
	"github.com/xkilldash9x/enroll-cli/internal/config"
)

// Selectors for the widget surface. The anchor and challenge documents live
// in cross-origin frames located by URL pattern, not by selector.
const (
	widgetSelector   = "iframe[src*='recaptcha'], .g-recaptcha"
	tokenSelector    = "textarea[name='g-recaptcha-response']"
	anchorFramePath  = "api2/anchor"
	bframePath       = "api2/bframe"
	checkboxSelector = "#recaptcha-anchor"
	reloadSelector   = "#recaptcha-reload-button, .rc-button-reload"
)

// How an attempt opens.
const (
	entryCheckbox = "checkbox click"
	entryReload   = "challenge reload"
)

// entryForAttempt picks the entry action. The first attempt always clicks
// the checkbox; a retry that finds the challenge still open must reload it
// instead, since re-clicking the checkbox does nothing while a challenge is
// up.
func entryForAttempt(n int, challengeOpen bool) string {
	if n > 1 && challengeOpen {
		return entryReload
	}
	return entryCheckbox
}

// checkboxVerified reports the widget solved without a token yet: the
// checkbox reads checked and no challenge frame is open.
func checkboxVerified(checked, challengeOpen bool) bool {
	return checked && !challengeOpen
}

// Pipeline resolves challenges on the session's current page.
type Pipeline struct {
	session  *browser.Session
	cfg      config.CaptchaConfig
	resolver *transcribe.Resolver
	logger   *zap.Logger
}

// NewPipeline wires the pipeline to a session and a transcription resolver.
func NewPipeline(session *browser.Session, resolver *transcribe.Resolver, cfg config.CaptchaConfig, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		session:  session,
		cfg:      cfg,
		resolver: resolver,
		logger:   logger.Named("captcha"),
	}
}

// logStep emits the pipeline's uniform (step, status, detail) triple.
func (p *Pipeline) logStep(step, status, detail string) {
	p.logger.Debug("step: "+step,
		zap.String("step", step),
		zap.String("status", status),
		zap.String("detail", detail),
	)
}

// Solve runs the full pipeline. It never reports success without a token:
// a SolveResult with Status StatusSolved always carries a non-empty Token.
func (p *Pipeline) Solve(ctx context.Context) (SolveResult, error) {
	present, err := p.Detect(ctx)
	if err != nil {
		return SolveResult{}, fmt.Errorf("captcha detection failed: %w", err)
	}
	if !present {
		p.logStep("detect", "absent", "no widget on page or frames")
		return SolveResult{Status: StatusNotPresent}, nil
	}
	p.logStep("detect", "ok", "widget present")

	if err := p.session.Page().RevealElement(ctx, widgetSelector); err != nil {
		// An off-screen widget can still be driven through its frame.
		p.logStep("reveal", "failed", err.Error())
	} else {
		p.logStep("reveal", "ok", "widget in viewport")
	}

	maxAttempts := p.cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	return p.attemptLoop(ctx, maxAttempts, p.attempt)
}

// attemptLoop runs attempt up to max times and shapes the terminal result.
// Split out so the budget accounting is testable on its own.
func (p *Pipeline) attemptLoop(ctx context.Context, max int, attempt func(ctx context.Context, n int) (Method, string, error)) (SolveResult, error) {
	var lastErr error
	for n := 1; n <= max; n++ {
		if err := ctx.Err(); err != nil {
			return SolveResult{Attempts: n - 1}, err
		}
		p.logStep("attempt", "start", fmt.Sprintf("%d/%d", n, max))

		method, token, err := attempt(ctx, n)
		if err == nil && token != "" {
			p.logStep("attempt", "solved", string(method))
			return SolveResult{Status: StatusSolved, Method: method, Attempts: n, Token: token}, nil
		}
		if err != nil {
			lastErr = err
			p.logStep("attempt", "failed", err.Error())
		} else {
			lastErr = fmt.Errorf("attempt %d produced no token", n)
			p.logStep("attempt", "failed", "no token")
		}
	}

	err := ErrExhausted
	if lastErr != nil {
		err = fmt.Errorf("%w: %v", ErrExhausted, lastErr)
	}
	return SolveResult{Status: StatusExhausted, Attempts: max}, err
}

// attempt performs one end-to-end pass: checkbox or challenge reload first,
// then either the extension poll or the audio challenge.
func (p *Pipeline) attempt(ctx context.Context, n int) (Method, string, error) {
	entry := entryForAttempt(n, p.challengeOpen(ctx))
	stepCtx, cancel := context.WithTimeout(ctx, p.stepTimeout())
	var err error
	if entry == entryReload {
		err = p.reloadChallenge(stepCtx)
	} else {
		err = p.clickCheckbox(stepCtx)
	}
	cancel()
	if err != nil {
		return MethodNone, "", fmt.Errorf("%s failed: %w", entry, err)
	}

	if entry == entryCheckbox {
		// The checkbox alone solves low-risk challenges.
		if token, ok := p.awaitToken(ctx, 5*time.Second); ok {
			return MethodCheckbox, token, nil
		}
		// A checked box with no challenge frame is the second solved signal;
		// the token can land a beat behind it.
		if checkboxVerified(p.checkboxSolved(ctx), p.challengeOpen(ctx)) {
			p.logStep("checkbox", "verified", "checked with no challenge open")
			if token, ok := p.awaitToken(ctx, 10*time.Second); ok {
				return MethodCheckbox, token, nil
			}
		}
	}

	if p.cfg.ExtensionMode {
		p.logStep("extension_poll", "start", "waiting for solver extension")
		if token, ok := p.awaitToken(ctx, p.tokenTimeout()); ok {
			p.logStep("extension_poll", "ok", "token present")
			return MethodExtension, token, nil
		}
		return MethodNone, "", fmt.Errorf("solver extension produced no token within %s", p.tokenTimeout())
	}

	token, err := p.solveAudio(ctx)
	if err != nil {
		return MethodNone, "", err
	}
	return MethodAudio, token, nil
}

// awaitToken polls the response textarea until it carries a token.
func (p *Pipeline) awaitToken(ctx context.Context, timeout time.Duration) (string, bool) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if token, err := p.readToken(ctx); err == nil && token != "" {
			return token, true
		}
		select {
		case <-ctx.Done():
			return "", false
		case <-time.After(500 * time.Millisecond):
		}
	}
	return "", false
}

// readToken returns the widget's response token, or "" when unset.
func (p *Pipeline) readToken(ctx context.Context) (string, error) {
	var token string
	script := fmt.Sprintf(`(function() {
        const el = document.querySelector(%q);
        return el ? el.value : '';
    })()`, tokenSelector)
	if err := p.session.Page().Evaluate(ctx, script, &token); err != nil {
		return "", err
	}
	return token, nil
}

func (p *Pipeline) stepTimeout() time.Duration {
	if p.cfg.StepTimeout > 0 {
		return p.cfg.StepTimeout
	}
	return 20 * time.Second
}

func (p *Pipeline) tokenTimeout() time.Duration {
	if p.cfg.TokenTimeout > 0 {
		return p.cfg.TokenTimeout
	}
	return 2 * time.Minute
}
