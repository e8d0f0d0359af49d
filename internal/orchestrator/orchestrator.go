// File: internal/orchestrator/orchestrator.go

// Package orchestrator ties the pieces together: entitlement check, mask
// provisioning, identity generation, the browser session on its bridge, the
// sign-up machine, email confirmation and the lab flow.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/enroll-cli/internal/browser"
	"github.com/xkilldash9x/enroll-cli/internal/captcha"
	"github.com/xkilldash9x/enroll-cli/internal/captcha/transcribe"
	"github.com/xkilldash9x/enroll-cli/internal/config"
	"github.com/xkilldash9x/enroll-cli/internal/email"
	"github.com/xkilldash9x/enroll-cli/internal/identity"
	"github.com/xkilldash9x/enroll-cli/internal/lab"
	"github.com/xkilldash9x/enroll-cli/internal/license"
	"github.com/xkilldash9x/enroll-cli/internal/registration"
	"github.com/xkilldash9x/enroll-cli/internal/runtime"
)

// ErrStopped is returned when Stop was requested between steps.
var ErrStopped = errors.New("run stopped by request")

// Registrar runs the sign-up flow against a live page.
type Registrar interface {
	Run(ctx context.Context, profile identity.Profile) registration.Result
}

// LabRunner executes the lab flow.
type LabRunner interface {
	Run(ctx context.Context, labURL string) (lab.Result, error)
}

// confirmPage is the page surface the confirmation step needs.
type confirmPage interface {
	Navigate(ctx context.Context, url string) error
	CurrentURL(ctx context.Context) (string, error)
	Exists(ctx context.Context, selector string) (bool, error)
	Click(ctx context.Context, selector string) error
}

type maskService interface {
	Enabled() bool
	CreateMask(ctx context.Context, label string) (*email.Mask, error)
	DeleteMask(ctx context.Context, id int64) error
}

type inboxService interface {
	WaitForMessage(ctx context.Context, address string, match func(*email.Message) bool) (*email.Message, error)
}

type licenseService interface {
	Enabled() bool
	Check(ctx context.Context, key string) (license.Status, error)
}

// session is the browser lifecycle the orchestrator drives over the bridge.
type session interface {
	Start(ctx context.Context) error
	Close(ctx context.Context) error
}

// flows are the session-bound pipelines, built once the browser is up.
type flows struct {
	registrar Registrar
	lab       LabRunner
	page      confirmPage
}

type flowFactory func(s session) (flows, error)

// Report is the outcome of a full registration run.
type Report struct {
	RunID        string              `json:"run_id"`
	Email        string              `json:"email"`
	Profile      identity.Profile    `json:"profile"`
	Registration registration.Result `json:"registration"`
	Confirmed    bool                `json:"confirmed"`
	MaskID       int64               `json:"mask_id,omitempty"`
	Duration     time.Duration       `json:"duration"`
}

// Orchestrator owns one run at a time.
type Orchestrator struct {
	cfg    *config.Config
	logger *zap.Logger
	bridge *runtime.Bridge

	relay   maskService
	inbox   inboxService
	license licenseService

	newSession func() session
	buildFlows flowFactory

	stop atomic.Bool
}

// New wires an orchestrator from configuration.
func New(cfg *config.Config, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:     cfg,
		logger:  logger.Named("orchestrator"),
		bridge:  runtime.NewBridge(logger),
		relay:   email.NewRelay(cfg.Email, logger),
		inbox:   email.NewInbox(cfg.Email, logger),
		license: license.NewClient(cfg.License, logger),
		newSession: func() session {
			return browser.NewSession(cfg.Browser, logger)
		},
		buildFlows: liveFlows(cfg, logger),
	}
}

// liveFlows builds the real session-bound pipelines. The page handle always
// resolves through the session so popup switches stay transparent.
func liveFlows(cfg *config.Config, logger *zap.Logger) flowFactory {
	return func(s session) (flows, error) {
		live, ok := s.(*browser.Session)
		if !ok {
			return flows{}, fmt.Errorf("unexpected session type %T", s)
		}
		resolver := buildResolver(cfg.Captcha, logger)
		solver := captcha.NewPipeline(live, resolver, cfg.Captcha, logger)
		page := &livePage{session: live, logger: logger.Named("page")}
		return flows{
			registrar: registration.NewMachine(page, solver, cfg.Registration, logger),
			lab:       lab.NewFlow(live, solver, cfg.Lab, logger),
			page:      page,
		}, nil
	}
}

// buildResolver assembles the transcription engines that are switched on.
func buildResolver(cfg config.CaptchaConfig, logger *zap.Logger) *transcribe.Resolver {
	var engines []transcribe.Engine
	if cfg.GoogleWeb.Enabled {
		engines = append(engines, transcribe.NewGoogleWeb(cfg.GoogleWeb))
	}
	if cfg.Whisperd.Enabled {
		engines = append(engines, transcribe.NewWhisperd(cfg.Whisperd))
	}
	return transcribe.NewResolver(logger, engines...)
}

// Stop requests a cooperative stop. The current step finishes; no further
// step starts.
func (o *Orchestrator) Stop() {
	if o.stop.CompareAndSwap(false, true) {
		o.logger.Info("Stop requested; finishing current step.")
	}
}

func (o *Orchestrator) checkStop(step string) error {
	if o.stop.Load() {
		return fmt.Errorf("%w before %s", ErrStopped, step)
	}
	return nil
}

// livePage delegates to the session's current page on every call, so a
// popup switch mid-flow does not leave callers on a retired tab.
type livePage struct {
	session *browser.Session
	logger  *zap.Logger
}

func (p *livePage) Navigate(ctx context.Context, url string) error {
	if err := p.session.Page().Navigate(ctx, url); err != nil {
		return err
	}
	// Reapply any persisted local storage for the origin we just landed on.
	if err := p.session.RestoreLocalStorage(ctx); err != nil {
		p.logger.Debug("Could not restore local storage.", zap.Error(err))
	}
	return nil
}

func (p *livePage) Click(ctx context.Context, selector string) error {
	return p.session.Page().Click(ctx, selector)
}

func (p *livePage) FillForm(ctx context.Context, items []browser.FieldValue) error {
	return p.session.Page().FillForm(ctx, items)
}

func (p *livePage) SetChecked(ctx context.Context, selector string, checked bool) error {
	return p.session.Page().SetChecked(ctx, selector, checked)
}

func (p *livePage) SelectOption(ctx context.Context, selector, value string) error {
	return p.session.Page().SelectOption(ctx, selector, value)
}

func (p *livePage) CurrentURL(ctx context.Context) (string, error) {
	return p.session.Page().CurrentURL(ctx)
}

func (p *livePage) Text(ctx context.Context, selector string) (string, error) {
	return p.session.Page().Text(ctx, selector)
}

func (p *livePage) Exists(ctx context.Context, selector string) (bool, error) {
	return p.session.Page().Exists(ctx, selector)
}
