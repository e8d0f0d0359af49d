// File: internal/orchestrator/orchestrator_test.go
package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/xkilldash9x/enroll-cli/internal/captcha"
	"github.com/xkilldash9x/enroll-cli/internal/config"
	"github.com/xkilldash9x/enroll-cli/internal/email"
	"github.com/xkilldash9x/enroll-cli/internal/identity"
	"github.com/xkilldash9x/enroll-cli/internal/lab"
	"github.com/xkilldash9x/enroll-cli/internal/license"
	"github.com/xkilldash9x/enroll-cli/internal/registration"
	"github.com/xkilldash9x/enroll-cli/internal/runtime"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeSession struct {
	started  bool
	closed   bool
	startErr error
}

func (s *fakeSession) Start(context.Context) error {
	s.started = true
	return s.startErr
}

func (s *fakeSession) Close(context.Context) error {
	s.closed = true
	return nil
}

type fakeRegistrar struct {
	result  registration.Result
	profile identity.Profile
}

func (r *fakeRegistrar) Run(_ context.Context, profile identity.Profile) registration.Result {
	r.profile = profile
	return r.result
}

type fakeLab struct {
	result lab.Result
	err    error
	url    string
}

func (l *fakeLab) Run(_ context.Context, labURL string) (lab.Result, error) {
	l.url = labURL
	return l.result, l.err
}

type fakeRelay struct {
	enabled bool
	mask    email.Mask
	deleted []int64
}

func (r *fakeRelay) Enabled() bool { return r.enabled }

func (r *fakeRelay) CreateMask(context.Context, string) (*email.Mask, error) {
	m := r.mask
	return &m, nil
}

func (r *fakeRelay) DeleteMask(_ context.Context, id int64) error {
	r.deleted = append(r.deleted, id)
	return nil
}

type fakeInbox struct {
	msg *email.Message
	err error
}

func (i *fakeInbox) WaitForMessage(_ context.Context, _ string, match func(*email.Message) bool) (*email.Message, error) {
	if i.err != nil {
		return nil, i.err
	}
	if match != nil && !match(i.msg) {
		return nil, email.ErrNoMessage
	}
	return i.msg, nil
}

type fakeLicense struct {
	enabled bool
	status  license.Status
	err     error
	checked bool
}

func (l *fakeLicense) Enabled() bool { return l.enabled }

func (l *fakeLicense) Check(context.Context, string) (license.Status, error) {
	l.checked = true
	return l.status, l.err
}

type fakeConfirmPage struct {
	navigated []string
}

func (p *fakeConfirmPage) Navigate(_ context.Context, url string) error {
	p.navigated = append(p.navigated, url)
	return nil
}

func (p *fakeConfirmPage) CurrentURL(context.Context) (string, error) { return "", nil }
func (p *fakeConfirmPage) Exists(context.Context, string) (bool, error) {
	return false, nil
}
func (p *fakeConfirmPage) Click(context.Context, string) error { return nil }

type harness struct {
	o         *Orchestrator
	session   *fakeSession
	registrar *fakeRegistrar
	labFlow   *fakeLab
	relay     *fakeRelay
	inbox     *fakeInbox
	license   *fakeLicense
	page      *fakeConfirmPage
}

func newHarness(cfg *config.Config) *harness {
	h := &harness{
		session:   &fakeSession{},
		registrar: &fakeRegistrar{result: registration.Result{Outcome: registration.OutcomeSuccess, Attempts: 1}},
		labFlow:   &fakeLab{result: lab.Result{Success: true, ProjectID: "p-1", Credential: "AIzaSyB1234567890abcdefghijklmnop"}},
		relay:     &fakeRelay{enabled: true, mask: email.Mask{ID: 7, Address: "mask7@relay.example"}},
		inbox: &fakeInbox{msg: &email.Message{
			ID:       "m1",
			Subject:  "Confirm your account",
			HTMLBody: `<a href="https://platform.example/users/confirmation?t=1">confirm</a>`,
		}},
		license: &fakeLicense{},
		page:    &fakeConfirmPage{},
	}
	h.o = &Orchestrator{
		cfg:     cfg,
		logger:  zap.NewNop(),
		bridge:  runtime.NewBridge(zap.NewNop()),
		relay:   h.relay,
		inbox:   h.inbox,
		license: h.license,
		newSession: func() session {
			return h.session
		},
		buildFlows: func(session) (flows, error) {
			return flows{registrar: h.registrar, lab: h.labFlow, page: h.page}, nil
		},
	}
	return h
}

func testConfig() *config.Config {
	return &config.Config{
		Email: config.EmailConfig{InboxEndpoint: "https://inbox.example"},
	}
}

func TestRegisterHappyPath(t *testing.T) {
	h := newHarness(testConfig())

	report, err := h.o.Register(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "mask7@relay.example", report.Email)
	assert.Equal(t, int64(7), report.MaskID)
	assert.Equal(t, "mask7@relay.example", report.Profile.Email)
	assert.Equal(t, registration.OutcomeSuccess, report.Registration.Outcome)
	assert.True(t, report.Confirmed)
	assert.NotEmpty(t, report.RunID)

	assert.True(t, h.session.started)
	assert.True(t, h.session.closed)
	assert.Empty(t, h.relay.deleted, "mask of a successful registration is kept")
	require.Len(t, h.page.navigated, 1)
	assert.Equal(t, "https://platform.example/users/confirmation?t=1", h.page.navigated[0])
}

func TestRegisterFailureDiscardsMask(t *testing.T) {
	h := newHarness(testConfig())
	h.registrar.result = registration.Result{
		Outcome:  registration.OutcomeFailure,
		Attempts: 3,
		Error:    "email already taken",
	}

	report, err := h.o.Register(context.Background())
	require.NoError(t, err)

	assert.Equal(t, registration.OutcomeFailure, report.Registration.Outcome)
	assert.False(t, report.Confirmed)
	assert.Equal(t, []int64{7}, h.relay.deleted)
	assert.True(t, h.session.closed)
}

func TestRegisterLicenseRejected(t *testing.T) {
	h := newHarness(testConfig())
	h.license.enabled = true
	h.license.err = license.ErrNotEntitled

	_, err := h.o.Register(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, license.ErrNotEntitled)
	assert.True(t, h.license.checked)
	assert.False(t, h.session.started, "browser must not start without entitlement")
}

func TestRegisterStopBeforeBrowser(t *testing.T) {
	h := newHarness(testConfig())
	h.o.Stop()

	_, err := h.o.Register(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStopped)
	assert.False(t, h.session.started)
}

func TestRegisterStaticAddressFallback(t *testing.T) {
	cfg := testConfig()
	cfg.Email.Address = "static@example.com"
	h := newHarness(cfg)
	h.relay.enabled = false

	report, err := h.o.Register(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "static@example.com", report.Email)
	assert.Zero(t, report.MaskID)
	assert.Empty(t, h.relay.deleted)
}

func TestRegisterNoEmailSource(t *testing.T) {
	h := newHarness(testConfig())
	h.relay.enabled = false

	_, err := h.o.Register(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no email source configured")
	assert.False(t, h.session.started)
}

func TestRegisterConfirmationFailureIsNotFatal(t *testing.T) {
	h := newHarness(testConfig())
	h.inbox.err = email.ErrNoMessage

	report, err := h.o.Register(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Registration.Succeeded())
	assert.False(t, report.Confirmed)
}

func TestRegisterCaptchaExhaustedSurfacesInResult(t *testing.T) {
	h := newHarness(testConfig())
	h.registrar.result = registration.Result{
		Outcome:  registration.OutcomeFailure,
		Attempts: 2,
		Error:    captcha.ErrExhausted.Error(),
	}

	report, err := h.o.Register(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Registration.Succeeded())
	assert.NotEmpty(t, report.Registration.Error)
}

func TestLabHappyPath(t *testing.T) {
	h := newHarness(testConfig())

	result, err := h.o.Lab(context.Background(), "https://labs.example/lab/9")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "p-1", result.ProjectID)
	assert.Equal(t, "https://labs.example/lab/9", h.labFlow.url)
	assert.True(t, h.session.closed)
}

func TestLabFlowErrorStillReturnsResult(t *testing.T) {
	h := newHarness(testConfig())
	h.labFlow.result = lab.Result{Success: false, Error: "credential never materialized"}
	h.labFlow.err = errors.New("credential did not appear within 90s")

	result, err := h.o.Lab(context.Background(), "https://labs.example/lab/9")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Empty(t, result.Credential)
	assert.True(t, h.session.closed)
}

func TestBrowserStartFailure(t *testing.T) {
	h := newHarness(testConfig())
	h.session.startErr = errors.New("no usable browser binary")

	_, err := h.o.Register(context.Background())
	require.Error(t, err)
	var bridgeErr *runtime.BridgeError
	assert.ErrorAs(t, err, &bridgeErr)
	assert.Equal(t, []int64{7}, h.relay.deleted, "mask is discarded when the browser cannot start")
}

func TestStopIsIdempotent(t *testing.T) {
	h := newHarness(testConfig())
	h.o.Stop()
	h.o.Stop()
	assert.Error(t, h.o.checkStop("anything"))
}
