// File: internal/orchestrator/run.go
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/enroll-cli/internal/email"
	"github.com/xkilldash9x/enroll-cli/internal/identity"
	"github.com/xkilldash9x/enroll-cli/internal/lab"
	"github.com/xkilldash9x/enroll-cli/internal/registration"
)

// Register runs the full sign-up flow: entitlement gate, address
// provisioning, identity generation, browser registration and email
// confirmation. A completed run with a failed registration outcome returns
// the report and no error; errors are reserved for infrastructure faults.
func (o *Orchestrator) Register(ctx context.Context) (*Report, error) {
	started := time.Now()
	runID := shortID()
	log := o.logger.With(zap.String("run_id", runID))
	report := &Report{RunID: runID}

	if err := o.gateLicense(ctx); err != nil {
		return nil, err
	}
	if err := o.checkStop("address provisioning"); err != nil {
		return nil, err
	}

	address, maskID, err := o.provisionAddress(ctx, runID)
	if err != nil {
		return nil, err
	}
	report.Email = address
	report.MaskID = maskID

	profile, err := identity.Generate(address)
	if err != nil {
		o.discardMask(maskID, log)
		return nil, fmt.Errorf("generate identity: %w", err)
	}
	report.Profile = profile
	log.Info("Identity generated.", zap.String("email", address))

	if err := o.checkStop("browser start"); err != nil {
		o.discardMask(maskID, log)
		return nil, err
	}

	s, fl, err := o.startBrowser(ctx)
	if err != nil {
		o.discardMask(maskID, log)
		return nil, err
	}
	defer o.teardown(s, log)

	var result registration.Result
	err = o.bridge.RunBlocking(ctx, "registration", func(taskCtx context.Context) error {
		result = fl.registrar.Run(taskCtx, profile)
		return nil
	})
	if err != nil {
		o.discardMask(maskID, log)
		return nil, fmt.Errorf("registration task: %w", err)
	}
	report.Registration = result
	log.Info("Registration finished.",
		zap.String("outcome", string(result.Outcome)),
		zap.Int("attempts", result.Attempts),
	)

	if result.Succeeded() && o.cfg.Email.InboxEndpoint != "" {
		if err := o.checkStop("email confirmation"); err == nil {
			confirmed, confirmErr := o.confirmEmail(ctx, fl.page, address)
			if confirmErr != nil {
				log.Warn("Email confirmation did not complete.", zap.Error(confirmErr))
			}
			report.Confirmed = confirmed
		}
	}

	// Masks for accounts that never materialized are not worth keeping.
	if !result.Succeeded() {
		o.discardMask(maskID, log)
	}

	report.Duration = time.Since(started)
	return report, nil
}

// Lab runs the lab flow against labURL on a fresh browser session.
func (o *Orchestrator) Lab(ctx context.Context, labURL string) (*lab.Result, error) {
	if err := o.gateLicense(ctx); err != nil {
		return nil, err
	}
	if err := o.checkStop("browser start"); err != nil {
		return nil, err
	}

	s, fl, err := o.startBrowser(ctx)
	if err != nil {
		return nil, err
	}
	defer o.teardown(s, o.logger)

	var result lab.Result
	var runErr error
	err = o.bridge.RunBlocking(ctx, "lab", func(taskCtx context.Context) error {
		result, runErr = fl.lab.Run(taskCtx, labURL)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("lab task: %w", err)
	}
	if runErr != nil {
		o.logger.Warn("Lab flow ended with an error.", zap.Error(runErr))
	}
	return &result, nil
}

// gateLicense refuses to run without a valid entitlement when licensing is
// configured.
func (o *Orchestrator) gateLicense(ctx context.Context) error {
	if !o.license.Enabled() {
		return nil
	}
	status, err := o.license.Check(ctx, o.cfg.License.APIKey)
	if err != nil {
		return fmt.Errorf("entitlement check: %w", err)
	}
	o.logger.Debug("Entitlement verified.", zap.String("plan", status.Plan))
	return nil
}

// provisionAddress returns the address to register with: a fresh relay mask
// when the relay is configured, otherwise the static configured address.
func (o *Orchestrator) provisionAddress(ctx context.Context, runID string) (string, int64, error) {
	if o.relay.Enabled() {
		mask, err := o.relay.CreateMask(ctx, "enroll-"+runID)
		if err != nil {
			return "", 0, fmt.Errorf("create relay mask: %w", err)
		}
		return mask.Address, mask.ID, nil
	}
	if o.cfg.Email.Address != "" {
		return o.cfg.Email.Address, 0, nil
	}
	return "", 0, fmt.Errorf("no email source configured: set email.address or the relay credentials")
}

// discardMask deletes a relay mask, best effort.
func (o *Orchestrator) discardMask(maskID int64, log *zap.Logger) {
	if maskID == 0 || !o.relay.Enabled() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := o.relay.DeleteMask(ctx, maskID); err != nil {
		log.Warn("Could not delete relay mask.", zap.Int64("mask_id", maskID), zap.Error(err))
	}
}

// startBrowser brings up the session on the bridge and builds the
// session-bound flows.
func (o *Orchestrator) startBrowser(ctx context.Context) (session, flows, error) {
	s := o.newSession()
	if err := o.bridge.Start(ctx, func(taskCtx context.Context) error {
		return s.Start(taskCtx)
	}); err != nil {
		return nil, flows{}, fmt.Errorf("browser start: %w", err)
	}
	fl, err := o.buildFlows(s)
	if err != nil {
		o.teardown(s, o.logger)
		return nil, flows{}, err
	}
	return s, fl, nil
}

// teardown closes the session on the bridge, then stops the bridge. Both are
// best effort; failures are logged, not returned.
func (o *Orchestrator) teardown(s session, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := o.bridge.RunBlocking(ctx, "session close", func(taskCtx context.Context) error {
		return s.Close(taskCtx)
	}); err != nil {
		log.Warn("Session close reported an error.", zap.Error(err))
	}
	if err := o.bridge.Shutdown(ctx); err != nil {
		log.Warn("Bridge shutdown reported an error.", zap.Error(err))
	}
}

// confirmEmail waits for the confirmation message, picks the best link and
// follows it on the live page.
func (o *Orchestrator) confirmEmail(ctx context.Context, page confirmPage, address string) (bool, error) {
	msg, err := o.inbox.WaitForMessage(ctx, address, func(m *email.Message) bool {
		subject := strings.ToLower(m.Subject)
		return strings.Contains(subject, "confirm") || strings.Contains(subject, "verify")
	})
	if err != nil {
		return false, fmt.Errorf("confirmation message: %w", err)
	}

	links, err := email.ExtractLinks(msg.HTMLBody)
	if err != nil {
		return false, fmt.Errorf("parse confirmation message: %w", err)
	}
	link := email.PreferredConfirmationLink(links)
	if link == "" {
		return false, fmt.Errorf("confirmation message %s carries no links", msg.ID)
	}

	o.logger.Info("Following confirmation link.")
	err = o.bridge.RunBlocking(ctx, "email confirmation", func(taskCtx context.Context) error {
		if navErr := page.Navigate(taskCtx, link); navErr != nil {
			return navErr
		}
		// Some flows land on an interstitial with an explicit confirm button.
		if ok, _ := page.Exists(taskCtx, "a[href*='confirmation'], button[type='submit']"); ok {
			if current, urlErr := page.CurrentURL(taskCtx); urlErr == nil && !strings.Contains(current, "sign_in") {
				_ = page.Click(taskCtx, "a[href*='confirmation'], button[type='submit']")
			}
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

func shortID() string {
	return uuid.New().String()[:8]
}
