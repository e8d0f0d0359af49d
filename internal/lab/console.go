// File: internal/lab/console.go
package lab

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// acceptTermsScript drives the console terms dialog: tick the agreement
// checkbox when present, then click the accept button. It searches the
// document and every same-origin iframe because the console renders the
// dialog in either place. Returns "accepted", "pending" (dialog visible but
// not dismissable yet) or "none".
const acceptTermsScript = `(() => {
    const acceptLabels = ["agree and continue", "i agree", "agree", "accept", "setuju"];

    const tryRoot = (root) => {
        const dialog = root.querySelector("[role='dialog'], .mat-dialog-container, mat-dialog-container");
        if (!dialog) return "none";

        const checkbox = dialog.querySelector("input[type='checkbox']:not(:checked), mat-checkbox:not(.mat-checkbox-checked) input");
        if (checkbox) checkbox.click();

        const buttons = dialog.querySelectorAll("button");
        for (const btn of buttons) {
            const text = (btn.innerText || "").trim().toLowerCase();
            if (btn.disabled) continue;
            for (const label of acceptLabels) {
                if (text.includes(label)) {
                    btn.click();
                    return "accepted";
                }
            }
        }
        return "pending";
    };

    let outcome = tryRoot(document);
    if (outcome !== "none") return outcome;

    for (const frame of document.querySelectorAll("iframe")) {
        try {
            const doc = frame.contentDocument;
            if (!doc) continue;
            outcome = tryRoot(doc);
            if (outcome !== "none") return outcome;
        } catch (e) {
            // cross-origin frame
        }
    }
    return "none";
})()`

// createKeyScript clicks through the credentials page to request an API key.
// Returns the phase it advanced: "create", "apikey" or "".
const createKeyScript = `(() => {
    const clickByText = (labels) => {
        const candidates = document.querySelectorAll("button, a, [role='menuitem'], [role='button']");
        for (const el of candidates) {
            const text = (el.innerText || "").trim().toLowerCase();
            for (const label of labels) {
                if (text.includes(label)) {
                    el.click();
                    return true;
                }
            }
        }
        return false;
    };

    if (clickByText(["api key", "kunci api"])) return "apikey";
    if (clickByText(["create credentials", "buat kredensial"])) return "create";
    return "";
})()`

// readKeyScript pulls the freshly minted key out of the confirmation modal.
const readKeyScript = `(() => {
    const selectors = [
        "[role='dialog'] input[readonly]",
        "[role='dialog'] input",
        ".mat-dialog-container input",
        "[role='dialog'] code",
    ];
    for (const selector of selectors) {
        const el = document.querySelector(selector);
        if (!el) continue;
        const value = (el.value || el.innerText || "").trim();
        if (value) return value;
    }
    return "";
})()`

// acceptTerms polls for the terms dialog and dismisses it. The dialog may
// never appear; that is reported as an error the caller can downgrade.
func (f *Flow) acceptTerms(ctx context.Context, console Page) error {
	timeout := f.cfg.TermsTimeout
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	pollCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	seen := false
	for {
		var outcome string
		if err := console.Evaluate(pollCtx, acceptTermsScript, &outcome); err == nil {
			switch outcome {
			case "accepted":
				f.logger.Debug("Terms dialog accepted.")
				return nil
			case "pending":
				seen = true
			case "none":
				// A dialog we already saw has closed itself.
				if seen {
					return nil
				}
			}
		}
		select {
		case <-pollCtx.Done():
			return fmt.Errorf("terms dialog not handled within %s: %w", timeout, pollCtx.Err())
		case <-ticker.C:
		}
	}
}

// extractCredential opens the credentials page, requests an API key and polls
// the confirmation modal until a plausible key appears. On timeout the
// credential is empty and the error says so.
func (f *Flow) extractCredential(ctx context.Context, console Page, projectID string) (string, error) {
	timeout := f.cfg.CredentialTimeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}

	if err := console.Navigate(ctx, CredentialsPageURL(projectID)); err != nil {
		return "", fmt.Errorf("open credentials page: %w", err)
	}

	pollCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		var value string
		if err := console.Evaluate(pollCtx, readKeyScript, &value); err == nil && ValidCredential(value) {
			return value, nil
		}

		// No key yet; keep advancing the create-credential menu.
		var phase string
		if err := console.Evaluate(pollCtx, createKeyScript, &phase); err == nil && phase != "" {
			f.logger.Debug("Advanced credential creation.", zap.String("phase", phase))
		}

		select {
		case <-pollCtx.Done():
			return "", fmt.Errorf("credential did not appear within %s: %w", timeout, pollCtx.Err())
		case <-ticker.C:
		}
	}
}
