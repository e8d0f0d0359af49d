// File: internal/lab/start.go
package lab

import (
	"context"
	"fmt"
	"strings"
	"time"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"
)

// clickStartScript clicks the first clickable control whose text matches one
// of the provided variants. Returns the matched label, or "" when nothing
// matched.
const clickStartScript = `((variants) => {
    const candidates = document.querySelectorAll("button, a, [role='button'], input[type='submit']");
    for (const el of candidates) {
        const text = (el.innerText || el.value || "").trim().toLowerCase();
        if (!text) continue;
        for (const variant of variants) {
            if (text === variant || text.includes(variant)) {
                el.click();
                return text;
            }
        }
    }
    return "";
})(%s)`

// consoleLinkScript returns the first console link on the lab page, or "".
const consoleLinkScript = `(() => {
    const link = document.querySelector("a[href*='console.cloud.google.com']");
    return link ? link.href : "";
})()`

// startedScript reports whether the lab panel shows a running lab: the start
// control is gone or replaced by an end control.
const startedScript = `(() => {
    const candidates = document.querySelectorAll("button, a, [role='button']");
    for (const el of candidates) {
        const text = (el.innerText || "").trim().toLowerCase();
        if (text.includes("end lab") || text.includes("akhiri lab")) return true;
    }
    return false;
})()`

// clickStart finds and clicks the lab start control, first by label text,
// then by the known panel selectors. It keeps trying until the timeout
// because the panel renders asynchronously.
func (f *Flow) clickStart(ctx context.Context) error {
	timeout := f.cfg.StartTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	pollCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	variants, err := json.Marshal(startControlVariants)
	if err != nil {
		return err
	}
	script := fmt.Sprintf(clickStartScript, string(variants))

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		var started bool
		if err := f.page.Evaluate(pollCtx, startedScript, &started); err == nil && started {
			f.logger.Debug("Lab is already running.")
			return nil
		}

		var matched string
		if err := f.page.Evaluate(pollCtx, script, &matched); err == nil && matchesStartControl(matched) {
			f.logger.Debug("Clicked start control.", zap.String("label", matched))
			return nil
		}

		if selector := f.clickStartBySelector(pollCtx); selector != "" {
			f.logger.Debug("Clicked start control by selector.", zap.String("selector", selector))
			return nil
		}

		select {
		case <-pollCtx.Done():
			return fmt.Errorf("start control not found within %s (tried %s): %w",
				timeout, strings.Join(startControlVariants, ", "), pollCtx.Err())
		case <-ticker.C:
		}
	}
}

// clickStartBySelector tries the known CSS selectors and returns the one that
// clicked, or "".
func (f *Flow) clickStartBySelector(ctx context.Context) string {
	for _, selector := range startControlSelectors {
		exists, err := f.page.Exists(ctx, selector)
		if err != nil || !exists {
			continue
		}
		if err := f.page.Click(ctx, selector); err == nil {
			return selector
		}
	}
	return ""
}
