// File: internal/browser/fill.go
package browser

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"
)

//go:embed js_scripts/fill_field.js
var fillFieldJS string

// maxSearchDepth bounds the shadow-root / same-origin-iframe descent of the
// in-page element search.
const maxSearchDepth = 5

// maxNonCriticalFailures is how many optional fields may fail before the
// whole form fill is abandoned.
const maxNonCriticalFailures = 2

var (
	// ErrFieldNotFound means no candidate located the target element.
	ErrFieldNotFound = errors.New("field not found")
	// ErrReadbackMismatch means the element did not retain the written value.
	ErrReadbackMismatch = errors.New("field readback mismatch")
)

// Field declares how to locate one form input. Candidates are tried in
// order: label text first, then placeholder text, then CSS selectors.
type Field struct {
	// Name identifies the field in logs and errors.
	Name string
	// Critical fields abort the form fill on failure.
	Critical bool

	Selectors   []string
	Label       string
	Placeholder string
}

// FieldValue pairs a field declaration with the value to write.
type FieldValue struct {
	Field Field
	Value string
}

type fillSpec struct {
	Selectors   []string `json:"selectors"`
	Label       string   `json:"label"`
	Placeholder string   `json:"placeholder"`
	MaxDepth    int      `json:"maxDepth"`
}

type fillOutcome struct {
	Found    bool   `json:"found"`
	Matched  string `json:"matched"`
	Readback string `json:"readback"`
}

// FillField locates the field, writes the value with input/change dispatch
// and verifies it by reading the element's value back. A mismatch is an
// error: a fill that did not stick must never be reported as done.
func (p *Page) FillField(ctx context.Context, field Field, value string) error {
	spec, err := json.Marshal(fillSpec{
		Selectors:   field.Selectors,
		Label:       field.Label,
		Placeholder: field.Placeholder,
		MaxDepth:    maxSearchDepth,
	})
	if err != nil {
		return fmt.Errorf("could not encode fill spec for %q: %w", field.Name, err)
	}
	encodedValue, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("could not encode value for %q: %w", field.Name, err)
	}

	script := fmt.Sprintf("(%s)(%s, %s)", fillFieldJS, spec, encodedValue)

	var outcome fillOutcome
	if err := p.Evaluate(ctx, script, &outcome); err != nil {
		return fmt.Errorf("fill script failed for %q: %w", field.Name, err)
	}

	if !outcome.Found {
		return fmt.Errorf("field %q: %w", field.Name, ErrFieldNotFound)
	}
	if outcome.Readback != value {
		p.logger.Debug("Readback mismatch after fill.",
			zap.String("field", field.Name),
			zap.String("matched", outcome.Matched),
			zap.Int("wrote_len", len(value)),
			zap.Int("read_len", len(outcome.Readback)),
		)
		return fmt.Errorf("field %q: %w", field.Name, ErrReadbackMismatch)
	}

	p.logger.Debug("Field filled and verified.",
		zap.String("field", field.Name),
		zap.String("matched", outcome.Matched),
	)
	return nil
}

// FillForm fills every field in order. Critical failures abort immediately;
// non-critical failures are tolerated up to maxNonCriticalFailures.
func (p *Page) FillForm(ctx context.Context, items []FieldValue) error {
	failures := 0
	for _, item := range items {
		err := p.FillField(ctx, item.Field, item.Value)
		if err == nil {
			continue
		}
		if item.Field.Critical {
			return fmt.Errorf("critical field failed: %w", err)
		}
		failures++
		p.logger.Warn("Optional field failed; continuing.",
			zap.String("field", item.Field.Name),
			zap.Int("failures", failures),
			zap.Error(err),
		)
		if failures > maxNonCriticalFailures {
			return fmt.Errorf("too many optional field failures (%d): %w", failures, err)
		}
	}
	return nil
}

// SetChecked drives a checkbox to the requested state via a real click so
// attached handlers fire. A checkbox already in the right state is left
// alone.
func (p *Page) SetChecked(ctx context.Context, selector string, checked bool) error {
	var state struct {
		Found   bool `json:"found"`
		Checked bool `json:"checked"`
	}
	script := fmt.Sprintf(`(function() {
        const el = document.querySelector(%q);
        return el ? { found: true, checked: !!el.checked } : { found: false, checked: false };
    })()`, selector)
	if err := p.Evaluate(ctx, script, &state); err != nil {
		return fmt.Errorf("could not read checkbox %q: %w", selector, err)
	}
	if !state.Found {
		return fmt.Errorf("checkbox %q: %w", selector, ErrFieldNotFound)
	}
	if state.Checked == checked {
		return nil
	}
	if err := p.Click(ctx, selector); err != nil {
		return err
	}

	if err := p.Evaluate(ctx, script, &state); err != nil {
		return fmt.Errorf("could not verify checkbox %q: %w", selector, err)
	}
	if state.Checked != checked {
		return fmt.Errorf("checkbox %q: %w", selector, ErrReadbackMismatch)
	}
	return nil
}

// SelectOption sets a <select> element's value and verifies it stuck.
func (p *Page) SelectOption(ctx context.Context, selector, value string) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return err
	}
	script := fmt.Sprintf(`(function() {
        const el = document.querySelector(%q);
        if (!el) { return { found: false, readback: '' }; }
        el.value = %s;
        el.dispatchEvent(new Event('change', { bubbles: true }));
        return { found: true, readback: el.value };
    })()`, selector, encoded)

	var outcome fillOutcome
	if err := p.Evaluate(ctx, script, &outcome); err != nil {
		return fmt.Errorf("select script failed for %q: %w", selector, err)
	}
	if !outcome.Found {
		return fmt.Errorf("select %q: %w", selector, ErrFieldNotFound)
	}
	if outcome.Readback != value {
		return fmt.Errorf("select %q: %w", selector, ErrReadbackMismatch)
	}
	return nil
}
