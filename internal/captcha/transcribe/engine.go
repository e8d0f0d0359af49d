// File: internal/captcha/transcribe/engine.go

// Package transcribe turns challenge audio into text answers. Engines are
// thin HTTP clients; the resolver fans the audio out to every configured
// engine and keeps the most confident usable transcript.
package transcribe

import (
	"context"
	"errors"
	"strings"
	"unicode"
)

// ErrNoTranscript is returned when no engine produced a usable transcript.
var ErrNoTranscript = errors.New("no engine produced a usable transcript")

// Result is one engine's answer.
type Result struct {
	// Text is the cleaned transcript: lowercase alphanumerics only, the form
	// challenge answers are typed in.
	Text string
	// Confidence is the engine's self-reported confidence in [0,1]. Engines
	// that do not report one use a fixed default.
	Confidence float64
	// Engine names the producer, for logs.
	Engine string
}

// Engine transcribes a single audio payload.
type Engine interface {
	Name() string
	Transcribe(ctx context.Context, audio []byte, mimeType string) (Result, error)
}

// Clean normalizes a raw transcript into answer form: lowercased with
// everything but letters and digits removed.
func Clean(raw string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(raw) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
