// File: internal/captcha/captcha.go

// Package captcha drives the interactive challenge widget through detection,
// checkbox click, and the audio fallback, bounded by a configured attempt
// budget.
package captcha

import (
	"errors"
)

// Status is the terminal state of one Solve call.
type Status string

const (
	// StatusNotPresent means no challenge widget was found on the page.
	StatusNotPresent Status = "not_present"
	// StatusSolved means a verification token is present.
	StatusSolved Status = "solved"
	// StatusExhausted means every attempt in the budget failed.
	StatusExhausted Status = "exhausted"
)

// Method records what finally produced the token.
type Method string

const (
	MethodNone      Method = ""
	MethodCheckbox  Method = "checkbox"
	MethodAudio     Method = "audio"
	MethodExtension Method = "extension"
)

// ErrExhausted accompanies StatusExhausted results.
var ErrExhausted = errors.New("captcha attempts exhausted")

// SolveResult reports the outcome of a Solve call. Attempts never exceeds
// the configured budget.
type SolveResult struct {
	Status   Status
	Method   Method
	Attempts int
	Token    string
}

// Solved is a convenience accessor.
func (r SolveResult) Solved() bool {
	return r.Status == StatusSolved
}
