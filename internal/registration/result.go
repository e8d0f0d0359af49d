// File: internal/registration/result.go
package registration

// Outcome classifies a finished registration run. Unknown is deliberately
// distinct from Failure: it means neither the success nor the failure signal
// appeared, and the account may or may not exist.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeUnknown Outcome = "unknown"
)

// Result reports a registration run. Error is always non-empty unless
// Outcome is OutcomeSuccess.
type Result struct {
	Outcome  Outcome `json:"outcome"`
	State    State   `json:"state"`
	Attempts int     `json:"attempts"`
	Error    string  `json:"error,omitempty"`
	FinalURL string  `json:"final_url,omitempty"`
}

// Succeeded is a convenience accessor.
func (r Result) Succeeded() bool {
	return r.Outcome == OutcomeSuccess
}

func success(state State, attempts int, url string) Result {
	return Result{Outcome: OutcomeSuccess, State: state, Attempts: attempts, FinalURL: url}
}

func failure(state State, attempts int, reason, url string) Result {
	if reason == "" {
		reason = "registration failed"
	}
	return Result{Outcome: OutcomeFailure, State: state, Attempts: attempts, Error: reason, FinalURL: url}
}

func unknown(state State, attempts int, reason, url string) Result {
	if reason == "" {
		reason = "no success or failure signal observed"
	}
	return Result{Outcome: OutcomeUnknown, State: state, Attempts: attempts, Error: reason, FinalURL: url}
}
