// File: internal/lab/lab.go

// Package lab drives the hands-on lab flow: starting the lab, passing its
// challenge, accepting the console terms in an isolated context and pulling
// the provisioned credential.
package lab

import (
	"errors"
	"net/url"
	"strings"
)

const (
	// credentialPrefix and credentialMinLength gate what counts as a real
	// provider key. Anything else is treated as placeholder UI text.
	credentialPrefix    = "AIza"
	credentialMinLength = 30

	consoleHost = "console.cloud.google.com"
)

// startControlVariants are the labels the start control is known to carry,
// in English and Indonesian, most specific first. Matching is
// case-insensitive on trimmed text.
var startControlVariants = []string{
	"start lab",
	"mulai lab",
	"begin lab",
	"start",
	"mulai",
}

// startControlSelectors are tried when no text variant matches.
var startControlSelectors = []string{
	"ql-lab-control-panel button",
	"#start-lab",
	".start-lab-button",
	"button[data-action='start']",
}

// Result reports a lab run. When Success is false, Credential is always
// empty and Error says why.
type Result struct {
	Success    bool   `json:"success"`
	ProjectID  string `json:"project_id,omitempty"`
	Credential string `json:"credential,omitempty"`
	Error      string `json:"error,omitempty"`
}

func failed(reason string) Result {
	if reason == "" {
		reason = "lab flow failed"
	}
	return Result{Success: false, Error: reason}
}

// matchesStartControl reports whether a control label identifies the start
// control.
func matchesStartControl(text string) bool {
	normalized := strings.ToLower(strings.TrimSpace(text))
	if normalized == "" {
		return false
	}
	for _, variant := range startControlVariants {
		if normalized == variant || strings.Contains(normalized, variant) {
			return true
		}
	}
	return false
}

// ParseProjectID extracts the lab project identifier from a console URL.
func ParseProjectID(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if !strings.Contains(u.Host, consoleHost) {
		return "", &url.Error{Op: "parse", URL: rawURL, Err: errNotConsoleURL}
	}
	if id := u.Query().Get("project"); id != "" {
		return id, nil
	}
	return "", &url.Error{Op: "parse", URL: rawURL, Err: errNoProjectParam}
}

// ValidCredential reports whether the value looks like a provisioned
// provider key rather than UI scaffolding.
func ValidCredential(value string) bool {
	value = strings.TrimSpace(value)
	return strings.HasPrefix(value, credentialPrefix) && len(value) >= credentialMinLength
}

var (
	errNotConsoleURL  = errors.New("not a console URL")
	errNoProjectParam = errors.New("no project parameter in URL")
)

// CredentialsPageURL builds the credentials page URL for a project.
func CredentialsPageURL(projectID string) string {
	return "https://" + consoleHost + "/apis/credentials?project=" + url.QueryEscape(projectID)
}
