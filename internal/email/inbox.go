// File: internal/email/inbox.go

// Package email talks to the disposable-address services: a REST inbox for
// receiving confirmation mail and a relay service for minting masks.
package email

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/enroll-cli/internal/config"
)

// ErrNoMessage is wrapped when the poll window closes without a match.
var ErrNoMessage = errors.New("no matching message arrived")

// Message is one inbox entry.
type Message struct {
	ID         string    `json:"id"`
	To         string    `json:"to"`
	From       string    `json:"from"`
	Subject    string    `json:"subject"`
	HTMLBody   string    `json:"html_body"`
	ReceivedAt time.Time `json:"received_at"`
}

// Inbox polls a REST inbox service.
type Inbox struct {
	cfg    config.EmailConfig
	client *http.Client
	logger *zap.Logger
}

// NewInbox builds the client from configuration.
func NewInbox(cfg config.EmailConfig, logger *zap.Logger) *Inbox {
	return &Inbox{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logger.Named("inbox"),
	}
}

// WaitForMessage polls until a message to the given address satisfies match,
// pacing requests with a rate limiter so a short poll interval cannot hammer
// the service. The overall wait is bounded by the configured poll timeout.
func (i *Inbox) WaitForMessage(ctx context.Context, address string, match func(*Message) bool) (*Message, error) {
	interval := i.cfg.PollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	timeout := i.cfg.PollTimeout
	if timeout <= 0 {
		timeout = 3 * time.Minute
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	limiter := rate.NewLimiter(rate.Every(interval), 1)

	for {
		if err := limiter.Wait(waitCtx); err != nil {
			if waitCtx.Err() != nil && ctx.Err() == nil {
				return nil, fmt.Errorf("%w for %s after %s", ErrNoMessage, address, timeout)
			}
			return nil, err
		}

		messages, err := i.fetch(waitCtx, address)
		if err != nil {
			// Transient inbox errors should not end the wait.
			i.logger.Warn("Inbox fetch failed; will retry.", zap.Error(err))
			continue
		}

		for idx := range messages {
			if match == nil || match(&messages[idx]) {
				i.logger.Info("Message matched.",
					zap.String("subject", messages[idx].Subject),
					zap.String("from", messages[idx].From),
				)
				return &messages[idx], nil
			}
		}
	}
}

// fetch lists messages addressed to the given recipient.
func (i *Inbox) fetch(ctx context.Context, address string) ([]Message, error) {
	endpoint := fmt.Sprintf("%s/messages?to=%s", i.cfg.InboxEndpoint, url.QueryEscape(address))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if i.cfg.InboxAPIKey != "" {
		req.Header.Set("Authorization", "Bearer "+i.cfg.InboxAPIKey)
	}

	resp, err := i.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("inbox returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, err
	}

	var messages []Message
	if err := json.Unmarshal(body, &messages); err != nil {
		return nil, fmt.Errorf("could not parse inbox response: %w", err)
	}
	return messages, nil
}
