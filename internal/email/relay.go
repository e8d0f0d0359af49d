// File: internal/email/relay.go
package email

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/enroll-cli/internal/config"
)

// Mask is a disposable relay address.
type Mask struct {
	ID      int64  `json:"id"`
	Address string `json:"full_address"`
}

// Relay provisions and retires masks.
type Relay struct {
	cfg    config.EmailConfig
	client *http.Client
	logger *zap.Logger
}

// NewRelay builds the client from configuration.
func NewRelay(cfg config.EmailConfig, logger *zap.Logger) *Relay {
	return &Relay{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logger.Named("relay"),
	}
}

// Enabled reports whether a relay endpoint is configured. Without one, the
// caller must supply an address of its own.
func (r *Relay) Enabled() bool {
	return r.cfg.RelayEndpoint != "" && r.cfg.RelayAPIKey != ""
}

// CreateMask mints a new relay address with a descriptive label.
func (r *Relay) CreateMask(ctx context.Context, label string) (*Mask, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"enabled":     true,
		"description": label,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		r.cfg.RelayEndpoint+"/api/v1/relayaddresses/", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Token "+r.cfg.RelayAPIKey)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mask creation failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("relay returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	var mask Mask
	if err := json.Unmarshal(body, &mask); err != nil {
		return nil, fmt.Errorf("could not parse relay response: %w", err)
	}
	if mask.Address == "" {
		return nil, fmt.Errorf("relay returned an empty address")
	}

	r.logger.Info("Mask created.", zap.String("address", mask.Address), zap.Int64("mask_id", mask.ID))
	return &mask, nil
}

// DeleteMask retires a mask. Best-effort; a mask that is already gone is not
// an error.
func (r *Relay) DeleteMask(ctx context.Context, id int64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		fmt.Sprintf("%s/api/v1/relayaddresses/%d/", r.cfg.RelayEndpoint, id), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Token "+r.cfg.RelayAPIKey)

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("mask deletion failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent, http.StatusOK, http.StatusNotFound:
		return nil
	default:
		return fmt.Errorf("relay returned status %d", resp.StatusCode)
	}
}
