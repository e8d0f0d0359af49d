// File: internal/license/client.go

// Package license validates trial entitlements against the licensing
// service, with a small file cache so transient outages do not block runs.
package license

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/enroll-cli/internal/config"
)

// ErrNotEntitled is returned when the service rejects the key.
var ErrNotEntitled = errors.New("license key is not entitled")

// Status is the service's verdict on a key.
type Status struct {
	Valid     bool      `json:"valid"`
	Plan      string    `json:"plan"`
	ExpiresAt time.Time `json:"expires_at"`
	Reason    string    `json:"reason,omitempty"`
}

// Client checks and provisions licenses.
type Client struct {
	cfg    config.LicenseConfig
	client *http.Client
	cache  *fileCache
	logger *zap.Logger
	now    func() time.Time
}

// NewClient builds the client from configuration.
func NewClient(cfg config.LicenseConfig, logger *zap.Logger) *Client {
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: 20 * time.Second},
		cache:  newFileCache(cfg.CacheFile),
		logger: logger.Named("license"),
		now:    time.Now,
	}
}

// Enabled reports whether license checking is configured at all.
func (c *Client) Enabled() bool {
	return c.cfg.Endpoint != ""
}

// Check validates the key. A cached verdict younger than the TTL is served
// without a network call. When the service is unreachable, a cached verdict
// within the offline grace window still counts; past it, the outage is an
// error.
func (c *Client) Check(ctx context.Context, key string) (Status, error) {
	ttl := c.cfg.CacheTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	grace := c.cfg.OfflineGrace
	if grace <= 0 {
		grace = 72 * time.Hour
	}

	if entry, err := c.cache.load(key); err == nil {
		age := c.now().Sub(entry.CheckedAt)
		if age < ttl {
			c.logger.Debug("Serving license verdict from cache.", zap.Duration("age", age))
			return entry.Status, nil
		}
	}

	status, err := c.checkRemote(ctx, key)
	if err == nil {
		if cacheErr := c.cache.store(key, cacheEntry{Status: status, CheckedAt: c.now()}); cacheErr != nil {
			c.logger.Warn("Could not persist license cache.", zap.Error(cacheErr))
		}
		if !status.Valid {
			return status, fmt.Errorf("%w: %s", ErrNotEntitled, status.Reason)
		}
		return status, nil
	}

	// Service unreachable: fall back to the last verdict within grace.
	if entry, cacheErr := c.cache.load(key); cacheErr == nil {
		age := c.now().Sub(entry.CheckedAt)
		if age < grace {
			c.logger.Warn("License service unreachable; using cached verdict.",
				zap.Duration("age", age), zap.Error(err))
			if !entry.Status.Valid {
				return entry.Status, fmt.Errorf("%w: %s", ErrNotEntitled, entry.Status.Reason)
			}
			return entry.Status, nil
		}
	}
	return Status{}, fmt.Errorf("license check failed and no usable cache: %w", err)
}

// checkRemote calls the service.
func (c *Client) checkRemote(ctx context.Context, key string) (Status, error) {
	payload, err := json.Marshal(map[string]string{"key": key})
	if err != nil {
		return Status{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint+"/v1/check", bytes.NewReader(payload))
	if err != nil {
		return Status{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Status{}, fmt.Errorf("license service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Status{}, fmt.Errorf("license service returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Status{}, err
	}

	var status Status
	if err := json.Unmarshal(body, &status); err != nil {
		return Status{}, fmt.Errorf("could not parse license response: %w", err)
	}
	return status, nil
}

// Provision requests a new trial key for the given email.
func (c *Client) Provision(ctx context.Context, email string) (string, error) {
	payload, err := json.Marshal(map[string]string{"email": email})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint+"/v1/provision", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("license provisioning failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("license service returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}

	var parsed struct {
		Key string `json:"key"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("could not parse provisioning response: %w", err)
	}
	if parsed.Key == "" {
		return "", errors.New("license service returned an empty key")
	}

	c.logger.Info("Trial license provisioned.")
	return parsed.Key, nil
}
