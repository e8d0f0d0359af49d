// File: internal/config/config_test.go
package config_test

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/enroll-cli/internal/config"
)

func newTestViper() *viper.Viper {
	v := viper.New()
	config.SetDefaults(v)
	return v
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load(newTestViper())
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, config.PopupRedirect, cfg.Browser.PopupPolicy)
	assert.Equal(t, 2, cfg.Captcha.MaxAttempts)
	assert.Equal(t, 2, cfg.Registration.MaxRetries)
	assert.Equal(t, 90*time.Second, cfg.Browser.NavigationTimeout)

	// Derived paths are filled in.
	assert.NotEmpty(t, cfg.Browser.StateFile)
	assert.NotEmpty(t, cfg.Browser.ProfileDir)
	assert.NotEmpty(t, cfg.License.CacheFile)
}

func TestLoadDefaultsFixedFingerprint(t *testing.T) {
	cfg, err := config.Load(newTestViper())
	require.NoError(t, err)

	assert.Contains(t, cfg.Browser.UserAgent, "Chrome/")
	assert.Equal(t, "en-US", cfg.Browser.Locale)
	assert.Equal(t, 1920, cfg.Browser.WindowWidth)
	assert.Equal(t, 1080, cfg.Browser.WindowHeight)
}

func TestLoadDefaultsResetState(t *testing.T) {
	cfg, err := config.Load(newTestViper())
	require.NoError(t, err)
	assert.True(t, cfg.Browser.ResetState)
}

func TestLoadRejectsBadPopupPolicy(t *testing.T) {
	v := newTestViper()
	v.Set("browser.popup_policy", "teleport")

	_, err := config.Load(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "popup_policy")
}

func TestLoadRejectsZeroCaptchaAttempts(t *testing.T) {
	v := newTestViper()
	v.Set("captcha.max_attempts", 0)

	_, err := config.Load(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_attempts")
}

func TestPopupPolicyValid(t *testing.T) {
	cases := []struct {
		policy config.PopupPolicy
		want   bool
	}{
		{config.PopupRedirect, true},
		{config.PopupSwitch, true},
		{config.PopupIgnore, true},
		{config.PopupPolicy(""), false},
		{config.PopupPolicy("close"), false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.policy.Valid(), "policy %q", tc.policy)
	}
}

func TestValidateRejectsRelativeBaseURL(t *testing.T) {
	v := newTestViper()
	v.Set("registration.base_url", "www.example.com")

	_, err := config.Load(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base_url")
}
