// File: internal/config/config.go
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger       LoggerConfig       `mapstructure:"logger" yaml:"logger"`
	Browser      BrowserConfig      `mapstructure:"browser" yaml:"browser"`
	Registration RegistrationConfig `mapstructure:"registration" yaml:"registration"`
	Captcha      CaptchaConfig      `mapstructure:"captcha" yaml:"captcha"`
	Email        EmailConfig        `mapstructure:"email" yaml:"email"`
	License      LicenseConfig      `mapstructure:"license" yaml:"license"`
	Lab          LabConfig          `mapstructure:"lab" yaml:"lab"`
}

// LoggerConfig controls the global zap logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"` // "console" or "json"
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`

	// File sink (rotated by lumberjack). Empty disables file logging.
	LogFile    string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize    int    `mapstructure:"max_size" yaml:"max_size"` // megabytes
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge     int    `mapstructure:"max_age" yaml:"max_age"` // days
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// PopupPolicy determines how newly created browser targets are handled.
type PopupPolicy string

const (
	// PopupRedirect closes the popup and navigates the current page to its URL.
	PopupRedirect PopupPolicy = "redirect"
	// PopupSwitch makes the popup the current page.
	PopupSwitch PopupPolicy = "switch"
	// PopupIgnore closes the popup; the current page never changes.
	PopupIgnore PopupPolicy = "ignore"
)

// Valid reports whether p is one of the supported policies.
func (p PopupPolicy) Valid() bool {
	switch p {
	case PopupRedirect, PopupSwitch, PopupIgnore:
		return true
	}
	return false
}

// BrowserConfig controls the browser session manager.
type BrowserConfig struct {
	Headless bool     `mapstructure:"headless" yaml:"headless"`
	Args     []string `mapstructure:"args" yaml:"args"`

	// Fixed fingerprint: every session launches with the same user agent,
	// window size and language.
	UserAgent    string `mapstructure:"user_agent" yaml:"user_agent"`
	Locale       string `mapstructure:"locale" yaml:"locale"`
	WindowWidth  int    `mapstructure:"window_width" yaml:"window_width"`
	WindowHeight int    `mapstructure:"window_height" yaml:"window_height"`

	PopupPolicy PopupPolicy `mapstructure:"popup_policy" yaml:"popup_policy"`

	// StateFile persists cookies and origin storage between runs.
	StateFile string `mapstructure:"state_file" yaml:"state_file"`

	// ResetState wipes StateFile and ProfileDir when the session starts, so
	// each run begins from a clean browser.
	ResetState bool `mapstructure:"reset_state" yaml:"reset_state"`

	// ExtensionPath enables extension mode: a persistent profile directory
	// plus an unpacked extension loaded at launch. Headless is forced off.
	ExtensionPath string `mapstructure:"extension_path" yaml:"extension_path"`
	ProfileDir    string `mapstructure:"profile_dir" yaml:"profile_dir"`

	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	PostLoadWait      time.Duration `mapstructure:"post_load_wait" yaml:"post_load_wait"`
	ActionTimeout     time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
}

// RegistrationConfig controls the sign-up flow.
type RegistrationConfig struct {
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`

	// SignupURLPattern identifies the sign-up page. After submission, a URL
	// that no longer matches it means the registration went through.
	SignupURLPattern string `mapstructure:"signup_url_pattern" yaml:"signup_url_pattern"`

	MaxRetries     int           `mapstructure:"max_retries" yaml:"max_retries"`
	MarketingOptIn bool          `mapstructure:"marketing_opt_in" yaml:"marketing_opt_in"`
	SubmitTimeout  time.Duration `mapstructure:"submit_timeout" yaml:"submit_timeout"`
}

// CaptchaConfig controls the captcha resolution pipeline.
type CaptchaConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	StepTimeout time.Duration `mapstructure:"step_timeout" yaml:"step_timeout"`

	// ExtensionMode defers solving to an installed solver extension and
	// polls for the token instead of driving the audio challenge.
	ExtensionMode bool          `mapstructure:"extension_mode" yaml:"extension_mode"`
	TokenTimeout  time.Duration `mapstructure:"token_timeout" yaml:"token_timeout"`

	GoogleWeb GoogleWebConfig `mapstructure:"google_web" yaml:"google_web"`
	Whisperd  WhisperdConfig  `mapstructure:"whisperd" yaml:"whisperd"`
}

// GoogleWebConfig configures the web speech transcription engine.
type GoogleWebConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
	APIKey   string `mapstructure:"api_key" yaml:"api_key"`
	Language string `mapstructure:"language" yaml:"language"`
}

// WhisperdConfig configures a local whisper transcription server.
type WhisperdConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
	Model    string `mapstructure:"model" yaml:"model"`
}

// EmailConfig controls the inbox and relay mask clients.
type EmailConfig struct {
	// Address is used as-is when the relay is disabled.
	Address string `mapstructure:"address" yaml:"address"`

	InboxEndpoint string        `mapstructure:"inbox_endpoint" yaml:"inbox_endpoint"`
	InboxAPIKey   string        `mapstructure:"inbox_api_key" yaml:"inbox_api_key"`
	PollInterval  time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	PollTimeout   time.Duration `mapstructure:"poll_timeout" yaml:"poll_timeout"`

	RelayEndpoint string `mapstructure:"relay_endpoint" yaml:"relay_endpoint"`
	RelayAPIKey   string `mapstructure:"relay_api_key" yaml:"relay_api_key"`
}

// LicenseConfig controls trial entitlement checks.
type LicenseConfig struct {
	Endpoint     string        `mapstructure:"endpoint" yaml:"endpoint"`
	APIKey       string        `mapstructure:"api_key" yaml:"api_key"`
	CacheFile    string        `mapstructure:"cache_file" yaml:"cache_file"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl"`
	OfflineGrace time.Duration `mapstructure:"offline_grace" yaml:"offline_grace"`
}

// LabConfig controls the console/lab pipeline.
type LabConfig struct {
	TermsTimeout      time.Duration `mapstructure:"terms_timeout" yaml:"terms_timeout"`
	CredentialTimeout time.Duration `mapstructure:"credential_timeout" yaml:"credential_timeout"`
	StartTimeout      time.Duration `mapstructure:"start_timeout" yaml:"start_timeout"`
}

// SetDefaults registers every default value on the provided viper instance.
// Callers load file/env configuration on top of these.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "enroll-cli")
	v.SetDefault("logger.max_size", 25)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36")
	v.SetDefault("browser.locale", "en-US")
	v.SetDefault("browser.window_width", 1920)
	v.SetDefault("browser.window_height", 1080)
	v.SetDefault("browser.reset_state", true)
	v.SetDefault("browser.popup_policy", string(PopupRedirect))
	v.SetDefault("browser.navigation_timeout", 90*time.Second)
	v.SetDefault("browser.post_load_wait", 1500*time.Millisecond)
	v.SetDefault("browser.action_timeout", 30*time.Second)

	v.SetDefault("registration.base_url", "https://www.cloudskillsboost.google")
	v.SetDefault("registration.signup_url_pattern", "sign_up")
	v.SetDefault("registration.max_retries", 2)
	v.SetDefault("registration.marketing_opt_in", false)
	v.SetDefault("registration.submit_timeout", 45*time.Second)

	v.SetDefault("captcha.max_attempts", 2)
	v.SetDefault("captcha.step_timeout", 20*time.Second)
	v.SetDefault("captcha.token_timeout", 120*time.Second)
	v.SetDefault("captcha.google_web.enabled", true)
	v.SetDefault("captcha.google_web.endpoint", "http://www.google.com/speech-api/v2/recognize")
	v.SetDefault("captcha.google_web.language", "en-US")
	v.SetDefault("captcha.whisperd.enabled", false)
	v.SetDefault("captcha.whisperd.endpoint", "http://127.0.0.1:9000")
	v.SetDefault("captcha.whisperd.model", "base.en")

	v.SetDefault("email.poll_interval", 5*time.Second)
	v.SetDefault("email.poll_timeout", 3*time.Minute)

	v.SetDefault("license.cache_ttl", 1*time.Hour)
	v.SetDefault("license.offline_grace", 72*time.Hour)

	v.SetDefault("lab.terms_timeout", 60*time.Second)
	v.SetDefault("lab.credential_timeout", 90*time.Second)
	v.SetDefault("lab.start_timeout", 45*time.Second)
}

// Load unmarshals the viper instance into a Config and fills derived paths.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.applyPathDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyPathDefaults resolves the data directory and fills empty file paths.
func (c *Config) applyPathDefaults() error {
	home, err := homedir.Dir()
	if err != nil {
		return fmt.Errorf("could not resolve home directory: %w", err)
	}
	dataDir := filepath.Join(home, ".enroll-cli")

	if c.Browser.StateFile == "" {
		c.Browser.StateFile = filepath.Join(dataDir, "storage_state.json")
	}
	if c.Browser.ProfileDir == "" {
		c.Browser.ProfileDir = filepath.Join(dataDir, "profile")
	}
	if c.License.CacheFile == "" {
		c.License.CacheFile = filepath.Join(dataDir, "license_cache.json")
	}
	return nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if !c.Browser.PopupPolicy.Valid() {
		return fmt.Errorf("invalid browser.popup_policy %q (supported: redirect, switch, ignore)", c.Browser.PopupPolicy)
	}
	if c.Captcha.MaxAttempts < 1 {
		return fmt.Errorf("captcha.max_attempts must be >= 1, got %d", c.Captcha.MaxAttempts)
	}
	if c.Registration.MaxRetries < 0 {
		return fmt.Errorf("registration.max_retries must be >= 0, got %d", c.Registration.MaxRetries)
	}
	if c.Registration.BaseURL != "" && !strings.HasPrefix(c.Registration.BaseURL, "http") {
		return fmt.Errorf("registration.base_url must be an absolute URL, got %q", c.Registration.BaseURL)
	}
	return nil
}
