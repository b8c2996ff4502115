package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"towncrier/internal/httpx"
	"towncrier/internal/ratelimit"
)

// Config is the root configuration document.
//
// Platform settings stay raw (json.RawMessage): each adapter decodes its own
// typed settings struct, so adding a platform never touches this package.
type Config struct {
	Version     string `json:"version,omitempty"`
	Environment string `json:"environment,omitempty"`

	// Concurrency bounds how many platform dispatches run at once in
	// concurrent mode. Default 3.
	Concurrency int `json:"concurrency,omitempty"`

	// DefaultRetries applies when a platform omits retry.max_retries.
	DefaultRetries int `json:"default_retries,omitempty"`

	Logging LoggingConfig `json:"logging"`

	// Archive is the optional publication journal.
	Archive *ArchiveConfig `json:"archive,omitempty"`

	// ToolsDir is scanned for tool record files (yaml/json).
	ToolsDir string `json:"tools_dir,omitempty"`

	// Templates holds title templates; "default_title" applies everywhere
	// unless a platform sets title_template.
	Templates map[string]string `json:"templates,omitempty"`

	Daemon *DaemonConfig `json:"daemon,omitempty"`

	Platforms map[string]PlatformConfig `json:"platforms"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// ArchiveConfig controls the optional persistence layer.
//
// Example:
//
//	"archive": { "driver": "sqlite", "path": "./towncrier.db" }
type ArchiveConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

// DaemonConfig controls daemon mode.
type DaemonConfig struct {
	// RetrySchedule is a cron expression for the periodic retry-failed sweep.
	// Empty disables the sweep.
	RetrySchedule string `json:"retry_schedule,omitempty"`
}

// PlatformConfig is one platform's block.
type PlatformConfig struct {
	Enabled bool   `json:"enabled"`
	BaseURL string `json:"base_url,omitempty"`

	Auth AuthConfig `json:"auth"`

	RateLimit ratelimit.Config `json:"rate_limit"`
	Retry     RetryBlock       `json:"retry"`

	// Breaker optionally enables a circuit breaker around the platform's
	// submission path.
	Breaker *BreakerBlock `json:"breaker,omitempty"`

	// TitleTemplate overrides templates.default_title for this platform.
	TitleTemplate string `json:"title_template,omitempty"`

	// Settings is decoded by the owning adapter.
	Settings json.RawMessage `json:"settings,omitempty"`
}

// UnmarshalJSON disallows unknown fields so credential typos are caught at
// load time rather than silently ignored.
func (p *PlatformConfig) UnmarshalJSON(b []byte) error {
	type alias PlatformConfig
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var t alias
	if err := dec.Decode(&t); err != nil {
		return err
	}
	*p = PlatformConfig(t)
	return nil
}

// AuthConfig is the credential variant for a platform.
//
// Type selects which fields apply:
//
//	oauth2:  client_id, client_secret, refresh_token, access_token, scopes
//	api_key: api_key
//	token:   token
//	oauth1:  token, token_secret
//	login:   username, password (Hacker News form login)
//
// Every credential value supports ${ENV_VAR} expansion.
type AuthConfig struct {
	Type string `json:"type"`

	ClientID     string   `json:"client_id,omitempty"`
	ClientSecret string   `json:"client_secret,omitempty"`
	RefreshToken string   `json:"refresh_token,omitempty"`
	AccessToken  string   `json:"access_token,omitempty"`
	Scopes       []string `json:"scopes,omitempty"`

	APIKey string `json:"api_key,omitempty"`

	Token       string `json:"token,omitempty"`
	TokenSecret string `json:"token_secret,omitempty"`

	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// ExpandEnv resolves ${VAR} references in credential fields.
func (a AuthConfig) ExpandEnv() AuthConfig {
	exp := func(s string) string {
		if strings.Contains(s, "${") {
			return os.ExpandEnv(s)
		}
		return s
	}
	a.ClientID = exp(a.ClientID)
	a.ClientSecret = exp(a.ClientSecret)
	a.RefreshToken = exp(a.RefreshToken)
	a.AccessToken = exp(a.AccessToken)
	a.APIKey = exp(a.APIKey)
	a.Token = exp(a.Token)
	a.TokenSecret = exp(a.TokenSecret)
	a.Username = exp(a.Username)
	a.Password = exp(a.Password)
	return a
}

// RetryBlock is the wire form of a retry policy (durations as strings).
type RetryBlock struct {
	MaxRetries        int     `json:"max_retries,omitempty"`
	BaseDelay         string  `json:"base_delay,omitempty"`
	MaxDelay          string  `json:"max_delay,omitempty"`
	BackoffMultiplier float64 `json:"backoff_multiplier,omitempty"`
}

// ToRetryConfig resolves the block against defaults.
func (r RetryBlock) ToRetryConfig(defaultRetries int) (httpx.RetryConfig, error) {
	cfg := httpx.DefaultRetryConfig()
	if defaultRetries > 0 {
		cfg.MaxRetries = defaultRetries
	}
	if r.MaxRetries > 0 {
		cfg.MaxRetries = r.MaxRetries
	}
	if r.BackoffMultiplier > 0 {
		cfg.BackoffMultiplier = r.BackoffMultiplier
	}
	var err error
	if cfg.BaseDelay, err = ParseDurationOrDefault("retry.base_delay", r.BaseDelay, cfg.BaseDelay); err != nil {
		return cfg, err
	}
	if cfg.MaxDelay, err = ParseDurationOrDefault("retry.max_delay", r.MaxDelay, cfg.MaxDelay); err != nil {
		return cfg, err
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		return cfg, fmt.Errorf("retry.max_delay: must be >= base_delay")
	}
	return cfg, nil
}

// BreakerBlock is the wire form of a circuit breaker config.
type BreakerBlock struct {
	Enabled          bool   `json:"enabled"`
	FailureThreshold uint   `json:"failure_threshold,omitempty"`
	MinRequests      uint   `json:"min_requests,omitempty"`
	OpenDelay        string `json:"open_delay,omitempty"`
	SuccessThreshold uint   `json:"success_threshold,omitempty"`
}

// ToBreakerConfig resolves the block; returns ok=false when disabled.
func (b *BreakerBlock) ToBreakerConfig(name string) (httpx.BreakerConfig, bool, error) {
	if b == nil || !b.Enabled {
		return httpx.BreakerConfig{}, false, nil
	}
	cfg := httpx.BreakerConfig{
		Name:             name,
		FailureThreshold: b.FailureThreshold,
		MinRequests:      b.MinRequests,
		SuccessThreshold: b.SuccessThreshold,
	}
	var err error
	if cfg.OpenDelay, err = ParseDurationField("breaker.open_delay", b.OpenDelay); err != nil {
		return cfg, false, err
	}
	return cfg, true, nil
}

// GetPlatform returns the named platform block, if configured.
func (c *Config) GetPlatform(name string) (PlatformConfig, bool) {
	if c == nil || c.Platforms == nil {
		return PlatformConfig{}, false
	}
	pc, ok := c.Platforms[name]
	return pc, ok
}

// EnabledPlatforms returns the names of all enabled platforms, sorted.
func (c *Config) EnabledPlatforms() []string {
	if c == nil {
		return nil
	}
	out := make([]string, 0, len(c.Platforms))
	for name, pc := range c.Platforms {
		if pc.Enabled {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// TitleTemplateFor resolves the effective title template for a platform
// (platform override first, then templates.default_title, then empty).
func (c *Config) TitleTemplateFor(name string) string {
	if c == nil {
		return ""
	}
	if pc, ok := c.Platforms[name]; ok && strings.TrimSpace(pc.TitleTemplate) != "" {
		return pc.TitleTemplate
	}
	if c.Templates != nil {
		return c.Templates["default_title"]
	}
	return ""
}

// ParseDurationField parses an optional Go duration string.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault parses an optional duration, falling back to def.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
