package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const sampleYAML = `
version: "1"
environment: production
concurrency: 3
default_retries: 2
logging:
  level: info
  console: true
  file:
    enabled: false
    path: ""
tools_dir: ./tools
templates:
  default_title: "{name} {version} - {shortDescription}"
platforms:
  devto:
    enabled: true
    auth:
      type: api_key
      api_key: ${DEVTO_KEY}
    rate_limit:
      requests_per_minute: 30
      burst_limit: 5
    retry:
      max_retries: 4
      base_delay: 500ms
      max_delay: 10s
      backoff_multiplier: 2.0
  hackernews:
    enabled: false
    auth:
      type: login
      username: crier
      password: ${HN_PASSWORD}
    rate_limit:
      requests_per_minute: 1
      burst_limit: 1
    retry: {}
    settings:
      post_type: show
`

func writeConfig(t *testing.T, body string) *Manager {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "towncrier.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return NewManager(path)
}

func TestParseYAML(t *testing.T) {
	t.Setenv("DEVTO_KEY", "sekrit")
	t.Setenv("HN_PASSWORD", "hunter2")

	cfg, err := writeConfig(t, sampleYAML).Parse()
	require.NoError(t, err)

	require.Equal(t, 3, cfg.Concurrency)
	require.Equal(t, 2, cfg.DefaultRetries)
	require.Equal(t, []string{"devto"}, cfg.EnabledPlatforms())

	devto, ok := cfg.GetPlatform("devto")
	require.True(t, ok)
	require.Equal(t, "sekrit", devto.Auth.APIKey, "credentials expand ${ENV_VAR}")
	require.Equal(t, 30, devto.RateLimit.RequestsPerMinute)

	hn, _ := cfg.GetPlatform("hackernews")
	require.Equal(t, "hunter2", hn.Auth.Password)
	require.NotEmpty(t, hn.Settings, "settings stay raw for the adapter to decode")
}

func TestParseRejectsUnknownPlatformField(t *testing.T) {
	bad := `
logging: {level: info, console: true, file: {enabled: false, path: ""}}
platforms:
  devto:
    enabled: true
    api_token: typo-should-be-under-auth
    auth: {type: api_key, api_key: x}
    rate_limit: {requests_per_minute: 1, burst_limit: 1}
    retry: {}
`
	_, err := writeConfig(t, bad).Parse()
	require.Error(t, err)
	require.Contains(t, err.Error(), "api_token")
}

func TestRetryBlockResolution(t *testing.T) {
	cfg, err := RetryBlock{MaxRetries: 5, BaseDelay: "250ms", MaxDelay: "8s", BackoffMultiplier: 1.5}.ToRetryConfig(0)
	require.NoError(t, err)
	require.Equal(t, 5, cfg.MaxRetries)
	require.Equal(t, 250*time.Millisecond, cfg.BaseDelay)
	require.Equal(t, 8*time.Second, cfg.MaxDelay)
	require.Equal(t, 1.5, cfg.BackoffMultiplier)

	// defaults survive an empty block
	def, err := RetryBlock{}.ToRetryConfig(0)
	require.NoError(t, err)
	require.Equal(t, 3, def.MaxRetries)

	// platform default_retries applies when the block is silent
	inherited, err := RetryBlock{}.ToRetryConfig(7)
	require.NoError(t, err)
	require.Equal(t, 7, inherited.MaxRetries)

	_, err = RetryBlock{BaseDelay: "10s", MaxDelay: "1s"}.ToRetryConfig(0)
	require.Error(t, err)

	_, err = RetryBlock{BaseDelay: "not-a-duration"}.ToRetryConfig(0)
	require.Error(t, err)
}

func TestTitleTemplateResolution(t *testing.T) {
	cfg := &Config{
		Templates: map[string]string{"default_title": "default {name}"},
		Platforms: map[string]PlatformConfig{
			"reddit": {TitleTemplate: "reddit {name}"},
			"devto":  {},
		},
	}
	require.Equal(t, "reddit {name}", cfg.TitleTemplateFor("reddit"))
	require.Equal(t, "default {name}", cfg.TitleTemplateFor("devto"))
	require.Equal(t, "default {name}", cfg.TitleTemplateFor("unknown"))
}

func TestLoadCommitsAndGet(t *testing.T) {
	t.Setenv("DEVTO_KEY", "k")
	t.Setenv("HN_PASSWORD", "p")
	m := writeConfig(t, sampleYAML)

	cfg, err := m.Load()
	require.NoError(t, err)
	require.Same(t, cfg, m.Get())
}

func TestBreakerBlockResolution(t *testing.T) {
	_, ok, err := (*BreakerBlock)(nil).ToBreakerConfig("x")
	require.NoError(t, err)
	require.False(t, ok)

	cfg, ok, err := (&BreakerBlock{Enabled: true, FailureThreshold: 3, MinRequests: 5, OpenDelay: "30s"}).ToBreakerConfig("reddit")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint(3), cfg.FailureThreshold)
	require.Equal(t, 30*time.Second, cfg.OpenDelay)
}
