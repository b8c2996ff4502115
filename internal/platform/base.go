package platform

import (
	"context"
	"net/http"
	"time"

	"towncrier/internal/config"
	"towncrier/internal/eventbus"
	"towncrier/internal/httpx"
	"towncrier/internal/ratelimit"
	"towncrier/pkg/logx"
)

// Deps is what the app hands each adapter at construction time.
type Deps struct {
	Log logx.Logger
	Bus eventbus.Bus

	// DefaultRetries applies when the platform omits retry.max_retries.
	DefaultRetries int

	// Timeout overrides the fixed per-request I/O timeout (tests).
	Timeout time.Duration
}

// Base carries the shared adapter state: one rate limiter scoped to this
// platform, the resolved retry policy, a fixed-timeout HTTP client, and the
// capability set. Adapters embed it the way plugins embed a plugin base.
type Base struct {
	name    string
	enabled bool

	Log    logx.Logger
	Bus    eventbus.Bus
	Client *http.Client

	Limiter *ratelimit.Limiter
	Retry   httpx.RetryConfig

	BaseURL       string
	Auth          config.AuthConfig
	TitleTemplate string

	caps map[Capability]bool
}

// NewBase resolves the platform block into shared adapter state.
func NewBase(name string, pc config.PlatformConfig, deps Deps, caps ...Capability) (Base, error) {
	retry, err := pc.Retry.ToRetryConfig(deps.DefaultRetries)
	if err != nil {
		return Base{}, err
	}
	if bcfg, ok, berr := pc.Breaker.ToBreakerConfig(name); berr != nil {
		return Base{}, berr
	} else if ok {
		bcfg.Logger = deps.Log
		retry.Breaker = httpx.NewBreaker(bcfg)
	}

	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}

	b := Base{
		name:          name,
		enabled:       pc.Enabled,
		Log:           log.With(logx.String("platform", name)),
		Bus:           deps.Bus,
		Client:        httpx.NewClient(deps.Timeout),
		Limiter:       ratelimit.New(pc.RateLimit),
		Retry:         retry,
		BaseURL:       pc.BaseURL,
		Auth:          pc.Auth,
		TitleTemplate: pc.TitleTemplate,
		caps:          map[Capability]bool{},
	}
	for _, c := range caps {
		b.caps[c] = true
	}
	return b, nil
}

func (b *Base) Name() string  { return b.name }
func (b *Base) Enabled() bool { return b.enabled }

func (b *Base) HasCapability(c Capability) bool { return b.caps[c] }

// Execute runs op through this platform's retry policy and rate limiter.
func (b *Base) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	return httpx.Do(ctx, b.Limiter, b.Retry, op)
}

// Emit publishes an event on the bus, if one is wired.
func (b *Base) Emit(typ string, data any) {
	if b.Bus == nil {
		return
	}
	b.Bus.Publish(eventbus.Event{Type: typ, Data: data})
}

// ResultFromError converts a classified error into a failed PublishResult.
func ResultFromError(err error) PublishResult {
	return PublishResult{
		Success:   false,
		Error:     err.Error(),
		Retryable: httpx.IsRetryable(err),
	}
}
