package httpx

import (
	"errors"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"

	"towncrier/pkg/logx"
)

// BreakerConfig configures the optional per-adapter circuit breaker.
type BreakerConfig struct {
	// Name identifies this breaker in logs.
	Name string

	// FailureThreshold/MinRequests: the breaker opens when failures reach
	// FailureThreshold out of the last MinRequests executions.
	FailureThreshold uint
	MinRequests      uint

	// OpenDelay is how long the circuit stays open before probing again.
	OpenDelay time.Duration

	// SuccessThreshold is the number of successes needed in half-open state
	// before closing.
	SuccessThreshold uint

	Logger logx.Logger
}

// Breaker wraps a failsafe-go circuit breaker. A nil *Breaker is inert.
type Breaker struct {
	cb   circuitbreaker.CircuitBreaker[any]
	name string
}

func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.Name == "" {
		cfg.Name = "breaker"
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.MinRequests == 0 {
		cfg.MinRequests = 10
	}
	if cfg.OpenDelay <= 0 {
		cfg.OpenDelay = 15 * time.Second
	}
	if cfg.SuccessThreshold == 0 {
		cfg.SuccessThreshold = 1
	}

	builder := circuitbreaker.NewBuilder[any]().
		WithFailureThresholdRatio(cfg.FailureThreshold, cfg.MinRequests).
		WithDelay(cfg.OpenDelay).
		WithSuccessThreshold(cfg.SuccessThreshold)

	log := cfg.Logger
	if !log.IsZero() {
		name := cfg.Name
		builder = builder.OnStateChanged(func(event circuitbreaker.StateChangedEvent) {
			log.Warn("circuit breaker state change",
				logx.String("breaker", name),
				logx.Any("from", event.OldState),
				logx.Any("to", event.NewState),
			)
		})
	}

	return &Breaker{cb: builder.Build(), name: cfg.Name}
}

// Call executes fn through the breaker. While the circuit is open the call is
// rejected with a transient error so the retry policy backs off instead of
// giving up permanently.
func (b *Breaker) Call(fn func() error) error {
	if b == nil {
		return fn()
	}
	_, err := failsafe.With(b.cb).Get(func() (any, error) {
		return nil, fn()
	})
	if err != nil && errors.Is(err, circuitbreaker.ErrOpen) {
		return &Error{Kind: KindTransient, Message: "circuit open: " + b.name, Err: err}
	}
	return err
}

// IsOpen reports whether the circuit is currently open.
func (b *Breaker) IsOpen() bool {
	if b == nil {
		return false
	}
	return b.cb.IsOpen()
}
