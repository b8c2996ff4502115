package httpx

import (
	"context"
	"math"
	"math/rand"
	"time"

	"towncrier/internal/ratelimit"
)

// RetryConfig mirrors the per-platform retry block.
type RetryConfig struct {
	MaxRetries        int           `json:"max_retries"`
	BaseDelay         time.Duration `json:"-"`
	MaxDelay          time.Duration `json:"-"`
	BackoffMultiplier float64       `json:"backoff_multiplier"`
	Jitter            bool          `json:"-"`

	// ShouldRetry overrides the default classification (IsRetryable).
	// Hacker News uses this to pin duplicate/banned/bad-login responses as
	// terminal even when they arrive with a retryable-looking shape.
	ShouldRetry func(err error) bool `json:"-"`

	// Breaker, when set, wraps every attempt. An open breaker fails the
	// attempt with a transient error without touching the network.
	Breaker *Breaker `json:"-"`
}

// DefaultRetryConfig matches the documented platform defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		BaseDelay:         time.Second,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}
}

func (c RetryConfig) normalized() RetryConfig {
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.MaxDelay < c.BaseDelay {
		c.MaxDelay = c.BaseDelay
	}
	if c.BackoffMultiplier < 1 {
		c.BackoffMultiplier = 2.0
	}
	return c
}

// Do executes op with exponential backoff.
//
// Every attempt, including the first, passes through the limiter's
// WaitIfNeeded immediately before the call; RecordRequest runs immediately
// after a successful call. On failure the error is classified; non-retryable
// errors and exhausted budgets propagate the last error.
func Do(ctx context.Context, lim *ratelimit.Limiter, cfg RetryConfig, op func(ctx context.Context) error) error {
	cfg = cfg.normalized()
	shouldRetry := cfg.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = IsRetryable
	}

	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(cfg, attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		if lim != nil {
			if err := lim.WaitIfNeeded(ctx); err != nil {
				return err
			}
		}

		var err error
		if cfg.Breaker != nil {
			err = cfg.Breaker.Call(func() error { return op(ctx) })
		} else {
			err = op(ctx)
		}
		if err == nil {
			if lim != nil {
				lim.RecordRequest()
			}
			return nil
		}
		lastErr = err

		if !shouldRetry(err) {
			return err
		}
	}
	return lastErr
}

// backoffDelay computes min(base * multiplier^(attempt-1), max), with
// optional +/-10% jitter to avoid thundering herds.
func backoffDelay(cfg RetryConfig, attempt int) time.Duration {
	d := time.Duration(float64(cfg.BaseDelay) * math.Pow(cfg.BackoffMultiplier, float64(attempt-1)))
	if d > cfg.MaxDelay || d <= 0 {
		d = cfg.MaxDelay
	}
	if cfg.Jitter {
		j := time.Duration(float64(d) * 0.1 * (2*rand.Float64() - 1))
		d += j
	}
	return d
}
