// Package ratelimit provides per-platform token-bucket admission control.
//
// Each adapter owns exactly one Limiter scoped to its platform's configured
// rate; limiters are never shared across platforms.
package ratelimit

import (
	"context"
	"math"
	"time"

	"golang.org/x/time/rate"
)

// Config mirrors the platform rate_limit block. Only RequestsPerMinute and
// BurstLimit drive the bucket; the hourly/daily figures are documentation for
// operators and fall back into the refill rate when the minute figure is
// absent.
type Config struct {
	RequestsPerMinute int `json:"requests_per_minute"`
	RequestsPerHour   int `json:"requests_per_hour,omitempty"`
	RequestsPerDay    int `json:"requests_per_day,omitempty"`
	BurstLimit        int `json:"burst_limit"`
}

// Limiter is a token bucket: capacity = burst limit, refill =
// requests-per-minute spread evenly over the minute.
//
// WaitIfNeeded never consumes a token; consumption happens in RecordRequest,
// which the caller invokes after a successful request. RecordRequest is a
// no-op when the bucket is empty, so the bucket never goes negative.
type Limiter struct {
	lim       *rate.Limiter
	perSecond float64
}

// New builds a limiter from the platform config. A zero/absent rate means
// unlimited admission.
func New(cfg Config) *Limiter {
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 && cfg.RequestsPerHour > 0 {
		rpm = cfg.RequestsPerHour / 60
	}
	if rpm <= 0 && cfg.RequestsPerDay > 0 {
		rpm = cfg.RequestsPerDay / (24 * 60)
	}
	if rpm <= 0 {
		return &Limiter{lim: rate.NewLimiter(rate.Inf, 1), perSecond: math.Inf(1)}
	}
	burst := cfg.BurstLimit
	if burst <= 0 {
		burst = 1
	}
	perSecond := float64(rpm) / 60.0
	return &Limiter{
		lim:       rate.NewLimiter(rate.Limit(perSecond), burst),
		perSecond: perSecond,
	}
}

// CanMakeRequest reports whether at least one token is available right now.
func (l *Limiter) CanMakeRequest() bool {
	return l.lim.Tokens() >= 1
}

// RecordRequest consumes one token if available; no-op on an empty bucket.
func (l *Limiter) RecordRequest() {
	_ = l.lim.Allow()
}

// WaitTime returns how long until one token is available (0 if available).
func (l *Limiter) WaitTime() time.Duration {
	tokens := l.lim.Tokens()
	if tokens >= 1 {
		return 0
	}
	if math.IsInf(l.perSecond, 1) {
		return 0
	}
	missing := 1 - tokens
	ms := math.Ceil(missing / l.perSecond * 1000)
	return time.Duration(ms) * time.Millisecond
}

// WaitIfNeeded suspends the caller until at least one token is available or
// the context is canceled. The token is NOT consumed.
func (l *Limiter) WaitIfNeeded(ctx context.Context) error {
	for {
		if l.CanMakeRequest() {
			return nil
		}
		d := l.WaitTime()
		if d <= 0 {
			d = time.Millisecond
		}
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}
