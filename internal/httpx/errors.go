// Package httpx is the shared outbound-HTTP path for platform adapters:
// a typed error taxonomy, exponential-backoff retry bound to the adapter's
// rate limiter, and an optional circuit breaker.
package httpx

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// Kind classifies a platform error for retry decisions.
type Kind int

const (
	// KindConfig: missing/invalid credentials or settings. Never retried.
	KindConfig Kind = iota
	// KindAuth: credential rejected or expired. Not retried within the attempt.
	KindAuth
	// KindTransient: 5xx/429/408 or transport failure. Retried up to max_retries.
	KindTransient
	// KindPermanent: other 4xx or platform-terminal conditions. Never retried.
	KindPermanent
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindAuth:
		return "auth"
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Error is the normalized platform error.
type Error struct {
	Kind    Kind
	Status  int // HTTP status, 0 for transport-level failures
	Message string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if e.Status > 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the retry policy may re-attempt this error.
func (e *Error) Retryable() bool { return e.Kind == KindTransient }

func Config(msg string) *Error    { return &Error{Kind: KindConfig, Message: msg} }
func Auth(msg string) *Error      { return &Error{Kind: KindAuth, Message: msg} }
func Transient(msg string) *Error { return &Error{Kind: KindTransient, Message: msg} }
func Permanent(msg string) *Error { return &Error{Kind: KindPermanent, Message: msg} }

// FromStatus classifies an HTTP response status.
// 5xx, 429 and 408 are transient; 401/403 are auth; other 4xx permanent.
func FromStatus(status int, msg string) *Error {
	switch {
	case status >= 500, status == http.StatusTooManyRequests, status == http.StatusRequestTimeout:
		return &Error{Kind: KindTransient, Status: status, Message: msg}
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return &Error{Kind: KindAuth, Status: status, Message: msg}
	default:
		return &Error{Kind: KindPermanent, Status: status, Message: msg}
	}
}

// FromTransport classifies a transport-level failure. Connection resets,
// timeouts and DNS resolution failures are transient.
func FromTransport(err error) *Error {
	msg := "request failed"
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		msg = "request timed out"
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		msg = "dns resolution failed"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		msg = "request timed out"
	}
	return &Error{Kind: KindTransient, Message: msg, Err: err}
}

// IsRetryable is the default classification used by the retry policy.
// Context cancellation is never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Retryable()
	}
	// Unclassified errors are assumed transport-level.
	return true
}

// KindOf extracts the Kind from an error chain (KindPermanent for
// unclassified errors).
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindPermanent
}
