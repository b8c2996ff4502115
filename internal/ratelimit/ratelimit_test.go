package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestBurstThenExhaustion(t *testing.T) {
	l := New(Config{RequestsPerMinute: 60, BurstLimit: 3})

	for i := 0; i < 3; i++ {
		if !l.CanMakeRequest() {
			t.Fatalf("request %d: expected token available", i+1)
		}
		l.RecordRequest()
	}
	if l.CanMakeRequest() {
		t.Fatalf("expected bucket exhausted after burst")
	}
	if l.WaitTime() <= 0 {
		t.Fatalf("expected positive wait time on empty bucket")
	}
}

func TestRefill(t *testing.T) {
	// 600 rpm = 10 tokens/sec, so a drained bucket refills within ~100ms.
	l := New(Config{RequestsPerMinute: 600, BurstLimit: 1})
	l.RecordRequest()
	if l.CanMakeRequest() {
		t.Fatalf("expected empty bucket")
	}

	deadline := time.Now().Add(2 * time.Second)
	for !l.CanMakeRequest() {
		if time.Now().After(deadline) {
			t.Fatalf("bucket never refilled")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWaitIfNeededDoesNotConsume(t *testing.T) {
	l := New(Config{RequestsPerMinute: 600, BurstLimit: 1})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := l.WaitIfNeeded(ctx); err != nil {
		t.Fatalf("WaitIfNeeded: %v", err)
	}
	// The token waited for must still be there.
	if !l.CanMakeRequest() {
		t.Fatalf("WaitIfNeeded consumed a token")
	}

	l.RecordRequest()
	if err := l.WaitIfNeeded(ctx); err != nil {
		t.Fatalf("WaitIfNeeded after drain: %v", err)
	}
	if !l.CanMakeRequest() {
		t.Fatalf("expected a token after waiting for refill")
	}
}

func TestWaitIfNeededHonorsContext(t *testing.T) {
	// 1 rpm: refill takes a minute, so cancellation must win.
	l := New(Config{RequestsPerMinute: 1, BurstLimit: 1})
	l.RecordRequest()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := l.WaitIfNeeded(ctx); err == nil {
		t.Fatalf("expected context error")
	}
}

func TestUnlimitedWhenUnconfigured(t *testing.T) {
	l := New(Config{})
	for i := 0; i < 100; i++ {
		if !l.CanMakeRequest() {
			t.Fatalf("unlimited limiter refused request %d", i)
		}
		l.RecordRequest()
	}
	if l.WaitTime() != 0 {
		t.Fatalf("unlimited limiter reported wait time")
	}
}

func TestHourlyFallback(t *testing.T) {
	l := New(Config{RequestsPerHour: 120, BurstLimit: 2})
	if !l.CanMakeRequest() {
		t.Fatalf("expected tokens from hourly-derived rate")
	}
}
