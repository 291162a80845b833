package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestTokenBucketAllowsBurstThenThrottles(t *testing.T) {
	limiter, err := NewTokenBucketLimiter(Config{RequestsPerWindow: 2, Window: time.Minute, BurstSize: 2})
	if err != nil {
		t.Fatalf("NewTokenBucketLimiter() = %v", err)
	}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, _, err := limiter.Allow(ctx, "poa-1")
		if err != nil || !ok {
			t.Fatalf("request %d: Allow() = (%v, %v), want (true, nil)", i, ok, err)
		}
	}

	ok, retryAfter, err := limiter.Allow(ctx, "poa-1")
	if err != nil {
		t.Fatalf("Allow() = %v", err)
	}
	if ok {
		t.Fatal("third request within the burst window should be denied")
	}
	if retryAfter <= 0 {
		t.Fatal("expected a positive retryAfter when denied")
	}
}

func TestTokenBucketKeysAreIndependent(t *testing.T) {
	limiter, err := NewTokenBucketLimiter(Config{RequestsPerWindow: 1, Window: time.Minute, BurstSize: 1})
	if err != nil {
		t.Fatalf("NewTokenBucketLimiter() = %v", err)
	}
	ctx := context.Background()

	if ok, _, _ := limiter.Allow(ctx, "poa-1"); !ok {
		t.Fatal("poa-1 first request should be allowed")
	}
	if ok, _, _ := limiter.Allow(ctx, "poa-2"); !ok {
		t.Fatal("poa-2 should have its own independent bucket")
	}
	if ok, _, _ := limiter.Allow(ctx, "poa-1"); ok {
		t.Fatal("poa-1 second request should be denied")
	}
}

func TestTokenBucketRejectsInvalidConfig(t *testing.T) {
	if _, err := NewTokenBucketLimiter(Config{RequestsPerWindow: 0, Window: time.Minute}); err == nil {
		t.Fatal("expected an error for RequestsPerWindow <= 0")
	}
}
