package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// TokenBucketLimiter implements RateLimiter with a per-key
// golang.org/x/time/rate.Limiter. Unlike a sliding
// window log, the token bucket admits a configured burst and then
// refills continuously, which suits break-glass's "allow the first
// genuine emergency through instantly, throttle anything after" shape
// better than a hard per-window count.
type TokenBucketLimiter struct {
	ratePerSec rate.Limit
	burst      int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewTokenBucketLimiter builds a TokenBucketLimiter from cfg, converting
// RequestsPerWindow/Window into a steady-state rate and using
// EffectiveBurstSize as the bucket capacity.
func NewTokenBucketLimiter(cfg Config) (*TokenBucketLimiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	perSec := rate.Limit(float64(cfg.RequestsPerWindow) / cfg.Window.Seconds())
	return &TokenBucketLimiter{
		ratePerSec: perSec,
		burst:      cfg.EffectiveBurstSize(),
		limiters:   make(map[string]*rate.Limiter),
	}, nil
}

func (t *TokenBucketLimiter) limiterFor(key string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.limiters[key]
	if !ok {
		l = rate.NewLimiter(t.ratePerSec, t.burst)
		t.limiters[key] = l
	}
	return l
}

// Allow reports whether a request for key is permitted right now. When
// denied, retryAfter estimates the wait until the bucket refills enough
// for one token.
func (t *TokenBucketLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	l := t.limiterFor(key)
	if l.Allow() {
		return true, 0, nil
	}
	reservation := l.Reserve()
	delay := reservation.Delay()
	reservation.Cancel()
	return false, delay, nil
}
