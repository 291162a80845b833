package breakglass

import (
	"context"

	trusterrors "github.com/aegistrust/proxy/errors"
	"github.com/aegistrust/proxy/ratelimit"
)

// RateLimitGuard bounds how often Create may be invoked per POA, adapted
// from the teacher's checker.go "first blocking guard wins" composition
// style, here backed by ratelimit.TokenBucketLimiter instead of the
// teacher's DynamoDB sliding-window log — a single noisy agent shouldn't
// be able to spam an advocate with break-glass notifications.
type RateLimitGuard struct {
	limiter ratelimit.RateLimiter
}

// NewRateLimitGuard wraps limiter for use ahead of Machine.Create.
func NewRateLimitGuard(limiter ratelimit.RateLimiter) *RateLimitGuard {
	return &RateLimitGuard{limiter: limiter}
}

// Check returns an error if poaID has exceeded its break-glass invocation
// budget. Callers should invoke this immediately before Machine.Create.
func (g *RateLimitGuard) Check(ctx context.Context, poaID string) error {
	ok, retryAfter, err := g.limiter.Allow(ctx, poaID)
	if err != nil {
		return trusterrors.StorageFailure("break-glass rate limit check", err)
	}
	if !ok {
		return trusterrors.WithContext(
			trusterrors.PolicyViolation("break-glass invocation rate exceeded", "retry after the cooldown elapses"),
			"retry_after", retryAfter.String(),
		)
	}
	return nil
}
