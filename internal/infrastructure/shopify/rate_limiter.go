package shopify

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// RateLimiter holds back calls to a shop while it is cooling down after a throttle
type RateLimiter struct {
	mu        sync.Mutex
	coolUntil map[string]time.Time
	now       func() time.Time
	logger    zerolog.Logger
}

// NewRateLimiter creates an empty rate limiter
func NewRateLimiter(logger zerolog.Logger) *RateLimiter {
	return &RateLimiter{
		coolUntil: make(map[string]time.Time),
		now:       time.Now,
		logger:    logger,
	}
}

// Wait blocks until the shop's cooldown has passed or ctx is done
func (r *RateLimiter) Wait(ctx context.Context, shop string) error {
	wait := r.remaining(shop)
	if wait <= 0 {
		return nil
	}
	r.logger.Debug().Str("shop", shop).Dur("wait", wait).Msg("Waiting for Shopify rate limit cooldown")

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Backoff starts or extends the shop's cooldown
func (r *RateLimiter) Backoff(shop string, retryAfter time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	until := r.now().Add(retryAfter)
	if until.After(r.coolUntil[shop]) {
		r.coolUntil[shop] = until
	}
}

func (r *RateLimiter) remaining(shop string) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	until, ok := r.coolUntil[shop]
	if !ok {
		return 0
	}
	left := until.Sub(r.now())
	if left <= 0 {
		delete(r.coolUntil, shop)
	}
	return left
}
