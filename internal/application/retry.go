package application

import (
	"context"
	"errors"
	"time"

	"shopify-catalog-mirror/internal/domain"
)

// RetryPolicy bounds the attempts spent on one remote call
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryPolicy returns the policy used when none is configured
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
	}
}

// Backoff returns the wait before attempt+1 after a transient failure of attempt
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	d := p.InitialBackoff
	for i := 1; i < attempt && d < p.MaxBackoff; i++ {
		d *= 2
	}
	return min(d, p.MaxBackoff)
}

// delay returns how long to wait before retrying after err, false when err is not retryable
func (p RetryPolicy) delay(attempt int, err error) (time.Duration, bool) {
	var rl *domain.RateLimitedError
	switch {
	case errors.As(err, &rl):
		return min(rl.RetryAfter, p.MaxBackoff), true
	case errors.Is(err, domain.ErrRateLimited):
		return p.Backoff(attempt), true
	case errors.Is(err, domain.ErrTransient):
		return p.Backoff(attempt), true
	default:
		return 0, false
	}
}

// sleepContext waits for d or until ctx is done
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
