package engine

import (
	"context"
	"time"
)

// RetryPolicy caps retries for network-flavored driver operations such as
// template downloads. Everything else surfaces its first failure.
type RetryPolicy struct {
	// Attempts is the total number of tries, including the first.
	Attempts int

	// BaseDelay is the first retry delay; each retry doubles it.
	BaseDelay time.Duration

	// MaxDelay caps the per-retry delay.
	MaxDelay time.Duration
}

// DefaultRetryPolicy matches the documented defaults: three attempts with
// exponential backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:  3,
		BaseDelay: 2 * time.Second,
		MaxDelay:  30 * time.Second,
	}
}

// retry runs fn up to p.Attempts times with exponential backoff, stopping
// early on success or context cancellation.
func (p RetryPolicy) retry(ctx context.Context, fn func() error) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	delay := p.BaseDelay
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
	return err
}
