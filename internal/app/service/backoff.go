package service

import (
	"context"
	"time"
)

const (
	defaultRetryDelay      = 100 * time.Millisecond
	defaultQuotaBackoff    = 10 * time.Second
	defaultQuotaBackoffMax = 30 * time.Minute
)

// RetryPolicy holds the delays applied between retries of a failed fetch.
type RetryPolicy struct {
	// RetryDelay follows a rate-limited response.
	RetryDelay time.Duration
	// QuotaBackoff is the first delay after a quota-exceeded response. It
	// doubles with every further quota error for the same link.
	QuotaBackoff    time.Duration
	QuotaBackoffMax time.Duration
}

// DefaultRetryPolicy returns the delays used when nothing is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		RetryDelay:      defaultRetryDelay,
		QuotaBackoff:    defaultQuotaBackoff,
		QuotaBackoffMax: defaultQuotaBackoffMax,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.RetryDelay <= 0 {
		p.RetryDelay = def.RetryDelay
	}
	if p.QuotaBackoff <= 0 {
		p.QuotaBackoff = def.QuotaBackoff
	}
	if p.QuotaBackoffMax <= 0 {
		p.QuotaBackoffMax = def.QuotaBackoffMax
	}
	if p.QuotaBackoffMax < p.QuotaBackoff {
		p.QuotaBackoffMax = p.QuotaBackoff
	}
	return p
}

// QuotaDelay returns the sleep before retry number n (starting at 1) after
// consecutive quota errors: QuotaBackoff * 2^(n-1), capped at QuotaBackoffMax.
func (p RetryPolicy) QuotaDelay(n int) time.Duration {
	p = p.withDefaults()
	delay := p.QuotaBackoff
	for i := 1; i < n; i++ {
		delay *= 2
		if delay >= p.QuotaBackoffMax {
			return p.QuotaBackoffMax
		}
	}
	if delay > p.QuotaBackoffMax {
		return p.QuotaBackoffMax
	}
	return delay
}

// Sleeper pauses a worker. It returns early with ctx.Err() on cancellation.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
