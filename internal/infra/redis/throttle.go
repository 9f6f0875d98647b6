package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Throttle is a fixed-window limiter shared by every process that talks to
// the same upstream account. Calls beyond the limit wait for the next window.
type Throttle struct {
	client redis.UniversalClient
	prefix string
	limit  int
	window time.Duration
	logger *zap.Logger
	now    func() time.Time
}

// NewThrottle allows limit calls per window.
func NewThrottle(client redis.UniversalClient, prefix string, limit int, window time.Duration, logger *zap.Logger) *Throttle {
	if window <= 0 {
		window = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Throttle{
		client: client,
		prefix: prefix,
		limit:  limit,
		window: window,
		logger: logger,
		now:    time.Now,
	}
}

// Wait blocks until a call slot is free in the current window.
func (t *Throttle) Wait(ctx context.Context) error {
	if t == nil || t.limit <= 0 {
		return nil
	}

	for {
		now := t.now()
		start := now.Truncate(t.window)
		key := fmt.Sprintf("%s:%d", t.prefix, start.Unix())

		count, err := t.client.Incr(ctx, key).Result()
		if err != nil {
			// Fail open: an unavailable Redis must not stall every worker.
			t.logger.Warn("throttle redis error", zap.Error(err))
			return nil
		}
		if count == 1 {
			t.client.Expire(ctx, key, 2*t.window)
		}
		if count <= int64(t.limit) {
			return nil
		}

		wait := start.Add(t.window).Sub(now)
		t.logger.Debug("throttled outgoing call",
			zap.Int64("count", count),
			zap.Int("limit", t.limit),
			zap.Duration("wait", wait),
		)

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}
