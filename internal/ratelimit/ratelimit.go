// Package ratelimit throttles writes per source address and bucket.
package ratelimit

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Buckets.
const (
	BucketVote       = "vote"
	BucketCreatePoll = "create_poll"
)

// Policy allows MaxAttempts per Window for each (address, bucket).
type Policy struct {
	MaxAttempts int
	Window      time.Duration
}

// DefaultPolicy is 50 attempts per 5 minutes.
var DefaultPolicy = Policy{MaxAttempts: 50, Window: 5 * time.Minute}

// Guard decides whether an attempt from addr in bucket may proceed.
type Guard interface {
	Allow(ctx context.Context, addr, bucket string) (bool, error)
}

// Allow consults g and treats any guard error as an allowed attempt, so an
// unavailable limiter does not block writes.
func Allow(ctx context.Context, g Guard, logger *zap.Logger, addr, bucket string) bool {
	if g == nil {
		return true
	}
	ok, err := g.Allow(ctx, addr, bucket)
	if err != nil {
		if logger != nil {
			logger.Warn("rate limiter unavailable, allowing request",
				zap.String("bucket", bucket),
				zap.String("addr", addr),
				zap.Error(err),
			)
		}
		return true
	}
	return ok
}

// Unlimited is a Guard that always allows.
type Unlimited struct{}

// Allow always returns true.
func (Unlimited) Allow(context.Context, string, string) (bool, error) { return true, nil }
