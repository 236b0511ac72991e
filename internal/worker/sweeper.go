package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// PollCloser deactivates polls whose expiry has passed.
type PollCloser interface {
	DeactivateExpired(ctx context.Context) (int64, error)
}

// Pruner drops stale rate limit rows.
type Pruner interface {
	Prune(ctx context.Context) (int64, error)
}

// Sweeper runs periodic maintenance: closing expired polls and pruning
// rate limit rows.
type Sweeper struct {
	polls    PollCloser
	pruner   Pruner
	interval time.Duration
	logger   *zap.Logger
}

// NewSweeper creates a sweeper. pruner may be nil when rate limits are not
// kept in the database.
func NewSweeper(polls PollCloser, pruner Pruner, interval time.Duration, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{polls: polls, pruner: pruner, interval: interval, logger: logger}
}

// SweepOnce performs one maintenance pass. Errors are logged, not returned,
// so one failing task does not block the other.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	if n, err := s.polls.DeactivateExpired(ctx); err != nil {
		s.logger.Error("deactivate expired polls failed", zap.Error(err))
	} else if n > 0 {
		s.logger.Info("expired polls deactivated", zap.Int64("count", n))
	}

	if s.pruner == nil {
		return
	}
	if n, err := s.pruner.Prune(ctx); err != nil {
		s.logger.Error("prune rate limits failed", zap.Error(err))
	} else if n > 0 {
		s.logger.Debug("rate limit rows pruned", zap.Int64("count", n))
	}
}

// Run sweeps immediately and then every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.SweepOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopping")
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}
