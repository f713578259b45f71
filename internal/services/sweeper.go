package services

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RefreshTokenSweeper periodically deletes refresh-token entries older
// than the refresh lifetime. Reads already ignore such entries; the
// sweep only keeps the stored sets from growing.
type RefreshTokenSweeper struct {
	repo     UserRepository
	ttl      time.Duration
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

func NewRefreshTokenSweeper(repo UserRepository, ttl, interval time.Duration, logger *zap.Logger) *RefreshTokenSweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RefreshTokenSweeper{repo: repo, ttl: ttl, interval: interval, logger: logger, now: time.Now}
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (s *RefreshTokenSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.Sweep(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Sweep prunes expired entries once and returns how many were removed.
func (s *RefreshTokenSweeper) Sweep(ctx context.Context) int64 {
	removed, err := s.repo.PruneRefreshTokens(ctx, s.now().Add(-s.ttl))
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("prune refresh tokens", zap.Error(err))
		}
		return 0
	}
	if removed > 0 {
		s.logger.Info("pruned refresh tokens", zap.Int64("removed", removed))
	}
	return removed
}
