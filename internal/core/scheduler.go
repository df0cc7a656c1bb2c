package core

// scheduler.go runs the optional background refresh.
//
// A spreadsheet copied straight into the storage directory is normally picked
// up by the next lookup, which then waits for the rebuild. With a refresh
// interval the service checks the signature on a timer and rebuilds ahead of
// the lookups. Failures are logged and left to the failure memo; they never
// stop the scheduler.

import (
	"context"
	"log/slog"
	"time"
)

// StartRefreshScheduler checks the default sheet immediately and then every
// interval until ctx is cancelled. It blocks; run it in its own goroutine.
// A non-positive interval returns at once.
func (s *Service) StartRefreshScheduler(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	s.logger.Info("refresh scheduler started", "interval", interval, "sheet", s.opts.Sheet)

	s.runRefresh(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("refresh scheduler stopped")
			return
		case <-ticker.C:
			s.runRefresh(ctx)
		}
	}
}

// runRefresh performs one freshness check.
func (s *Service) runRefresh(ctx context.Context) {
	start := time.Now()
	err := s.EnsureFresh(ctx, s.opts.Sheet)
	switch {
	case err == nil:
		s.logger.Debug("refresh check done", "duration_ms", time.Since(start).Milliseconds())
	case ctx.Err() != nil:
	default:
		s.logger.Warn("refresh check failed",
			slog.String("sheet", s.opts.Sheet),
			slog.String("kind", Classify(err)),
			slog.Any("error", err),
		)
	}
}
