package registry

import (
	"context"
	"time"
)

// StartSweeper deletes expired leases every interval until the context ends.
// It runs in its own goroutine and never touches the request path; sweep
// errors are logged and the loop continues.
func (s *Service) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		s.logger.Info("Lease sweeper running every %s", interval)
		for {
			select {
			case <-ctx.Done():
				s.logger.Info("Lease sweeper stopped")
				return
			case <-ticker.C:
				s.sweep(ctx)
			}
		}
	}()
}

func (s *Service) sweep(ctx context.Context) {
	removed, err := s.repo.DeleteExpired(ctx)
	if err != nil {
		s.logger.Warn("Sweep failed: %v", err)
		return
	}
	s.metrics.RecordSweep(removed)
	if removed > 0 {
		s.logger.Info("Swept %d expired lease(s)", removed)
	}
}
