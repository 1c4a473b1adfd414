package app

import (
	"context"
	"time"

	"go.uber.org/zap"

	"quiz-attempt-service/internal/domain"
)

// SweepExpired completes every in-progress attempt whose deadline has passed
// and returns how many it completed. It goes through the same idempotent
// completion path as a learner's submit.
func (s *AttemptService) SweepExpired(ctx context.Context) (int, error) {
	candidates, err := s.attempts.ListTimedInProgress(ctx)
	if err != nil {
		return 0, err
	}
	now := s.now()
	completed := 0
	for _, attempt := range candidates {
		if !expired(RemainingSeconds(attempt.TimeLimitSnapshotMinutes, attempt.StartedAt, now)) {
			continue
		}
		if _, err := s.Complete(ctx, domain.SystemActor, attempt.ID, domain.TriggerTimeout); err != nil {
			s.logger.Warn("sweep failed to complete attempt",
				zap.String("attempt_id", attempt.ID), zap.Error(err))
			continue
		}
		completed++
	}
	if completed > 0 {
		s.logger.Info("expired attempts swept", zap.Int("completed", completed))
	}
	return completed, nil
}

// RunSweeper calls SweepExpired every interval until ctx is cancelled.
func (s *AttemptService) RunSweeper(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.SweepExpired(ctx); err != nil {
				s.logger.Error("sweep expired attempts", zap.Error(err))
			}
		}
	}
}
