package rides

import (
	"context"
	"time"

	"github.com/example/ridehail/internal/apperr"
	"github.com/example/ridehail/internal/models"
)

const sweepBatch = 100

// RunMatcher periodically retries matching for requested rides, expires the
// ones nobody took and posts credits left pending by a failed settlement. It
// returns when ctx is cancelled.
func (s *Service) RunMatcher(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	s.logger.Info("matcher loop started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("matcher loop stopped")
			return
		case <-ticker.C:
			matched, expired, err := s.Sweep(ctx)
			if err != nil {
				s.logger.Error("matcher sweep failed", "error", err)
			} else if matched > 0 || expired > 0 {
				s.logger.Info("matcher sweep", "matched", matched, "expired", expired)
			}
			settled, err := s.RetrySettlements(ctx)
			if err != nil {
				s.logger.Error("settlement retry failed", "error", err)
			} else if settled > 0 {
				s.logger.Info("pending credits posted", "rides", settled)
			}
		}
	}
}

// Sweep makes one pass over requested rides. A ride is expired once it has
// waited longer than UnmatchedTimeout past its request (or scheduled) time;
// the customer gets the full fare back.
func (s *Service) Sweep(ctx context.Context) (matched, expired int, err error) {
	pending, err := s.store.ListRidesByStatus(ctx, models.RideRequested, sweepBatch)
	if err != nil {
		return 0, 0, err
	}
	now := s.now()
	for _, r := range pending {
		if ctx.Err() != nil {
			return matched, expired, ctx.Err()
		}
		deadline := r.RequestedAt
		if r.ScheduledTime != nil && r.ScheduledTime.After(deadline) {
			deadline = *r.ScheduledTime
		}
		if s.cfg.UnmatchedTimeout > 0 && now.Sub(deadline) > s.cfg.UnmatchedTimeout {
			if _, _, err := s.cancel(ctx, r.ID, expireUnmatched, false, "no driver found"); err != nil {
				s.logger.Warn("expire ride failed", "ride_id", r.ID, "error", err)
				continue
			}
			expired++
			continue
		}
		if !s.dueForMatching(r, now) {
			continue
		}
		updated, err := s.findDriver(ctx, r)
		if err != nil {
			s.logger.Warn("matching failed", "ride_id", r.ID, "error", err)
			continue
		}
		if updated.Status == models.RideAssigned {
			matched++
		}
	}
	return matched, expired, nil
}

// RetrySettlements posts the pending refund or earning of finished rides.
func (s *Service) RetrySettlements(ctx context.Context) (int, error) {
	pending, err := s.store.ListRidesPendingCredit(ctx, sweepBatch)
	if err != nil {
		return 0, err
	}
	settled := 0
	for _, r := range pending {
		if ctx.Err() != nil {
			return settled, ctx.Err()
		}
		if _, err := s.settle(ctx, r); err != nil {
			s.logger.Warn("pending credit still failing", "ride_id", r.ID, "error", err)
			continue
		}
		settled++
	}
	return settled, nil
}

func expireUnmatched(r *models.Ride) (models.CancelledBy, error) {
	if r.Status != models.RideRequested {
		return "", apperr.InvalidTransition("ride %s was picked up before expiry", r.ID)
	}
	return models.CancelledBySystem, nil
}
