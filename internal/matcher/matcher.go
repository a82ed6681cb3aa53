package matcher

import (
	"context"
	"errors"
	"time"

	"github.com/example/ridehail/internal/eta"
	"github.com/example/ridehail/internal/geo"
	"github.com/example/ridehail/internal/models"
	"github.com/example/ridehail/internal/observability"
)

type Geo interface {
	FindNearest(ctx context.Context, p models.Coord, radiusMeters float64, exclude geo.Exclude) ([]geo.Candidate, error)
}

type Accounts interface {
	GetAccount(ctx context.Context, id string) (*models.Account, error)
	UpdateAccount(ctx context.Context, id string, fn func(*models.Account) error) (*models.Account, error)
}

// Offer is a driver selected for a pickup.
type Offer struct {
	DriverID       string  `json:"driver_id"`
	DistanceMeters float64 `json:"distance_meters"`
	ETASeconds     float64 `json:"eta_seconds"`
}

type Service struct {
	Geo             Geo
	Accounts        Accounts
	RadiusMeters    float64
	DefaultSpeedMps float64
}

var errNotAvailable = errors.New("driver not available")

// Candidates lists drivers that are online in the index and whose account
// status is online, nearest first. Drivers in skip are left out.
func (s *Service) Candidates(ctx context.Context, pickup models.Coord, skip ...string) ([]Offer, error) {
	skipped := make(map[string]struct{}, len(skip))
	for _, id := range skip {
		skipped[id] = struct{}{}
	}
	exclude := func(id string) bool {
		if _, ok := skipped[id]; ok {
			return true
		}
		a, err := s.Accounts.GetAccount(ctx, id)
		if err != nil {
			return true
		}
		return !a.Roles.Driver || a.DriverStatus != models.DriverOnline
	}
	cands, err := s.Geo.FindNearest(ctx, pickup, s.RadiusMeters, exclude)
	if err != nil {
		return nil, err
	}
	out := make([]Offer, 0, len(cands))
	for _, c := range cands {
		out = append(out, Offer{
			DriverID:       c.DriverID,
			DistanceMeters: c.DistanceMeters,
			ETASeconds:     eta.EstimateSeconds(c.Position, pickup, s.DefaultSpeedMps),
		})
	}
	return out, nil
}

// Claim moves the nearest eligible driver from online to on_ride. The status
// flip is a conditional update, so two concurrent claims never get the same
// driver. ok is false when nobody could be claimed.
func (s *Service) Claim(ctx context.Context, pickup models.Coord, skip ...string) (Offer, bool, error) {
	start := time.Now()
	defer func() { observability.MatchLatency.Observe(time.Since(start).Seconds()) }()

	offers, err := s.Candidates(ctx, pickup, skip...)
	if err != nil {
		return Offer{}, false, err
	}
	for _, o := range offers {
		err := s.acquire(ctx, o.DriverID)
		if errors.Is(err, errNotAvailable) {
			continue
		}
		if err != nil {
			return Offer{}, false, err
		}
		observability.MatchesTotal.Inc()
		return o, true, nil
	}
	return Offer{}, false, nil
}

func (s *Service) acquire(ctx context.Context, driverID string) error {
	_, err := s.Accounts.UpdateAccount(ctx, driverID, func(a *models.Account) error {
		if a.DriverStatus != models.DriverOnline {
			return errNotAvailable
		}
		a.DriverStatus = models.DriverOnRide
		return nil
	})
	return err
}

// Release puts an on_ride driver back online. Other statuses are left alone.
func (s *Service) Release(ctx context.Context, driverID string) error {
	if driverID == "" {
		return nil
	}
	_, err := s.Accounts.UpdateAccount(ctx, driverID, func(a *models.Account) error {
		if a.DriverStatus == models.DriverOnRide {
			a.DriverStatus = models.DriverOnline
		}
		return nil
	})
	return err
}
