// Package drivers is the driver-facing side: availability, location, the
// current ride and earnings.
package drivers

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/ridehail/internal/apperr"
	"github.com/example/ridehail/internal/geo"
	"github.com/example/ridehail/internal/models"
	"github.com/example/ridehail/internal/storage"
)

type Availability interface {
	SetOnline(ctx context.Context, d geo.Driver, pos models.Coord) error
	SetOffline(ctx context.Context, driverID string) error
	UpdatePosition(ctx context.Context, driverID string, pos models.Coord) error
}

type ActiveRides interface {
	ActiveRideForDriver(ctx context.Context, driverID string) (*models.Ride, error)
}

type Earner interface {
	Earned(ctx context.Context, accountID string, typ models.EntryType, since time.Time) (int64, int, error)
}

// Earnings sums ride_earning entries over rolling windows.
type Earnings struct {
	Today     int64   `json:"today"`
	Week      int64   `json:"week"`
	Month     int64   `json:"month"`
	Total     int64   `json:"total"`
	RideCount int     `json:"ride_count"`
	Rating    float64 `json:"rating"`
}

type Service struct {
	accounts storage.AccountStore
	geo      Availability
	rides    ActiveRides
	ledger   Earner
	now      func() time.Time
	logger   *slog.Logger
}

func NewService(accounts storage.AccountStore, geo Availability, rides ActiveRides, ledger Earner, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		accounts: accounts,
		geo:      geo,
		rides:    rides,
		ledger:   ledger,
		now:      time.Now,
		logger:   logger.With("component", "drivers"),
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) driver(ctx context.Context, id string) (*models.Account, error) {
	a, err := s.accounts.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	if !a.Roles.Driver {
		return nil, apperr.Unauthorized("account %s is not a driver", id)
	}
	return a, nil
}

// GoOnline marks the driver available at pos. A driver already on a ride keeps
// that status; only the index record is refreshed.
func (s *Service) GoOnline(ctx context.Context, driverID string, pos models.Coord) error {
	if !geo.ValidCoord(pos) {
		return apperr.InvalidCoordinate(pos.Lat, pos.Lng)
	}
	a, err := s.driver(ctx, driverID)
	if err != nil {
		return err
	}
	if a.DriverStatus != models.DriverOnRide {
		_, err = s.accounts.UpdateAccount(ctx, driverID, func(acc *models.Account) error {
			if acc.DriverStatus != models.DriverOnRide {
				acc.DriverStatus = models.DriverOnline
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	if err := s.geo.SetOnline(ctx, geo.Driver{ID: a.ID, Placeholder: a.Placeholder, RegisteredAt: a.CreatedAt}, pos); err != nil {
		return err
	}
	s.logger.Info("driver online", "driver_id", driverID, "lat", pos.Lat, "lng", pos.Lng)
	return nil
}

func (s *Service) GoOffline(ctx context.Context, driverID string) error {
	if _, err := s.driver(ctx, driverID); err != nil {
		return err
	}
	_, err := s.accounts.UpdateAccount(ctx, driverID, func(acc *models.Account) error {
		if acc.DriverStatus == models.DriverOnRide {
			return apperr.InvalidTransition("driver %s is on a ride", driverID)
		}
		acc.DriverStatus = models.DriverOffline
		return nil
	})
	if err != nil {
		return err
	}
	if err := s.geo.SetOffline(ctx, driverID); err != nil {
		return err
	}
	s.logger.Info("driver offline", "driver_id", driverID)
	return nil
}

// CheckLocation accepts a position report without applying it. It is used
// when reports are forwarded to the ingest topic instead.
func (s *Service) CheckLocation(ctx context.Context, driverID string, pos models.Coord) error {
	if !geo.ValidCoord(pos) {
		return apperr.InvalidCoordinate(pos.Lat, pos.Lng)
	}
	_, err := s.driver(ctx, driverID)
	return err
}

func (s *Service) UpdateLocation(ctx context.Context, driverID string, pos models.Coord) error {
	if err := s.CheckLocation(ctx, driverID, pos); err != nil {
		return err
	}
	return s.geo.UpdatePosition(ctx, driverID, pos)
}

// ActiveRide returns the driver's assigned or en-route ride, or nil.
func (s *Service) ActiveRide(ctx context.Context, driverID string) (*models.Ride, error) {
	if _, err := s.driver(ctx, driverID); err != nil {
		return nil, err
	}
	return s.rides.ActiveRideForDriver(ctx, driverID)
}

func (s *Service) Earnings(ctx context.Context, driverID string) (Earnings, error) {
	a, err := s.driver(ctx, driverID)
	if err != nil {
		return Earnings{}, err
	}
	now := s.now()
	y, m, d := now.Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, now.Location())

	out := Earnings{Rating: a.DriverRating()}
	windows := []struct {
		since time.Time
		dst   *int64
	}{
		{midnight, &out.Today},
		{now.AddDate(0, 0, -7), &out.Week},
		{now.AddDate(0, 0, -30), &out.Month},
		{time.Time{}, &out.Total},
	}
	for _, w := range windows {
		sum, n, err := s.ledger.Earned(ctx, driverID, models.EntryRideEarning, w.since)
		if err != nil {
			return Earnings{}, err
		}
		*w.dst = sum
		if w.since.IsZero() {
			out.RideCount = n
		}
	}
	return out, nil
}
