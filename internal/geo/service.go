package geo

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/example/ridehail/internal/apperr"
	"github.com/example/ridehail/internal/dispatch"
	"github.com/example/ridehail/internal/models"
	"github.com/example/ridehail/internal/observability"
)

// ActiveRideFinder resolves the ride a driver is currently bound to, or nil.
type ActiveRideFinder interface {
	ActiveRideForDriver(ctx context.Context, driverID string) (*models.Ride, error)
}

// Driver identifies a driver going online along with its tie-break attributes.
type Driver struct {
	ID           string
	Placeholder  bool
	RegisteredAt time.Time
}

// Exclude reports whether a driver must be skipped by FindNearest.
type Exclude func(driverID string) bool

// Service owns driver availability. Records older than TTL are skipped by
// FindNearest but keep their online flag. The DriversOnline gauge counts
// records whose flag is set, stale or not.
type Service struct {
	Index  Index
	Rides  ActiveRideFinder // optional
	Sink   dispatch.Sink    // optional
	TTL    time.Duration
	Now    func() time.Time
	Logger *slog.Logger
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *Service) live(rec models.DriverAvailability, now time.Time) bool {
	return rec.Online && !stale(rec, now, s.TTL)
}

// SetOnline upserts the driver's record as online at pos.
func (s *Service) SetOnline(ctx context.Context, d Driver, pos models.Coord) error {
	if !ValidCoord(pos) {
		return apperr.InvalidCoordinate(pos.Lat, pos.Lng)
	}
	now := s.now()
	prev, ok, err := s.Index.Get(ctx, d.ID)
	if err != nil {
		return err
	}
	rec := models.DriverAvailability{
		DriverID:     d.ID,
		Position:     pos,
		Online:       true,
		UpdatedAt:    now,
		Placeholder:  d.Placeholder,
		RegisteredAt: d.RegisteredAt,
	}
	if err := s.Index.Upsert(ctx, rec); err != nil {
		return err
	}
	if !ok || !prev.Online {
		observability.DriversOnline.Inc()
	}
	return nil
}

// SetOffline keeps the last position as a tombstone excluded from matching.
func (s *Service) SetOffline(ctx context.Context, driverID string) error {
	now := s.now()
	rec, ok, err := s.Index.Get(ctx, driverID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	wasOnline := rec.Online
	rec.Online = false
	rec.UpdatedAt = now
	if err := s.Index.Upsert(ctx, rec); err != nil {
		return err
	}
	if wasOnline {
		observability.DriversOnline.Dec()
	}
	return nil
}

// UpdatePosition refreshes position and timestamp and keeps the online flag, so
// a driver whose record went stale is matchable again after the next update.
// Customers on the driver's active ride get a driver_location event.
func (s *Service) UpdatePosition(ctx context.Context, driverID string, pos models.Coord) error {
	if !ValidCoord(pos) {
		return apperr.InvalidCoordinate(pos.Lat, pos.Lng)
	}
	now := s.now()
	rec, ok, err := s.Index.Get(ctx, driverID)
	if err != nil {
		return err
	}
	if !ok {
		rec = models.DriverAvailability{DriverID: driverID}
	}
	rec.Position = pos
	rec.UpdatedAt = now
	if err := s.Index.Upsert(ctx, rec); err != nil {
		return err
	}
	s.broadcastPosition(ctx, driverID, pos, now)
	return nil
}

func (s *Service) broadcastPosition(ctx context.Context, driverID string, pos models.Coord, now time.Time) {
	if s.Rides == nil || s.Sink == nil {
		return
	}
	ride, err := s.Rides.ActiveRideForDriver(ctx, driverID)
	if err != nil {
		s.logger().Warn("active ride lookup failed", "driver_id", driverID, "error", err)
		return
	}
	if ride == nil {
		return
	}
	ev := models.Event{
		Name:       models.EventDriverLocation,
		RideID:     ride.ID,
		Recipients: []string{ride.CustomerID},
		Payload:    map[string]any{"driver_id": driverID, "lat": pos.Lat, "lng": pos.Lng},
		At:         now,
	}
	if err := s.Sink.Publish(ctx, ev); err != nil {
		s.logger().Warn("driver_location publish failed", "ride_id", ride.ID, "error", err)
	}
}

// FindNearest returns live drivers within radiusMeters of p, nearest first.
// Ties on whole-meter distance prefer real drivers, then newer registrations.
func (s *Service) FindNearest(ctx context.Context, p models.Coord, radiusMeters float64, exclude Exclude) ([]Candidate, error) {
	if !ValidCoord(p) {
		return nil, apperr.InvalidCoordinate(p.Lat, p.Lng)
	}
	if radiusMeters <= 0 {
		return nil, apperr.Validation("radius must be positive")
	}
	cands, err := s.Index.Within(ctx, p, radiusMeters)
	if err != nil {
		return nil, fmt.Errorf("find nearest: %w", err)
	}
	now := s.now()
	out := make([]Candidate, 0, len(cands))
	for _, c := range cands {
		if !s.live(c.DriverAvailability, now) {
			continue
		}
		if exclude != nil && exclude(c.DriverID) {
			continue
		}
		out = append(out, c)
	}
	sortCandidates(out)
	return out, nil
}

// Lookup returns the raw record, including tombstones and stale entries.
func (s *Service) Lookup(ctx context.Context, driverID string) (models.DriverAvailability, bool, error) {
	return s.Index.Get(ctx, driverID)
}

func sortCandidates(c []Candidate) {
	sort.SliceStable(c, func(i, j int) bool {
		di, dj := math.Round(c[i].DistanceMeters), math.Round(c[j].DistanceMeters)
		if di != dj {
			return di < dj
		}
		if c[i].Placeholder != c[j].Placeholder {
			return !c[i].Placeholder
		}
		if !c[i].RegisteredAt.Equal(c[j].RegisteredAt) {
			return c[i].RegisteredAt.After(c[j].RegisteredAt)
		}
		return c[i].DriverID < c[j].DriverID
	})
}
