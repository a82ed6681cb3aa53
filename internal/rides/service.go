// Package rides runs the ride state machine:
//
//	requested -> assigned -> en_route -> completed
//
// with cancelled reachable from every non-terminal state. The fare is
// escrowed from the customer's wallet at request time; completion credits the
// driver with the fare minus the platform fee.
package rides

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/ridehail/internal/apperr"
	"github.com/example/ridehail/internal/dispatch"
	"github.com/example/ridehail/internal/fare"
	"github.com/example/ridehail/internal/ledger"
	"github.com/example/ridehail/internal/matcher"
	"github.com/example/ridehail/internal/models"
	"github.com/example/ridehail/internal/observability"
	"github.com/example/ridehail/internal/storage"
)

const (
	defaultHistory = 50
	maxHistory     = 200
)

type Policy string

const (
	// PolicyAuto assigns the nearest available driver at request time.
	PolicyAuto Policy = "auto"
	// PolicyOffer notifies the nearest driver, who must call AcceptRide.
	PolicyOffer Policy = "offer"
)

type Config struct {
	PlatformFeePercent  float64
	CancelRefundPercent float64
	Policy              Policy
	UnmatchedTimeout    time.Duration
	ScheduleLeadTime    time.Duration
}

func DefaultConfig() Config {
	return Config{
		PlatformFeePercent:  15,
		CancelRefundPercent: 60,
		Policy:              PolicyAuto,
		UnmatchedTimeout:    10 * time.Minute,
		ScheduleLeadTime:    15 * time.Minute,
	}
}

type Store interface {
	storage.RideStore
	storage.AccountStore
}

type Ledger interface {
	Debit(ctx context.Context, accountID string, amount int64, memo ledger.Memo) (models.LedgerEntry, error)
	Credit(ctx context.Context, accountID string, amount int64, memo ledger.Memo) (models.LedgerEntry, error)
}

type Matcher interface {
	Claim(ctx context.Context, pickup models.Coord, skip ...string) (matcher.Offer, bool, error)
	Candidates(ctx context.Context, pickup models.Coord, skip ...string) ([]matcher.Offer, error)
	Release(ctx context.Context, driverID string) error
}

type Service struct {
	store   Store
	ledger  Ledger
	fares   *fare.Engine
	matcher Matcher
	sink    dispatch.Sink
	cfg     Config
	now     func() time.Time
	logger  *slog.Logger

	mu         sync.Mutex
	rejections map[string][]string
}

func NewService(store Store, l Ledger, fares *fare.Engine, m Matcher, sink dispatch.Sink, cfg Config, logger *slog.Logger) *Service {
	if sink == nil {
		sink = dispatch.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Policy == "" {
		cfg.Policy = PolicyAuto
	}
	return &Service{
		store:      store,
		ledger:     l,
		fares:      fares,
		matcher:    m,
		sink:       sink,
		cfg:        cfg,
		now:        time.Now,
		logger:     logger.With("component", "rides"),
		rejections: make(map[string][]string),
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

type RideRequest struct {
	CustomerID    string
	Pickup        models.Location
	Dropoff       models.Location
	VehicleType   models.VehicleType
	ScheduledTime *time.Time
}

// Settlement is the money movement of a completed ride.
type Settlement struct {
	Fare          int64               `json:"fare"`
	PlatformFee   int64               `json:"platform_fee"`
	DriverEarning int64               `json:"driver_earning"`
	Entry         *models.LedgerEntry `json:"entry,omitempty"`
}

// RequestRide prices the trip, escrows the fare and creates the ride. A
// customer who cannot cover the fare gets InsufficientBalance and nothing is
// written. When no driver is found the ride stays requested with the fare held.
func (s *Service) RequestRide(ctx context.Context, req RideRequest) (*models.Ride, error) {
	if req.CustomerID == "" {
		return nil, apperr.Validation("customer id is required")
	}
	if req.VehicleType == "" {
		req.VehicleType = models.VehicleCar
	}
	if isZero(req.Pickup.Coord) || isZero(req.Dropoff.Coord) {
		return nil, apperr.Validation("pickup and dropoff coordinates are required")
	}
	now := s.now()
	if req.ScheduledTime != nil && req.ScheduledTime.Before(now) {
		return nil, apperr.Validation("scheduled time is in the past")
	}
	if req.VehicleType == models.VehicleShuttle && req.ScheduledTime == nil {
		return nil, apperr.Validation("shuttle rides must be scheduled")
	}
	if _, err := s.store.GetAccount(ctx, req.CustomerID); err != nil {
		return nil, err
	}

	km, err := fare.Distance(req.Pickup.Coord, req.Dropoff.Coord)
	if err != nil {
		return nil, err
	}
	amount, err := s.fares.Estimate(km, req.VehicleType)
	if err != nil {
		return nil, err
	}

	rideID := uuid.NewString()
	_, err = s.ledger.Debit(ctx, req.CustomerID, amount, ledger.Memo{
		Type:        models.EntryRidePayment,
		RideID:      rideID,
		Description: fmt.Sprintf("Ride payment: %s to %s", label(req.Pickup), label(req.Dropoff)),
	})
	if errors.Is(err, apperr.ErrInsufficientFunds) {
		e, _ := apperr.As(err)
		return nil, apperr.InsufficientBalance(amount, e.Available)
	}
	if err != nil {
		return nil, fmt.Errorf("escrow fare: %w", err)
	}

	ride := &models.Ride{
		ID:                   rideID,
		CustomerID:           req.CustomerID,
		Status:               models.RideRequested,
		Pickup:               req.Pickup,
		Dropoff:              req.Dropoff,
		DistanceKm:           km,
		EstimatedDurationMin: s.fares.DurationMinutes(km),
		FareEstimated:        amount,
		VehicleType:          req.VehicleType,
		ScheduledTime:        req.ScheduledTime,
		RequestedAt:          now,
		UpdatedAt:            now,
	}
	if err := s.store.CreateRide(ctx, ride); err != nil {
		s.compensateEscrow(ctx, ride)
		return nil, fmt.Errorf("create ride: %w", err)
	}
	observability.RidesRequested.Inc()
	s.logger.Info("ride requested", "ride_id", ride.ID, "customer_id", ride.CustomerID, "fare", amount, "distance_km", km)

	if s.dueForMatching(ride, now) {
		matched, err := s.findDriver(ctx, ride)
		if err != nil {
			s.logger.Warn("matching failed; ride left requested", "ride_id", ride.ID, "error", err)
		} else {
			ride = matched
		}
	}
	return s.populate(ctx, ride), nil
}

func (s *Service) compensateEscrow(ctx context.Context, ride *models.Ride) {
	_, err := s.ledger.Credit(ctx, ride.CustomerID, ride.FareEstimated, ledger.Memo{
		Type:        models.EntryRefund,
		RideID:      ride.ID,
		Description: "Refund: ride could not be created",
	})
	if err != nil {
		s.logger.Error("escrow compensation failed", "ride_id", ride.ID, "customer_id", ride.CustomerID, "amount", ride.FareEstimated, "error", err)
	}
}

// findDriver looks for a driver for a requested ride according to the policy.
func (s *Service) findDriver(ctx context.Context, ride *models.Ride) (*models.Ride, error) {
	skip := append([]string{ride.CustomerID}, s.rejectedBy(ride.ID)...)
	if s.cfg.Policy == PolicyOffer {
		offers, err := s.matcher.Candidates(ctx, ride.Pickup.Coord, skip...)
		if err != nil || len(offers) == 0 {
			return ride, err
		}
		s.emit(ctx, models.EventRideRequested, ride, map[string]any{"ride": ride, "offer": offers[0]}, offers[0].DriverID)
		return ride, nil
	}

	offer, ok, err := s.matcher.Claim(ctx, ride.Pickup.Coord, skip...)
	if err != nil || !ok {
		return ride, err
	}
	now := s.now()
	assigned, err := s.store.UpdateRide(ctx, ride.ID, func(r *models.Ride) error {
		if r.Status != models.RideRequested {
			return apperr.RideNoLongerAvailable(r.ID)
		}
		r.DriverID = offer.DriverID
		r.Status = models.RideAssigned
		r.AcceptedAt = &now
		r.UpdatedAt = now
		return nil
	})
	if err != nil {
		if rerr := s.matcher.Release(ctx, offer.DriverID); rerr != nil {
			s.logger.Error("release driver failed", "driver_id", offer.DriverID, "error", rerr)
		}
		if errors.Is(err, apperr.ErrRideNoLongerAvailable) {
			return s.store.GetRide(ctx, ride.ID)
		}
		return ride, err
	}
	s.clearRejections(ride.ID)
	assigned = s.populate(ctx, assigned)
	s.logger.Info("ride assigned", "ride_id", ride.ID, "driver_id", offer.DriverID, "distance_m", offer.DistanceMeters)
	s.emit(ctx, models.EventRideAssigned, assigned, map[string]any{"ride": assigned, "eta_seconds": offer.ETASeconds}, assigned.CustomerID, assigned.DriverID)
	return assigned, nil
}

func (s *Service) dueForMatching(r *models.Ride, now time.Time) bool {
	return r.ScheduledTime == nil || r.ScheduledTime.Sub(now) <= s.cfg.ScheduleLeadTime
}

// AcceptRide assigns driverID to a requested ride. Only one of several
// concurrent accepts succeeds; the rest get RideNoLongerAvailable.
func (s *Service) AcceptRide(ctx context.Context, rideID, driverID string) (*models.Ride, error) {
	var prev models.DriverStatus
	_, err := s.store.UpdateAccount(ctx, driverID, func(a *models.Account) error {
		if !a.Roles.Driver {
			return apperr.Unauthorized("account %s is not a driver", driverID)
		}
		if a.DriverStatus == models.DriverOnRide {
			return apperr.InvalidTransition("driver %s already has an active ride", driverID)
		}
		prev = a.DriverStatus
		a.DriverStatus = models.DriverOnRide
		return nil
	})
	if err != nil {
		return nil, err
	}

	now := s.now()
	ride, err := s.store.UpdateRide(ctx, rideID, func(r *models.Ride) error {
		if r.CustomerID == driverID {
			return apperr.Unauthorized("cannot accept your own ride")
		}
		if r.Status != models.RideRequested {
			return apperr.RideNoLongerAvailable(r.ID)
		}
		r.DriverID = driverID
		r.Status = models.RideAssigned
		r.AcceptedAt = &now
		r.UpdatedAt = now
		return nil
	})
	if err != nil {
		s.restoreDriver(ctx, driverID, prev)
		return nil, err
	}
	s.clearRejections(rideID)
	ride = s.populate(ctx, ride)
	s.logger.Info("ride accepted", "ride_id", ride.ID, "driver_id", driverID)
	s.emit(ctx, models.EventRideAssigned, ride, map[string]any{"ride": ride}, ride.CustomerID, driverID)
	return ride, nil
}

func (s *Service) restoreDriver(ctx context.Context, driverID string, status models.DriverStatus) {
	_, err := s.store.UpdateAccount(ctx, driverID, func(a *models.Account) error {
		if a.DriverStatus == models.DriverOnRide {
			a.DriverStatus = status
		}
		return nil
	})
	if err != nil {
		s.logger.Error("restore driver status failed", "driver_id", driverID, "error", err)
	}
}

// RejectRide records that driverID declined a requested ride and offers it to
// the next nearest driver.
func (s *Service) RejectRide(ctx context.Context, rideID, driverID string) error {
	ride, err := s.store.GetRide(ctx, rideID)
	if err != nil {
		return err
	}
	if ride.Status != models.RideRequested {
		return apperr.RideNoLongerAvailable(rideID)
	}
	s.mu.Lock()
	s.rejections[rideID] = append(s.rejections[rideID], driverID)
	s.mu.Unlock()
	s.logger.Info("ride rejected", "ride_id", rideID, "driver_id", driverID)

	if s.cfg.Policy == PolicyOffer {
		if _, err := s.findDriver(ctx, ride); err != nil {
			s.logger.Warn("re-offer failed", "ride_id", rideID, "error", err)
		}
	}
	return nil
}

func (s *Service) rejectedBy(rideID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.rejections[rideID]...)
}

func (s *Service) clearRejections(rideID string) {
	s.mu.Lock()
	delete(s.rejections, rideID)
	s.mu.Unlock()
}

// StartTrip moves an assigned ride en route. Either party may start it.
func (s *Service) StartTrip(ctx context.Context, rideID, actorID string) (*models.Ride, error) {
	now := s.now()
	ride, err := s.store.UpdateRide(ctx, rideID, func(r *models.Ride) error {
		if !isParty(r, actorID) {
			return apperr.Unauthorized("%s is not a party to ride %s", actorID, r.ID)
		}
		if r.Status != models.RideAssigned {
			return apperr.InvalidTransition("cannot start ride in status %s", r.Status)
		}
		r.Status = models.RideEnRoute
		r.PickupTime = &now
		r.StartedAt = &now
		r.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	ride = s.populate(ctx, ride)
	s.logger.Info("ride started", "ride_id", ride.ID, "driver_id", ride.DriverID)
	s.emit(ctx, models.EventRideStarted, ride, map[string]any{"ride": ride}, ride.CustomerID, ride.DriverID)
	return ride, nil
}

// CompleteTrip finishes an en-route ride and pays the driver. The customer was
// charged at request time, so the only entry posted here is the driver's
// earning. The earning is recorded on the ride with the transition; if the
// ledger is unavailable the ride stays completed with a pending credit that
// RetrySettlements posts later, and the driver is released either way.
func (s *Service) CompleteTrip(ctx context.Context, rideID, actorID string) (*models.Ride, Settlement, error) {
	now := s.now()
	var st Settlement
	ride, err := s.store.UpdateRide(ctx, rideID, func(r *models.Ride) error {
		if !isParty(r, actorID) {
			return apperr.Unauthorized("%s is not a party to ride %s", actorID, r.ID)
		}
		if r.Status != models.RideEnRoute {
			return apperr.InvalidTransition("cannot complete ride in status %s", r.Status)
		}
		final := r.FareEstimated
		st = Settlement{Fare: final, PlatformFee: fare.Percent(final, s.cfg.PlatformFeePercent)}
		st.DriverEarning = st.Fare - st.PlatformFee
		if st.DriverEarning > 0 {
			r.PendingCredit = &models.PendingCredit{
				AccountID:   r.DriverID,
				Amount:      st.DriverEarning,
				Type:        models.EntryRideEarning,
				Description: fmt.Sprintf("Ride earning (fare %d, platform fee %d)", st.Fare, st.PlatformFee),
			}
		}
		r.FareFinal = &final
		r.Status = models.RideCompleted
		r.CompletedAt = &now
		r.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, Settlement{}, err
	}

	_, err = s.store.UpdateAccount(ctx, ride.DriverID, func(a *models.Account) error {
		a.TotalRidesCompleted++
		if a.DriverStatus == models.DriverOnRide {
			a.DriverStatus = models.DriverOnline
		}
		return nil
	})
	if err != nil {
		s.logger.Error("driver release failed", "ride_id", ride.ID, "driver_id", ride.DriverID, "error", err)
	}

	entry, err := s.settle(ctx, ride)
	if err != nil {
		s.logger.Error("driver settlement deferred", "ride_id", ride.ID, "driver_id", ride.DriverID, "amount", st.DriverEarning, "error", err)
	}
	st.Entry = entry

	observability.RidesCompleted.Inc()
	ride = s.populate(ctx, ride)
	s.logger.Info("ride completed", "ride_id", ride.ID, "fare", st.Fare, "platform_fee", st.PlatformFee, "driver_earning", st.DriverEarning)
	s.emit(ctx, models.EventRideCompleted, ride, map[string]any{"ride": ride, "settlement": st}, ride.CustomerID, ride.DriverID)
	return ride, st, nil
}

// CancelRide cancels a non-terminal ride and refunds the customer: the whole
// fare when the driver was late or cancelled, otherwise the configured share.
func (s *Service) CancelRide(ctx context.Context, rideID, actorID string, isDriverLate bool, reason string) (*models.Ride, int64, error) {
	return s.cancel(ctx, rideID, func(r *models.Ride) (models.CancelledBy, error) {
		switch {
		case actorID != "" && actorID == r.CustomerID:
			return models.CancelledByCustomer, nil
		case actorID != "" && actorID == r.DriverID:
			return models.CancelledByDriver, nil
		}
		return "", apperr.Unauthorized("%s is not a party to ride %s", actorID, r.ID)
	}, isDriverLate, reason)
}

type authorizeFunc func(r *models.Ride) (models.CancelledBy, error)

func (s *Service) cancel(ctx context.Context, rideID string, authorize authorizeFunc, isDriverLate bool, reason string) (*models.Ride, int64, error) {
	now := s.now()
	var refund int64
	ride, err := s.store.UpdateRide(ctx, rideID, func(r *models.Ride) error {
		by, err := authorize(r)
		if err != nil {
			return err
		}
		if r.Status.Terminal() {
			return apperr.InvalidTransition("ride is already %s", r.Status)
		}
		refund = s.refundFor(r.FareEstimated, by, isDriverLate)
		r.Cancellation = &models.Cancellation{
			By:         by,
			Reason:     reason,
			DriverLate: isDriverLate,
			Refund:     refund,
			DriverID:   r.DriverID,
		}
		if refund > 0 {
			r.PendingCredit = &models.PendingCredit{
				AccountID:   r.CustomerID,
				Amount:      refund,
				Type:        models.EntryRefund,
				Description: fmt.Sprintf("Refund for cancelled ride (%d of %d)", refund, r.FareEstimated),
			}
		}
		r.DriverID = ""
		r.Status = models.RideCancelled
		r.CancelledAt = &now
		r.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	s.clearRejections(rideID)

	formerDriver := ride.Cancellation.DriverID
	if err := s.matcher.Release(ctx, formerDriver); err != nil {
		s.logger.Error("driver release failed", "ride_id", ride.ID, "driver_id", formerDriver, "error", err)
	}

	if _, err := s.settle(ctx, ride); err != nil {
		s.logger.Error("refund deferred", "ride_id", ride.ID, "customer_id", ride.CustomerID, "amount", refund, "error", err)
	}

	observability.RidesCancelled.WithLabelValues(string(ride.Cancellation.By)).Inc()
	ride = s.populate(ctx, ride)
	s.logger.Info("ride cancelled", "ride_id", ride.ID, "by", ride.Cancellation.By, "refund", refund)
	s.emit(ctx, models.EventRideCancelled, ride, map[string]any{"ride": ride, "refund": refund}, ride.CustomerID, formerDriver)
	return ride, refund, nil
}

// settle posts the ride's pending credit and clears it. A credit the ledger
// already holds for this ride counts as posted.
func (s *Service) settle(ctx context.Context, ride *models.Ride) (*models.LedgerEntry, error) {
	pc := ride.PendingCredit
	if pc == nil {
		return nil, nil
	}
	var posted *models.LedgerEntry
	entry, err := s.ledger.Credit(ctx, pc.AccountID, pc.Amount, ledger.Memo{
		Type:        pc.Type,
		RideID:      ride.ID,
		Description: pc.Description,
	})
	switch {
	case err == nil:
		posted = &entry
	case !errors.Is(err, storage.ErrAlreadySettled):
		return nil, fmt.Errorf("settle ride %s: %w", ride.ID, err)
	}
	_, err = s.store.UpdateRide(ctx, ride.ID, func(r *models.Ride) error {
		r.PendingCredit = nil
		return nil
	})
	if err != nil {
		s.logger.Warn("clear pending credit failed", "ride_id", ride.ID, "error", err)
	}
	ride.PendingCredit = nil
	return posted, nil
}

func (s *Service) refundFor(amount int64, by models.CancelledBy, driverLate bool) int64 {
	if driverLate || by != models.CancelledByCustomer {
		return amount
	}
	return fare.Percent(amount, s.cfg.CancelRefundPercent)
}

// RateRide records one rating per side on a finished ride. A customer rating
// on a completed ride feeds the driver's running average.
func (s *Service) RateRide(ctx context.Context, rideID, raterID string, rating int, comment string) (*models.Ride, error) {
	if rating < 1 || rating > 5 {
		return nil, apperr.Validation("rating must be between 1 and 5")
	}
	now := s.now()
	byCustomer := false
	ride, err := s.store.UpdateRide(ctx, rideID, func(r *models.Ride) error {
		rec := &models.Rating{Rating: rating, Comment: comment, At: now}
		switch {
		case raterID != "" && raterID == r.CustomerID:
			if !r.Status.Terminal() {
				return apperr.InvalidTransition("ride in status %s cannot be rated", r.Status)
			}
			if r.CustomerRating != nil {
				return apperr.AlreadyRated("customer already rated ride %s", r.ID)
			}
			r.CustomerRating = rec
			byCustomer = true
		case raterID != "" && raterID == r.FormerDriverID():
			if !r.Status.Terminal() {
				return apperr.InvalidTransition("ride in status %s cannot be rated", r.Status)
			}
			if r.DriverRating != nil {
				return apperr.AlreadyRated("driver already rated ride %s", r.ID)
			}
			r.DriverRating = rec
		default:
			return apperr.Unauthorized("%s is not a party to ride %s", raterID, r.ID)
		}
		r.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	if byCustomer && ride.Status == models.RideCompleted && ride.DriverID != "" {
		_, err := s.store.UpdateAccount(ctx, ride.DriverID, func(a *models.Account) error {
			a.RatingSum += int64(rating)
			a.RatingCount++
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("update driver rating: %w", err)
		}
	}
	return s.populate(ctx, ride), nil
}

// Get returns the ride to one of its parties.
func (s *Service) Get(ctx context.Context, rideID, actorID string) (*models.Ride, error) {
	r, err := s.store.GetRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if !isParty(r, actorID) && actorID != r.FormerDriverID() {
		return nil, apperr.Unauthorized("%s is not a party to ride %s", actorID, rideID)
	}
	return s.populate(ctx, r), nil
}

// History lists a customer's rides, most recent first.
func (s *Service) History(ctx context.Context, customerID string, limit int) ([]*models.Ride, error) {
	if limit <= 0 || limit > maxHistory {
		limit = defaultHistory
	}
	rs, err := s.store.ListRidesByCustomer(ctx, customerID, limit)
	if err != nil {
		return nil, err
	}
	for i, r := range rs {
		rs[i] = s.populate(ctx, r)
	}
	return rs, nil
}

// ClearHistory deletes the customer's completed and cancelled rides.
func (s *Service) ClearHistory(ctx context.Context, customerID string) (int, error) {
	n, err := s.store.DeleteTerminalRides(ctx, customerID)
	if err != nil {
		return 0, err
	}
	s.logger.Info("ride history cleared", "customer_id", customerID, "removed", n)
	return n, nil
}

// ActiveRideForDriver returns the driver's assigned or en-route ride, or nil.
func (s *Service) ActiveRideForDriver(ctx context.Context, driverID string) (*models.Ride, error) {
	r, err := s.store.ActiveRideForDriver(ctx, driverID)
	if err != nil || r == nil {
		return nil, err
	}
	return s.populate(ctx, r), nil
}

// Estimate quotes a fare without touching any wallet.
func (s *Service) Estimate(_ context.Context, pickup, dropoff models.Coord, vt models.VehicleType) (fare.Quote, error) {
	if vt == "" {
		vt = models.VehicleCar
	}
	return s.fares.Quote(pickup, dropoff, vt)
}

func (s *Service) populate(ctx context.Context, r *models.Ride) *models.Ride {
	if a, err := s.store.GetAccount(ctx, r.CustomerID); err == nil {
		r.Customer = &models.Party{ID: a.ID, Name: a.Name, Phone: a.Phone}
	}
	if id := r.FormerDriverID(); id != "" {
		if a, err := s.store.GetAccount(ctx, id); err == nil {
			r.Driver = &models.Party{ID: a.ID, Name: a.Name, Phone: a.Phone, DriverRating: a.DriverRating(), Vehicle: a.Vehicle}
		}
	}
	return r
}

func (s *Service) emit(ctx context.Context, name models.EventName, r *models.Ride, payload any, recipients ...string) {
	to := make([]string, 0, len(recipients))
	for _, id := range recipients {
		if id != "" {
			to = append(to, id)
		}
	}
	if len(to) == 0 {
		return
	}
	ev := models.Event{Name: name, RideID: r.ID, Recipients: to, Payload: payload, At: s.now()}
	if err := s.sink.Publish(ctx, ev); err != nil && !errors.Is(err, dispatch.ErrNoSession) {
		s.logger.Warn("event publish failed", "event", name, "ride_id", r.ID, "error", err)
	}
}

func isParty(r *models.Ride, actorID string) bool {
	return actorID != "" && (actorID == r.CustomerID || actorID == r.DriverID)
}

func isZero(c models.Coord) bool { return c.Lat == 0 && c.Lng == 0 }

func label(l models.Location) string {
	if l.Address != "" {
		return l.Address
	}
	return fmt.Sprintf("%.4f,%.4f", l.Lat, l.Lng)
}
