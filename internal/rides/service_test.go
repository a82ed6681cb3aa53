package rides

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/ridehail/internal/apperr"
	"github.com/example/ridehail/internal/dispatch"
	"github.com/example/ridehail/internal/fare"
	"github.com/example/ridehail/internal/geo"
	"github.com/example/ridehail/internal/ledger"
	"github.com/example/ridehail/internal/matcher"
	"github.com/example/ridehail/internal/models"
	"github.com/example/ridehail/internal/storage"
)

var (
	park   = models.Location{Address: "Park Street", Coord: models.Coord{Lat: 22.5448, Lng: 88.3426}}
	howrah = models.Location{Address: "Howrah Bridge", Coord: models.Coord{Lat: 22.5851, Lng: 88.3468}}
)

type harness struct {
	svc     *Service
	store   *storage.MemoryStore
	ledger  *ledger.Service
	geo     *geo.Service
	matcher *matcher.Service
	events  *dispatch.Recorder
	cfg     Config
	fares   fare.Config
	now     time.Time
}

func newHarness(t *testing.T, cfg Config, fares fare.Config) *harness {
	t.Helper()
	h := &harness{
		store:  storage.NewMemoryStore(),
		events: &dispatch.Recorder{},
		cfg:    cfg,
		fares:  fares,
		now:    time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	h.ledger = ledger.NewService(h.store, nil)
	h.geo = &geo.Service{Index: geo.NewMemoryIndex(), TTL: 5 * time.Minute}
	h.matcher = &matcher.Service{Geo: h.geo, Accounts: h.store, RadiusMeters: 5000, DefaultSpeedMps: 10}
	h.useLedger(h.ledger)
	return h
}

func (h *harness) useLedger(l Ledger) {
	h.svc = NewService(h.store, l, fare.NewEngine(h.fares), h.matcher, h.events, h.cfg, nil)
	h.svc.WithClock(func() time.Time { return h.now })
}

func (h *harness) customer(t *testing.T, id string, balance int64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.store.CreateAccount(ctx, &models.Account{ID: id, Name: id, Email: id + "@example.test", Roles: models.Roles{Customer: true}}))
	if balance > 0 {
		_, err := h.ledger.TopUp(ctx, id, balance)
		require.NoError(t, err)
	}
}

func (h *harness) driver(t *testing.T, id string, pos *models.Coord) {
	t.Helper()
	ctx := context.Background()
	status := models.DriverOffline
	if pos != nil {
		status = models.DriverOnline
	}
	require.NoError(t, h.store.CreateAccount(ctx, &models.Account{
		ID: id, Name: id, Email: id + "@example.test",
		Roles:        models.Roles{Driver: true},
		DriverStatus: status,
		Vehicle:      &models.VehicleInfo{Type: models.VehicleCar},
	}))
	if pos != nil {
		require.NoError(t, h.geo.SetOnline(ctx, geo.Driver{ID: id}, *pos))
	}
}

func (h *harness) balance(t *testing.T, id string) int64 {
	t.Helper()
	b, err := h.ledger.Balance(context.Background(), id)
	require.NoError(t, err)
	return b
}

func near(c models.Coord) *models.Coord {
	return &models.Coord{Lat: c.Lat + 0.001, Lng: c.Lng}
}

func request(customerID string) RideRequest {
	return RideRequest{CustomerID: customerID, Pickup: park, Dropoff: howrah, VehicleType: models.VehicleCar}
}

func offerConfig() Config {
	cfg := DefaultConfig()
	cfg.Policy = PolicyOffer
	return cfg
}

func TestRequestRideAssignsNearestDriver(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, DefaultConfig(), fare.DefaultConfig())
	h.customer(t, "c1", 500)
	h.driver(t, "far", &models.Coord{Lat: park.Lat + 0.02, Lng: park.Lng})
	h.driver(t, "d1", near(park.Coord))

	ride, err := h.svc.RequestRide(ctx, request("c1"))
	require.NoError(t, err)
	require.Equal(t, models.RideAssigned, ride.Status)
	require.Equal(t, "d1", ride.DriverID)
	require.EqualValues(t, 118, ride.FareEstimated)
	require.Equal(t, 4.5, ride.DistanceKm)
	require.Equal(t, 7, ride.EstimatedDurationMin)
	require.NotNil(t, ride.AcceptedAt)
	require.NotNil(t, ride.Driver)
	require.Equal(t, 5.0, ride.Driver.DriverRating)
	require.EqualValues(t, 382, h.balance(t, "c1"))

	d, err := h.store.GetAccount(ctx, "d1")
	require.NoError(t, err)
	require.Equal(t, models.DriverOnRide, d.DriverStatus)

	assigned := h.events.Named(models.EventRideAssigned)
	require.Len(t, assigned, 1)
	require.ElementsMatch(t, []string{"c1", "d1"}, assigned[0].Recipients)
}

func TestRequestRideWithoutDriverStaysRequested(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, DefaultConfig(), fare.DefaultConfig())
	h.customer(t, "c1", 500)

	ride, err := h.svc.RequestRide(ctx, request("c1"))
	require.NoError(t, err)
	require.Equal(t, models.RideRequested, ride.Status)
	require.Empty(t, ride.DriverID)
	require.EqualValues(t, 382, h.balance(t, "c1"), "fare is held while waiting")
}

func TestRequestRideInsufficientBalanceWritesNothing(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, DefaultConfig(), fare.DefaultConfig())
	h.customer(t, "c1", 100)

	_, err := h.svc.RequestRide(ctx, request("c1"))
	require.True(t, errors.Is(err, apperr.ErrInsufficientBalance))
	e, ok := apperr.As(err)
	require.True(t, ok)
	require.EqualValues(t, 118, e.Required)
	require.EqualValues(t, 100, e.Available)

	rides, err := h.svc.History(ctx, "c1", 0)
	require.NoError(t, err)
	require.Empty(t, rides)
	entries, err := h.ledger.History(ctx, "c1", 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1, "only the top-up")
	require.EqualValues(t, 100, h.balance(t, "c1"))
}

func TestRequestRideValidation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, DefaultConfig(), fare.DefaultConfig())
	h.customer(t, "c1", 500)

	shuttle := request("c1")
	shuttle.VehicleType = models.VehicleShuttle
	_, err := h.svc.RequestRide(ctx, shuttle)
	require.True(t, errors.Is(err, apperr.ErrValidation))

	missing := request("c1")
	missing.Pickup = models.Location{Address: "somewhere"}
	_, err = h.svc.RequestRide(ctx, missing)
	require.True(t, errors.Is(err, apperr.ErrValidation))

	past := request("c1")
	when := h.now.Add(-time.Hour)
	past.ScheduledTime = &when
	_, err = h.svc.RequestRide(ctx, past)
	require.True(t, errors.Is(err, apperr.ErrValidation))

	_, err = h.svc.RequestRide(ctx, request("nobody"))
	require.True(t, errors.Is(err, apperr.ErrNotFound))

	require.EqualValues(t, 500, h.balance(t, "c1"))
}

func TestConcurrentAcceptHasOneWinner(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, offerConfig(), fare.DefaultConfig())
	h.customer(t, "c1", 500)
	drivers := []string{"d1", "d2", "d3", "d4", "d5"}
	for _, id := range drivers {
		h.driver(t, id, nil)
	}
	ride, err := h.svc.RequestRide(ctx, request("c1"))
	require.NoError(t, err)
	require.Equal(t, models.RideRequested, ride.Status)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
		lost    int
	)
	for _, id := range drivers {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := h.svc.AcceptRide(ctx, ride.ID, id)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners = append(winners, id)
			case errors.Is(err, apperr.ErrRideNoLongerAvailable):
				lost++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(id)
	}
	wg.Wait()
	require.Len(t, winners, 1)
	require.Equal(t, len(drivers)-1, lost)

	got, err := h.store.GetRide(ctx, ride.ID)
	require.NoError(t, err)
	require.Equal(t, winners[0], got.DriverID)
	for _, id := range drivers {
		a, err := h.store.GetAccount(ctx, id)
		require.NoError(t, err)
		if id == winners[0] {
			require.Equal(t, models.DriverOnRide, a.DriverStatus)
		} else {
			require.Equal(t, models.DriverOffline, a.DriverStatus)
		}
	}
}

func TestAcceptRideRules(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, offerConfig(), fare.DefaultConfig())
	h.customer(t, "c1", 500)
	h.driver(t, "d1", nil)

	ride, err := h.svc.RequestRide(ctx, request("c1"))
	require.NoError(t, err)

	_, err = h.svc.AcceptRide(ctx, ride.ID, "c1")
	require.True(t, errors.Is(err, apperr.ErrUnauthorized), "customers cannot accept")

	_, err = h.svc.AcceptRide(ctx, ride.ID, "d1")
	require.NoError(t, err)

	other, err := h.svc.RequestRide(ctx, request("c1"))
	require.NoError(t, err)
	_, err = h.svc.AcceptRide(ctx, other.ID, "d1")
	require.True(t, errors.Is(err, apperr.ErrInvalidTransition), "driver already busy")
}

func TestOfferPolicyNotifiesNearestAndSkipsRejecters(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, offerConfig(), fare.DefaultConfig())
	h.customer(t, "c1", 500)
	h.driver(t, "d1", near(park.Coord))
	h.driver(t, "d2", &models.Coord{Lat: park.Lat + 0.01, Lng: park.Lng})

	ride, err := h.svc.RequestRide(ctx, request("c1"))
	require.NoError(t, err)
	require.Equal(t, models.RideRequested, ride.Status)

	offers := h.events.Named(models.EventRideRequested)
	require.Len(t, offers, 1)
	require.Equal(t, []string{"d1"}, offers[0].Recipients)

	require.NoError(t, h.svc.RejectRide(ctx, ride.ID, "d1"))
	offers = h.events.Named(models.EventRideRequested)
	require.Len(t, offers, 2)
	require.Equal(t, []string{"d2"}, offers[1].Recipients)

	_, err = h.svc.AcceptRide(ctx, ride.ID, "d2")
	require.NoError(t, err)
	err = h.svc.RejectRide(ctx, ride.ID, "d1")
	require.True(t, errors.Is(err, apperr.ErrRideNoLongerAvailable))
}

func TestLifecycleSettlesDriver(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, DefaultConfig(), fare.DefaultConfig())
	h.customer(t, "c1", 500)
	h.driver(t, "d1", near(park.Coord))

	ride, err := h.svc.RequestRide(ctx, request("c1"))
	require.NoError(t, err)

	_, _, err = h.svc.CompleteTrip(ctx, ride.ID, "d1")
	require.True(t, errors.Is(err, apperr.ErrInvalidTransition), "cannot skip en_route")
	_, err = h.svc.StartTrip(ctx, ride.ID, "stranger")
	require.True(t, errors.Is(err, apperr.ErrUnauthorized))

	started, err := h.svc.StartTrip(ctx, ride.ID, "d1")
	require.NoError(t, err)
	require.Equal(t, models.RideEnRoute, started.Status)
	require.NotNil(t, started.PickupTime)

	done, st, err := h.svc.CompleteTrip(ctx, ride.ID, "c1")
	require.NoError(t, err)
	require.Equal(t, models.RideCompleted, done.Status)
	require.EqualValues(t, 118, *done.FareFinal)
	require.EqualValues(t, 118, st.Fare)
	require.EqualValues(t, 18, st.PlatformFee)
	require.EqualValues(t, 100, st.DriverEarning)
	require.NotNil(t, st.Entry)
	require.Equal(t, models.EntryRideEarning, st.Entry.Type)

	require.EqualValues(t, 100, h.balance(t, "d1"))
	require.EqualValues(t, 382, h.balance(t, "c1"), "customer paid at request time only")

	d, err := h.store.GetAccount(ctx, "d1")
	require.NoError(t, err)
	require.Equal(t, models.DriverOnline, d.DriverStatus)
	require.Equal(t, 1, d.TotalRidesCompleted)

	_, _, err = h.svc.CompleteTrip(ctx, ride.ID, "d1")
	require.True(t, errors.Is(err, apperr.ErrInvalidTransition))
	_, _, err = h.svc.CancelRide(ctx, ride.ID, "c1", false, "")
	require.True(t, errors.Is(err, apperr.ErrInvalidTransition))

	for _, name := range []models.EventName{models.EventRideAssigned, models.EventRideStarted, models.EventRideCompleted} {
		require.Len(t, h.events.Named(name), 1, name)
	}
}

func TestCancelRefunds(t *testing.T) {
	ctx := context.Background()
	flat := fare.Config{BaseFare: 200, MinimumFare: 0}
	h := newHarness(t, DefaultConfig(), flat)
	h.customer(t, "c1", 1000)

	ride, err := h.svc.RequestRide(ctx, request("c1"))
	require.NoError(t, err)
	require.EqualValues(t, 200, ride.FareEstimated)

	_, _, err = h.svc.CancelRide(ctx, ride.ID, "stranger", false, "")
	require.True(t, errors.Is(err, apperr.ErrUnauthorized))

	cancelled, refund, err := h.svc.CancelRide(ctx, ride.ID, "c1", false, "changed plans")
	require.NoError(t, err)
	require.EqualValues(t, 120, refund)
	require.Equal(t, models.RideCancelled, cancelled.Status)
	require.Equal(t, models.CancelledByCustomer, cancelled.Cancellation.By)
	require.EqualValues(t, 920, h.balance(t, "c1"))

	_, _, err = h.svc.CancelRide(ctx, ride.ID, "c1", false, "")
	require.True(t, errors.Is(err, apperr.ErrInvalidTransition))
	require.EqualValues(t, 920, h.balance(t, "c1"), "second cancel refunds nothing")

	late, err := h.svc.RequestRide(ctx, request("c1"))
	require.NoError(t, err)
	_, refund, err = h.svc.CancelRide(ctx, late.ID, "c1", true, "driver late")
	require.NoError(t, err)
	require.EqualValues(t, 200, refund)
	require.EqualValues(t, 920, h.balance(t, "c1"))
}

func TestDriverCancelReleasesDriver(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, DefaultConfig(), fare.Config{BaseFare: 200})
	h.customer(t, "c1", 1000)
	h.driver(t, "d1", near(park.Coord))

	ride, err := h.svc.RequestRide(ctx, request("c1"))
	require.NoError(t, err)
	require.Equal(t, "d1", ride.DriverID)

	cancelled, refund, err := h.svc.CancelRide(ctx, ride.ID, "d1", false, "flat tyre")
	require.NoError(t, err)
	require.EqualValues(t, 200, refund)
	require.Empty(t, cancelled.DriverID)
	require.Equal(t, "d1", cancelled.Cancellation.DriverID)
	require.Equal(t, models.CancelledByDriver, cancelled.Cancellation.By)
	require.EqualValues(t, 1000, h.balance(t, "c1"))

	d, err := h.store.GetAccount(ctx, "d1")
	require.NoError(t, err)
	require.Equal(t, models.DriverOnline, d.DriverStatus)

	ev := h.events.Named(models.EventRideCancelled)
	require.Len(t, ev, 1)
	require.ElementsMatch(t, []string{"c1", "d1"}, ev[0].Recipients)
}

func completedRide(t *testing.T, h *harness, customerID, driverID string) *models.Ride {
	t.Helper()
	ctx := context.Background()
	ride, err := h.svc.RequestRide(ctx, request(customerID))
	require.NoError(t, err)
	require.Equal(t, driverID, ride.DriverID)
	_, err = h.svc.StartTrip(ctx, ride.ID, driverID)
	require.NoError(t, err)
	done, _, err := h.svc.CompleteTrip(ctx, ride.ID, driverID)
	require.NoError(t, err)
	return done
}

func TestRateRide(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, DefaultConfig(), fare.DefaultConfig())
	h.customer(t, "c1", 1000)
	h.driver(t, "d1", near(park.Coord))

	first := completedRide(t, h, "c1", "d1")

	_, err := h.svc.RateRide(ctx, first.ID, "c1", 6, "")
	require.True(t, errors.Is(err, apperr.ErrValidation))
	_, err = h.svc.RateRide(ctx, first.ID, "stranger", 4, "")
	require.True(t, errors.Is(err, apperr.ErrUnauthorized))

	rated, err := h.svc.RateRide(ctx, first.ID, "c1", 4, "ok")
	require.NoError(t, err)
	require.Equal(t, 4, rated.CustomerRating.Rating)
	require.Equal(t, 4.0, rated.Driver.DriverRating)

	_, err = h.svc.RateRide(ctx, first.ID, "c1", 5, "")
	require.True(t, errors.Is(err, apperr.ErrAlreadyRated))

	_, err = h.svc.RateRide(ctx, first.ID, "d1", 5, "polite")
	require.NoError(t, err)
	_, err = h.svc.RateRide(ctx, first.ID, "d1", 5, "")
	require.True(t, errors.Is(err, apperr.ErrAlreadyRated))

	second := completedRide(t, h, "c1", "d1")
	_, err = h.svc.RateRide(ctx, second.ID, "c1", 5, "")
	require.NoError(t, err)

	d, err := h.store.GetAccount(ctx, "d1")
	require.NoError(t, err)
	require.Equal(t, 4.5, d.DriverRating())
	require.EqualValues(t, 2, d.RatingCount)
}

func TestRateRideBeforeEndIsRejected(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, DefaultConfig(), fare.DefaultConfig())
	h.customer(t, "c1", 1000)
	h.driver(t, "d1", near(park.Coord))

	ride, err := h.svc.RequestRide(ctx, request("c1"))
	require.NoError(t, err)
	_, err = h.svc.RateRide(ctx, ride.ID, "c1", 5, "")
	require.True(t, errors.Is(err, apperr.ErrInvalidTransition))
}

func TestSweepExpiresUnmatchedRide(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, DefaultConfig(), fare.DefaultConfig())
	h.customer(t, "c1", 500)

	ride, err := h.svc.RequestRide(ctx, request("c1"))
	require.NoError(t, err)

	h.now = h.now.Add(5 * time.Minute)
	matched, expired, err := h.svc.Sweep(ctx)
	require.NoError(t, err)
	require.Zero(t, matched)
	require.Zero(t, expired)

	h.now = h.now.Add(6 * time.Minute)
	_, expired, err = h.svc.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, expired)

	got, err := h.svc.Get(ctx, ride.ID, "c1")
	require.NoError(t, err)
	require.Equal(t, models.RideCancelled, got.Status)
	require.Equal(t, models.CancelledBySystem, got.Cancellation.By)
	require.EqualValues(t, 500, h.balance(t, "c1"))
}

func TestSweepMatchesDriverWhoCameOnlineLater(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, DefaultConfig(), fare.DefaultConfig())
	h.customer(t, "c1", 500)

	ride, err := h.svc.RequestRide(ctx, request("c1"))
	require.NoError(t, err)
	require.Equal(t, models.RideRequested, ride.Status)

	h.driver(t, "d1", near(park.Coord))
	matched, _, err := h.svc.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, matched)

	active, err := h.svc.ActiveRideForDriver(ctx, "d1")
	require.NoError(t, err)
	require.Equal(t, ride.ID, active.ID)
}

func TestScheduledRideWaitsForLeadTime(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, DefaultConfig(), fare.DefaultConfig())
	h.customer(t, "c1", 500)
	h.driver(t, "d1", near(park.Coord))

	req := request("c1")
	pickupAt := h.now.Add(time.Hour)
	req.ScheduledTime = &pickupAt
	ride, err := h.svc.RequestRide(ctx, req)
	require.NoError(t, err)
	require.Equal(t, models.RideRequested, ride.Status)

	h.now = h.now.Add(50 * time.Minute)
	matched, expired, err := h.svc.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, matched)
	require.Zero(t, expired)
}

func TestGetAndHistory(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, DefaultConfig(), fare.DefaultConfig())
	h.customer(t, "c1", 1000)
	h.customer(t, "c2", 0)
	h.driver(t, "d1", near(park.Coord))

	done := completedRide(t, h, "c1", "d1")
	_, err := h.svc.Get(ctx, done.ID, "c2")
	require.True(t, errors.Is(err, apperr.ErrUnauthorized))
	got, err := h.svc.Get(ctx, done.ID, "d1")
	require.NoError(t, err)
	require.Equal(t, "c1", got.Customer.ID)

	h.now = h.now.Add(time.Minute)
	active, err := h.svc.RequestRide(ctx, request("c1"))
	require.NoError(t, err)

	hist, err := h.svc.History(ctx, "c1", 10)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	require.Equal(t, active.ID, hist[0].ID)

	n, err := h.svc.ClearHistory(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, 1, n)
	hist, err = h.svc.History(ctx, "c1", 10)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	require.Equal(t, active.ID, hist[0].ID)
}

// flakyLedger fails every credit while down is set.
type flakyLedger struct {
	*ledger.Service
	mu   sync.Mutex
	down bool
}

func (f *flakyLedger) setDown(down bool) {
	f.mu.Lock()
	f.down = down
	f.mu.Unlock()
}

func (f *flakyLedger) Credit(ctx context.Context, accountID string, amount int64, memo ledger.Memo) (models.LedgerEntry, error) {
	f.mu.Lock()
	down := f.down
	f.mu.Unlock()
	if down {
		return models.LedgerEntry{}, errors.New("store timeout")
	}
	return f.Service.Credit(ctx, accountID, amount, memo)
}

func TestCancelDuringLedgerOutageReleasesDriverAndRefundsLater(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, DefaultConfig(), fare.DefaultConfig())
	flaky := &flakyLedger{Service: h.ledger}
	h.useLedger(flaky)
	h.customer(t, "c1", 500)
	h.driver(t, "d1", near(park.Coord))

	ride, err := h.svc.RequestRide(ctx, request("c1"))
	require.NoError(t, err)
	require.Equal(t, "d1", ride.DriverID)

	flaky.setDown(true)
	cancelled, refund, err := h.svc.CancelRide(ctx, ride.ID, "c1", true, "driver late")
	require.NoError(t, err)
	require.EqualValues(t, 118, refund)
	require.Equal(t, models.RideCancelled, cancelled.Status)
	require.NotNil(t, cancelled.PendingCredit)
	require.EqualValues(t, 118, cancelled.PendingCredit.Amount)
	require.EqualValues(t, 382, h.balance(t, "c1"))

	d, err := h.store.GetAccount(ctx, "d1")
	require.NoError(t, err)
	require.Equal(t, models.DriverOnline, d.DriverStatus, "driver is released even though the refund failed")

	n, err := h.svc.ClearHistory(ctx, "c1")
	require.NoError(t, err)
	require.Zero(t, n, "rides owing a refund are kept")

	settled, err := h.svc.RetrySettlements(ctx)
	require.NoError(t, err)
	require.Zero(t, settled)

	flaky.setDown(false)
	settled, err = h.svc.RetrySettlements(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, settled)
	require.EqualValues(t, 500, h.balance(t, "c1"))

	stored, err := h.store.GetRide(ctx, ride.ID)
	require.NoError(t, err)
	require.Nil(t, stored.PendingCredit)

	settled, err = h.svc.RetrySettlements(ctx)
	require.NoError(t, err)
	require.Zero(t, settled)
	require.EqualValues(t, 500, h.balance(t, "c1"))
}

func TestCompleteDuringLedgerOutagePaysDriverLater(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, DefaultConfig(), fare.DefaultConfig())
	flaky := &flakyLedger{Service: h.ledger}
	h.useLedger(flaky)
	h.customer(t, "c1", 500)
	h.driver(t, "d1", near(park.Coord))

	ride, err := h.svc.RequestRide(ctx, request("c1"))
	require.NoError(t, err)
	_, err = h.svc.StartTrip(ctx, ride.ID, "d1")
	require.NoError(t, err)

	flaky.setDown(true)
	done, st, err := h.svc.CompleteTrip(ctx, ride.ID, "d1")
	require.NoError(t, err)
	require.Equal(t, models.RideCompleted, done.Status)
	require.EqualValues(t, 100, st.DriverEarning)
	require.Nil(t, st.Entry)
	require.NotNil(t, done.PendingCredit)
	require.Equal(t, "d1", done.PendingCredit.AccountID)
	require.Zero(t, h.balance(t, "d1"))

	d, err := h.store.GetAccount(ctx, "d1")
	require.NoError(t, err)
	require.Equal(t, models.DriverOnline, d.DriverStatus)
	require.Equal(t, 1, d.TotalRidesCompleted)

	flaky.setDown(false)
	settled, err := h.svc.RetrySettlements(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, settled)
	require.EqualValues(t, 100, h.balance(t, "d1"))
}

func TestSettlementIsNotPostedTwice(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, DefaultConfig(), fare.DefaultConfig())
	h.customer(t, "c1", 500)
	h.driver(t, "d1", near(park.Coord))

	done := completedRide(t, h, "c1", "d1")
	require.EqualValues(t, 100, h.balance(t, "d1"))

	// the credit was posted but clearing the marker was lost
	_, err := h.store.UpdateRide(ctx, done.ID, func(r *models.Ride) error {
		r.PendingCredit = &models.PendingCredit{AccountID: "d1", Amount: 100, Type: models.EntryRideEarning}
		return nil
	})
	require.NoError(t, err)

	settled, err := h.svc.RetrySettlements(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, settled)
	require.EqualValues(t, 100, h.balance(t, "d1"))

	stored, err := h.store.GetRide(ctx, done.ID)
	require.NoError(t, err)
	require.Nil(t, stored.PendingCredit)
}
