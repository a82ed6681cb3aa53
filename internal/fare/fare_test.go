package fare

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/example/ridehail/internal/apperr"
	"github.com/example/ridehail/internal/models"
)

var (
	pickup  = models.Coord{Lat: 22.5448, Lng: 88.3426}
	dropoff = models.Coord{Lat: 22.5851, Lng: 88.3468}
)

func TestKolkataScenario(t *testing.T) {
	e := NewEngine(DefaultConfig())

	km, err := Distance(pickup, dropoff)
	require.NoError(t, err)
	require.Equal(t, 4.5, km)

	fare, err := e.Estimate(km, models.VehicleCar)
	require.NoError(t, err)
	require.EqualValues(t, 118, fare)
}

func TestEstimateAppliesMinimumAndMultiplier(t *testing.T) {
	e := NewEngine(Config{BaseFare: 10, PerKmRate: 5, MinimumFare: 40})

	fare, err := e.Estimate(1, models.VehicleCar)
	require.NoError(t, err)
	require.EqualValues(t, 40, fare, "minimum fare applies before the multiplier")

	fare, err = e.Estimate(1, models.VehicleSpecial)
	require.NoError(t, err)
	require.EqualValues(t, 60, fare)

	fare, err = e.Estimate(4.5, models.VehicleBike)
	require.NoError(t, err)
	require.EqualValues(t, 28, fare)

	_, err = e.Estimate(1, models.VehicleType("rickshaw"))
	require.True(t, errors.Is(err, apperr.ErrValidation))
}

func TestDistanceSymmetricAndZero(t *testing.T) {
	ab, err := Distance(pickup, dropoff)
	require.NoError(t, err)
	ba, err := Distance(dropoff, pickup)
	require.NoError(t, err)
	require.Equal(t, ab, ba)

	aa, err := Distance(pickup, pickup)
	require.NoError(t, err)
	require.Zero(t, aa)
}

func TestDistanceRejectsInvalidCoordinates(t *testing.T) {
	cases := []models.Coord{{Lat: 90.1}, {Lat: -91}, {Lng: 180.5}, {Lng: -181}}
	for _, c := range cases {
		_, err := Distance(c, pickup)
		require.Truef(t, errors.Is(err, apperr.ErrInvalidCoordinate), "coord %+v: %v", c, err)
	}
	_, err := Distance(models.Coord{Lat: 90, Lng: -180}, pickup)
	require.NoError(t, err)
}

func TestQuoteBreakdown(t *testing.T) {
	q, err := NewEngine(DefaultConfig()).Quote(pickup, dropoff, models.VehicleCar)
	require.NoError(t, err)
	require.Equal(t, 4.5, q.DistanceKm)
	require.Equal(t, 7, q.DurationMin)
	require.Equal(t, 67.5, q.DistanceFare)
	require.EqualValues(t, 118, q.Total)
}

func TestPercent(t *testing.T) {
	require.EqualValues(t, 18, Percent(118, 15))
	require.EqualValues(t, 120, Percent(200, 60))
	require.EqualValues(t, 1, Percent(5, 10))
	require.EqualValues(t, 0, Percent(0, 15))
}
