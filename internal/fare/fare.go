// Package fare prices rides from straight-line distance and vehicle type.
package fare

import (
	"github.com/shopspring/decimal"

	"github.com/example/ridehail/internal/apperr"
	"github.com/example/ridehail/internal/eta"
	"github.com/example/ridehail/internal/geo"
	"github.com/example/ridehail/internal/models"
)

type Config struct {
	BaseFare        float64
	PerKmRate       float64
	MinimumFare     float64
	Multipliers     map[models.VehicleType]float64
	AverageSpeedKmh float64
}

func DefaultConfig() Config {
	return Config{
		BaseFare:    50,
		PerKmRate:   15,
		MinimumFare: 50,
		Multipliers: map[models.VehicleType]float64{
			models.VehicleBike:    0.7,
			models.VehicleCar:     1.0,
			models.VehicleShuttle: 0.5,
			models.VehicleSpecial: 1.5,
		},
		AverageSpeedKmh: 40,
	}
}

type Engine struct {
	cfg Config
}

func NewEngine(cfg Config) *Engine {
	if cfg.Multipliers == nil {
		cfg.Multipliers = DefaultConfig().Multipliers
	}
	return &Engine{cfg: cfg}
}

// Quote is the fare breakdown shown before a ride is requested.
type Quote struct {
	VehicleType  models.VehicleType `json:"vehicle_type"`
	DistanceKm   float64            `json:"distance_km"`
	DurationMin  int                `json:"duration_min"`
	BaseFare     float64            `json:"base_fare"`
	DistanceFare float64            `json:"distance_fare"`
	MinimumFare  float64            `json:"minimum_fare"`
	Multiplier   float64            `json:"multiplier"`
	Total        int64              `json:"total"`
}

// Multiplier returns the vehicle multiplier or a ValidationError for unknown types.
func (e *Engine) Multiplier(vt models.VehicleType) (float64, error) {
	m, ok := e.cfg.Multipliers[vt]
	if !ok {
		return 0, apperr.Validation("unknown vehicle type %q", vt)
	}
	return m, nil
}

// Estimate computes max(minimumFare, baseFare + km*perKmRate) * multiplier,
// rounded half away from zero.
func (e *Engine) Estimate(distanceKm float64, vt models.VehicleType) (int64, error) {
	if distanceKm < 0 {
		return 0, apperr.Validation("distance must not be negative")
	}
	mult, err := e.Multiplier(vt)
	if err != nil {
		return 0, err
	}
	raw := decimal.NewFromFloat(e.cfg.BaseFare).
		Add(decimal.NewFromFloat(distanceKm).Mul(decimal.NewFromFloat(e.cfg.PerKmRate)))
	fare := decimal.Max(decimal.NewFromFloat(e.cfg.MinimumFare), raw).Mul(decimal.NewFromFloat(mult))
	return fare.Round(0).IntPart(), nil
}

// Quote prices the trip from pickup to dropoff and returns the breakdown.
func (e *Engine) Quote(pickup, dropoff models.Coord, vt models.VehicleType) (Quote, error) {
	km, err := Distance(pickup, dropoff)
	if err != nil {
		return Quote{}, err
	}
	total, err := e.Estimate(km, vt)
	if err != nil {
		return Quote{}, err
	}
	mult, _ := e.Multiplier(vt)
	return Quote{
		VehicleType:  vt,
		DistanceKm:   km,
		DurationMin:  e.DurationMinutes(km),
		BaseFare:     e.cfg.BaseFare,
		DistanceFare: decimal.NewFromFloat(km).Mul(decimal.NewFromFloat(e.cfg.PerKmRate)).Round(2).InexactFloat64(),
		MinimumFare:  e.cfg.MinimumFare,
		Multiplier:   mult,
		Total:        total,
	}, nil
}

func (e *Engine) DurationMinutes(distanceKm float64) int {
	return eta.Minutes(distanceKm, e.cfg.AverageSpeedKmh)
}

// Distance is the great-circle distance in km, rounded to one decimal.
func Distance(a, b models.Coord) (float64, error) {
	if !geo.ValidCoord(a) {
		return 0, apperr.InvalidCoordinate(a.Lat, a.Lng)
	}
	if !geo.ValidCoord(b) {
		return 0, apperr.InvalidCoordinate(b.Lat, b.Lng)
	}
	km := geo.Haversine(a.Lat, a.Lng, b.Lat, b.Lng) / 1000
	return decimal.NewFromFloat(km).Round(1).InexactFloat64(), nil
}

// Percent returns round(amount * pct / 100), half away from zero.
func Percent(amount int64, pct float64) int64 {
	return decimal.NewFromInt(amount).
		Mul(decimal.NewFromFloat(pct)).
		Div(decimal.NewFromInt(100)).
		Round(0).
		IntPart()
}
