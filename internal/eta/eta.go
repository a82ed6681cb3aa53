package eta

import (
	"math"

	"github.com/example/ridehail/internal/geo"
	"github.com/example/ridehail/internal/models"
)

const defaultSpeedKmh = 40.0

// Minutes is the travel time for distanceKm at speedKmh, rounded to whole minutes.
func Minutes(distanceKm, speedKmh float64) int {
	if speedKmh <= 0 {
		speedKmh = defaultSpeedKmh
	}
	return int(math.Round(distanceKm / speedKmh * 60))
}

// Naive ETA: straight-line distance / speed_mps.
func EstimateSeconds(from, to models.Coord, speedMps float64) float64 {
	if speedMps <= 0 {
		speedMps = defaultSpeedKmh / 3.6
	}
	return geo.Haversine(from.Lat, from.Lng, to.Lat, to.Lng) / speedMps
}
