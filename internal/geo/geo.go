package geo

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/example/ridehail/internal/models"
)

// Index stores availability records. Staleness and ordering are applied by Service.
type Index interface {
	Upsert(ctx context.Context, rec models.DriverAvailability) error
	Get(ctx context.Context, driverID string) (models.DriverAvailability, bool, error)
	Within(ctx context.Context, p models.Coord, radiusMeters float64) ([]Candidate, error)
}

// Candidate is an index record with its distance from the query point.
type Candidate struct {
	models.DriverAvailability
	DistanceMeters float64 `json:"distance_meters"`
}

// MemoryIndex is a process-local Index.
type MemoryIndex struct {
	mu      sync.RWMutex
	drivers map[string]models.DriverAvailability
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{drivers: make(map[string]models.DriverAvailability)}
}

func (g *MemoryIndex) Upsert(_ context.Context, rec models.DriverAvailability) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.drivers[rec.DriverID] = rec
	return nil
}

func (g *MemoryIndex) Get(_ context.Context, driverID string) (models.DriverAvailability, bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	rec, ok := g.drivers[driverID]
	return rec, ok, nil
}

// naive scan; fine for a single process
func (g *MemoryIndex) Within(_ context.Context, p models.Coord, radiusMeters float64) ([]Candidate, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Candidate, 0, len(g.drivers))
	for _, rec := range g.drivers {
		dist := Haversine(p.Lat, p.Lng, rec.Position.Lat, rec.Position.Lng)
		if dist > radiusMeters {
			continue
		}
		out = append(out, Candidate{DriverAvailability: rec, DistanceMeters: dist})
	}
	return out, nil
}

// Haversine distance in meters
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}

// ValidCoord reports whether lat is in [-90,90] and lng in [-180,180].
func ValidCoord(c models.Coord) bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180 &&
		!math.IsNaN(c.Lat) && !math.IsNaN(c.Lng)
}

func stale(rec models.DriverAvailability, now time.Time, ttl time.Duration) bool {
	return ttl > 0 && now.Sub(rec.UpdatedAt) > ttl
}
