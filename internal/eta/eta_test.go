package eta

import (
	"math"
	"testing"

	"github.com/example/ridehail/internal/models"
)

func TestMinutes(t *testing.T) {
	if got := Minutes(4.5, 40); got != 7 {
		t.Fatalf("Minutes(4.5, 40) = %d, want 7", got)
	}
	if got := Minutes(20, 0); got != 30 {
		t.Fatalf("zero speed should fall back to default, got %d", got)
	}
}

func TestEstimateSeconds(t *testing.T) {
	from := models.Coord{Lat: 0, Lng: 0}
	to := models.Coord{Lat: 0, Lng: 0.01}
	got := EstimateSeconds(from, to, 10)
	// ~1112m at 10 m/s
	if math.Abs(got-111.2) > 1 {
		t.Fatalf("EstimateSeconds = %.1f", got)
	}
	if EstimateSeconds(from, from, 0) != 0 {
		t.Fatalf("same point should be zero")
	}
}
