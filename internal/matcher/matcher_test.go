package matcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/example/ridehail/internal/geo"
	"github.com/example/ridehail/internal/models"
	"github.com/example/ridehail/internal/storage"
)

var pickup = models.Coord{Lat: 22.5448, Lng: 88.3426}

func setup(t *testing.T, drivers map[string]models.Coord) (*Service, *storage.MemoryStore) {
	t.Helper()
	ctx := context.Background()
	store := storage.NewMemoryStore()
	g := &geo.Service{Index: geo.NewMemoryIndex(), TTL: 5 * time.Minute}
	for id, pos := range drivers {
		a := &models.Account{ID: id, Email: id + "@example.test", Roles: models.Roles{Driver: true}, DriverStatus: models.DriverOnline}
		if err := store.CreateAccount(ctx, a); err != nil {
			t.Fatal(err)
		}
		if err := g.SetOnline(ctx, geo.Driver{ID: id}, pos); err != nil {
			t.Fatal(err)
		}
	}
	return &Service{Geo: g, Accounts: store, RadiusMeters: 5000, DefaultSpeedMps: 10}, store
}

func TestClaimPicksNearestAndFlipsStatus(t *testing.T) {
	s, store := setup(t, map[string]models.Coord{
		"A": {Lat: pickup.Lat + 0.01, Lng: pickup.Lng},
		"B": {Lat: pickup.Lat + 0.001, Lng: pickup.Lng},
	})
	offer, ok, err := s.Claim(context.Background(), pickup)
	if err != nil || !ok {
		t.Fatalf("no match: ok=%v err=%v", ok, err)
	}
	if offer.DriverID != "B" {
		t.Fatalf("expected B, got %s", offer.DriverID)
	}
	if offer.ETASeconds <= 0 {
		t.Fatalf("expected positive eta, got %f", offer.ETASeconds)
	}
	b, _ := store.GetAccount(context.Background(), "B")
	if b.DriverStatus != models.DriverOnRide {
		t.Fatalf("B status = %s", b.DriverStatus)
	}

	// B is now on a ride and must be excluded
	offer, ok, _ = s.Claim(context.Background(), pickup)
	if !ok || offer.DriverID != "A" {
		t.Fatalf("expected A next, got %+v ok=%v", offer, ok)
	}
	_, ok, _ = s.Claim(context.Background(), pickup)
	if ok {
		t.Fatal("expected no driver left")
	}

	if err := s.Release(context.Background(), "B"); err != nil {
		t.Fatal(err)
	}
	offer, ok, _ = s.Claim(context.Background(), pickup, "B")
	if ok {
		t.Fatalf("skip ignored: %+v", offer)
	}
}

func TestConcurrentClaimsNeverShareADriver(t *testing.T) {
	s, _ := setup(t, map[string]models.Coord{"only": pickup})
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok, err := s.Claim(context.Background(), pickup); err == nil && ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one claim, got %d", wins)
	}
}
