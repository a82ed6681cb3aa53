package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/ridehail/internal/apperr"
	"github.com/example/ridehail/internal/config"
	"github.com/example/ridehail/internal/geo"
	"github.com/example/ridehail/internal/models"
)

// fakeUpdater fails the first failN calls.
type fakeUpdater struct {
	failN int
	err   error
	calls int
}

func (f *fakeUpdater) UpdatePosition(ctx context.Context, driverID string, pos models.Coord) error {
	f.calls++
	if f.calls <= f.failN {
		if f.err != nil {
			return f.err
		}
		return errors.New("redis unavailable")
	}
	return nil
}

var update = models.LocationUpdate{DriverID: "d1", Position: models.Coord{Lat: 1, Lng: 2}}

func TestApplyWithRetry_SucceedsAfterRetries(t *testing.T) {
	f := &fakeUpdater{failN: 2}
	start := time.Now()
	if err := applyWithRetry(context.Background(), f, update, 3, 10*time.Millisecond); err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if f.calls != 3 {
		t.Fatalf("expected 3 calls, got %d", f.calls)
	}
	if time.Since(start) < 30*time.Millisecond {
		t.Fatalf("expected doubling backoff between attempts")
	}
}

func TestApplyWithRetry_FailsWhenExhausted(t *testing.T) {
	f := &fakeUpdater{failN: 5}
	if err := applyWithRetry(context.Background(), f, update, 3, 5*time.Millisecond); err == nil {
		t.Fatalf("expected error after retries")
	}
	if f.calls != 3 {
		t.Fatalf("expected 3 calls, got %d", f.calls)
	}
}

func TestApplyWithRetry_InvalidCoordinateIsNotRetried(t *testing.T) {
	f := &fakeUpdater{failN: 5, err: apperr.InvalidCoordinate(91, 0)}
	if err := applyWithRetry(context.Background(), f, update, 3, time.Millisecond); !errors.Is(err, apperr.ErrInvalidCoordinate) {
		t.Fatalf("expected InvalidCoordinate, got %v", err)
	}
	if f.calls != 1 {
		t.Fatalf("expected a single call, got %d", f.calls)
	}
}

type sliceReader struct {
	msgs   []kafka.Message
	cancel context.CancelFunc
}

func (s *sliceReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if len(s.msgs) == 0 {
		s.cancel()
		return kafka.Message{}, ctx.Err()
	}
	m := s.msgs[0]
	s.msgs = s.msgs[1:]
	return m, nil
}

func TestConsumeAppliesUpdatesToIndex(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g := &geo.Service{Index: geo.NewMemoryIndex(), TTL: time.Minute}
	if err := g.SetOnline(ctx, geo.Driver{ID: "d1"}, models.Coord{Lat: 10, Lng: 10}); err != nil {
		t.Fatal(err)
	}

	good, _ := json.Marshal(models.LocationUpdate{DriverID: "d1", Position: models.Coord{Lat: 10.001, Lng: 10}})
	r := &sliceReader{cancel: cancel, msgs: []kafka.Message{
		{Value: []byte("not json")},
		{Value: good},
	}}
	cfg := config.ConsumerConfig{UpdateAttempts: 1, RetryDelay: time.Millisecond}
	consume(ctx, r, g, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))

	rec, ok, err := g.Lookup(context.Background(), "d1")
	if err != nil || !ok {
		t.Fatalf("lookup: ok=%v err=%v", ok, err)
	}
	if rec.Position.Lat != 10.001 || !rec.Online {
		t.Fatalf("position not applied: %+v", rec)
	}
}
