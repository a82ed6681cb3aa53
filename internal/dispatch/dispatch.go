package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/example/ridehail/internal/models"
)

// Sink receives lifecycle events addressed to specific accounts.
type Sink interface {
	Publish(ctx context.Context, ev models.Event) error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, models.Event) error { return nil }

// Fanout publishes to every sink and joins the failures.
type Fanout struct {
	Sinks  []Sink
	Logger *slog.Logger
}

func NewFanout(logger *slog.Logger, sinks ...Sink) *Fanout {
	return &Fanout{Sinks: sinks, Logger: logger}
}

func (f *Fanout) Publish(ctx context.Context, ev models.Event) error {
	var errs []error
	for _, s := range f.Sinks {
		if s == nil {
			continue
		}
		if err := s.Publish(ctx, ev); err != nil {
			if errors.Is(err, ErrNoSession) {
				continue
			}
			if f.Logger != nil {
				f.Logger.Warn("event publish failed", "event", ev.Name, "ride_id", ev.RideID, "error", err)
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []models.Event
}

func (r *Recorder) Publish(_ context.Context, ev models.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *Recorder) Events() []models.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Event, len(r.events))
	copy(out, r.events)
	return out
}

// Named returns the recorded events with the given name, in order.
func (r *Recorder) Named(name models.EventName) []models.Event {
	var out []models.Event
	for _, ev := range r.Events() {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}
