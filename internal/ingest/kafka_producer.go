// Package ingest writes ride events and driver telemetry to Kafka.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/ridehail/internal/models"
)

const writeTimeout = 2 * time.Second

// MessageWriter is the subset of *kafka.Writer used here.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

func newWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
}

func write(ctx context.Context, w MessageWriter, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return w.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: b})
}

// EventProducer is a dispatch sink that appends every lifecycle event to the
// events topic, keyed by ride id so a ride's events stay ordered.
type EventProducer struct {
	writer MessageWriter
}

func NewEventProducer(brokers []string, topic string) *EventProducer {
	return &EventProducer{writer: newWriter(brokers, topic)}
}

func NewEventProducerWithWriter(w MessageWriter) *EventProducer {
	return &EventProducer{writer: w}
}

func (p *EventProducer) Publish(ctx context.Context, ev models.Event) error {
	key := ev.RideID
	if key == "" {
		key = string(ev.Name)
	}
	return write(ctx, p.writer, key, ev)
}

func (p *EventProducer) Close() error { return p.writer.Close() }

// LocationPublisher feeds the driver-locations topic read by cmd/consumer.
type LocationPublisher struct {
	writer MessageWriter
}

func NewLocationPublisher(brokers []string, topic string) *LocationPublisher {
	return &LocationPublisher{writer: newWriter(brokers, topic)}
}

func NewLocationPublisherWithWriter(w MessageWriter) *LocationPublisher {
	return &LocationPublisher{writer: w}
}

func (p *LocationPublisher) PublishLocation(ctx context.Context, u models.LocationUpdate) error {
	return write(ctx, p.writer, u.DriverID, u)
}

func (p *LocationPublisher) Close() error { return p.writer.Close() }
