package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/example/ridehail/internal/apperr"
	"github.com/example/ridehail/internal/config"
	"github.com/example/ridehail/internal/geo"
	"github.com/example/ridehail/internal/ingest"
	"github.com/example/ridehail/internal/logging"
	"github.com/example/ridehail/internal/models"
	"github.com/example/ridehail/internal/storage"
)

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_consumed_total",
		Help: "Total driver location messages consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_invalid_total",
		Help: "Total invalid messages received",
	})
	positionUpdates = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_position_updates_total",
		Help: "Total driver positions applied to the geo index",
	})
	positionErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_position_errors_total",
		Help: "Total driver positions that could not be applied",
	})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, positionUpdates, positionErrors)
}

func main() {
	dotenvErr := config.LoadDotEnv()
	cfg, err := config.LoadConsumerConfig()
	logger := logging.NewLogger(cfg.LogLevel, "ridehail-consumer")
	if dotenvErr != nil {
		logger.Warn("could not read .env", "error", dotenvErr)
	}
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	geoSvc := &geo.Service{
		Index:  geo.NewRedisIndex(rc, cfg.RedisGeoKey, cfg.AvailabilityTTL),
		TTL:    cfg.AvailabilityTTL,
		Logger: logger,
	}

	events := ingest.NewEventProducer(cfg.KafkaBrokers, cfg.KafkaEventsTopic)
	geoSvc.Sink = events
	if cfg.PGDSN != "" {
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			logger.Error("open postgres", "error", err)
			os.Exit(1)
		}
		defer ps.Close()
		geoSvc.Rides = ps
	} else {
		logger.Warn("PG_DSN not set; driver_location events are disabled")
	}

	go serveHealth(cfg.MetricsAddr, rc, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.KafkaBrokers,
		Topic:    cfg.KafkaLocationTopic,
		GroupID:  cfg.KafkaGroup,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})
	defer func() {
		_ = r.Close()
		_ = events.Close()
		_ = rc.Close()
	}()

	logger.Info("consumer listening", "topic", cfg.KafkaLocationTopic, "brokers", cfg.KafkaBrokers, "group", cfg.KafkaGroup)
	consume(ctx, r, geoSvc, cfg, logger)
}

// serveHealth exposes /metrics, /healthz and /ready (which pings Redis).
func serveHealth(addr string, rc *redis.Client, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := rc.Ping(r.Context()).Err(); err != nil {
			http.Error(w, "redis not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	logger.Info("metrics/health listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server stopped", "error", err)
	}
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

func consume(ctx context.Context, r messageReader, updater PositionUpdater, cfg config.ConsumerConfig, logger *slog.Logger) {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("shutting down consumer")
				return
			}
			logger.Warn("kafka read error", "error", err, "backoff", backoff)
			if !sleep(ctx, backoff) {
				return
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second
		msgsConsumed.Inc()

		var u models.LocationUpdate
		if err := json.Unmarshal(m.Value, &u); err != nil || u.DriverID == "" {
			msgsInvalid.Inc()
			logger.Warn("invalid location message", "offset", m.Offset, "error", err)
			continue
		}

		if err := applyWithRetry(ctx, updater, u, cfg.UpdateAttempts, cfg.RetryDelay); err != nil {
			positionErrors.Inc()
			logger.Error("position update failed", "driver_id", u.DriverID, "error", err)
			continue
		}
		positionUpdates.Inc()
	}
}

// PositionUpdater is the part of geo.Service the consumer drives.
type PositionUpdater interface {
	UpdatePosition(ctx context.Context, driverID string, pos models.Coord) error
}

// applyWithRetry retries transient failures with doubling delay. Bad
// coordinates are not retried.
func applyWithRetry(ctx context.Context, up PositionUpdater, u models.LocationUpdate, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		err = up.UpdatePosition(ctx, u.DriverID, u.Position)
		if err == nil {
			return nil
		}
		if errors.Is(err, apperr.ErrInvalidCoordinate) {
			return err
		}
		if i == attempts-1 || !sleep(ctx, delay) {
			break
		}
		delay *= 2
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
