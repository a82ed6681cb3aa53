package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ServerConfig captures all tunable parameters for the HTTP API process.
// Values come from environment variables (optionally seeded from .env) with
// defaults that let the binary run locally against in-memory stores.
type ServerConfig struct {
	Env string

	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string

	KafkaBrokers       []string
	KafkaLocationTopic string
	KafkaEventsTopic   string

	PGDSN         string
	RunMigrations bool

	JWTSecret string
	JWTTTL    time.Duration

	// AdminEmail seeds an admin account at startup; its token is written
	// to AdminTokenFile when that is set.
	AdminEmail     string
	AdminTokenFile string

	CORSAllowedOrigins []string
	NotifyWebhookURL   string

	Fares    FareConfig
	Dispatch DispatchConfig

	LogLevel string
}

type FareConfig struct {
	BaseFare        float64
	PerKmRate       float64
	MinimumFare     float64
	AverageSpeedKmh float64
}

type DispatchConfig struct {
	PlatformFeePercent   float64
	CancelRefundPercent  float64
	SearchRadiusMeters   float64
	AvailabilityTTL      time.Duration
	MatchPolicy          string
	UnmatchedRideTimeout time.Duration
	ScheduleLeadTime     time.Duration
	MatcherInterval      time.Duration
}

// ConsumerConfig is the location-ingest process.
type ConsumerConfig struct {
	MetricsAddr string

	KafkaBrokers       []string
	KafkaLocationTopic string
	KafkaEventsTopic   string
	KafkaGroup         string

	RedisAddr       string
	RedisPassword   string
	RedisGeoKey     string
	AvailabilityTTL time.Duration

	PGDSN string

	UpdateAttempts int
	RetryDelay     time.Duration

	LogLevel string
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		Env:                "dev",
		HTTPAddr:           ":8080",
		ReadTimeout:        5 * time.Second,
		WriteTimeout:       10 * time.Second,
		IdleTimeout:        120 * time.Second,
		ShutdownTimeout:    15 * time.Second,
		RedisGeoKey:        "drivers_geo",
		KafkaLocationTopic: "driver-locations",
		KafkaEventsTopic:   "ride-events",
		JWTTTL:             24 * time.Hour,
		CORSAllowedOrigins: []string{"*"},
		Fares: FareConfig{
			BaseFare:        50,
			PerKmRate:       15,
			MinimumFare:     50,
			AverageSpeedKmh: 40,
		},
		Dispatch: DispatchConfig{
			PlatformFeePercent:   15,
			CancelRefundPercent:  60,
			SearchRadiusMeters:   5000,
			AvailabilityTTL:      5 * time.Minute,
			MatchPolicy:          "auto",
			UnmatchedRideTimeout: 10 * time.Minute,
			ScheduleLeadTime:     15 * time.Minute,
			MatcherInterval:      30 * time.Second,
		},
		LogLevel: "info",
	}
}

func defaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		MetricsAddr:        ":2112",
		KafkaBrokers:       []string{"localhost:9092"},
		KafkaLocationTopic: "driver-locations",
		KafkaEventsTopic:   "ride-events",
		KafkaGroup:         "ridehail-consumer",
		RedisAddr:          "localhost:6379",
		RedisGeoKey:        "drivers_geo",
		AvailabilityTTL:    5 * time.Minute,
		UpdateAttempts:     3,
		RetryDelay:         200 * time.Millisecond,
		LogLevel:           "info",
	}
}

// LoadDotEnv reads .env into the environment when the file exists. Variables
// already set win.
func LoadDotEnv() error {
	if _, err := os.Stat(".env"); err != nil {
		return nil
	}
	return godotenv.Load()
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.Env, "APP_ENV")

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaLocationTopic, "KAFKA_LOCATION_TOPIC")
	setStringFromEnv(&cfg.KafkaEventsTopic, "KAFKA_EVENTS_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")
	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	setDurationFromEnv(&cfg.JWTTTL, "JWT_TTL", &errs)
	cfg.AdminEmail = strings.TrimSpace(os.Getenv("ADMIN_EMAIL"))
	cfg.AdminTokenFile = strings.TrimSpace(os.Getenv("ADMIN_TOKEN_FILE"))

	if origins := os.Getenv("CORS_ALLOWED_ORIGINS"); origins != "" {
		cfg.CORSAllowedOrigins = splitAndTrim(origins)
	}
	cfg.NotifyWebhookURL = strings.TrimSpace(os.Getenv("NOTIFY_WEBHOOK_URL"))

	setFloatFromEnv(&cfg.Fares.BaseFare, "FARE_BASE", &errs)
	setFloatFromEnv(&cfg.Fares.PerKmRate, "FARE_PER_KM", &errs)
	setFloatFromEnv(&cfg.Fares.MinimumFare, "FARE_MINIMUM", &errs)
	setFloatFromEnv(&cfg.Fares.AverageSpeedKmh, "AVERAGE_SPEED_KMH", &errs)

	d := &cfg.Dispatch
	setFloatFromEnv(&d.PlatformFeePercent, "PLATFORM_FEE_PERCENT", &errs)
	setFloatFromEnv(&d.CancelRefundPercent, "CANCEL_REFUND_PERCENT", &errs)
	setFloatFromEnv(&d.SearchRadiusMeters, "DRIVER_SEARCH_RADIUS_METERS", &errs)
	setDurationFromEnv(&d.AvailabilityTTL, "DRIVER_AVAILABILITY_TTL", &errs)
	if v := os.Getenv("MATCH_POLICY"); v != "" {
		d.MatchPolicy = strings.ToLower(strings.TrimSpace(v))
	}
	setDurationFromEnv(&d.UnmatchedRideTimeout, "UNMATCHED_RIDE_TIMEOUT", &errs)
	setDurationFromEnv(&d.ScheduleLeadTime, "SCHEDULE_LEAD_TIME", &errs)
	setDurationFromEnv(&d.MatcherInterval, "MATCHER_INTERVAL", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	errs = append(errs, cfg.validate()...)
	return cfg, errors.Join(errs...)
}

func (c *ServerConfig) validate() []error {
	var errs []error
	f := c.Fares
	if f.BaseFare < 0 || f.PerKmRate < 0 || f.MinimumFare < 0 {
		errs = append(errs, fmt.Errorf("fares must not be negative"))
	}
	if f.AverageSpeedKmh <= 0 {
		errs = append(errs, fmt.Errorf("AVERAGE_SPEED_KMH must be > 0"))
	}
	d := c.Dispatch
	if d.PlatformFeePercent < 0 || d.PlatformFeePercent > 100 {
		errs = append(errs, fmt.Errorf("PLATFORM_FEE_PERCENT must be within [0,100]"))
	}
	if d.CancelRefundPercent < 0 || d.CancelRefundPercent > 100 {
		errs = append(errs, fmt.Errorf("CANCEL_REFUND_PERCENT must be within [0,100]"))
	}
	if d.SearchRadiusMeters <= 0 {
		errs = append(errs, fmt.Errorf("DRIVER_SEARCH_RADIUS_METERS must be > 0"))
	}
	if d.AvailabilityTTL <= 0 {
		errs = append(errs, fmt.Errorf("DRIVER_AVAILABILITY_TTL must be > 0"))
	}
	if d.MatchPolicy != "auto" && d.MatchPolicy != "offer" {
		errs = append(errs, fmt.Errorf("MATCH_POLICY must be auto or offer, got %q", d.MatchPolicy))
	}
	if c.JWTSecret == "" {
		if c.Env != "dev" {
			errs = append(errs, fmt.Errorf("JWT_SECRET is required when APP_ENV=%s", c.Env))
		} else {
			c.JWTSecret = "dev-secret"
		}
	}
	return errs
}

func LoadConsumerConfig() (ConsumerConfig, error) {
	cfg := defaultConsumerConfig()
	var errs []error

	setStringFromEnv(&cfg.MetricsAddr, "METRICS_ADDR")
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaLocationTopic, "KAFKA_LOCATION_TOPIC")
	setStringFromEnv(&cfg.KafkaEventsTopic, "KAFKA_EVENTS_TOPIC")
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")

	setStringFromEnv(&cfg.RedisAddr, "REDIS_ADDR")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")
	setDurationFromEnv(&cfg.AvailabilityTTL, "DRIVER_AVAILABILITY_TTL", &errs)

	cfg.PGDSN = os.Getenv("PG_DSN")

	setIntFromEnv(&cfg.UpdateAttempts, "CONSUMER_UPDATE_ATTEMPTS", &errs)
	setDurationFromEnv(&cfg.RetryDelay, "CONSUMER_RETRY_DELAY", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if len(cfg.KafkaBrokers) == 0 {
		errs = append(errs, fmt.Errorf("KAFKA_BROKERS must list at least one broker"))
	}
	if cfg.UpdateAttempts <= 0 {
		errs = append(errs, fmt.Errorf("CONSUMER_UPDATE_ATTEMPTS must be > 0"))
	}
	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
