package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/example/ridehail/internal/accounts"
	"github.com/example/ridehail/internal/apperr"
	"github.com/example/ridehail/internal/auth"
	"github.com/example/ridehail/internal/config"
	"github.com/example/ridehail/internal/dispatch"
	"github.com/example/ridehail/internal/drivers"
	"github.com/example/ridehail/internal/fare"
	"github.com/example/ridehail/internal/geo"
	httpapi "github.com/example/ridehail/internal/http"
	"github.com/example/ridehail/internal/ingest"
	"github.com/example/ridehail/internal/ledger"
	"github.com/example/ridehail/internal/logging"
	"github.com/example/ridehail/internal/matcher"
	"github.com/example/ridehail/internal/models"
	"github.com/example/ridehail/internal/rides"
	"github.com/example/ridehail/internal/storage"
)

func main() {
	dotenvErr := config.LoadDotEnv()
	cfg, err := config.LoadServerConfig()
	logger := logging.NewLogger(cfg.LogLevel, "ridehail-api")
	slog.SetDefault(logger)
	if dotenvErr != nil {
		logger.Warn("could not read .env", "error", dotenvErr)
	}
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) error {
	var closers []func() error
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				logger.Warn("close failed", "error", err)
			}
		}
	}()
	var readiness []func(context.Context) error

	var store storage.Store
	if cfg.PGDSN != "" {
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		closers = append(closers, ps.Close)
		readiness = append(readiness, ps.Ping)
		if cfg.RunMigrations {
			applied, err := ps.Migrate(ctx)
			if err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			logger.Info("migrations applied", "files", applied)
		}
		store = ps
	} else {
		logger.Warn("PG_DSN not set; using in-memory store")
		store = storage.NewMemoryStore()
	}

	var index geo.Index
	if cfg.RedisAddr != "" {
		rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		closers = append(closers, rc.Close)
		ri := geo.NewRedisIndex(rc, cfg.RedisGeoKey, cfg.Dispatch.AvailabilityTTL)
		readiness = append(readiness, ri.Ping)
		index = ri
	} else {
		logger.Warn("REDIS_ADDR not set; using in-memory geo index")
		index = geo.NewMemoryIndex()
	}

	ws := dispatch.NewWSRegistry(logger)
	sinks := []dispatch.Sink{ws}
	if cfg.NotifyWebhookURL != "" {
		sinks = append(sinks, dispatch.NewWebhookSink(cfg.NotifyWebhookURL))
	}
	var locations httpapi.LocationPublisher
	if len(cfg.KafkaBrokers) > 0 {
		events := ingest.NewEventProducer(cfg.KafkaBrokers, cfg.KafkaEventsTopic)
		closers = append(closers, events.Close)
		sinks = append(sinks, events)
		if cfg.RedisAddr != "" {
			lp := ingest.NewLocationPublisher(cfg.KafkaBrokers, cfg.KafkaLocationTopic)
			closers = append(closers, lp.Close)
			locations = lp
		} else {
			logger.Warn("REDIS_ADDR not set; driver locations are applied in-process, not published")
		}
	}
	sink := dispatch.NewFanout(logger, sinks...)

	ledgerSvc := ledger.NewService(store, logger)
	geoSvc := &geo.Service{
		Index:  index,
		Rides:  store,
		Sink:   sink,
		TTL:    cfg.Dispatch.AvailabilityTTL,
		Logger: logger,
	}
	m := &matcher.Service{
		Geo:             geoSvc,
		Accounts:        store,
		RadiusMeters:    cfg.Dispatch.SearchRadiusMeters,
		DefaultSpeedMps: cfg.Fares.AverageSpeedKmh / 3.6,
	}
	fares := fare.NewEngine(fare.Config{
		BaseFare:        cfg.Fares.BaseFare,
		PerKmRate:       cfg.Fares.PerKmRate,
		MinimumFare:     cfg.Fares.MinimumFare,
		AverageSpeedKmh: cfg.Fares.AverageSpeedKmh,
	})
	rideSvc := rides.NewService(store, ledgerSvc, fares, m, sink, rides.Config{
		PlatformFeePercent:  cfg.Dispatch.PlatformFeePercent,
		CancelRefundPercent: cfg.Dispatch.CancelRefundPercent,
		Policy:              rides.Policy(cfg.Dispatch.MatchPolicy),
		UnmatchedTimeout:    cfg.Dispatch.UnmatchedRideTimeout,
		ScheduleLeadTime:    cfg.Dispatch.ScheduleLeadTime,
	}, logger)

	accountSvc := accounts.NewService(store, ledgerSvc, logger)
	jwt := auth.NewJWT(cfg.JWTSecret, cfg.JWTTTL)
	if cfg.AdminEmail != "" {
		if err := seedAdmin(ctx, accountSvc, jwt, cfg, logger); err != nil {
			return err
		}
	}

	api := httpapi.NewServer(httpapi.Deps{
		Rides:     rideSvc,
		Drivers:   drivers.NewService(store, geoSvc, rideSvc, ledgerSvc, logger),
		Accounts:  accountSvc,
		Ledger:    ledgerSvc,
		Auth:      jwt,
		WS:        ws,
		Locations: locations,
		Ready: func(ctx context.Context) error {
			var errs []error
			for _, check := range readiness {
				errs = append(errs, check(ctx))
			}
			return errors.Join(errs...)
		},
		Origins: cfg.CORSAllowedOrigins,
		Logger:  logger,
	})

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go rideSvc.RunMatcher(ctx, cfg.Dispatch.MatcherInterval)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("ridehail api listening", "addr", cfg.HTTPAddr, "policy", cfg.Dispatch.MatchPolicy)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// seedAdmin creates the bootstrap admin. An existing account with the same
// email is left untouched.
func seedAdmin(ctx context.Context, svc *accounts.Service, jwt *auth.JWT, cfg config.ServerConfig, logger *slog.Logger) error {
	a, err := svc.Register(ctx, accounts.NewAccount{
		Name:  "admin",
		Email: cfg.AdminEmail,
		Roles: models.Roles{Admin: true},
	})
	if errors.Is(err, apperr.ErrValidation) {
		logger.Info("admin account not seeded", "email", cfg.AdminEmail, "reason", err)
		return nil
	}
	if err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	logger.Info("admin account seeded", "account_id", a.ID)
	if cfg.AdminTokenFile == "" {
		return nil
	}
	token, err := jwt.Generate(a.ID, "admin")
	if err != nil {
		return fmt.Errorf("admin token: %w", err)
	}
	if err := os.WriteFile(cfg.AdminTokenFile, []byte(token+"\n"), 0o600); err != nil {
		return fmt.Errorf("write admin token: %w", err)
	}
	return nil
}
