package httpapi

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/example/ridehail/internal/accounts"
	"github.com/example/ridehail/internal/auth"
	"github.com/example/ridehail/internal/dispatch"
	"github.com/example/ridehail/internal/drivers"
	"github.com/example/ridehail/internal/ledger"
	"github.com/example/ridehail/internal/models"
	"github.com/example/ridehail/internal/rides"
)

// LocationPublisher forwards driver telemetry to the ingest topic. When set,
// location reports are published only and the consumer applies them.
type LocationPublisher interface {
	PublishLocation(ctx context.Context, u models.LocationUpdate) error
}

// Deps wires the services into the router. Locations and Ready may be nil.
type Deps struct {
	Rides     *rides.Service
	Drivers   *drivers.Service
	Accounts  *accounts.Service
	Ledger    *ledger.Service
	Auth      *auth.JWT
	WS        *dispatch.WSRegistry
	Locations LocationPublisher
	Ready     func(context.Context) error
	Origins   []string
	Logger    *slog.Logger
}

type Server struct {
	rides     *rides.Service
	drivers   *drivers.Service
	accounts  *accounts.Service
	ledger    *ledger.Service
	auth      *auth.JWT
	ws        *dispatch.WSRegistry
	locations LocationPublisher
	ready     func(context.Context) error

	logger   *slog.Logger
	mux      *mux.Router
	handler  http.Handler
	upgrader websocket.Upgrader
}

func NewServer(d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	origins := d.Origins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s := &Server{
		rides:     d.Rides,
		drivers:   d.Drivers,
		accounts:  d.Accounts,
		ledger:    d.Ledger,
		auth:      d.Auth,
		ws:        d.WS,
		locations: d.Locations,
		ready:     d.Ready,
		logger:    logger.With("component", "http"),
		mux:       mux.NewRouter(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	s.registerMiddleware()
	s.routes()

	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-Request-ID"},
	})
	s.handler = c.Handler(s.mux)
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.mux.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws", s.handleWS).Methods(http.MethodGet)

	// public
	s.mux.HandleFunc("/api/v1/rides/estimate", s.handleEstimate).Methods(http.MethodGet)
	s.mux.HandleFunc("/api/v1/accounts", s.handleRegister).Methods(http.MethodPost)

	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.Use(s.authMiddleware)

	api.HandleFunc("/me", s.handleMe).Methods(http.MethodGet)

	api.HandleFunc("/rides", s.handleRequestRide).Methods(http.MethodPost)
	api.HandleFunc("/rides", s.handleHistory).Methods(http.MethodGet)
	api.HandleFunc("/rides/history", s.handleClearHistory).Methods(http.MethodDelete)
	api.HandleFunc("/rides/{id}", s.handleGetRide).Methods(http.MethodGet)
	api.HandleFunc("/rides/{id}/cancel", s.handleCancel).Methods(http.MethodPost)
	api.HandleFunc("/rides/{id}/rate", s.handleRate).Methods(http.MethodPost)

	api.HandleFunc("/driver/apply", s.handleApplyDriver).Methods(http.MethodPost)
	api.HandleFunc("/admin/drivers/{id}/approve", s.handleApproveDriver).Methods(http.MethodPost)

	api.HandleFunc("/driver/online", s.handleGoOnline).Methods(http.MethodPost)
	api.HandleFunc("/driver/offline", s.handleGoOffline).Methods(http.MethodPost)
	api.HandleFunc("/driver/location", s.handleDriverLocation).Methods(http.MethodPost)
	api.HandleFunc("/driver/rides/active", s.handleActiveRide).Methods(http.MethodGet)
	api.HandleFunc("/driver/earnings", s.handleEarnings).Methods(http.MethodGet)
	api.HandleFunc("/driver/rides/{id}/accept", s.handleAccept).Methods(http.MethodPost)
	api.HandleFunc("/driver/rides/{id}/reject", s.handleReject).Methods(http.MethodPost)
	api.HandleFunc("/driver/rides/{id}/start", s.handleStart).Methods(http.MethodPost)
	api.HandleFunc("/driver/rides/{id}/complete", s.handleComplete).Methods(http.MethodPost)

	api.HandleFunc("/wallet", s.handleBalance).Methods(http.MethodGet)
	api.HandleFunc("/wallet/add", s.handleTopUp).Methods(http.MethodPost)
	api.HandleFunc("/wallet/transactions", s.handleTransactions).Methods(http.MethodGet)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.handler.ServeHTTP(w, r) }

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			s.logger.Warn("readiness check failed", "error", err)
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// handleWS subscribes the token's account to its events. The token is read
// from ?token= first, then from the Authorization header.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = r.Header.Get("Authorization")
	}
	claims, err := s.auth.Validate(token)
	if err != nil {
		writeUnauthenticated(w)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	s.ws.Serve(claims.Actor(), conn)
}
