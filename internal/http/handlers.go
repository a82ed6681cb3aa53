package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/example/ridehail/internal/accounts"
	"github.com/example/ridehail/internal/models"
	"github.com/example/ridehail/internal/rides"
)

type rideRequestBody struct {
	Pickup        models.Location    `json:"pickup"`
	Dropoff       models.Location    `json:"dropoff"`
	VehicleType   models.VehicleType `json:"vehicle_type"`
	ScheduledTime *time.Time         `json:"scheduled_time,omitempty"`
}

type cancelBody struct {
	DriverLate bool   `json:"driver_late"`
	Reason     string `json:"reason"`
}

type rateBody struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

type driverApplicationBody struct {
	Vehicle models.VehicleInfo `json:"vehicle_info"`
}

// handleRegister is public sign-up. Any roles or balance in the body are
// ignored; the account is always a plain customer.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in accounts.Signup
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	a, err := s.accounts.SignUp(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	token, err := s.auth.Generate(a.ID, "customer")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"account": a, "token": token})
}

func (s *Server) handleApplyDriver(w http.ResponseWriter, r *http.Request) {
	var body driverApplicationBody
	if err := decode(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	a, err := s.accounts.ApplyDriver(r.Context(), actor(r), body.Vehicle)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, a)
}

func (s *Server) handleApproveDriver(w http.ResponseWriter, r *http.Request) {
	a, err := s.accounts.ApproveDriver(r.Context(), actor(r), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	a, err := s.accounts.Get(r.Context(), actor(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleEstimate(w http.ResponseWriter, r *http.Request) {
	var coords [4]float64
	for i, key := range []string{"pickup_lat", "pickup_lng", "dropoff_lat", "dropoff_lng"} {
		v, err := queryFloat(r, key)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		coords[i] = v
	}
	q, err := s.rides.Estimate(
		r.Context(),
		models.Coord{Lat: coords[0], Lng: coords[1]},
		models.Coord{Lat: coords[2], Lng: coords[3]},
		models.VehicleType(r.URL.Query().Get("vehicle_type")),
	)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (s *Server) handleRequestRide(w http.ResponseWriter, r *http.Request) {
	var body rideRequestBody
	if err := decode(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	ride, err := s.rides.RequestRide(r.Context(), rides.RideRequest{
		CustomerID:    actor(r),
		Pickup:        body.Pickup,
		Dropoff:       body.Dropoff,
		VehicleType:   body.VehicleType,
		ScheduledTime: body.ScheduledTime,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ride)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rs, err := s.rides.History(r.Context(), actor(r), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if rs == nil {
		rs = []*models.Ride{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"rides": rs})
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	n, err := s.rides.ClearHistory(r.Context(), actor(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": n})
}

func (s *Server) handleGetRide(w http.ResponseWriter, r *http.Request) {
	ride, err := s.rides.Get(r.Context(), mux.Vars(r)["id"], actor(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var body cancelBody
	if err := decode(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	ride, refund, err := s.rides.CancelRide(r.Context(), mux.Vars(r)["id"], actor(r), body.DriverLate, body.Reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ride": ride, "refund": refund})
}

func (s *Server) handleRate(w http.ResponseWriter, r *http.Request) {
	var body rateBody
	if err := decode(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	ride, err := s.rides.RateRide(r.Context(), mux.Vars(r)["id"], actor(r), body.Rating, body.Comment)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

// driver

func (s *Server) handleGoOnline(w http.ResponseWriter, r *http.Request) {
	var pos models.Coord
	if err := decode(r, &pos); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.drivers.GoOnline(r.Context(), actor(r), pos); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGoOffline(w http.ResponseWriter, r *http.Request) {
	if err := s.drivers.GoOffline(r.Context(), actor(r)); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDriverLocation(w http.ResponseWriter, r *http.Request) {
	var pos models.Coord
	if err := decode(r, &pos); err != nil {
		s.writeError(w, r, err)
		return
	}
	driverID := actor(r)
	if s.locations != nil {
		// The consumer applies published reports; applying here as well
		// would move the driver twice.
		if err := s.drivers.CheckLocation(r.Context(), driverID, pos); err != nil {
			s.writeError(w, r, err)
			return
		}
		u := models.LocationUpdate{DriverID: driverID, Position: pos, At: time.Now().UTC()}
		err := s.locations.PublishLocation(r.Context(), u)
		if err == nil {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		s.logger.Warn("location publish failed; applying locally", "driver_id", driverID, "error", err)
	}
	if err := s.drivers.UpdateLocation(r.Context(), driverID, pos); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleActiveRide(w http.ResponseWriter, r *http.Request) {
	ride, err := s.drivers.ActiveRide(r.Context(), actor(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ride": ride})
}

func (s *Server) handleEarnings(w http.ResponseWriter, r *http.Request) {
	e, err := s.drivers.Earnings(r.Context(), actor(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	ride, err := s.rides.AcceptRide(r.Context(), mux.Vars(r)["id"], actor(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	if err := s.rides.RejectRide(r.Context(), mux.Vars(r)["id"], actor(r)); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	ride, err := s.rides.StartTrip(r.Context(), mux.Vars(r)["id"], actor(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	ride, st, err := s.rides.CompleteTrip(r.Context(), mux.Vars(r)["id"], actor(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ride": ride, "settlement": st})
}

// wallet

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	bal, err := s.ledger.Balance(r.Context(), actor(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"balance": bal})
}

func (s *Server) handleTopUp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Amount int64 `json:"amount"`
	}
	if err := decode(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	e, err := s.ledger.TopUp(r.Context(), actor(r), body.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"balance": e.BalanceAfter, "entry": e})
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	entries, err := s.ledger.History(r.Context(), actor(r), limit, offset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []models.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": entries})
}
