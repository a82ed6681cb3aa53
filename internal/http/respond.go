package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/example/ridehail/internal/apperr"
)

const maxBodyBytes = 1 << 20

type errorDetail struct {
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	Required  *int64 `json:"required,omitempty"`
	Available *int64 `json:"available,omitempty"`
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation, apperr.KindInvalidCoordinate:
		return http.StatusBadRequest
	case apperr.KindUnauthorized:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindInvalidTransition, apperr.KindRideNoLongerAvailable, apperr.KindAlreadyRated:
		return http.StatusConflict
	case apperr.KindInsufficientBalance, apperr.KindInsufficientFunds:
		return http.StatusPaymentRequired
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	e, ok := apperr.As(err)
	if !ok {
		s.logger.Error("request failed", "path", r.URL.Path, "request_id", requestIDFromContext(r.Context()), "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: errorDetail{Kind: "Internal", Message: "internal error"}})
		return
	}
	d := errorDetail{Kind: string(e.Kind), Message: e.Message}
	if e.Kind == apperr.KindInsufficientBalance || e.Kind == apperr.KindInsufficientFunds {
		req, avail := e.Required, e.Available
		d.Required, d.Available = &req, &avail
	}
	writeJSON(w, statusFor(e.Kind), errorBody{Error: d})
}

func writeUnauthenticated(w http.ResponseWriter) {
	writeJSON(w, http.StatusUnauthorized, errorBody{Error: errorDetail{Kind: "Unauthenticated", Message: "missing or invalid bearer token"}})
}

// decode reads a JSON body. An empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && err != io.EOF {
		return apperr.Validation("invalid request body: %v", err)
	}
	return nil
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, apperr.Validation("invalid %s: %q", key, v)
	}
	return n, nil
}

func queryFloat(r *http.Request, key string) (float64, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, apperr.Validation("%s is required", key)
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, apperr.Validation("invalid %s: %q", key, v)
	}
	return f, nil
}
