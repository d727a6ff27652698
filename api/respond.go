package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/scribely/tierq"
)

// errorResponse is the JSON envelope for every non-2xx reply.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck // response already committed
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps a queue error onto a status code and envelope.
// Unrecognized errors become a generic 500 so store internals never
// reach clients.
func writeError(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg, Code: "bad_request"})
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, tierq.ErrJobNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, tierq.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, tierq.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, tierq.ErrNotCancellable):
		return http.StatusConflict, "not_cancellable"
	case errors.Is(err, tierq.ErrNotQueued):
		return http.StatusConflict, "not_queued"
	case errors.Is(err, tierq.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, tierq.ErrJobDone):
		return http.StatusConflict, "job_done"
	case errors.Is(err, tierq.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "store_unavailable"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// decodeJSON reads the request body into v. Unknown fields are
// rejected so misspelled field names fail loudly instead of being
// silently dropped.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func intQuery(q url.Values, key string, fallback int) int {
	raw := q.Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
