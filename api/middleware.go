package api

import (
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/scribely/tierq"
	"github.com/scribely/tierq/auth"
)

// statusRecorder captures the response code for the request log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// identity resolves the caller from gateway headers and carries it on
// the request context for the handlers and the engine underneath.
func (a *API) identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller := auth.FromRequest(r, a.secret)
		next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), caller)))
	})
}

// operatorOnly refuses requests whose identity lacks the operator
// grant.
func (a *API) operatorOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, _ := auth.IdentityFrom(r.Context())
		if !caller.Operator {
			writeError(w, tierq.ErrUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestLogger logs one line per completed request.
func (a *API) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		start := time.Now()
		next.ServeHTTP(rec, r)

		a.logger.Info("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Duration("elapsed", time.Since(start)),
		)
	})
}

// recoverer converts handler panics into 500 responses.
// Panics are logged with a stack trace; the client sees the generic
// envelope only.
func (a *API) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				a.logger.Error("http handler panicked",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.Any("panic", rec),
					slog.String("stack", string(debug.Stack())),
				)
				writeJSON(w, http.StatusInternalServerError, errorResponse{
					Error: "internal error",
					Code:  "internal",
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}
