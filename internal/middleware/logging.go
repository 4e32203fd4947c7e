package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// requestInfo is filled in by inner handlers so the access log can report it.
type requestInfo struct {
	userID string
}

// statusRecorder captures the status code written by the next handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func (r *statusRecorder) code() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

// Logging logs every request once it has been served. Server errors are
// logged at Error, client errors at Warn.
func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		info := &requestInfo{}
		rec := &statusRecorder{ResponseWriter: w}

		next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), requestInfoKey, info)))

		status := rec.code()
		args := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"user_id", info.userID,
			"duration_ms", time.Since(start).Milliseconds(),
		}
		switch {
		case status >= 500:
			slog.Error("HTTP request failed", args...)
		case status >= 400:
			slog.Warn("HTTP request rejected", args...)
		default:
			slog.Info("HTTP request ok", args...)
		}
	})
}
