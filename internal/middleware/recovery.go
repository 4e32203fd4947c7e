package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/mmynk/tallyledger/internal/api/respond"
)

// Recovery intercepts panics from downstream handlers, logs details, and returns HTTP 500.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				slog.Error("Panic recovered",
					"panic", rec,
					"method", r.Method,
					"url", r.URL.String(),
					"remote", r.RemoteAddr,
					"stack", string(debug.Stack()),
				)
				respond.WriteStatus(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
