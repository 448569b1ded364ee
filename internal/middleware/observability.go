package middleware

import (
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"apx-claims-api/internal/metrics"
)

// Observability records request metrics and logs every request with logrus.
func Observability(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := newStatusRecorder(w)

			next.ServeHTTP(rw, r)

			elapsed := time.Since(start)
			route := routePattern(r)
			if route == "" {
				route = "unmatched"
			}
			m.ObserveRequest(route, r.Method, rw.status, elapsed.Seconds())

			entry := log.WithFields(log.Fields{
				"method":     r.Method,
				"path":       r.URL.Path,
				"route":      route,
				"status":     rw.status,
				"duration":   elapsed.String(),
				"remote":     r.RemoteAddr,
				"request_id": chimw.GetReqID(r.Context()),
			})
			switch {
			case rw.status >= http.StatusInternalServerError:
				entry.Error("request failed")
			case rw.status >= http.StatusBadRequest:
				entry.Info("request rejected")
			default:
				entry.Debug("request served")
			}
		})
	}
}
