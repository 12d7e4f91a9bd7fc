// Package middleware provides reusable HTTP middleware: request IDs,
// Prometheus metrics, request deadlines, per-client rate limiting and CORS.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/polyroots/pkg/metrics"
)

// Metrics records request totals and latency labelled by method, route and
// status, plus the number of requests in flight.
func Metrics(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m.HTTPRequestsInFlight.Inc()
			start := time.Now()
			rec := &recorder{ResponseWriter: w}
			defer func() {
				m.HTTPRequestsInFlight.Dec()
				route := normalizePath(r.URL.Path)
				m.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.Status())).Inc()
				m.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
			}()
			next.ServeHTTP(rec, r)
		})
	}
}

// recorder captures the status code and body size of a response.
type recorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (rec *recorder) WriteHeader(code int) {
	if rec.status == 0 {
		rec.status = code
	}
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *recorder) Write(b []byte) (int, error) {
	if rec.status == 0 {
		rec.status = http.StatusOK
	}
	n, err := rec.ResponseWriter.Write(b)
	rec.bytes += int64(n)
	return n, err
}

// Status is the status sent, or 200 when the handler wrote nothing.
func (rec *recorder) Status() int {
	if rec.status == 0 {
		return http.StatusOK
	}
	return rec.status
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (rec *recorder) Unwrap() http.ResponseWriter {
	return rec.ResponseWriter
}

var routes = map[string]bool{
	"/api/v1/roots":               true,
	"/api/v1/roots/history":       true,
	"/api/v1/cache/stats":         true,
	"/api/v1/cache/invalidate":    true,
	"/api/v1/analytics":           true,
	"/api/v1/analytics/snapshots": true,
	"/health/live":                true,
	"/health/ready":               true,
}

// normalizePath keeps the route label bounded: unknown paths become "other".
func normalizePath(path string) string {
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}
	if routes[path] {
		return path
	}
	return "other"
}
