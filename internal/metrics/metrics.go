// Package metrics provides Prometheus instrumentation for the lotto engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// DepositsTotal counts accepted deposits.
	DepositsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lotto_deposits_total",
		Help: "Total number of accepted deposits",
	})

	// DepositedUnits tracks the cumulative deposited amount in smallest
	// currency units.
	DepositedUnits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lotto_deposited_units_total",
		Help: "Cumulative deposited amount in smallest units",
	})

	// DepositRejections counts rejected deposits by reason.
	DepositRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lotto_deposit_rejections_total",
		Help: "Deposits rejected, partitioned by reason",
	}, []string{"reason"})

	// DrawsTotal counts completed draws.
	DrawsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lotto_draws_total",
		Help: "Total number of completed draws",
	})

	// RolloversTotal counts re-rolls past excluded winners.
	RolloversTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lotto_rollovers_total",
		Help: "Total draw re-rolls past excluded winners",
	})

	// SettlementsTotal counts settled rounds.
	SettlementsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lotto_settlements_total",
		Help: "Total number of settled rounds",
	})

	// PoolBalance tracks the current round's undisbursed balance.
	PoolBalance = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lotto_pool_balance_units",
		Help: "Current round pool balance in smallest units",
	})

	// CurrentRound tracks the current round id.
	CurrentRound = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lotto_current_round",
		Help: "Current round id",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lotto_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lotto_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lotto_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the raw path for the label; the API surface is small and
		// fixed, so cardinality stays bounded.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
