package server

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fernRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fern_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	fernRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fern_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	fernAdmissionDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fern_admission_decisions_total",
		Help: "Total admission decisions by verdict and reason.",
	}, []string{"verdict", "reason"})

	fernInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fern_in_flight_requests",
		Help: "Requests currently being handled.",
	})

	fernPostingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fern_ledger_postings_total",
		Help: "Total ledger posting attempts by outcome.",
	}, []string{"outcome"})

	fernChainEntriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fern_chain_entries_total",
		Help: "Total release audit chain entries appended.",
	})

	fernSnapshotsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fern_compliance_snapshots_total",
		Help: "Total compliance snapshots built.",
	})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		fernRequestsTotal.WithLabelValues(method, path, status).Inc()
		fernRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordDecision records one admission decision.
func RecordDecision(verdict, reason string) {
	fernAdmissionDecisionsTotal.WithLabelValues(verdict, reason).Inc()
}

// RecordPosting records a ledger posting attempt.
func RecordPosting(outcome string) {
	fernPostingsTotal.WithLabelValues(outcome).Inc()
}

// RecordChainAppend records a release chain entry append.
func RecordChainAppend() {
	fernChainEntriesTotal.Inc()
}

// RecordSnapshot records a compliance snapshot build.
func RecordSnapshot() {
	fernSnapshotsTotal.Inc()
}
