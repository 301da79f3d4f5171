package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the authorization core
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Authorization metrics
	AuthzDecisionsTotal   *prometheus.CounterVec
	AuthzDecisionDuration *prometheus.HistogramVec
	AuthzStoreErrorsTotal prometheus.Counter
	HierarchyWalkDepth    prometheus.Histogram
	HierarchyCyclesTotal  prometheus.Counter

	// Share link gate metrics
	LinkGateOutcomesTotal     *prometheus.CounterVec
	LinkViewsTotal            prometheus.Counter
	LinkMilestonesTotal       *prometheus.CounterVec
	LinkConsumeConflictsTotal prometheus.Counter

	// Rate limiter metrics
	RateLimitVerdictsTotal *prometheus.CounterVec
	RateLimitErrorsTotal   *prometheus.CounterVec
	RateLimitBucketsActive prometheus.Gauge

	// Notification metrics
	NotificationsDispatchedTotal *prometheus.CounterVec
	NotificationFailuresTotal    prometheus.Counter

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dataroom_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dataroom_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		AuthzDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dataroom_authz_decisions_total",
				Help: "Permission resolutions by outcome and matched rule",
			},
			[]string{"decision", "rule"},
		),
		AuthzDecisionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dataroom_authz_decision_duration_seconds",
				Help:    "Permission resolution duration in seconds",
				Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25},
			},
			[]string{"operation"},
		),
		AuthzStoreErrorsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "dataroom_authz_store_errors_total",
				Help: "Permission store read failures during resolution",
			},
		),
		HierarchyWalkDepth: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "dataroom_authz_hierarchy_walk_depth",
				Help:    "Folder ancestor chain length walked per resolution",
				Buckets: []float64{0, 1, 2, 3, 5, 8, 13, 21},
			},
		),
		HierarchyCyclesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "dataroom_authz_hierarchy_cycles_total",
				Help: "Corrupted cyclic folder chains detected (failed closed)",
			},
		),
		LinkGateOutcomesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dataroom_link_gate_outcomes_total",
				Help: "Share link gate evaluations by outcome",
			},
			[]string{"outcome"},
		),
		LinkViewsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "dataroom_link_views_total",
				Help: "View records created through the share link gate",
			},
		),
		LinkMilestonesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dataroom_link_milestones_total",
				Help: "Cumulative view milestone crossings",
			},
			[]string{"threshold"},
		),
		LinkConsumeConflictsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "dataroom_link_consume_conflicts_total",
				Help: "Concurrent grants that lost the final view slot",
			},
		),
		RateLimitVerdictsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dataroom_ratelimit_verdicts_total",
				Help: "Rate limiter checks by limiter identity and verdict",
			},
			[]string{"identity", "verdict"},
		),
		RateLimitErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dataroom_ratelimit_errors_total",
				Help: "Rate limiter backend failures by limiter identity",
			},
			[]string{"identity"},
		),
		RateLimitBucketsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "dataroom_ratelimit_buckets_active",
				Help: "Live window counters held by the in-process limiter backend",
			},
		),
		NotificationsDispatchedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dataroom_notifications_dispatched_total",
				Help: "Notification triggers dispatched by kind",
			},
			[]string{"kind"},
		),
		NotificationFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "dataroom_notification_failures_total",
				Help: "Notification sink failures (swallowed, never propagated)",
			},
		),
		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "dataroom_db_connections_active",
				Help: "Active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "dataroom_db_connections_idle",
				Help: "Idle database connections",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.AuthzDecisionsTotal,
		m.AuthzDecisionDuration,
		m.AuthzStoreErrorsTotal,
		m.HierarchyWalkDepth,
		m.HierarchyCyclesTotal,
		m.LinkGateOutcomesTotal,
		m.LinkViewsTotal,
		m.LinkMilestonesTotal,
		m.LinkConsumeConflictsTotal,
		m.RateLimitVerdictsTotal,
		m.RateLimitErrorsTotal,
		m.RateLimitBucketsActive,
		m.NotificationsDispatchedTotal,
		m.NotificationFailuresTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// Handler returns an HTTP handler serving the registry in Prometheus format
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// HTTPMiddleware records request count and duration for each handled request
func (m *Metrics) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		m.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(sw.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
