// Package metrics exposes the Prometheus collectors of the ledger daemon.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jmerrifield20/civicstreak/internal/streak"
)

var (
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "civicstreak_operations_total",
		Help: "Ledger operations by operation and outcome.",
	}, []string{"operation", "outcome"})

	operationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "civicstreak_operation_duration_seconds",
		Help:    "Ledger operation duration in seconds, including store round trips.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "civicstreak_events_total",
		Help: "Committed engine events by kind.",
	}, []string{"kind"})

	milestonesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "civicstreak_milestones_total",
		Help: "Milestones reached by badge id.",
	}, []string{"badge_id"})

	recordsTotal = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "civicstreak_records",
		Help: "Stored streak records by namespace.",
	}, []string{"namespace"})

	webhookDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "civicstreak_badge_webhook_deliveries_total",
		Help: "Badge webhook delivery attempts by result.",
	}, []string{"status"})

	journalChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "civicstreak_journal_verifications_total",
		Help: "Journal chain verifications by result.",
	}, []string{"result"})

	snapshotsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "civicstreak_snapshots_total",
		Help: "Snapshot exports by result.",
	}, []string{"result"})

	dependencyUp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "civicstreak_dependency_up",
		Help: "Whether the last probe of a dependency succeeded (1) or not (0).",
	}, []string{"dependency"})

	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "civicstreak_requests_total",
		Help: "Requests by transport, method, path and response status.",
	}, []string{"transport", "method", "path", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "civicstreak_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"transport", "method", "path"})
)

// Ledger implements ledger.Recorder on the default registry.
type Ledger struct{}

// ObserveOperation records one ledger operation.
func (Ledger) ObserveOperation(op, outcome string, d time.Duration) {
	operationsTotal.WithLabelValues(op, outcome).Inc()
	operationDuration.WithLabelValues(op).Observe(d.Seconds())
}

// ObserveEvent records one committed event.
func (Ledger) ObserveEvent(ev streak.Event) {
	eventsTotal.WithLabelValues(string(ev.Kind)).Inc()
	if ev.Kind == streak.EventMilestoneReached {
		milestonesTotal.WithLabelValues(ev.BadgeID).Inc()
	}
}

// SetRecords sets the record count gauge of a namespace.
func SetRecords(ns streak.Namespace, n int) {
	recordsTotal.WithLabelValues(string(ns)).Set(float64(n))
}

// RecordWebhookDelivery records a badge webhook delivery attempt.
func RecordWebhookDelivery(success bool) {
	webhookDeliveriesTotal.WithLabelValues(result(success)).Inc()
}

// RecordJournalVerify records the result of a journal chain verification.
func RecordJournalVerify(ok bool) {
	journalChecksTotal.WithLabelValues(result(ok)).Inc()
}

// RecordSnapshot records the result of a snapshot export.
func RecordSnapshot(ok bool) {
	snapshotsTotal.WithLabelValues(result(ok)).Inc()
}

// SetDependencyUp records the result of a dependency probe.
func SetDependencyUp(name string, up bool) {
	v := 0.0
	if up {
		v = 1
	}
	dependencyUp.WithLabelValues(name).Set(v)
}

// RecordRPC records one gRPC call.
func RecordRPC(method, code string, d time.Duration) {
	requestsTotal.WithLabelValues("grpc", "POST", method, code).Inc()
	requestDuration.WithLabelValues("grpc", "POST", method).Observe(d.Seconds())
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		method := c.Request.Method
		requestsTotal.WithLabelValues("http", method, path, strconv.Itoa(c.Writer.Status())).Inc()
		requestDuration.WithLabelValues("http", method, path).Observe(time.Since(start).Seconds())
	}
}

// Handler returns a Gin handler serving the default registry.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
