package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "remindd_http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "remindd_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 5},
		},
		[]string{"method", "path"},
	)

	reminderRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "remindd_reminder_runs_total",
			Help: "Reminder dispatch runs by outcome",
		},
		[]string{"outcome"},
	)

	reminderRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "remindd_reminder_run_duration_seconds",
			Help:    "Reminder dispatch run duration",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"outcome"},
	)

	slotsClaimed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "remindd_slots_claimed_total",
			Help: "Reminder slots claimed by slot",
		},
		[]string{"slot"},
	)

	slotsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "remindd_slots_dropped_total",
			Help: "Claimed slots dropped for an unrecognised reminder type",
		},
		[]string{"slot"},
	)

	artifactsQueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "remindd_artifacts_queued_total",
			Help: "Outbox artifacts written by channel",
		},
		[]string{"channel"},
	)

	recipientsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "remindd_recipients_skipped_total",
			Help: "Reminder channels skipped by reason",
		},
		[]string{"reason"},
	)

	creditAdvisories = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "remindd_credit_advisories_total",
			Help: "SMS credit advisories queued by kind",
		},
		[]string{"kind"},
	)

	scheduleFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "remindd_schedule_persist_failures_total",
			Help: "Failures persisting the next recurring run",
		},
	)

	nextRun = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "remindd_next_run_timestamp_seconds",
			Help: "Unix time of the next scheduled reminder run",
		},
	)

	deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "remindd_deliveries_total",
			Help: "Outbox deliveries by channel and status",
		},
		[]string{"channel", "status"},
	)

	deliveryLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "remindd_delivery_latency_seconds",
			Help:    "Time spent handing a delivery to its transport",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10},
		},
		[]string{"channel"},
	)

	deliveriesInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "remindd_deliveries_in_flight",
			Help: "Deliveries claimed by the relay and not yet settled",
		},
	)

	outboxDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "remindd_outbox_pending",
			Help: "Pending outbox rows by channel",
		},
		[]string{"channel"},
	)

	idempotencyHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "remindd_idempotency_hits_total",
			Help: "Deliveries skipped because they were already sent",
		},
	)

	rateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "remindd_rate_limit_rejections_total",
			Help: "Requests rejected by rate limiter",
		},
		[]string{"key"},
	)

	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "remindd_circuit_breaker_state",
			Help: "Circuit breaker state per transport (0 closed, 1 open, 2 half-open)",
		},
		[]string{"breaker"},
	)

	dbConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "remindd_db_connections_active",
			Help: "Active database connections",
		},
	)

	redisConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "remindd_redis_connections_active",
			Help: "Active Redis connections",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordRun records one reminder run
func RecordRun(outcome string, duration time.Duration) {
	reminderRuns.WithLabelValues(outcome).Inc()
	reminderRunDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordSlotClaimed counts a claimed reminder slot
func RecordSlotClaimed(slot string) {
	slotsClaimed.WithLabelValues(slot).Inc()
}

// RecordSlotDropped counts a claimed slot with an unrecognised type
func RecordSlotDropped(slot string) {
	slotsDropped.WithLabelValues(slot).Inc()
}

// RecordArtifacts adds n written artifacts for a channel
func RecordArtifacts(channel string, n int) {
	if n > 0 {
		artifactsQueued.WithLabelValues(channel).Add(float64(n))
	}
}

// RecordSkipped adds n skipped recipients for a reason
func RecordSkipped(reason string, n int) {
	if n > 0 {
		recipientsSkipped.WithLabelValues(reason).Add(float64(n))
	}
}

// RecordAdvisories adds n credit advisories of a kind
func RecordAdvisories(kind string, n int) {
	if n > 0 {
		creditAdvisories.WithLabelValues(kind).Add(float64(n))
	}
}

// RecordScheduleFailure counts a failed anchor write
func RecordScheduleFailure() {
	scheduleFailures.Inc()
}

// SetNextRun records when the next run is due
func SetNextRun(at time.Time) {
	nextRun.Set(float64(at.Unix()))
}

// RecordDelivery records a relay delivery result
func RecordDelivery(channel, status string) {
	deliveries.WithLabelValues(channel, status).Inc()
}

// RecordDeliveryLatency records how long a transport took
func RecordDeliveryLatency(channel string, latency time.Duration) {
	deliveryLatency.WithLabelValues(channel).Observe(latency.Seconds())
}

// SetDeliveriesInFlight sets the current in-flight delivery count
func SetDeliveriesInFlight(count int) {
	deliveriesInFlight.Set(float64(count))
}

// SetOutboxDepth sets the pending row count for a channel
func SetOutboxDepth(channel string, count int) {
	outboxDepth.WithLabelValues(channel).Set(float64(count))
}

// RecordIdempotencyHit records a delivery skipped as already sent
func RecordIdempotencyHit() {
	idempotencyHits.Inc()
}

// RecordRateLimitRejection records a rate limit rejection
func RecordRateLimitRejection(key string) {
	rateLimitRejections.WithLabelValues(key).Inc()
}

// SetBreakerState publishes a breaker's state
func SetBreakerState(name string, state int) {
	breakerState.WithLabelValues(name).Set(float64(state))
}

// SetDBConnections sets active database connection count
func SetDBConnections(count int) {
	dbConnectionsActive.Set(float64(count))
}

// SetRedisConnections sets active Redis connection count
func SetRedisConnections(count int) {
	redisConnectionsActive.Set(float64(count))
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// routePattern labels a request by its chi route so path parameters do not
// explode label cardinality.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}

// Middleware returns HTTP middleware that records request metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, routePattern(r), wrapped.status, time.Since(start))
	})
}
