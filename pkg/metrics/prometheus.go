package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the call service. Each instance
// owns its registry so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP Request Metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	// Database Metrics
	dbQueryDuration    *prometheus.HistogramVec
	dbQueryErrorsTotal *prometheus.CounterVec

	// Call Metrics
	callsStartedTotal      *prometheus.CounterVec
	callsEndedTotal        *prometheus.CounterVec
	callsDuration          *prometheus.HistogramVec
	callsFailedTotal       *prometheus.CounterVec
	participantEventsTotal *prometheus.CounterVec
	credentialsIssuedTotal *prometheus.CounterVec
	racesResolvedTotal     *prometheus.CounterVec

	// WebSocket Metrics
	websocketConnections prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(serviceName string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)
	labels := prometheus.Labels{"service": serviceName}

	return &Metrics{
		registry: reg,

		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "http_requests_total",
				Help:        "Total number of HTTP requests",
				ConstLabels: labels,
			},
			[]string{"method", "endpoint", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "http_request_duration_seconds",
				Help:        "HTTP request latency in seconds",
				ConstLabels: labels,
				Buckets:     prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		httpRequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name:        "http_requests_in_flight",
				Help:        "Number of HTTP requests currently being processed",
				ConstLabels: labels,
			},
		),

		dbQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "db_query_duration_seconds",
				Help:        "Database query latency in seconds",
				ConstLabels: labels,
				Buckets:     prometheus.DefBuckets,
			},
			[]string{"operation", "table"},
		),
		dbQueryErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "db_query_errors_total",
				Help:        "Total number of database query errors",
				ConstLabels: labels,
			},
			[]string{"operation", "table"},
		),

		callsStartedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "calls_started_total",
				Help:        "Total number of call sessions created",
				ConstLabels: labels,
			},
			[]string{"kind"},
		),
		callsEndedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "calls_ended_total",
				Help:        "Total number of call sessions ended",
				ConstLabels: labels,
			},
			[]string{"kind", "reason"},
		),
		callsDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "calls_duration_seconds",
				Help:        "Call duration in seconds",
				ConstLabels: labels,
				Buckets:     []float64{10, 30, 60, 120, 300, 600, 1800, 3600, 7200},
			},
			[]string{"kind"},
		),
		callsFailedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "calls_failed_total",
				Help:        "Total number of failed call operations",
				ConstLabels: labels,
			},
			[]string{"operation", "code"},
		),
		participantEventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "call_participant_events_total",
				Help:        "Participant joins and leaves",
				ConstLabels: labels,
			},
			[]string{"kind", "event"},
		),
		credentialsIssuedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "call_credentials_issued_total",
				Help:        "Transport credentials issued",
				ConstLabels: labels,
			},
			[]string{"role"},
		),
		racesResolvedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "call_races_resolved_total",
				Help:        "Unique-constraint races resolved by re-reading the winner",
				ConstLabels: labels,
			},
			[]string{"operation"},
		),

		websocketConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name:        "websocket_connections",
				Help:        "Number of active call event WebSocket connections",
				ConstLabels: labels,
			},
		),
	}
}

// GetRegistry returns the registry backing these metrics
func (m *Metrics) GetRegistry() *prometheus.Registry {
	return m.registry
}

// HTTP Metrics Methods

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// IncrementHTTPRequestsInFlight increments the number of in-flight HTTP requests
func (m *Metrics) IncrementHTTPRequestsInFlight() {
	m.httpRequestsInFlight.Inc()
}

// DecrementHTTPRequestsInFlight decrements the number of in-flight HTTP requests
func (m *Metrics) DecrementHTTPRequestsInFlight() {
	m.httpRequestsInFlight.Dec()
}

// RecordDBQuery records a database query
func (m *Metrics) RecordDBQuery(operation, table string, duration time.Duration, err error) {
	m.dbQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
	if err != nil {
		m.dbQueryErrorsTotal.WithLabelValues(operation, table).Inc()
	}
}

// Call Metrics Methods

// RecordCallStarted records a newly created session
func (m *Metrics) RecordCallStarted(kind string) {
	m.callsStartedTotal.WithLabelValues(kind).Inc()
}

// RecordCallEnded records a session transition to ended
func (m *Metrics) RecordCallEnded(kind, reason string, duration time.Duration) {
	m.callsEndedTotal.WithLabelValues(kind, reason).Inc()
	m.callsDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordCallFailure records a failed lifecycle operation
func (m *Metrics) RecordCallFailure(operation, code string) {
	m.callsFailedTotal.WithLabelValues(operation, code).Inc()
}

// RecordParticipantEvent records a join or leave
func (m *Metrics) RecordParticipantEvent(kind, event string) {
	m.participantEventsTotal.WithLabelValues(kind, event).Inc()
}

// RecordCredentialIssued records an issued transport credential
func (m *Metrics) RecordCredentialIssued(role string) {
	m.credentialsIssuedTotal.WithLabelValues(role).Inc()
}

// RecordRaceResolved records a lost insert race that was resolved by re-reading
func (m *Metrics) RecordRaceResolved(operation string) {
	m.racesResolvedTotal.WithLabelValues(operation).Inc()
}

// WebSocket Metrics Methods

// IncWebSocketConnections increments the active WebSocket gauge
func (m *Metrics) IncWebSocketConnections() {
	m.websocketConnections.Inc()
}

// DecWebSocketConnections decrements the active WebSocket gauge
func (m *Metrics) DecWebSocketConnections() {
	m.websocketConnections.Dec()
}
