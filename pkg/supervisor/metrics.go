package supervisor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wharfd/wharfd/pkg/adapter"
)

// Metrics tracks supervisor-level Prometheus metrics across all listeners.
//
// All metrics use the wharfd_ prefix. A nil *Metrics is a valid no-op
// recorder: every method checks the receiver, so callers never need to.
type Metrics struct {
	sessionsTotal  *prometheus.CounterVec
	sessionsActive prometheus.Gauge
	authFailures   prometheus.Counter

	activityRecords prometheus.Counter
	activityDropped prometheus.Counter

	bytesRead    prometheus.Counter
	bytesWritten prometheus.Counter

	listenerUp      *prometheus.GaugeVec
	requestDuration *prometheus.HistogramVec

	connectionsTotal       *prometheus.CounterVec
	connectionsActive      *prometheus.GaugeVec
	connectionsForceClosed *prometheus.CounterVec
}

// NewMetrics creates and registers the supervisor metrics. Panics if
// registration fails, which only happens on duplicate registration during
// initialization.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sessionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wharfd_sessions_total",
				Help: "Authenticated sessions by protocol",
			},
			[]string{"protocol"},
		),
		sessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "wharfd_sessions_active",
				Help: "Currently authenticated sessions across all listeners",
			},
		),
		authFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "wharfd_auth_failures_total",
				Help: "Rejected authentication attempts",
			},
		),
		activityRecords: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "wharfd_activity_records_total",
				Help: "Activity records accepted into the pipeline",
			},
		),
		activityDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "wharfd_activity_dropped_total",
				Help: "Activity events dropped because a subscriber's buffer was full",
			},
		),
		bytesRead: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "wharfd_bytes_read_total",
				Help: "File bytes served to clients (downloads)",
			},
		),
		bytesWritten: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "wharfd_bytes_written_total",
				Help: "File bytes received from clients (uploads)",
			},
		),
		listenerUp: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "wharfd_listener_up",
				Help: "1 while the listener is serving, 0 otherwise",
			},
			[]string{"listener"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wharfd_request_duration_seconds",
				Help:    "Protocol request duration by request type",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"request_type"},
		),
		connectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wharfd_connections_total",
				Help: "Accepted connections by listener",
			},
			[]string{"listener"},
		),
		connectionsActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "wharfd_connections_active",
				Help: "Open connections by listener",
			},
			[]string{"listener"},
		),
		connectionsForceClosed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wharfd_connections_force_closed_total",
				Help: "Connections force-closed after the drain timeout",
			},
			[]string{"listener"},
		),
	}

	reg.MustRegister(
		m.sessionsTotal,
		m.sessionsActive,
		m.authFailures,
		m.activityRecords,
		m.activityDropped,
		m.bytesRead,
		m.bytesWritten,
		m.listenerUp,
		m.requestDuration,
		m.connectionsTotal,
		m.connectionsActive,
		m.connectionsForceClosed,
	)

	return m
}

// NullMetrics returns nil, which acts as a no-op recorder.
func NullMetrics() *Metrics {
	return nil
}

// ObserveRequest records one protocol request's duration. Request types
// are protocol command names, lowercase: open, read, stor, retr, ...
func (m *Metrics) ObserveRequest(requestType string, d time.Duration) {
	if m == nil {
		return
	}
	m.requestDuration.WithLabelValues(requestType).Observe(d.Seconds())
}

// AddBytesRead counts file bytes served to clients.
func (m *Metrics) AddBytesRead(n int64) {
	if m == nil {
		return
	}
	m.bytesRead.Add(float64(n))
}

// AddBytesWritten counts file bytes received from clients.
func (m *Metrics) AddBytesWritten(n int64) {
	if m == nil {
		return
	}
	m.bytesWritten.Add(float64(n))
}

// RecordSessionStarted counts one authenticated session.
func (m *Metrics) RecordSessionStarted(protocol string) {
	if m == nil {
		return
	}
	m.sessionsTotal.WithLabelValues(protocol).Inc()
}

// SetActiveSessions updates the live session gauge.
func (m *Metrics) SetActiveSessions(count int) {
	if m == nil {
		return
	}
	m.sessionsActive.Set(float64(count))
}

// RecordAuthFailure counts one rejected authentication attempt.
func (m *Metrics) RecordAuthFailure() {
	if m == nil {
		return
	}
	m.authFailures.Inc()
}

// RecordActivity counts one activity record entering the pipeline.
func (m *Metrics) RecordActivity() {
	if m == nil {
		return
	}
	m.activityRecords.Inc()
}

// RecordActivityDropped counts one event lost to a full subscriber buffer.
func (m *Metrics) RecordActivityDropped() {
	if m == nil {
		return
	}
	m.activityDropped.Inc()
}

// SetListenerUp flips the per-listener up gauge.
func (m *Metrics) SetListenerUp(listenerName string, up bool) {
	if m == nil {
		return
	}
	v := 0.0
	if up {
		v = 1.0
	}
	m.listenerUp.WithLabelValues(listenerName).Set(v)
}

// ConnectionRecorder returns the per-listener connection recorder handed
// to an adapter, or nil when metrics are disabled.
func (m *Metrics) ConnectionRecorder(listenerName string) adapter.MetricsRecorder {
	if m == nil {
		return nil
	}
	return &connectionRecorder{metrics: m, listener: listenerName}
}

// connectionRecorder labels connection lifecycle events with the owning
// listener. It implements adapter.MetricsRecorder.
type connectionRecorder struct {
	metrics  *Metrics
	listener string
}

func (r *connectionRecorder) RecordConnectionAccepted() {
	r.metrics.connectionsTotal.WithLabelValues(r.listener).Inc()
}

func (r *connectionRecorder) RecordConnectionClosed() {
	// Closes show up as the active gauge dropping; no separate counter.
}

func (r *connectionRecorder) RecordConnectionForceClosed() {
	r.metrics.connectionsForceClosed.WithLabelValues(r.listener).Inc()
}

func (r *connectionRecorder) SetActiveConnections(count int32) {
	r.metrics.connectionsActive.WithLabelValues(r.listener).Set(float64(count))
}
