// Package metrics exposes prometheus collectors for the synchronization core.
//
// A nil *Metrics is valid and records nothing, so components can be built
// without a registry in tests and embedded use.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "serversignal"

// Drop reasons for envelopes_dropped_total.
const (
	ReasonMalformed = "malformed"
	ReasonApply     = "apply"
	ReasonStale     = "stale"
)

type Metrics struct {
	registry *prometheus.Registry

	envelopesSent     *prometheus.CounterVec
	envelopeBytesSent prometheus.Counter
	envelopesReceived prometheus.Counter
	envelopesDropped  *prometheus.CounterVec
	updatesQueued     prometheus.Counter
	pendingUpdates    prometheus.Gauge
	applyErrors       *prometheus.CounterVec
	reconnects        prometheus.Counter
	activeSignals     prometheus.Gauge
	activeSessions    prometheus.Gauge
	sessionsRejected  prometheus.Counter
	sessionDuration   prometheus.Histogram
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		envelopesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "envelopes_sent_total",
			Help:      "Update envelopes written to connections, by channel.",
		}, []string{"channel"}),
		envelopeBytesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "envelope_bytes_sent_total",
			Help:      "Encoded envelope bytes written to connections.",
		}),
		envelopesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "envelopes_received_total",
			Help:      "Inbound envelopes handed to the registry.",
		}),
		envelopesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "envelopes_dropped_total",
			Help:      "Inbound envelopes or queued diffs that were discarded.",
		}, []string{"reason"}),
		updatesQueued: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "updates_queued_total",
			Help:      "Diffs buffered for channels without a registered replica.",
		}),
		pendingUpdates: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_updates",
			Help:      "Diffs currently waiting in the delayed update queue.",
		}),
		applyErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "apply_errors_total",
			Help:      "Diffs that could not be applied to a replica.",
		}, []string{"channel"}),
		reconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Client reconnection attempts.",
		}),
		activeSignals: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_signals",
			Help:      "Server signals bound to an open connection.",
		}),
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Server connections currently being served.",
		}),
		sessionsRejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_rejected_total",
			Help:      "Connections closed at admission because the server was full.",
		}),
		sessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Lifetime of served connections.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 4, 10),
		}),
	}
}

// Registry exposes the underlying registry for custom collectors and tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) EnvelopeSent(channel string, bytes int) {
	if m == nil {
		return
	}
	m.envelopesSent.WithLabelValues(channel).Inc()
	m.envelopeBytesSent.Add(float64(bytes))
}

func (m *Metrics) EnvelopeReceived() {
	if m == nil {
		return
	}
	m.envelopesReceived.Inc()
}

func (m *Metrics) EnvelopeDropped(reason string) {
	if m == nil {
		return
	}
	m.envelopesDropped.WithLabelValues(reason).Inc()
}

// UpdateQueued records one diff entering the delayed update queue.
func (m *Metrics) UpdateQueued() {
	if m == nil {
		return
	}
	m.updatesQueued.Inc()
	m.pendingUpdates.Inc()
}

// UpdatesDrained records n diffs leaving the delayed update queue.
func (m *Metrics) UpdatesDrained(n int) {
	if m == nil || n == 0 {
		return
	}
	m.pendingUpdates.Sub(float64(n))
}

func (m *Metrics) ApplyError(channel string) {
	if m == nil {
		return
	}
	m.applyErrors.WithLabelValues(channel).Inc()
}

func (m *Metrics) Reconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *Metrics) SignalOpened() {
	if m == nil {
		return
	}
	m.activeSignals.Inc()
}

func (m *Metrics) SignalClosed() {
	if m == nil {
		return
	}
	m.activeSignals.Dec()
}

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
}

func (m *Metrics) SessionEnded(d time.Duration) {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
	m.sessionDuration.Observe(d.Seconds())
}

func (m *Metrics) SessionRejected() {
	if m == nil {
		return
	}
	m.sessionsRejected.Inc()
}
