package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chat"

// Metrics holds the collectors of one chat session process. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	actions        *prometheus.CounterVec
	eventsReceived *prometheus.CounterVec
	eventsDropped  *prometheus.CounterVec
	eventsSent     *prometheus.CounterVec
	reconnects     prometheus.Counter
	connected      prometheus.Gauge
	outboxDepth    prometheus.Gauge
	pending        prometheus.Gauge
	restDuration   *prometheus.HistogramVec
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "store", Name: "actions_total",
			Help: "State transitions applied, by action.",
		}, []string{"action"}),
		eventsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "transport", Name: "events_received_total",
			Help: "Socket events received, by event type.",
		}, []string{"event"}),
		eventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "transport", Name: "events_dropped_total",
			Help: "Socket events dropped, by reason.",
		}, []string{"reason"}),
		eventsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "transport", Name: "events_sent_total",
			Help: "Socket events written or queued, by event type.",
		}, []string{"event"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "transport", Name: "reconnect_attempts_total",
			Help: "Failed dial attempts followed by a backoff wait.",
		}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "transport", Name: "connected",
			Help: "1 while the socket is connected.",
		}),
		outboxDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "transport", Name: "outbox_depth",
			Help: "Events queued while disconnected.",
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "store", Name: "pending_messages",
			Help: "Optimistic messages awaiting reconciliation.",
		}),
		restDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "rest", Name: "request_duration_seconds",
			Help:    "REST collaborator call latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation", "outcome"}),
	}

	m.registry.MustRegister(
		m.actions, m.eventsReceived, m.eventsDropped, m.eventsSent,
		m.reconnects, m.connected, m.outboxDepth, m.pending, m.restDuration,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ActionApplied(action string) {
	if m != nil {
		m.actions.WithLabelValues(action).Inc()
	}
}

func (m *Metrics) EventReceived(event string) {
	if m != nil {
		m.eventsReceived.WithLabelValues(event).Inc()
	}
}

func (m *Metrics) EventDropped(reason string) {
	if m != nil {
		m.eventsDropped.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) EventSent(event string) {
	if m != nil {
		m.eventsSent.WithLabelValues(event).Inc()
	}
}

func (m *Metrics) ReconnectAttempt() {
	if m != nil {
		m.reconnects.Inc()
	}
}

func (m *Metrics) SetConnected(up bool) {
	if m == nil {
		return
	}
	if up {
		m.connected.Set(1)
	} else {
		m.connected.Set(0)
	}
}

func (m *Metrics) SetOutboxDepth(n int) {
	if m != nil {
		m.outboxDepth.Set(float64(n))
	}
}

func (m *Metrics) SetPending(n int) {
	if m != nil {
		m.pending.Set(float64(n))
	}
}

// ObserveREST records one REST call.
func (m *Metrics) ObserveREST(operation string, started time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.restDuration.WithLabelValues(operation, outcome).Observe(time.Since(started).Seconds())
}
