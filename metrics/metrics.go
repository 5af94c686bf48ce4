package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the session server.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Session metrics
	SessionsActive    prometheus.Gauge
	SessionsCreated   prometheus.Counter
	SessionsResumed   prometheus.Counter
	SessionsRemoved   prometheus.Counter
	SessionsPersisted prometheus.Counter

	// Notification metrics
	NotificationsSent    *prometheus.CounterVec
	NotificationsDropped prometheus.Counter
	NotificationErrors   prometheus.Counter

	// WebSocket metrics
	WSConnections *prometheus.GaugeVec
}

// New registers all collectors on reg
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "sessions_active",
			Help: "Number of sessions held in memory",
		}),
		SessionsCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "sessions_created_total",
			Help: "Total number of fresh sessions created",
		}),
		SessionsResumed: f.NewCounter(prometheus.CounterOpts{
			Name: "sessions_resumed_total",
			Help: "Total number of sessions resumed from a persisted snapshot",
		}),
		SessionsRemoved: f.NewCounter(prometheus.CounterOpts{
			Name: "sessions_removed_total",
			Help: "Total number of sessions removed",
		}),
		SessionsPersisted: f.NewCounter(prometheus.CounterOpts{
			Name: "sessions_persisted_total",
			Help: "Total number of snapshots written",
		}),
		NotificationsSent: f.NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_sent_total",
			Help: "Notifications delivered to GUI channels",
		}, []string{"type"}),
		NotificationsDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "notifications_dropped_total",
			Help: "Notifications dropped because a session outbox or SSE subscriber queue was full",
		}),
		NotificationErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "notification_errors_total",
			Help: "Failed notification deliveries",
		}),
		WSConnections: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ws_connections",
			Help: "Open websocket connections",
		}, []string{"kind"}),
	}
}

func (m *Metrics) SessionOpened(resumed bool) {
	if m == nil {
		return
	}
	m.SessionsActive.Inc()
	if resumed {
		m.SessionsResumed.Inc()
	} else {
		m.SessionsCreated.Inc()
	}
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
	m.SessionsRemoved.Inc()
}

func (m *Metrics) Persisted() {
	if m == nil {
		return
	}
	m.SessionsPersisted.Inc()
}

func (m *Metrics) NotificationSent(messageType string) {
	if m == nil {
		return
	}
	m.NotificationsSent.WithLabelValues(messageType).Inc()
}

func (m *Metrics) NotificationDropped() {
	if m == nil {
		return
	}
	m.NotificationsDropped.Inc()
}

func (m *Metrics) NotificationFailed() {
	if m == nil {
		return
	}
	m.NotificationErrors.Inc()
}

// WSOpened and WSClosed track websocket connections by kind ("gui", "ide")
func (m *Metrics) WSOpened(kind string) {
	if m == nil {
		return
	}
	m.WSConnections.WithLabelValues(kind).Inc()
}

func (m *Metrics) WSClosed(kind string) {
	if m == nil {
		return
	}
	m.WSConnections.WithLabelValues(kind).Dec()
}
