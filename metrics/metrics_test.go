package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_SessionLifecycle(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.SessionOpened(false)
	m.SessionOpened(true)
	m.SessionClosed()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsCreated))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsResumed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsRemoved))
}

func TestMetrics_Notifications(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.NotificationSent("state_update")
	m.NotificationSent("state_update")
	m.NotificationDropped()
	m.NotificationFailed()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.NotificationsSent.WithLabelValues("state_update")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotificationsDropped))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotificationErrors))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SessionOpened(false)
		m.SessionClosed()
		m.Persisted()
		m.NotificationSent("x")
		m.WSOpened("gui")
		m.WSClosed("gui")
	})
}
