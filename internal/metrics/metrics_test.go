package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := MustNewMetrics(reg)

	m.ObserveSubmission("ok")
	m.ObserveSubmission("ok")
	m.ObserveSubmission("missing_owner")
	m.AddConflicts(3)
	m.AddUpcoming(2)
	m.ObserveNotification("reminder", nil)
	m.ObserveNotification("reminder", errors.New("x"))
	m.IncDropped()
	m.SetStoredEvents(7)
	m.ObserveCheck("conflicts", 0.01)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.submissions.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.submissions.WithLabelValues("missing_owner")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.conflicts))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.upcoming))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.notifications.WithLabelValues("reminder", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.droppedNotifies))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.storedEvents))
	assert.Equal(t, 1, testutil.CollectAndCount(m.checkDuration))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveSubmission("ok")
		m.AddConflicts(1)
		m.AddUpcoming(1)
		m.ObserveNotification("conflict", nil)
		m.IncDropped()
		m.ObserveCheck("upcoming", 1)
		m.SetStoredEvents(1)
	})
}
