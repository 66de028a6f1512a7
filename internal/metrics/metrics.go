package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "evalert"

// Metrics exposes Prometheus collectors for submissions, checks and
// notifications. A nil *Metrics is valid and records nothing.
type Metrics struct {
	submissions     *prometheus.CounterVec
	conflicts       prometheus.Counter
	upcoming        prometheus.Counter
	notifications   *prometheus.CounterVec
	droppedNotifies prometheus.Counter
	checkDuration   *prometheus.HistogramVec
	storedEvents    prometheus.Gauge
}

// MustNewMetrics registers the collectors with reg, or the default registerer
// when reg is nil. Registration errors panic, as with promauto.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_submissions_total",
			Help:      "Event submissions by result code.",
		}, []string{"result"}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflicts_detected_total",
			Help:      "Overlapping event pairs reported.",
		}),
		upcoming: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upcoming_events_total",
			Help:      "Events reported as starting within the lookahead window.",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notifications handed to the notifier by kind and status.",
		}, []string{"kind", "status"}),
		droppedNotifies: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_dropped_total",
			Help:      "Notifications dropped because the delivery queue was full.",
		}),
		checkDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "check_duration_seconds",
			Help:      "Time spent selecting upcoming events or detecting conflicts.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"check"}),
		storedEvents: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stored_events",
			Help:      "Events currently held in memory.",
		}),
	}
	reg.MustRegister(
		m.submissions,
		m.conflicts,
		m.upcoming,
		m.notifications,
		m.droppedNotifies,
		m.checkDuration,
		m.storedEvents,
	)
	return m
}

func (m *Metrics) ObserveSubmission(result string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(result).Inc()
}

func (m *Metrics) AddConflicts(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.conflicts.Add(float64(n))
}

func (m *Metrics) AddUpcoming(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.upcoming.Add(float64(n))
}

func (m *Metrics) ObserveNotification(kind string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.notifications.WithLabelValues(kind, status).Inc()
}

func (m *Metrics) IncDropped() {
	if m == nil {
		return
	}
	m.droppedNotifies.Inc()
}

func (m *Metrics) ObserveCheck(check string, seconds float64) {
	if m == nil {
		return
	}
	m.checkDuration.WithLabelValues(check).Observe(seconds)
}

func (m *Metrics) SetStoredEvents(n int) {
	if m == nil {
		return
	}
	m.storedEvents.Set(float64(n))
}
