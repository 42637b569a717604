package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	secretdomain "github.com/crmarques/funcvault/secrets"
)

var _ secretdomain.EventLogger = (*PrometheusEventLogger)(nil)

// PrometheusEventLogger implements the begin/end event hooks with a counter
// and a duration histogram, labeled by event name and scope identity.
type PrometheusEventLogger struct {
	events    *prometheus.CounterVec
	durations *prometheus.HistogramVec
}

func NewPrometheusEventLogger(registerer prometheus.Registerer) *PrometheusEventLogger {
	logger := &PrometheusEventLogger{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "funcvault",
			Name:      "secret_events_total",
			Help:      "Secret manager operations started, by event and scope.",
		}, []string{"event", "scope"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "funcvault",
			Name:      "secret_event_duration_seconds",
			Help:      "Secret manager operation latency, by event and scope.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event", "scope"}),
	}
	if registerer != nil {
		registerer.MustRegister(logger.events, logger.durations)
	}
	return logger
}

func (l *PrometheusEventLogger) BeginEvent(name string, scope string) func() {
	start := time.Now()
	l.events.WithLabelValues(name, scope).Inc()
	return func() {
		l.durations.WithLabelValues(name, scope).Observe(time.Since(start).Seconds())
	}
}

var _ secretdomain.EventLogger = DiscardEventLogger{}

// DiscardEventLogger drops all events.
type DiscardEventLogger struct{}

func (DiscardEventLogger) BeginEvent(string, string) func() {
	return func() {}
}
