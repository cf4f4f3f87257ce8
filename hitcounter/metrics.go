package hitcounter

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records Counter activity as Prometheus collectors. Register it with
// WithObserver.
type Metrics struct {
	attempts *prometheus.CounterVec
	pauses   prometheus.Counter
	results  *prometheus.CounterVec
	duration prometheus.Histogram
}

func NewMetrics(r prometheus.Registerer) *Metrics {
	var m Metrics

	m.attempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hitcounter",
		Name:      "attempts_total",
		Help:      "Datastore increment attempts by outcome.",
	}, []string{"outcome"})

	m.pauses = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "hitcounter",
		Name:      "backoff_pauses_total",
		Help:      "Pauses taken between increment attempts.",
	})

	m.results = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hitcounter",
		Name:      "increments_total",
		Help:      "Increment calls by final state.",
	}, []string{"state"})

	m.duration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "hitcounter",
		Name:      "increment_duration_seconds",
		Help:      "Duration of increment calls, including pauses.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 16),
	})

	r.MustRegister(m.attempts, m.pauses, m.results, m.duration)
	return &m
}

func (m *Metrics) Observe(t Transition) {
	if t.Remote {
		switch t.To {
		case Succeeded:
			m.attempts.WithLabelValues("success").Inc()
		case BackingOff, FailedExhausted:
			m.attempts.WithLabelValues("transient").Inc()
		case FailedFatal:
			m.attempts.WithLabelValues("fatal").Inc()
		}
	}

	if t.To == BackingOff {
		m.pauses.Inc()
	}

	if t.To.Terminal() {
		m.results.WithLabelValues(t.To.String()).Inc()
		m.duration.Observe(t.Elapsed.Seconds())
	}
}
