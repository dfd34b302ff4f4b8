package pipeline

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports pipeline run telemetry.
type Metrics struct {
	runs      *prometheus.CounterVec
	fallbacks prometheus.Counter
	duration  prometheus.Histogram
}

// NewMetrics registers pipeline metrics against reg. A nil registerer uses
// the default one.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "murmur", Subsystem: "pipeline",
			Name: "runs_total",
			Help: "Pipeline runs by outcome state.",
		}, []string{"state"}),
		fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "murmur", Subsystem: "pipeline",
			Name: "extraction_fallbacks_total",
			Help: "Runs where extraction degraded to the keyword fallback.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "murmur", Subsystem: "pipeline",
			Name:    "processing_duration_seconds",
			Help:    "Latency of one full transcription and extraction run.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	collectors := []prometheus.Collector{m.runs, m.fallbacks, m.duration}
	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return nil, fmt.Errorf("register pipeline metric: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) observeRun(state RunState, seconds float64) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(string(state)).Inc()
	m.duration.Observe(seconds)
}

func (m *Metrics) observeFallback() {
	if m == nil {
		return
	}
	m.fallbacks.Inc()
}
