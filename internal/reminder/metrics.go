package reminder

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports reminder delivery telemetry.
type Metrics struct {
	sweepProcessed prometheus.Counter
	sweepFailed    prometheus.Counter
	sweepDuration  prometheus.Histogram
	deviceAccepted prometheus.Counter
	deviceRejected prometheus.Counter
}

// NewMetrics registers reminder metrics against reg. A nil registerer uses
// the default one.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		sweepProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "murmur", Subsystem: "reminder",
			Name: "sweep_rows_processed_total",
			Help: "Due actions resolved by the server sweep.",
		}),
		sweepFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "murmur", Subsystem: "reminder",
			Name: "sweep_rows_failed_total",
			Help: "Due actions marked failed during a sweep.",
		}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "murmur", Subsystem: "reminder",
			Name:    "sweep_duration_seconds",
			Help:    "Latency of one full sweep pass.",
			Buckets: prometheus.DefBuckets,
		}),
		deviceAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "murmur", Subsystem: "reminder",
			Name: "device_notifications_scheduled_total",
			Help: "Reminders accepted by the on-device scheduler.",
		}),
		deviceRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "murmur", Subsystem: "reminder",
			Name: "device_notifications_rejected_total",
			Help: "Reminders the on-device scheduler could not take.",
		}),
	}
	collectors := []prometheus.Collector{
		m.sweepProcessed, m.sweepFailed, m.sweepDuration,
		m.deviceAccepted, m.deviceRejected,
	}
	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return nil, fmt.Errorf("register reminder metric: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) observeSweep(processed, failed int, seconds float64) {
	if m == nil {
		return
	}
	m.sweepProcessed.Add(float64(processed))
	m.sweepFailed.Add(float64(failed))
	m.sweepDuration.Observe(seconds)
}

func (m *Metrics) observeDevice(accepted bool) {
	if m == nil {
		return
	}
	if accepted {
		m.deviceAccepted.Inc()
	} else {
		m.deviceRejected.Inc()
	}
}
