package capture

import (
	"github.com/prometheus/client_golang/prometheus"
)

const subsystem = "capture"

// Metrics counts what capture sessions receive. One Metrics value may be
// shared by consecutive sessions.
type Metrics struct {
	Bytes        prometheus.Counter
	Records      prometheus.Counter
	Throttles    prometheus.Counter
	Overruns     prometheus.Counter
	DecodeErrors prometheus.Counter
	Sessions     prometheus.Gauge
}

// NewMetrics creates the capture metrics and registers them with reg. A nil
// reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "otla",
			Subsystem: subsystem,
			Name:      "bytes_total",
			Help:      "Raw trace bytes received from the analyzer.",
		}),
		Records: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "otla",
			Subsystem: subsystem,
			Name:      "records_total",
			Help:      "Decoded timeline records.",
		}),
		Throttles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "otla",
			Subsystem: subsystem,
			Name:      "throttle_transitions_total",
			Help:      "Throttle on and off transitions reported by the analyzer.",
		}),
		Overruns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "otla",
			Subsystem: subsystem,
			Name:      "overruns_total",
			Help:      "Traces truncated by an analyzer FIFO overrun.",
		}),
		DecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "otla",
			Subsystem: subsystem,
			Name:      "decode_errors_total",
			Help:      "Traces abandoned because of malformed input.",
		}),
		Sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "otla",
			Subsystem: subsystem,
			Name:      "active_sessions",
			Help:      "Capture sessions currently running.",
		}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.Bytes, m.Records, m.Throttles, m.Overruns, m.DecodeErrors, m.Sessions} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}
