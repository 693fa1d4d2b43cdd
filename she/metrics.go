package she

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/aidangarske/wolfHSM/she/sheproto"
)

// Metrics is kept separate from State so the core state machine has zero
// Prometheus import — the teacher keeps MountState (protocol) separate
// from its optional instrumentation hooks (fuse/latencymap.go) the same
// way.
type Metrics struct {
	commands *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// NewMetrics registers the dispatcher's counters and histogram against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "she_commands_total",
			Help: "SHE commands processed, by action and result code.",
		}, []string{"action", "rc"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "she_command_duration_seconds",
			Help:    "SHE handler latency by action.",
			Buckets: prometheus.DefBuckets,
		}, []string{"action"}),
	}
	reg.MustRegister(m.commands, m.latency)
	return m
}

func (m *Metrics) observe(action sheproto.Action, rc Status, seconds float64) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(action.String(), rc.String()).Inc()
	m.latency.WithLabelValues(action.String()).Observe(seconds)
}
