package quality

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes optional Prometheus instrumentation for a session's
// connection quality. It is nil-safe: a zero-value *Metrics (or a nil
// pointer, guarded by the constructor) drops every observation. Embedding
// applications that don't run a metrics endpoint pay nothing for this.
type Metrics struct {
	framesSeen      prometheus.Counter
	framesLost      prometheus.Counter
	gcmFailures     prometheus.Counter
	connectionState prometheus.Gauge
}

// NewMetrics registers session metrics against reg, labeled with
// sessionID so multiple concurrent sessions in one process don't collide.
// Passing a nil Registerer yields a Metrics whose methods are all no-ops.
func NewMetrics(reg prometheus.Registerer, sessionID string) *Metrics {
	if reg == nil {
		return nil
	}

	labels := prometheus.Labels{"session": sessionID}
	m := &Metrics{
		framesSeen: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "moonlight_control_frames_seen_total",
			Help:        "Frames observed by the connection quality monitor.",
			ConstLabels: labels,
		}),
		framesLost: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "moonlight_control_frames_lost_total",
			Help:        "Frames that never fully reassembled.",
			ConstLabels: labels,
		}),
		gcmFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "moonlight_control_gcm_failures_total",
			Help:        "AES-GCM authentication failures on the control channel.",
			ConstLabels: labels,
		}),
		connectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "moonlight_control_connection_poor",
			Help:        "1 if the connection quality monitor currently reports POOR, else 0.",
			ConstLabels: labels,
		}),
	}

	reg.MustRegister(m.framesSeen, m.framesLost, m.gcmFailures, m.connectionState)
	return m
}

func (m *Metrics) IncFramesSeen() {
	if m == nil {
		return
	}
	m.framesSeen.Inc()
}

func (m *Metrics) IncFramesLost() {
	if m == nil {
		return
	}
	m.framesLost.Inc()
}

func (m *Metrics) IncGCMFailures() {
	if m == nil {
		return
	}
	m.gcmFailures.Inc()
}

func (m *Metrics) SetPoor(poor bool) {
	if m == nil {
		return
	}
	if poor {
		m.connectionState.Set(1)
	} else {
		m.connectionState.Set(0)
	}
}
