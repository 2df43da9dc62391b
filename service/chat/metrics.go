package chat

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is nil-safe: every method on a nil *Metrics is a no-op.
type Metrics struct {
	connsActive   prometheus.Gauge
	connsTotal    prometheus.Counter
	handshakeRej  *prometheus.CounterVec
	closed        *prometheus.CounterVec
	frames        *prometheus.CounterVec
	frameErrors   *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	replayed      prometheus.Counter
	replayAborted prometheus.Counter
	storeLatency  *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		connsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pprelay_connections_active",
			Help: "Connections currently in the presence registry.",
		}),
		connsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pprelay_connections_total",
			Help: "Connections admitted since start.",
		}),
		handshakeRej: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pprelay_handshake_rejections_total",
			Help: "Rejected upgrade requests by outcome.",
		}, []string{"outcome"}),
		closed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pprelay_connections_closed_total",
			Help: "Closed connections by reason.",
		}, []string{"reason"}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pprelay_frames_total",
			Help: "Inbound frames by type.",
		}, []string{"type"}),
		frameErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pprelay_frame_errors_total",
			Help: "Error frames sent to clients by code.",
		}, []string{"code"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pprelay_message_transitions_total",
			Help: "Message lifecycle transitions by resulting state.",
		}, []string{"state"}),
		replayed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pprelay_replayed_messages_total",
			Help: "Messages delivered by reconnect replay.",
		}),
		replayAborted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pprelay_replay_aborted_total",
			Help: "Replays stopped early by a store error.",
		}),
		storeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pprelay_store_latency_seconds",
			Help:    "Message store call latency.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5},
		}, []string{"op"}),
	}
	reg.MustRegister(
		m.connsActive,
		m.connsTotal,
		m.handshakeRej,
		m.closed,
		m.frames,
		m.frameErrors,
		m.transitions,
		m.replayed,
		m.replayAborted,
		m.storeLatency,
	)
	return m
}

func (m *Metrics) connOpened() {
	if m == nil {
		return
	}
	m.connsActive.Inc()
	m.connsTotal.Inc()
}

func (m *Metrics) connClosed(reason string) {
	if m == nil {
		return
	}
	m.connsActive.Dec()
	m.closed.WithLabelValues(reason).Inc()
}

func (m *Metrics) handshakeRejected(outcome string) {
	if m == nil {
		return
	}
	m.handshakeRej.WithLabelValues(outcome).Inc()
}

func (m *Metrics) frame(kind string) {
	if m == nil {
		return
	}
	m.frames.WithLabelValues(kind).Inc()
}

func (m *Metrics) frameError(code string) {
	if m == nil {
		return
	}
	m.frameErrors.WithLabelValues(code).Inc()
}

func (m *Metrics) transition(state string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(state).Inc()
}

func (m *Metrics) replay(n int, aborted bool) {
	if m == nil {
		return
	}
	m.replayed.Add(float64(n))
	if aborted {
		m.replayAborted.Inc()
	}
}

func (m *Metrics) observeStore(op string, start time.Time) {
	if m == nil {
		return
	}
	m.storeLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
