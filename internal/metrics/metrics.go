package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	DropBackpressure = "backpressure"
	DropNotStreaming = "not_streaming"
	DropStale        = "stale"
	DropPaused       = "paused"
	DropConsumerSlow = "consumer_slow"
	DropRingOverflow = "ring_overflow"
)

// Metrics holds the service's Prometheus collectors. All methods are safe
// on a nil receiver so components can run without instrumentation.
type Metrics struct {
	registry *prometheus.Registry

	chunksEmitted     prometheus.Counter
	chunksSent        prometheus.Counter
	chunksDropped     *prometheus.CounterVec
	reconnectAttempts *prometheus.CounterVec
	transportErrors   *prometheus.CounterVec
	sessionState      prometheus.Gauge
	audioLevel        *prometheus.GaugeVec
	segmentsCommitted prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		chunksEmitted: f.NewCounter(prometheus.CounterOpts{
			Name: "transcriber_audio_chunks_emitted_total",
			Help: "Canonical audio chunks produced by the capture pipeline",
		}),
		chunksSent: f.NewCounter(prometheus.CounterOpts{
			Name: "transcriber_audio_chunks_sent_total",
			Help: "Audio chunks written to the streaming transport",
		}),
		chunksDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "transcriber_audio_chunks_dropped_total",
			Help: "Audio chunks or frames dropped, by reason",
		}, []string{"reason"}),
		reconnectAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "transcriber_reconnect_attempts_total",
			Help: "Transport reconnection attempts, by trigger",
		}, []string{"trigger"}),
		transportErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "transcriber_transport_errors_total",
			Help: "Streaming transport errors, by kind",
		}, []string{"kind"}),
		sessionState: f.NewGauge(prometheus.GaugeOpts{
			Name: "transcriber_session_state",
			Help: "Current session state (0 idle, 1 connecting, 2 streaming, 3 reconnecting, 4 failed, 5 stopped)",
		}),
		audioLevel: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "transcriber_audio_level_rms",
			Help: "Latest RMS level per capture source",
		}, []string{"role"}),
		segmentsCommitted: f.NewCounter(prometheus.CounterOpts{
			Name: "transcriber_segments_committed_total",
			Help: "Final transcript segments committed to the ordered feed",
		}),
	}
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ChunkEmitted() {
	if m == nil {
		return
	}
	m.chunksEmitted.Inc()
}

func (m *Metrics) ChunkSent() {
	if m == nil {
		return
	}
	m.chunksSent.Inc()
}

func (m *Metrics) ChunkDropped(reason string) {
	if m == nil {
		return
	}
	m.chunksDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) FramesDropped(reason string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.chunksDropped.WithLabelValues(reason).Add(float64(n))
}

func (m *Metrics) ReconnectAttempt(trigger string) {
	if m == nil {
		return
	}
	m.reconnectAttempts.WithLabelValues(trigger).Inc()
}

func (m *Metrics) TransportError(kind string) {
	if m == nil {
		return
	}
	m.transportErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) SessionState(code int) {
	if m == nil {
		return
	}
	m.sessionState.Set(float64(code))
}

func (m *Metrics) AudioLevel(role string, rms float64) {
	if m == nil {
		return
	}
	m.audioLevel.WithLabelValues(role).Set(rms)
}

func (m *Metrics) SegmentCommitted() {
	if m == nil {
		return
	}
	m.segmentsCommitted.Inc()
}
