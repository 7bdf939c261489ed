// Package metrics exposes playback engine telemetry as Prometheus
// collectors on a private registry.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zsiec/reel/internal/media"
	"github.com/zsiec/reel/internal/player"
)

// Metrics implements player.Metrics.
type Metrics struct {
	registry     *prometheus.Registry
	packetsRead  prometheus.Counter
	dispatched   *prometheus.CounterVec
	decodeErrors *prometheus.CounterVec
	frames       *prometheus.CounterVec
	readTimeouts prometheus.Counter
	pacingSleep  prometheus.Histogram
	state        prometheus.Gauge
	ingestBytes  prometheus.GaugeFunc
	requests     *prometheus.CounterVec
}

var _ player.Metrics = (*Metrics)(nil)

// New creates and registers the engine collectors. ingestBytes, when not
// nil, is sampled on every scrape for the total bytes received by network
// sources.
func New(ingestBytes func() float64) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		packetsRead: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reel_packets_read_total",
			Help: "Packets read from the container",
		}),
		dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reel_packets_dispatched_total",
			Help: "Packets handed to a decoder, by media kind",
		}, []string{"kind"}),
		decodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reel_decode_errors_total",
			Help: "Packets that failed to decode, by media kind",
		}, []string{"kind"}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reel_frames_total",
			Help: "Decoded frames delivered to the output step, by media kind",
		}, []string{"kind"}),
		readTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reel_read_timeouts_total",
			Help: "Sessions stopped because a read exceeded the read timeout",
		}),
		pacingSleep: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "reel_pacing_sleep_seconds",
			Help:    "Time the worker slept to pace packets",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "reel_state",
			Help: "Current playback state (0 stopped, 1 playing, 2 paused)",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reel_http_requests_total",
			Help: "Control API requests, by status class",
		}, []string{"code"}),
	}
	registry.MustRegister(
		m.packetsRead,
		m.dispatched,
		m.decodeErrors,
		m.frames,
		m.readTimeouts,
		m.pacingSleep,
		m.state,
		m.requests,
	)
	if ingestBytes != nil {
		m.ingestBytes = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "reel_ingest_bytes",
			Help: "Bytes received by active network sources",
		}, ingestBytes)
		registry.MustRegister(m.ingestBytes)
	}
	return m
}

func (m *Metrics) PacketRead() { m.packetsRead.Inc() }

func (m *Metrics) PacketDispatched(kind media.MediaKind) {
	m.dispatched.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) DecodeError(kind media.MediaKind) {
	m.decodeErrors.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) FrameEmitted(kind media.MediaKind) {
	m.frames.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) ReadTimeout() { m.readTimeouts.Inc() }

func (m *Metrics) PacingSleep(d time.Duration) { m.pacingSleep.Observe(d.Seconds()) }

func (m *Metrics) StateChanged(s player.State) { m.state.Set(float64(s)) }

// Registry returns the private registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RequestMiddleware counts control API requests by status class.
func (m *Metrics) RequestMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wrap := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrap, r)
		m.requests.WithLabelValues(fmt.Sprintf("%dxx", wrap.status/100)).Inc()
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
