package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/salespaulo/fvi-actor-system/core/metrics"
	"github.com/salespaulo/fvi-actor-system/core/transport"
)

// transportMetrics implements transport.TransportMetrics using Prometheus.
type transportMetrics struct {
	roundTripDuration *prometheus.HistogramVec
	requestsTotal     *prometheus.CounterVec
	notifiesTotal     *prometheus.CounterVec
	transportErrors   *prometheus.CounterVec
	frameDuration     *prometheus.HistogramVec
	framesTotal       *prometheus.CounterVec
	sessionsActive    prometheus.Gauge
	processesActive   prometheus.Gauge
}

// NewTransportMetrics creates a new Prometheus implementation of
// TransportMetrics.
func NewTransportMetrics(reg prometheus.Registerer) transport.TransportMetrics {
	m := &transportMetrics{
		roundTripDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fvi_transport_round_trip_duration_seconds",
			Help:    "Request to reply latency across a process boundary",
			Buckets: defaultBuckets,
		}, []string{"kind"}),

		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fvi_transport_requests_total",
			Help: "Total number of requests sent to proxied actors",
		}, []string{"kind", "success"}),

		notifiesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fvi_transport_notifies_total",
			Help: "Total number of fire-and-forget messages sent to proxied actors",
		}, []string{"kind", "success"}),

		transportErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fvi_transport_errors_total",
			Help: "Total number of transport errors",
		}, []string{"error_type"}),

		frameDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fvi_transport_frame_duration_seconds",
			Help:    "Host frame handling time in seconds",
			Buckets: defaultBuckets,
		}, []string{"frame"}),

		framesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fvi_transport_frames_total",
			Help: "Total number of frames handled by the host",
		}, []string{"frame", "success"}),

		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fvi_transport_sessions_active",
			Help: "Open peer sessions",
		}),

		processesActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fvi_transport_processes_active",
			Help: "Running forked child processes",
		}),
	}

	reg.MustRegister(
		m.roundTripDuration,
		m.requestsTotal,
		m.notifiesTotal,
		m.transportErrors,
		m.frameDuration,
		m.framesTotal,
		m.sessionsActive,
		m.processesActive,
	)

	return m
}

func (m *transportMetrics) RoundTripDuration(kind string) metrics.Timer {
	return newTimer(m.roundTripDuration.WithLabelValues(kind))
}

func (m *transportMetrics) RequestCompleted(kind string, success bool) {
	m.requestsTotal.WithLabelValues(kind, boolToStr(success)).Inc()
}

func (m *transportMetrics) NotifyCompleted(kind string, success bool) {
	m.notifiesTotal.WithLabelValues(kind, boolToStr(success)).Inc()
}

func (m *transportMetrics) TransportError(errorType string) {
	m.transportErrors.WithLabelValues(errorType).Inc()
}

func (m *transportMetrics) FrameDuration(frameKind string) metrics.Timer {
	return newTimer(m.frameDuration.WithLabelValues(frameKind))
}

func (m *transportMetrics) FrameHandled(frameKind string, success bool) {
	m.framesTotal.WithLabelValues(frameKind, boolToStr(success)).Inc()
}

func (m *transportMetrics) SessionsActive(count int) {
	m.sessionsActive.Set(float64(count))
}

func (m *transportMetrics) ProcessesActive(count int) {
	m.processesActive.Set(float64(count))
}

var _ transport.TransportMetrics = (*transportMetrics)(nil)
