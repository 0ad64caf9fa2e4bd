package monitoring

import (
	"time"

	"roomrec/internal/core/domain"
	"roomrec/pkg/circuitbreaker"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector implements services.ControllerMetrics and exposes
// session and backend health gauges.
type PrometheusCollector struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	transitions     *prometheus.CounterVec
	statusGauge     *prometheus.GaugeVec
	circuitState    *prometheus.GaugeVec
	eventsReceived  prometheus.Counter
}

// NewPrometheusCollector registers the recording metrics with reg.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	factory := promauto.With(reg)
	return &PrometheusCollector{
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "roomrec_backend_requests_total",
			Help: "Recording backend requests by operation and outcome",
		}, []string{"op", "outcome"}),

		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "roomrec_backend_request_duration_seconds",
			Help:    "Duration of recording backend requests",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
		}, []string{"op"}),

		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "roomrec_recording_transitions_total",
			Help: "Recording status transitions",
		}, []string{"from", "to"}),

		statusGauge: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "roomrec_recordings",
			Help: "Recording controllers by status, excluding idle",
		}, []string{"status"}),

		circuitState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "roomrec_backend_circuit_state",
			Help: "Backend circuit breaker state (0 closed, 1 open, 2 half-open)",
		}, []string{"breaker"}),

		eventsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "roomrec_peer_events_received_total",
			Help: "Recording events received from other instances",
		}),
	}
}

// RegisterSessionGauge exposes count() as the number of open sessions.
func RegisterSessionGauge(reg prometheus.Registerer, count func() int) {
	promauto.With(reg).NewGaugeFunc(prometheus.GaugeOpts{
		Name: "roomrec_sessions_open",
		Help: "Conferencing sessions currently open",
	}, func() float64 { return float64(count()) })
}

func (p *PrometheusCollector) ObserveRequest(op, outcome string, d time.Duration) {
	p.requestsTotal.WithLabelValues(op, outcome).Inc()
	p.requestDuration.WithLabelValues(op).Observe(d.Seconds())
}

func (p *PrometheusCollector) ObserveTransition(from, to domain.RecordingStatus) {
	p.transitions.WithLabelValues(string(from), string(to)).Inc()
	if from != domain.StatusIdle {
		p.statusGauge.WithLabelValues(string(from)).Dec()
	}
	if to != domain.StatusIdle {
		p.statusGauge.WithLabelValues(string(to)).Inc()
	}
}

// ObserveCircuit matches recording.StateObserver.
func (p *PrometheusCollector) ObserveCircuit(name string, _, to circuitbreaker.State) {
	p.circuitState.WithLabelValues(name).Set(float64(to))
}

func (p *PrometheusCollector) RecordPeerEvent() {
	p.eventsReceived.Inc()
}
