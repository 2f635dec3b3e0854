package restbridge

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// gatewayMetrics tracks the HTTP side of the bridge. The route label is the
// binding's raw template, so cardinality stays bounded by the schema.
type gatewayMetrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	streamElements  *prometheus.CounterVec
	activeStreams   prometheus.Gauge

	registerer prometheus.Registerer
}

func newBridgeCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "restbridge",
			Subsystem: "http",
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

func newGatewayMetrics(registerer prometheus.Registerer) *gatewayMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &gatewayMetrics{
		registerer:    registerer,
		requestsTotal: newBridgeCounterVec("requests_total", "Requests dispatched through the bridge", []string{"method", "route", "code"}),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "restbridge",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Wall time per request, streams included",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"method", "route"},
		),
		streamElements: newBridgeCounterVec("stream_elements_total", "NDJSON elements moved in either direction", []string{"direction"}),
		activeStreams: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "restbridge",
				Subsystem: "http",
				Name:      "active_streams",
				Help:      "Streaming exchanges currently open",
			},
		),
	}
}

// register installs the collectors. Safe to call for registries that already
// hold them, so two gateways can share one registerer.
func (m *gatewayMetrics) register() error {
	collectors := []prometheus.Collector{
		m.requestsTotal,
		m.requestDuration,
		m.streamElements,
		m.activeStreams,
	}
	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}

func (m *gatewayMetrics) observeRequest(method, route string, code int, took time.Duration) {
	m.requestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.requestDuration.WithLabelValues(method, route).Observe(took.Seconds())
}

func (m *gatewayMetrics) elementIn() {
	m.streamElements.WithLabelValues("in").Inc()
}

func (m *gatewayMetrics) elementOut() {
	m.streamElements.WithLabelValues("out").Inc()
}

func (m *gatewayMetrics) streamOpened() {
	m.activeStreams.Inc()
}

func (m *gatewayMetrics) streamClosed() {
	m.activeStreams.Dec()
}
