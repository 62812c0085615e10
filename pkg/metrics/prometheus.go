package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusProvider implements the Provider interface using Prometheus
type PrometheusProvider struct {
	messagesReceived   *prometheus.CounterVec
	messagesDropped    *prometheus.CounterVec
	locationsPublished prometheus.Counter
	locationsDropped   prometheus.Counter
	reconnects         *prometheus.CounterVec
	connectionState    prometheus.Gauge
	trackedEntities    prometheus.Gauge
}

// NewPrometheusProvider creates a new Prometheus metrics provider
func NewPrometheusProvider() *PrometheusProvider {
	return &PrometheusProvider{
		messagesReceived: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracking_messages_received_total",
				Help: "Total number of location messages received per topic",
			},
			[]string{"topic"},
		),
		messagesDropped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracking_messages_dropped_total",
				Help: "Total number of inbound messages discarded",
			},
			[]string{"topic", "reason"},
		),
		locationsPublished: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "tracking_locations_published_total",
				Help: "Total number of outbound location updates published",
			},
		),
		locationsDropped: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "tracking_locations_dropped_total",
				Help: "Total number of outbound samples dropped while disconnected",
			},
		),
		reconnects: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracking_reconnects_total",
				Help: "Total number of broker reconnection attempts",
			},
			[]string{"status"},
		),
		connectionState: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "tracking_connection_active",
				Help: "Whether the broker connection is currently active",
			},
		),
		trackedEntities: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "tracking_entities",
				Help: "Number of entities with a known latest location",
			},
		),
	}
}

// RecordMessageReceived implements Provider interface
func (p *PrometheusProvider) RecordMessageReceived(topic string) {
	p.messagesReceived.WithLabelValues(topic).Inc()
}

// RecordMessageDropped implements Provider interface
func (p *PrometheusProvider) RecordMessageDropped(topic, reason string) {
	p.messagesDropped.WithLabelValues(topic, reason).Inc()
}

// RecordLocationPublished implements Provider interface
func (p *PrometheusProvider) RecordLocationPublished() {
	p.locationsPublished.Inc()
}

// RecordLocationDropped implements Provider interface
func (p *PrometheusProvider) RecordLocationDropped() {
	p.locationsDropped.Inc()
}

// RecordReconnect implements Provider interface
func (p *PrometheusProvider) RecordReconnect(success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	p.reconnects.WithLabelValues(status).Inc()
}

// SetConnectionState implements Provider interface
func (p *PrometheusProvider) SetConnectionState(active bool) {
	if active {
		p.connectionState.Set(1)
	} else {
		p.connectionState.Set(0)
	}
}

// SetTrackedEntities implements Provider interface
func (p *PrometheusProvider) SetTrackedEntities(count int) {
	p.trackedEntities.Set(float64(count))
}

// Handler implements Provider interface
func (p *PrometheusProvider) Handler() http.Handler {
	return promhttp.Handler()
}
