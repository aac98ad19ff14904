// Package metrics provides a Prometheus-backed implementation of
// messaging.MetricsCollector. The no-op collector remains the default;
// wire this one in when the process exposes a /metrics endpoint.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector records messaging activity as Prometheus series.
type PrometheusCollector struct {
	sends            *prometheus.CounterVec
	sendDuration     *prometheus.HistogramVec
	deliveries       *prometheus.CounterVec
	deliveryDuration *prometheus.HistogramVec
	connectionEvents *prometheus.CounterVec
}

// NewPrometheusCollector registers the collector's series with the given
// registerer; pass prometheus.DefaultRegisterer for the process default.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	factory := promauto.With(reg)

	return &PrometheusCollector{
		sends: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "veloxmq_sends_total",
			Help: "Messages sent, by topic and broker verdict.",
		}, []string{"topic", "accepted"}),
		sendDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "veloxmq_send_duration_seconds",
			Help:    "Time from send to broker disposition.",
			Buckets: prometheus.DefBuckets,
		}, []string{"topic"}),
		deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "veloxmq_deliveries_total",
			Help: "Dispatched deliveries, by topic and disposition outcome.",
		}, []string{"topic", "outcome"}),
		deliveryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "veloxmq_delivery_duration_seconds",
			Help:    "Handler execution time including disposition.",
			Buckets: prometheus.DefBuckets,
		}, []string{"topic"}),
		connectionEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "veloxmq_connection_events_total",
			Help: "Connection lifecycle events, by token and event.",
		}, []string{"connection", "event"}),
	}
}

// RecordSend implements messaging.MetricsCollector.
func (c *PrometheusCollector) RecordSend(topic string, duration time.Duration, accepted bool) {
	verdict := "false"
	if accepted {
		verdict = "true"
	}
	c.sends.WithLabelValues(topic, verdict).Inc()
	c.sendDuration.WithLabelValues(topic).Observe(duration.Seconds())
}

// RecordDelivery implements messaging.MetricsCollector.
func (c *PrometheusCollector) RecordDelivery(topic string, duration time.Duration, outcome string) {
	c.deliveries.WithLabelValues(topic, outcome).Inc()
	c.deliveryDuration.WithLabelValues(topic).Observe(duration.Seconds())
}

// RecordConnectionEvent implements messaging.MetricsCollector.
func (c *PrometheusCollector) RecordConnectionEvent(token string, event string) {
	c.connectionEvents.WithLabelValues(token, event).Inc()
}
