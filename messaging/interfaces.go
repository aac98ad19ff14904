package messaging

import "time"

// MetricsCollector observes messaging activity. Implementations must be
// safe for concurrent use.
type MetricsCollector interface {
	// RecordSend records one send and its broker verdict.
	RecordSend(topic string, duration time.Duration, accepted bool)

	// RecordDelivery records one dispatched delivery and its disposition
	// outcome ("accepted" or "rejected").
	RecordDelivery(topic string, duration time.Duration, outcome string)

	// RecordConnectionEvent records a connection lifecycle event.
	RecordConnectionEvent(token string, event string)
}

// NoOpMetricsCollector is the default collector; it discards everything.
type NoOpMetricsCollector struct{}

// RecordSend does nothing.
func (n *NoOpMetricsCollector) RecordSend(topic string, duration time.Duration, accepted bool) {}

// RecordDelivery does nothing.
func (n *NoOpMetricsCollector) RecordDelivery(topic string, duration time.Duration, outcome string) {}

// RecordConnectionEvent does nothing.
func (n *NoOpMetricsCollector) RecordConnectionEvent(token string, event string) {}
