// Package messaging implements the connection and link lifecycle core of
// veloxmq: the connection manager and its retry state machine, the event
// bus carrying lifecycle notifications, the link factory with receiver
// credit management, the producer, and the bounded-concurrency dispatcher.
//
// The package is transport-agnostic. All protocol work goes through the
// Transport interfaces defined in transport.go; internal/rabbitmq provides
// the production implementation and tests use in-memory fakes.
package messaging
