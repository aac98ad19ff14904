// Copyright 2025 VeloxMQ Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package veloxmq manages a pool of named broker connections and the
// producer/consumer links attached to them: bounded-retry open, unbounded
// reopen after peer disconnects, credit-flow-controlled receivers, and
// bounded-concurrency dispatch with explicit accept/reject disposition.
package veloxmq

import (
	"context"
	"log/slog"
	"time"

	"github.com/veloxmq/veloxmq-go/internal/rabbitmq"
	"github.com/veloxmq/veloxmq-go/messaging"
)

// DefaultConnectionToken names the connection NewClient opens when the
// caller does not pick a token.
const DefaultConnectionToken = "default"

// Client is the entry point. It wires the event bus, connection manager,
// link factory, producer, and consumer registry together over a single
// transport.
type Client struct {
	bus      *messaging.EventBus
	manager  *messaging.ConnectionManager
	links    *messaging.LinkFactory
	producer *messaging.Producer
	registry *messaging.Registry
	logger   *slog.Logger
	metrics  messaging.MetricsCollector

	dispatchers []*messaging.Dispatcher
}

// clientConfig holds client configuration.
type clientConfig struct {
	logger    *slog.Logger
	metrics   messaging.MetricsCollector
	transport messaging.Transport
	connOpts  messaging.ConnectionOptions
}

// ClientOption configures the client.
type ClientOption func(*clientConfig)

// WithLogger sets the logger for all components.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(cfg *clientConfig) {
		cfg.logger = logger
	}
}

// WithMetrics sets the metrics collector for all components.
func WithMetrics(metrics messaging.MetricsCollector) ClientOption {
	return func(cfg *clientConfig) {
		cfg.metrics = metrics
	}
}

// WithTransport replaces the default RabbitMQ transport. Tests use this
// to run against an in-memory transport.
func WithTransport(transport messaging.Transport) ClientOption {
	return func(cfg *clientConfig) {
		cfg.transport = transport
	}
}

// WithConnectionToken names the client's default connection.
func WithConnectionToken(token string) ClientOption {
	return func(cfg *clientConfig) {
		cfg.connOpts.Token = token
	}
}

// WithReconnectDelay sets the wait between bounded open attempts.
func WithReconnectDelay(d time.Duration) ClientOption {
	return func(cfg *clientConfig) {
		cfg.connOpts.InitialReconnectDelay = d
	}
}

// WithReconnectLimit caps open re-attempts after the first failure.
func WithReconnectLimit(n int) ClientOption {
	return func(cfg *clientConfig) {
		cfg.connOpts.ReconnectLimit = n
	}
}

// WithReopenDelay sets the wait between reopen attempts after a peer
// disconnect.
func WithReopenDelay(d time.Duration) ClientOption {
	return func(cfg *clientConfig) {
		cfg.connOpts.ReopenDelay = d
	}
}

// WithReopenLimit caps reopen attempts after a disconnect. Zero or below
// keeps the baseline unbounded behavior.
func WithReopenLimit(n int) ClientOption {
	return func(cfg *clientConfig) {
		cfg.connOpts.ReopenLimit = n
	}
}

// NewClient opens the default connection and assembles the messaging
// stack. A connection whose bounded retries exhaust does not fail the
// call: per the lifecycle contract the connection comes back in FAILED
// state and callers inspect Connection().State().
func NewClient(ctx context.Context, uri string, options ...ClientOption) (*Client, error) {
	cfg := &clientConfig{
		logger:  slog.Default(),
		metrics: &messaging.NoOpMetricsCollector{},
		connOpts: messaging.ConnectionOptions{
			Token: DefaultConnectionToken,
			URI:   uri,
		},
	}

	for _, opt := range options {
		opt(cfg)
	}
	cfg.connOpts.URI = uri

	transport := cfg.transport
	if transport == nil {
		transport = rabbitmq.NewTransport(rabbitmq.WithLogger(cfg.logger))
	}

	bus := messaging.NewEventBus(messaging.WithEventBusLogger(cfg.logger))
	manager := messaging.NewConnectionManager(transport, bus,
		messaging.WithManagerLogger(cfg.logger),
		messaging.WithManagerMetrics(cfg.metrics),
	)

	if _, err := manager.CreateConnection(ctx, cfg.connOpts); err != nil {
		bus.Close()
		return nil, err
	}

	links := messaging.NewLinkFactory(manager, messaging.WithLinkLogger(cfg.logger))
	producer := messaging.NewProducer(links,
		messaging.WithDefaultConnection(cfg.connOpts.Token),
		messaging.WithProducerLogger(cfg.logger),
		messaging.WithProducerMetrics(cfg.metrics),
	)

	return &Client{
		bus:      bus,
		manager:  manager,
		links:    links,
		producer: producer,
		registry: messaging.NewRegistry(),
		logger:   cfg.logger,
		metrics:  cfg.metrics,
	}, nil
}

// Producer returns the message producer.
func (c *Client) Producer() *messaging.Producer {
	return c.producer
}

// Manager returns the connection manager.
func (c *Client) Manager() *messaging.ConnectionManager {
	return c.manager
}

// Links returns the link factory.
func (c *Client) Links() *messaging.LinkFactory {
	return c.links
}

// EventBus returns the lifecycle event bus.
func (c *Client) EventBus() *messaging.EventBus {
	return c.bus
}

// Connection looks up a connection by token.
func (c *Client) Connection(token string) (*messaging.Connection, error) {
	return c.manager.Get(token)
}

// RegisterConsumer adds a consumer registration. Registrations close when
// StartConsumers runs; the set is immutable afterwards.
func (c *Client) RegisterConsumer(reg messaging.ConsumerRegistration) error {
	if reg.ConnectionToken == "" {
		reg.ConnectionToken = DefaultConnectionToken
	}
	return c.registry.Register(reg)
}

// StartConsumers attaches one receiver per registration and starts its
// dispatcher.
func (c *Client) StartConsumers(ctx context.Context) error {
	for _, reg := range c.registry.Registrations() {
		receiver, err := c.links.CreateReceiver(ctx, reg.ConnectionToken, reg.Prefetch, messaging.ReceiverOptions{
			Topic: reg.Topic,
		})
		if err != nil {
			c.stopDispatchers()
			return err
		}

		d := messaging.NewDispatcher(receiver, reg,
			messaging.WithDispatcherLogger(c.logger),
			messaging.WithDispatcherMetrics(c.metrics),
		)
		d.Start(ctx)
		c.dispatchers = append(c.dispatchers, d)
	}
	return nil
}

func (c *Client) stopDispatchers() {
	for _, d := range c.dispatchers {
		d.Stop()
	}
	c.dispatchers = nil
}

// Close tears the stack down in reverse dependency order.
func (c *Client) Close() error {
	c.stopDispatchers()
	if err := c.producer.Close(); err != nil {
		c.logger.Warn("producer close failed", "error", err)
	}
	err := c.manager.Close()
	c.bus.Close()
	return err
}
