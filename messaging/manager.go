package messaging

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/veloxmq/veloxmq-go/contracts"
)

// ConnectionManager owns the registry of named connections and drives the
// open/retry/reconnect state machine for each of them. It is the single
// writer of the registry; the link factory and producer only read it.
type ConnectionManager struct {
	transport Transport
	bus       *EventBus
	logger    *slog.Logger
	metrics   MetricsCollector

	mu    sync.RWMutex
	conns map[string]*Connection
}

// ManagerOption configures the ConnectionManager.
type ManagerOption func(*ConnectionManager)

// WithManagerLogger sets the logger.
func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(m *ConnectionManager) {
		m.logger = logger
	}
}

// WithManagerMetrics sets the metrics collector.
func WithManagerMetrics(metrics MetricsCollector) ManagerOption {
	return func(m *ConnectionManager) {
		m.metrics = metrics
	}
}

// NewConnectionManager creates a connection manager publishing lifecycle
// events on the given bus.
func NewConnectionManager(transport Transport, bus *EventBus, options ...ManagerOption) *ConnectionManager {
	m := &ConnectionManager{
		transport: transport,
		bus:       bus,
		logger:    slog.Default(),
		metrics:   &NoOpMetricsCollector{},
		conns:     make(map[string]*Connection),
	}

	for _, opt := range options {
		opt(m)
	}

	return m
}

// CreateConnection registers and opens a named connection. Open failures
// are retried per the bounded policy; when retries exhaust the connection
// is returned in FAILED state with a nil error, so callers must inspect
// State() rather than assume an error means failure. Cancelling the
// context during the bounded retry lands the connection in FAILED state
// the same way; a non-nil error reports configuration problems only.
func (m *ConnectionManager) CreateConnection(ctx context.Context, opts ConnectionOptions) (*Connection, error) {
	if err := validateOptions(opts); err != nil {
		return nil, err
	}

	conn := &Connection{
		token:  opts.Token,
		opts:   opts,
		state:  StateInit,
		logger: m.logger,
		done:   make(chan struct{}),
	}

	m.mu.Lock()
	if existing, ok := m.conns[opts.Token]; ok && existing.State() != StateClosed {
		m.mu.Unlock()
		return nil, contracts.ErrConnectionExists
	}
	m.conns[opts.Token] = conn
	m.mu.Unlock()

	m.open(ctx, conn)
	return conn, nil
}

// open drives the bounded open path: one initial attempt, then retries as
// the open policy allows, ending in OPEN or FAILED.
func (m *ConnectionManager) open(ctx context.Context, conn *Connection) {
	conn.setState(StateOpening)

	tc, err := m.transport.Open(ctx, conn.opts.URI)
	if err == nil {
		m.adopt(conn, tc)
		return
	}
	m.logger.Warn("connection open failed",
		"connection", conn.token,
		"error", err,
	)

	policy := OpenRetryPolicy(conn.opts.InitialReconnectDelay, conn.opts.ReconnectLimit)
	conn.setState(StateRetrying)

	for attempt := 1; policy.ShouldRetry(attempt); attempt++ {
		conn.mu.Lock()
		conn.attempts = attempt
		conn.mu.Unlock()

		select {
		case <-time.After(policy.NextDelay(attempt)):
		case <-ctx.Done():
			conn.setState(StateFailed)
			return
		case <-conn.done:
			return
		}

		tc, err = m.transport.Open(ctx, conn.opts.URI)
		if err == nil {
			m.adopt(conn, tc)
			return
		}
		m.logger.Warn("connection open retry failed",
			"connection", conn.token,
			"attempt", attempt,
			"error", err,
		)
	}

	conn.setState(StateFailed)
}

// adopt installs an open transport connection and arms the close monitor.
// Adoption fails when the connection was closed while the dial was in
// flight; the late transport is closed instead of leaked.
func (m *ConnectionManager) adopt(conn *Connection, tc TransportConnection) bool {
	if !conn.adoptTransport(tc) {
		if err := tc.Close(); err != nil {
			m.logger.Warn("failed to close transport refused by closed connection",
				"connection", conn.token,
				"error", err,
			)
		}
		return false
	}
	go m.monitor(conn, tc)
	return true
}

// monitor waits for the transport to report an unsolicited close and
// hands the connection to the unbounded reopen path.
func (m *ConnectionManager) monitor(conn *Connection, tc TransportConnection) {
	select {
	case err, ok := <-tc.NotifyClose():
		// A closed channel or a nil error means clean shutdown, not a
		// peer disconnect.
		if !ok || err == nil || conn.State() == StateClosed {
			return
		}
		conn.setTransport(nil)
		conn.setState(StateDisconnected)
		m.metrics.RecordConnectionEvent(conn.token, string(ConnectionDisconnected))
		m.bus.Publish(Event{Type: ConnectionDisconnected, Token: conn.token})
		m.logger.Warn("transport closed by peer",
			"connection", conn.token,
			"error", err,
		)
		m.reopen(conn)

	case <-conn.done:
		return
	}
}

// reopen retries the handshake on the disconnect path. Unbounded by
// default; a configured ReopenLimit caps it, and closing the connection
// cancels it.
func (m *ConnectionManager) reopen(conn *Connection) {
	policy := ReopenPolicy(conn.opts.ReopenDelay, conn.opts.ReopenLimit)
	conn.setState(StateReopening)

	for attempt := 1; policy.ShouldRetry(attempt); attempt++ {
		select {
		case <-time.After(policy.NextDelay(attempt)):
		case <-conn.done:
			return
		}

		tc, err := m.transport.Open(context.Background(), conn.opts.URI)
		if err != nil {
			m.logger.Warn("reopen attempt failed",
				"connection", conn.token,
				"attempt", attempt,
				"error", err,
			)
			continue
		}

		if !m.adopt(conn, tc) {
			return
		}
		m.metrics.RecordConnectionEvent(conn.token, string(ConnectionReconnected))
		m.bus.Publish(Event{Type: ConnectionReconnected, Token: conn.token})
		return
	}

	conn.setState(StateFailed)
}

// Get returns the connection registered for a token.
func (m *ConnectionManager) Get(token string) (*Connection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conn, ok := m.conns[token]
	if !ok {
		return nil, &contracts.ConnectionNotFoundError{Token: token}
	}
	return conn, nil
}

// Tokens returns the registered connection tokens.
func (m *ConnectionManager) Tokens() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tokens := make([]string, 0, len(m.conns))
	for token := range m.conns {
		tokens = append(tokens, token)
	}
	return tokens
}

// CloseConnection shuts one connection down and removes it from the
// registry, cancelling any in-flight reopen loop.
func (m *ConnectionManager) CloseConnection(token string) error {
	m.mu.Lock()
	conn, ok := m.conns[token]
	if ok {
		delete(m.conns, token)
	}
	m.mu.Unlock()

	if !ok {
		return &contracts.ConnectionNotFoundError{Token: token}
	}

	if tc := conn.markClosed(); tc != nil {
		return tc.Close()
	}
	return nil
}

// Close shuts down every registered connection.
func (m *ConnectionManager) Close() error {
	m.mu.Lock()
	conns := make([]*Connection, 0, len(m.conns))
	for _, conn := range m.conns {
		conns = append(conns, conn)
	}
	m.conns = make(map[string]*Connection)
	m.mu.Unlock()

	var firstErr error
	for _, conn := range conns {
		if tc := conn.markClosed(); tc != nil {
			if err := tc.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// validateOptions rejects unusable connection options up front.
func validateOptions(opts ConnectionOptions) error {
	if opts.Token == "" {
		return &contracts.ConfigurationError{Reason: "missing connection token"}
	}
	if opts.URI == "" {
		return &contracts.ConfigurationError{Token: opts.Token, Reason: "missing target URI"}
	}
	return nil
}
