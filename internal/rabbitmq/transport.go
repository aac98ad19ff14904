package rabbitmq

import (
	"context"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/veloxmq/veloxmq-go/messaging"
)

// Transport opens AMQP connections for the messaging core.
type Transport struct {
	logger      *slog.Logger
	dialTimeout time.Duration
}

// TransportOption configures the Transport.
type TransportOption func(*Transport)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) TransportOption {
	return func(t *Transport) {
		t.logger = logger
	}
}

// WithDialTimeout caps the protocol handshake duration.
func WithDialTimeout(d time.Duration) TransportOption {
	return func(t *Transport) {
		t.dialTimeout = d
	}
}

// NewTransport creates the production transport.
func NewTransport(options ...TransportOption) *Transport {
	t := &Transport{
		logger:      slog.Default(),
		dialTimeout: 30 * time.Second,
	}

	for _, opt := range options {
		opt(t)
	}

	return t
}

// Open dials the broker. The handshake runs in its own goroutine so a
// hung dial cannot outlive the caller's context.
func (t *Transport) Open(ctx context.Context, uri string) (messaging.TransportConnection, error) {
	dialCtx, cancel := context.WithTimeout(ctx, t.dialTimeout)
	defer cancel()

	connChan := make(chan *amqp.Connection, 1)
	errChan := make(chan error, 1)

	go func() {
		conn, err := amqp.Dial(uri)
		if err != nil {
			errChan <- err
			return
		}
		select {
		case connChan <- conn:
		case <-dialCtx.Done():
			_ = conn.Close()
		}
	}()

	select {
	case conn := <-connChan:
		t.logger.Info("connected to broker", "url", SanitizeURL(uri))
		return newConnection(conn, t.logger), nil

	case err := <-errChan:
		return nil, &ConnectionError{
			Op:        "open",
			URL:       SanitizeURL(uri),
			Err:       err,
			Timestamp: time.Now(),
		}

	case <-dialCtx.Done():
		return nil, &ConnectionError{
			Op:        "open",
			URL:       SanitizeURL(uri),
			Err:       ErrConnectionTimeout,
			Timestamp: time.Now(),
		}
	}
}
