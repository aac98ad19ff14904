package contracts

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrAlreadySettled is returned when a delivery is accepted or rejected twice.
	ErrAlreadySettled = errors.New("veloxmq: delivery already settled")
	// ErrConnectionNotOpen is returned when a link attach targets a known
	// connection that is not in the open state.
	ErrConnectionNotOpen = errors.New("veloxmq: connection is not open")
	// ErrConnectionExists is returned when a token already names a live connection.
	ErrConnectionExists = errors.New("veloxmq: connection token already in use")
)

// ConfigurationError reports invalid or missing connection options.
// It is fatal to the CreateConnection call that produced it.
type ConfigurationError struct {
	Token  string // connection token, for diagnostics
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Token != "" {
		return fmt.Sprintf("veloxmq: invalid configuration for connection %q: %s", e.Token, e.Reason)
	}
	return fmt.Sprintf("veloxmq: invalid configuration: %s", e.Reason)
}

// ConnectionNotFoundError reports an operation that referenced an unknown
// connection token. It indicates a programmer or wiring error, not a
// transient condition, so it is returned synchronously.
type ConnectionNotFoundError struct {
	Token string
}

func (e *ConnectionNotFoundError) Error() string {
	return fmt.Sprintf("veloxmq: no connection registered for token %q", e.Token)
}

// TransportError wraps a failure reported by the protocol layer.
type TransportError struct {
	Op        string // operation that failed: open, attach, send, settle
	Token     string // connection token, when known
	Err       error
	Timestamp time.Time
}

func (e *TransportError) Error() string {
	if e.Token != "" {
		return fmt.Sprintf("veloxmq: transport %s failed on connection %q: %v", e.Op, e.Token, e.Err)
	}
	return fmt.Sprintf("veloxmq: transport %s failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
