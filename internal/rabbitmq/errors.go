package rabbitmq

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

var (
	ErrNotConnected      = errors.New("rabbitmq: not connected")
	ErrConnectionTimeout = errors.New("rabbitmq: connection timeout")
)

// ConnectionError reports a failed connection-level operation.
type ConnectionError struct {
	Op        string // operation that failed
	URL       string // connection URL (sanitized)
	Err       error
	Timestamp time.Time
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("rabbitmq connection error: %s failed: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// LinkError reports a failed link-level operation.
type LinkError struct {
	Op        string
	Link      string
	Err       error
	Timestamp time.Time
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("rabbitmq link error: %s failed on %s: %v", e.Op, e.Link, e.Err)
}

func (e *LinkError) Unwrap() error {
	return e.Err
}

// SanitizeURL strips credentials from a connection URL before logging.
func SanitizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "***"
	}
	return u.Redacted()
}
