package messaging

import (
	"log/slog"
	"sync"
	"time"

	"github.com/veloxmq/veloxmq-go/contracts"
)

// State is the connection lifecycle state.
type State int

const (
	StateInit State = iota
	StateOpening
	StateRetrying
	StateOpen
	StateDisconnected
	StateReopening
	StateFailed
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateOpening:
		return "opening"
	case StateRetrying:
		return "retrying"
	case StateOpen:
		return "open"
	case StateDisconnected:
		return "disconnected"
	case StateReopening:
		return "reopening"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ConnectionOptions configures one named connection.
type ConnectionOptions struct {
	// Token is the unique key for this logical broker target.
	Token string
	// URI is the broker address.
	URI string
	// InitialReconnectDelay is the wait between bounded open attempts.
	// Defaults to 3 s.
	InitialReconnectDelay time.Duration
	// ReconnectLimit caps open re-attempts after the first failure.
	// Zero selects the default of 3; negative disables retries.
	ReconnectLimit int
	// ReopenDelay is the wait between reopen attempts after a peer
	// disconnect. Defaults to 1 s.
	ReopenDelay time.Duration
	// ReopenLimit caps reopen attempts. Zero or below means unbounded,
	// the baseline behavior.
	ReopenLimit int
}

// Connection is one live, named connection to a broker. Instances are
// created and owned exclusively by the ConnectionManager; other
// components hold references for lookup only.
type Connection struct {
	token string
	opts  ConnectionOptions

	mu       sync.RWMutex
	state    State
	attempts int
	tc       TransportConnection

	logger *slog.Logger
	done   chan struct{}
	closeOnce sync.Once
}

// Token returns the connection's unique key.
func (c *Connection) Token() string {
	return c.token
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Attempts returns the retry counter of the bounded open path.
func (c *Connection) Attempts() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.attempts
}

// Transport returns the underlying transport connection. Links may only
// attach while the connection is open; a FAILED or CLOSED connection
// refuses new links.
func (c *Connection) Transport() (TransportConnection, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.state != StateOpen || c.tc == nil {
		return nil, contracts.ErrConnectionNotOpen
	}
	return c.tc, nil
}

// setState transitions the connection and logs the transition at a
// severity matching its nature. CLOSED is terminal: once reached, later
// transitions are ignored.
func (c *Connection) setState(next State) {
	c.mu.Lock()
	prev := c.state
	if prev == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = next
	c.mu.Unlock()

	if prev == next {
		return
	}

	switch next {
	case StateDisconnected:
		c.logger.Warn("connection lost", "connection", c.token, "from", prev.String())
	case StateFailed:
		c.logger.Error("connection failed", "connection", c.token, "from", prev.String())
	default:
		c.logger.Info("connection state changed",
			"connection", c.token,
			"from", prev.String(),
			"to", next.String(),
		)
	}
}

// setTransport swaps the underlying transport connection.
func (c *Connection) setTransport(tc TransportConnection) {
	c.mu.Lock()
	c.tc = tc
	c.mu.Unlock()
}

// adoptTransport installs an open transport and moves to OPEN, unless the
// connection was closed while the dial was in flight. The caller must
// close the transport itself when adoption is refused.
func (c *Connection) adoptTransport(tc TransportConnection) bool {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return false
	}
	prev := c.state
	c.tc = tc
	c.state = StateOpen
	c.mu.Unlock()

	if prev != StateOpen {
		c.logger.Info("connection state changed",
			"connection", c.token,
			"from", prev.String(),
			"to", StateOpen.String(),
		)
	}
	return true
}

// markClosed cancels the retry loops, pins the terminal CLOSED state, and
// hands back the installed transport for the caller to close. A dial that
// completes after this point is refused by adoptTransport.
func (c *Connection) markClosed() TransportConnection {
	c.closeOnce.Do(func() {
		close(c.done)
	})

	c.mu.Lock()
	tc := c.tc
	c.tc = nil
	prev := c.state
	c.state = StateClosed
	c.mu.Unlock()

	if prev != StateClosed {
		c.logger.Info("connection state changed",
			"connection", c.token,
			"from", prev.String(),
			"to", StateClosed.String(),
		)
	}
	return tc
}
