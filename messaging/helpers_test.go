package messaging

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newOpenStack wires a manager and link factory over the fake transport
// with one open connection named "primary".
func newOpenStack(t *testing.T) (*fakeTransport, *ConnectionManager, *LinkFactory) {
	t.Helper()

	ft := newFakeTransport(0)
	bus := NewEventBus(WithEventBusLogger(discardLogger()))
	t.Cleanup(bus.Close)

	manager := NewConnectionManager(ft, bus, WithManagerLogger(discardLogger()))
	t.Cleanup(func() { _ = manager.Close() })

	_, err := manager.CreateConnection(context.Background(), ConnectionOptions{
		Token: "primary",
		URI:   "amqp://localhost:5672/",
	})
	require.NoError(t, err)

	return ft, manager, links(manager)
}

func links(manager *ConnectionManager) *LinkFactory {
	return NewLinkFactory(manager, WithLinkLogger(discardLogger()))
}
