package messaging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBus(t *testing.T) {
	t.Run("delivers events to subscribers of the matching type", func(t *testing.T) {
		bus := NewEventBus(WithEventBusLogger(discardLogger()))
		defer bus.Close()

		disconnects := bus.Subscribe(ConnectionDisconnected)
		reconnects := bus.Subscribe(ConnectionReconnected)

		bus.Publish(Event{Type: ConnectionDisconnected, Token: "primary"})

		select {
		case evt := <-disconnects:
			assert.Equal(t, ConnectionDisconnected, evt.Type)
			assert.Equal(t, "primary", evt.Token)
			assert.False(t, evt.At.IsZero())
		case <-time.After(time.Second):
			t.Fatal("expected a disconnect event")
		}

		select {
		case evt := <-reconnects:
			t.Fatalf("unexpected event on reconnect subscription: %v", evt)
		default:
		}
	})

	t.Run("fans out to every subscriber of a type", func(t *testing.T) {
		bus := NewEventBus(WithEventBusLogger(discardLogger()))
		defer bus.Close()

		first := bus.Subscribe(ConnectionReconnected)
		second := bus.Subscribe(ConnectionReconnected)

		bus.Publish(Event{Type: ConnectionReconnected, Token: "primary"})

		for _, ch := range []<-chan Event{first, second} {
			select {
			case evt := <-ch:
				assert.Equal(t, "primary", evt.Token)
			case <-time.After(time.Second):
				t.Fatal("expected both subscribers to receive the event")
			}
		}
	})

	t.Run("publish never blocks on a full subscriber", func(t *testing.T) {
		bus := NewEventBus(WithEventBuffer(1), WithEventBusLogger(discardLogger()))
		defer bus.Close()

		ch := bus.Subscribe(ConnectionDisconnected)

		bus.Publish(Event{Type: ConnectionDisconnected, Token: "first"})
		bus.Publish(Event{Type: ConnectionDisconnected, Token: "second"}) // dropped

		evt := <-ch
		assert.Equal(t, "first", evt.Token)

		select {
		case evt := <-ch:
			t.Fatalf("overflow event should have been dropped, got %v", evt)
		default:
		}
	})

	t.Run("publish without subscribers is a no-op", func(t *testing.T) {
		bus := NewEventBus(WithEventBusLogger(discardLogger()))
		defer bus.Close()

		bus.Publish(Event{Type: ConnectionDisconnected, Token: "primary"})
	})

	t.Run("close ends subscriber channels", func(t *testing.T) {
		bus := NewEventBus(WithEventBusLogger(discardLogger()))
		ch := bus.Subscribe(ConnectionDisconnected)

		bus.Close()

		_, ok := <-ch
		require.False(t, ok)

		// Subscribing after close yields an already-closed channel.
		late := bus.Subscribe(ConnectionReconnected)
		_, ok = <-late
		assert.False(t, ok)

		// Publishing after close is harmless.
		bus.Publish(Event{Type: ConnectionDisconnected})
	})
}
