package rabbitmq

import (
	"context"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/veloxmq/veloxmq-go/messaging"
)

// Connection adapts one amqp091 connection to the transport contract.
// Closing it closes every channel, and with them every attached link.
type Connection struct {
	conn   *amqp.Connection
	logger *slog.Logger

	notify    chan error
	closeOnce sync.Once
	localClose chan struct{}
}

func newConnection(conn *amqp.Connection, logger *slog.Logger) *Connection {
	c := &Connection{
		conn:       conn,
		logger:     logger,
		notify:     make(chan error, 1),
		localClose: make(chan struct{}),
	}

	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	go c.watchClose(closed)

	return c
}

// watchClose translates the driver's close notification into the
// transport contract: an error for peer or transport failure, a clean
// channel close for locally requested shutdown.
func (c *Connection) watchClose(closed <-chan *amqp.Error) {
	defer close(c.notify)

	amqpErr, ok := <-closed
	if !ok || amqpErr == nil {
		return
	}
	select {
	case <-c.localClose:
		// Locally requested; the driver still reports an error sometimes.
	default:
		c.notify <- amqpErr
	}
}

// NotifyClose implements messaging.TransportConnection.
func (c *Connection) NotifyClose() <-chan error {
	return c.notify
}

// AttachSender opens a channel in confirm mode and binds it to the topic
// queue so sends are routable immediately.
func (c *Connection) AttachSender(ctx context.Context, opts messaging.SenderAttachOptions) (messaging.TransportSender, error) {
	ch, err := c.channel(opts.Name, "attach sender")
	if err != nil {
		return nil, err
	}

	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return nil, &LinkError{Op: "confirm mode", Link: opts.Name, Err: err}
	}
	if _, err := declareTopicQueue(ch, opts.Topic); err != nil {
		_ = ch.Close()
		return nil, &LinkError{Op: "declare queue", Link: opts.Name, Err: err}
	}

	return newSender(ch, opts, c.logger), nil
}

// AttachReceiver opens a channel with the requested credit as its Qos
// window and starts consuming the topic queue.
func (c *Connection) AttachReceiver(ctx context.Context, opts messaging.ReceiverAttachOptions) (messaging.TransportReceiver, error) {
	ch, err := c.channel(opts.Name, "attach receiver")
	if err != nil {
		return nil, err
	}

	if err := ch.Qos(opts.Credit, 0, false); err != nil {
		_ = ch.Close()
		return nil, &LinkError{Op: "set qos", Link: opts.Name, Err: err}
	}
	if _, err := declareTopicQueue(ch, opts.Topic); err != nil {
		_ = ch.Close()
		return nil, &LinkError{Op: "declare queue", Link: opts.Name, Err: err}
	}

	deliveries, err := ch.Consume(
		opts.Topic,
		opts.Name,
		false, // autoAck: disposition is explicit
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,
	)
	if err != nil {
		_ = ch.Close()
		return nil, &LinkError{Op: "consume", Link: opts.Name, Err: err}
	}

	return newReceiver(ch, deliveries, opts, c.logger), nil
}

func (c *Connection) channel(link, op string) (*amqp.Channel, error) {
	if c.conn.IsClosed() {
		return nil, ErrNotConnected
	}
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, &LinkError{Op: op, Link: link, Err: err}
	}
	return ch, nil
}

// Close implements messaging.TransportConnection.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.localClose)
		err = c.conn.Close()
	})
	return err
}

// declareTopicQueue makes the topic's queue exist. Both link directions
// declare it so attach order does not matter.
func declareTopicQueue(ch *amqp.Channel, topic string) (amqp.Queue, error) {
	return ch.QueueDeclare(
		topic,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	)
}
