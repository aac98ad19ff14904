package rabbitmq

import (
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/veloxmq/veloxmq-go/contracts"
	"github.com/veloxmq/veloxmq-go/messaging"
)

type receiver struct {
	ch     *amqp.Channel
	topic  string
	name   string
	credit int
	logger *slog.Logger

	out       chan messaging.TransportDelivery
	events    chan messaging.LinkEvent
	closeOnce sync.Once
}

func newReceiver(ch *amqp.Channel, deliveries <-chan amqp.Delivery, opts messaging.ReceiverAttachOptions, logger *slog.Logger) *receiver {
	r := &receiver{
		ch:     ch,
		topic:  opts.Topic,
		name:   opts.Name,
		credit: opts.Credit,
		logger: logger,
		out:    make(chan messaging.TransportDelivery),
		events: make(chan messaging.LinkEvent, 8),
	}

	// Qos grants the full window synchronously, so the open confirmation
	// reports credit equal to the request and the attach race top-up is a
	// no-op on this transport.
	r.events <- messaging.LinkEvent{Kind: messaging.LinkOpened, Credit: opts.Credit}

	closed := ch.NotifyClose(make(chan *amqp.Error, 1))
	go r.watchClose(closed)
	go r.pump(deliveries)

	return r
}

func (r *receiver) pump(deliveries <-chan amqp.Delivery) {
	defer close(r.out)
	for d := range deliveries {
		r.out <- &delivery{d: d}
	}
}

func (r *receiver) watchClose(closed <-chan *amqp.Error) {
	defer close(r.events)

	amqpErr, ok := <-closed
	if ok && amqpErr != nil {
		r.events <- messaging.LinkEvent{Kind: messaging.LinkError, Err: amqpErr}
		return
	}
	r.events <- messaging.LinkEvent{Kind: messaging.LinkClosed}
}

func (r *receiver) Deliveries() <-chan messaging.TransportDelivery {
	return r.out
}

// IssueCredit is bookkeeping only on amqp 0-9-1: acknowledging a delivery
// already returns its slot in the Qos window to the broker.
func (r *receiver) IssueCredit(n int) error {
	r.logger.Debug("credit issued",
		"link", r.name,
		"credit", n,
	)
	return nil
}

func (r *receiver) Events() <-chan messaging.LinkEvent {
	return r.events
}

func (r *receiver) Close() error {
	var err error
	r.closeOnce.Do(func() {
		if cancelErr := r.ch.Cancel(r.name, false); cancelErr != nil {
			r.logger.Warn("consumer cancel failed", "link", r.name, "error", cancelErr)
		}
		err = r.ch.Close()
	})
	return err
}

// delivery adapts one amqp delivery to the transport contract.
type delivery struct {
	d       amqp.Delivery
	envOnce sync.Once
	env     *contracts.Envelope
}

// Envelope reconstructs the envelope from the amqp properties, the exact
// inverse of toPublishing.
func (dl *delivery) Envelope() *contracts.Envelope {
	dl.envOnce.Do(func() {
		var groupID string
		var annotations map[string]any
		for k, v := range dl.d.Headers {
			if k == groupIDHeader {
				if s, ok := v.(string); ok {
					groupID = s
				}
				continue
			}
			if annotations == nil {
				annotations = make(map[string]any)
			}
			annotations[k] = v
		}

		dl.env = &contracts.Envelope{
			MessageID:     dl.d.MessageId,
			CorrelationID: dl.d.CorrelationId,
			GroupID:       groupID,
			Timestamp:     dl.d.Timestamp,
			ContentType:   dl.d.ContentType,
			Annotations:   annotations,
			Body:          dl.d.Body,
		}
	})
	return dl.env
}

func (dl *delivery) Accept() error {
	return dl.d.Ack(false)
}

func (dl *delivery) Reject() error {
	return dl.d.Nack(false, false)
}

func (dl *delivery) Release() error {
	return dl.d.Nack(false, true)
}
