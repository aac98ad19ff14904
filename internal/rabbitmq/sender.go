package rabbitmq

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/veloxmq/veloxmq-go/contracts"
	"github.com/veloxmq/veloxmq-go/messaging"
)

// groupIDHeader carries the envelope's group identifier; amqp 0-9-1 has
// no first-class group property.
const groupIDHeader = "x-group-id"

type sender struct {
	ch     *amqp.Channel
	topic  string
	name   string
	logger *slog.Logger

	events    chan messaging.LinkEvent
	closeOnce sync.Once
}

func newSender(ch *amqp.Channel, opts messaging.SenderAttachOptions, logger *slog.Logger) *sender {
	s := &sender{
		ch:     ch,
		topic:  opts.Topic,
		name:   opts.Name,
		logger: logger,
		events: make(chan messaging.LinkEvent, 8),
	}

	s.events <- messaging.LinkEvent{Kind: messaging.LinkOpened}

	closed := ch.NotifyClose(make(chan *amqp.Error, 1))
	go s.watchClose(closed)

	return s
}

func (s *sender) watchClose(closed <-chan *amqp.Error) {
	defer close(s.events)

	amqpErr, ok := <-closed
	if ok && amqpErr != nil {
		s.events <- messaging.LinkEvent{Kind: messaging.LinkError, Err: amqpErr}
		return
	}
	s.events <- messaging.LinkEvent{Kind: messaging.LinkClosed}
}

// Send publishes with a deferred confirm and maps the broker's ack to the
// disposition: confirmed means accepted, nacked means rejected.
func (s *sender) Send(ctx context.Context, env *contracts.Envelope) (messaging.Disposition, error) {
	pub := toPublishing(env)

	conf, err := s.ch.PublishWithDeferredConfirmWithContext(
		ctx,
		"", // default exchange routes by queue name
		s.topic,
		false, // mandatory
		false, // immediate
		pub,
	)
	if err != nil {
		return messaging.DispositionReleased, &LinkError{Op: "publish", Link: s.name, Err: err}
	}

	acked, err := conf.WaitContext(ctx)
	if err != nil {
		return messaging.DispositionReleased, &LinkError{Op: "confirm", Link: s.name, Err: err}
	}
	if !acked {
		return messaging.DispositionRejected, nil
	}
	return messaging.DispositionAccepted, nil
}

func (s *sender) Events() <-chan messaging.LinkEvent {
	return s.events
}

func (s *sender) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.ch.Close()
	})
	return err
}

// toPublishing maps envelope fields onto amqp properties. The content
// type is detected from the body when the caller supplied none.
func toPublishing(env *contracts.Envelope) amqp.Publishing {
	headers := amqp.Table{}
	for k, v := range env.Annotations {
		headers[k] = v
	}
	if env.GroupID != "" {
		headers[groupIDHeader] = env.GroupID
	}

	contentType := env.ContentType
	if contentType == "" {
		contentType = mimetype.Detect(env.Body).String()
	}

	return amqp.Publishing{
		MessageId:     env.MessageID,
		CorrelationId: env.CorrelationID,
		Timestamp:     env.Timestamp,
		ContentType:   contentType,
		Headers:       headers,
		Body:          env.Body,
	}
}
