package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/veloxmq/veloxmq-go/contracts"
)

// SendResult reports the broker's verdict on one send. Ordinary negative
// dispositions populate Err and leave Accepted false; they are never
// returned as call errors.
type SendResult struct {
	Accepted bool
	Err      error
}

// Producer sends typed messages over sender links resolved by
// (topic, connection name). Senders are attached lazily and cached.
type Producer struct {
	links             *LinkFactory
	defaultConnection string
	logger            *slog.Logger
	metrics           MetricsCollector

	mu      sync.RWMutex
	senders map[senderKey]*Sender
}

type senderKey struct {
	topic string
	token string
}

// ProducerOption configures the Producer.
type ProducerOption func(*Producer)

// WithDefaultConnection sets the connection used when a send names none.
func WithDefaultConnection(token string) ProducerOption {
	return func(p *Producer) {
		p.defaultConnection = token
	}
}

// WithProducerLogger sets the logger.
func WithProducerLogger(logger *slog.Logger) ProducerOption {
	return func(p *Producer) {
		p.logger = logger
	}
}

// WithProducerMetrics sets the metrics collector.
func WithProducerMetrics(metrics MetricsCollector) ProducerOption {
	return func(p *Producer) {
		p.metrics = metrics
	}
}

// NewProducer creates a producer over the link factory.
func NewProducer(links *LinkFactory, options ...ProducerOption) *Producer {
	p := &Producer{
		links:   links,
		logger:  slog.Default(),
		metrics: &NoOpMetricsCollector{},
		senders: make(map[senderKey]*Sender),
	}

	for _, opt := range options {
		opt(p)
	}

	return p
}

// sendOptions carries per-send message properties.
type sendOptions struct {
	connection    string
	messageID     string
	generateID    bool
	correlationID string
	groupID       string
	contentType   string
	annotations   map[string]any
}

// SendOption configures one send.
type SendOption func(*sendOptions)

// WithConnectionName routes the send over a named connection instead of
// the producer's default.
func WithConnectionName(token string) SendOption {
	return func(o *sendOptions) {
		o.connection = token
	}
}

// WithMessageID sets the message identifier.
func WithMessageID(id string) SendOption {
	return func(o *sendOptions) {
		o.messageID = id
	}
}

// WithGeneratedID requests a message identifier; a UUID is generated when
// none was supplied explicitly.
func WithGeneratedID() SendOption {
	return func(o *sendOptions) {
		o.generateID = true
	}
}

// WithCorrelationID sets the correlation identifier.
func WithCorrelationID(id string) SendOption {
	return func(o *sendOptions) {
		o.correlationID = id
	}
}

// WithGroupID sets the group identifier used for partitioned ordering.
func WithGroupID(id string) SendOption {
	return func(o *sendOptions) {
		o.groupID = id
	}
}

// WithContentType sets the body content type. When absent the transport
// may detect one from the body bytes.
func WithContentType(ct string) SendOption {
	return func(o *sendOptions) {
		o.contentType = ct
	}
}

// WithAnnotations attaches message annotations, passed through unchanged.
func WithAnnotations(annotations map[string]any) SendOption {
	return func(o *sendOptions) {
		o.annotations = annotations
	}
}

// Send transmits a typed payload to a topic and waits for the broker's
// disposition. The returned error reports programmer mistakes only: an
// unresolvable sender or an unencodable payload. Broker rejection comes
// back inside the SendResult.
func (p *Producer) Send(ctx context.Context, topic string, payload any, options ...SendOption) (SendResult, error) {
	opts := sendOptions{}
	for _, opt := range options {
		opt(&opts)
	}

	sender, err := p.sender(ctx, topic, opts.connection)
	if err != nil {
		return SendResult{}, err
	}

	env, err := buildEnvelope(payload, opts)
	if err != nil {
		return SendResult{}, err
	}

	start := time.Now()
	disposition, err := sender.Send(ctx, env)
	if err != nil {
		terr := &contracts.TransportError{Op: "send", Token: sender.token, Err: err}
		p.logger.Error("send failed",
			"topic", topic,
			"connection", sender.token,
			"error", err,
		)
		p.metrics.RecordSend(topic, time.Since(start), false)
		return SendResult{Accepted: false, Err: terr}, nil
	}

	accepted := disposition == DispositionAccepted
	p.metrics.RecordSend(topic, time.Since(start), accepted)
	if !accepted {
		return SendResult{
			Accepted: false,
			Err:      fmt.Errorf("veloxmq: broker settled message as %s", disposition),
		}, nil
	}
	return SendResult{Accepted: true}, nil
}

// SendAsync transmits without waiting for disposition. The result arrives
// on the returned channel; callers that never read it get failures only
// through the log, never aggregated. This is a deliberately weaker mode
// than Send.
func (p *Producer) SendAsync(ctx context.Context, topic string, payload any, options ...SendOption) <-chan SendResult {
	out := make(chan SendResult, 1)
	go func() {
		defer close(out)
		result, err := p.Send(ctx, topic, payload, options...)
		if err != nil {
			p.logger.Error("async send failed",
				"topic", topic,
				"error", err,
			)
			out <- SendResult{Accepted: false, Err: err}
			return
		}
		if !result.Accepted {
			p.logger.Warn("async send not accepted",
				"topic", topic,
				"error", result.Err,
			)
		}
		out <- result
	}()
	return out
}

// sender resolves and caches the sender link for (topic, connection).
func (p *Producer) sender(ctx context.Context, topic, token string) (*Sender, error) {
	if token == "" {
		token = p.defaultConnection
	}
	key := senderKey{topic: topic, token: token}

	p.mu.RLock()
	s, ok := p.senders[key]
	p.mu.RUnlock()
	if ok {
		return s, nil
	}

	s, err := p.links.CreateSender(ctx, token, SenderOptions{Topic: topic})
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	if cached, ok := p.senders[key]; ok {
		p.mu.Unlock()
		_ = s.Close()
		return cached, nil
	}
	p.senders[key] = s
	p.mu.Unlock()
	return s, nil
}

// buildEnvelope encodes the payload and applies the caller's message
// properties exactly as provided, with no enrichment beyond the optional
// generated identifier.
func buildEnvelope(payload any, opts sendOptions) (*contracts.Envelope, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("veloxmq: encode payload: %w", err)
	}

	env := &contracts.Envelope{
		MessageID:     opts.messageID,
		CorrelationID: opts.correlationID,
		GroupID:       opts.groupID,
		ContentType:   opts.contentType,
		Annotations:   opts.annotations,
		Timestamp:     time.Now().UTC(),
		Body:          body,
	}
	if env.MessageID == "" && opts.generateID {
		env.MessageID = uuid.NewString()
	}
	return env, nil
}

// Close detaches every cached sender link.
func (p *Producer) Close() error {
	p.mu.Lock()
	senders := make([]*Sender, 0, len(p.senders))
	for _, s := range p.senders {
		senders = append(senders, s)
	}
	p.senders = make(map[senderKey]*Sender)
	p.mu.Unlock()

	var firstErr error
	for _, s := range senders {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
