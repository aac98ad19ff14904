package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/veloxmq/veloxmq-go/contracts"
)

// LinkFactory attaches producer and consumer links to open connections.
// It manages link establishment only; consumption-driven credit is the
// Dispatcher's responsibility.
type LinkFactory struct {
	manager *ConnectionManager
	logger  *slog.Logger
}

// LinkFactoryOption configures the LinkFactory.
type LinkFactoryOption func(*LinkFactory)

// WithLinkLogger sets the logger.
func WithLinkLogger(logger *slog.Logger) LinkFactoryOption {
	return func(f *LinkFactory) {
		f.logger = logger
	}
}

// NewLinkFactory creates a link factory over the manager's registry.
func NewLinkFactory(manager *ConnectionManager, options ...LinkFactoryOption) *LinkFactory {
	f := &LinkFactory{
		manager: manager,
		logger:  slog.Default(),
	}

	for _, opt := range options {
		opt(f)
	}

	return f
}

// SenderOptions configures an outbound link.
type SenderOptions struct {
	Topic string
	Name  string
}

// ReceiverOptions configures an inbound link. Prefetch is a separate
// argument to CreateReceiver because it is the link's credit contract,
// not a tuning knob.
type ReceiverOptions struct {
	Topic string
	Name  string
}

// CreateSender attaches an outbound link on the named connection. The
// connection must already exist and be open; there is no implicit
// connection creation.
func (f *LinkFactory) CreateSender(ctx context.Context, token string, opts SenderOptions) (*Sender, error) {
	conn, err := f.manager.Get(token)
	if err != nil {
		return nil, err
	}
	tc, err := conn.Transport()
	if err != nil {
		return nil, err
	}

	name := opts.Name
	if name == "" {
		name = fmt.Sprintf("sender-%s-%s", opts.Topic, uuid.NewString()[:8])
	}

	ts, err := tc.AttachSender(ctx, SenderAttachOptions{Topic: opts.Topic, Name: name})
	if err != nil {
		return nil, &contracts.TransportError{Op: "attach", Token: token, Err: err}
	}

	s := &Sender{
		name:   name,
		token:  token,
		topic:  opts.Topic,
		ts:     ts,
		logger: f.logger,
	}
	go s.watchEvents()

	f.logger.Info("sender link attached",
		"connection", token,
		"topic", opts.Topic,
		"link", name,
	)
	return s, nil
}

// CreateReceiver attaches an inbound link with initial credit equal to
// prefetch on the named connection.
func (f *LinkFactory) CreateReceiver(ctx context.Context, token string, prefetch int, opts ReceiverOptions) (*Receiver, error) {
	if prefetch < 1 {
		return nil, &contracts.ConfigurationError{Token: token, Reason: "receiver prefetch must be at least 1"}
	}

	conn, err := f.manager.Get(token)
	if err != nil {
		return nil, err
	}
	tc, err := conn.Transport()
	if err != nil {
		return nil, err
	}

	name := opts.Name
	if name == "" {
		name = fmt.Sprintf("receiver-%s-%s", opts.Topic, uuid.NewString()[:8])
	}

	tr, err := tc.AttachReceiver(ctx, ReceiverAttachOptions{
		Topic:  opts.Topic,
		Name:   name,
		Credit: prefetch,
	})
	if err != nil {
		return nil, &contracts.TransportError{Op: "attach", Token: token, Err: err}
	}

	r := &Receiver{
		name:     name,
		token:    token,
		topic:    opts.Topic,
		tr:       tr,
		prefetch: prefetch,
		credit:   prefetch,
		logger:   f.logger,
		out:      make(chan TransportDelivery),
	}
	go r.watchEvents()
	go r.pump()

	f.logger.Info("receiver link attached",
		"connection", token,
		"topic", opts.Topic,
		"link", name,
		"prefetch", prefetch,
	)
	return r, nil
}

// Sender is an outbound link handle used by the Producer.
type Sender struct {
	name  string
	token string
	topic string
	ts    TransportSender

	unsettled atomic.Int64
	logger    *slog.Logger
}

// Topic returns the destination address of the link.
func (s *Sender) Topic() string {
	return s.topic
}

// Unsettled returns the number of sends awaiting disposition.
func (s *Sender) Unsettled() int {
	return int(s.unsettled.Load())
}

// Send transfers an envelope and waits for the broker's disposition.
func (s *Sender) Send(ctx context.Context, env *contracts.Envelope) (Disposition, error) {
	s.unsettled.Add(1)
	defer s.unsettled.Add(-1)
	return s.ts.Send(ctx, env)
}

// watchEvents logs link-level events. Drain requests have no credit
// meaning on the sender side and are acknowledged passively.
func (s *Sender) watchEvents() {
	for ev := range s.ts.Events() {
		switch ev.Kind {
		case LinkOpened:
			s.logger.Info("sender link open", "connection", s.token, "link", s.name)
		case LinkDrain:
			s.logger.Info("sender drain requested", "connection", s.token, "link", s.name)
		case LinkClosed:
			s.logger.Info("sender link closed", "connection", s.token, "link", s.name)
		case LinkError:
			s.logger.Error("sender link error", "connection", s.token, "link", s.name, "error", ev.Err)
		}
	}
}

// Close detaches the link.
func (s *Sender) Close() error {
	return s.ts.Close()
}

// Receiver is an inbound link handle with an explicit credit gauge. The
// gauge never goes negative and never exceeds the configured prefetch.
type Receiver struct {
	name  string
	token string
	topic string
	tr    TransportReceiver

	prefetch int
	mu       sync.Mutex
	credit   int

	logger *slog.Logger
	out    chan TransportDelivery
}

// Topic returns the source address of the link.
func (r *Receiver) Topic() string {
	return r.topic
}

// Prefetch returns the link's steady-state credit target.
func (r *Receiver) Prefetch() int {
	return r.prefetch
}

// Credit returns the currently available credit.
func (r *Receiver) Credit() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.credit
}

// Deliveries streams inbound messages. Each delivery consumes one unit of
// credit; the Dispatcher replenishes it after disposition.
func (r *Receiver) Deliveries() <-chan TransportDelivery {
	return r.out
}

// ReplenishCredit returns n units of credit to the peer, clamped so the
// gauge never exceeds prefetch. Called by the Dispatcher once per
// disposition, never per delivery.
func (r *Receiver) ReplenishCredit(n int) error {
	if n <= 0 {
		return nil
	}

	r.mu.Lock()
	grant := n
	if r.credit+grant > r.prefetch {
		grant = r.prefetch - r.credit
	}
	if grant > 0 {
		r.credit += grant
	}
	r.mu.Unlock()

	if grant <= 0 {
		return nil
	}
	return r.tr.IssueCredit(grant)
}

// pump forwards transport deliveries, spending credit as they arrive.
func (r *Receiver) pump() {
	defer close(r.out)
	for delivery := range r.tr.Deliveries() {
		r.mu.Lock()
		if r.credit > 0 {
			r.credit--
		}
		r.mu.Unlock()
		r.out <- delivery
	}
}

// watchEvents reacts to the open confirmation and logs flow and drain
// events without acting on them.
func (r *Receiver) watchEvents() {
	for ev := range r.tr.Events() {
		switch ev.Kind {
		case LinkOpened:
			// The peer may have consumed credit during the attach race;
			// top the gauge back up to exactly prefetch.
			if err := r.topUp(ev.Credit); err != nil {
				r.logger.Error("credit top-up failed",
					"connection", r.token,
					"link", r.name,
					"error", err,
				)
			}
			r.logger.Info("receiver link open",
				"connection", r.token,
				"link", r.name,
				"credit", r.Credit(),
			)
		case LinkFlow:
			r.logger.Debug("receiver flow event",
				"connection", r.token,
				"link", r.name,
				"credit", ev.Credit,
			)
		case LinkDrain:
			r.logger.Info("receiver drain requested", "connection", r.token, "link", r.name)
		case LinkClosed:
			r.logger.Info("receiver link closed", "connection", r.token, "link", r.name)
		case LinkError:
			r.logger.Error("receiver link error", "connection", r.token, "link", r.name, "error", ev.Err)
		}
	}
}

// topUp restores the gauge to prefetch given the peer's view of granted
// credit at open confirmation.
func (r *Receiver) topUp(granted int) error {
	r.mu.Lock()
	deficit := r.prefetch - granted
	if deficit <= 0 {
		r.mu.Unlock()
		return nil
	}
	r.credit = r.prefetch
	r.mu.Unlock()
	return r.tr.IssueCredit(deficit)
}

// Close detaches the link.
func (r *Receiver) Close() error {
	return r.tr.Close()
}
