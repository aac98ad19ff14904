package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/veloxmq/veloxmq-go/contracts"
)

// Handler processes one delivered message. The control handle carries the
// message properties and the accept/reject disposition; it is valid only
// for the duration of the call.
type Handler interface {
	Handle(ctx context.Context, msg *contracts.Envelope, control *MessageControl) error
}

// HandlerFunc is a function adapter for Handler.
type HandlerFunc func(ctx context.Context, msg *contracts.Envelope, control *MessageControl) error

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, msg *contracts.Envelope, control *MessageControl) error {
	return f(ctx, msg, control)
}

// ConsumerRegistration binds a topic on a named connection to a handler
// with a concurrency bound. The set of registrations is established
// before the first delivery and immutable thereafter.
type ConsumerRegistration struct {
	Topic           string
	ConnectionToken string
	// Concurrency bounds simultaneous handler invocations. Values below 1
	// select the default of 1.
	Concurrency int
	Handler     Handler
	// Prefetch is the receiver's credit target. Zero selects Concurrency,
	// keeping credit from outpacing consumption capacity.
	Prefetch int
}

// Registry is the explicit topic → registration mapping, populated by
// ordinary calls at startup.
type Registry struct {
	mu     sync.Mutex
	regs   map[string]ConsumerRegistration
	frozen bool
}

// NewRegistry creates an empty consumer registry.
func NewRegistry() *Registry {
	return &Registry{regs: make(map[string]ConsumerRegistration)}
}

// Register adds a consumer registration. Registration closes once
// consumption starts.
func (r *Registry) Register(reg ConsumerRegistration) error {
	if reg.Topic == "" {
		return fmt.Errorf("veloxmq: consumer registration requires a topic")
	}
	if reg.Handler == nil {
		return fmt.Errorf("veloxmq: consumer registration for %q requires a handler", reg.Topic)
	}
	if reg.Concurrency < 1 {
		reg.Concurrency = 1
	}
	if reg.Prefetch < 1 {
		reg.Prefetch = reg.Concurrency
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return fmt.Errorf("veloxmq: registry is frozen, cannot register %q", reg.Topic)
	}
	if _, exists := r.regs[reg.Topic]; exists {
		return fmt.Errorf("veloxmq: topic %q already registered", reg.Topic)
	}
	r.regs[reg.Topic] = reg
	return nil
}

// Registrations freezes the registry and returns its contents.
func (r *Registry) Registrations() []ConsumerRegistration {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.frozen = true
	regs := make([]ConsumerRegistration, 0, len(r.regs))
	for _, reg := range r.regs {
		regs = append(regs, reg)
	}
	return regs
}

// MessageControl is the transient handle a handler uses to inspect the
// inbound message's properties and settle it. It is scoped to a single
// delivery and settles at most once; later calls report ErrAlreadySettled.
type MessageControl struct {
	env      *contracts.Envelope
	delivery TransportDelivery
	settled  atomic.Int32
}

const (
	settleNone int32 = iota
	settleAccepted
	settleRejected
)

// MessageID returns the message identifier.
func (c *MessageControl) MessageID() string { return c.env.MessageID }

// CorrelationID returns the correlation identifier.
func (c *MessageControl) CorrelationID() string { return c.env.CorrelationID }

// GroupID returns the group identifier.
func (c *MessageControl) GroupID() string { return c.env.GroupID }

// Annotations returns the message annotation map.
func (c *MessageControl) Annotations() map[string]any { return c.env.Annotations }

// Accept settles the delivery positively.
func (c *MessageControl) Accept() error {
	if !c.settled.CompareAndSwap(settleNone, settleAccepted) {
		return contracts.ErrAlreadySettled
	}
	return c.delivery.Accept()
}

// Reject settles the delivery negatively.
func (c *MessageControl) Reject() error {
	if !c.settled.CompareAndSwap(settleNone, settleRejected) {
		return contracts.ErrAlreadySettled
	}
	return c.delivery.Reject()
}

// Dispatcher pulls deliveries off one receiver link and invokes the bound
// handler under the registration's concurrency bound, translating the
// handler outcome into a disposition and replenishing one unit of credit
// per settled message.
type Dispatcher struct {
	reg      ConsumerRegistration
	receiver *Receiver
	limiter  chan struct{}
	logger   *slog.Logger
	metrics  MetricsCollector

	wg     sync.WaitGroup
	cancel context.CancelFunc
	once   sync.Once
}

// DispatcherOption configures the Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger sets the logger.
func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithDispatcherMetrics sets the metrics collector.
func WithDispatcherMetrics(metrics MetricsCollector) DispatcherOption {
	return func(d *Dispatcher) {
		d.metrics = metrics
	}
}

// NewDispatcher creates a dispatcher for one registration over its
// receiver link.
func NewDispatcher(receiver *Receiver, reg ConsumerRegistration, options ...DispatcherOption) *Dispatcher {
	if reg.Concurrency < 1 {
		reg.Concurrency = 1
	}

	d := &Dispatcher{
		reg:      reg,
		receiver: receiver,
		limiter:  make(chan struct{}, reg.Concurrency),
		logger:   slog.Default(),
		metrics:  &NoOpMetricsCollector{},
	}

	for _, opt := range options {
		opt(d)
	}

	return d
}

// Start begins consuming. Deliveries wait for a free concurrency slot in
// arrival order; completion order across handlers is unconstrained.
func (d *Dispatcher) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	d.wg.Add(1)
	go d.run(runCtx)

	d.logger.Info("consumer started",
		"topic", d.reg.Topic,
		"connection", d.reg.ConnectionToken,
		"concurrency", d.reg.Concurrency,
		"prefetch", d.receiver.Prefetch(),
	)
}

func (d *Dispatcher) run(ctx context.Context) {
	defer d.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case delivery, ok := <-d.receiver.Deliveries():
			if !ok {
				d.logger.Warn("delivery stream closed", "topic", d.reg.Topic)
				return
			}

			select {
			case d.limiter <- struct{}{}:
			case <-ctx.Done():
				_ = delivery.Release()
				return
			}

			d.wg.Add(1)
			go d.invoke(ctx, delivery)
		}
	}
}

// invoke runs the handler for one delivery and settles it. A handler
// panic is logged and converted to a negative disposition; it never
// crashes the consumer loop. The concurrency slot is released and credit
// replenished only after disposition, keeping credit from over-granting
// while handlers are in flight.
func (d *Dispatcher) invoke(ctx context.Context, delivery TransportDelivery) {
	defer d.wg.Done()

	env := delivery.Envelope()
	control := &MessageControl{env: env, delivery: delivery}
	start := time.Now()

	err := d.safeHandle(ctx, env, control)

	outcome := "accepted"
	switch {
	case control.settled.Load() != settleNone:
		if control.settled.Load() == settleRejected {
			outcome = "rejected"
		}
	case err != nil:
		outcome = "rejected"
		if rejectErr := control.Reject(); rejectErr != nil {
			d.logger.Error("failed to reject delivery",
				"topic", d.reg.Topic,
				"messageId", env.MessageID,
				"error", rejectErr,
			)
		}
	default:
		// Handler returned nil without settling: treat as accepted, the
		// ack-on-success behavior consumers expect.
		if ackErr := control.Accept(); ackErr != nil {
			d.logger.Error("failed to accept delivery",
				"topic", d.reg.Topic,
				"messageId", env.MessageID,
				"error", ackErr,
			)
		}
	}

	d.metrics.RecordDelivery(d.reg.Topic, time.Since(start), outcome)

	// Credit is granted per disposition, not per delivery.
	<-d.limiter
	if err := d.receiver.ReplenishCredit(1); err != nil {
		d.logger.Error("credit replenish failed",
			"topic", d.reg.Topic,
			"error", err,
		)
	}
}

// safeHandle invokes the handler, converting panics into errors at the
// dispatch boundary.
func (d *Dispatcher) safeHandle(ctx context.Context, env *contracts.Envelope, control *MessageControl) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("veloxmq: handler panic: %v", r)
			d.logger.Error("handler panicked",
				"topic", d.reg.Topic,
				"messageId", env.MessageID,
				"panic", r,
			)
		}
	}()

	if err := d.reg.Handler.Handle(ctx, env, control); err != nil {
		d.logger.Error("handler failed",
			"topic", d.reg.Topic,
			"messageId", env.MessageID,
			"error", err,
		)
		return err
	}
	return nil
}

// Stop cancels consumption, waits for in-flight handlers, and closes the
// receiver link.
func (d *Dispatcher) Stop() {
	d.once.Do(func() {
		if d.cancel != nil {
			d.cancel()
		}
		d.wg.Wait()
		if err := d.receiver.Close(); err != nil {
			d.logger.Warn("receiver close failed", "topic", d.reg.Topic, "error", err)
		}
	})
}
