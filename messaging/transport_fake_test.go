package messaging

import (
	"context"
	"errors"
	"sync"

	"github.com/veloxmq/veloxmq-go/contracts"
)

// In-memory transport used across the package tests. Open can be scripted
// to fail a number of times before succeeding; connections expose hooks to
// simulate peer closes and inbound deliveries.

var errDialRefused = errors.New("dial refused")

type fakeTransport struct {
	mu       sync.Mutex
	failures int           // initial Open calls that fail
	gate     chan struct{} // when set, Open blocks until closed
	opens    int
	conns    []*fakeConn
}

func newFakeTransport(failures int) *fakeTransport {
	return &fakeTransport{failures: failures}
}

func (t *fakeTransport) Open(ctx context.Context, uri string) (TransportConnection, error) {
	t.mu.Lock()
	t.opens++
	fail := t.opens <= t.failures
	gate := t.gate
	t.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail {
		return nil, errDialRefused
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	c := newFakeConn()
	t.conns = append(t.conns, c)
	return c, nil
}

// setGate makes subsequent dials block until the gate channel closes.
func (t *fakeTransport) setGate(gate chan struct{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gate = gate
}

// setFailures rearms the failure script; subsequent opens fail until the
// total open count exceeds n.
func (t *fakeTransport) setFailures(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures = n
}

func (t *fakeTransport) openCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.opens
}

func (t *fakeTransport) lastConn() *fakeConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.conns) == 0 {
		return nil
	}
	return t.conns[len(t.conns)-1]
}

type fakeConn struct {
	notify chan error

	mu        sync.Mutex
	closed    bool
	senders   []*fakeSender
	receivers []*fakeReceiver
	attachErr error
}

func newFakeConn() *fakeConn {
	return &fakeConn{notify: make(chan error, 1)}
}

// peerClose simulates the broker dropping the transport.
func (c *fakeConn) peerClose(err error) {
	c.notify <- err
}

func (c *fakeConn) NotifyClose() <-chan error {
	return c.notify
}

func (c *fakeConn) AttachSender(ctx context.Context, opts SenderAttachOptions) (TransportSender, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.attachErr != nil {
		return nil, c.attachErr
	}
	s := newFakeSender(opts)
	c.senders = append(c.senders, s)
	return s, nil
}

func (c *fakeConn) AttachReceiver(ctx context.Context, opts ReceiverAttachOptions) (TransportReceiver, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.attachErr != nil {
		return nil, c.attachErr
	}
	r := newFakeReceiver(opts)
	c.receivers = append(c.receivers, r)
	return r, nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) setAttachErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attachErr = err
}

func (c *fakeConn) lastSender() *fakeSender {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.senders) == 0 {
		return nil
	}
	return c.senders[len(c.senders)-1]
}

func (c *fakeConn) lastReceiver() *fakeReceiver {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.receivers) == 0 {
		return nil
	}
	return c.receivers[len(c.receivers)-1]
}

type fakeSender struct {
	opts   SenderAttachOptions
	events chan LinkEvent

	mu          sync.Mutex
	sent        []*contracts.Envelope
	disposition Disposition
	sendErr     error
	gate        chan struct{} // when set, Send blocks until closed
}

func newFakeSender(opts SenderAttachOptions) *fakeSender {
	return &fakeSender{
		opts:        opts,
		events:      make(chan LinkEvent, 8),
		disposition: DispositionAccepted,
	}
}

func (s *fakeSender) Send(ctx context.Context, env *contracts.Envelope) (Disposition, error) {
	s.mu.Lock()
	gate := s.gate
	s.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return DispositionReleased, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return DispositionReleased, s.sendErr
	}
	s.sent = append(s.sent, env)
	return s.disposition, nil
}

func (s *fakeSender) setDisposition(d Disposition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disposition = d
}

func (s *fakeSender) setSendErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendErr = err
}

func (s *fakeSender) setGate(gate chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gate = gate
}

func (s *fakeSender) sentEnvelopes() []*contracts.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*contracts.Envelope(nil), s.sent...)
}

func (s *fakeSender) Events() <-chan LinkEvent {
	return s.events
}

func (s *fakeSender) Close() error {
	close(s.events)
	return nil
}

type fakeReceiver struct {
	opts       ReceiverAttachOptions
	deliveries chan TransportDelivery
	events     chan LinkEvent

	mu     sync.Mutex
	issued []int
	closed bool
}

func newFakeReceiver(opts ReceiverAttachOptions) *fakeReceiver {
	return &fakeReceiver{
		opts:       opts,
		deliveries: make(chan TransportDelivery, 64),
		events:     make(chan LinkEvent, 8),
	}
}

// deliver pushes one inbound message through the link.
func (r *fakeReceiver) deliver(env *contracts.Envelope) *fakeDelivery {
	d := newFakeDelivery(env)
	r.deliveries <- d
	return d
}

// emit surfaces a link event as the transport would.
func (r *fakeReceiver) emit(ev LinkEvent) {
	r.events <- ev
}

func (r *fakeReceiver) Deliveries() <-chan TransportDelivery {
	return r.deliveries
}

func (r *fakeReceiver) IssueCredit(n int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.issued = append(r.issued, n)
	return nil
}

func (r *fakeReceiver) issuedCredits() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.issued...)
}

func (r *fakeReceiver) Events() <-chan LinkEvent {
	return r.events
}

func (r *fakeReceiver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.closed {
		r.closed = true
		close(r.deliveries)
		close(r.events)
	}
	return nil
}

type fakeDelivery struct {
	env *contracts.Envelope

	mu      sync.Mutex
	outcome string // "", "accepted", "rejected", "released"
	settled chan struct{}
}

func newFakeDelivery(env *contracts.Envelope) *fakeDelivery {
	return &fakeDelivery{env: env, settled: make(chan struct{})}
}

func (d *fakeDelivery) Envelope() *contracts.Envelope {
	return d.env
}

func (d *fakeDelivery) settle(outcome string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.outcome != "" {
		return errors.New("already settled")
	}
	d.outcome = outcome
	close(d.settled)
	return nil
}

func (d *fakeDelivery) Accept() error  { return d.settle("accepted") }
func (d *fakeDelivery) Reject() error  { return d.settle("rejected") }
func (d *fakeDelivery) Release() error { return d.settle("released") }

func (d *fakeDelivery) result() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.outcome
}
