package messaging

import (
	"context"

	"github.com/veloxmq/veloxmq-go/contracts"
)

// Disposition is the broker's final verdict on a transferred message.
type Disposition int

const (
	DispositionAccepted Disposition = iota
	DispositionRejected
	DispositionReleased
)

// String returns the wire name of the disposition.
func (d Disposition) String() string {
	switch d {
	case DispositionAccepted:
		return "accepted"
	case DispositionRejected:
		return "rejected"
	case DispositionReleased:
		return "released"
	default:
		return "unknown"
	}
}

// Transport opens protocol-level connections to a broker.
type Transport interface {
	// Open performs the protocol handshake against the target URI.
	Open(ctx context.Context, uri string) (TransportConnection, error)
}

// TransportConnection is one open connection to the broker. Closing the
// connection implicitly closes every link attached to it.
type TransportConnection interface {
	// AttachSender attaches an outbound link for the given topic.
	AttachSender(ctx context.Context, opts SenderAttachOptions) (TransportSender, error)

	// AttachReceiver attaches an inbound link with the given initial credit.
	AttachReceiver(ctx context.Context, opts ReceiverAttachOptions) (TransportReceiver, error)

	// NotifyClose returns a channel that receives the close reason when the
	// transport closes without a local Close call. A nil error on the
	// channel, or the channel closing, means clean shutdown.
	NotifyClose() <-chan error

	// Close shuts the connection down locally.
	Close() error
}

// SenderAttachOptions configures an outbound link.
type SenderAttachOptions struct {
	// Topic is the destination address for messages sent over the link.
	Topic string
	// Name identifies the link for diagnostics. Generated when empty.
	Name string
}

// ReceiverAttachOptions configures an inbound link.
type ReceiverAttachOptions struct {
	// Topic is the source address messages are consumed from.
	Topic string
	// Name identifies the link for diagnostics. Generated when empty.
	Name string
	// Credit is the initial credit granted to the peer on attach.
	Credit int
}

// LinkEventKind classifies link-level events surfaced by the transport.
type LinkEventKind int

const (
	// LinkOpened fires when the peer confirms the attach.
	LinkOpened LinkEventKind = iota
	// LinkFlow fires when the peer updates link flow state.
	LinkFlow
	// LinkDrain fires when the peer requests a credit drain.
	LinkDrain
	// LinkClosed fires when the link closes.
	LinkClosed
	// LinkError fires when the transport reports a link-level error.
	LinkError
)

// LinkEvent is a link-level notification. Credit carries the peer's view
// of granted credit for LinkOpened and LinkFlow events.
type LinkEvent struct {
	Kind   LinkEventKind
	Credit int
	Err    error
}

// TransportSender is an outbound link handle.
type TransportSender interface {
	// Send transfers an envelope and blocks until the broker settles it.
	// The returned error is reserved for transport failures; ordinary
	// negative settlement is reported through the Disposition.
	Send(ctx context.Context, env *contracts.Envelope) (Disposition, error)

	// Events surfaces open/flow/drain/close/error notifications.
	Events() <-chan LinkEvent

	// Close detaches the link.
	Close() error
}

// TransportReceiver is an inbound link handle with credit control.
type TransportReceiver interface {
	// Deliveries streams inbound transfers. The channel closes when the
	// link or its parent connection closes.
	Deliveries() <-chan TransportDelivery

	// IssueCredit grants the peer permission for n further transfers.
	IssueCredit(n int) error

	// Events surfaces open/flow/drain/close/error notifications.
	Events() <-chan LinkEvent

	// Close detaches the link.
	Close() error
}

// TransportDelivery is a single inbound transfer awaiting disposition.
type TransportDelivery interface {
	// Envelope returns the delivered message.
	Envelope() *contracts.Envelope

	// Accept settles the delivery positively.
	Accept() error

	// Reject settles the delivery negatively.
	Reject() error

	// Release returns the delivery unsettled for redelivery elsewhere.
	Release() error
}
