// Package rabbitmq implements the messaging.Transport interfaces over the
// rabbitmq/amqp091-go driver.
//
// Credit model mapping: the receiver's prefetch becomes the channel Qos
// window, so the broker never holds more unacknowledged deliveries than
// the granted credit. Acknowledgment at disposition time returns credit
// to the broker implicitly; IssueCredit is therefore a bookkeeping no-op
// on this transport. Per-message disposition on the sender side maps to
// publisher confirms.
package rabbitmq
