// Package contracts defines the message envelope and the error taxonomy
// shared by every layer of veloxmq.
//
// The envelope carries an opaque, application-defined body plus the
// optional broker properties the system round-trips unchanged:
//   - MessageID: per-message identity
//   - CorrelationID: request/response correlation
//   - GroupID: partitioned ordering
//   - Annotations: arbitrary key/value metadata
//
// Bodies are JSON-encoded at the producer boundary and decoded back into
// the application's schema type at the consumer boundary; the transport
// never inspects them.
package contracts
