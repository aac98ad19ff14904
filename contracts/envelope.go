package contracts

import (
	"encoding/json"
	"fmt"
	"time"
)

// Envelope wraps a message body for transport. All property fields are
// optional and caller-supplied; the system passes them through unchanged.
type Envelope struct {
	MessageID     string         `json:"messageId,omitempty"`
	CorrelationID string         `json:"correlationId,omitempty"`
	GroupID       string         `json:"groupId,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
	ContentType   string         `json:"contentType,omitempty"`
	Annotations   map[string]any `json:"annotations,omitempty"`
	Body          json.RawMessage `json:"body"`
}

// Wrap encodes a typed payload into an envelope body. The payload type is
// the application's schema; encoding failures are programmer errors and
// surface immediately rather than at send time.
func Wrap[T any](payload T) (*Envelope, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return &Envelope{
		Timestamp: time.Now().UTC(),
		Body:      body,
	}, nil
}

// Open decodes the envelope body into the application's schema type.
// Validation of the body shape happens here, at the consumer boundary.
func Open[T any](env *Envelope) (T, error) {
	var payload T
	if env == nil {
		return payload, fmt.Errorf("decode payload: nil envelope")
	}
	if err := json.Unmarshal(env.Body, &payload); err != nil {
		return payload, fmt.Errorf("decode payload: %w", err)
	}
	return payload, nil
}

// Clone returns a deep copy of the envelope. Deliveries hand envelopes to
// application handlers; cloning keeps the dispatcher's copy immutable.
func (e *Envelope) Clone() *Envelope {
	if e == nil {
		return nil
	}
	cp := *e
	if e.Annotations != nil {
		cp.Annotations = make(map[string]any, len(e.Annotations))
		for k, v := range e.Annotations {
			cp.Annotations[k] = v
		}
	}
	if e.Body != nil {
		cp.Body = make(json.RawMessage, len(e.Body))
		copy(cp.Body, e.Body)
	}
	return &cp
}
