package bus

import (
	"encoding/json"
	"fmt"
	"time"
)

// Envelope wraps every message crossing the bus. It is stamped once, at
// publish time, and never modified afterwards; the payload stays opaque.
type Envelope struct {
	Timestamp  time.Time       `json:"timestamp"`   // UTC publish time
	SourceRole Role            `json:"source_role"` // role identity of the publisher
	RoutingKey string          `json:"routing_key"` // topic key the message was published under
	Data       json.RawMessage `json:"data"`        // opaque payload
}

// NewEnvelope stamps a payload with the publish time and publisher identity.
func NewEnvelope(source Role, routingKey string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal payload for %s: %w", routingKey, err)
	}
	return Envelope{
		Timestamp:  time.Now().UTC(),
		SourceRole: source,
		RoutingKey: routingKey,
		Data:       data,
	}, nil
}

// DecodeEnvelope parses a wire body back into an Envelope.
func DecodeEnvelope(body []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, fmt.Errorf("failed to decode envelope: %w", err)
	}
	return env, nil
}

// Encode serializes the envelope for the wire.
func (e Envelope) Encode() ([]byte, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}
	return body, nil
}

// Unmarshal decodes the opaque payload into v.
func (e Envelope) Unmarshal(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("envelope for %s has no payload", e.RoutingKey)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("failed to unmarshal payload for %s: %w", e.RoutingKey, err)
	}
	return nil
}
