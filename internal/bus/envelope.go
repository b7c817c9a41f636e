package bus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // biasanya order_id
	Payload       json.RawMessage `json:"payload"`
}

// NewMessage wraps payload in an envelope keyed by correlationID so all
// events of one aggregate land on the same partition.
func NewMessage(topic, eventType, producer, correlationID string, payload any) (Message, error) {
	p, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("encode payload: %w", err)
	}
	env := Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		CorrelationID: correlationID,
		Payload:       p,
	}
	b, err := json.Marshal(env)
	if err != nil {
		return Message{}, fmt.Errorf("encode envelope: %w", err)
	}
	return Message{
		Topic: topic,
		Key:   []byte(correlationID),
		Value: b,
		Headers: map[string]string{
			"x-event-type":    eventType,
			"x-event-version": "1",
		},
	}, nil
}

// Decode unwraps the envelope and its payload. Undecodable input is poison.
func Decode[T any](m Message) (Envelope, T, error) {
	var env Envelope
	var t T
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return env, t, Poison("decode envelope: %v", err)
	}
	if err := json.Unmarshal(env.Payload, &t); err != nil {
		return env, t, Poison("decode payload %s: %v", env.EventType, err)
	}
	return env, t, nil
}
