package clausedesk

import (
	"encoding/json"
	"fmt"
)

// EventType names a wire event. The set is closed; see Decode.
type EventType string

const (
	EventConnectionStatus EventType = "connection_status"
	EventAuthentication   EventType = "authentication"
	EventAuthSuccess      EventType = "auth_success"
	EventAuthError        EventType = "auth_error"
	EventNotification     EventType = "notification"
	EventChatMessage      EventType = "chat_message"
	EventTyping           EventType = "typing"
	EventTypingIndicator  EventType = "typing_indicator"
	EventReadReceipt      EventType = "read_receipt"
	EventBroadcast        EventType = "broadcast"
)

var knownEvents = map[EventType]bool{
	EventConnectionStatus: true,
	EventAuthentication:   true,
	EventAuthSuccess:      true,
	EventAuthError:        true,
	EventNotification:     true,
	EventChatMessage:      true,
	EventTyping:           true,
	EventTypingIndicator:  true,
	EventReadReceipt:      true,
	EventBroadcast:        true,
}

// Valid reports whether t belongs to the wire set.
func (t EventType) Valid() bool { return knownEvents[t] }

// canonical folds aliases so subscribers only register once.
func (t EventType) canonical() EventType {
	if t == EventTypingIndicator {
		return EventTyping
	}
	return t
}

// Envelope is the wire unit exchanged in both directions.
type Envelope struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals payload into an envelope of type t.
func NewEnvelope(t EventType, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return Envelope{Type: t, Data: data}, nil
}

// Decode unmarshals the envelope payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Data) == 0 {
		return nil
	}
	return json.Unmarshal(e.Data, v)
}

// Encode serializes an envelope for the socket.
func Encode(env Envelope) ([]byte, error) {
	if !env.Type.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, env.Type)
	}
	return json.Marshal(env)
}

// Decode parses a raw frame. Unknown types yield ErrUnknownEventType and
// typing_indicator is normalised to typing. The returned envelope owns
// its payload bytes.
func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if !env.Type.Valid() {
		return Envelope{}, fmt.Errorf("%w: %q", ErrUnknownEventType, env.Type)
	}
	env.Type = env.Type.canonical()
	if env.Data != nil {
		env.Data = append(json.RawMessage(nil), env.Data...)
	}
	return env, nil
}
