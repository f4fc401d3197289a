package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/parley/chat-client/internal/chat"
)

// Room-topic event types.
const (
	EventMessage = "message"
	EventEdit    = "edit"
)

// Envelope holds the event type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON captures the full raw bytes and extracts only the "type"
// field so the rest of the payload can be decoded later into the
// appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// MessageEvent is pushed on chat.room.<id> when a message is delivered.
type MessageEvent struct {
	Type    string       `json:"type"`
	Message chat.Message `json:"message"`
}

// EditEvent is pushed on chat.room.<id> when a message is edited in place.
type EditEvent struct {
	Type      string    `json:"type"`
	MessageID int64     `json:"messageId"`
	RoomID    int64     `json:"roomId"`
	Content   string    `json:"content"`
	EditedAt  time.Time `json:"editedAt"`
}

// SendRequest is published to chat.send to originate a message. LocalID
// lets the server echo carry the client-assigned identifier back so the
// optimistic local copy can be confirmed.
type SendRequest struct {
	LocalID           string           `json:"localId"`
	RoomID            int64            `json:"roomId"`
	SenderID          int64            `json:"senderId"`
	SenderUsername    string           `json:"senderUsername,omitempty"`
	SenderDisplayName string           `json:"senderDisplayName,omitempty"`
	Content           string           `json:"content"`
	MsgType           chat.MessageType `json:"type"`
	Timestamp         time.Time        `json:"timestamp"`
}

// ParseRoomEvent parses raw bytes from a room message topic into a typed
// event. It returns the event type string, the decoded struct
// (MessageEvent or EditEvent), and any error encountered during parsing.
func ParseRoomEvent(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse event: %w", err)
	}

	var (
		ev  interface{}
		err error
	)
	switch env.Type {
	case EventMessage:
		var m MessageEvent
		err = json.Unmarshal(env.Raw, &m)
		ev = m
	case EventEdit:
		var m EditEvent
		err = json.Unmarshal(env.Raw, &m)
		ev = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown room event type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, ev, nil
}

// NewEvent JSON-encodes an event payload with the "type" key injected, the
// inverse of ParseRoomEvent.
func NewEvent(eventType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}
	m["type"] = eventType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal event: %w", err)
	}
	return out, nil
}
