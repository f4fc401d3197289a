// Package chat defines the domain model shared across the sync engine: chat
// messages with their delivery-state machine, rooms, users, typing signals,
// and the per-room Timeline store that keeps message history ordered and
// deduplicated.
package chat

import "time"

// MessageType identifies the kind of content a message carries.
type MessageType string

const (
	TypeText   MessageType = "TEXT"
	TypeImage  MessageType = "IMAGE"
	TypeFile   MessageType = "FILE"
	TypeSystem MessageType = "SYSTEM"
)

// DeliveryState tracks a locally-originated message through the broker
// round-trip. Remote messages arrive already confirmed.
type DeliveryState string

const (
	// DeliveryPending means the message was created locally and has not yet
	// been acknowledged by the server.
	DeliveryPending DeliveryState = "pending"

	// DeliveryConfirmed means the server assigned an ID and echoed the
	// message back on the room topic.
	DeliveryConfirmed DeliveryState = "confirmed"

	// DeliveryFailed means the transport rejected the send. The message is
	// kept in the timeline so the caller can offer a retry.
	DeliveryFailed DeliveryState = "failed"
)

// Message is a single chat message. ID is zero until the server assigns one;
// LocalID is set only for messages originated by this session and is used to
// reconcile the server echo with the optimistic local copy.
type Message struct {
	ID                int64         `json:"id,omitempty"`
	LocalID           string        `json:"localId,omitempty"`
	Content           string        `json:"content"`
	Type              MessageType   `json:"type"`
	SenderID          int64         `json:"senderId"`
	SenderUsername    string        `json:"senderUsername,omitempty"`
	SenderDisplayName string        `json:"senderDisplayName,omitempty"`
	RoomID            int64         `json:"roomId"`
	Timestamp         time.Time     `json:"timestamp"`
	Edited            bool          `json:"edited,omitempty"`
	EditedAt          time.Time     `json:"editedAt,omitzero"`
	State             DeliveryState `json:"-"`
}

// Before reports whether m sorts ahead of other in a room timeline.
// Messages are totally ordered by (timestamp, server ID) with the local ID
// as a final tiebreak for messages that have no server ID yet.
func (m *Message) Before(other *Message) bool {
	if !m.Timestamp.Equal(other.Timestamp) {
		return m.Timestamp.Before(other.Timestamp)
	}
	if m.ID != other.ID {
		return m.ID < other.ID
	}
	return m.LocalID < other.LocalID
}

// SameIdentity reports whether two messages refer to the same logical
// message: matching server IDs, or a server echo carrying the local ID of a
// pending copy.
func (m *Message) SameIdentity(other *Message) bool {
	if m.ID != 0 && m.ID == other.ID {
		return true
	}
	return m.LocalID != "" && m.LocalID == other.LocalID
}

// UserStatus mirrors the presence states reported by the directory service.
type UserStatus string

const (
	StatusOnline  UserStatus = "ONLINE"
	StatusOffline UserStatus = "OFFLINE"
	StatusAway    UserStatus = "AWAY"
)

// User mirrors the directory service's user record.
type User struct {
	ID          int64      `json:"id"`
	Username    string     `json:"username"`
	Email       string     `json:"email,omitempty"`
	DisplayName string     `json:"displayName"`
	AvatarURL   string     `json:"avatarUrl,omitempty"`
	Status      UserStatus `json:"status"`
	LastSeen    time.Time  `json:"lastSeen,omitzero"`
	CreatedAt   time.Time  `json:"createdAt,omitzero"`
}

// RoomKind distinguishes one-to-one conversations from group rooms.
type RoomKind string

const (
	RoomDirect RoomKind = "DIRECT"
	RoomGroup  RoomKind = "GROUP"
)

// Room is room metadata as reported by the external room service. The sync
// engine only ever reads rooms; creation and membership policy live on the
// server.
type Room struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Kind        RoomKind  `json:"type"`
	CreatedBy   int64     `json:"createdBy"`
	CreatedAt   time.Time `json:"createdAt,omitzero"`
	Members     []User    `json:"members,omitempty"`
	LastMessage *Message  `json:"lastMessage,omitempty"`
}

// TypingSignal is an ephemeral typing indicator. It is forwarded to
// observers and never retained.
type TypingSignal struct {
	RoomID   int64  `json:"roomId"`
	UserID   int64  `json:"userId,omitempty"`
	Username string `json:"username"`
	Typing   bool   `json:"typing"`
}
