// Package protocol defines the broker wire format used by the sync engine:
// subject naming for room-scoped topics, the JSON event envelope with its
// type discriminator, and the frame format spoken by WebSocket-fronted
// brokers. All payloads are serialized as JSON.
package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Broker subject patterns. Each room has a message topic and a parallel
// typing-indicator topic; sends go to well-known application-scoped
// destinations.
const (
	SubjectRoomPrefix = "chat.room" // + .<room_id> [+ .typing]
	SubjectSend       = "chat.send"
	SubjectTyping     = "chat.typing"

	typingSuffix = ".typing"
)

// RoomTopic returns the broker topic carrying a room's message events.
func RoomTopic(roomID int64) string {
	return SubjectRoomPrefix + "." + strconv.FormatInt(roomID, 10)
}

// RoomTypingTopic returns the broker topic carrying a room's typing
// indicators.
func RoomTypingTopic(roomID int64) string {
	return RoomTopic(roomID) + typingSuffix
}

// ParseRoomTopic extracts the room ID from a room-scoped topic and reports
// whether it is the typing variant. It returns an error for topics outside
// the chat.room namespace.
func ParseRoomTopic(topic string) (roomID int64, typing bool, err error) {
	rest, ok := strings.CutPrefix(topic, SubjectRoomPrefix+".")
	if !ok {
		return 0, false, fmt.Errorf("protocol: topic %q is not room-scoped", topic)
	}
	rest, typing = strings.CutSuffix(rest, typingSuffix)
	roomID, err = strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("protocol: bad room id in topic %q: %w", topic, err)
	}
	return roomID, typing, nil
}
