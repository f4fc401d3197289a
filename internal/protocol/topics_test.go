package protocol

import "testing"

func TestRoomTopicRoundTrip(t *testing.T) {
	topic := RoomTopic(42)
	if topic != "chat.room.42" {
		t.Fatalf("unexpected topic %q", topic)
	}

	roomID, typing, err := ParseRoomTopic(topic)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if roomID != 42 || typing {
		t.Errorf("expected room 42, typing=false; got %d, %v", roomID, typing)
	}
}

func TestTypingTopicRoundTrip(t *testing.T) {
	roomID, typing, err := ParseRoomTopic(RoomTypingTopic(7))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if roomID != 7 || !typing {
		t.Errorf("expected room 7, typing=true; got %d, %v", roomID, typing)
	}
}

func TestParseRoomTopicRejectsForeignSubjects(t *testing.T) {
	for _, topic := range []string{"chat.send", "match.request", "chat.room.abc", ""} {
		if _, _, err := ParseRoomTopic(topic); err == nil {
			t.Errorf("expected error for topic %q", topic)
		}
	}
}
