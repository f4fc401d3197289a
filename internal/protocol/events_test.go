package protocol

import (
	"testing"
	"time"

	"github.com/parley/chat-client/internal/chat"
)

func TestParseRoomEventMessage(t *testing.T) {
	data, err := NewEvent(EventMessage, MessageEvent{
		Message: chat.Message{ID: 5, Content: "hi", RoomID: 42, Timestamp: time.Unix(10, 0)},
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	typ, ev, err := ParseRoomEvent(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if typ != EventMessage {
		t.Errorf("expected type %q, got %q", EventMessage, typ)
	}
	me, ok := ev.(MessageEvent)
	if !ok {
		t.Fatalf("expected MessageEvent, got %T", ev)
	}
	if me.Message.ID != 5 || me.Message.Content != "hi" {
		t.Errorf("unexpected message: %+v", me.Message)
	}
}

func TestParseRoomEventEdit(t *testing.T) {
	data, err := NewEvent(EventEdit, EditEvent{
		MessageID: 5, RoomID: 42, Content: "fixed", EditedAt: time.Unix(99, 0),
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	_, ev, err := ParseRoomEvent(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	ee, ok := ev.(EditEvent)
	if !ok {
		t.Fatalf("expected EditEvent, got %T", ev)
	}
	if ee.MessageID != 5 || ee.Content != "fixed" {
		t.Errorf("unexpected edit: %+v", ee)
	}
}

func TestParseRoomEventRejectsUnknownType(t *testing.T) {
	if _, _, err := ParseRoomEvent([]byte(`{"type":"presence"}`)); err == nil {
		t.Error("expected error for unknown event type")
	}
	if _, _, err := ParseRoomEvent([]byte(`{}`)); err == nil {
		t.Error("expected error for missing type field")
	}
	if _, _, err := ParseRoomEvent([]byte(`not json`)); err == nil {
		t.Error("expected error for malformed payload")
	}
}
