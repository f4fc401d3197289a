package protocol

import "encoding/json"

// Frame types spoken over WebSocket-fronted brokers. The WS gateway demuxes
// publishes by topic and pushes events back with the originating topic
// attached.
const (
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FramePublish     = "publish"
	FrameEvent       = "event"
	FrameError       = "error"
)

// Frame is the envelope exchanged with a WS-fronted broker.
type Frame struct {
	Type  string          `json:"type"`
	Topic string          `json:"topic,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *FrameErr       `json:"error,omitempty"`
}

// FrameErr describes a broker-reported error.
type FrameErr struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *FrameErr) Error() string {
	if e == nil {
		return ""
	}
	return e.Code + ": " + e.Message
}
