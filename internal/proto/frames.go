// Package proto defines the wire envelopes exchanged over the duplex
// channel and normalizes loosely shaped payloads at the boundary.
package proto

import "encoding/json"

// Frame is the envelope for every frame in either direction.
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

const (
	// Client to server.
	FrameHello = "hello"
	FrameMsg   = "msg"

	// Server to client.
	FrameAck   = "ack"
	FrameEvent = "event"
	FrameError = "error"
)

// Event kinds carried inside FrameEvent.
const (
	EventReceived  = "received"  // a message from the other party
	EventConfirmed = "confirmed" // echo of a message this client sent
)

// HelloData authenticates the channel after dialing.
type HelloData struct {
	Token string `json:"token"`
}

// MsgData is an outgoing chat message. Ref is a client-generated token the
// server echoes in the matching ack frame.
type MsgData struct {
	Ref         string              `json:"ref"`
	ReceiverID  int64               `json:"receiver_id"`
	Content     string              `json:"content"`
	Attachments []AttachmentPayload `json:"attachments,omitempty"`
}

// AttachmentPayload is an encoded attachment travelling with a msg frame.
type AttachmentPayload struct {
	FileName    string `json:"file_name"`
	Data        string `json:"data"`
	ContentType string `json:"content_type"`
}

// AckData correlates a msg frame with the server's accept decision.
// ID may be empty: the server accepted the message but assigned no id.
type AckData struct {
	Ref string   `json:"ref"`
	ID  ServerID `json:"id"`
}

// EventData wraps a pushed message.
type EventData struct {
	Kind    string      `json:"kind"`
	Message WireMessage `json:"message"`
}

// ErrorData describes a channel-level error frame.
type ErrorData struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

// Marshal wraps data into a frame of the given type.
func Marshal(frameType string, data any) (Frame, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: frameType, Data: raw}, nil
}
