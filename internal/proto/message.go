package proto

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/appointly/chatsync/internal/attach"
	"github.com/appointly/chatsync/internal/core"
)

// ServerID tolerates the server sending an id as a JSON string, number or
// null. It is normalized to a decimal string; null becomes the empty string.
type ServerID string

func (s *ServerID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*s = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = ServerID(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("server id: %w", err)
	}
	*s = ServerID(n.String())
	return nil
}

// WireMessage is a chat message as pushed by the server or returned by the
// history endpoint. Attachment shapes vary across server versions, so they
// arrive as raw JSON and are normalized exactly once here.
type WireMessage struct {
	ID          ServerID          `json:"id"`
	SenderID    int64             `json:"sender_id"`
	ReceiverID  int64             `json:"receiver_id"`
	Content     string            `json:"content"`
	SentTime    string            `json:"sent_time"`
	Read        bool              `json:"read"`
	Attachments []json.RawMessage `json:"attachments,omitempty"`
}

// looseAttachment covers the property names older server versions use.
type looseAttachment struct {
	URL      string `json:"url"`
	FileURL  string `json:"fileUrl"`
	Name     string `json:"name"`
	FileName string `json:"file_name"`
	File     *struct {
		URL  string `json:"url"`
		Name string `json:"name"`
	} `json:"file"`
}

// ToMessage converts a wire message into the canonical domain shape.
// An unparseable timestamp makes the whole message malformed; the caller
// drops it rather than guessing at ordering.
func (w WireMessage) ToMessage() (core.Message, error) {
	var sentTime time.Time
	if w.SentTime != "" {
		t, err := time.Parse(time.RFC3339, w.SentTime)
		if err != nil {
			return core.Message{}, fmt.Errorf("parse sent_time %q: %w", w.SentTime, err)
		}
		sentTime = t
	}

	msg := core.Message{
		ID:         string(w.ID),
		SenderID:   w.SenderID,
		ReceiverID: w.ReceiverID,
		Content:    w.Content,
		SentTime:   sentTime,
		Read:       w.Read,
	}

	for _, raw := range w.Attachments {
		if a, ok := normalizeAttachment(raw); ok {
			msg.Attachments = append(msg.Attachments, a)
		}
	}
	return msg, nil
}

// normalizeAttachment resolves the URL and name from whichever loose shape
// the payload uses. Attachments with no resolvable URL are dropped.
func normalizeAttachment(raw json.RawMessage) (core.Attachment, bool) {
	var loose looseAttachment
	if err := json.Unmarshal(raw, &loose); err != nil {
		// Oldest servers send a bare URL string.
		var s string
		if err := json.Unmarshal(raw, &s); err != nil || s == "" {
			return core.Attachment{}, false
		}
		return core.Attachment{URL: s, Kind: attach.Classify(s)}, true
	}

	u := loose.URL
	if u == "" {
		u = loose.FileURL
	}
	name := loose.Name
	if name == "" {
		name = loose.FileName
	}
	if u == "" && loose.File != nil {
		u = loose.File.URL
		if name == "" {
			name = loose.File.Name
		}
	}
	if u == "" {
		return core.Attachment{}, false
	}

	return core.Attachment{URL: u, Name: name, Kind: attach.Classify(u)}, true
}

// FromMessage builds a wire message, used by test doubles and the dev relay.
func FromMessage(m core.Message) WireMessage {
	w := WireMessage{
		ID:         ServerID(m.ID),
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Content:    m.Content,
		Read:       m.Read,
	}
	if !m.SentTime.IsZero() {
		w.SentTime = m.SentTime.Format(time.RFC3339)
	}
	for _, a := range m.Attachments {
		raw, err := json.Marshal(map[string]string{"url": a.URL, "name": a.Name})
		if err != nil {
			continue
		}
		w.Attachments = append(w.Attachments, raw)
	}
	return w
}

// FormatID renders a numeric server id for the wire.
func FormatID(id int64) ServerID {
	return ServerID(strconv.FormatInt(id, 10))
}
