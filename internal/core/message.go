package core

import "time"

// Message is the domain model for one row of the conversation view.
//
// ID is either a server-assigned identifier (normalized to a string at the
// wire boundary), the empty string when the server accepted the message but
// assigned no id, or a pending token while a send is in flight.
type Message struct {
	ID          string
	SenderID    int64
	ReceiverID  int64
	Content     string
	SentTime    time.Time
	Attachments []Attachment
	Read        bool
}

// Valid reports whether the message carries both conversation parties.
// Events failing this check are dropped at the reconciliation boundary.
func (m Message) Valid() bool {
	return m.SenderID != 0 && m.ReceiverID != 0
}

// AttachmentKind classifies how an attachment should be presented.
type AttachmentKind string

const (
	KindImage    AttachmentKind = "image"
	KindDocument AttachmentKind = "document"
	KindUnknown  AttachmentKind = "unknown"
)

// Attachment is the canonical attachment shape, produced once at ingestion.
// Downstream consumers never re-derive URL or kind from loose payloads.
type Attachment struct {
	URL  string
	Name string
	Kind AttachmentKind
}
