package core

// Error codes crossing the UI boundary.
const (
	ErrCodeNotConnected       = "not_connected"
	ErrCodeEmptyMessage       = "empty_message"
	ErrCodeMarkupRejected     = "markup_rejected"
	ErrCodeNoToken            = "no_token"
	ErrCodeAttachmentUnread   = "attachment_unreadable"
	ErrCodeHistoryUnavailable = "history_unavailable"
)

// ChatError wraps a code and human-readable message.
type ChatError struct {
	Code    string
	Message string
}

func (e *ChatError) Error() string {
	return e.Message
}

var (
	// ErrNotConnected is returned by send when no channel is live. The
	// caller must re-establish the connection before retrying; sends are
	// never retried automatically.
	ErrNotConnected = &ChatError{Code: ErrCodeNotConnected, Message: "not connected"}
	// ErrEmptyMessage is returned when a send has neither text nor attachment.
	ErrEmptyMessage = &ChatError{Code: ErrCodeEmptyMessage, Message: "message has no content"}
	// ErrMarkupRejected is returned when outgoing text contains markup.
	// Outgoing text is rejected rather than silently stripped.
	ErrMarkupRejected = &ChatError{Code: ErrCodeMarkupRejected, Message: "markup is not allowed in outgoing messages"}
	// ErrNoToken is returned when the credential provider yields no token.
	ErrNoToken = &ChatError{Code: ErrCodeNoToken, Message: "no auth token available"}
	// ErrAttachmentUnreadable is returned when an attachment-only send
	// cannot read its source file.
	ErrAttachmentUnreadable = &ChatError{Code: ErrCodeAttachmentUnread, Message: "attachment could not be read"}
	// ErrHistoryUnavailable distinguishes a failed history load from an
	// empty conversation.
	ErrHistoryUnavailable = &ChatError{Code: ErrCodeHistoryUnavailable, Message: "history load failed"}
)
