// Package reconcile owns the ordered message sequence for one conversation
// and folds history, optimistic sends and server push events into it
// without duplicates.
package reconcile

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/appointly/chatsync/internal/core"
	"github.com/appointly/chatsync/internal/sanitize"
)

// dupWindow bounds the content-based duplicate heuristic for received
// events. Two legitimate identical texts inside this window would be
// merged; the transport offers no stronger identity, so this is a known
// limitation rather than a bug to fix here.
const dupWindow = 5 * time.Second

// Engine is confined to the session's event goroutine; the session
// controller is its only caller, so no internal locking is done.
type Engine struct {
	log      *zerolog.Logger
	messages []core.Message
}

// New constructs an empty engine.
func New(logger *zerolog.Logger) *Engine {
	return &Engine{log: logger}
}

// Seed replaces the sequence with the history snapshot, oldest first.
func (e *Engine) Seed(history []core.Message) {
	e.messages = make([]core.Message, len(history))
	copy(e.messages, history)
}

// Messages returns a copy of the visible sequence in first-observation
// order: optimistic insert time for self-sends, arrival order for pushes.
func (e *Engine) Messages() []core.Message {
	out := make([]core.Message, len(e.messages))
	copy(out, e.messages)
	return out
}

// Len returns the number of visible messages.
func (e *Engine) Len() int {
	return len(e.messages)
}

// InsertPending appends an optimistic entry for a send in flight and
// returns it. The entry carries a local token id and a client timestamp.
func (e *Engine) InsertPending(senderID, receiverID int64, content string, attachments []core.Attachment) core.Message {
	msg := core.Message{
		ID:          core.NewPendingID(),
		SenderID:    senderID,
		ReceiverID:  receiverID,
		Content:     content,
		SentTime:    time.Now(),
		Attachments: attachments,
	}
	e.messages = append(e.messages, msg)
	return msg
}

// RemovePending deletes the entry with the given local token. Used when a
// send fails after the optimistic insert; failure is surfaced to the
// caller separately, never encoded in the sequence.
func (e *Engine) RemovePending(id string) bool {
	for i, m := range e.messages {
		if m.ID == id {
			e.messages = append(e.messages[:i], e.messages[i+1:]...)
			return true
		}
	}
	return false
}

// ConfirmPending upgrades a pending entry in place once the transport ack
// supplies a server id. Position is preserved.
func (e *Engine) ConfirmPending(token, serverID string, serverTime time.Time) bool {
	if serverID == "" {
		return false
	}
	for i := range e.messages {
		if e.messages[i].ID == token {
			e.messages[i].ID = serverID
			if !serverTime.IsZero() {
				e.messages[i].SentTime = serverTime
			}
			return true
		}
	}
	return false
}

// FoldReceived absorbs a push event carrying the other party's message.
// Returns true when the sequence changed.
func (e *Engine) FoldReceived(msg core.Message) bool {
	if !msg.Valid() {
		e.log.Warn().Str("id", msg.ID).Msg("dropping received event with missing parties")
		return false
	}
	if sanitize.ContainsMarkup(msg.Content) {
		msg.Content = sanitize.Strip(msg.Content)
	}
	if msg.SentTime.IsZero() {
		msg.SentTime = time.Now()
	}

	for _, existing := range e.messages {
		if existing.ID != "" && msg.ID != "" && existing.ID == msg.ID {
			e.log.Debug().Str("id", msg.ID).Msg("duplicate received event by id")
			return false
		}
		// A redelivered push always carries the same sender, so the
		// content window never compares against this client's own rows.
		if existing.SenderID == msg.SenderID && existing.Content == msg.Content && within(existing.SentTime, msg.SentTime, dupWindow) {
			e.log.Debug().Str("id", msg.ID).Msg("duplicate received event by content window")
			return false
		}
	}

	e.messages = append(e.messages, msg)
	return true
}

// FoldConfirmation absorbs the server's echo of a message this client
// sent. A pending entry with the same sanitized content is replaced in
// place; when the echo carries no id the pending entry is kept untouched,
// since a null id cannot disambiguate identical in-flight sends.
// Returns true when the sequence changed.
func (e *Engine) FoldConfirmation(msg core.Message) bool {
	if sanitize.ContainsMarkup(msg.Content) {
		msg.Content = sanitize.Strip(msg.Content)
	}

	for i := range e.messages {
		if !core.IsPendingID(e.messages[i].ID) {
			continue
		}
		if e.messages[i].Content != msg.Content {
			continue
		}

		if msg.ID == "" {
			// The optimistic token stays the best available identity.
			return false
		}

		confirmed := msg
		if confirmed.SentTime.IsZero() {
			confirmed.SentTime = e.messages[i].SentTime
		}
		if len(confirmed.Attachments) == 0 {
			confirmed.Attachments = e.messages[i].Attachments
		}
		if confirmed.SenderID == 0 {
			confirmed.SenderID = e.messages[i].SenderID
		}
		if confirmed.ReceiverID == 0 {
			confirmed.ReceiverID = e.messages[i].ReceiverID
		}
		e.messages[i] = confirmed
		return true
	}

	if msg.ID != "" {
		for _, existing := range e.messages {
			if existing.ID == msg.ID {
				e.log.Debug().Str("id", msg.ID).Msg("duplicate confirmation by id")
				return false
			}
		}
	}

	// Only the in-place path can backfill parties from the pending entry;
	// an appended confirmation must carry both on its own.
	if !msg.Valid() {
		e.log.Warn().Str("id", msg.ID).Msg("dropping confirmation with missing parties")
		return false
	}

	if msg.SentTime.IsZero() {
		msg.SentTime = time.Now()
	}
	e.messages = append(e.messages, msg)
	return true
}

func within(a, b time.Time, window time.Duration) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d <= window
}
