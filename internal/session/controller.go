// Package session orchestrates one open conversation: connection
// lifecycle, history seeding, reconciliation handlers and the send flow.
package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/appointly/chatsync/internal/attach"
	"github.com/appointly/chatsync/internal/conn"
	"github.com/appointly/chatsync/internal/core"
	"github.com/appointly/chatsync/internal/history"
	"github.com/appointly/chatsync/internal/proto"
	"github.com/appointly/chatsync/internal/reconcile"
	"github.com/appointly/chatsync/internal/sanitize"
)

// Controller drives one conversation screen. The connection manager is a
// process-wide resource; the controller only borrows it, registering and
// unregistering its reconciliation handlers around the screen's lifetime.
type Controller struct {
	manager *conn.Manager
	history *history.Client
	engine  *reconcile.Engine
	log     *zerolog.Logger

	selfID int64
	peerID int64

	// mu confines the engine: folds arrive on the dispatch goroutine
	// while sends run on the caller's.
	mu           sync.Mutex
	histErr      error
	offReceived  func()
	offConfirmed func()

	onUpdate  func()
	onWarning func(error)
}

// New builds a controller for the conversation between selfID and peerID.
func New(manager *conn.Manager, hist *history.Client, selfID, peerID int64, logger *zerolog.Logger) *Controller {
	return &Controller{
		manager: manager,
		history: hist,
		engine:  reconcile.New(logger),
		log:     logger,
		selfID:  selfID,
		peerID:  peerID,
	}
}

// SetUpdateListener registers a callback fired whenever the visible
// sequence changes.
func (c *Controller) SetUpdateListener(fn func()) {
	c.mu.Lock()
	c.onUpdate = fn
	c.mu.Unlock()
}

// SetWarningListener registers a callback for non-fatal send degradations,
// such as an unreadable attachment on a text-carrying message.
func (c *Controller) SetWarningListener(fn func(error)) {
	c.mu.Lock()
	c.onWarning = fn
	c.mu.Unlock()
}

// Open activates the conversation: ensures a live channel, registers the
// fold handlers and seeds the engine from history. A history failure is
// returned as ErrHistoryUnavailable and is distinct from an empty
// conversation; handlers stay registered so pushes still fold while the
// UI offers a history retry.
func (c *Controller) Open(ctx context.Context) error {
	c.manager.EnsureConnected(ctx)

	c.mu.Lock()
	if c.offReceived == nil {
		c.offReceived = c.manager.On(conn.EventMessageReceived, c.foldReceived)
		c.offConfirmed = c.manager.On(conn.EventMessageSent, c.foldConfirmation)
	}
	c.mu.Unlock()

	return c.loadHistory(ctx)
}

// RetryHistory reloads the conversation snapshot after a failed Open.
func (c *Controller) RetryHistory(ctx context.Context) error {
	return c.loadHistory(ctx)
}

func (c *Controller) loadHistory(ctx context.Context) error {
	msgs, err := c.history.Fetch(ctx, c.peerID)

	c.mu.Lock()
	if err != nil {
		c.histErr = fmt.Errorf("%w: %v", core.ErrHistoryUnavailable, err)
		out := c.histErr
		c.mu.Unlock()
		c.log.Error().Err(err).Int64("peer_id", c.peerID).Msg("history load failed")
		return out
	}
	c.histErr = nil
	c.engine.Seed(msgs)
	c.mu.Unlock()

	c.notifyUpdate()
	return nil
}

// Close deactivates the screen: handlers are unregistered so a late
// confirmation is dropped, and the process-wide connection stays open for
// other screens. Idempotent.
func (c *Controller) Close() {
	c.mu.Lock()
	offR, offC := c.offReceived, c.offConfirmed
	c.offReceived, c.offConfirmed = nil, nil
	c.mu.Unlock()

	if offR != nil {
		offR()
	}
	if offC != nil {
		offC()
	}
}

func (c *Controller) foldReceived(msg core.Message) {
	// Only this conversation's inbound traffic; other screens have their
	// own handlers on the shared channel.
	if msg.SenderID != c.peerID || msg.ReceiverID != c.selfID {
		return
	}
	c.mu.Lock()
	changed := c.engine.FoldReceived(msg)
	c.mu.Unlock()
	if changed {
		c.notifyUpdate()
	}
}

func (c *Controller) foldConfirmation(msg core.Message) {
	if msg.SenderID != 0 && msg.SenderID != c.selfID {
		return
	}
	c.mu.Lock()
	changed := c.engine.FoldConfirmation(msg)
	c.mu.Unlock()
	if changed {
		c.notifyUpdate()
	}
}

// Send validates and transmits one outgoing message.
//
// Flow: validate -> encode attachment -> optimistic insert -> transmit ->
// ack-confirm or rollback. Encoding precedes the insert so the optimistic
// row already carries its attachment and an unreadable attachment-only
// send leaves no row behind. Validation failures happen before any network
// traffic. A send failure removes the optimistic entry and is returned to
// the caller; it is never retried automatically.
func (c *Controller) Send(ctx context.Context, text, attachmentPath string, progress attach.ProgressFunc) error {
	text = strings.TrimSpace(text)
	if text == "" && attachmentPath == "" {
		return core.ErrEmptyMessage
	}
	if sanitize.ContainsMarkup(text) {
		return core.ErrMarkupRejected
	}

	var payloads []proto.AttachmentPayload
	var local []core.Attachment
	if attachmentPath != "" {
		payload, err := attach.EncodeFile(attachmentPath, progress)
		if err != nil {
			if text == "" {
				return fmt.Errorf("%w: %v", core.ErrAttachmentUnreadable, err)
			}
			// Text still carries the user's intent; degrade to text-only
			// and report the attachment separately.
			c.warn(fmt.Errorf("attachment skipped: %w", err))
		} else {
			payloads = append(payloads, proto.AttachmentPayload(payload))
			local = append(local, core.Attachment{
				URL:  attachmentPath,
				Name: payload.FileName,
				Kind: attach.Classify(attachmentPath),
			})
		}
	}

	c.mu.Lock()
	pending := c.engine.InsertPending(c.selfID, c.peerID, text, local)
	c.mu.Unlock()
	c.notifyUpdate()

	serverID, err := c.manager.Send(ctx, c.peerID, text, payloads)
	if err != nil {
		c.mu.Lock()
		c.engine.RemovePending(pending.ID)
		c.mu.Unlock()
		c.notifyUpdate()
		return err
	}

	if serverID != "" {
		c.mu.Lock()
		c.engine.ConfirmPending(pending.ID, serverID, time.Time{})
		c.mu.Unlock()
		c.notifyUpdate()
	}
	// With an empty server id the pending entry stays; the confirmation
	// echo (if distinguishable) resolves it via content matching.
	return nil
}

// Messages returns the current visible sequence.
func (c *Controller) Messages() []core.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engine.Messages()
}

// State returns the connection state for the UI.
func (c *Controller) State() core.ConnectionState {
	return c.manager.State()
}

// HistoryErr returns the conversation-level error from the last history
// load, or nil.
func (c *Controller) HistoryErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.histErr
}

// Reconnect is the UI's manual reconnect trigger.
func (c *Controller) Reconnect(ctx context.Context) {
	c.manager.Resume(ctx)
}

func (c *Controller) notifyUpdate() {
	c.mu.Lock()
	fn := c.onUpdate
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (c *Controller) warn(err error) {
	c.mu.Lock()
	fn := c.onWarning
	c.mu.Unlock()
	c.log.Warn().Err(err).Msg("send degraded")
	if fn != nil {
		fn(err)
	}
}
