// Package conn owns the lifecycle of the process-wide duplex channel:
// handshake, retry with fixed delay, periodic liveness checks and a
// subscription surface that is stable across reconnects.
package conn

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/appointly/chatsync/internal/core"
	"github.com/appointly/chatsync/internal/proto"
)

const (
	// DefaultRetryDelay spaces out handshake attempts after a failure.
	DefaultRetryDelay = 5 * time.Second
	// DefaultHealthInterval is how often the liveness check re-verifies
	// the channel. Guards against silent drops the transport never
	// surfaces on its own.
	DefaultHealthInterval = 30 * time.Second
)

type subscription struct {
	handler Handler
	removed atomic.Bool
}

// Manager maintains at most one live channel for the process.
type Manager struct {
	transport Transport
	tokenFn   TokenFunc
	log       *zerolog.Logger

	retryDelay     time.Duration
	healthInterval time.Duration

	mu         sync.Mutex
	state      core.ConnectionState
	gen        uint64        // incremented per fresh event stream
	events     <-chan Event  // stream currently being dispatched
	attempt    chan struct{} // non-nil while a handshake is in flight
	retryTimer *time.Timer
	suspended  bool // set by Disconnect; cleared by an explicit ensure
	handlers   map[EventKind][]*subscription
	onState    func(core.ConnectionState)
}

// Option tweaks manager timing, mainly for tests.
type Option func(*Manager)

// WithRetryDelay overrides the delay between failed handshake attempts.
func WithRetryDelay(d time.Duration) Option {
	return func(m *Manager) { m.retryDelay = d }
}

// WithHealthInterval overrides the liveness check period.
func WithHealthInterval(d time.Duration) Option {
	return func(m *Manager) { m.healthInterval = d }
}

// NewManager constructs a manager in the disconnected state.
func NewManager(transport Transport, tokenFn TokenFunc, logger *zerolog.Logger, opts ...Option) *Manager {
	m := &Manager{
		transport:      transport,
		tokenFn:        tokenFn,
		log:            logger,
		retryDelay:     DefaultRetryDelay,
		healthInterval: DefaultHealthInterval,
		handlers:       make(map[EventKind][]*subscription),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetStateListener registers a callback invoked on every state change.
func (m *Manager) SetStateListener(fn func(core.ConnectionState)) {
	m.mu.Lock()
	m.onState = fn
	m.mu.Unlock()
}

// State returns the current connection state.
func (m *Manager) State() core.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnected reports whether the channel is currently live.
func (m *Manager) IsConnected() bool {
	return m.State() == core.StateConnected
}

// EnsureConnected is idempotent: connected returns immediately, an
// in-flight attempt is awaited, and a disconnected manager starts a
// handshake. A failed handshake schedules a retry and reports only through
// the state; the retry loop continues until Disconnect or success.
func (m *Manager) EnsureConnected(ctx context.Context) {
	m.ensure(ctx, true)
}

// Resume is the app-foreground trigger; it behaves like EnsureConnected.
func (m *Manager) Resume(ctx context.Context) {
	m.ensure(ctx, true)
}

func (m *Manager) ensure(ctx context.Context, explicit bool) {
	for {
		m.mu.Lock()
		if m.suspended && !explicit {
			m.mu.Unlock()
			return
		}
		if explicit {
			m.suspended = false
		}
		switch m.state {
		case core.StateConnected:
			m.mu.Unlock()
			return
		case core.StateConnecting:
			wait := m.attempt
			m.mu.Unlock()
			select {
			case <-wait:
				// Re-check the settled state.
			case <-ctx.Done():
				return
			}
		default:
			if m.retryTimer != nil {
				m.retryTimer.Stop()
				m.retryTimer = nil
			}
			m.attempt = make(chan struct{})
			m.state = core.StateConnecting
			notify := m.onState
			m.mu.Unlock()
			if notify != nil {
				notify(core.StateConnecting)
			}
			m.connect(ctx)
			return
		}
	}
}

func (m *Manager) connect(ctx context.Context) {
	token, err := m.tokenFn(ctx)
	if err == nil && token == "" {
		err = core.ErrNoToken
	}
	if err == nil {
		err = m.transport.Connect(ctx, token)
	}

	m.mu.Lock()
	close(m.attempt)
	m.attempt = nil

	if err != nil {
		m.state = core.StateDisconnected
		m.scheduleRetryLocked()
		notify := m.onState
		m.mu.Unlock()
		m.log.Warn().Err(err).Dur("retry_in", m.retryDelay).Msg("handshake failed")
		if notify != nil {
			notify(core.StateDisconnected)
		}
		return
	}

	m.state = core.StateConnected
	// Connect is a no-op on a still-live channel; only a fresh event
	// stream gets its own dispatch loop.
	events := m.transport.Events()
	fresh := events != m.events
	if fresh {
		m.events = events
		m.gen++
	}
	gen := m.gen
	notify := m.onState
	m.mu.Unlock()
	m.log.Info().Msg("channel connected")
	if notify != nil {
		notify(core.StateConnected)
	}

	if fresh {
		go m.dispatchLoop(events, gen)
	}
}

func (m *Manager) scheduleRetryLocked() {
	if m.suspended || m.retryTimer != nil {
		return
	}
	m.retryTimer = time.AfterFunc(m.retryDelay, func() {
		m.mu.Lock()
		m.retryTimer = nil
		m.mu.Unlock()
		m.ensure(context.Background(), false)
	})
}

// dispatchLoop drains one connection's event stream. The stream closing
// means the transport dropped; the manager flips to disconnected and the
// retry machinery takes over.
func (m *Manager) dispatchLoop(events <-chan Event, gen uint64) {
	for ev := range events {
		m.dispatch(ev)
	}
	m.mu.Lock()
	stale := m.gen != gen
	m.mu.Unlock()
	if !stale {
		m.markDisconnected(true)
	}
}

func (m *Manager) dispatch(ev Event) {
	m.mu.Lock()
	snapshot := make([]*subscription, len(m.handlers[ev.Kind]))
	copy(snapshot, m.handlers[ev.Kind])
	m.mu.Unlock()

	// Handlers run outside the lock, in subscription order. The removed
	// flag makes unsubscription from inside a handler effective for the
	// remainder of this dispatch.
	for _, sub := range snapshot {
		if sub.removed.Load() {
			continue
		}
		sub.handler(ev.Message)
	}
}

func (m *Manager) markDisconnected(scheduleRetry bool) {
	m.mu.Lock()
	if m.state != core.StateConnected {
		m.mu.Unlock()
		return
	}
	m.state = core.StateDisconnected
	if scheduleRetry {
		m.scheduleRetryLocked()
	}
	notify := m.onState
	m.mu.Unlock()
	m.log.Warn().Msg("channel dropped")
	if notify != nil {
		notify(core.StateDisconnected)
	}
}

// On subscribes a handler for an event kind and returns its unsubscribe
// function. Unsubscribing is safe from within a handler invocation.
func (m *Manager) On(kind EventKind, h Handler) func() {
	sub := &subscription{handler: h}
	m.mu.Lock()
	m.handlers[kind] = append(m.handlers[kind], sub)
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { m.off(kind, sub) })
	}
}

func (m *Manager) off(kind EventKind, sub *subscription) {
	sub.removed.Store(true)
	m.mu.Lock()
	subs := m.handlers[kind]
	for i, s := range subs {
		if s == sub {
			m.handlers[kind] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	m.mu.Unlock()
}

// Send transmits one message over the live channel. It fails fast with
// ErrNotConnected when no channel is live and never retries on its own: a
// send carries user intent and a blind retry risks duplicate delivery.
func (m *Manager) Send(ctx context.Context, receiverID int64, content string, attachments []proto.AttachmentPayload) (string, error) {
	m.mu.Lock()
	if m.state != core.StateConnected {
		m.mu.Unlock()
		return "", core.ErrNotConnected
	}
	t := m.transport
	m.mu.Unlock()

	id, err := t.Send(ctx, proto.MsgData{
		Ref:         uuid.New().String(),
		ReceiverID:  receiverID,
		Content:     content,
		Attachments: attachments,
	})
	if err != nil {
		// A transmit failure doubles as a liveness signal, unless the
		// caller's own context ended the wait.
		if ctx.Err() == nil {
			m.markDisconnected(true)
		}
		return "", fmt.Errorf("send: %w", err)
	}
	return id, nil
}

// Run drives the periodic liveness check until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.transport.Connected() {
				continue
			}
			m.markDisconnected(false)
			m.ensure(ctx, false)
		}
	}
}

// Disconnect tears down the channel and cancels pending retries.
// Idempotent; a later EnsureConnected starts fresh.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.suspended = true
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	wasConnected := m.state == core.StateConnected
	m.state = core.StateDisconnected
	notify := m.onState
	m.mu.Unlock()

	_ = m.transport.Close()
	if wasConnected && notify != nil {
		notify(core.StateDisconnected)
	}
}
