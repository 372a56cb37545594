// Package ws implements the duplex channel over a websocket using the
// frame envelopes from internal/proto.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/appointly/chatsync/internal/conn"
	"github.com/appointly/chatsync/internal/core"
	"github.com/appointly/chatsync/internal/proto"
)

// ErrChannelClosed is returned for sends whose connection died before the
// ack arrived. The caller cannot know whether the server accepted the
// message; the reconciliation engine absorbs a late echo either way.
var ErrChannelClosed = errors.New("channel closed")

// session is the state of one live connection. A reconnect replaces the
// whole session, so pending acks can never leak across connections.
type session struct {
	ws     *websocket.Conn
	events chan conn.Event
	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	acks map[string]chan proto.AckData
	done bool
}

// Channel implements conn.Transport over a websocket.
type Channel struct {
	url string
	log *zerolog.Logger

	mu      sync.Mutex
	current *session
	writeMu sync.Mutex
}

// New builds a channel that dials the given websocket URL.
func New(url string, logger *zerolog.Logger) *Channel {
	return &Channel{url: url, log: logger}
}

// Connect dials, authenticates with a hello frame and starts the read
// loop. Idempotent while the current connection is live.
func (c *Channel) Connect(ctx context.Context, token string) error {
	c.mu.Lock()
	if c.current != nil && !c.current.closed() {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	ws, _, err := websocket.Dial(ctx, c.url, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return err
	}

	hello, err := proto.Marshal(proto.FrameHello, proto.HelloData{Token: token})
	if err != nil {
		ws.Close(websocket.StatusInternalError, "encode hello")
		return err
	}
	if err := wsjson.Write(ctx, ws, hello); err != nil {
		ws.Close(websocket.StatusProtocolError, "hello failed")
		return err
	}

	// The session outlives the dial context; only a read error or an
	// explicit Close ends it.
	sessCtx, cancel := context.WithCancel(context.Background())
	s := &session{
		ws:     ws,
		events: make(chan conn.Event, 16),
		ctx:    sessCtx,
		cancel: cancel,
		acks:   make(map[string]chan proto.AckData),
	}

	c.mu.Lock()
	c.current = s
	c.mu.Unlock()

	go c.readLoop(s)
	return nil
}

// Events returns the stream of the current connection. It is closed when
// that connection dies.
func (c *Channel) Events() <-chan conn.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil
	}
	return c.current.events
}

// Connected reports whether the current connection is live.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil && !c.current.closed()
}

// Send writes a msg frame and blocks until the correlated ack frame, the
// caller's context, or the connection's death. There is deliberately no
// per-send timeout: a hung send surfaces as an indefinite sending state
// rather than a masked failure.
func (c *Channel) Send(ctx context.Context, msg proto.MsgData) (string, error) {
	c.mu.Lock()
	s := c.current
	c.mu.Unlock()
	if s == nil || s.closed() {
		return "", core.ErrNotConnected
	}

	ackCh := make(chan proto.AckData, 1)
	if !s.registerAck(msg.Ref, ackCh) {
		return "", ErrChannelClosed
	}
	defer s.unregisterAck(msg.Ref)

	frame, err := proto.Marshal(proto.FrameMsg, msg)
	if err != nil {
		return "", err
	}

	c.writeMu.Lock()
	err = wsjson.Write(ctx, s.ws, frame)
	c.writeMu.Unlock()
	if err != nil {
		return "", err
	}

	select {
	case ack, ok := <-ackCh:
		if !ok {
			return "", ErrChannelClosed
		}
		return string(ack.ID), nil
	case <-ctx.Done():
		return "", ctx.Err()
	case <-s.ctx.Done():
		return "", ErrChannelClosed
	}
}

// Close tears down the current connection.
func (c *Channel) Close() error {
	c.mu.Lock()
	s := c.current
	c.mu.Unlock()
	if s == nil {
		return nil
	}
	s.cancel()
	return s.ws.Close(websocket.StatusNormalClosure, "bye")
}

func (c *Channel) readLoop(s *session) {
	defer s.teardown()

	for {
		var frame proto.Frame
		if err := wsjson.Read(s.ctx, s.ws, &frame); err != nil {
			if !errors.Is(err, context.Canceled) {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					c.log.Warn().Err(err).Msg("read frame")
				}
			}
			return
		}

		switch frame.Type {
		case proto.FrameAck:
			var ack proto.AckData
			if err := json.Unmarshal(frame.Data, &ack); err != nil {
				c.log.Warn().Err(err).Msg("decode ack frame")
				continue
			}
			s.deliverAck(ack)
		case proto.FrameEvent:
			var ev proto.EventData
			if err := json.Unmarshal(frame.Data, &ev); err != nil {
				c.log.Warn().Err(err).Msg("decode event frame")
				continue
			}
			c.forwardEvent(s, ev)
		case proto.FrameError:
			var detail proto.ErrorData
			_ = json.Unmarshal(frame.Data, &detail)
			c.log.Warn().Str("code", detail.Code).Str("msg", detail.Msg).Msg("server error frame")
		default:
			c.log.Debug().Str("type", frame.Type).Msg("ignoring unknown frame")
		}
	}
}

func (c *Channel) forwardEvent(s *session, ev proto.EventData) {
	msg, err := ev.Message.ToMessage()
	if err != nil {
		c.log.Warn().Err(err).Msg("dropping malformed event message")
		return
	}

	var kind conn.EventKind
	switch ev.Kind {
	case proto.EventReceived:
		kind = conn.EventMessageReceived
	case proto.EventConfirmed:
		kind = conn.EventMessageSent
	default:
		c.log.Debug().Str("kind", ev.Kind).Msg("ignoring unknown event kind")
		return
	}

	select {
	case s.events <- conn.Event{Kind: kind, Message: msg}:
	case <-s.ctx.Done():
	}
}

func (s *session) closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

func (s *session) registerAck(ref string, ch chan proto.AckData) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return false
	}
	s.acks[ref] = ch
	return true
}

func (s *session) unregisterAck(ref string) {
	s.mu.Lock()
	delete(s.acks, ref)
	s.mu.Unlock()
}

func (s *session) deliverAck(ack proto.AckData) {
	s.mu.Lock()
	ch, ok := s.acks[ack.Ref]
	if ok {
		delete(s.acks, ack.Ref)
	}
	s.mu.Unlock()
	if ok {
		ch <- ack
	}
}

// teardown runs once, when the read loop exits: in-flight sends fail,
// the event stream closes, the connection is released.
func (s *session) teardown() {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	for ref, ch := range s.acks {
		close(ch)
		delete(s.acks, ref)
	}
	s.mu.Unlock()

	s.cancel()
	close(s.events)
	_ = s.ws.CloseNow()
}
