package conn

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/appointly/chatsync/internal/proto"
)

// fakeTransport scripts connect outcomes and lets tests push events.
type fakeTransport struct {
	mu        sync.Mutex
	failUntil int // Connect calls up to this count fail
	connects  int
	connected bool
	events    chan Event
	sendFn    func(proto.MsgData) (string, error)
	sent      []proto.MsgData
}

var errDialRefused = errors.New("dial refused")

func (f *fakeTransport) Connect(_ context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.connects <= f.failUntil {
		return errDialRefused
	}
	// Like the websocket channel, a connect on a still-live connection
	// is a no-op and keeps the existing event stream.
	if f.connected && f.events != nil {
		return nil
	}
	f.connected = true
	f.events = make(chan Event, 16)
	return nil
}

func (f *fakeTransport) Send(_ context.Context, msg proto.MsgData) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	if f.sendFn != nil {
		return f.sendFn(msg)
	}
	return "1", nil
}

func (f *fakeTransport) Events() <-chan Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events
}

func (f *fakeTransport) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	return nil
}

func (f *fakeTransport) emit(ev Event) {
	f.mu.Lock()
	ch := f.events
	f.mu.Unlock()
	ch <- ev
}

// silentDrop simulates a drop the transport never surfaces: the liveness
// probe starts reporting false but the event stream stays open.
func (f *fakeTransport) silentDrop() {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
}

func (f *fakeTransport) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

func staticToken(tok string) TokenFunc {
	return func(context.Context) (string, error) { return tok, nil }
}

func testLogger() *zerolog.Logger {
	logger := zerolog.Nop()
	return &logger
}

func newTestManager(t *testing.T, ft *fakeTransport, opts ...Option) *Manager {
	t.Helper()
	logger := zerolog.Nop()
	opts = append([]Option{WithRetryDelay(10 * time.Millisecond), WithHealthInterval(10 * time.Millisecond)}, opts...)
	return NewManager(ft, staticToken("tok"), &logger, opts...)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}
