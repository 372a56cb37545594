package reconcile

import (
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/appointly/chatsync/internal/core"
)

func newTestEngine() *Engine {
	logger := zerolog.Nop()
	return New(&logger)
}

func received(id string, content string, at time.Time) core.Message {
	return core.Message{ID: id, SenderID: 2, ReceiverID: 1, Content: content, SentTime: at}
}

func TestPendingReplacedByConfirmationInPlace(t *testing.T) {
	e := newTestEngine()
	e.Seed([]core.Message{
		received("10", "earlier", time.Now().Add(-time.Hour)),
	})

	pending := e.InsertPending(1, 2, "Hello", nil)
	if !core.IsPendingID(pending.ID) {
		t.Fatalf("expected pending token id, got %q", pending.ID)
	}
	if e.Len() != 2 {
		t.Fatalf("len = %d, want 2", e.Len())
	}

	changed := e.FoldConfirmation(core.Message{
		ID: "42", SenderID: 1, ReceiverID: 2, Content: "Hello", SentTime: time.Now(),
	})
	if !changed {
		t.Fatal("confirmation should change the sequence")
	}

	msgs := e.Messages()
	if len(msgs) != 2 {
		t.Fatalf("len = %d, want 2 (no duplicate row)", len(msgs))
	}
	if msgs[1].ID != "42" {
		t.Fatalf("confirmed id = %q, want 42 at preserved position", msgs[1].ID)
	}
}

func TestNullIDConfirmationKeepsPendingEntry(t *testing.T) {
	e := newTestEngine()
	pending := e.InsertPending(1, 2, "Hello", nil)

	if e.FoldConfirmation(core.Message{SenderID: 1, ReceiverID: 2, Content: "Hello"}) {
		t.Fatal("null-id confirmation with pending match must not change the sequence")
	}

	msgs := e.Messages()
	if len(msgs) != 1 {
		t.Fatalf("len = %d, want 1", len(msgs))
	}
	if msgs[0].ID != pending.ID {
		t.Fatalf("id = %q, want retained pending token %q", msgs[0].ID, pending.ID)
	}
}

func TestConfirmationDuplicateByIDDiscarded(t *testing.T) {
	e := newTestEngine()
	e.InsertPending(1, 2, "Hello", nil)
	e.FoldConfirmation(core.Message{ID: "42", SenderID: 1, ReceiverID: 2, Content: "Hello"})

	// Redelivered echo: no pending left, id already present.
	if e.FoldConfirmation(core.Message{ID: "42", SenderID: 1, ReceiverID: 2, Content: "Hello"}) {
		t.Fatal("redelivered confirmation should be discarded")
	}
	if e.Len() != 1 {
		t.Fatalf("len = %d, want 1", e.Len())
	}
}

func TestReceivedDuplicateByContentWindow(t *testing.T) {
	e := newTestEngine()
	base := time.Now()

	if !e.FoldReceived(received("", "Hi", base)) {
		t.Fatal("first push should be appended")
	}
	if e.FoldReceived(received("", "Hi", base.Add(time.Second))) {
		t.Fatal("push 1s later with same content should be dropped")
	}
	if !e.FoldReceived(received("", "Hi", base.Add(10*time.Second))) {
		t.Fatal("push outside the window is a legitimate new message")
	}
	if e.Len() != 2 {
		t.Fatalf("len = %d, want 2", e.Len())
	}
}

func TestPeerReplyNotMergedWithOwnIdenticalText(t *testing.T) {
	e := newTestEngine()

	// My optimistic "Hi" followed within the window by the peer's own
	// "Hi" reply. The reply is a distinct message, not a redelivery.
	e.InsertPending(1, 2, "Hi", nil)
	if !e.FoldReceived(received("55", "Hi", time.Now())) {
		t.Fatal("peer reply must not be merged with the local send")
	}
	if e.Len() != 2 {
		t.Fatalf("len = %d, want 2", e.Len())
	}
}

func TestMalformedConfirmationNotAppended(t *testing.T) {
	e := newTestEngine()

	if e.FoldConfirmation(core.Message{ID: "50", Content: "stray"}) {
		t.Fatal("confirmation without parties must be dropped")
	}
	if e.FoldConfirmation(core.Message{ID: "51", SenderID: 1, Content: "still no receiver"}) {
		t.Fatal("confirmation without receiver must be dropped")
	}
	if e.Len() != 0 {
		t.Fatalf("len = %d, want 0", e.Len())
	}
}

func TestReceivedDuplicateByID(t *testing.T) {
	e := newTestEngine()
	base := time.Now()

	e.FoldReceived(received("7", "one", base))
	if e.FoldReceived(received("7", "different text, same id", base.Add(time.Hour))) {
		t.Fatal("same id should be dropped regardless of content")
	}
	if e.Len() != 1 {
		t.Fatalf("len = %d, want 1", e.Len())
	}
}

func TestReceivedFoldIsIdempotent(t *testing.T) {
	e := newTestEngine()
	msg := received("9", "once only", time.Now())

	e.FoldReceived(msg)
	before := e.Messages()
	e.FoldReceived(msg)
	after := e.Messages()

	if len(before) != len(after) {
		t.Fatalf("idempotence violated: %d then %d entries", len(before), len(after))
	}
}

func TestMalformedReceivedDropped(t *testing.T) {
	e := newTestEngine()
	if e.FoldReceived(core.Message{ID: "5", Content: "no parties"}) {
		t.Fatal("event without sender/receiver must be dropped")
	}
	if e.FoldReceived(core.Message{ID: "6", SenderID: 2, Content: "no receiver"}) {
		t.Fatal("event without receiver must be dropped")
	}
	if e.Len() != 0 {
		t.Fatalf("len = %d, want 0", e.Len())
	}
}

func TestReceivedContentSanitizedBeforeCompare(t *testing.T) {
	e := newTestEngine()
	base := time.Now()

	e.FoldReceived(received("", "hello", base))
	if e.FoldReceived(received("", "<b>hello</b>", base.Add(time.Second))) {
		t.Fatal("markup-wrapped duplicate should be detected after stripping")
	}
}

func TestRemovePendingAfterSendFailure(t *testing.T) {
	e := newTestEngine()
	pending := e.InsertPending(1, 2, "doomed", nil)

	if !e.RemovePending(pending.ID) {
		t.Fatal("expected pending entry to be removed")
	}
	if e.RemovePending(pending.ID) {
		t.Fatal("second removal should be a no-op")
	}
	if e.Len() != 0 {
		t.Fatalf("len = %d, want 0", e.Len())
	}
}

func TestConfirmPendingViaAck(t *testing.T) {
	e := newTestEngine()
	pending := e.InsertPending(1, 2, "acked", nil)

	serverTime := time.Now().Add(time.Second)
	if !e.ConfirmPending(pending.ID, "77", serverTime) {
		t.Fatal("expected confirm to find the pending entry")
	}

	msgs := e.Messages()
	if msgs[0].ID != "77" || !msgs[0].SentTime.Equal(serverTime) {
		t.Fatalf("unexpected confirmed entry: %+v", msgs[0])
	}

	// The later echo for the same id must now be a duplicate.
	if e.FoldConfirmation(core.Message{ID: "77", SenderID: 1, ReceiverID: 2, Content: "acked"}) {
		t.Fatal("echo after ack-confirm should be discarded")
	}
	if e.Len() != 1 {
		t.Fatalf("len = %d, want 1", e.Len())
	}
}

// No-duplicate invariant: N confirmed sends interleaved with M pushes end
// at exactly N+M visible rows.
func TestNoDuplicateInvariantUnderInterleaving(t *testing.T) {
	e := newTestEngine()
	const n, m = 5, 4
	base := time.Now()

	for i := 0; i < n; i++ {
		e.InsertPending(1, 2, fmt.Sprintf("mine %d", i), nil)

		if i < m {
			e.FoldReceived(received("", fmt.Sprintf("theirs %d", i), base.Add(time.Duration(i)*time.Minute)))
		}

		// Confirmations arrive late and out of step with pushes.
		if i%2 == 1 {
			e.FoldConfirmation(core.Message{
				ID: fmt.Sprintf("srv-%d", i), SenderID: 1, ReceiverID: 2,
				Content: fmt.Sprintf("mine %d", i), SentTime: base.Add(time.Duration(i) * time.Minute),
			})
		}
	}
	for i := 0; i < n; i += 2 {
		e.FoldConfirmation(core.Message{
			ID: fmt.Sprintf("srv-%d", i), SenderID: 1, ReceiverID: 2,
			Content: fmt.Sprintf("mine %d", i), SentTime: base.Add(time.Duration(i) * time.Minute),
		})
	}

	if e.Len() != n+m {
		t.Fatalf("visible rows = %d, want %d", e.Len(), n+m)
	}
	for _, m := range e.Messages() {
		if core.IsPendingID(m.ID) {
			t.Fatalf("entry %q still pending after all confirmations", m.ID)
		}
	}
}

func BenchmarkFoldReceived(b *testing.B) {
	e := newTestEngine()
	base := time.Now()
	for i := 0; i < 200; i++ {
		e.FoldReceived(received(fmt.Sprintf("seed-%d", i), fmt.Sprintf("seed %d", i), base.Add(time.Duration(i)*time.Minute)))
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		e.FoldReceived(received(fmt.Sprintf("bench-%d", i), fmt.Sprintf("bench %d", i), base.Add(time.Duration(i)*time.Hour)))
	}
}
