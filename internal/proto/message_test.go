package proto

import (
	"encoding/json"
	"testing"

	"github.com/appointly/chatsync/internal/core"
)

func TestServerIDAcceptsStringNumberNull(t *testing.T) {
	cases := []struct {
		in   string
		want ServerID
	}{
		{`"abc-1"`, "abc-1"},
		{`42`, "42"},
		{`null`, ""},
	}
	for _, c := range cases {
		var id ServerID
		if err := json.Unmarshal([]byte(c.in), &id); err != nil {
			t.Fatalf("unmarshal %s: %v", c.in, err)
		}
		if id != c.want {
			t.Fatalf("unmarshal %s = %q, want %q", c.in, id, c.want)
		}
	}
}

func TestToMessageRejectsBadTimestamp(t *testing.T) {
	w := WireMessage{SenderID: 1, ReceiverID: 2, Content: "x", SentTime: "yesterday"}
	if _, err := w.ToMessage(); err == nil {
		t.Fatal("expected error for unparseable timestamp")
	}
}

func TestToMessageNormalizesLooseAttachments(t *testing.T) {
	payload := []byte(`{
		"id": 7,
		"sender_id": 1,
		"receiver_id": 2,
		"content": "see attached",
		"sent_time": "2026-03-01T10:00:00Z",
		"attachments": [
			{"url": "https://cdn/a.jpg", "name": "a.jpg"},
			{"fileUrl": "https://cdn/contract.pdf"},
			{"file": {"url": "https://cdn/files/deep", "name": "deep"}},
			"https://cdn/bare.png",
			{"note": "no url here"}
		]
	}`)

	var w WireMessage
	if err := json.Unmarshal(payload, &w); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	m, err := w.ToMessage()
	if err != nil {
		t.Fatalf("to message: %v", err)
	}

	if m.ID != "7" {
		t.Fatalf("id = %q, want 7", m.ID)
	}
	if len(m.Attachments) != 4 {
		t.Fatalf("attachments = %d, want 4 (url-less one dropped)", len(m.Attachments))
	}

	wantKinds := []core.AttachmentKind{core.KindImage, core.KindDocument, core.KindDocument, core.KindImage}
	for i, want := range wantKinds {
		if m.Attachments[i].Kind != want {
			t.Fatalf("attachment %d kind = %q, want %q", i, m.Attachments[i].Kind, want)
		}
	}
	if m.Attachments[0].Name != "a.jpg" {
		t.Fatalf("attachment 0 name = %q", m.Attachments[0].Name)
	}
}
