package chatstore

import (
	"errors"
	"testing"
	"time"
)

func TestCursorRoundTrip(t *testing.T) {
	id := NewConversationID()
	ms, gotID, ok, err := DecodeCursor(EncodeCursor(1700000000123, id))
	if err != nil || !ok {
		t.Fatalf("DecodeCursor: ok=%v err=%v", ok, err)
	}
	if ms != 1700000000123 || gotID != id {
		t.Fatalf("got %d %s", ms, gotID)
	}
	if _, _, ok, err := DecodeCursor(""); ok || err != nil {
		t.Fatalf("empty cursor: ok=%v err=%v", ok, err)
	}
	for _, bad := range []string{"%%%", "bm9waXBl", "YWJjfGlk"} {
		if _, _, _, err := DecodeCursor(bad); !errors.Is(err, ErrInvalidCursor) {
			t.Fatalf("cursor %q: err=%v", bad, err)
		}
	}
}

func TestMessageIDsIncrease(t *testing.T) {
	now := time.Now()
	prev := NewMessageID(now)
	for i := 0; i < 100; i++ {
		next := NewMessageID(now)
		if next <= prev {
			t.Fatalf("id %s not after %s", next, prev)
		}
		prev = next
	}
}

func TestPrepare(t *testing.T) {
	if _, err := Prepare(Message{ConversationID: "c", Role: "system"}, time.Now()); !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("expected ErrInvalidRole, got %v", err)
	}
	if _, err := Prepare(Message{Role: "user"}, time.Now()); err == nil {
		t.Fatalf("expected missing conversation error")
	}
	m, err := Prepare(Message{ConversationID: "c", Role: "user", Content: "x"}, time.UnixMilli(42).Add(500*time.Microsecond))
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if m.ID == "" || m.CreatedAt.UnixMilli() != 42 || m.CreatedAt.Nanosecond()%int(time.Millisecond) != 0 {
		t.Fatalf("unexpected prepared message %#v", m)
	}
}

func TestClampSuggestionsAndLimit(t *testing.T) {
	got := ClampSuggestions([]string{" a ", "", "b", "c", "d", "e"})
	if len(got) != 4 || got[0] != "a" || got[3] != "d" {
		t.Fatalf("unexpected %v", got)
	}
	if ClampLimit(0) != 20 || ClampLimit(500) != 100 || ClampLimit(7) != 7 {
		t.Fatalf("unexpected limits")
	}
	if NormalizeTitle("  ") != DefaultTitle {
		t.Fatalf("blank title not defaulted")
	}
}
