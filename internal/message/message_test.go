package message

import (
	"strings"
	"testing"

	"github.com/Avicted/eventchat/internal/room"
)

func TestPreview_Short(t *testing.T) {
	if got := Preview("hi"); got != "hi" {
		t.Fatalf("Preview() = %q, want %q", got, "hi")
	}
	exact := strings.Repeat("x", 30)
	if got := Preview(exact); got != exact {
		t.Fatalf("Preview() = %q, want unchanged", got)
	}
}

func TestPreview_Truncates(t *testing.T) {
	body := strings.Repeat("a", 29) + "bcdef"
	want := strings.Repeat("a", 29) + "b..."
	if got := Preview(body); got != want {
		t.Fatalf("Preview() = %q, want %q", got, want)
	}
}

func TestPreview_CountsRunes(t *testing.T) {
	body := strings.Repeat("é", 31)
	got := Preview(body)
	if got != strings.Repeat("é", 30)+"..." {
		t.Fatalf("Preview() = %q", got)
	}
}

func TestMessage_IsDirect(t *testing.T) {
	if !(Message{Room: room.DM(1, 2)}).IsDirect() {
		t.Fatal("dm message should be direct")
	}
	if (Message{Room: room.Event(1)}).IsDirect() {
		t.Fatal("event message should not be direct")
	}
}
