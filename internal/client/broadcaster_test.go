package client

import (
	"testing"
	"time"

	"github.com/marginlab/margin/internal/channel"
)

func newTestBroadcaster(sender Sender) *PresenceBroadcaster {
	return NewPresenceBroadcaster(PresenceBroadcasterConfig{
		DocumentID: "doc-1",
		UserID:     "user-a",
		Sender:     sender,
		Clock:      func() time.Time { return time.UnixMilli(42_000) },
	})
}

func TestBroadcastCarriesSelectionText(t *testing.T) {
	sender := &recordingSender{}
	broadcaster := newTestBroadcaster(sender)

	broadcaster.Broadcast(&Selection{Text: "quoted passage", Anchor: Rect{X: 1, Y: 2}})

	events := sender.sent()
	if len(events) != 1 {
		t.Fatalf("expected one event, got %d", len(events))
	}
	event := events[0]
	if event.Kind != channel.KindPresence {
		t.Fatalf("unexpected kind %q", event.Kind)
	}
	if event.Presence.UserID != "user-a" || event.Presence.Text != "quoted passage" {
		t.Fatalf("unexpected payload %+v", event.Presence)
	}
	if event.Presence.TimestampMS != 42_000 {
		t.Fatalf("unexpected timestamp %d", event.Presence.TimestampMS)
	}
}

func TestNilSelectionBroadcastsClear(t *testing.T) {
	sender := &recordingSender{}
	broadcaster := newTestBroadcaster(sender)

	broadcaster.Broadcast(nil)

	events := sender.sent()
	if len(events) != 1 {
		t.Fatalf("expected one event, got %d", len(events))
	}
	if events[0].Presence.Text != "" {
		t.Fatalf("expected empty text on clear, got %q", events[0].Presence.Text)
	}
}
