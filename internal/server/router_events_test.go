package server

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/marginlab/margin/internal/channel"
)

func TestPublishPresenceFansOut(t *testing.T) {
	env := newTestEnv(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream, cleanup := env.broker.Subscribe(ctx, "doc-1")
	defer cleanup()

	event := channel.Event{
		Kind:   channel.KindPresence,
		Origin: "client-user-a",
		Presence: &channel.PresencePayload{
			UserID:      "user-a",
			Text:        "Revenue target",
			TimestampMS: time.Now().UnixMilli(),
		},
	}
	recorder := env.doJSON(t, http.MethodPost, "/documents/doc-1/events", "user-a", event)
	if recorder.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d body %s", recorder.Code, recorder.Body.String())
	}

	select {
	case received := <-stream:
		if received.Kind != channel.KindPresence {
			t.Fatalf("expected presence, got %s", received.Kind)
		}
		if received.DocumentID != "doc-1" {
			t.Fatalf("expected document id bound from path, got %s", received.DocumentID)
		}
	case <-time.After(time.Second):
		t.Fatal("expected fan-out within deadline")
	}
}

func TestPublishPresenceRejectsImpersonation(t *testing.T) {
	env := newTestEnv(t)

	event := channel.Event{
		Kind:     channel.KindPresence,
		Presence: &channel.PresencePayload{UserID: "user-b", Text: "spoofed"},
	}
	recorder := env.doJSON(t, http.MethodPost, "/documents/doc-1/events", "user-a", event)
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for presence under another user id, got %d", recorder.Code)
	}
}

func TestPublishContentRejectsForeignAuthor(t *testing.T) {
	env := newTestEnv(t)

	event := channel.Event{
		Kind:    channel.KindContent,
		Content: &channel.ContentPayload{SectionID: "section-1", Content: "draft", AuthorID: "user-b", TimestampMS: 1},
	}
	recorder := env.doJSON(t, http.MethodPost, "/documents/doc-1/events", "user-a", event)
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for content under another author, got %d", recorder.Code)
	}
}

func TestPublishAnnotationKindRejected(t *testing.T) {
	env := newTestEnv(t)

	event := channel.Event{
		Kind:       channel.KindAnnotation,
		Annotation: &channel.AnnotationPayload{Op: channel.AnnotationOpAdd, ID: "ann-1"},
	}
	recorder := env.doJSON(t, http.MethodPost, "/documents/doc-1/events", "user-a", event)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for annotation kind on events endpoint, got %d", recorder.Code)
	}
}
