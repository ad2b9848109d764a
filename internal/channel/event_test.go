package channel

import (
	"errors"
	"testing"
)

func TestEventValidate(t *testing.T) {
	testCases := []struct {
		name    string
		event   Event
		wantErr error
	}{
		{
			name: "valid presence",
			event: Event{
				Kind:       KindPresence,
				DocumentID: "doc-1",
				Origin:     "client-a",
				Presence:   &PresencePayload{UserID: "user-1", Text: "Revenue target", TimestampMS: 1000},
			},
		},
		{
			name: "presence clear with empty text",
			event: Event{
				Kind:       KindPresence,
				DocumentID: "doc-1",
				Presence:   &PresencePayload{UserID: "user-1", Text: "", TimestampMS: 1000},
			},
		},
		{
			name: "valid annotation add",
			event: Event{
				Kind:       KindAnnotation,
				DocumentID: "doc-1",
				Annotation: &AnnotationPayload{Op: AnnotationOpAdd, ID: "ann-1", Color: "yellow"},
			},
		},
		{
			name: "valid annotation remove",
			event: Event{
				Kind:       KindAnnotation,
				DocumentID: "doc-1",
				Annotation: &AnnotationPayload{Op: AnnotationOpRemove, ID: "ann-1"},
			},
		},
		{
			name: "missing document id",
			event: Event{
				Kind:     KindPresence,
				Presence: &PresencePayload{UserID: "user-1"},
			},
			wantErr: ErrMissingDocumentID,
		},
		{
			name: "unknown kind",
			event: Event{
				Kind:       Kind("gossip"),
				DocumentID: "doc-1",
			},
			wantErr: ErrInvalidEventKind,
		},
		{
			name: "annotation without payload",
			event: Event{
				Kind:       KindAnnotation,
				DocumentID: "doc-1",
			},
			wantErr: ErrMissingPayload,
		},
		{
			name: "annotation with unknown op",
			event: Event{
				Kind:       KindAnnotation,
				DocumentID: "doc-1",
				Annotation: &AnnotationPayload{Op: AnnotationOp("edit"), ID: "ann-1"},
			},
			wantErr: ErrInvalidEventKind,
		},
		{
			name: "content without payload",
			event: Event{
				Kind:       KindContent,
				DocumentID: "doc-1",
			},
			wantErr: ErrMissingPayload,
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			err := testCase.event.Validate()
			if testCase.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected validation error: %v", err)
				}
				return
			}
			if !errors.Is(err, testCase.wantErr) {
				t.Fatalf("expected error %v, got %v", testCase.wantErr, err)
			}
		})
	}
}

func TestParseKind(t *testing.T) {
	kind, err := ParseKind(" Presence ")
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if kind != KindPresence {
		t.Fatalf("expected presence kind, got %s", kind)
	}

	if _, err := ParseKind("telemetry"); !errors.Is(err, ErrInvalidEventKind) {
		t.Fatalf("expected ErrInvalidEventKind, got %v", err)
	}
}
