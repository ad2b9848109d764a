package channel

import (
	"errors"
	"fmt"
	"strings"
)

// Kind enumerates the message kinds carried on a document channel.
type Kind string

const (
	// KindPresence carries ephemeral selection presence.
	KindPresence Kind = "presence"
	// KindAnnotation carries annotation add/remove mutations.
	KindAnnotation Kind = "annotation"
	// KindContent carries last-writer-wins section content changes.
	KindContent Kind = "content"
)

// AnnotationOp enumerates annotation mutation operations.
type AnnotationOp string

const (
	AnnotationOpAdd    AnnotationOp = "add"
	AnnotationOpRemove AnnotationOp = "remove"
)

var (
	// ErrInvalidEventKind indicates an unknown or empty event kind.
	ErrInvalidEventKind = errors.New("channel: invalid event kind")
	// ErrMissingDocumentID indicates an event without a document binding.
	ErrMissingDocumentID = errors.New("channel: document id required")
	// ErrMissingPayload indicates an event whose payload for its kind is absent.
	ErrMissingPayload = errors.New("channel: payload required for event kind")
)

// PresencePayload mirrors the presence wire shape. An empty Text signals
// that the user cleared their selection.
type PresencePayload struct {
	UserID      string `json:"user_id"`
	Text        string `json:"text"`
	TimestampMS int64  `json:"timestamp_ms"`
}

// AnnotationPayload mirrors the annotation mutation wire shape. Fields
// beyond Op and ID are populated only for add operations.
type AnnotationPayload struct {
	Op            AnnotationOp `json:"op"`
	ID            string       `json:"id"`
	SectionID     string       `json:"section_id,omitempty"`
	Text          string       `json:"text,omitempty"`
	Color         string       `json:"color,omitempty"`
	CreatedBy     string       `json:"created_by,omitempty"`
	MentionedUser string       `json:"mentioned_user,omitempty"`
	CreatedAtMS   int64        `json:"created_at_ms,omitempty"`
}

// ContentPayload mirrors the content change wire shape. Precedence is
// decided by TimestampMS, never by delivery order.
type ContentPayload struct {
	SectionID   string `json:"section_id"`
	Content     string `json:"content"`
	AuthorID    string `json:"author_id"`
	TimestampMS int64  `json:"timestamp_ms"`
}

// Event is the envelope fanned out on a document channel. Origin carries
// the sending client identifier so receivers can suppress self-echo.
type Event struct {
	Kind       Kind               `json:"kind"`
	DocumentID string             `json:"document_id"`
	Origin     string             `json:"origin"`
	Presence   *PresencePayload   `json:"presence,omitempty"`
	Annotation *AnnotationPayload `json:"annotation,omitempty"`
	Content    *ContentPayload    `json:"content,omitempty"`
}

// Validate checks that the envelope is well formed for its kind.
func (e Event) Validate() error {
	if strings.TrimSpace(e.DocumentID) == "" {
		return ErrMissingDocumentID
	}
	switch e.Kind {
	case KindPresence:
		if e.Presence == nil {
			return fmt.Errorf("%w: %s", ErrMissingPayload, e.Kind)
		}
	case KindAnnotation:
		if e.Annotation == nil {
			return fmt.Errorf("%w: %s", ErrMissingPayload, e.Kind)
		}
		if e.Annotation.Op != AnnotationOpAdd && e.Annotation.Op != AnnotationOpRemove {
			return fmt.Errorf("%w: unknown annotation op %q", ErrInvalidEventKind, e.Annotation.Op)
		}
	case KindContent:
		if e.Content == nil {
			return fmt.Errorf("%w: %s", ErrMissingPayload, e.Kind)
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidEventKind, e.Kind)
	}
	return nil
}

// ParseKind maps a raw string onto a Kind.
func ParseKind(value string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(value))) {
	case KindPresence:
		return KindPresence, nil
	case KindAnnotation:
		return KindAnnotation, nil
	case KindContent:
		return KindContent, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidEventKind, value)
	}
}
