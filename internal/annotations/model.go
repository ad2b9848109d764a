package annotations

import (
	"errors"
	"fmt"
	"strings"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidAnnotationID indicates that an annotation identifier is empty or exceeds storage bounds.
	ErrInvalidAnnotationID = errors.New("annotations: invalid annotation id")
	// ErrInvalidDocumentID indicates that a document identifier is empty or exceeds storage bounds.
	ErrInvalidDocumentID = errors.New("annotations: invalid document id")
	// ErrInvalidSectionID indicates that a section identifier is empty or exceeds storage bounds.
	ErrInvalidSectionID = errors.New("annotations: invalid section id")
	// ErrInvalidUserID indicates that a user identifier is empty or exceeds storage bounds.
	ErrInvalidUserID = errors.New("annotations: invalid user id")
	// ErrInvalidColor indicates a color outside the supported palette.
	ErrInvalidColor = errors.New("annotations: invalid color")
	// ErrEmptyText indicates an annotation without a captured snippet.
	ErrEmptyText = errors.New("annotations: snippet text required")
)

// AnnotationID represents a validated annotation identifier.
type AnnotationID string

// NewAnnotationID validates raw input and returns an AnnotationID.
func NewAnnotationID(rawInput string) (AnnotationID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidAnnotationID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidAnnotationID, maxIdentifierLength)
	}
	return AnnotationID(trimmed), nil
}

// String returns the underlying string identifier.
func (id AnnotationID) String() string {
	return string(id)
}

// DocumentID represents a validated document identifier.
type DocumentID string

// NewDocumentID validates raw input and returns a DocumentID.
func NewDocumentID(rawInput string) (DocumentID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidDocumentID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidDocumentID, maxIdentifierLength)
	}
	return DocumentID(trimmed), nil
}

// String returns the underlying string identifier.
func (id DocumentID) String() string {
	return string(id)
}

// SectionID represents a validated section identifier.
type SectionID string

// NewSectionID validates raw input and returns a SectionID.
func NewSectionID(rawInput string) (SectionID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidSectionID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidSectionID, maxIdentifierLength)
	}
	return SectionID(trimmed), nil
}

// String returns the underlying string identifier.
func (id SectionID) String() string {
	return string(id)
}

// UserID represents a validated user identifier.
type UserID string

// NewUserID validates raw input and returns a UserID.
func NewUserID(rawInput string) (UserID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidUserID, maxIdentifierLength)
	}
	return UserID(trimmed), nil
}

// String returns the underlying string identifier.
func (id UserID) String() string {
	return string(id)
}

// Color enumerates the highlight palette.
type Color string

const (
	ColorYellow Color = "yellow"
	ColorGreen  Color = "green"
	ColorBlue   Color = "blue"
	ColorPink   Color = "pink"
	ColorPurple Color = "purple"
)

// NewColor validates raw input against the palette.
func NewColor(rawInput string) (Color, error) {
	switch Color(strings.ToLower(strings.TrimSpace(rawInput))) {
	case ColorYellow:
		return ColorYellow, nil
	case ColorGreen:
		return ColorGreen, nil
	case ColorBlue:
		return ColorBlue, nil
	case ColorPink:
		return ColorPink, nil
	case ColorPurple:
		return ColorPurple, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidColor, rawInput)
	}
}

// String returns the underlying color name.
func (c Color) String() string {
	return string(c)
}

// Annotation models a persisted highlight. Annotations are immutable
// after creation; edits happen as remove plus recreate.
type Annotation struct {
	DocumentID    string `gorm:"column:document_id;primaryKey;size:190;not null;index:idx_annotations_doc_created,priority:1"`
	AnnotationID  string `gorm:"column:annotation_id;primaryKey;size:190;not null"`
	SectionID     string `gorm:"column:section_id;size:190;not null"`
	Text          string `gorm:"column:text;type:text;not null"`
	Color         string `gorm:"column:color;size:32;not null"`
	CreatedBy     string `gorm:"column:created_by;size:190;not null"`
	MentionedUser string `gorm:"column:mentioned_user;size:190;not null;default:''"`
	CreatedAtMS   int64  `gorm:"column:created_at_ms;not null;index:idx_annotations_doc_created,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (Annotation) TableName() string {
	return "annotations"
}

// CreateRequest describes the input supplied when a client persists an annotation.
type CreateRequest struct {
	AnnotationID  AnnotationID
	DocumentID    DocumentID
	SectionID     SectionID
	Text          string
	Color         Color
	CreatedBy     UserID
	MentionedUser string
	CreatedAtMS   int64
}

func (r CreateRequest) validate() error {
	if strings.TrimSpace(r.Text) == "" {
		return ErrEmptyText
	}
	return nil
}
