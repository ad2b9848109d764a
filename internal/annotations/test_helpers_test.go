package annotations

import (
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	if err := db.AutoMigrate(&Annotation{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	service, err := NewService(ServiceConfig{
		Database: openTestDatabase(t),
		Clock:    func() time.Time { return time.Unix(1700000000, 0) },
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return service
}

func mustAnnotationID(t *testing.T, value string) AnnotationID {
	t.Helper()
	id, err := NewAnnotationID(value)
	if err != nil {
		t.Fatalf("unexpected annotation id error: %v", err)
	}
	return id
}

func mustDocumentID(t *testing.T, value string) DocumentID {
	t.Helper()
	id, err := NewDocumentID(value)
	if err != nil {
		t.Fatalf("unexpected document id error: %v", err)
	}
	return id
}

func mustSectionID(t *testing.T, value string) SectionID {
	t.Helper()
	id, err := NewSectionID(value)
	if err != nil {
		t.Fatalf("unexpected section id error: %v", err)
	}
	return id
}

func mustUserID(t *testing.T, value string) UserID {
	t.Helper()
	id, err := NewUserID(value)
	if err != nil {
		t.Fatalf("unexpected user id error: %v", err)
	}
	return id
}

func mustColor(t *testing.T, value string) Color {
	t.Helper()
	color, err := NewColor(value)
	if err != nil {
		t.Fatalf("unexpected color error: %v", err)
	}
	return color
}

func testCreateRequest(t *testing.T, annotationID, documentID string) CreateRequest {
	t.Helper()
	return CreateRequest{
		AnnotationID: mustAnnotationID(t, annotationID),
		DocumentID:   mustDocumentID(t, documentID),
		SectionID:    mustSectionID(t, "section-1"),
		Text:         "Revenue target",
		Color:        mustColor(t, "yellow"),
		CreatedBy:    mustUserID(t, "user-a"),
		CreatedAtMS:  1700000000000,
	}
}
