package annotations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

// ServiceError carries a dotted operation code alongside its cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew = "annotations.service.new"
	opCreate     = "annotations.create"
	opRemove     = "annotations.remove"
	opSnapshot   = "annotations.snapshot"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// ErrNotCreator indicates a removal attempted by someone other than the
// annotation's creator.
var ErrNotCreator = errors.New("annotations: only the creator may remove an annotation")

// ServiceConfig wires the persistence service dependencies.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// IDProvider issues new annotation identifiers.
type IDProvider interface {
	NewID() (string, error)
}

// Service is the durable side of the annotation channel: it persists
// created annotations and serves full-document snapshots for resync.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewService validates configuration and constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:     cfg.Database,
		clock:  clock,
		logger: logger,
	}, nil
}

// Create persists an annotation. Creation is idempotent on the
// annotation id: re-creating an existing id leaves the stored row
// untouched and returns it, which absorbs duplicate delivery of the
// same add event.
func (s *Service) Create(ctx context.Context, request CreateRequest) (Annotation, error) {
	if err := request.validate(); err != nil {
		return Annotation{}, newServiceError(opCreate, "invalid_request", err)
	}

	createdAt := request.CreatedAtMS
	if createdAt <= 0 {
		createdAt = s.clock().UTC().UnixMilli()
	}

	record := Annotation{
		DocumentID:    request.DocumentID.String(),
		AnnotationID:  request.AnnotationID.String(),
		SectionID:     request.SectionID.String(),
		Text:          request.Text,
		Color:         request.Color.String(),
		CreatedBy:     request.CreatedBy.String(),
		MentionedUser: request.MentionedUser,
		CreatedAtMS:   createdAt,
	}

	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&record)
	if result.Error != nil {
		s.logError(opCreate, "save_failed", result.Error,
			zap.String("document_id", record.DocumentID),
			zap.String("annotation_id", record.AnnotationID))
		return Annotation{}, newServiceError(opCreate, "save_failed", result.Error)
	}

	if result.RowsAffected == 0 {
		var existing Annotation
		err := s.db.WithContext(ctx).
			Where("document_id = ? AND annotation_id = ?", record.DocumentID, record.AnnotationID).
			Take(&existing).Error
		if err != nil {
			s.logError(opCreate, "existing_select_failed", err,
				zap.String("document_id", record.DocumentID),
				zap.String("annotation_id", record.AnnotationID))
			return Annotation{}, newServiceError(opCreate, "existing_select_failed", err)
		}
		return existing, nil
	}

	s.logger.Info("annotation created",
		zap.String("document_id", record.DocumentID),
		zap.String("annotation_id", record.AnnotationID),
		zap.String("created_by", record.CreatedBy),
		zap.String("color", record.Color))
	return record, nil
}

// Remove deletes an annotation. Removal is idempotent: deleting an
// unknown id is a silent success. When requestedBy is non-empty, only
// the annotation's creator may remove it.
func (s *Service) Remove(ctx context.Context, documentID DocumentID, annotationID AnnotationID, requestedBy UserID) error {
	if requestedBy.String() != "" {
		var existing Annotation
		err := s.db.WithContext(ctx).
			Where("document_id = ? AND annotation_id = ?", documentID.String(), annotationID.String()).
			Take(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			s.logError(opRemove, "select_failed", err,
				zap.String("document_id", documentID.String()),
				zap.String("annotation_id", annotationID.String()))
			return newServiceError(opRemove, "select_failed", err)
		}
		if existing.CreatedBy != requestedBy.String() {
			return newServiceError(opRemove, "not_creator", ErrNotCreator)
		}
	}

	err := s.db.WithContext(ctx).
		Where("document_id = ? AND annotation_id = ?", documentID.String(), annotationID.String()).
		Delete(&Annotation{}).Error
	if err != nil {
		s.logError(opRemove, "delete_failed", err,
			zap.String("document_id", documentID.String()),
			zap.String("annotation_id", annotationID.String()))
		return newServiceError(opRemove, "delete_failed", err)
	}

	return nil
}

// Snapshot returns every annotation for the document, newest first.
// Channel clients call this on every connect and reconnect to establish
// a consistent baseline before streaming deltas.
func (s *Service) Snapshot(ctx context.Context, documentID DocumentID) ([]Annotation, error) {
	var records []Annotation
	err := s.db.WithContext(ctx).
		Where("document_id = ?", documentID.String()).
		Order("created_at_ms DESC").
		Find(&records).Error
	if err != nil {
		s.logError(opSnapshot, "query_failed", err, zap.String("document_id", documentID.String()))
		return nil, newServiceError(opSnapshot, "query_failed", err)
	}
	return records, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("annotations service error", attrs...)
}
