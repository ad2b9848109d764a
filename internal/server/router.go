package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/marginlab/margin/internal/annotations"
	"github.com/marginlab/margin/internal/channel"
	"github.com/marginlab/margin/internal/hub"
	"go.uber.org/zap"
)

const (
	userIDContextKey = "margin_user_id"
	// originHeader carries the sending client's channel identity so
	// REST mutations can be broadcast with a self-echo tag.
	originHeader = "X-Margin-Client"
)

var (
	errMissingTokenManager       = errors.New("token manager dependency required")
	errMissingAnnotationsService = errors.New("annotations service dependency required")
	errMissingHub                = errors.New("hub dependency required")
	errInvalidAuthorization      = errors.New("authorization header missing or invalid")
)

// TokenValidator authenticates bearer tokens into user identifiers.
type TokenValidator interface {
	Validate(token string) (string, error)
}

// Dependencies wires the HTTP surface.
type Dependencies struct {
	TokenManager      TokenValidator
	Annotations       *annotations.Service
	Hub               *hub.Hub
	Logger            *zap.Logger
	KeepaliveInterval time.Duration
}

// NewHTTPHandler builds the gin router for the annotation API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.Annotations == nil {
		return nil, errMissingAnnotationsService
	}
	if deps.Hub == nil {
		return nil, errMissingHub
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	keepalive := deps.KeepaliveInterval
	if keepalive <= 0 {
		keepalive = defaultKeepaliveInterval
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type", originHeader},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:      deps.TokenManager,
		annotations: deps.Annotations,
		broker:      deps.Hub,
		logger:      logger,
		keepalive:   keepalive,
	}

	router.GET("/healthz", handler.handleHealth)

	protected := router.Group("/documents/:documentId")
	protected.Use(handler.authorizeRequest)
	protected.GET("/annotations", handler.handleSnapshot)
	protected.POST("/annotations", handler.handleCreateAnnotation)
	protected.DELETE("/annotations/:annotationId", handler.handleRemoveAnnotation)
	protected.POST("/events", handler.handlePublishEvent)
	protected.GET("/stream", handler.handleStream)

	return router, nil
}

type httpHandler struct {
	tokens      TokenValidator
	annotations *annotations.Service
	broker      *hub.Hub
	logger      *zap.Logger
	keepalive   time.Duration
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type annotationPayload struct {
	ID            string `json:"id"`
	DocumentID    string `json:"document_id"`
	SectionID     string `json:"section_id"`
	Text          string `json:"text"`
	Color         string `json:"color"`
	CreatedBy     string `json:"created_by"`
	MentionedUser string `json:"mentioned_user,omitempty"`
	CreatedAtMS   int64  `json:"created_at_ms"`
}

func toAnnotationPayload(record annotations.Annotation) annotationPayload {
	return annotationPayload{
		ID:            record.AnnotationID,
		DocumentID:    record.DocumentID,
		SectionID:     record.SectionID,
		Text:          record.Text,
		Color:         record.Color,
		CreatedBy:     record.CreatedBy,
		MentionedUser: record.MentionedUser,
		CreatedAtMS:   record.CreatedAtMS,
	}
}

type snapshotResponsePayload struct {
	Annotations []annotationPayload `json:"annotations"`
}

func (h *httpHandler) handleSnapshot(c *gin.Context) {
	documentID, err := annotations.NewDocumentID(c.Param("documentId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_document_id"})
		return
	}

	records, err := h.annotations.Snapshot(c.Request.Context(), documentID)
	if err != nil {
		h.logger.Error("snapshot query failed", zap.Error(err), zap.String("document_id", documentID.String()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "snapshot_failed"})
		return
	}

	response := snapshotResponsePayload{Annotations: make([]annotationPayload, 0, len(records))}
	for _, record := range records {
		response.Annotations = append(response.Annotations, toAnnotationPayload(record))
	}
	c.JSON(http.StatusOK, response)
}

type createAnnotationPayload struct {
	ID            string `json:"id"`
	SectionID     string `json:"section_id"`
	Text          string `json:"text"`
	Color         string `json:"color"`
	MentionedUser string `json:"mentioned_user"`
	CreatedAtMS   int64  `json:"created_at_ms"`
}

func (h *httpHandler) handleCreateAnnotation(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	documentID, err := annotations.NewDocumentID(c.Param("documentId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_document_id"})
		return
	}

	var request createAnnotationPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	annotationID, err := annotations.NewAnnotationID(request.ID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_annotation_id"})
		return
	}
	sectionID, err := annotations.NewSectionID(request.SectionID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_section_id"})
		return
	}
	color, err := annotations.NewColor(request.Color)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_color"})
		return
	}
	createdBy, err := annotations.NewUserID(userID)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	record, err := h.annotations.Create(c.Request.Context(), annotations.CreateRequest{
		AnnotationID:  annotationID,
		DocumentID:    documentID,
		SectionID:     sectionID,
		Text:          request.Text,
		Color:         color,
		CreatedBy:     createdBy,
		MentionedUser: strings.TrimSpace(request.MentionedUser),
		CreatedAtMS:   request.CreatedAtMS,
	})
	if err != nil {
		if errors.Is(err, annotations.ErrEmptyText) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "empty_text"})
			return
		}
		h.logger.Error("annotation create failed", zap.Error(err),
			zap.String("document_id", documentID.String()),
			zap.String("annotation_id", annotationID.String()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create_failed"})
		return
	}

	h.publish(channel.Event{
		Kind:       channel.KindAnnotation,
		DocumentID: documentID.String(),
		Origin:     c.GetHeader(originHeader),
		Annotation: &channel.AnnotationPayload{
			Op:            channel.AnnotationOpAdd,
			ID:            record.AnnotationID,
			SectionID:     record.SectionID,
			Text:          record.Text,
			Color:         record.Color,
			CreatedBy:     record.CreatedBy,
			MentionedUser: record.MentionedUser,
			CreatedAtMS:   record.CreatedAtMS,
		},
	})

	h.logger.Info("annotation created",
		zap.String("document_id", documentID.String()),
		zap.String("annotation_id", record.AnnotationID),
		zap.String("created_by", record.CreatedBy))

	c.JSON(http.StatusCreated, toAnnotationPayload(record))
}

func (h *httpHandler) handleRemoveAnnotation(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	documentID, err := annotations.NewDocumentID(c.Param("documentId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_document_id"})
		return
	}
	annotationID, err := annotations.NewAnnotationID(c.Param("annotationId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_annotation_id"})
		return
	}
	requestedBy, err := annotations.NewUserID(userID)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	if err := h.annotations.Remove(c.Request.Context(), documentID, annotationID, requestedBy); err != nil {
		if errors.Is(err, annotations.ErrNotCreator) {
			c.JSON(http.StatusForbidden, gin.H{"error": "not_creator"})
			return
		}
		h.logger.Error("annotation remove failed", zap.Error(err),
			zap.String("document_id", documentID.String()),
			zap.String("annotation_id", annotationID.String()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "remove_failed"})
		return
	}

	h.publish(channel.Event{
		Kind:       channel.KindAnnotation,
		DocumentID: documentID.String(),
		Origin:     c.GetHeader(originHeader),
		Annotation: &channel.AnnotationPayload{
			Op: channel.AnnotationOpRemove,
			ID: annotationID.String(),
		},
	})

	c.JSON(http.StatusOK, gin.H{"removed": annotationID.String()})
}

func (h *httpHandler) handlePublishEvent(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	documentID := strings.TrimSpace(c.Param("documentId"))

	var event channel.Event
	if err := c.ShouldBindJSON(&event); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	event.DocumentID = documentID

	switch event.Kind {
	case channel.KindPresence:
		if event.Presence == nil || event.Presence.UserID != userID {
			c.JSON(http.StatusForbidden, gin.H{"error": "presence_user_mismatch"})
			return
		}
	case channel.KindContent:
		if event.Content == nil || event.Content.AuthorID != userID {
			c.JSON(http.StatusForbidden, gin.H{"error": "content_author_mismatch"})
			return
		}
	case channel.KindAnnotation:
		// Annotation mutations go through the REST endpoints so they hit
		// persistence before fan-out.
		c.JSON(http.StatusBadRequest, gin.H{"error": "annotation_via_rest"})
		return
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_event_kind"})
		return
	}

	if err := h.broker.Publish(event); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_event"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"published": string(event.Kind)})
}

func (h *httpHandler) publish(event channel.Event) {
	if err := h.broker.Publish(event); err != nil {
		h.logger.Error("event publish failed", zap.Error(err),
			zap.String("document_id", event.DocumentID),
			zap.String("kind", string(event.Kind)))
	}
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.Validate(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, subject)
	c.Next()
}
