package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/marginlab/margin/internal/channel"
	"go.uber.org/zap"
)

const defaultKeepaliveInterval = 10 * time.Second

// handleStream serves the per-document SSE subscription. Each channel
// kind is emitted as a named SSE event; comment lines keep proxies from
// idling the connection out.
func (h *httpHandler) handleStream(c *gin.Context) {
	documentID := c.Param("documentId")
	userID := c.GetString(userIDContextKey)

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming_unsupported"})
		return
	}

	stream, cleanup := h.broker.Subscribe(c.Request.Context(), documentID)
	defer cleanup()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
	flusher.Flush()

	h.logger.Info("stream opened",
		zap.String("document_id", documentID),
		zap.String("user_id", userID))

	writer := &sseWriter{writer: c.Writer, flusher: flusher}
	keepalive := time.NewTicker(h.keepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			h.logger.Info("stream closed",
				zap.String("document_id", documentID),
				zap.String("user_id", userID))
			return
		case event, open := <-stream:
			if !open {
				return
			}
			if err := writer.WriteEvent(event); err != nil {
				h.logger.Warn("stream write failed, closing",
					zap.String("document_id", documentID),
					zap.Error(err))
				return
			}
		case <-keepalive.C:
			if err := writer.WriteKeepalive(); err != nil {
				h.logger.Warn("stream keepalive failed, closing",
					zap.String("document_id", documentID),
					zap.Error(err))
				return
			}
		}
	}
}

type sseWriter struct {
	writer  http.ResponseWriter
	flusher http.Flusher
}

// WriteEvent emits one event in SSE framing: a named event line followed
// by the JSON-encoded envelope.
func (w *sseWriter) WriteEvent(event channel.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal stream event: %w", err)
	}
	if _, err := fmt.Fprintf(w.writer, "event: %s\ndata: %s\n\n", event.Kind, payload); err != nil {
		return fmt.Errorf("write stream event: %w", err)
	}
	w.flusher.Flush()
	return nil
}

// WriteKeepalive emits an SSE comment line. Comments are ignored by
// clients but detect closed connections on the server side.
func (w *sseWriter) WriteKeepalive() error {
	if _, err := fmt.Fprint(w.writer, ": keepalive\n\n"); err != nil {
		return fmt.Errorf("write keepalive: %w", err)
	}
	w.flusher.Flush()
	if _, err := w.writer.Write([]byte{}); err != nil {
		return fmt.Errorf("connection closed: %w", err)
	}
	return nil
}
