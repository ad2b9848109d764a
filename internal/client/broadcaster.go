package client

import (
	"time"

	"github.com/marginlab/margin/internal/channel"
	"go.uber.org/zap"
)

// PresenceBroadcasterConfig wires a PresenceBroadcaster.
type PresenceBroadcasterConfig struct {
	DocumentID string
	UserID     string
	Sender     Sender
	Clock      func() time.Time
	Logger     *zap.Logger
}

// PresenceBroadcaster translates settled selections into outbound
// presence events. It keeps no state beyond its identity; a nil
// selection becomes an empty-text clear event on the wire.
type PresenceBroadcaster struct {
	documentID string
	userID     string
	sender     Sender
	clock      func() time.Time
	logger     *zap.Logger
}

// NewPresenceBroadcaster constructs a PresenceBroadcaster with defaults
// applied.
func NewPresenceBroadcaster(cfg PresenceBroadcasterConfig) *PresenceBroadcaster {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PresenceBroadcaster{
		documentID: cfg.DocumentID,
		userID:     cfg.UserID,
		sender:     cfg.Sender,
		clock:      clock,
		logger:     logger,
	}
}

// Broadcast sends the selection as a presence event. Wire this as the
// SelectionTracker's OnSelection callback.
func (b *PresenceBroadcaster) Broadcast(selection *Selection) {
	text := ""
	if selection != nil {
		text = selection.Text
	}

	event := channel.Event{
		Kind:       channel.KindPresence,
		DocumentID: b.documentID,
		Presence: &channel.PresencePayload{
			UserID:      b.userID,
			Text:        text,
			TimestampMS: b.clock().UnixMilli(),
		},
	}
	if err := b.sender.Send(event); err != nil {
		b.logger.Warn("presence broadcast failed",
			zap.String("document_id", b.documentID),
			zap.String("user_id", b.userID),
			zap.Error(err))
	}
}

// Clear broadcasts an explicit presence clear, used on disconnect.
func (b *PresenceBroadcaster) Clear() {
	b.Broadcast(nil)
}
