// Package hub fans document channel events out to every subscribed
// viewer of a document. Each document is an independently locked unit;
// the registry lock is held only to create or drop topics.
package hub

import (
	"context"
	"sync"

	"github.com/marginlab/margin/internal/channel"
	"go.uber.org/zap"
)

const defaultBufferSize = 16

// Bridge mirrors published events to peer instances.
type Bridge interface {
	Broadcast(ctx context.Context, event channel.Event) error
}

// Hub is the per-document broadcast topic registry.
type Hub struct {
	mu         sync.RWMutex
	topics     map[string]*topic
	bufferSize int
	logger     *zap.Logger

	bridgeMu sync.RWMutex
	bridge   Bridge
}

type topic struct {
	mu          sync.Mutex
	subscribers map[int64]chan channel.Event
	nextID      int64
}

// New constructs a Hub.
func New(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		topics:     make(map[string]*topic),
		bufferSize: defaultBufferSize,
		logger:     logger,
	}
}

// AttachBridge wires a cross-instance bridge. Events published locally
// are mirrored through the bridge; events arriving from the bridge are
// delivered to local subscribers only.
func (h *Hub) AttachBridge(bridge Bridge) {
	h.bridgeMu.Lock()
	h.bridge = bridge
	h.bridgeMu.Unlock()
}

// Subscribe registers a listener for one document and returns its event
// stream plus a cleanup function. The subscription is also released when
// ctx is done. Delivery is at-least-once overall: a slow subscriber may
// drop events and is expected to resync on reconnect.
func (h *Hub) Subscribe(ctx context.Context, documentID string) (<-chan channel.Event, func()) {
	if documentID == "" {
		closed := make(chan channel.Event)
		close(closed)
		return closed, func() {}
	}

	subscriberID, stream, subscriberCount := h.register(documentID)

	h.logger.Debug("channel subscriber joined",
		zap.String("document_id", documentID),
		zap.Int("subscribers", subscriberCount))

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			h.unsubscribe(documentID, subscriberID)
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return stream, cleanup
}

// Publish validates the event, delivers it to every local subscriber of
// its document, and mirrors it through the bridge when one is attached.
func (h *Hub) Publish(event channel.Event) error {
	if err := event.Validate(); err != nil {
		return err
	}

	h.deliverLocal(event)

	h.bridgeMu.RLock()
	bridge := h.bridge
	h.bridgeMu.RUnlock()
	if bridge != nil {
		if err := bridge.Broadcast(context.Background(), event); err != nil {
			h.logger.Warn("bridge broadcast failed",
				zap.String("document_id", event.DocumentID),
				zap.Error(err))
		}
	}
	return nil
}

// deliverLocal fans the event out to this instance's subscribers.
// Non-blocking sends: a full subscriber buffer drops the event rather
// than stalling the whole topic.
func (h *Hub) deliverLocal(event channel.Event) {
	h.mu.RLock()
	docTopic := h.topics[event.DocumentID]
	h.mu.RUnlock()
	if docTopic == nil {
		return
	}

	docTopic.mu.Lock()
	streams := make([]chan channel.Event, 0, len(docTopic.subscribers))
	for _, stream := range docTopic.subscribers {
		streams = append(streams, stream)
	}
	docTopic.mu.Unlock()

	for _, stream := range streams {
		select {
		case stream <- event:
		default:
			h.logger.Warn("dropping event for slow subscriber",
				zap.String("document_id", event.DocumentID),
				zap.String("kind", string(event.Kind)))
		}
	}
}

// register inserts a subscriber while the registry lock is held, so a
// topic can never be dropped between lookup and insertion. A concurrent
// last-subscriber unsubscribe either runs before (a fresh topic is
// created here) or after (it sees the new subscriber and keeps the
// topic).
func (h *Hub) register(documentID string) (int64, chan channel.Event, int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	docTopic := h.topics[documentID]
	if docTopic == nil {
		docTopic = &topic{subscribers: make(map[int64]chan channel.Event)}
		h.topics[documentID] = docTopic
	}

	docTopic.mu.Lock()
	docTopic.nextID++
	subscriberID := docTopic.nextID
	stream := make(chan channel.Event, h.bufferSize)
	docTopic.subscribers[subscriberID] = stream
	subscriberCount := len(docTopic.subscribers)
	docTopic.mu.Unlock()

	return subscriberID, stream, subscriberCount
}

func (h *Hub) unsubscribe(documentID string, subscriberID int64) {
	h.mu.Lock()
	docTopic := h.topics[documentID]
	if docTopic == nil {
		h.mu.Unlock()
		return
	}
	docTopic.mu.Lock()
	delete(docTopic.subscribers, subscriberID)
	if len(docTopic.subscribers) == 0 {
		delete(h.topics, documentID)
	}
	docTopic.mu.Unlock()
	h.mu.Unlock()

	h.logger.Debug("channel subscriber left", zap.String("document_id", documentID))
}

// SubscriberCount reports the number of live subscribers for a document.
func (h *Hub) SubscriberCount(documentID string) int {
	h.mu.RLock()
	docTopic := h.topics[documentID]
	h.mu.RUnlock()
	if docTopic == nil {
		return 0
	}
	docTopic.mu.Lock()
	defer docTopic.mu.Unlock()
	return len(docTopic.subscribers)
}
