package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/marginlab/margin/internal/channel"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	redisChannelPrefix = "margin:doc:"
	redisPingTimeout   = 5 * time.Second
)

type bridgeEnvelope struct {
	Instance string        `json:"instance"`
	Event    channel.Event `json:"event"`
}

// RedisBridge mirrors document events across API instances over redis
// pub/sub, one redis channel per document.
type RedisBridge struct {
	client     *redis.Client
	instanceID string
	logger     *zap.Logger
}

// NewRedisBridge connects to redis and returns a bridge identified by
// instanceID. Messages carrying our own instance id are ignored on the
// way back in, so local delivery happens exactly once.
func NewRedisBridge(redisURL, instanceID string, logger *zap.Logger) (*RedisBridge, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if strings.TrimSpace(instanceID) == "" {
		return nil, fmt.Errorf("bridge instance id required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisBridge{
		client:     client,
		instanceID: instanceID,
		logger:     logger,
	}, nil
}

// NewRedisBridgeWithClient builds a bridge from an existing client.
func NewRedisBridgeWithClient(client *redis.Client, instanceID string, logger *zap.Logger) *RedisBridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBridge{
		client:     client,
		instanceID: instanceID,
		logger:     logger,
	}
}

// Broadcast publishes the event onto the document's redis channel.
func (b *RedisBridge) Broadcast(ctx context.Context, event channel.Event) error {
	payload, err := json.Marshal(bridgeEnvelope{Instance: b.instanceID, Event: event})
	if err != nil {
		return fmt.Errorf("marshal bridge envelope: %w", err)
	}
	if err := b.client.Publish(ctx, redisChannelPrefix+event.DocumentID, payload).Err(); err != nil {
		return fmt.Errorf("publish bridge event: %w", err)
	}
	return nil
}

// Run subscribes to every document channel and feeds peer events into
// the local hub until ctx is done.
func (b *RedisBridge) Run(ctx context.Context, localHub *Hub) error {
	subscription := b.client.PSubscribe(ctx, redisChannelPrefix+"*")
	defer subscription.Close()

	messages := subscription.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case message, ok := <-messages:
			if !ok {
				return nil
			}
			var envelope bridgeEnvelope
			if err := json.Unmarshal([]byte(message.Payload), &envelope); err != nil {
				b.logger.Warn("discarding malformed bridge payload", zap.Error(err))
				continue
			}
			if envelope.Instance == b.instanceID {
				continue
			}
			localHub.deliverLocal(envelope.Event)
		}
	}
}

// Close releases the redis connection.
func (b *RedisBridge) Close() error {
	return b.client.Close()
}
