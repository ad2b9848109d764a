package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/marginlab/margin/internal/channel"
	"go.uber.org/zap"
)

// Reconnect and retry parameters. The backoff doubles from the base
// delay up to the cap; after the attempt budget is spent the client
// reports degraded connectivity instead of retrying silently forever.
const (
	defaultRetryBaseDelay   = time.Second
	defaultRetryMaxDelay    = 5 * time.Second
	defaultRetryMaxAttempts = 5
	defaultOutboundBuffer   = 64
)

var (
	// ErrConnectivityDegraded signals that the retry budget is exhausted.
	// Local editing continues; only live updates stop until reconnect.
	ErrConnectivityDegraded = errors.New("client: connectivity degraded")

	errMissingTransport = errors.New("client: transport is required")
	errMissingClientID  = errors.New("client: client id is required")
	errAlreadyConnected = errors.New("client: already connected")
	errNotConnected     = errors.New("client: not connected")
)

// ChannelClientConfig wires a ChannelClient.
type ChannelClientConfig struct {
	Transport Transport
	// ClientID is stamped as Origin on every outbound event so the
	// reconciler can suppress self-echo.
	ClientID string
	Logger   *zap.Logger

	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration
	RetryMaxAttempts int

	// OnResync receives the full snapshot fetched on every connect and
	// reconnect, before any further deltas are delivered.
	OnResync func([]channel.AnnotationPayload)
	// OnEvent receives each inbound delta in receipt order.
	OnEvent func(channel.Event)
	// OnDegraded is invoked when the retry budget is exhausted.
	OnDegraded func(error)
}

// ChannelClient owns one logical subscription per open document: it
// resyncs on connect, streams inbound deltas, and drains an outbound
// queue with bounded retry. Send never blocks the caller.
type ChannelClient struct {
	transport        Transport
	clientID         string
	logger           *zap.Logger
	retryBaseDelay   time.Duration
	retryMaxDelay    time.Duration
	retryMaxAttempts int

	onResync   func([]channel.AnnotationPayload)
	onEvent    func(channel.Event)
	onDegraded func(error)

	mu         sync.Mutex
	documentID string
	outbound   chan channel.Event
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewChannelClient validates configuration and constructs a ChannelClient.
func NewChannelClient(cfg ChannelClientConfig) (*ChannelClient, error) {
	if cfg.Transport == nil {
		return nil, errMissingTransport
	}
	if cfg.ClientID == "" {
		return nil, errMissingClientID
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	baseDelay := cfg.RetryBaseDelay
	if baseDelay <= 0 {
		baseDelay = defaultRetryBaseDelay
	}
	maxDelay := cfg.RetryMaxDelay
	if maxDelay <= 0 {
		maxDelay = defaultRetryMaxDelay
	}
	maxAttempts := cfg.RetryMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultRetryMaxAttempts
	}

	return &ChannelClient{
		transport:        cfg.Transport,
		clientID:         cfg.ClientID,
		logger:           logger,
		retryBaseDelay:   baseDelay,
		retryMaxDelay:    maxDelay,
		retryMaxAttempts: maxAttempts,
		onResync:         cfg.OnResync,
		onEvent:          cfg.OnEvent,
		onDegraded:       cfg.OnDegraded,
	}, nil
}

// Connect establishes the document channel: it performs the initial
// resync, opens the delta stream, and starts the outbound sender. The
// resync completes before any delta is delivered, so a late joiner
// starts from a consistent base.
func (c *ChannelClient) Connect(ctx context.Context, documentID string) error {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return errAlreadyConnected
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.documentID = documentID
	c.outbound = make(chan channel.Event, defaultOutboundBuffer)
	c.cancel = cancel
	outbound := c.outbound
	c.mu.Unlock()

	// The stream opens before the snapshot query so that events fanned
	// out while the snapshot runs queue on the stream instead of being
	// lost; they replay once the receiver starts, after the resync is
	// applied.
	stream, err := c.transport.Subscribe(runCtx, documentID)
	if err != nil {
		c.teardown()
		return err
	}

	if err := c.resync(runCtx, documentID); err != nil {
		c.teardown()
		return err
	}

	done := make(chan struct{})
	c.mu.Lock()
	c.done = done
	c.mu.Unlock()

	go c.runSender(runCtx, outbound)
	go c.runReceiver(runCtx, documentID, stream, done)
	return nil
}

// Send enqueues an outbound event without blocking. The event's Origin
// and DocumentID are stamped from the connection. A full queue drops
// the event; annotation state is not lost because the next resync
// restores it from the persistence snapshot.
func (c *ChannelClient) Send(event channel.Event) error {
	c.mu.Lock()
	outbound := c.outbound
	documentID := c.documentID
	c.mu.Unlock()
	if outbound == nil {
		return errNotConnected
	}

	event.Origin = c.clientID
	if event.DocumentID == "" {
		event.DocumentID = documentID
	}

	select {
	case outbound <- event:
		return nil
	default:
		c.logger.Warn("outbound queue full, dropping event",
			zap.String("document_id", event.DocumentID),
			zap.String("kind", string(event.Kind)))
		return nil
	}
}

// Disconnect releases the subscription. No further events are flushed.
func (c *ChannelClient) Disconnect() {
	c.teardown()
}

func (c *ChannelClient) teardown() {
	c.mu.Lock()
	cancel := c.cancel
	done := c.done
	c.cancel = nil
	c.outbound = nil
	c.done = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (c *ChannelClient) resync(ctx context.Context, documentID string) error {
	snapshot, err := c.transport.Snapshot(ctx, documentID)
	if err != nil {
		return err
	}
	if c.onResync != nil {
		c.onResync(snapshot)
	}
	c.logger.Info("resync complete",
		zap.String("document_id", documentID),
		zap.Int("annotations", len(snapshot)))
	return nil
}

// runReceiver forwards inbound deltas and reconnects with backoff when
// the stream drops. Every reconnect performs a fresh resync; delta
// continuity across a reconnect is never assumed.
func (c *ChannelClient) runReceiver(ctx context.Context, documentID string, stream <-chan channel.Event, done chan struct{}) {
	defer close(done)
	for {
		receiving := true
		for receiving {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-stream:
				if !ok {
					receiving = false
					break
				}
				if c.onEvent != nil {
					c.onEvent(event)
				}
			}
		}
		if ctx.Err() != nil {
			return
		}

		c.logger.Warn("stream dropped, reconnecting", zap.String("document_id", documentID))
		reconnected := false
		delay := c.retryBaseDelay
		var next <-chan channel.Event
		for attempt := 1; attempt <= c.retryMaxAttempts; attempt++ {
			if !sleepContext(ctx, delay) {
				return
			}
			// Resubscribe before resyncing, same as the initial connect:
			// deltas racing the snapshot queue on the new stream and are
			// delivered after the snapshot lands. A stream obtained on an
			// earlier attempt is kept across resync retries.
			if next == nil {
				replacement, err := c.transport.Subscribe(ctx, documentID)
				if err != nil {
					c.logger.Warn("resubscribe failed",
						zap.Int("attempt", attempt),
						zap.Error(err))
					delay = nextDelay(delay, c.retryMaxDelay)
					continue
				}
				next = replacement
			}
			if err := c.resync(ctx, documentID); err != nil {
				c.logger.Warn("resync failed",
					zap.Int("attempt", attempt),
					zap.Error(err))
				delay = nextDelay(delay, c.retryMaxDelay)
				continue
			}
			stream = next
			reconnected = true
			break
		}
		if !reconnected {
			c.degrade(ErrConnectivityDegraded)
			return
		}
	}
}

// runSender drains the outbound queue, retrying each event with
// exponential backoff before declaring connectivity degraded.
func (c *ChannelClient) runSender(ctx context.Context, outbound <-chan channel.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-outbound:
			if err := c.sendWithRetry(ctx, event); err != nil {
				if ctx.Err() != nil {
					return
				}
				c.degrade(err)
			}
		}
	}
}

func (c *ChannelClient) sendWithRetry(ctx context.Context, event channel.Event) error {
	delay := c.retryBaseDelay
	var lastErr error
	for attempt := 1; attempt <= c.retryMaxAttempts; attempt++ {
		lastErr = c.transport.Send(ctx, event)
		if lastErr == nil {
			return nil
		}
		c.logger.Warn("send failed",
			zap.String("kind", string(event.Kind)),
			zap.Int("attempt", attempt),
			zap.Error(lastErr))
		if attempt == c.retryMaxAttempts {
			break
		}
		if !sleepContext(ctx, delay) {
			return lastErr
		}
		delay = nextDelay(delay, c.retryMaxDelay)
	}
	return errors.Join(ErrConnectivityDegraded, lastErr)
}

func (c *ChannelClient) degrade(err error) {
	c.logger.Error("connectivity degraded", zap.Error(err))
	if c.onDegraded != nil {
		c.onDegraded(err)
	}
}

func nextDelay(current, limit time.Duration) time.Duration {
	doubled := current * 2
	if doubled > limit {
		return limit
	}
	return doubled
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
