package bus

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Offline is the no-op bus selected when the broker cannot be reached.
// Sends succeed by logging locally, subscriptions are inert, and blocking
// consumption simply waits for cancellation so role processes keep their
// normal lifetime. Messages are not stored or forwarded later.
type Offline struct {
	log *zap.Logger

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// NewOffline builds the offline stand-in.
func NewOffline(logger *zap.Logger) *Offline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Offline{
		log:  logger.Named("bus").With(zap.Bool("offline", true)),
		done: make(chan struct{}),
	}
}

// Connect reports StateDisconnected; there is nothing to connect to.
func (o *Offline) Connect(ctx context.Context) ConnectionState {
	return StateDisconnected
}

// DeclareTopology is a no-op.
func (o *Offline) DeclareTopology(ctx context.Context) error {
	return nil
}

// DeclareQueue is a no-op that reports success.
func (o *Offline) DeclareQueue(ctx context.Context, queue, exchange, pattern string) bool {
	o.log.Debug("[offline] queue declaration skipped", zap.String("queue", queue))
	return true
}

// Publish records the message in the local log and reports success.
func (o *Offline) Publish(ctx context.Context, exchange, routingKey string, source Role, payload any) bool {
	o.log.Info("[offline] message logged locally",
		zap.String("exchange", exchange),
		zap.String("routing_key", routingKey),
		zap.String("source_role", string(source)),
		zap.Any("payload", payload))
	return true
}

// Subscribe notes the inert subscription and reports success. The handler
// will never be invoked.
func (o *Offline) Subscribe(queue string, handler Handler) bool {
	o.log.Info("[offline] subscription inert", zap.String("queue", queue))
	return true
}

// StartConsuming waits for cancellation in blocking mode and returns
// immediately in background mode. No messages ever arrive.
func (o *Offline) StartConsuming(ctx context.Context, mode ConsumeMode) {
	if mode != ConsumeBlocking {
		return
	}
	select {
	case <-ctx.Done():
	case <-o.done:
	}
}

// State reports StateDisconnected.
func (o *Offline) State() ConnectionState {
	return StateDisconnected
}

// Close releases any blocked consumption waits. Idempotent.
func (o *Offline) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.closed {
		o.closed = true
		close(o.done)
	}
	return nil
}
