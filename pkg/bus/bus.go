package bus

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
)

// ErrNotConnected is returned by operations that need a live broker channel.
var ErrNotConnected = errors.New("bus: not connected")

// ConnectionState reports whether a bus reached its broker.
type ConnectionState int

const (
	// StateDisconnected means the broker is unreachable or the bus is closed.
	StateDisconnected ConnectionState = iota

	// StateConnected means the bus holds a live broker channel.
	StateConnected
)

// String returns the state name for logs and status output.
func (s ConnectionState) String() string {
	if s == StateConnected {
		return "connected"
	}
	return "disconnected"
}

// ConsumeMode selects how StartConsuming occupies the caller.
type ConsumeMode int

const (
	// ConsumeBlocking runs the consumption loop until the context is
	// cancelled or the connection closes. Worker roles use this as their
	// entire process lifetime.
	ConsumeBlocking ConsumeMode = iota

	// ConsumeBackground starts the delivery pumps and returns immediately.
	// The interactive role uses this so it can keep the foreground.
	ConsumeBackground
)

// Handler processes one delivered envelope. Returning nil acknowledges the
// delivery; returning an error drops it without requeue.
type Handler func(ctx context.Context, env Envelope) error

// Bus is the messaging capability shared by the live AMQP client and the
// offline stand-in. Exactly one implementation is chosen when a process
// starts; callers never branch on connectivity.
type Bus interface {
	// Connect attempts to reach the broker. Failures are logged and
	// reported as StateDisconnected, never raised.
	Connect(ctx context.Context) ConnectionState

	// DeclareTopology declares the five guild exchanges, the per-role
	// standing queues, and the integration queue. Safe to repeat.
	DeclareTopology(ctx context.Context) error

	// DeclareQueue declares a durable queue and binds it to an exchange
	// with a wildcard routing pattern.
	DeclareQueue(ctx context.Context, queue, exchange, pattern string) bool

	// Publish wraps payload in a stamped envelope and publishes it.
	// It reports false, drops the message, and logs when disconnected or
	// on any publish failure.
	Publish(ctx context.Context, exchange, routingKey string, source Role, payload any) bool

	// Subscribe registers a handler for a queue. Deliveries are acked on
	// handler success and nacked without requeue on handler failure.
	Subscribe(queue string, handler Handler) bool

	// StartConsuming runs the delivery pumps for every registered
	// subscription. At most one consumption loop per bus instance.
	StartConsuming(ctx context.Context, mode ConsumeMode)

	// State reports the current connection state.
	State() ConnectionState

	// Close stops consumption and releases the connection. Idempotent.
	Close() error
}

var (
	_ Bus = (*Client)(nil)
	_ Bus = (*Offline)(nil)
)

// Connect builds a live client and makes the single connection attempt,
// falling back to the offline stand-in when the broker is unreachable.
// The choice is made exactly once; there is no mid-run switching.
func Connect(ctx context.Context, cfg Config, logger *zap.Logger) Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := NewClient(cfg, logger)
	if client.Connect(ctx) == StateConnected {
		return client
	}
	_ = client.Close()
	logger.Warn("broker unreachable, running offline",
		zap.String("broker", cfg.Broker.Addr()))
	return NewOffline(logger)
}

// Probe checks broker reachability with a bounded TCP dial. It is a
// diagnostic for init/status reporting, not a connection.
func Probe(cfg Config, timeout time.Duration) error {
	conn, err := net.DialTimeout("tcp", cfg.Broker.Addr(), timeout)
	if err != nil {
		return fmt.Errorf("broker unreachable at %s: %w", cfg.Broker.Addr(), err)
	}
	return conn.Close()
}
