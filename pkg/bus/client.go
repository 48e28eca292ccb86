package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	dialTimeout    = 5 * time.Second
	publishTimeout = 5 * time.Second
)

// Client is the live bus: a single AMQP connection and channel against one
// broker. It makes one connection attempt and never reconnects; when the
// broker drops, the client degrades to deterministic false answers.
type Client struct {
	cfg Config
	log *zap.Logger

	mu        sync.Mutex
	conn      *amqp.Connection
	ch        *amqp.Channel
	state     ConnectionState
	subs      []subscription
	consuming bool
	closed    bool

	done chan struct{}
	wg   sync.WaitGroup
}

type subscription struct {
	queue      string
	deliveries <-chan amqp.Delivery
	handler    Handler
}

// NewClient builds a live bus client. Connect must be called before use;
// until then every operation answers as disconnected.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:   cfg,
		log:   logger.Named("bus"),
		state: StateDisconnected,
		done:  make(chan struct{}),
	}
}

// Connect dials the broker with a bounded timeout, opens a channel, and
// declares the guild topology. Every failure is logged and absorbed into
// StateDisconnected; Connect never returns an error and never panics.
func (c *Client) Connect(ctx context.Context) ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return StateDisconnected
	}
	if c.state == StateConnected {
		return StateConnected
	}

	conn, err := amqp.DialConfig(c.cfg.Broker.URL(), amqp.Config{
		Vhost:      c.cfg.Broker.VirtualHost,
		Dial:       amqp.DefaultDial(dialTimeout),
		Properties: amqp.Table{"connection_name": "guild"},
	})
	if err != nil {
		c.log.Warn("broker connection failed",
			zap.String("broker", c.cfg.Broker.Addr()),
			zap.Error(err))
		c.state = StateDisconnected
		return c.state
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		c.log.Warn("channel open failed", zap.Error(err))
		c.state = StateDisconnected
		return c.state
	}

	c.conn = conn
	c.ch = ch
	c.state = StateConnected

	if err := c.declareTopologyLocked(); err != nil {
		c.log.Warn("topology declaration failed", zap.Error(err))
		_ = ch.Close()
		_ = conn.Close()
		c.conn = nil
		c.ch = nil
		c.state = StateDisconnected
		return c.state
	}

	c.log.Info("connected to broker",
		zap.String("broker", c.cfg.Broker.Addr()),
		zap.String("vhost", c.cfg.Broker.VirtualHost))
	return c.state
}

// DeclareTopology declares every guild exchange and standing queue.
// AMQP declarations are idempotent, so repeating it is harmless.
func (c *Client) DeclareTopology(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.declareTopologyLocked()
}

func (c *Client) declareTopologyLocked() error {
	if c.state != StateConnected {
		return ErrNotConnected
	}

	names := make([]string, 0, len(c.cfg.Exchanges))
	for name := range c.cfg.Exchanges {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		kind := c.cfg.Exchanges[name]
		if err := c.ch.ExchangeDeclare(name, kind, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare exchange %s: %w", name, err)
		}
	}

	for _, role := range AllRoles() {
		binding, ok := RoleQueue(role)
		if !ok {
			continue
		}
		if err := c.declareQueueLocked(binding); err != nil {
			return err
		}
	}

	// The integration queue hears everything on every exchange.
	for _, name := range names {
		if err := c.declareQueueLocked(QueueBinding{
			Queue:    IntegrationQueue,
			Exchange: name,
			Pattern:  "#",
		}); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) declareQueueLocked(b QueueBinding) error {
	if _, err := c.ch.QueueDeclare(b.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", b.Queue, err)
	}
	if err := c.ch.QueueBind(b.Queue, b.Pattern, b.Exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %s to %s: %w", b.Queue, b.Exchange, err)
	}
	return nil
}

// DeclareQueue declares a durable queue bound to exchange with the given
// wildcard pattern. It reports false when disconnected or on failure.
func (c *Client) DeclareQueue(ctx context.Context, queue, exchange, pattern string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateConnected {
		c.log.Warn("not connected - queue not declared", zap.String("queue", queue))
		return false
	}
	if err := c.declareQueueLocked(QueueBinding{Queue: queue, Exchange: exchange, Pattern: pattern}); err != nil {
		c.log.Warn("queue declaration failed", zap.String("queue", queue), zap.Error(err))
		return false
	}
	return true
}

// Publish stamps payload into an envelope and publishes it persistently.
// When disconnected the message is dropped, logged, and false is returned;
// a failed publish additionally marks the client disconnected.
func (c *Client) Publish(ctx context.Context, exchange, routingKey string, source Role, payload any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateConnected {
		c.log.Warn("not connected - message dropped",
			zap.String("exchange", exchange),
			zap.String("routing_key", routingKey))
		return false
	}

	env, err := NewEnvelope(source, routingKey, payload)
	if err != nil {
		c.log.Error("message dropped", zap.String("routing_key", routingKey), zap.Error(err))
		return false
	}
	body, err := json.Marshal(env)
	if err != nil {
		c.log.Error("message dropped", zap.String("routing_key", routingKey), zap.Error(err))
		return false
	}

	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = c.ch.PublishWithContext(pubCtx, exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    env.Timestamp,
		Body:         body,
	})
	if err != nil {
		c.log.Warn("publish failed - message dropped",
			zap.String("exchange", exchange),
			zap.String("routing_key", routingKey),
			zap.Error(err))
		c.state = StateDisconnected
		return false
	}

	c.log.Debug("published",
		zap.String("exchange", exchange),
		zap.String("routing_key", routingKey),
		zap.String("source_role", string(source)))
	return true
}

// Subscribe opens a manually-acked consumer on queue and registers the
// handler. Subscriptions must be in place before StartConsuming runs.
func (c *Client) Subscribe(queue string, handler Handler) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateConnected {
		c.log.Warn("not connected - subscription skipped", zap.String("queue", queue))
		return false
	}
	if c.consuming {
		c.log.Warn("consumption already running - subscription rejected", zap.String("queue", queue))
		return false
	}

	tag := fmt.Sprintf("%s.%s", queue, uuid.NewString()[:8])
	deliveries, err := c.ch.Consume(queue, tag, false, false, false, false, nil)
	if err != nil {
		c.log.Warn("subscribe failed", zap.String("queue", queue), zap.Error(err))
		return false
	}

	c.subs = append(c.subs, subscription{queue: queue, deliveries: deliveries, handler: handler})
	c.log.Info("subscribed", zap.String("queue", queue), zap.String("consumer_tag", tag))
	return true
}

// StartConsuming launches one delivery pump per subscription. A second call
// while a loop is active logs and returns; there is at most one consumption
// loop per client. In blocking mode the call returns only when the context
// is cancelled, the connection drops, or the client closes.
func (c *Client) StartConsuming(ctx context.Context, mode ConsumeMode) {
	c.mu.Lock()
	if c.consuming {
		c.mu.Unlock()
		c.log.Warn("consumption loop already active")
		return
	}
	if c.state != StateConnected || len(c.subs) == 0 {
		c.mu.Unlock()
		c.log.Warn("nothing to consume",
			zap.Int("subscriptions", len(c.subs)),
			zap.String("state", c.state.String()))
		return
	}
	c.consuming = true
	subs := c.subs
	closeCh := c.conn.NotifyClose(make(chan *amqp.Error, 1))
	c.mu.Unlock()

	for _, sub := range subs {
		c.wg.Add(1)
		go c.pump(ctx, sub)
	}
	c.log.Info("consuming", zap.Int("subscriptions", len(subs)))

	if mode != ConsumeBlocking {
		return
	}

	select {
	case <-ctx.Done():
		c.log.Info("consumption interrupted")
	case amqpErr := <-closeCh:
		if amqpErr != nil {
			c.log.Warn("broker connection lost", zap.Error(amqpErr))
		}
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
	case <-c.done:
	}
	c.wg.Wait()
}

func (c *Client) pump(ctx context.Context, sub subscription) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case d, ok := <-sub.deliveries:
			if !ok {
				return
			}
			c.dispatch(ctx, sub, d)
		}
	}
}

// dispatch applies the delivery discipline: handler success acks, handler
// failure or an undecodable body nacks without requeue.
func (c *Client) dispatch(ctx context.Context, sub subscription, d amqp.Delivery) {
	env, err := DecodeEnvelope(d.Body)
	if err != nil {
		c.log.Warn("undecodable message dropped", zap.String("queue", sub.queue), zap.Error(err))
		if nackErr := d.Nack(false, false); nackErr != nil {
			c.log.Warn("nack failed", zap.Error(nackErr))
		}
		return
	}

	if err := sub.handler(ctx, env); err != nil {
		c.log.Warn("handler failed - message dropped",
			zap.String("queue", sub.queue),
			zap.String("routing_key", env.RoutingKey),
			zap.Error(err))
		if nackErr := d.Nack(false, false); nackErr != nil {
			c.log.Warn("nack failed", zap.Error(nackErr))
		}
		return
	}

	if ackErr := d.Ack(false); ackErr != nil {
		c.log.Warn("ack failed", zap.String("queue", sub.queue), zap.Error(ackErr))
	}
}

// State reports the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Close stops the pumps and releases the channel and connection. It is safe
// to call at any time and any number of times.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	conn, ch := c.conn, c.ch
	c.conn = nil
	c.ch = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	if ch != nil {
		_ = ch.Close()
	}
	var err error
	if conn != nil {
		if cerr := conn.Close(); cerr != nil && !errors.Is(cerr, amqp.ErrClosed) {
			err = fmt.Errorf("failed to close broker connection: %w", cerr)
		}
	}
	c.wg.Wait()
	c.log.Info("bus closed")
	return err
}
