// Package watch streams guild bus traffic onto a terminal. `guild watch`
// drains the durable integration queue (or a dedicated per-exchange queue)
// and prints one line per envelope, color-coded by exchange.
package watch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"go.uber.org/zap"

	"github.com/guildtool/guild/pkg/bus"
)

// ErrUnknownExchange marks a watch request for an exchange outside the
// guild topology.
var ErrUnknownExchange = errors.New("unknown exchange")

// payloadWidth caps how much of a payload lands on one line.
const payloadWidth = 120

// Formatter renders envelopes as single terminal lines.
type Formatter struct {
	out    io.Writer
	colors map[string]*color.Color
}

// NewFormatter builds a formatter writing to out with the standard
// per-exchange palette.
func NewFormatter(out io.Writer) *Formatter {
	return &Formatter{
		out: out,
		colors: map[string]*color.Color{
			bus.ExchangeActivities:        color.New(color.FgCyan),
			bus.ExchangeCodeChanges:       color.New(color.FgGreen),
			bus.ExchangeProtocolUpdates:   color.New(color.FgYellow),
			bus.ExchangeGovernanceReviews: color.New(color.FgMagenta),
			bus.ExchangeFeatureInsights:   color.New(color.FgBlue),
		},
	}
}

// Format writes one line for env: local time, exchange, routing key,
// source role, compact payload.
func (f *Formatter) Format(env bus.Envelope) error {
	exchange := ExchangeFor(env.RoutingKey)
	line := fmt.Sprintf("%s  %-18s  %-34s  %-10s  %s",
		env.Timestamp.Local().Format("15:04:05"),
		exchange,
		env.RoutingKey,
		env.SourceRole,
		compactPayload(env.Data, payloadWidth))

	if c, ok := f.colors[exchange]; ok {
		_, err := c.Fprintln(f.out, line)
		return err
	}
	_, err := fmt.Fprintln(f.out, line)
	return err
}

// ExchangeFor derives the exchange a routing key was published under. The
// envelope does not carry the exchange, but every guild key encodes it.
func ExchangeFor(routingKey string) string {
	switch {
	case strings.HasPrefix(routingKey, "protocol."):
		return bus.ExchangeProtocolUpdates
	case strings.HasPrefix(routingKey, "governance."):
		return bus.ExchangeGovernanceReviews
	case strings.HasPrefix(routingKey, "feature."):
		return bus.ExchangeFeatureInsights
	}
	parts := strings.SplitN(routingKey, ".", 3)
	if len(parts) == 3 {
		switch parts[1] {
		case "activity":
			return bus.ExchangeActivities
		case "code":
			return bus.ExchangeCodeChanges
		}
	}
	return ""
}

// compactPayload renders a payload as single-line JSON, truncated to max.
func compactPayload(data json.RawMessage, max int) string {
	if len(data) == 0 {
		return ""
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return strings.TrimSpace(string(data))
	}
	s := buf.String()
	if len(s) > max {
		s = s[:max] + "..."
	}
	return s
}

// Tail streams guild traffic through the formatter until ctx is cancelled.
// With no exchange it drains the integration queue, which the topology
// binds to every guild exchange; naming an exchange binds a dedicated
// watch queue with the catch-all pattern instead.
func Tail(ctx context.Context, b bus.Bus, exchange string, f *Formatter, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	queue := bus.IntegrationQueue
	if exchange != "" {
		if _, ok := bus.Exchanges()[exchange]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownExchange, exchange)
		}
		queue = "guild.watch." + strings.ReplaceAll(exchange, ".", "_")
		if !b.DeclareQueue(ctx, queue, exchange, "#") {
			return fmt.Errorf("failed to bind watch queue to %s", exchange)
		}
	}

	if !b.Subscribe(queue, func(_ context.Context, env bus.Envelope) error {
		return f.Format(env)
	}) {
		return fmt.Errorf("failed to subscribe to %s", queue)
	}

	logger.Info("watching guild traffic", zap.String("queue", queue))
	b.StartConsuming(ctx, bus.ConsumeBlocking)
	return nil
}
