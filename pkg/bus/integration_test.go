//go:build integration

package bus_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/guildtool/guild/internal/testutil"
	"github.com/guildtool/guild/pkg/bus"
)

func TestClient_RoundTrip(t *testing.T) {
	cfg := testutil.StartRabbit(t)
	logger := zaptest.NewLogger(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Two clients, as in production: the publisher and the consumer are
	// separate processes.
	pub := bus.NewClient(cfg, logger)
	require.Equal(t, bus.StateConnected, pub.Connect(ctx))
	t.Cleanup(func() { pub.Close() })

	sub := bus.NewClient(cfg, logger)
	require.Equal(t, bus.StateConnected, sub.Connect(ctx))
	t.Cleanup(func() { sub.Close() })

	received := make(chan bus.Envelope, 1)
	require.True(t, sub.Subscribe("guild.chronicler.changes", func(_ context.Context, env bus.Envelope) error {
		received <- env
		return nil
	}))
	sub.StartConsuming(ctx, bus.ConsumeBackground)

	require.True(t, pub.Publish(ctx, bus.ExchangeCodeChanges, "journeyman.code.inspected",
		bus.RoleJourneyman, map[string]string{"path": "main.go"}))

	select {
	case env := <-received:
		assert.Equal(t, "journeyman.code.inspected", env.RoutingKey)
		assert.Equal(t, bus.RoleJourneyman, env.SourceRole)
		assert.False(t, env.Timestamp.IsZero())
		var payload map[string]string
		require.NoError(t, env.Unmarshal(&payload))
		assert.Equal(t, "main.go", payload["path"])
	case <-time.After(10 * time.Second):
		t.Fatal("envelope did not arrive on the standing queue")
	}
}

func TestClient_HandlerFailureDropsWithoutRequeue(t *testing.T) {
	cfg := testutil.StartRabbit(t)
	logger := zaptest.NewLogger(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := bus.NewClient(cfg, logger)
	require.Equal(t, bus.StateConnected, c.Connect(ctx))
	t.Cleanup(func() { c.Close() })

	var deliveries atomic.Int32
	require.True(t, c.Subscribe("guild.reeve.audits", func(context.Context, bus.Envelope) error {
		deliveries.Add(1)
		return errors.New("audit rejected")
	}))
	c.StartConsuming(ctx, bus.ConsumeBackground)

	require.True(t, c.Publish(ctx, bus.ExchangeProtocolUpdates, "protocol.rule_added",
		bus.RoleWarden, map[string]string{"rule": "pattern_master_startup"}))

	testutil.WaitFor(t, 10*time.Second, func() bool {
		return deliveries.Load() == 1
	}, "first delivery should arrive")

	// The nack must not requeue: the broker never redelivers.
	time.Sleep(2 * time.Second)
	assert.Equal(t, int32(1), deliveries.Load())
}

func TestClient_BlockingConsumptionEndsOnCancel(t *testing.T) {
	cfg := testutil.StartRabbit(t)
	logger := zaptest.NewLogger(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := bus.NewClient(cfg, logger)
	require.Equal(t, bus.StateConnected, c.Connect(ctx))
	t.Cleanup(func() { c.Close() })

	require.True(t, c.Subscribe(bus.IntegrationQueue, func(context.Context, bus.Envelope) error {
		return nil
	}))

	done := make(chan struct{})
	go func() {
		c.StartConsuming(ctx, bus.ConsumeBlocking)
		close(done)
	}()

	time.Sleep(300 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("blocking consumption did not end on context cancellation")
	}
}

func TestClient_CloseIsIdempotentOnLiveConnection(t *testing.T) {
	cfg := testutil.StartRabbit(t)
	ctx := context.Background()

	c := bus.NewClient(cfg, zaptest.NewLogger(t))
	require.Equal(t, bus.StateConnected, c.Connect(ctx))

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	assert.Equal(t, bus.StateDisconnected, c.State())
	assert.False(t, c.Publish(ctx, bus.ExchangeActivities, "master.activity.startup",
		bus.RoleMaster, "late"))
}

func TestClient_TopologySurvivesRedeclaration(t *testing.T) {
	cfg := testutil.StartRabbit(t)
	ctx := context.Background()

	c := bus.NewClient(cfg, zaptest.NewLogger(t))
	require.Equal(t, bus.StateConnected, c.Connect(ctx))
	t.Cleanup(func() { c.Close() })

	// Connect already declared everything once.
	require.NoError(t, c.DeclareTopology(ctx))
	require.NoError(t, c.DeclareTopology(ctx))
}
