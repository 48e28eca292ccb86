package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestOffline_SendsSucceedByLogging(t *testing.T) {
	o := NewOffline(zaptest.NewLogger(t))
	ctx := context.Background()

	assert.True(t, o.Publish(ctx, ExchangeProtocolUpdates, "protocol.rule_added", RoleWarden, map[string]string{"rule": "x"}))
	assert.True(t, o.DeclareQueue(ctx, "guild.warden.feedback", ExchangeGovernanceReviews, "governance.*"))
	assert.NoError(t, o.DeclareTopology(ctx))
	assert.Equal(t, StateDisconnected, o.Connect(ctx))
	assert.Equal(t, StateDisconnected, o.State())
}

func TestOffline_SubscriptionsAreInert(t *testing.T) {
	o := NewOffline(zaptest.NewLogger(t))

	invoked := false
	ok := o.Subscribe("guild.master.insights", func(context.Context, Envelope) error {
		invoked = true
		return nil
	})
	require.True(t, ok)

	// Background consumption returns immediately and delivers nothing.
	o.StartConsuming(context.Background(), ConsumeBackground)
	time.Sleep(20 * time.Millisecond)
	assert.False(t, invoked, "offline subscriptions must never deliver")
}

func TestOffline_BlockingConsumptionWaitsForCancel(t *testing.T) {
	o := NewOffline(zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		o.StartConsuming(ctx, ConsumeBlocking)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("blocking consumption returned before cancellation")
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("blocking consumption did not honor cancellation")
	}
}

func TestOffline_CloseReleasesBlockingConsumption(t *testing.T) {
	o := NewOffline(zaptest.NewLogger(t))

	done := make(chan struct{})
	go func() {
		o.StartConsuming(context.Background(), ConsumeBlocking)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, o.Close())

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not release the blocking consumption wait")
	}

	require.NoError(t, o.Close(), "close must stay idempotent")
}
