package router

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/guildtool/guild/pkg/bus"
)

// spyBus records every call that reaches it so tests can assert that
// permission violations stop at the router.
type spyBus struct {
	state      bus.ConnectionState
	publishes  []publishCall
	declares   []declareCall
	subscribes []string
	consumes   []bus.ConsumeMode
	closes     int
}

type publishCall struct {
	exchange   string
	routingKey string
	source     bus.Role
}

type declareCall struct {
	queue    string
	exchange string
	pattern  string
}

func (s *spyBus) Connect(ctx context.Context) bus.ConnectionState { return s.state }

func (s *spyBus) DeclareTopology(ctx context.Context) error { return nil }

func (s *spyBus) DeclareQueue(ctx context.Context, queue, exchange, pattern string) bool {
	s.declares = append(s.declares, declareCall{queue, exchange, pattern})
	return true
}

func (s *spyBus) Publish(ctx context.Context, exchange, routingKey string, source bus.Role, payload any) bool {
	s.publishes = append(s.publishes, publishCall{exchange, routingKey, source})
	return true
}

func (s *spyBus) Subscribe(queue string, handler bus.Handler) bool {
	s.subscribes = append(s.subscribes, queue)
	return true
}

func (s *spyBus) StartConsuming(ctx context.Context, mode bus.ConsumeMode) {
	s.consumes = append(s.consumes, mode)
}

func (s *spyBus) State() bus.ConnectionState { return s.state }

func (s *spyBus) Close() error {
	s.closes++
	return nil
}

func newMessenger(t *testing.T, role bus.Role) (*Messenger, *spyBus) {
	t.Helper()
	spy := &spyBus{state: bus.StateConnected}
	return New(role, spy, zaptest.NewLogger(t)), spy
}

func TestMessenger_DesignatedPublishers(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		exchange string
		owner    bus.Role
		send     func(m *Messenger) bool
		wantKey  string
	}{
		{
			exchange: bus.ExchangeProtocolUpdates,
			owner:    bus.RoleWarden,
			send: func(m *Messenger) bool {
				return m.SendProtocolUpdate(ctx, "rule_added", map[string]string{"rule": "simplicity_first"})
			},
			wantKey: "protocol.rule_added",
		},
		{
			exchange: bus.ExchangeGovernanceReviews,
			owner:    bus.RoleReeve,
			send: func(m *Messenger) bool {
				return m.SendGovernanceReview(ctx, "approved", map[string]string{"subject": "auth"})
			},
			wantKey: "governance.approved",
		},
		{
			exchange: bus.ExchangeFeatureInsights,
			owner:    bus.RoleChronicler,
			send: func(m *Messenger) bool {
				return m.SendFeatureInsight(ctx, "trend", map[string]int{"changes": 25})
			},
			wantKey: "feature.trend",
		},
	}

	for _, tc := range cases {
		t.Run(tc.exchange, func(t *testing.T) {
			for _, role := range bus.AllRoles() {
				m, spy := newMessenger(t, role)
				ok := tc.send(m)

				if role == tc.owner {
					assert.True(t, ok, "designated role %s must publish to %s", role, tc.exchange)
					require.Len(t, spy.publishes, 1)
					assert.Equal(t, tc.exchange, spy.publishes[0].exchange)
					assert.Equal(t, tc.wantKey, spy.publishes[0].routingKey)
					assert.Equal(t, tc.owner, spy.publishes[0].source)
				} else {
					assert.False(t, ok, "role %s must not publish to %s", role, tc.exchange)
					assert.Empty(t, spy.publishes, "violation by %s must not reach the bus", role)
				}
			}
		})
	}
}

func TestMessenger_OpenExchangesScopedByIdentity(t *testing.T) {
	ctx := context.Background()

	for _, role := range bus.AllRoles() {
		t.Run(string(role), func(t *testing.T) {
			m, spy := newMessenger(t, role)

			require.True(t, m.SendActivity(ctx, "started", map[string]string{"at": "now"}))
			require.True(t, m.SendCodeChange(ctx, "modified", map[string]string{"file": "main.go"}))

			require.Len(t, spy.publishes, 2)
			assert.Equal(t, bus.ExchangeActivities, spy.publishes[0].exchange)
			assert.Equal(t, fmt.Sprintf("%s.activity.started", role), spy.publishes[0].routingKey)
			assert.Equal(t, bus.ExchangeCodeChanges, spy.publishes[1].exchange)
			assert.Equal(t, fmt.Sprintf("%s.code.modified", role), spy.publishes[1].routingKey)
			for _, p := range spy.publishes {
				assert.Equal(t, role, p.source)
			}
		})
	}
}

func TestMessenger_ForeignIdentityRejected(t *testing.T) {
	ctx := context.Background()
	m, spy := newMessenger(t, bus.RoleJourneyman)

	// A journeyman may not speak in the master's name.
	ok := m.Publish(ctx, bus.ExchangeActivities, "master.activity.started", nil)

	assert.False(t, ok)
	assert.Empty(t, spy.publishes)
}

func TestMessenger_UnknownExchangeRejected(t *testing.T) {
	ctx := context.Background()
	m, spy := newMessenger(t, bus.RoleMaster)

	ok := m.Publish(ctx, "shadow.exchange", "master.activity.started", nil)

	assert.False(t, ok)
	assert.Empty(t, spy.publishes)
}

func TestMessenger_ViolationsNeverReachBus(t *testing.T) {
	ctx := context.Background()
	m, spy := newMessenger(t, bus.RoleMaster)

	assert.False(t, m.SendProtocolUpdate(ctx, "rule_added", nil))
	assert.False(t, m.SendGovernanceReview(ctx, "approved", nil))
	assert.False(t, m.SendFeatureInsight(ctx, "trend", nil))
	assert.False(t, m.Publish(ctx, bus.ExchangeCodeChanges, "warden.code.modified", nil))
	assert.False(t, m.ListenForGovernanceFeedback(ctx, func(context.Context, bus.Envelope) error { return nil }))

	assert.Empty(t, spy.publishes)
	assert.Empty(t, spy.declares)
	assert.Empty(t, spy.subscribes)
}

func TestMessenger_ListenForProtocolUpdates(t *testing.T) {
	handler := func(context.Context, bus.Envelope) error { return nil }

	allowed := map[bus.Role]bool{
		bus.RoleMaster:     true,
		bus.RoleJourneyman: true,
	}

	for _, role := range bus.AllRoles() {
		t.Run(string(role), func(t *testing.T) {
			m, spy := newMessenger(t, role)
			ok := m.ListenForProtocolUpdates(context.Background(), handler)

			if !allowed[role] {
				assert.False(t, ok)
				assert.Empty(t, spy.declares)
				assert.Empty(t, spy.subscribes)
				return
			}

			assert.True(t, ok)
			require.Len(t, spy.declares, 1)
			assert.Equal(t, fmt.Sprintf("guild.%s.protocols", role), spy.declares[0].queue)
			assert.Equal(t, bus.ExchangeProtocolUpdates, spy.declares[0].exchange)
			assert.Equal(t, "protocol.*", spy.declares[0].pattern)
			require.Len(t, spy.subscribes, 1)
			assert.Equal(t, spy.declares[0].queue, spy.subscribes[0])
		})
	}
}

func TestMessenger_ListenForGovernanceFeedback(t *testing.T) {
	handler := func(context.Context, bus.Envelope) error { return nil }

	for _, role := range bus.AllRoles() {
		t.Run(string(role), func(t *testing.T) {
			m, spy := newMessenger(t, role)
			ok := m.ListenForGovernanceFeedback(context.Background(), handler)

			if role != bus.RoleWarden {
				assert.False(t, ok)
				assert.Empty(t, spy.declares)
				assert.Empty(t, spy.subscribes)
				return
			}

			assert.True(t, ok)
			require.Len(t, spy.declares, 1)
			assert.Equal(t, "guild.warden.feedback", spy.declares[0].queue)
			assert.Equal(t, bus.ExchangeGovernanceReviews, spy.declares[0].exchange)
			assert.Equal(t, "governance.*", spy.declares[0].pattern)
			assert.Equal(t, []string{"guild.warden.feedback"}, spy.subscribes)
		})
	}
}

func TestMessenger_SubscribeRoleQueue(t *testing.T) {
	handler := func(context.Context, bus.Envelope) error { return nil }

	for _, role := range bus.AllRoles() {
		t.Run(string(role), func(t *testing.T) {
			m, spy := newMessenger(t, role)

			require.True(t, m.SubscribeRoleQueue(handler))

			binding, ok := bus.RoleQueue(role)
			require.True(t, ok)
			assert.Equal(t, []string{binding.Queue}, spy.subscribes)
		})
	}
}

func TestMessenger_Delegation(t *testing.T) {
	m, spy := newMessenger(t, bus.RoleMaster)

	assert.True(t, m.Connected())
	assert.Equal(t, bus.RoleMaster, m.Role())

	m.StartConsuming(context.Background(), bus.ConsumeBackground)
	assert.Equal(t, []bus.ConsumeMode{bus.ConsumeBackground}, spy.consumes)

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	assert.Equal(t, 2, spy.closes, "close passes through to the bus each time")
}

func TestMessenger_PermissionsEnforcedOffline(t *testing.T) {
	ctx := context.Background()
	offline := bus.NewOffline(zaptest.NewLogger(t))
	t.Cleanup(func() { _ = offline.Close() })

	warden := New(bus.RoleWarden, offline, zaptest.NewLogger(t))
	master := New(bus.RoleMaster, offline, zaptest.NewLogger(t))

	// Offline sends succeed by logging, but only for the designated role.
	assert.True(t, warden.SendProtocolUpdate(ctx, "rule_added", nil))
	assert.False(t, master.SendProtocolUpdate(ctx, "rule_added", nil))
	assert.True(t, master.SendActivity(ctx, "started", nil))
}

func TestConnect_FallsBackOffline(t *testing.T) {
	cfg := bus.DefaultConfig()
	cfg.Broker.Host = "127.0.0.1"
	cfg.Broker.Port = 1

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	m := Connect(ctx, bus.RoleChronicler, cfg, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = m.Close() })

	assert.False(t, m.Connected())
	assert.True(t, m.SendFeatureInsight(ctx, "trend", map[string]int{"changes": 25}),
		"offline sends succeed by logging")
}
