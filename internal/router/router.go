// Package router gives each guild role its messaging identity. Every send
// goes through a fixed permission table: three exchanges have exactly one
// designated publisher, the activity and code-change exchanges are open to
// every role under its own routing-key prefix, and the two listen surfaces
// are restricted to the roles that may use them.
//
// Violations are never errors. A disallowed operation logs a warning and
// reports false, and nothing reaches the bus.
package router

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/guildtool/guild/pkg/bus"
)

// privilegedPublishers maps each restricted exchange to its one designated
// publisher role.
var privilegedPublishers = map[string]bus.Role{
	bus.ExchangeProtocolUpdates:   bus.RoleWarden,
	bus.ExchangeGovernanceReviews: bus.RoleReeve,
	bus.ExchangeFeatureInsights:   bus.RoleChronicler,
}

// openExchanges accept publishes from every role, scoped under the
// publisher's own identity.
var openExchanges = map[string]bool{
	bus.ExchangeActivities:  true,
	bus.ExchangeCodeChanges: true,
}

// protocolListeners are the roles allowed to subscribe to protocol updates.
var protocolListeners = map[bus.Role]bool{
	bus.RoleMaster:     true,
	bus.RoleJourneyman: true,
}

// Messenger is a role-scoped view of the bus. The underlying bus (live or
// offline) is chosen once at construction; Messenger never branches on
// connectivity.
type Messenger struct {
	role bus.Role
	bus  bus.Bus
	log  *zap.Logger
}

// New builds a messenger for role over an already-constructed bus.
func New(role bus.Role, b bus.Bus, logger *zap.Logger) *Messenger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Messenger{
		role: role,
		bus:  b,
		log:  logger.Named("router").With(zap.String("role", string(role))),
	}
}

// Connect builds a messenger over the live bus when the broker answers, or
// the offline stand-in when it does not.
func Connect(ctx context.Context, role bus.Role, cfg bus.Config, logger *zap.Logger) *Messenger {
	return New(role, bus.Connect(ctx, cfg, logger), logger)
}

// Role returns the messenger's fixed role identity.
func (m *Messenger) Role() bus.Role {
	return m.role
}

// Connected reports whether the underlying bus holds a live broker channel.
func (m *Messenger) Connected() bool {
	return m.bus.State() == bus.StateConnected
}

// SendActivity publishes an activity event under this role's identity.
func (m *Messenger) SendActivity(ctx context.Context, activityType string, payload any) bool {
	key := fmt.Sprintf("%s.activity.%s", m.role, activityType)
	return m.Publish(ctx, bus.ExchangeActivities, key, payload)
}

// SendCodeChange publishes a code-change event under this role's identity.
func (m *Messenger) SendCodeChange(ctx context.Context, changeType string, payload any) bool {
	key := fmt.Sprintf("%s.code.%s", m.role, changeType)
	return m.Publish(ctx, bus.ExchangeCodeChanges, key, payload)
}

// SendProtocolUpdate publishes a protocol update. Only the warden may.
func (m *Messenger) SendProtocolUpdate(ctx context.Context, updateType string, payload any) bool {
	return m.Publish(ctx, bus.ExchangeProtocolUpdates, "protocol."+updateType, payload)
}

// SendGovernanceReview publishes a governance review. Only the reeve may.
func (m *Messenger) SendGovernanceReview(ctx context.Context, reviewType string, payload any) bool {
	return m.Publish(ctx, bus.ExchangeGovernanceReviews, "governance."+reviewType, payload)
}

// SendFeatureInsight publishes a feature insight. Only the chronicler may.
func (m *Messenger) SendFeatureInsight(ctx context.Context, insightType string, payload any) bool {
	return m.Publish(ctx, bus.ExchangeFeatureInsights, "feature."+insightType, payload)
}

// Publish runs the permission check and forwards to the bus. Disallowed
// publishes report false without touching the bus.
func (m *Messenger) Publish(ctx context.Context, exchange, routingKey string, payload any) bool {
	if !m.mayPublish(exchange, routingKey) {
		m.log.Warn("publish rejected by role permissions",
			zap.String("exchange", exchange),
			zap.String("routing_key", routingKey))
		return false
	}
	return m.bus.Publish(ctx, exchange, routingKey, m.role, payload)
}

func (m *Messenger) mayPublish(exchange, routingKey string) bool {
	if owner, privileged := privilegedPublishers[exchange]; privileged {
		return m.role == owner
	}
	if openExchanges[exchange] {
		return strings.HasPrefix(routingKey, string(m.role)+".")
	}
	return false
}

// ListenForProtocolUpdates subscribes this role's protocol queue to the
// protocol exchange. Only the master and the journeyman may listen.
func (m *Messenger) ListenForProtocolUpdates(ctx context.Context, handler bus.Handler) bool {
	if !protocolListeners[m.role] {
		m.log.Warn("protocol updates are not listenable by this role")
		return false
	}
	queue := fmt.Sprintf("guild.%s.protocols", m.role)
	if !m.bus.DeclareQueue(ctx, queue, bus.ExchangeProtocolUpdates, "protocol.*") {
		return false
	}
	return m.bus.Subscribe(queue, handler)
}

// ListenForGovernanceFeedback subscribes the warden's feedback queue to the
// governance exchange. Only the warden may listen.
func (m *Messenger) ListenForGovernanceFeedback(ctx context.Context, handler bus.Handler) bool {
	if m.role != bus.RoleWarden {
		m.log.Warn("governance feedback is not listenable by this role")
		return false
	}
	queue := "guild.warden.feedback"
	if !m.bus.DeclareQueue(ctx, queue, bus.ExchangeGovernanceReviews, "governance.*") {
		return false
	}
	return m.bus.Subscribe(queue, handler)
}

// SubscribeRoleQueue attaches the handler to this role's standing queue
// from the guild topology.
func (m *Messenger) SubscribeRoleQueue(handler bus.Handler) bool {
	binding, ok := bus.RoleQueue(m.role)
	if !ok {
		m.log.Warn("role has no standing queue")
		return false
	}
	return m.bus.Subscribe(binding.Queue, handler)
}

// StartConsuming delegates to the bus consumption loop.
func (m *Messenger) StartConsuming(ctx context.Context, mode bus.ConsumeMode) {
	m.bus.StartConsuming(ctx, mode)
}

// Close releases the underlying bus. Idempotent.
func (m *Messenger) Close() error {
	return m.bus.Close()
}
