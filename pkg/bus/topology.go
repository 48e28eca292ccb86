package bus

// Role identifies one of the five fixed guild agents. Routing keys, queue
// names, and publish permissions are all derived from it.
type Role string

const (
	// RoleMaster is the human-interactive development hub.
	RoleMaster Role = "master"

	// RoleJourneyman is the autonomous fixer that monitors the master's
	// activity and the project tree.
	RoleJourneyman Role = "journeyman"

	// RoleWarden is the protocol governor and the only writer of the
	// protocol rule set.
	RoleWarden Role = "warden"

	// RoleReeve audits the warden's protocol decisions.
	RoleReeve Role = "reeve"

	// RoleChronicler documents feature insights from the code-change stream.
	RoleChronicler Role = "chronicler"
)

// Exchange names. All five are durable topic exchanges.
const (
	ExchangeActivities        = "agent.activities"
	ExchangeCodeChanges       = "code.changes"
	ExchangeProtocolUpdates   = "protocol.updates"
	ExchangeGovernanceReviews = "governance.reviews"
	ExchangeFeatureInsights   = "feature.insights"
)

// ExchangeKind is the AMQP exchange type shared by every guild exchange.
const ExchangeKind = "topic"

// IntegrationQueue is the durable catch-all queue external tooling (and
// `guild watch`) drains. It is bound to every guild exchange.
const IntegrationQueue = "guild.integrations"

var roleTitles = map[Role]string{
	RoleMaster:     "Guild-Master-Interactive",
	RoleJourneyman: "Guild-Journeyman-Fixer",
	RoleWarden:     "Guild-Warden-Protocol",
	RoleReeve:      "Guild-Reeve-Auditor",
	RoleChronicler: "Guild-Chronicler-Insights",
}

// roleQueues gives each consumer role its one durable standing queue.
// Together the bindings close the coordination loop: the journeyman watches
// the master, the warden watches everyone, the reeve watches the warden, the
// chronicler watches the code stream, and the master sees the chronicler's
// insights.
var roleQueues = map[Role]QueueBinding{
	RoleMaster:     {Queue: "guild.master.insights", Exchange: ExchangeFeatureInsights, Pattern: "feature.*"},
	RoleJourneyman: {Queue: "guild.journeyman.monitor", Exchange: ExchangeActivities, Pattern: "master.activity.*"},
	RoleWarden:     {Queue: "guild.warden.patterns", Exchange: ExchangeActivities, Pattern: "*.activity.*"},
	RoleReeve:      {Queue: "guild.reeve.audits", Exchange: ExchangeProtocolUpdates, Pattern: "protocol.*"},
	RoleChronicler: {Queue: "guild.chronicler.changes", Exchange: ExchangeCodeChanges, Pattern: "*.code.*"},
}

// QueueBinding describes a durable queue bound to an exchange with a
// wildcard routing pattern.
type QueueBinding struct {
	Queue    string
	Exchange string
	Pattern  string
}

// AllRoles returns the five guild roles in launch order.
func AllRoles() []Role {
	return []Role{RoleMaster, RoleJourneyman, RoleWarden, RoleReeve, RoleChronicler}
}

// ValidRole reports whether r names one of the five fixed roles.
func ValidRole(r Role) bool {
	_, ok := roleTitles[r]
	return ok
}

// Title returns the role's display title, or the bare role id for an
// unknown role.
func (r Role) Title() string {
	if title, ok := roleTitles[r]; ok {
		return title
	}
	return string(r)
}

// RoleQueue returns the standing queue binding for a consumer role.
func RoleQueue(r Role) (QueueBinding, bool) {
	b, ok := roleQueues[r]
	return b, ok
}

// Exchanges returns a fresh copy of the exchange-name to exchange-type map.
func Exchanges() map[string]string {
	return map[string]string{
		ExchangeActivities:        ExchangeKind,
		ExchangeCodeChanges:       ExchangeKind,
		ExchangeProtocolUpdates:   ExchangeKind,
		ExchangeGovernanceReviews: ExchangeKind,
		ExchangeFeatureInsights:   ExchangeKind,
	}
}
