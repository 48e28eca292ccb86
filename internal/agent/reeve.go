package agent

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/guildtool/guild/internal/goal"
	"github.com/guildtool/guild/internal/protocol"
	"github.com/guildtool/guild/pkg/bus"
)

// nearDuplicateShare is the keyword overlap at which two rule texts count
// as covering the same ground.
const nearDuplicateShare = 0.8

// Reeve is the governance auditor. Every protocol update the warden
// publishes gets audited against the rule book and answered with a verdict
// on the governance exchange.
type Reeve struct {
	rt  *Runtime
	pub publisher
}

// NewReeve builds the auditor around its runtime.
func NewReeve(rt *Runtime) *Reeve {
	return &Reeve{rt: rt, pub: rt.Messenger}
}

// Run subscribes the audit queue and blocks on consumption until ctx is
// cancelled.
func (r *Reeve) Run(ctx context.Context) error {
	r.rt.Messenger.SubscribeRoleQueue(r.handleProtocolUpdate)
	r.rt.Messenger.StartConsuming(ctx, bus.ConsumeBlocking)
	return nil
}

// handleProtocolUpdate audits one warden update and renders a verdict.
func (r *Reeve) handleProtocolUpdate(ctx context.Context, env bus.Envelope) error {
	var note RuleNote
	if err := env.Unmarshal(&note); err != nil {
		return fmt.Errorf("unreadable protocol update: %w", err)
	}

	problems := r.audit(note)
	verdict := VerdictNote{
		Subject:  env.RoutingKey,
		Rule:     note.Rule,
		Approved: len(problems) == 0,
		Problems: problems,
	}

	if verdict.Approved {
		r.pub.SendGovernanceReview(ctx, "approved", verdict)
		r.rt.Log.Info("protocol update approved", zap.String("rule", note.Rule))
	} else {
		r.pub.SendGovernanceReview(ctx, "revision_requested", verdict)
		r.rt.Log.Warn("protocol update needs revision",
			zap.String("rule", note.Rule),
			zap.Strings("problems", problems))
	}
	return nil
}

// audit checks an update against the rule book on disk: the book must stay
// within its cap, the rule text must say something, and it must not restate
// an existing rule.
func (r *Reeve) audit(note RuleNote) []string {
	var problems []string

	rules, err := protocol.Load(r.rt.Workspace.RulesFile())
	if err != nil {
		return []string{fmt.Sprintf("rule book unreadable: %v", err)}
	}

	if len(rules.Rules) > rules.MaxRules {
		problems = append(problems, fmt.Sprintf("rule book exceeds its cap: %d of %d", len(rules.Rules), rules.MaxRules))
	}
	if strings.TrimSpace(note.Text) == "" {
		problems = append(problems, "rule text is empty")
	}
	for _, name := range rules.Names() {
		if name == note.Rule {
			continue
		}
		if nearDuplicate(rules.Rules[name], note.Text) {
			problems = append(problems, fmt.Sprintf("rule %s already covers this ground", name))
			break
		}
	}
	return problems
}

// nearDuplicate reports whether two rule texts share most of their
// keywords.
func nearDuplicate(existing, proposed string) bool {
	have, want := goal.Keywords(existing), goal.Keywords(proposed)
	if len(have) == 0 || len(want) == 0 {
		return false
	}
	set := make(map[string]bool, len(have))
	for _, word := range have {
		set[word] = true
	}
	matches := 0
	for _, word := range want {
		if set[word] {
			matches++
		}
	}
	return float64(matches)/float64(len(want)) >= nearDuplicateShare
}
