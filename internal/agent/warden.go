package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/guildtool/guild/internal/protocol"
	"github.com/guildtool/guild/pkg/bus"
)

// PromotionThreshold is how many sightings of one activity pattern earn a
// protocol rule.
const PromotionThreshold = 5

// Warden is the protocol governor. It watches the whole activity stream,
// counts recurring patterns per source role, and promotes the persistent
// ones to protocol rules.
type Warden struct {
	rt  *Runtime
	pub publisher

	mu     sync.Mutex
	rules  protocol.RuleSet
	counts map[string]int // "<role>/<activity type>" sightings
}

// NewWarden builds the governor around its runtime.
func NewWarden(rt *Runtime) *Warden {
	return &Warden{
		rt:     rt,
		pub:    rt.Messenger,
		rules:  rt.Rules,
		counts: make(map[string]int),
	}
}

// Run subscribes the pattern and feedback queues, then blocks on
// consumption until ctx is cancelled.
func (w *Warden) Run(ctx context.Context) error {
	w.rt.Messenger.SubscribeRoleQueue(w.handleActivity)
	w.rt.Messenger.ListenForGovernanceFeedback(ctx, w.handleVerdict)
	w.rt.Messenger.StartConsuming(ctx, bus.ConsumeBlocking)
	return nil
}

// handleActivity counts one activity sighting and promotes the pattern the
// moment it crosses the threshold.
func (w *Warden) handleActivity(ctx context.Context, env bus.Envelope) error {
	activityType := activitySuffix(env.RoutingKey)
	if activityType == "" {
		return nil
	}
	// The warden's own traffic never feeds pattern learning.
	if env.SourceRole == w.rt.Role {
		return nil
	}

	w.mu.Lock()
	key := string(env.SourceRole) + "/" + activityType
	w.counts[key]++
	count := w.counts[key]
	w.mu.Unlock()

	if count != PromotionThreshold {
		return nil
	}
	return w.promote(ctx, env.SourceRole, activityType, count)
}

// promote turns a recurring pattern into a protocol rule, persists it, and
// announces the update.
func (w *Warden) promote(ctx context.Context, source bus.Role, activityType string, count int) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.rules.AutoFix.Enabled {
		w.rt.Log.Info("pattern promotion skipped, auto-fix disabled",
			zap.String("source", string(source)),
			zap.String("activity_type", activityType))
		return nil
	}

	name := fmt.Sprintf("pattern_%s_%s", source, activityType)
	text := fmt.Sprintf("Recurring %s activity from the %s role should follow one consistent shape", activityType, source)

	if err := w.rules.Add(name, text); err != nil {
		switch {
		case errors.Is(err, protocol.ErrDuplicateRule):
			return nil
		case errors.Is(err, protocol.ErrRuleLimit):
			w.rt.Log.Warn("rule limit reached, pattern not promoted",
				zap.String("rule", name),
				zap.Int("max_rules", w.rules.MaxRules))
			return nil
		default:
			return fmt.Errorf("failed to add rule %s: %w", name, err)
		}
	}
	if err := w.rules.Save(w.rt.Workspace.RulesFile()); err != nil {
		return fmt.Errorf("failed to persist promoted rule: %w", err)
	}

	w.pub.SendProtocolUpdate(ctx, "rule_added", RuleNote{
		Type:   "rule_added",
		Rule:   name,
		Text:   text,
		Source: string(source),
		Count:  count,
		Total:  len(w.rules.Rules),
	})
	w.rt.Log.Info("pattern promoted to rule",
		zap.String("rule", name),
		zap.Int("sightings", count),
		zap.Int("total_rules", len(w.rules.Rules)))
	return nil
}

// handleVerdict acknowledges the reeve's ruling on a protocol update.
func (w *Warden) handleVerdict(ctx context.Context, env bus.Envelope) error {
	var verdict VerdictNote
	if err := env.Unmarshal(&verdict); err != nil {
		return fmt.Errorf("unreadable verdict: %w", err)
	}
	if verdict.Approved {
		w.rt.Log.Info("reeve approved protocol update",
			zap.String("rule", verdict.Rule))
		return nil
	}
	w.rt.Log.Warn("reeve requested revision",
		zap.String("rule", verdict.Rule),
		zap.Strings("problems", verdict.Problems))
	return nil
}

// activitySuffix extracts the activity type from a "<role>.activity.<type>"
// routing key.
func activitySuffix(routingKey string) string {
	parts := strings.SplitN(routingKey, ".", 3)
	if len(parts) != 3 || parts[1] != "activity" {
		return ""
	}
	return parts[2]
}
