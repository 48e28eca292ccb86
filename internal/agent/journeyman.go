package agent

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/guildtool/guild/internal/protocol"
	"github.com/guildtool/guild/pkg/bus"
)

// focusBuckets maps a focus area to the prompt words that select it.
var focusBuckets = map[string][]string{
	"performance": {"slow", "performance", "optimize", "fast"},
	"security":    {"auth", "login", "security", "password"},
	"database":    {"database", "query", "sql", "data"},
}

// focusAdvice maps a focus area to its standing recommendations.
var focusAdvice = map[string][]string{
	"performance": {
		"Consider profiling before optimization",
		"Focus on algorithmic improvements first",
		"Measure performance impact of changes",
	},
	"security": {
		"Use established security libraries",
		"Implement proper input validation",
		"Consider security testing",
	},
	"database": {
		"Check for N+1 query problems",
		"Consider proper indexing",
		"Use connection pooling if needed",
	},
}

// focusOrder keeps analysis output stable.
var focusOrder = []string{"performance", "security", "database"}

// Journeyman is the autonomous fixer. It reads the master's activity feed,
// answers development requests with focus-area recommendations, and watches
// the project tree for file changes.
type Journeyman struct {
	rt  *Runtime
	pub publisher
}

// NewJourneyman builds the fixer around its runtime.
func NewJourneyman(rt *Runtime) *Journeyman {
	return &Journeyman{rt: rt, pub: rt.Messenger}
}

// Run subscribes the monitor queue, starts the tree watcher, and blocks on
// consumption until ctx is cancelled.
func (j *Journeyman) Run(ctx context.Context) error {
	j.rt.Messenger.SubscribeRoleQueue(j.handleMasterActivity)
	j.rt.Messenger.ListenForProtocolUpdates(ctx, j.handleProtocolUpdate)

	watcher, err := newTreeWatcher(j.rt.Workspace, j.rt.Log)
	if err != nil {
		j.rt.Log.Warn("tree watcher unavailable", zap.Error(err))
	} else {
		defer watcher.close()
		go watcher.run(ctx, func(note ChangeNote) {
			j.pub.SendCodeChange(ctx, "inspected", note)
			j.rt.Log.Debug("file change shared",
				zap.String("path", note.Path),
				zap.String("operation", note.Operation))
		})
	}

	j.rt.Messenger.StartConsuming(ctx, bus.ConsumeBlocking)
	return nil
}

// handleMasterActivity routes the master's feed by activity type.
func (j *Journeyman) handleMasterActivity(ctx context.Context, env bus.Envelope) error {
	switch {
	case strings.HasSuffix(env.RoutingKey, ".user_prompt"):
		return j.analyzeRequest(ctx, env)
	case strings.HasSuffix(env.RoutingKey, ".goal_updated"):
		var note GoalUpdateNote
		if err := env.Unmarshal(&note); err != nil {
			return fmt.Errorf("unreadable goal update: %w", err)
		}
		j.rt.Log.Info("goal changed",
			zap.String("goal", truncate(note.NewGoal, 100)),
			zap.String("updated_by", note.UpdatedBy))
		return nil
	default:
		j.rt.Log.Debug("activity noted", zap.String("routing_key", env.RoutingKey))
		return nil
	}
}

// analyzeRequest scans a human request for focus areas and answers with
// recommendations. Requests with no recognizable focus stay quiet.
func (j *Journeyman) analyzeRequest(ctx context.Context, env bus.Envelope) error {
	var note PromptNote
	if err := env.Unmarshal(&note); err != nil {
		return fmt.Errorf("unreadable prompt: %w", err)
	}

	analysis := AnalyzePrompt(note.Prompt)
	if analysis == nil {
		j.rt.Log.Debug("no focus areas found", zap.String("prompt", truncate(note.Prompt, 50)))
		return nil
	}

	j.pub.SendActivity(ctx, "recommendations", *analysis)
	j.rt.Log.Info("recommendations shared",
		zap.Strings("focus_areas", analysis.FocusAreas),
		zap.Int("count", len(analysis.Recommendations)))
	return nil
}

// AnalyzePrompt matches a request against the focus buckets. It returns nil
// when no bucket matches.
func AnalyzePrompt(prompt string) *AnalysisNote {
	lower := strings.ToLower(prompt)

	var areas []string
	var advice []string
	for _, area := range focusOrder {
		for _, word := range focusBuckets[area] {
			if strings.Contains(lower, word) {
				areas = append(areas, area)
				advice = append(advice, focusAdvice[area]...)
				break
			}
		}
	}
	if len(areas) == 0 {
		return nil
	}

	return &AnalysisNote{
		Prompt:          truncate(prompt, 100),
		FocusAreas:      areas,
		Recommendations: advice,
	}
}

// handleProtocolUpdate reloads the rule set after the warden changes it.
func (j *Journeyman) handleProtocolUpdate(ctx context.Context, env bus.Envelope) error {
	var note RuleNote
	if err := env.Unmarshal(&note); err != nil {
		return fmt.Errorf("unreadable protocol update: %w", err)
	}

	rules, err := protocol.Load(j.rt.Workspace.RulesFile())
	if err != nil {
		return fmt.Errorf("failed to reload rules: %w", err)
	}
	j.rt.Rules = rules
	j.rt.Log.Info("protocol update applied",
		zap.String("rule", note.Rule),
		zap.Int("total_rules", note.Total))
	return nil
}
