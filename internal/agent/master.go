package agent

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/guildtool/guild/internal/goal"
	"github.com/guildtool/guild/internal/protocol"
	"github.com/guildtool/guild/pkg/bus"
)

const (
	// ConfirmThreshold is the misalignment confidence above which the
	// master asks the human before sharing a request.
	ConfirmThreshold = 0.7

	// ShowKeywordThreshold is the alignment confidence above which the
	// master echoes the matched goal keywords.
	ShowKeywordThreshold = 0.5
)

// Master is the interactive role. It reads human requests, scores them
// against the repository goal, and shares the accepted ones on the
// activities exchange. Insights and protocol updates arrive in the
// background while the human types.
type Master struct {
	rt     *Runtime
	pub    publisher
	scorer *goal.Scorer
	in     *bufio.Scanner
	out    io.Writer

	mu    sync.Mutex
	rules protocol.RuleSet
}

// NewMaster wires the master to its input and output streams. The single
// scanner is shared between the command loop and confirmation questions.
func NewMaster(rt *Runtime, in io.Reader, out io.Writer) *Master {
	return &Master{
		rt:     rt,
		pub:    rt.Messenger,
		scorer: goal.NewScorer(),
		in:     bufio.NewScanner(in),
		out:    out,
		rules:  rt.Rules,
	}
}

// Run drives the command loop until the human leaves or ctx is cancelled.
// Queue consumption runs in the background so the prompt stays responsive.
func (m *Master) Run(ctx context.Context) error {
	m.rt.Messenger.SubscribeRoleQueue(m.handleInsight)
	m.rt.Messenger.ListenForProtocolUpdates(ctx, m.handleProtocolUpdate)
	m.rt.Messenger.StartConsuming(ctx, bus.ConsumeBackground)

	m.banner()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		fmt.Fprint(m.out, "guild> ")
		if !m.in.Scan() {
			if err := m.in.Err(); err != nil {
				m.rt.Log.Warn("input closed", zap.Error(err))
			}
			// No terminal attached. Keep the queues alive until the
			// supervisor stops us.
			m.rt.Log.Info("running headless, waiting for shutdown")
			<-ctx.Done()
			return nil
		}

		line := strings.TrimSpace(m.in.Text())
		if line == "" {
			continue
		}
		if m.dispatch(ctx, line) {
			return nil
		}
	}
}

// dispatch runs one command line. It reports true when the human asked to
// leave.
func (m *Master) dispatch(ctx context.Context, line string) bool {
	switch {
	case line == "exit" || line == "quit" || line == "stop":
		fmt.Fprintln(m.out, "Goodbye.")
		return true
	case line == "help":
		m.printHelp()
	case line == "status":
		m.printStatus()
	case line == "rules":
		m.printRules()
	case line == "goal":
		m.printGoal()
	case strings.HasPrefix(line, "goal "):
		m.updateGoal(ctx, strings.TrimSpace(strings.TrimPrefix(line, "goal ")))
	default:
		m.handleRequest(ctx, line)
	}
	return false
}

// handleRequest scores a development request against the goal, gates the
// ones that look out of scope, and shares the rest with the guild.
func (m *Master) handleRequest(ctx context.Context, prompt string) {
	res := m.scorer.Alignment(m.rt.Goal, prompt)

	if !res.Aligned && res.Confidence > ConfirmThreshold {
		fmt.Fprintf(m.out, "This looks outside the repository goal: %s\n", res.Reason)
		if !m.confirm("Proceed anyway?") {
			fmt.Fprintln(m.out, "Request set aside.")
			m.rt.Log.Info("request declined at alignment gate",
				zap.String("prompt", truncate(prompt, 100)),
				zap.Float64("confidence", res.Confidence))
			return
		}
	} else if res.Aligned && res.Confidence > ShowKeywordThreshold {
		fmt.Fprintf(m.out, "Aligned with the goal (confidence %.2f): %s\n",
			res.Confidence, strings.Join(topKeywords(res.MatchingKeywords, 3), ", "))
	}

	note := PromptNote{
		Prompt:     prompt,
		Goal:       m.rt.Goal.Primary,
		Aligned:    res.Aligned,
		Confidence: res.Confidence,
		Keywords:   res.MatchingKeywords,
		WorkingDir: m.rt.Workspace.Root,
	}
	if m.pub.SendActivity(ctx, "user_prompt", note) {
		fmt.Fprintln(m.out, "Request shared with the guild.")
	} else {
		fmt.Fprintln(m.out, "Broker offline; request noted locally only.")
	}
	m.rt.Log.Info("user prompt handled",
		zap.Bool("aligned", res.Aligned),
		zap.Float64("confidence", res.Confidence))
}

// updateGoal replaces the primary goal on disk and announces the change.
func (m *Master) updateGoal(ctx context.Context, text string) {
	if text == "" {
		fmt.Fprintln(m.out, "Usage: goal <new primary goal>")
		return
	}
	m.rt.Goal.SetPrimary(text, time.Now())
	if err := m.rt.Goal.Save(m.rt.Workspace.GoalFile()); err != nil {
		fmt.Fprintf(m.out, "Could not save the goal file: %v\n", err)
		m.rt.Log.Error("goal save failed", zap.Error(err))
		return
	}
	m.pub.SendActivity(ctx, "goal_updated", GoalUpdateNote{
		NewGoal:   text,
		UpdatedBy: "human_user",
	})
	fmt.Fprintf(m.out, "Goal updated: %s\n", text)
	m.rt.Log.Info("goal updated", zap.String("goal", truncate(text, 100)))
}

// handleInsight surfaces a chronicler trend report next to the prompt.
func (m *Master) handleInsight(ctx context.Context, env bus.Envelope) error {
	var note TrendNote
	if err := env.Unmarshal(&note); err != nil {
		return fmt.Errorf("unreadable insight: %w", err)
	}
	if note.Report != "" {
		fmt.Fprintf(m.out, "\n[chronicler] %d code changes so far; report at %s\nguild> ", note.Changes, note.Report)
	} else {
		fmt.Fprintf(m.out, "\n[chronicler] %d code changes so far\nguild> ", note.Changes)
	}
	return nil
}

// handleProtocolUpdate reloads the rule set after the warden changes it.
func (m *Master) handleProtocolUpdate(ctx context.Context, env bus.Envelope) error {
	var note RuleNote
	if err := env.Unmarshal(&note); err != nil {
		return fmt.Errorf("unreadable protocol update: %w", err)
	}

	rules, err := protocol.Load(m.rt.Workspace.RulesFile())
	if err != nil {
		return fmt.Errorf("failed to reload rules: %w", err)
	}
	m.mu.Lock()
	m.rules = rules
	m.mu.Unlock()

	m.rt.Log.Info("protocol update applied",
		zap.String("rule", note.Rule),
		zap.Int("total_rules", note.Total))
	return nil
}

// confirm asks one y/N question on the shared scanner. A closed stream
// counts as no.
func (m *Master) confirm(question string) bool {
	fmt.Fprintf(m.out, "%s [y/N]: ", question)
	if !m.in.Scan() {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(m.in.Text())) {
	case "y", "yes":
		return true
	}
	return false
}

func (m *Master) banner() {
	fmt.Fprintf(m.out, "%s\n", m.rt.Role.Title())
	fmt.Fprintf(m.out, "Workspace: %s\n", m.rt.Workspace.Root)
	if m.rt.Messenger.Connected() {
		fmt.Fprintln(m.out, "Bus: connected")
	} else {
		fmt.Fprintln(m.out, "Bus: offline (messages stay local)")
	}
	if m.rt.Goal.Primary != "" {
		fmt.Fprintf(m.out, "Goal: %s\n", m.rt.Goal.Primary)
	}
	fmt.Fprintln(m.out, "Type 'help' for commands.")
}

func (m *Master) printHelp() {
	fmt.Fprintln(m.out, "Commands:")
	fmt.Fprintln(m.out, "  help         show this help")
	fmt.Fprintln(m.out, "  status       workspace and bus state")
	fmt.Fprintln(m.out, "  goal         show the primary goal")
	fmt.Fprintln(m.out, "  goal <text>  replace the primary goal")
	fmt.Fprintln(m.out, "  rules        list protocol rules")
	fmt.Fprintln(m.out, "  exit         leave")
	fmt.Fprintln(m.out, "Anything else is scored against the goal and shared with the guild.")
}

func (m *Master) printStatus() {
	state := "offline"
	if m.rt.Messenger.Connected() {
		state = "connected"
	}
	m.mu.Lock()
	ruleCount, ruleMax := len(m.rules.Rules), m.rules.MaxRules
	m.mu.Unlock()

	fmt.Fprintf(m.out, "Workspace: %s\n", m.rt.Workspace.Root)
	fmt.Fprintf(m.out, "Bus:       %s\n", state)
	fmt.Fprintf(m.out, "Goal:      %s\n", m.rt.Goal.Primary)
	fmt.Fprintf(m.out, "Rules:     %d of %d\n", ruleCount, ruleMax)
}

func (m *Master) printRules() {
	m.mu.Lock()
	rules := m.rules
	m.mu.Unlock()

	if len(rules.Rules) == 0 {
		fmt.Fprintln(m.out, "No protocol rules on the books.")
		return
	}
	fmt.Fprintf(m.out, "Protocol rules (%d of %d):\n", len(rules.Rules), rules.MaxRules)
	for _, name := range rules.Names() {
		fmt.Fprintf(m.out, "  %s: %s\n", name, rules.Rules[name])
	}
}

func (m *Master) printGoal() {
	if m.rt.Goal.Primary == "" {
		fmt.Fprintln(m.out, "No primary goal set. Use: goal <text>")
		return
	}
	fmt.Fprintf(m.out, "Primary goal: %s\n", m.rt.Goal.Primary)
	if m.rt.Goal.Scope.Excluded != "" {
		fmt.Fprintf(m.out, "Excluded:     %s\n", m.rt.Goal.Scope.Excluded)
	}
}

// topKeywords keeps the first n keywords for display.
func topKeywords(words []string, n int) []string {
	if len(words) <= n {
		return words
	}
	return words[:n]
}
