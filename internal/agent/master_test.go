package agent

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guildtool/guild/internal/goal"
	"github.com/guildtool/guild/internal/protocol"
	"github.com/guildtool/guild/pkg/bus"
)

// newTestMaster wires a master to a scripted stdin and a capture buffer.
func newTestMaster(t *testing.T, rt *Runtime, input string) (*Master, *recorder, *strings.Builder) {
	t.Helper()
	out := &strings.Builder{}
	m := NewMaster(rt, strings.NewReader(input), out)
	rec := &recorder{}
	m.pub = rec
	return m, rec, out
}

func TestMaster_HandleRequest_AlignedSharesPrompt(t *testing.T) {
	rt := newTestRuntime(t, bus.RoleMaster)
	rt.Goal = &goal.Goal{Primary: "Improve API performance and reliability"}
	m, rec, out := newTestMaster(t, rt, "")

	m.handleRequest(context.Background(), "improve the performance of the API layer")

	calls := rec.byMethod("activity")
	require.Len(t, calls, 1)
	assert.Equal(t, "user_prompt", calls[0].Kind)

	note, ok := calls[0].Payload.(PromptNote)
	require.True(t, ok)
	assert.True(t, note.Aligned)
	assert.Greater(t, note.Confidence, 0.5)
	assert.Equal(t, "Improve API performance and reliability", note.Goal)
	assert.Equal(t, rt.Workspace.Root, note.WorkingDir)
	assert.Contains(t, note.Keywords, "performance")

	assert.Contains(t, out.String(), "Aligned with the goal")
	assert.Contains(t, out.String(), "Request shared with the guild.")
}

func TestMaster_HandleRequest_ExcludedScopeGate(t *testing.T) {
	makeMaster := func(t *testing.T, answer string) (*Master, *recorder, *strings.Builder) {
		rt := newTestRuntime(t, bus.RoleMaster)
		rt.Goal = &goal.Goal{Primary: "Improve API performance"}
		rt.Goal.Scope.Excluded = "authentication and login changes"
		return newTestMaster(t, rt, answer)
	}

	t.Run("declined", func(t *testing.T) {
		m, rec, out := makeMaster(t, "n\n")

		m.handleRequest(context.Background(), "rework the login authentication flow")

		assert.Empty(t, rec.all(), "a declined request never reaches the bus")
		assert.Contains(t, out.String(), "outside the repository goal")
		assert.Contains(t, out.String(), "Request set aside.")
	})

	t.Run("confirmed", func(t *testing.T) {
		m, rec, out := makeMaster(t, "y\n")

		m.handleRequest(context.Background(), "rework the login authentication flow")

		calls := rec.byMethod("activity")
		require.Len(t, calls, 1)
		note := calls[0].Payload.(PromptNote)
		assert.False(t, note.Aligned)
		assert.InDelta(t, 0.9, note.Confidence, 0.001)
		assert.Contains(t, out.String(), "Proceed anyway?")
	})

	t.Run("closed stdin counts as no", func(t *testing.T) {
		m, rec, _ := makeMaster(t, "")

		m.handleRequest(context.Background(), "rework the login authentication flow")

		assert.Empty(t, rec.all())
	})
}

func TestMaster_HandleRequest_UnrelatedSharedWithoutGate(t *testing.T) {
	rt := newTestRuntime(t, bus.RoleMaster)
	rt.Goal = &goal.Goal{Primary: "Improve API performance"}
	m, rec, out := newTestMaster(t, rt, "")

	// Zero keyword overlap scores low-confidence misalignment, which is
	// below the gate, so the request passes through quietly.
	m.handleRequest(context.Background(), "update the readme wording")

	calls := rec.byMethod("activity")
	require.Len(t, calls, 1)
	note := calls[0].Payload.(PromptNote)
	assert.False(t, note.Aligned)
	assert.NotContains(t, out.String(), "Proceed anyway?")
	assert.NotContains(t, out.String(), "Aligned with the goal")
}

func TestMaster_Dispatch(t *testing.T) {
	tests := []struct {
		line    string
		done    bool
		wantOut string
	}{
		{line: "exit", done: true, wantOut: "Goodbye."},
		{line: "quit", done: true, wantOut: "Goodbye."},
		{line: "stop", done: true, wantOut: "Goodbye."},
		{line: "help", wantOut: "Commands:"},
		{line: "status", wantOut: "Workspace:"},
		{line: "rules", wantOut: "Protocol rules (3 of 10):"},
		{line: "goal", wantOut: "Primary goal: Keep the lights on"},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			rt := newTestRuntime(t, bus.RoleMaster)
			rt.Goal = &goal.Goal{Primary: "Keep the lights on"}
			m, _, out := newTestMaster(t, rt, "")

			done := m.dispatch(context.Background(), tt.line)

			assert.Equal(t, tt.done, done)
			assert.Contains(t, out.String(), tt.wantOut)
		})
	}
}

func TestMaster_UpdateGoal(t *testing.T) {
	rt := newTestRuntime(t, bus.RoleMaster)
	rt.Goal = &goal.Goal{Primary: "Old objective"}
	m, rec, out := newTestMaster(t, rt, "")

	done := m.dispatch(context.Background(), "goal Ship the streaming parser")
	assert.False(t, done)

	loaded, err := goal.Load(rt.Workspace.GoalFile())
	require.NoError(t, err)
	assert.Equal(t, "Ship the streaming parser", loaded.Primary)

	calls := rec.byMethod("activity")
	require.Len(t, calls, 1)
	assert.Equal(t, "goal_updated", calls[0].Kind)
	note := calls[0].Payload.(GoalUpdateNote)
	assert.Equal(t, "Ship the streaming parser", note.NewGoal)
	assert.Equal(t, "human_user", note.UpdatedBy)

	assert.Contains(t, out.String(), "Goal updated: Ship the streaming parser")
}

func TestMaster_UpdateGoal_EmptyShowsUsage(t *testing.T) {
	rt := newTestRuntime(t, bus.RoleMaster)
	m, rec, out := newTestMaster(t, rt, "")

	m.updateGoal(context.Background(), "")

	assert.Empty(t, rec.all())
	assert.Contains(t, out.String(), "Usage: goal <new primary goal>")
}

func TestMaster_HandleProtocolUpdate_ReloadsRules(t *testing.T) {
	rt := newTestRuntime(t, bus.RoleMaster)
	m, _, _ := newTestMaster(t, rt, "")

	// The warden already persisted a fourth rule; the update tells the
	// master to pick it up.
	rules, err := protocol.Load(rt.Workspace.RulesFile())
	require.NoError(t, err)
	require.NoError(t, rules.Add("pattern_master_user_prompt", "Recurring user_prompt activity from the master role should follow one consistent shape"))
	require.NoError(t, rules.Save(rt.Workspace.RulesFile()))

	env := envelopeFor(t, bus.RoleWarden, "protocol.rule_added", RuleNote{
		Type: "rule_added", Rule: "pattern_master_user_prompt", Total: 4,
	})
	require.NoError(t, m.handleProtocolUpdate(context.Background(), env))

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Len(t, m.rules.Rules, 4)
	assert.Contains(t, m.rules.Rules, "pattern_master_user_prompt")
}

func TestMaster_HandleProtocolUpdate_BadPayload(t *testing.T) {
	rt := newTestRuntime(t, bus.RoleMaster)
	m, _, _ := newTestMaster(t, rt, "")

	env := envelopeFor(t, bus.RoleWarden, "protocol.rule_added", nil)
	env.Data = json.RawMessage(`"not an update"`)

	assert.Error(t, m.handleProtocolUpdate(context.Background(), env))
}

func TestMaster_HandleInsight(t *testing.T) {
	rt := newTestRuntime(t, bus.RoleMaster)
	m, _, out := newTestMaster(t, rt, "")

	env := envelopeFor(t, bus.RoleChronicler, "feature.trend", TrendNote{
		Changes: 25, Report: "/tmp/proj/features/insights.md",
	})
	require.NoError(t, m.handleInsight(context.Background(), env))

	assert.Contains(t, out.String(), "[chronicler] 25 code changes so far")
	assert.Contains(t, out.String(), "features/insights.md")
}

func TestMaster_RunLeavesOnExit(t *testing.T) {
	rt := newTestRuntime(t, bus.RoleMaster)
	rt.Goal = &goal.Goal{Primary: "Keep the lights on"}
	m, _, out := newTestMaster(t, rt, "status\nexit\n")

	err := m.Run(context.Background())
	require.NoError(t, err)

	assert.Contains(t, out.String(), bus.RoleMaster.Title())
	assert.Contains(t, out.String(), "Bus: offline")
	assert.Contains(t, out.String(), "Goodbye.")
}

func TestMaster_RunHeadlessWaitsForCancel(t *testing.T) {
	rt := newTestRuntime(t, bus.RoleMaster)
	m, _, _ := newTestMaster(t, rt, "")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	// Closed stdin must not end the process while the supervisor still
	// owns it.
	select {
	case err := <-done:
		t.Fatalf("master exited on closed stdin: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("master did not stop on cancellation")
	}
}
