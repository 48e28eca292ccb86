package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guildtool/guild/pkg/bus"
)

func newTestChronicler(t *testing.T) (*Chronicler, *recorder) {
	t.Helper()
	rt := newTestRuntime(t, bus.RoleChronicler)
	c := NewChronicler(rt)
	c.now = func() time.Time { return time.Date(2026, 8, 26, 14, 30, 0, 0, time.UTC) }
	rec := &recorder{}
	c.pub = rec
	return c, rec
}

// observe delivers n inspected-change envelopes from one source.
func observe(t *testing.T, c *Chronicler, source bus.Role, n int) {
	t.Helper()
	key := fmt.Sprintf("%s.code.inspected", source)
	for i := 0; i < n; i++ {
		env := envelopeFor(t, source, key, ChangeNote{
			Path:      fmt.Sprintf("src/file_%d.go", i),
			Operation: "modified",
		})
		require.NoError(t, c.handleCodeChange(context.Background(), env))
	}
}

func TestChronicler_ReportsEveryInterval(t *testing.T) {
	c, rec := newTestChronicler(t)

	observe(t, c, bus.RoleJourneyman, ReportEvery-1)
	assert.Empty(t, rec.all(), "below the interval nothing is reported")

	observe(t, c, bus.RoleJourneyman, 1)

	calls := rec.byMethod("feature_insight")
	require.Len(t, calls, 1)
	assert.Equal(t, "trend", calls[0].Kind)

	note, ok := calls[0].Payload.(TrendNote)
	require.True(t, ok)
	assert.Equal(t, ReportEvery, note.Changes)
	assert.Equal(t, ReportEvery, note.ByType["inspected"])
	assert.Equal(t, ReportEvery, note.BySource["journeyman"])
	assert.NotEmpty(t, note.Report)

	data, err := os.ReadFile(filepath.Join(c.rt.Workspace.FeaturesDir(), "insights.md"))
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "# Guild Insights")
	assert.Contains(t, content, "## 2026-08-26 14:30 UTC")
	assert.Contains(t, content, "Observed 25 code changes so far.")
	assert.Contains(t, content, "- inspected: 25")
	assert.Contains(t, content, "- journeyman: 25")
}

func TestChronicler_SecondIntervalAppends(t *testing.T) {
	c, rec := newTestChronicler(t)

	observe(t, c, bus.RoleJourneyman, ReportEvery)
	observe(t, c, bus.RoleMaster, ReportEvery)

	calls := rec.byMethod("feature_insight")
	require.Len(t, calls, 2)

	second := calls[1].Payload.(TrendNote)
	assert.Equal(t, 2*ReportEvery, second.Changes, "tallies accumulate across reports")
	assert.Equal(t, ReportEvery, second.BySource["journeyman"])
	assert.Equal(t, ReportEvery, second.BySource["master"])

	data, err := os.ReadFile(filepath.Join(c.rt.Workspace.FeaturesDir(), "insights.md"))
	require.NoError(t, err)
	content := string(data)
	assert.Equal(t, 1, strings.Count(content, "# Guild Insights"), "the heading is written once")
	assert.Equal(t, 2, strings.Count(content, "## 2026-08-26"), "one dated section per report")
}

func TestChronicler_ShutdownFlushesRemainder(t *testing.T) {
	c, rec := newTestChronicler(t)

	observe(t, c, bus.RoleJourneyman, 3)
	assert.Empty(t, rec.all())

	c.flush(context.Background(), "shutdown")

	calls := rec.byMethod("feature_insight")
	require.Len(t, calls, 1)
	note := calls[0].Payload.(TrendNote)
	assert.Equal(t, 3, note.Changes)

	// Nothing new since the last report, so a second flush stays quiet.
	c.flush(context.Background(), "shutdown")
	assert.Len(t, rec.byMethod("feature_insight"), 1)
}

func TestChronicler_IgnoresForeignRoutingKeys(t *testing.T) {
	c, rec := newTestChronicler(t)

	env := envelopeFor(t, bus.RoleMaster, "master.activity.user_prompt", PromptNote{Prompt: "x"})
	require.NoError(t, c.handleCodeChange(context.Background(), env))

	assert.Empty(t, rec.all())
	assert.Zero(t, c.total)
}

func TestChronicler_ReportSurvivesMissingDir(t *testing.T) {
	c, rec := newTestChronicler(t)
	require.NoError(t, os.RemoveAll(c.rt.Workspace.FeaturesDir()))

	observe(t, c, bus.RoleJourneyman, ReportEvery)

	// appendReport recreates the directory on the way.
	require.Len(t, rec.byMethod("feature_insight"), 1)
	_, err := os.Stat(filepath.Join(c.rt.Workspace.FeaturesDir(), "insights.md"))
	assert.NoError(t, err)
}

func TestChangeSuffix(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"journeyman.code.inspected", "inspected"},
		{"master.code.committed", "committed"},
		{"master.activity.user_prompt", ""},
		{"feature.trend", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, changeSuffix(tt.key), tt.key)
	}
}
