package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/guildtool/guild/pkg/bus"
)

// ReportEvery is how many observed code changes trigger an insight report.
const ReportEvery = 25

// Chronicler is the insight documentarian. It tallies everyone's code
// changes and periodically turns the tallies into a dated section of
// features/insights.md plus a trend insight on the bus.
type Chronicler struct {
	rt  *Runtime
	pub publisher
	now func() time.Time

	mu        sync.Mutex
	total     int
	byType    map[string]int
	bySource  map[string]int
	sinceLast int
}

// NewChronicler builds the documentarian around its runtime.
func NewChronicler(rt *Runtime) *Chronicler {
	return &Chronicler{
		rt:       rt,
		pub:      rt.Messenger,
		now:      time.Now,
		byType:   make(map[string]int),
		bySource: make(map[string]int),
	}
}

// Run subscribes the change queue and blocks on consumption until ctx is
// cancelled, then writes a closing report for whatever is left unreported.
func (c *Chronicler) Run(ctx context.Context) error {
	c.rt.Messenger.SubscribeRoleQueue(c.handleCodeChange)
	c.rt.Messenger.StartConsuming(ctx, bus.ConsumeBlocking)

	// The run context is already cancelled here.
	c.flush(context.Background(), "shutdown")
	return nil
}

// handleCodeChange tallies one change and flushes when a report is due.
func (c *Chronicler) handleCodeChange(ctx context.Context, env bus.Envelope) error {
	changeType := changeSuffix(env.RoutingKey)
	if changeType == "" {
		return nil
	}

	c.mu.Lock()
	c.total++
	c.byType[changeType]++
	c.bySource[string(env.SourceRole)]++
	c.sinceLast++
	due := c.sinceLast >= ReportEvery
	c.mu.Unlock()

	if !due {
		return nil
	}
	c.flush(ctx, "interval")
	return nil
}

// flush writes a dated section to the insights file and publishes the
// trend. A flush with nothing new to report is a no-op.
func (c *Chronicler) flush(ctx context.Context, cause string) {
	c.mu.Lock()
	if c.sinceLast == 0 {
		c.mu.Unlock()
		return
	}
	snapshot := TrendNote{
		Changes:  c.total,
		ByType:   copyCounts(c.byType),
		BySource: copyCounts(c.bySource),
	}
	c.sinceLast = 0
	c.mu.Unlock()

	path := filepath.Join(c.rt.Workspace.FeaturesDir(), "insights.md")
	if err := appendReport(path, snapshot, c.now()); err != nil {
		c.rt.Log.Error("failed to write insight report", zap.Error(err))
	} else {
		snapshot.Report = path
	}

	c.pub.SendFeatureInsight(ctx, "trend", snapshot)
	c.rt.Log.Info("insight report published",
		zap.Int("changes", snapshot.Changes),
		zap.String("cause", cause))
}

// appendReport adds one dated section to the insights file, creating it
// with a heading on first write.
func appendReport(path string, note TrendNote, at time.Time) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	var b strings.Builder
	if info, err := os.Stat(path); err != nil || info.Size() == 0 {
		b.WriteString("# Guild Insights\n\n")
	}
	fmt.Fprintf(&b, "## %s\n\n", at.UTC().Format("2006-01-02 15:04 UTC"))
	fmt.Fprintf(&b, "Observed %d code changes so far.\n\n", note.Changes)
	b.WriteString("By type:\n")
	for _, key := range sortedKeys(note.ByType) {
		fmt.Fprintf(&b, "- %s: %d\n", key, note.ByType[key])
	}
	b.WriteString("\nBy source:\n")
	for _, key := range sortedKeys(note.BySource) {
		fmt.Fprintf(&b, "- %s: %d\n", key, note.BySource[key])
	}
	b.WriteString("\n")

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(b.String())
	return err
}

// changeSuffix extracts the change type from a "<role>.code.<type>" routing
// key.
func changeSuffix(routingKey string) string {
	parts := strings.SplitN(routingKey, ".", 3)
	if len(parts) != 3 || parts[1] != "code" {
		return ""
	}
	return parts[2]
}

func copyCounts(in map[string]int) map[string]int {
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func sortedKeys(in map[string]int) []string {
	keys := make([]string, 0, len(in))
	for k := range in {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
