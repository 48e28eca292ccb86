package agent

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/guildtool/guild/internal/workspace"
)

// Editors fire bursts of events per save; changes are reported only after
// this much quiet time.
const settleWindow = 500 * time.Millisecond

// treeWatcher reports settled file creates and writes under the project
// tree, skipping guild's own directories so the fleet never reacts to
// itself.
type treeWatcher struct {
	ws     workspace.Workspace
	fsw    *fsnotify.Watcher
	log    *zap.Logger
	settle time.Duration

	mu      sync.Mutex
	pending map[string]pendingChange
}

type pendingChange struct {
	op   string
	seen time.Time
}

func newTreeWatcher(ws workspace.Workspace, logger *zap.Logger) (*treeWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	tw := &treeWatcher{
		ws:      ws,
		fsw:     fsw,
		log:     logger.Named("watcher"),
		settle:  settleWindow,
		pending: make(map[string]pendingChange),
	}
	if err := tw.addTree(ws.Root); err != nil {
		fsw.Close()
		return nil, err
	}
	return tw, nil
}

// addTree registers every watchable directory under root. fsnotify does not
// recurse on its own.
func (tw *treeWatcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && skipName(d.Name()) {
			return filepath.SkipDir
		}
		return tw.fsw.Add(path)
	})
}

// skipName reports whether a path element is outside the watcher's remit:
// guild's own state, git internals, the insight notes, and hidden entries.
func skipName(name string) bool {
	switch name {
	case workspace.DirName, ".git", "features":
		return true
	}
	return strings.HasPrefix(name, ".")
}

// run drains events until ctx is cancelled, emitting one note per settled
// change.
func (tw *treeWatcher) run(ctx context.Context, emit func(ChangeNote)) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	tw.log.Info("watching project tree", zap.String("root", tw.ws.Root))

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-tw.fsw.Events:
			if !ok {
				return
			}
			tw.handleEvent(event)
		case err, ok := <-tw.fsw.Errors:
			if !ok {
				return
			}
			tw.log.Warn("watch error", zap.Error(err))
		case <-ticker.C:
			for _, note := range tw.settled(time.Now()) {
				emit(note)
			}
		}
	}
}

func (tw *treeWatcher) handleEvent(event fsnotify.Event) {
	if tw.ignored(event.Name) {
		return
	}

	switch {
	case event.Op&fsnotify.Create != 0:
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			// New subtree; start watching it too.
			if err := tw.fsw.Add(event.Name); err != nil {
				tw.log.Warn("failed to watch new directory",
					zap.String("path", event.Name), zap.Error(err))
			}
			return
		}
		tw.note(event.Name, "created", time.Now())
	case event.Op&fsnotify.Write != 0:
		tw.note(event.Name, "modified", time.Now())
	}
}

// ignored reports whether any element of the path is outside the remit.
func (tw *treeWatcher) ignored(path string) bool {
	rel, err := filepath.Rel(tw.ws.Root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return true
	}
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if part == "." {
			continue
		}
		if skipName(part) {
			return true
		}
	}
	return false
}

// note records or refreshes a pending change. A create followed by writes
// still reports as created.
func (tw *treeWatcher) note(path, op string, at time.Time) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if prev, ok := tw.pending[path]; ok && prev.op == "created" {
		op = "created"
	}
	tw.pending[path] = pendingChange{op: op, seen: at}
}

// settled drains the changes whose burst has gone quiet, as notes with
// root-relative paths, ordered for stable output.
func (tw *treeWatcher) settled(now time.Time) []ChangeNote {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	var notes []ChangeNote
	for path, pc := range tw.pending {
		if now.Sub(pc.seen) < tw.settle {
			continue
		}
		delete(tw.pending, path)
		rel, err := filepath.Rel(tw.ws.Root, path)
		if err != nil {
			rel = path
		}
		notes = append(notes, ChangeNote{Path: rel, Operation: pc.op})
	}
	sort.Slice(notes, func(i, k int) bool { return notes[i].Path < notes[k].Path })
	return notes
}

func (tw *treeWatcher) close() {
	if err := tw.fsw.Close(); err != nil {
		tw.log.Warn("watcher close failed", zap.Error(err))
	}
}
