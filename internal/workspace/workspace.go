// Package workspace locates and lays out the .guild directory that anchors
// a guild project. Every command resolves its workspace the same way:
// explicit --project path first, then the enclosing Git repository root,
// then the current directory.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/guildtool/guild/internal/git"
)

// DirName is the workspace directory created inside the project root.
const DirName = ".guild"

const logStamp = "20060102_150405"

// Workspace addresses every file guild keeps inside one project.
type Workspace struct {
	// Root is the absolute project root that contains the .guild directory.
	Root string
}

// New wraps an already-resolved project root.
func New(root string) Workspace {
	return Workspace{Root: root}
}

// Resolve picks the project root for a command. An explicit path wins when
// given; otherwise the enclosing Git repository root; otherwise the current
// directory.
func Resolve(explicit string) (Workspace, error) {
	if explicit != "" {
		abs, err := filepath.Abs(explicit)
		if err != nil {
			return Workspace{}, fmt.Errorf("failed to resolve project path: %w", err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return Workspace{}, fmt.Errorf("project path unusable: %w", err)
		}
		if !info.IsDir() {
			return Workspace{}, fmt.Errorf("project path is not a directory: %s", abs)
		}
		return New(abs), nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return Workspace{}, fmt.Errorf("failed to get current directory: %w", err)
	}

	checker := git.NewChecker()
	if isRepo, err := checker.IsRepository(cwd); err == nil && isRepo {
		if root, err := checker.Root(cwd); err == nil {
			return New(root), nil
		}
	}
	return New(cwd), nil
}

// Dir returns the workspace directory itself.
func (w Workspace) Dir() string {
	return filepath.Join(w.Root, DirName)
}

// GoalFile returns the path of the project goal document.
func (w Workspace) GoalFile() string {
	return filepath.Join(w.Dir(), "goal.yaml")
}

// BusConfigFile returns the path of the broker configuration.
func (w Workspace) BusConfigFile() string {
	return filepath.Join(w.Dir(), "bus.json")
}

// RulesFile returns the path of the protocol rule set.
func (w Workspace) RulesFile() string {
	return filepath.Join(w.Dir(), "protocols", "rules.json")
}

// RegistryFile returns the path of the role-to-PID registry.
func (w Workspace) RegistryFile() string {
	return filepath.Join(w.Dir(), "pids.json")
}

// LogDir returns the directory where run logs accumulate.
func (w Workspace) LogDir() string {
	return filepath.Join(w.Dir(), "logs")
}

// FeaturesDir returns the directory where the chronicler writes its
// insight reports. It sits at the project root, beside .guild, so the
// notes stay visible without digging into the control directory.
func (w Workspace) FeaturesDir() string {
	return filepath.Join(w.Root, "features")
}

// LogFile returns a timestamped log path for one command run.
func (w Workspace) LogFile(now time.Time) string {
	return filepath.Join(w.LogDir(), fmt.Sprintf("guild_%s.log", now.Format(logStamp)))
}

// Exists reports whether the workspace directory has been initialized.
func (w Workspace) Exists() bool {
	info, err := os.Stat(w.Dir())
	return err == nil && info.IsDir()
}

// EnsureLayout creates the workspace directory tree. Existing directories
// are left untouched.
func (w Workspace) EnsureLayout() error {
	dirs := []string{
		w.Dir(),
		filepath.Dir(w.RulesFile()),
		w.LogDir(),
		w.FeaturesDir(),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}
