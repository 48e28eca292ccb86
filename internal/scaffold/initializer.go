// Package scaffold builds a fresh .guild workspace: the goal template, the
// broker configuration, and the founding protocol rules.
package scaffold

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/template"
	"time"

	"github.com/guildtool/guild/internal/goal"
	"github.com/guildtool/guild/internal/protocol"
	"github.com/guildtool/guild/internal/workspace"
	"github.com/guildtool/guild/pkg/bus"
)

//go:embed templates/*
var templatesFS embed.FS

// ErrAlreadyInitialized marks an init attempt over an existing workspace.
var ErrAlreadyInitialized = errors.New("workspace already initialized")

// FileInfo represents a file created during initialization.
type FileInfo struct {
	Path        string
	Content     []byte
	Permissions os.FileMode
}

// Initialize creates the guild workspace inside ws. An existing workspace
// is an error unless force is set, in which case the .guild directory is
// rebuilt from scratch. The features directory is left alone either way.
func Initialize(ws workspace.Workspace, force bool, now time.Time) ([]FileInfo, error) {
	if ws.Exists() {
		if !force {
			return nil, fmt.Errorf("%w at %s", ErrAlreadyInitialized, ws.Dir())
		}
		if err := os.RemoveAll(ws.Dir()); err != nil {
			return nil, fmt.Errorf("failed to remove existing workspace: %w", err)
		}
	}

	if err := ws.EnsureLayout(); err != nil {
		return nil, err
	}

	files, err := renderFiles(ws, now)
	if err != nil {
		return nil, err
	}
	for _, file := range files {
		if err := os.WriteFile(file.Path, file.Content, file.Permissions); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", file.Path, err)
		}
	}

	if err := validateCreatedFiles(ws); err != nil {
		return nil, err
	}
	return files, nil
}

// Ensure backfills the workspace layout and any missing document without
// touching files that already exist. Start uses it so a half-built or
// hand-edited workspace still comes up. It returns the files it created.
func Ensure(ws workspace.Workspace, now time.Time) ([]FileInfo, error) {
	if err := ws.EnsureLayout(); err != nil {
		return nil, err
	}

	files, err := renderFiles(ws, now)
	if err != nil {
		return nil, err
	}

	var created []FileInfo
	for _, file := range files {
		if _, err := os.Stat(file.Path); err == nil {
			continue
		}
		if err := os.WriteFile(file.Path, file.Content, file.Permissions); err != nil {
			return created, fmt.Errorf("failed to write %s: %w", file.Path, err)
		}
		created = append(created, file)
	}
	return created, nil
}

// renderFiles produces the three workspace documents.
func renderFiles(ws workspace.Workspace, now time.Time) ([]FileInfo, error) {
	goalDoc, err := renderGoal(now)
	if err != nil {
		return nil, err
	}

	// The founding rules carry the goal focus, so the template must parse
	// before anything lands on disk.
	parsed, err := goal.Parse(goalDoc)
	if err != nil {
		return nil, fmt.Errorf("goal template did not parse: %w", err)
	}

	busJSON, err := json.MarshalIndent(bus.DefaultConfig(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode bus config: %w", err)
	}

	rulesJSON, err := json.MarshalIndent(protocol.Default(parsed.Primary, now), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode founding rules: %w", err)
	}

	return []FileInfo{
		{Path: ws.GoalFile(), Content: goalDoc, Permissions: 0644},
		{Path: ws.BusConfigFile(), Content: busJSON, Permissions: 0644},
		{Path: ws.RulesFile(), Content: rulesJSON, Permissions: 0644},
	}, nil
}

// renderGoal fills the embedded goal template with creation stamps.
func renderGoal(now time.Time) ([]byte, error) {
	raw, err := templatesFS.ReadFile("templates/goal.yaml.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to read goal template: %w", err)
	}

	tmpl, err := template.New("goal").Parse(string(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse goal template: %w", err)
	}

	stamp := now.UTC().Format(time.RFC3339)
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, map[string]string{
		"Created":     stamp,
		"LastUpdated": stamp,
	}); err != nil {
		return nil, fmt.Errorf("failed to render goal template: %w", err)
	}
	return buf.Bytes(), nil
}

// validateCreatedFiles re-reads the written artifacts the way the agents
// will, catching template drift before the first start.
func validateCreatedFiles(ws workspace.Workspace) error {
	if _, err := goal.Load(ws.GoalFile()); err != nil {
		return fmt.Errorf("created goal.yaml is not parseable: %w", err)
	}
	if _, err := protocol.Load(ws.RulesFile()); err != nil {
		return fmt.Errorf("created rules.json is not loadable: %w", err)
	}
	data, err := os.ReadFile(ws.BusConfigFile())
	if err != nil {
		return fmt.Errorf("failed to read created bus.json: %w", err)
	}
	if !json.Valid(data) {
		return errors.New("created bus.json is not valid JSON")
	}
	return nil
}
