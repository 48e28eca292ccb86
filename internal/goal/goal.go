// Package goal parses the repository goal document and scores development
// requests against it.
//
// The goal lives at .guild/goal.yaml. Humans edit it by hand, so parsing is
// deliberately forgiving: a structured YAML pass runs first, and when that
// fails a line-oriented fallback recovers the narrow subset the template
// uses. A goal without a primary statement is rejected either way.
package goal

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrNoPrimary marks a goal document with no primary goal statement.
var ErrNoPrimary = errors.New("goal document has no primary goal")

// Goal is the parsed repository goal.
type Goal struct {
	Primary         string
	Description     string
	SuccessCriteria []string
	Constraints     map[string]string
	Stakeholders    map[string]string
	Scope           Scope
	Metadata        Metadata
}

// Scope bounds what the repository is, and is not, about.
type Scope struct {
	Included string
	Excluded string
}

// Metadata tracks the document's provenance.
type Metadata struct {
	Created     string
	LastUpdated string
	Version     string
}

// Load reads and parses the goal document at path.
func Load(path string) (*Goal, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read goal file: %w", err)
	}
	g, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return g, nil
}

// SetPrimary replaces the primary goal statement. This is the only way the
// primary changes, and it always rewrites the last_updated stamp.
func (g *Goal) SetPrimary(text string, now time.Time) {
	g.Primary = text
	g.Metadata.LastUpdated = now.UTC().Format(time.RFC3339)
}

// marshalDoc is the on-disk YAML shape.
type marshalDoc struct {
	Goal struct {
		Primary     string `yaml:"primary"`
		Description string `yaml:"description,omitempty"`
	} `yaml:"goal"`
	SuccessCriteria []string          `yaml:"success_criteria,omitempty"`
	Constraints     map[string]string `yaml:"constraints,omitempty"`
	Stakeholders    map[string]string `yaml:"stakeholders,omitempty"`
	Scope           struct {
		Included string `yaml:"included,omitempty"`
		Excluded string `yaml:"excluded,omitempty"`
	} `yaml:"scope,omitempty"`
	Created     string `yaml:"created,omitempty"`
	LastUpdated string `yaml:"last_updated,omitempty"`
	Version     string `yaml:"version,omitempty"`
}

// Marshal serializes the goal back to YAML. Parsing the output yields an
// equivalent goal; comments from the original file are not preserved.
func (g *Goal) Marshal() ([]byte, error) {
	var doc marshalDoc
	doc.Goal.Primary = g.Primary
	doc.Goal.Description = g.Description
	doc.SuccessCriteria = g.SuccessCriteria
	doc.Constraints = g.Constraints
	doc.Stakeholders = g.Stakeholders
	doc.Scope.Included = g.Scope.Included
	doc.Scope.Excluded = g.Scope.Excluded
	doc.Created = g.Metadata.Created
	doc.LastUpdated = g.Metadata.LastUpdated
	doc.Version = g.Metadata.Version

	out, err := yaml.Marshal(&doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal goal: %w", err)
	}
	return out, nil
}

// Save writes the goal document to path.
func (g *Goal) Save(path string) error {
	data, err := g.Marshal()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write goal file: %w", err)
	}
	return nil
}
