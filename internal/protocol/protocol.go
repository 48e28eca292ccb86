// Package protocol holds the guild's working-practice rule set. The rule
// set lives in .guild/protocols/rules.json; the warden is its only writer.
// Everyone else loads it read-only.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"
)

// DefaultMaxRules caps how many rules a set may carry before the warden
// must escalate instead of promoting further patterns.
const DefaultMaxRules = 10

var (
	// ErrRuleLimit means the set already carries MaxRules rules.
	ErrRuleLimit = errors.New("protocol: rule limit reached")

	// ErrDuplicateRule means a rule with that name is already present.
	ErrDuplicateRule = errors.New("protocol: rule already present")
)

// AutoFixPolicy controls whether the warden may promote observed patterns
// to rules on its own.
type AutoFixPolicy struct {
	Enabled          bool `json:"enabled"`           // promotion allowed at all
	PerformanceFirst bool `json:"performance_first"` // prefer performance patterns
	EscalateComplex  bool `json:"escalate_complex"`  // hand unclear patterns to the reeve
}

// RuleSet is the on-disk protocol document.
type RuleSet struct {
	Version   string            `json:"version"`
	Created   string            `json:"created"` // RFC 3339
	GoalFocus string            `json:"goal_focus"`
	MaxRules  int               `json:"max_rules"`
	Rules     map[string]string `json:"rules"`
	AutoFix   AutoFixPolicy     `json:"auto_fix"`
}

// Default builds the founding rule set every new workspace starts from.
func Default(goalFocus string, now time.Time) RuleSet {
	return RuleSet{
		Version:   "1.0.0",
		Created:   now.UTC().Format(time.RFC3339),
		GoalFocus: goalFocus,
		MaxRules:  DefaultMaxRules,
		Rules: map[string]string{
			"goal_alignment":   "Every change must serve the repository goal",
			"simplicity_first": "Choose simple solutions over complex ones",
			"user_friendly":    "Use clear, understandable language in all communications",
		},
		AutoFix: AutoFixPolicy{
			Enabled:          true,
			PerformanceFirst: true,
			EscalateComplex:  true,
		},
	}
}

// Load reads a rule set from path.
func Load(path string) (RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RuleSet{}, fmt.Errorf("failed to read rules: %w", err)
	}
	var rs RuleSet
	if err := json.Unmarshal(data, &rs); err != nil {
		return RuleSet{}, fmt.Errorf("failed to parse rules: %w", err)
	}
	if rs.MaxRules <= 0 {
		rs.MaxRules = DefaultMaxRules
	}
	if rs.Rules == nil {
		rs.Rules = map[string]string{}
	}
	return rs, nil
}

// Save writes the rule set to path as indented JSON.
func (rs RuleSet) Save(path string) error {
	data, err := json.MarshalIndent(rs, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode rules: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write rules: %w", err)
	}
	return nil
}

// Add inserts a named rule, enforcing the size cap and name uniqueness.
func (rs *RuleSet) Add(name, text string) error {
	if name == "" || text == "" {
		return errors.New("protocol: rule name and text are required")
	}
	if _, exists := rs.Rules[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateRule, name)
	}
	if len(rs.Rules) >= rs.MaxRules {
		return fmt.Errorf("%w: %d of %d", ErrRuleLimit, len(rs.Rules), rs.MaxRules)
	}
	if rs.Rules == nil {
		rs.Rules = map[string]string{}
	}
	rs.Rules[name] = text
	return nil
}

// Names returns the rule names in sorted order for stable display.
func (rs RuleSet) Names() []string {
	names := make([]string, 0, len(rs.Rules))
	for name := range rs.Rules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
