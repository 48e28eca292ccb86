package goal

import (
	"strings"

	"gopkg.in/yaml.v3"
)

// Sentinel comments delimiting the template's example block. Everything
// between them is instructional text, not configuration.
const (
	exampleOpen  = "# Example Configuration:"
	exampleClose = "# Metadata"
)

// document mirrors the on-disk YAML layout. It is strict on purpose: typing
// surprises in hand-edited files push parsing to the fallback tier, which is
// stringly by nature.
type document struct {
	Goal struct {
		Primary     string `yaml:"primary"`
		Description string `yaml:"description"`
	} `yaml:"goal"`
	SuccessCriteria []string          `yaml:"success_criteria"`
	Constraints     map[string]string `yaml:"constraints"`
	Stakeholders    map[string]string `yaml:"stakeholders"`
	Scope           struct {
		Included string `yaml:"included"`
		Excluded string `yaml:"excluded"`
	} `yaml:"scope"`
	Created     string `yaml:"created"`
	LastUpdated string `yaml:"last_updated"`
	Version     string `yaml:"version"`
}

// Parse reads a goal document. The cleaned content goes through the
// structured YAML pass first; if that fails, the line-oriented fallback
// recovers what it can. A document with no primary goal is rejected.
func Parse(data []byte) (*Goal, error) {
	cleaned := clean(string(data))

	var doc document
	if err := yaml.Unmarshal([]byte(cleaned), &doc); err != nil {
		doc = fallbackParse(cleaned)
	}

	g := doc.toGoal()
	if g.Primary == "" {
		return nil, ErrNoPrimary
	}
	return g, nil
}

func (d *document) toGoal() *Goal {
	return &Goal{
		Primary:         strings.TrimSpace(d.Goal.Primary),
		Description:     strings.TrimSpace(d.Goal.Description),
		SuccessCriteria: d.SuccessCriteria,
		Constraints:     d.Constraints,
		Stakeholders:    d.Stakeholders,
		Scope: Scope{
			Included: strings.TrimSpace(d.Scope.Included),
			Excluded: strings.TrimSpace(d.Scope.Excluded),
		},
		Metadata: Metadata{
			Created:     d.Created,
			LastUpdated: d.LastUpdated,
			Version:     d.Version,
		},
	}
}

// clean drops the sentinel-delimited example block and pure comment lines.
// Comment lines containing a colon survive; both parsers ignore them anyway.
func clean(content string) string {
	var b strings.Builder
	inExample := false

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, exampleOpen) {
			inExample = true
			continue
		}
		if inExample {
			if !strings.HasPrefix(trimmed, exampleClose) {
				continue
			}
			inExample = false
		}
		if strings.HasPrefix(trimmed, "#") && !strings.Contains(line, ":") {
			continue
		}

		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}

// fallbackParse recovers goal documents that the YAML pass rejects, for
// example tab indentation or unquoted typed values. It supports exactly:
// flat `key: value` scalars, one level of nested maps, flat `- ` lists, and
// `|`/`>` block scalars folded to a single string. Anything else is ignored
// rather than mis-parsed.
func fallbackParse(content string) document {
	var doc document
	lines := strings.Split(content, "\n")

	for i := 0; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		if trimmed == "" || strings.HasPrefix(trimmed, "#") || indentOf(lines[i]) > 0 {
			continue
		}

		key, rest, ok := splitKeyValue(trimmed)
		if !ok {
			continue
		}

		switch rest {
		case "":
			sub, items, end := parseSection(lines, i)
			applySection(&doc, key, sub, items)
			i = end
		case "|", ">":
			value, end := collectBlock(lines, i, 0)
			applyScalar(&doc, key, value)
			i = end
		default:
			applyScalar(&doc, key, unquote(rest))
		}
	}
	return doc
}

// parseSection consumes the indented body under a bare `key:` line and
// returns it as a one-level map or a flat list, whichever it finds.
func parseSection(lines []string, start int) (map[string]string, []string, int) {
	sub := make(map[string]string)
	var items []string
	end := start

	for i := start + 1; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		if trimmed == "" {
			end = i
			continue
		}
		indent := indentOf(lines[i])
		if indent == 0 {
			break
		}
		end = i

		if strings.HasPrefix(trimmed, "- ") {
			items = append(items, unquote(strings.TrimSpace(trimmed[2:])))
			continue
		}
		if strings.HasPrefix(trimmed, "#") {
			continue
		}

		key, rest, ok := splitKeyValue(trimmed)
		if !ok {
			continue
		}
		switch rest {
		case "":
			// Deeper nesting is outside the supported subset; skip its body.
			_, i = collectBlock(lines, i, indent)
			end = i
		case "|", ">":
			var value string
			value, i = collectBlock(lines, i, indent)
			sub[key] = value
			end = i
		default:
			sub[key] = unquote(rest)
		}
	}
	return sub, items, end
}

// collectBlock gathers the lines indented past minIndent that follow a block
// scalar marker, folding them into one string.
func collectBlock(lines []string, start, minIndent int) (string, int) {
	var parts []string
	end := start

	for i := start + 1; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		if trimmed == "" {
			end = i
			continue
		}
		if indentOf(lines[i]) <= minIndent {
			break
		}
		parts = append(parts, trimmed)
		end = i
	}
	return strings.Join(parts, "\n"), end
}

func applySection(doc *document, key string, sub map[string]string, items []string) {
	switch key {
	case "goal":
		doc.Goal.Primary = sub["primary"]
		doc.Goal.Description = sub["description"]
	case "success_criteria":
		doc.SuccessCriteria = items
	case "constraints":
		if len(sub) > 0 {
			doc.Constraints = sub
		}
	case "stakeholders":
		if len(sub) > 0 {
			doc.Stakeholders = sub
		}
	case "scope":
		doc.Scope.Included = sub["included"]
		doc.Scope.Excluded = sub["excluded"]
	}
}

func applyScalar(doc *document, key, value string) {
	switch key {
	case "created":
		doc.Created = value
	case "last_updated":
		doc.LastUpdated = value
	case "version":
		doc.Version = value
	}
}

func splitKeyValue(trimmed string) (string, string, bool) {
	idx := strings.Index(trimmed, ":")
	if idx <= 0 {
		return "", "", false
	}
	return strings.TrimSpace(trimmed[:idx]), strings.TrimSpace(trimmed[idx+1:]), true
}

func indentOf(line string) int {
	return len(line) - len(strings.TrimLeft(line, " \t"))
}

func unquote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
