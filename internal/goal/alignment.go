package goal

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Standard scoring parameters. They are plain fields on Scorer so callers
// can tune them without forking the algorithm.
const (
	DefaultNeutralConfidence   = 0.5
	DefaultAlignmentThreshold  = 0.3
	DefaultExclusionConfidence = 0.9
)

var wordPattern = regexp.MustCompile(`[a-zA-Z]+`)

// stopWords are filler tokens that never count as focus keywords.
var stopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "but": {},
	"in": {}, "on": {}, "at": {}, "to": {}, "for": {}, "of": {},
	"with": {}, "by": {},
}

// Result is the outcome of scoring a request against the repository goal.
type Result struct {
	Aligned          bool     `json:"aligned"`
	Confidence       float64  `json:"confidence"`
	MatchingKeywords []string `json:"matching_keywords,omitempty"`
	Reason           string   `json:"reason"`
}

// Scorer computes how well a development request aligns with the goal.
type Scorer struct {
	NeutralConfidence   float64
	AlignmentThreshold  float64
	ExclusionConfidence float64
}

// NewScorer returns a scorer with the standard parameters.
func NewScorer() *Scorer {
	return &Scorer{
		NeutralConfidence:   DefaultNeutralConfidence,
		AlignmentThreshold:  DefaultAlignmentThreshold,
		ExclusionConfidence: DefaultExclusionConfidence,
	}
}

// Keywords extracts the lower-cased alphabetic tokens longer than three
// characters, minus stop words. Order of first appearance, de-duplicated.
func Keywords(text string) []string {
	var out []string
	seen := make(map[string]struct{})

	for _, token := range wordPattern.FindAllString(text, -1) {
		word := strings.ToLower(token)
		if len(word) <= 3 {
			continue
		}
		if _, stop := stopWords[word]; stop {
			continue
		}
		if _, dup := seen[word]; dup {
			continue
		}
		seen[word] = struct{}{}
		out = append(out, word)
	}
	return out
}

// FocusKeywords is the goal's focus set: keywords of the primary statement
// plus keywords of every constraint value.
func (g *Goal) FocusKeywords() []string {
	parts := []string{g.Primary}

	names := make([]string, 0, len(g.Constraints))
	for name := range g.Constraints {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		parts = append(parts, g.Constraints[name])
	}
	return Keywords(strings.Join(parts, " "))
}

// Alignment scores a development request against the goal.
//
// The excluded scope is checked first and overrides everything: any keyword
// shared with scope.excluded yields {aligned: false, confidence: 0.9}. With
// no exclusion hit, confidence is the fraction of focus keywords the request
// covers; a goal with no focus keywords scores neutral rather than zero.
func (s *Scorer) Alignment(g *Goal, request string) Result {
	requestWords := Keywords(request)

	if g.Scope.Excluded != "" {
		excluded := make(map[string]struct{})
		for _, word := range Keywords(g.Scope.Excluded) {
			excluded[word] = struct{}{}
		}
		for _, word := range requestWords {
			if _, hit := excluded[word]; hit {
				return Result{
					Aligned:    false,
					Confidence: s.ExclusionConfidence,
					Reason:     fmt.Sprintf("request matches excluded scope: %s", word),
				}
			}
		}
	}

	focus := g.FocusKeywords()
	if len(focus) == 0 {
		return Result{
			Aligned:    s.NeutralConfidence > s.AlignmentThreshold,
			Confidence: s.NeutralConfidence,
			Reason:     "goal defines no focus keywords",
		}
	}

	requestSet := make(map[string]struct{}, len(requestWords))
	for _, word := range requestWords {
		requestSet[word] = struct{}{}
	}

	var matches []string
	for _, word := range focus {
		if _, hit := requestSet[word]; hit {
			matches = append(matches, word)
		}
	}
	sort.Strings(matches)

	confidence := float64(len(matches)) / float64(len(focus))
	return Result{
		Aligned:          confidence > s.AlignmentThreshold,
		Confidence:       confidence,
		MatchingKeywords: matches,
		Reason:           fmt.Sprintf("keyword match: %d/%d (%.1f%%)", len(matches), len(focus), confidence*100),
	}
}
