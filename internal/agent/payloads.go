package agent

// Payload shapes for the envelopes the roles exchange. Consumers decode
// with Envelope.Unmarshal, so every field that crosses a role boundary is
// named here rather than in ad-hoc maps.

// StartupNote announces a role coming up or going down.
type StartupNote struct {
	Title     string `json:"title"`
	PID       int    `json:"pid"`
	Root      string `json:"root,omitempty"`
	Connected bool   `json:"connected,omitempty"`
}

// PromptNote records a human request the master accepted, with its
// alignment verdict attached.
type PromptNote struct {
	Prompt     string   `json:"prompt"`
	Goal       string   `json:"goal"`
	Aligned    bool     `json:"aligned"`
	Confidence float64  `json:"confidence"`
	Keywords   []string `json:"keywords,omitempty"`
	WorkingDir string   `json:"working_dir"`
}

// GoalUpdateNote records a change to the primary goal.
type GoalUpdateNote struct {
	NewGoal   string `json:"new_goal"`
	UpdatedBy string `json:"updated_by"`
}

// AnalysisNote carries the journeyman's read of a master prompt.
type AnalysisNote struct {
	Prompt          string   `json:"prompt"`
	FocusAreas      []string `json:"focus_areas"`
	Recommendations []string `json:"recommendations"`
}

// ChangeNote reports one observed file change under the project tree.
type ChangeNote struct {
	Path      string `json:"path"`
	Operation string `json:"operation"` // created or modified
}

// RuleNote announces a protocol rule the warden added.
type RuleNote struct {
	Type   string `json:"type"`
	Rule   string `json:"rule"`
	Text   string `json:"text"`
	Source string `json:"source,omitempty"` // role whose pattern earned the rule
	Count  int    `json:"count,omitempty"`  // sightings at promotion time
	Total  int    `json:"total"`            // rules on the books afterwards
}

// VerdictNote is the reeve's ruling on a protocol update.
type VerdictNote struct {
	Subject  string   `json:"subject"`
	Rule     string   `json:"rule,omitempty"`
	Approved bool     `json:"approved"`
	Problems []string `json:"problems,omitempty"`
}

// TrendNote summarizes the code changes the chronicler has witnessed.
type TrendNote struct {
	Changes  int            `json:"changes"`
	ByType   map[string]int `json:"by_type"`
	BySource map[string]int `json:"by_source"`
	Report   string         `json:"report,omitempty"` // insights file the summary landed in
}
