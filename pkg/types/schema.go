package types

// ValidationResult contains the result of validating a single document.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// SchemaDrift reports whether a replayed body still fits the schema inferred
// from the captured one.
type SchemaDrift struct {
	ReplayID   string   `json:"replay_id"`
	Comparable bool     `json:"comparable"`
	Reason     string   `json:"reason,omitempty"` // Set when Comparable is false
	Valid      bool     `json:"valid"`
	Errors     []string `json:"errors,omitempty"`
	Schema     any      `json:"schema,omitempty"`
}
