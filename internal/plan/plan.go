// Package plan defines the multi-step query plan model and its structural
// validation. Plans are produced by the planner collaborator once per turn
// and are immutable after validation.
package plan

// Backend identifies a query execution target.
type Backend string

const (
	// BackendMySQL targets the relational store.
	BackendMySQL Backend = "mysql"
	// BackendInfluxDB targets the time-series store.
	BackendInfluxDB Backend = "influxdb"
)

// Valid reports whether b is one of the known backends.
func (b Backend) Valid() bool {
	return b == BackendMySQL || b == BackendInfluxDB
}

// Step is one planned query operation.
type Step struct {
	// Index is the step's position in the plan. Plans number steps either
	// from 0 or from 1; all steps in one plan use the same scheme.
	Index int `json:"step"`

	// Backend is the execution target for this step.
	Backend Backend `json:"database"`

	// Purpose describes what this step retrieves, in natural language.
	Purpose string `json:"purpose"`

	// DependsOn references an earlier step whose compressed result feeds
	// this step's generation context. Nil when the step is independent.
	DependsOn *int `json:"depends_on,omitempty"`
}

// Plan is an ordered list of steps plus the planner's self-assessment.
type Plan struct {
	Analysis   string  `json:"analysis,omitempty"`
	Strategy   string  `json:"strategy,omitempty"`
	Confidence float64 `json:"confidence"`

	// Assumptions lists interpretations the planner made on ambiguous input.
	Assumptions []string `json:"assumptions,omitempty"`

	// NeedsClarification requests a user round-trip before execution.
	NeedsClarification     bool     `json:"needs_clarification,omitempty"`
	ClarificationQuestions []string `json:"clarification_questions,omitempty"`

	Steps []Step `json:"steps"`
}
