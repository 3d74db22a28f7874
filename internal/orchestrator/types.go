// Package orchestrator drives one query turn through its stages: plan,
// validate, then per step retrieve schema, generate a query, execute it,
// and finally aggregate the last step's rows into the turn result.
package orchestrator

import (
	"context"

	"github.com/fyrsmithlabs/queryd/internal/plan"
	"github.com/fyrsmithlabs/queryd/internal/retrieval"
)

// Status is the terminal outcome of a turn.
type Status string

const (
	// StatusSuccess means the final step produced rows.
	StatusSuccess Status = "success"

	// StatusNoResult means a step produced zero rows; for intermediate
	// steps this is a hard stop.
	StatusNoResult Status = "no_result"

	// StatusError means a stage failed.
	StatusError Status = "error"

	// StatusNeedsClarification means the planner was not confident
	// enough to execute and the user must answer its questions first.
	StatusNeedsClarification Status = "needs_clarification"
)

// Stage names mark where time was spent; they key the timing map.
const (
	stagePlanning   = "planning"
	stageRetrieving = "retrieve"
	stageGenerating = "generate"
	stageExecuting  = "execute"
)

// Planner produces a query plan from a question.
type Planner interface {
	Plan(ctx context.Context, question, schemaInfo, conversationContext string) (*plan.Plan, error)
}

// Generator produces a single statement for one plan step.
type Generator interface {
	GenerateQuery(ctx context.Context, question, purpose string, backend plan.Backend, schemaInfo, stepContext string) (string, error)
}

// SchemaRetriever returns schema descriptions relevant to a query.
type SchemaRetriever interface {
	Retrieve(ctx context.Context, query string) (*retrieval.Result, error)
}

// Executor runs one statement against a backend.
type Executor interface {
	Execute(ctx context.Context, query string) ([]map[string]any, error)
}

// StepResult captures one executed plan step.
type StepResult struct {
	Index   int             `json:"step"`
	Backend plan.Backend    `json:"database"`
	Purpose string          `json:"purpose"`
	Query   string          `json:"query"`
	Rows    []map[string]any `json:"rows"`
	Retries int             `json:"retries"`
}

// Result is the outcome of one turn.
type Result struct {
	Question string     `json:"question"`
	Status   Status     `json:"status"`
	Plan     *plan.Plan `json:"plan,omitempty"`

	Steps     []StepResult     `json:"steps,omitempty"`
	FinalRows []map[string]any `json:"final_rows"`

	Error   string `json:"error,omitempty"`
	Warning string `json:"warning,omitempty"`

	Confidence             float64  `json:"confidence"`
	Assumptions            []string `json:"assumptions,omitempty"`
	ClarificationQuestions []string `json:"clarification_questions,omitempty"`

	// Timing holds elapsed seconds per stage, keyed by stage name and
	// step, e.g. "execute_step1". Observational only.
	Timing map[string]float64 `json:"timing"`
}

// DatabasesUsed lists the distinct backends the executed steps touched,
// in first-use order.
func (r *Result) DatabasesUsed() []string {
	seen := make(map[plan.Backend]bool)
	var used []string
	for _, s := range r.Steps {
		if !seen[s.Backend] {
			seen[s.Backend] = true
			used = append(used, string(s.Backend))
		}
	}
	return used
}
