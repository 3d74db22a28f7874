package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/queryd/internal/plan"
)

const plannerSystemPrompt = `You are a query planning assistant for an edge device management platform.
The platform stores device and customer master data in MySQL and device telemetry in InfluxDB.

Analyze the user's question and produce a JSON query plan with this exact shape:

{
  "analysis": "what the user is asking for",
  "strategy": "how the plan answers it",
  "confidence": 0.0,
  "assumptions": ["interpretation made on ambiguous input"],
  "needs_clarification": false,
  "clarification_questions": [],
  "steps": [
    {"step": 1, "database": "mysql", "purpose": "what this step retrieves", "depends_on": null}
  ]
}

Rules:
- "database" must be "mysql" or "influxdb". MySQL holds device and customer records; InfluxDB holds time-series metrics.
- Number steps consecutively. A step that needs a previous step's result sets "depends_on" to that step number.
- "confidence" is your certainty in [0, 1] that you understood the question. Below 0.5, set "needs_clarification" to true and ask concrete questions instead of guessing.
- Record every assumption you make in "assumptions".
- Prefer the fewest steps that answer the question. Look up device or customer identifiers in MySQL before querying metrics.
- Respond with the JSON object only, no surrounding text.`

const plannerUserTemplate = `## Relevant schema
%s

## Conversation context
%s

## Question
%s`

// Planner turns a natural language question into a structured query plan.
type Planner struct {
	model  llms.Model
	logger *zap.Logger
}

// NewPlanner creates a planner over the given model.
func NewPlanner(model llms.Model, logger *zap.Logger) (*Planner, error) {
	if model == nil {
		return nil, fmt.Errorf("%w: model is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{model: model, logger: logger.Named("planner")}, nil
}

// Plan generates a query plan for the question. schemaInfo carries the
// retrieved table descriptions and conversationContext the session
// history summary; either may be empty.
func (p *Planner) Plan(ctx context.Context, question, schemaInfo, conversationContext string) (*plan.Plan, error) {
	if question == "" {
		return nil, fmt.Errorf("%w: question is required", ErrInvalidConfig)
	}
	if schemaInfo == "" {
		schemaInfo = "(no schema information available)"
	}
	if conversationContext == "" {
		conversationContext = "(none)"
	}

	human := fmt.Sprintf(plannerUserTemplate, schemaInfo, conversationContext, question)

	raw, err := generate(ctx, p.model, plannerSystemPrompt, human,
		llms.WithTemperature(0),
		llms.WithJSONMode())
	if err != nil {
		return nil, fmt.Errorf("planning query: %w", err)
	}

	result, err := parsePlan(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing plan: %w", err)
	}

	p.logger.Debug("generated plan",
		zap.Float64("confidence", result.Confidence),
		zap.Int("steps", len(result.Steps)),
		zap.Bool("needs_clarification", result.NeedsClarification))
	return result, nil
}

// parsePlan decodes the model output, tolerating markdown fences and
// leading/trailing prose around the JSON object.
func parsePlan(raw string) (*plan.Plan, error) {
	cleaned := stripFences(raw)

	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in model output")
	}
	cleaned = cleaned[start : end+1]

	var result plan.Plan
	if err := json.Unmarshal([]byte(cleaned), &result); err != nil {
		return nil, fmt.Errorf("decoding plan JSON: %w", err)
	}
	return &result, nil
}
