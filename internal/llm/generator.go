package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/queryd/internal/plan"
)

const mysqlSystemPrompt = `You are a MySQL expert. Generate one accurate SQL query from the user's question and the provided schema.

Core tables: t_edge holds device records (id, name, serial, status, mac, client_id) and t_client holds customer records (id, auto_id, name, status, balance). Other tables join to devices through t_edge.client_id -> t_client.id.

Requirements:
1. Output exactly one SQL statement, no explanation.
2. Use only tables and columns that appear in the schema.
3. When the question refers to a device or customer by name, join through t_edge or t_client.
4. Never add a WHERE condition the question or context does not specify.
5. Use only the schema information the question actually needs.`

const influxqlSystemPrompt = `You are an InfluxQL expert. Generate one accurate InfluxQL query from the user's question and the provided measurement schema.

Hard limits of InfluxQL, never violate these:
1. No JOIN: a query reads exactly one measurement.
2. No subqueries: no IN (SELECT ...) or nested SELECT.
3. Tag conditions combine with AND only; field conditions may use OR.
4. Output exactly one statement, no explanation.

Syntax rules:
- String values use single quotes; measurement, tag and field names use double quotes.
- Aggregations: MEAN(), MAX(), MIN(), SUM(), COUNT(); interval grouping via GROUP BY time(5m).
- Use fill(none) to skip empty intervals.

Requirements:
1. Use absolute time ranges computed from the provided current UTC time, not now() arithmetic. Default to the last 3 hours when the question gives no range.
2. Device filtering: prefer a serial from the question, else a serial from the context; add no serial filter when the context has none or reports no result.
3. Use only measurements, tags and fields that appear in the schema.
4. Add no LIMIT and no ORDER BY time DESC unless the question asks for them.`

const mysqlUserTemplate = `## Schema
%s

## Question
%s

## Step purpose
%s

## Context from previous steps
%s`

const influxqlUserTemplate = `## Measurement schema
%s

## Current time (UTC)
%s

## Question
%s

## Step purpose
%s

## Context from previous steps
%s`

// Generator produces a single SQL or InfluxQL statement for one plan
// step.
type Generator struct {
	model  llms.Model
	logger *zap.Logger

	// now is swapped in tests to pin the InfluxQL time anchor.
	now func() time.Time
}

// NewGenerator creates a generator over the given model.
func NewGenerator(model llms.Model, logger *zap.Logger) (*Generator, error) {
	if model == nil {
		return nil, fmt.Errorf("%w: model is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{model: model, logger: logger.Named("generator"), now: time.Now}, nil
}

// GenerateQuery produces one statement for the step. schemaInfo is the
// retrieved schema text and stepContext the compressed result of the
// step this one depends on; stepContext may be empty.
func (g *Generator) GenerateQuery(ctx context.Context, question, purpose string, backend plan.Backend, schemaInfo, stepContext string) (string, error) {
	if !backend.Valid() {
		return "", fmt.Errorf("%w: unknown backend %q", ErrInvalidConfig, backend)
	}
	if stepContext == "" {
		stepContext = "(none)"
	}

	var system, human string
	if backend == plan.BackendMySQL {
		system = mysqlSystemPrompt
		human = fmt.Sprintf(mysqlUserTemplate, schemaInfo, question, purpose, stepContext)
	} else {
		currentUTC := g.now().UTC().Format("2006-01-02T15:04:05Z")
		system = influxqlSystemPrompt
		human = fmt.Sprintf(influxqlUserTemplate, schemaInfo, currentUTC, question, purpose, stepContext)
	}

	raw, err := generate(ctx, g.model, system, human, llms.WithTemperature(0))
	if err != nil {
		return "", fmt.Errorf("generating %s query: %w", backend, err)
	}

	query := Sanitize(raw)
	if query == "" {
		return "", fmt.Errorf("%w: no statement in model output", ErrEmptyResponse)
	}

	g.logger.Debug("generated query",
		zap.String("backend", string(backend)),
		zap.String("query", query))
	return query, nil
}
