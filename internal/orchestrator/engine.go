package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/queryd/internal/compress"
	"github.com/fyrsmithlabs/queryd/internal/plan"
	"github.com/fyrsmithlabs/queryd/internal/retrieval"
)

const (
	// DefaultMaxRetries bounds statement regeneration per step; a step
	// executes at most DefaultMaxRetries+1 times.
	DefaultMaxRetries = 2

	// DefaultLowConfidence is the floor below which the turn stops and
	// asks for clarification.
	DefaultLowConfidence = 0.5

	// DefaultWarnConfidence is the floor below which results carry a
	// warning.
	DefaultWarnConfidence = 0.8

	// errorTruncateLen bounds error text carried into results and
	// regeneration context.
	errorTruncateLen = 500
)

// Config holds engine tunables.
type Config struct {
	MaxRetries     int
	LowConfidence  float64
	WarnConfidence float64
	StepTimeout    time.Duration
	Compress       compress.Config
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     DefaultMaxRetries,
		LowConfidence:  DefaultLowConfidence,
		WarnConfidence: DefaultWarnConfidence,
		StepTimeout:    90 * time.Second,
		Compress:       compress.DefaultConfig(),
	}
}

// Engine orchestrates one query turn.
type Engine struct {
	planner    Planner
	generator  Generator
	retrievers map[plan.Backend]SchemaRetriever
	executors  map[plan.Backend]Executor
	config     Config
	logger     *zap.Logger
}

// NewEngine wires the collaborators. Every backend present in executors
// must have a matching retriever.
func NewEngine(planner Planner, generator Generator, retrievers map[plan.Backend]SchemaRetriever, executors map[plan.Backend]Executor, cfg Config, logger *zap.Logger) (*Engine, error) {
	if planner == nil {
		return nil, fmt.Errorf("planner is required")
	}
	if generator == nil {
		return nil, fmt.Errorf("generator is required")
	}
	if len(executors) == 0 {
		return nil, fmt.Errorf("at least one executor is required")
	}
	for backend := range executors {
		if _, ok := retrievers[backend]; !ok {
			return nil, fmt.Errorf("no schema retriever for backend %q", backend)
		}
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.LowConfidence <= 0 {
		cfg.LowConfidence = DefaultLowConfidence
	}
	if cfg.WarnConfidence <= 0 {
		cfg.WarnConfidence = DefaultWarnConfidence
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = 90 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Engine{
		planner:    planner,
		generator:  generator,
		retrievers: retrievers,
		executors:  executors,
		config:     cfg,
		logger:     logger.Named("engine"),
	}, nil
}

// Run executes one turn. conversationContext carries the session history
// summary and any recalled memories; it may be empty.
func (e *Engine) Run(ctx context.Context, question, conversationContext string) *Result {
	result := &Result{
		Question: question,
		Status:   StatusSuccess,
		Timing:   make(map[string]float64),
	}
	totalStart := time.Now()
	defer func() {
		result.Timing["total"] = seconds(time.Since(totalStart))
	}()

	// Planning: retrieve schema hints for the planner, then plan.
	planStart := time.Now()
	planCtx, cancel := e.bounded(ctx)
	p, err := e.planner.Plan(planCtx, question, e.planningSchema(ctx, question), conversationContext)
	cancel()
	result.Timing[stagePlanning] = seconds(time.Since(planStart))
	if err != nil {
		return fail(result, fmt.Errorf("planning failed: %w", err))
	}

	result.Plan = p
	result.Confidence = p.Confidence
	result.Assumptions = p.Assumptions

	// Confidence gate: too uncertain to execute.
	if p.Confidence < e.config.LowConfidence || p.NeedsClarification {
		result.Status = StatusNeedsClarification
		result.ClarificationQuestions = p.ClarificationQuestions
		e.logger.Info("turn needs clarification",
			zap.Float64("confidence", p.Confidence),
			zap.Strings("questions", p.ClarificationQuestions))
		return result
	}
	if p.Confidence < e.config.WarnConfidence {
		result.Warning = "low planning confidence, results may be inaccurate"
	}

	// Validation.
	if errs := plan.Validate(p); len(errs) > 0 {
		return fail(result, fmt.Errorf("plan validation failed: %s", plan.JoinErrors(errs)))
	}

	// Execution: each step retrieves schema, generates and runs one
	// statement. Steps are processed in plan order; stepContexts is
	// keyed by the plan's own step numbers for depends_on lookups.
	stepContexts := make(map[int]string)
	multiStep := len(p.Steps) > 1

	for pos, step := range p.Steps {
		last := pos == len(p.Steps)-1

		stepResult, rows, err := e.runStep(ctx, result, question, step, stepContexts, multiStep || pos > 0)
		if stepResult != nil {
			result.Steps = append(result.Steps, *stepResult)
		}
		if err != nil {
			return fail(result, err)
		}

		if !last && len(rows) == 0 {
			// An empty intermediate result starves every dependent
			// step; stop instead of generating queries from nothing.
			result.Status = StatusNoResult
			result.Error = fmt.Sprintf("intermediate step produced no rows: %s", step.Purpose)
			e.logger.Warn("empty intermediate result, stopping turn",
				zap.Int("step", step.Index),
				zap.String("purpose", step.Purpose))
			return result
		}

		stepContexts[step.Index] = compress.Rows(rows, e.config.Compress)
		if last {
			result.FinalRows = rows
		}
	}

	// Aggregation: the final step's rows are the answer.
	if len(result.FinalRows) == 0 {
		result.Status = StatusNoResult
	}
	return result
}

// runStep retrieves schema, generates a statement and executes it with
// bounded regeneration on retryable errors.
func (e *Engine) runStep(ctx context.Context, result *Result, question string, step plan.Step, stepContexts map[int]string, enrichQuery bool) (*StepResult, []map[string]any, error) {
	retriever, ok := e.retrievers[step.Backend]
	if !ok {
		return nil, nil, fmt.Errorf("no schema retriever for backend %q", step.Backend)
	}
	executor, ok := e.executors[step.Backend]
	if !ok {
		return nil, nil, fmt.Errorf("no executor for backend %q", step.Backend)
	}

	// Schema retrieval. Multi-step plans enrich the query with the
	// step purpose so each step retrieves its own tables.
	searchQuery := question
	if enrichQuery {
		searchQuery = question + " " + step.Purpose
	}
	ragStart := time.Now()
	ragCtx, cancel := e.bounded(ctx)
	retrieved, err := retriever.Retrieve(ragCtx, searchQuery)
	cancel()
	result.Timing[stageKey(stageRetrieving, step.Index)] = seconds(time.Since(ragStart))
	if err != nil {
		return nil, nil, fmt.Errorf("schema retrieval failed for step %d: %w", step.Index, err)
	}
	schema := retrieval.SchemaText(retrieved.Fused)

	stepContext := ""
	if step.DependsOn != nil {
		stepContext = stepContexts[*step.DependsOn]
	}

	stepResult := &StepResult{
		Index:   step.Index,
		Backend: step.Backend,
		Purpose: step.Purpose,
	}

	genContext := stepContext
	for attempt := 0; ; attempt++ {
		genStart := time.Now()
		genCtx, cancel := e.bounded(ctx)
		query, err := e.generator.GenerateQuery(genCtx, question, step.Purpose, step.Backend, schema, genContext)
		cancel()
		result.Timing[attemptKey(stageGenerating, step.Index, attempt)] = seconds(time.Since(genStart))
		if err != nil {
			return stepResult, nil, fmt.Errorf("query generation failed for step %d: %w", step.Index, err)
		}
		stepResult.Query = query
		stepResult.Retries = attempt

		execCtx, cancel := e.bounded(ctx)
		execStart := time.Now()
		rows, err := executor.Execute(execCtx, query)
		cancel()
		result.Timing[attemptKey(stageExecuting, step.Index, attempt)] = seconds(time.Since(execStart))
		if err == nil {
			stepResult.Rows = rows
			return stepResult, rows, nil
		}

		if !isRetryable(err) || attempt == e.config.MaxRetries {
			if attempt == e.config.MaxRetries && isRetryable(err) {
				return stepResult, nil, fmt.Errorf("step %d failed after %d retries: %s", step.Index, e.config.MaxRetries, truncateError(err))
			}
			return stepResult, nil, fmt.Errorf("step %d execution failed: %s", step.Index, truncateError(err))
		}

		e.logger.Warn("query failed, regenerating",
			zap.Int("step", step.Index),
			zap.Int("attempt", attempt+1),
			zap.String("query", query),
			zap.Error(err))

		// Feed the failure back so the next generation can fix it.
		genContext = fmt.Sprintf("%s\n\nThe previous statement failed:\n%s\nError: %s\nFix the statement.",
			stepContext, query, truncateError(err))
	}
}

// planningSchema gathers schema hints from every backend for the
// planner. Retrieval failures degrade to missing hints, never fail the
// turn.
func (e *Engine) planningSchema(ctx context.Context, question string) string {
	var parts []string
	for _, backend := range []plan.Backend{plan.BackendMySQL, plan.BackendInfluxDB} {
		retriever, ok := e.retrievers[backend]
		if !ok {
			continue
		}
		hintCtx, cancel := e.bounded(ctx)
		retrieved, err := retriever.Retrieve(hintCtx, question)
		cancel()
		if err != nil {
			e.logger.Warn("planning schema retrieval failed",
				zap.String("backend", string(backend)),
				zap.Error(err))
			continue
		}
		if len(retrieved.Fused) == 0 {
			continue
		}
		parts = append(parts, fmt.Sprintf("### %s\n%s", backend, retrieval.SchemaText(retrieved.Fused)))
	}
	if len(parts) == 0 {
		return ""
	}
	return joinParts(parts)
}

// bounded caps one external call at the configured step timeout.
func (e *Engine) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.config.StepTimeout)
}

func joinParts(parts []string) string {
	out := parts[0]
	for _, p := range parts[1:] {
		out += "\n\n" + p
	}
	return out
}

func fail(result *Result, err error) *Result {
	// no_result set by an earlier stage is preserved.
	if result.Status != StatusNoResult {
		result.Status = StatusError
	}
	result.Error = truncateError(err)
	return result
}

func truncateError(err error) string {
	msg := err.Error()
	if len(msg) > errorTruncateLen {
		msg = msg[:errorTruncateLen] + "..."
	}
	return msg
}

func stageKey(stage string, step int) string {
	return fmt.Sprintf("%s_step%d", stage, step)
}

func attemptKey(stage string, step, attempt int) string {
	if attempt == 0 {
		return stageKey(stage, step)
	}
	return fmt.Sprintf("%s_step%d_retry%d", stage, step, attempt)
}

func seconds(d time.Duration) float64 {
	return float64(int(d.Seconds()*100)) / 100
}
