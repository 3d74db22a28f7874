package session

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/queryd/internal/memory"
	"github.com/fyrsmithlabs/queryd/internal/orchestrator"
	"github.com/fyrsmithlabs/queryd/internal/plan"
)

type fakeRunner struct {
	result      *orchestrator.Result
	lastContext string
	calls       int
}

func (f *fakeRunner) Run(ctx context.Context, question, conversationContext string) *orchestrator.Result {
	f.calls++
	f.lastContext = conversationContext
	res := *f.result
	res.Question = question
	return &res
}

type fakeRecaller struct {
	records []memory.Record
	err     error
}

func (f *fakeRecaller) Retrieve(ctx context.Context, query, sessionID string, limit int, threshold float32) ([]memory.Record, error) {
	return f.records, f.err
}

type fakeArchiver struct {
	archived []memory.Message
	sessions []string
}

func (f *fakeArchiver) ArchiveAsync(messages []memory.Message, sessionID string) {
	f.archived = append(f.archived, messages...)
	f.sessions = append(f.sessions, sessionID)
}

func successResult(rows []map[string]any) *orchestrator.Result {
	return &orchestrator.Result{
		Status:     orchestrator.StatusSuccess,
		FinalRows:  rows,
		Confidence: 0.9,
		Steps: []orchestrator.StepResult{
			{Index: 1, Backend: plan.BackendMySQL, Query: "SELECT serial FROM t_edge"},
		},
		Timing: map[string]float64{},
	}
}

func newTestManager(t *testing.T, runner Runner, recaller Recaller, archiver Archiver) *Manager {
	t.Helper()
	m, err := NewManager(newTestStore(t), runner, recaller, archiver, DefaultConfig(), zap.NewNop())
	require.NoError(t, err)
	return m
}

func TestHandleTurnNewSession(t *testing.T) {
	runner := &fakeRunner{result: successResult([]map[string]any{{"serial": "SN-1"}})}
	m := newTestManager(t, runner, nil, nil)

	sessionID, result, err := m.HandleTurn(context.Background(), "", "list devices", EntityHints{})
	require.NoError(t, err)
	assert.NotEmpty(t, sessionID)
	assert.Equal(t, orchestrator.StatusSuccess, result.Status)

	// The window now holds the question and the assistant summary.
	history, err := m.History(context.Background(), sessionID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, memory.RoleHuman, history[0].Role)
	assert.Equal(t, "list devices", history[0].Content)

	var summary map[string]any
	require.NoError(t, json.Unmarshal([]byte(history[1].Content), &summary))
	assert.Equal(t, "list devices", summary["question"])
	assert.Equal(t, float64(1), summary["result_count"])
}

func TestHandleTurnFollowUpSeesContext(t *testing.T) {
	runner := &fakeRunner{result: successResult([]map[string]any{{"serial": "SN-42", "id": 7}})}
	m := newTestManager(t, runner, nil, nil)

	ctx := context.Background()
	sessionID, _, err := m.HandleTurn(ctx, "", "find gateway gw-7", EntityHints{})
	require.NoError(t, err)

	_, _, err = m.HandleTurn(ctx, sessionID, "what is its cpu usage", EntityHints{})
	require.NoError(t, err)

	// The second turn's context carries the serial from the first.
	assert.Contains(t, runner.lastContext, "SN-42")
	assert.Contains(t, runner.lastContext, "find gateway gw-7")
}

func TestHandleTurnEntityHints(t *testing.T) {
	runner := &fakeRunner{result: successResult(nil)}
	runner.result.Status = orchestrator.StatusNoResult
	m := newTestManager(t, runner, nil, nil)

	_, _, err := m.HandleTurn(context.Background(), "", "show cpu", EntityHints{Serial: "SN-99", ClientID: "c-1"})
	require.NoError(t, err)

	assert.Contains(t, runner.lastContext, "SN-99")
	assert.Contains(t, runner.lastContext, "c-1")
}

func TestHandleTurnRecalledMemoriesInContext(t *testing.T) {
	runner := &fakeRunner{result: successResult(nil)}
	recaller := &fakeRecaller{records: []memory.Record{
		{Question: "how many devices offline", ResultSummary: "3 offline"},
	}}
	m := newTestManager(t, runner, recaller, nil)

	_, _, err := m.HandleTurn(context.Background(), "", "offline count again?", EntityHints{})
	require.NoError(t, err)

	assert.Contains(t, runner.lastContext, "how many devices offline")
	assert.Contains(t, runner.lastContext, "3 offline")
}

func TestHandleTurnRecallFailureDegrades(t *testing.T) {
	runner := &fakeRunner{result: successResult(nil)}
	recaller := &fakeRecaller{err: errors.New("qdrant down")}
	m := newTestManager(t, runner, recaller, nil)

	_, result, err := m.HandleTurn(context.Background(), "", "q", EntityHints{})
	require.NoError(t, err)
	assert.NotNil(t, result)
}

func TestHandleTurnClarificationLeavesWindowUntouched(t *testing.T) {
	runner := &fakeRunner{result: &orchestrator.Result{
		Status:                 orchestrator.StatusNeedsClarification,
		ClarificationQuestions: []string{"which device?"},
		Timing:                 map[string]float64{},
	}}
	m := newTestManager(t, runner, nil, nil)

	sessionID, result, err := m.HandleTurn(context.Background(), "", "show data", EntityHints{})
	require.NoError(t, err)
	assert.Equal(t, orchestrator.StatusNeedsClarification, result.Status)

	history, err := m.History(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestHandleClarificationResumesParkedQuestion(t *testing.T) {
	runner := &fakeRunner{result: &orchestrator.Result{
		Status:                 orchestrator.StatusNeedsClarification,
		ClarificationQuestions: []string{"which device?"},
		Timing:                 map[string]float64{},
	}}
	m := newTestManager(t, runner, nil, nil)

	ctx := context.Background()
	sessionID, _, err := m.HandleTurn(ctx, "", "show data", EntityHints{})
	require.NoError(t, err)

	runner.result = successResult([]map[string]any{{"id": 1}})
	resumedID, result, err := m.HandleClarification(ctx, sessionID, "device SN-1")
	require.NoError(t, err)
	assert.Equal(t, sessionID, resumedID)
	assert.Equal(t, orchestrator.StatusSuccess, result.Status)
	assert.Contains(t, result.Question, "show data")
	assert.Contains(t, result.Question, "Clarification: device SN-1")

	// The answered turn consumed the parked question.
	_, _, err = m.HandleClarification(ctx, sessionID, "again?")
	assert.ErrorContains(t, err, "no pending clarification")
}

func TestHandleClarificationWithoutPendingQuestion(t *testing.T) {
	runner := &fakeRunner{result: successResult(nil)}
	m := newTestManager(t, runner, nil, nil)

	_, _, err := m.HandleClarification(context.Background(), "", "answer")
	assert.Error(t, err)

	sessionID, _, err := m.HandleTurn(context.Background(), "", "q", EntityHints{})
	require.NoError(t, err)
	_, _, err = m.HandleClarification(context.Background(), sessionID, "answer")
	assert.ErrorContains(t, err, "no pending clarification")
}

func TestHandleTurnArchivesEvictedMessages(t *testing.T) {
	runner := &fakeRunner{result: successResult([]map[string]any{{"id": 1}})}
	archiver := &fakeArchiver{}

	cfg := DefaultConfig()
	cfg.Window = memory.WindowConfig{TrimThreshold: 4, KeepAfterTrim: 2}
	m, err := NewManager(newTestStore(t), runner, nil, archiver, cfg, zap.NewNop())
	require.NoError(t, err)

	ctx := context.Background()
	sessionID, _, err := m.HandleTurn(ctx, "", "q1", EntityHints{})
	require.NoError(t, err)
	_, _, err = m.HandleTurn(ctx, sessionID, "q2", EntityHints{})
	require.NoError(t, err)
	// Third turn pushes the window past the threshold.
	_, _, err = m.HandleTurn(ctx, sessionID, "q3", EntityHints{})
	require.NoError(t, err)

	require.NotEmpty(t, archiver.archived)
	assert.Equal(t, "q1", archiver.archived[0].Content)
	assert.Contains(t, archiver.sessions, sessionID)

	// The window stayed within bounds.
	history, err := m.History(ctx, sessionID)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(history), 4)
}

func TestHandleTurnRequiresQuestion(t *testing.T) {
	m := newTestManager(t, &fakeRunner{result: successResult(nil)}, nil, nil)

	_, _, err := m.HandleTurn(context.Background(), "", "", EntityHints{})
	assert.Error(t, err)
}
