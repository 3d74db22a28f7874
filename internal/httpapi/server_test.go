package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/queryd/internal/memory"
	"github.com/fyrsmithlabs/queryd/internal/orchestrator"
	"github.com/fyrsmithlabs/queryd/internal/plan"
	"github.com/fyrsmithlabs/queryd/internal/session"
	"github.com/fyrsmithlabs/queryd/internal/vectorstore"
)

type fakeTurns struct {
	result    *orchestrator.Result
	err       error
	history   []memory.Message
	historyErr error

	gotQuestion string
	gotHints    session.EntityHints
	gotAnswer   string
}

func (f *fakeTurns) HandleTurn(ctx context.Context, sessionID, question string, hints session.EntityHints) (string, *orchestrator.Result, error) {
	f.gotQuestion = question
	f.gotHints = hints
	if sessionID == "" {
		sessionID = "sess-new"
	}
	return sessionID, f.result, f.err
}

func (f *fakeTurns) HandleClarification(ctx context.Context, sessionID, answer string) (string, *orchestrator.Result, error) {
	f.gotAnswer = answer
	return sessionID, f.result, f.err
}

func (f *fakeTurns) History(ctx context.Context, sessionID string) ([]memory.Message, error) {
	return f.history, f.historyErr
}

func newTestServer(t *testing.T, turns TurnHandler) *Server {
	t.Helper()
	s, err := NewServer(turns, Config{}, zap.NewNop())
	require.NoError(t, err)
	return s
}

func doJSON(s *Server, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echoContentType, "application/json")
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

const echoContentType = "Content-Type"

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t, &fakeTurns{})

	rec := doJSON(s, http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestHandleQuerySuccess(t *testing.T) {
	turns := &fakeTurns{result: &orchestrator.Result{
		Status:     orchestrator.StatusSuccess,
		FinalRows:  []map[string]any{{"serial": "SN-1"}},
		Confidence: 0.9,
		Steps: []orchestrator.StepResult{
			{Index: 1, Backend: plan.BackendMySQL, Purpose: "list devices", Query: "SELECT serial FROM t_edge", Retries: 1},
		},
		Timing: map[string]float64{"total": 1.5},
	}}
	s := newTestServer(t, turns)

	rec := doJSON(s, http.MethodPost, "/api/v1/query",
		`{"question": "list devices", "serial": "SN-9"}`)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp QueryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "sess-new", resp.SessionID)
	assert.Equal(t, "success", resp.Status)
	require.Len(t, resp.Rows, 1)
	require.Len(t, resp.Steps, 1)
	assert.Equal(t, "SELECT serial FROM t_edge", resp.Steps[0].Query)
	assert.Equal(t, 1, resp.Steps[0].Retries)

	assert.Equal(t, "list devices", turns.gotQuestion)
	assert.Equal(t, "SN-9", turns.gotHints.Serial)
}

func TestHandleQueryMissingQuestion(t *testing.T) {
	s := newTestServer(t, &fakeTurns{})

	rec := doJSON(s, http.MethodPost, "/api/v1/query", `{"session_id": "x"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleQueryClarificationStatus(t *testing.T) {
	turns := &fakeTurns{result: &orchestrator.Result{
		Status:                 orchestrator.StatusNeedsClarification,
		Confidence:             0.3,
		ClarificationQuestions: []string{"which device?"},
	}}
	s := newTestServer(t, turns)

	rec := doJSON(s, http.MethodPost, "/api/v1/query", `{"question": "show data"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp QueryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "needs_clarification", resp.Status)
	assert.Equal(t, []string{"which device?"}, resp.ClarificationQuestions)
	assert.Empty(t, resp.Rows)
}

func TestHandleQueryInternalError(t *testing.T) {
	turns := &fakeTurns{err: fmt.Errorf("store unavailable")}
	s := newTestServer(t, turns)

	rec := doJSON(s, http.MethodPost, "/api/v1/query", `{"question": "q"}`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHandleClarify(t *testing.T) {
	turns := &fakeTurns{result: &orchestrator.Result{
		Status:    orchestrator.StatusSuccess,
		FinalRows: []map[string]any{{"id": 1}},
	}}
	s := newTestServer(t, turns)

	rec := doJSON(s, http.MethodPost, "/api/v1/clarify",
		`{"session_id": "sess-1", "answer": "device SN-1"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "device SN-1", turns.gotAnswer)

	var resp QueryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "sess-1", resp.SessionID)
}

func TestHandleClarifyMissingFields(t *testing.T) {
	s := newTestServer(t, &fakeTurns{})

	rec := doJSON(s, http.MethodPost, "/api/v1/clarify", `{"answer": "a"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(s, http.MethodPost, "/api/v1/clarify", `{"session_id": "sess-1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleClarifyNoPendingClarification(t *testing.T) {
	turns := &fakeTurns{err: fmt.Errorf("%w for session sess-1", session.ErrNoPendingClarification)}
	s := newTestServer(t, turns)

	rec := doJSON(s, http.MethodPost, "/api/v1/clarify", `{"session_id": "sess-1", "answer": "a"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandleHistory(t *testing.T) {
	turns := &fakeTurns{history: []memory.Message{memory.NewHuman("q1")}}
	s := newTestServer(t, turns)

	rec := doJSON(s, http.MethodGet, "/api/v1/sessions/sess-1/history", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "q1")
}

func TestHandleHistoryNotFound(t *testing.T) {
	turns := &fakeTurns{historyErr: fmt.Errorf("%w: sess-x", session.ErrSessionNotFound)}
	s := newTestServer(t, turns)

	rec := doJSON(s, http.MethodGet, "/api/v1/sessions/sess-x/history", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type fakeStats struct {
	info *vectorstore.CollectionInfo
	err  error
}

func (f *fakeStats) Stats(ctx context.Context) (*vectorstore.CollectionInfo, error) {
	return f.info, f.err
}

func TestMemoryStatsEndpoint(t *testing.T) {
	s := newTestServer(t, &fakeTurns{})
	s.RegisterMemoryStats(&fakeStats{info: &vectorstore.CollectionInfo{
		Name:       "conversation_memory",
		PointCount: 42,
	}})

	rec := doJSON(s, http.MethodGet, "/api/v1/memory/stats", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"point_count":42`)
}

func TestMemoryStatsEndpointError(t *testing.T) {
	s := newTestServer(t, &fakeTurns{})
	s.RegisterMemoryStats(&fakeStats{err: fmt.Errorf("collection missing")})

	rec := doJSON(s, http.MethodGet, "/api/v1/memory/stats", "")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	turns := &fakeTurns{result: &orchestrator.Result{
		Status:    orchestrator.StatusSuccess,
		FinalRows: []map[string]any{{"id": 1}},
	}}
	s := newTestServer(t, turns)

	// One successful turn feeds the counters.
	rec := doJSON(s, http.MethodPost, "/api/v1/query", `{"question": "q"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `queryd_turns_total{status="success"} 1`)
	assert.Contains(t, rec.Body.String(), "queryd_turn_duration_seconds")
}
