package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/queryd/internal/vectorstore"
)

// fakeStore records upserts and serves canned search results.
type fakeStore struct {
	exists     bool
	created    []string
	upserted   []vectorstore.Document
	upsertErr  error
	results    []vectorstore.SearchResult
	searchErr  error
	gotFilters map[string]any
}

func (f *fakeStore) Upsert(ctx context.Context, collection string, docs []vectorstore.Document) ([]string, error) {
	if f.upsertErr != nil {
		return nil, f.upsertErr
	}
	f.upserted = append(f.upserted, docs...)
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	return ids, nil
}

func (f *fakeStore) Search(ctx context.Context, collection, query string, k int, filters map[string]any) ([]vectorstore.SearchResult, error) {
	f.gotFilters = filters
	return f.results, f.searchErr
}

func (f *fakeStore) CreateCollection(ctx context.Context, collection string, vectorSize uint64) error {
	f.created = append(f.created, collection)
	f.exists = true
	return nil
}

func (f *fakeStore) CollectionExists(ctx context.Context, collection string) (bool, error) {
	return f.exists, nil
}

func (f *fakeStore) CollectionInfo(ctx context.Context, collection string) (*vectorstore.CollectionInfo, error) {
	return &vectorstore.CollectionInfo{Name: collection, PointCount: uint64(len(f.upserted))}, nil
}

func (f *fakeStore) Close() error { return nil }

func newTestArchiver(t *testing.T, store vectorstore.Store) *Archiver {
	t.Helper()
	a, err := NewArchiver(store, "conversation_memory", 1536, zap.NewNop())
	require.NoError(t, err)
	return a
}

func TestExtractPairs(t *testing.T) {
	messages := []Message{
		NewAssistant("orphan answer"),
		NewHuman("q1"),
		NewAssistant("a1"),
		NewHuman("unanswered"),
		NewHuman("q2"),
		NewAssistant("a2"),
	}

	pairs := extractPairs(messages)

	require.Len(t, pairs, 2)
	assert.Equal(t, "q1", pairs[0].question)
	assert.Equal(t, "a1", pairs[0].answer)
	assert.Equal(t, "q2", pairs[1].question)
}

func TestArchiveStoresPairs(t *testing.T) {
	store := &fakeStore{}
	a := newTestArchiver(t, store)

	messages := []Message{
		NewHuman("how many devices are offline"),
		NewAssistant(`{"sql_queries":["SELECT COUNT(*) FROM devices"],"result_summary":"3 offline"}`),
	}

	count, err := a.Archive(context.Background(), messages, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// Missing collection is created on first archive.
	assert.Equal(t, []string{"conversation_memory"}, store.created)

	require.Len(t, store.upserted, 1)
	doc := store.upserted[0]
	assert.NotEmpty(t, doc.ID)
	assert.Equal(t, "how many devices are offline", doc.Content)
	assert.Equal(t, "sess-1", doc.Metadata["session_id"])
	assert.Equal(t, "3 offline", doc.Metadata["result_summary"])
	assert.Contains(t, doc.Metadata["sql_queries"], "SELECT COUNT(*)")
}

func TestArchiveNonJSONAnswer(t *testing.T) {
	store := &fakeStore{exists: true}
	a := newTestArchiver(t, store)

	messages := []Message{
		NewHuman("q"),
		NewAssistant("plain text answer"),
	}

	count, err := a.Archive(context.Background(), messages, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, "plain text answer", store.upserted[0].Metadata["result_summary"])
}

func TestArchiveNoPairs(t *testing.T) {
	store := &fakeStore{}
	a := newTestArchiver(t, store)

	count, err := a.Archive(context.Background(), []Message{NewHuman("lonely")}, "sess-1")
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Empty(t, store.upserted)
}

func TestRetrieveFiltersByScoreAndSession(t *testing.T) {
	store := &fakeStore{
		exists: true,
		results: []vectorstore.SearchResult{
			{
				ID:    "m1",
				Score: 0.9,
				Metadata: map[string]any{
					"session_id":     "sess-1",
					"question":       "how many devices",
					"result_summary": "42 devices",
					"sql_queries":    `["SELECT COUNT(*) FROM devices"]`,
				},
			},
			{ID: "m2", Score: 0.3, Metadata: map[string]any{"question": "weak match"}},
		},
	}
	a := newTestArchiver(t, store)

	records, err := a.Retrieve(context.Background(), "device count", "sess-1", 3, 0.5)
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"session_id": "sess-1"}, store.gotFilters)
	require.Len(t, records, 1)
	assert.Equal(t, "how many devices", records[0].Question)
	assert.Equal(t, "42 devices", records[0].ResultSummary)
	assert.Equal(t, []string{"SELECT COUNT(*) FROM devices"}, records[0].SQLQueries)
	assert.InDelta(t, 0.9, float64(records[0].Score), 1e-6)
}

func TestRetrieveWithoutSessionFilter(t *testing.T) {
	store := &fakeStore{exists: true}
	a := newTestArchiver(t, store)

	_, err := a.Retrieve(context.Background(), "q", "", 3, 0.5)
	require.NoError(t, err)
	assert.Nil(t, store.gotFilters)
}

func TestArchiveAsyncReportsFailure(t *testing.T) {
	store := &fakeStore{exists: true, upsertErr: errors.New("qdrant down")}
	a := newTestArchiver(t, store)

	failed := make(chan struct{}, 1)
	a.OnFailure(func() { failed <- struct{}{} })

	a.ArchiveAsync([]Message{NewHuman("q"), NewAssistant("a")}, "sess-1")

	select {
	case <-failed:
	case <-time.After(2 * time.Second):
		t.Fatal("expected archive failure callback")
	}
}
