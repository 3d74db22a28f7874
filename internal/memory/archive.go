package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/queryd/internal/vectorstore"
)

const (
	// DefaultRetrieveLimit caps how many past conversations a recall
	// returns.
	DefaultRetrieveLimit = 3

	// DefaultScoreThreshold filters out weakly similar memories.
	DefaultScoreThreshold = 0.5

	// archiveTimeout bounds a background archival run.
	archiveTimeout = 30 * time.Second
)

// Record is one archived question/answer pair.
type Record struct {
	ID            string   `json:"id"`
	SessionID     string   `json:"session_id"`
	Question      string   `json:"question"`
	SQLQueries    []string `json:"sql_queries"`
	ResultSummary string   `json:"result_summary"`
	Timestamp     string   `json:"timestamp"`
	Score         float32  `json:"score,omitempty"`
}

// assistantPayload is the subset of the assistant summary message the
// archive cares about.
type assistantPayload struct {
	SQLQueries    []string `json:"sql_queries"`
	ResultSummary string   `json:"result_summary"`
}

// Archiver persists evicted conversation pairs to the vector store and
// retrieves them by question similarity.
type Archiver struct {
	store      vectorstore.Store
	collection string
	vectorSize uint64
	logger     *zap.Logger

	// onFailure is invoked when a background archive run fails. Used
	// to feed the archive failure counter.
	onFailure func()
}

// NewArchiver creates an archiver over the given collection. The
// collection is created on first use if missing.
func NewArchiver(store vectorstore.Store, collection string, vectorSize uint64, logger *zap.Logger) (*Archiver, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", vectorstore.ErrInvalidConfig)
	}
	if err := vectorstore.ValidateCollectionName(collection); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archiver{
		store:      store,
		collection: collection,
		vectorSize: vectorSize,
		logger:     logger.Named("memory"),
	}, nil
}

// OnFailure registers a callback invoked when a background archive run
// fails.
func (a *Archiver) OnFailure(fn func()) {
	a.onFailure = fn
}

// Archive stores the human/assistant pairs found in messages. Unpaired
// messages are skipped. Returns the number of pairs archived.
func (a *Archiver) Archive(ctx context.Context, messages []Message, sessionID string) (int, error) {
	pairs := extractPairs(messages)
	if len(pairs) == 0 {
		return 0, nil
	}

	if err := a.ensureCollection(ctx); err != nil {
		return 0, err
	}

	docs := make([]vectorstore.Document, 0, len(pairs))
	for _, p := range pairs {
		var payload assistantPayload
		if err := json.Unmarshal([]byte(p.answer), &payload); err != nil {
			payload = assistantPayload{ResultSummary: p.answer}
		}

		queries, err := json.Marshal(payload.SQLQueries)
		if err != nil {
			queries = []byte("[]")
		}

		docs = append(docs, vectorstore.Document{
			ID:      uuid.New().String(),
			Content: p.question,
			Metadata: map[string]any{
				"session_id":     sessionID,
				"question":       p.question,
				"sql_queries":    string(queries),
				"result_summary": payload.ResultSummary,
				"timestamp":      time.Now().UTC().Format(time.RFC3339),
			},
		})
	}

	if _, err := a.store.Upsert(ctx, a.collection, docs); err != nil {
		return 0, fmt.Errorf("archiving conversation pairs: %w", err)
	}

	a.logger.Info("archived conversation pairs",
		zap.String("session_id", sessionID),
		zap.Int("pairs", len(docs)))
	return len(docs), nil
}

// ArchiveAsync archives in the background. Failures are logged and
// counted, never surfaced to the caller.
func (a *Archiver) ArchiveAsync(messages []Message, sessionID string) {
	if len(messages) == 0 {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
		defer cancel()
		if _, err := a.Archive(ctx, messages, sessionID); err != nil {
			a.logger.Error("background archive failed",
				zap.String("session_id", sessionID),
				zap.Error(err))
			if a.onFailure != nil {
				a.onFailure()
			}
		}
	}()
}

// Retrieve returns past conversations similar to the query, best first.
// A non-empty sessionID restricts recall to that session. Hits below
// threshold are dropped.
func (a *Archiver) Retrieve(ctx context.Context, query, sessionID string, limit int, threshold float32) ([]Record, error) {
	if limit <= 0 {
		limit = DefaultRetrieveLimit
	}

	var filters map[string]any
	if sessionID != "" {
		filters = map[string]any{"session_id": sessionID}
	}

	results, err := a.store.Search(ctx, a.collection, query, limit, filters)
	if err != nil {
		return nil, fmt.Errorf("retrieving memories: %w", err)
	}

	records := make([]Record, 0, len(results))
	for _, res := range results {
		if res.Score < threshold {
			continue
		}
		rec := Record{
			ID:            res.ID,
			SessionID:     metaString(res.Metadata, "session_id"),
			Question:      metaString(res.Metadata, "question"),
			ResultSummary: metaString(res.Metadata, "result_summary"),
			Timestamp:     metaString(res.Metadata, "timestamp"),
			Score:         res.Score,
		}
		if rec.Question == "" {
			rec.Question = res.Content
		}
		if raw := metaString(res.Metadata, "sql_queries"); raw != "" {
			_ = json.Unmarshal([]byte(raw), &rec.SQLQueries)
		}
		records = append(records, rec)
	}
	return records, nil
}

// Stats returns the archived point count.
func (a *Archiver) Stats(ctx context.Context) (*vectorstore.CollectionInfo, error) {
	return a.store.CollectionInfo(ctx, a.collection)
}

func (a *Archiver) ensureCollection(ctx context.Context) error {
	exists, err := a.store.CollectionExists(ctx, a.collection)
	if err != nil {
		return fmt.Errorf("checking memory collection: %w", err)
	}
	if exists {
		return nil
	}
	if err := a.store.CreateCollection(ctx, a.collection, a.vectorSize); err != nil {
		return fmt.Errorf("creating memory collection: %w", err)
	}
	return nil
}

type pair struct {
	question string
	answer   string
}

// extractPairs walks the messages and pairs each human message with the
// assistant message immediately following it.
func extractPairs(messages []Message) []pair {
	var pairs []pair
	for i := 0; i < len(messages); {
		if messages[i].Role != RoleHuman {
			i++
			continue
		}
		if i+1 < len(messages) && messages[i+1].Role == RoleAssistant {
			pairs = append(pairs, pair{question: messages[i].Content, answer: messages[i+1].Content})
			i += 2
		} else {
			i++
		}
	}
	return pairs
}

func metaString(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
