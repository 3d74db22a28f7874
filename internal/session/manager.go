package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/queryd/internal/compress"
	"github.com/fyrsmithlabs/queryd/internal/memory"
	"github.com/fyrsmithlabs/queryd/internal/orchestrator"
)

// ErrNoPendingClarification is returned when an answer arrives for a
// session with no clarification-paused turn.
var ErrNoPendingClarification = errors.New("no pending clarification")

// Runner executes one query turn.
type Runner interface {
	Run(ctx context.Context, question, conversationContext string) *orchestrator.Result
}

// Recaller retrieves similar past conversations.
type Recaller interface {
	Retrieve(ctx context.Context, query, sessionID string, limit int, threshold float32) ([]memory.Record, error)
}

// Archiver persists evicted window messages in the background.
type Archiver interface {
	ArchiveAsync(messages []memory.Message, sessionID string)
}

// Config holds session manager tunables.
type Config struct {
	Window          memory.WindowConfig
	MemoryLimit     int
	MemoryThreshold float32
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MemoryLimit:     memory.DefaultRetrieveLimit,
		MemoryThreshold: memory.DefaultScoreThreshold,
	}
}

// Manager runs turns against the engine with per-session conversation
// state. Turns within one session are serialized; different sessions run
// concurrently.
type Manager struct {
	store    *Store
	engine   Runner
	recaller Recaller
	archiver Archiver
	config   Config
	logger   *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager wires the session layer. recaller and archiver may be nil
// to run without long-term memory.
func NewManager(store *Store, engine Runner, recaller Recaller, archiver Archiver, cfg Config, logger *zap.Logger) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if cfg.MemoryLimit <= 0 {
		cfg.MemoryLimit = memory.DefaultRetrieveLimit
	}
	if cfg.MemoryThreshold <= 0 {
		cfg.MemoryThreshold = memory.DefaultScoreThreshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Manager{
		store:    store,
		engine:   engine,
		recaller: recaller,
		archiver: archiver,
		config:   cfg,
		logger:   logger.Named("session"),
		locks:    make(map[string]*sync.Mutex),
	}, nil
}

// HandleTurn runs one turn. An empty sessionID starts a new session; the
// returned id identifies it for follow-up turns.
func (m *Manager) HandleTurn(ctx context.Context, sessionID, question string, hints EntityHints) (string, *orchestrator.Result, error) {
	if question == "" {
		return "", nil, fmt.Errorf("question is required")
	}
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	lock := m.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	messages, err := m.store.Load(ctx, sessionID)
	if err != nil && !errors.Is(err, ErrSessionNotFound) {
		return sessionID, nil, err
	}

	records := m.recall(ctx, question, sessionID)
	conversationContext := buildContext(messages, records, hints)

	result := m.engine.Run(ctx, question, conversationContext)

	// Clarification and error turns leave the window untouched: there
	// is no answer worth remembering yet.
	if result.Status == orchestrator.StatusSuccess || result.Status == orchestrator.StatusNoResult {
		if err := m.recordTurn(ctx, sessionID, messages, question, result); err != nil {
			m.logger.Error("failed to persist turn",
				zap.String("session_id", sessionID),
				zap.Error(err))
		}
	}

	// A clarification request parks the question so the answer alone can
	// resume it next turn; any other outcome clears a stale one.
	pending := ""
	if result.Status == orchestrator.StatusNeedsClarification {
		pending = question
	}
	if err := m.store.SetPendingQuestion(ctx, sessionID, pending); err != nil {
		m.logger.Error("failed to persist pending question",
			zap.String("session_id", sessionID),
			zap.Error(err))
	}

	return sessionID, result, nil
}

// HandleClarification resumes a clarification-paused turn: the parked
// question and the user's answer fold into one fresh turn.
func (m *Manager) HandleClarification(ctx context.Context, sessionID, answer string) (string, *orchestrator.Result, error) {
	if sessionID == "" {
		return "", nil, fmt.Errorf("session id is required")
	}
	if answer == "" {
		return sessionID, nil, fmt.Errorf("answer is required")
	}

	question, err := m.store.PendingQuestion(ctx, sessionID)
	if err != nil {
		return sessionID, nil, err
	}
	if question == "" {
		return sessionID, nil, fmt.Errorf("%w for session %s", ErrNoPendingClarification, sessionID)
	}

	combined := fmt.Sprintf("%s\nClarification: %s", question, answer)
	return m.HandleTurn(ctx, sessionID, combined, EntityHints{})
}

// History returns the session's current window.
func (m *Manager) History(ctx context.Context, sessionID string) ([]memory.Message, error) {
	return m.store.Load(ctx, sessionID)
}

// recordTurn appends the question/answer pair to the window, archives
// whatever the trim evicts, and saves the window.
func (m *Manager) recordTurn(ctx context.Context, sessionID string, messages []memory.Message, question string, result *orchestrator.Result) error {
	window := memory.NewWindow(m.config.Window)
	window.Restore(messages)

	var evicted []memory.Message
	evicted = append(evicted, window.Append(memory.NewHuman(question))...)
	evicted = append(evicted, window.Append(memory.NewAssistant(m.summarize(question, result)))...)

	if len(evicted) > 0 && m.archiver != nil {
		m.archiver.ArchiveAsync(evicted, sessionID)
	}

	return m.store.Save(ctx, sessionID, window.Messages())
}

// summarize builds the compact assistant message stored in the window:
// enough for follow-up turns, small enough to keep twenty of.
func (m *Manager) summarize(question string, result *orchestrator.Result) string {
	queries := make([]string, 0, len(result.Steps))
	for _, step := range result.Steps {
		queries = append(queries, step.Query)
	}

	summary := map[string]any{
		"question":       question,
		"databases_used": result.DatabasesUsed(),
		"result_count":   len(result.FinalRows),
		"result_sample":  compress.KeyFields(result.FinalRows, 5),
		"sql_queries":    queries,
	}
	raw, err := json.Marshal(summary)
	if err != nil {
		return fmt.Sprintf(`{"question":%q,"result_count":%d}`, question, len(result.FinalRows))
	}
	return string(raw)
}

func (m *Manager) recall(ctx context.Context, question, sessionID string) []memory.Record {
	if m.recaller == nil {
		return nil
	}
	records, err := m.recaller.Retrieve(ctx, question, sessionID, m.config.MemoryLimit, m.config.MemoryThreshold)
	if err != nil {
		// Recall is best effort; the turn proceeds without it.
		m.logger.Warn("memory recall failed",
			zap.String("session_id", sessionID),
			zap.Error(err))
		return nil
	}
	return records
}

func (m *Manager) sessionLock(sessionID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[sessionID] = lock
	}
	return lock
}
