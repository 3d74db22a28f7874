package session

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/queryd/internal/memory"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "sessions.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStoreLoadUnknownSession(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Load(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestStoreSaveAndLoad(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	messages := []memory.Message{
		memory.NewHuman("how many devices"),
		memory.NewAssistant(`{"result_count":3}`),
	}
	require.NoError(t, store.Save(ctx, "sess-1", messages))

	loaded, err := store.Load(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, memory.RoleHuman, loaded[0].Role)
	assert.Equal(t, "how many devices", loaded[0].Content)
	assert.Equal(t, `{"result_count":3}`, loaded[1].Content)
}

func TestStoreSaveOverwrites(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "sess-1", []memory.Message{memory.NewHuman("first")}))
	require.NoError(t, store.Save(ctx, "sess-1", []memory.Message{
		memory.NewHuman("first"),
		memory.NewAssistant("answer"),
	}))

	loaded, err := store.Load(ctx, "sess-1")
	require.NoError(t, err)
	assert.Len(t, loaded, 2)
}

func TestStoreDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "sess-1", []memory.Message{memory.NewHuman("q")}))
	require.NoError(t, store.Delete(ctx, "sess-1"))

	_, err := store.Load(ctx, "sess-1")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	// Deleting again is a no-op.
	assert.NoError(t, store.Delete(ctx, "sess-1"))
}

func TestStoreSessionsAreIndependent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "a", []memory.Message{memory.NewHuman("qa")}))
	require.NoError(t, store.Save(ctx, "b", []memory.Message{memory.NewHuman("qb")}))

	loaded, err := store.Load(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "qa", loaded[0].Content)
}

func TestStorePendingQuestion(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Unknown sessions have no pending question.
	pending, err := store.PendingQuestion(ctx, "sess-1")
	require.NoError(t, err)
	assert.Empty(t, pending)

	require.NoError(t, store.SetPendingQuestion(ctx, "sess-1", "show data"))
	pending, err = store.PendingQuestion(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "show data", pending)

	// Clearing and saving messages leave each other alone.
	require.NoError(t, store.Save(ctx, "sess-1", []memory.Message{memory.NewHuman("q")}))
	pending, err = store.PendingQuestion(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "show data", pending)

	require.NoError(t, store.SetPendingQuestion(ctx, "sess-1", ""))
	pending, err = store.PendingQuestion(ctx, "sess-1")
	require.NoError(t, err)
	assert.Empty(t, pending)

	loaded, err := store.Load(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "q", loaded[0].Content)
}
