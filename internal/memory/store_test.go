package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weave/internal/storage"
)

func TestWriteReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := storage.NewMemoryEntryRepository()
	store, err := NewStore(repo, "agent1")
	require.NoError(t, err)

	require.NoError(t, store.Write(ctx, "greeting", "hello"))
	got, err := store.Read(ctx, "greeting", nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", got)

	require.NoError(t, store.Write(ctx, "config", map[string]any{"retries": 3}))
	got, err = store.Read(ctx, "config", nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"retries": float64(3)}, got)
}

func TestReadMissingReturnsDefault(t *testing.T) {
	ctx := context.Background()
	store, err := NewStore(storage.NewMemoryEntryRepository(), "agent1")
	require.NoError(t, err)

	got, err := store.Read(ctx, "absent", "fallback")
	require.NoError(t, err)
	assert.Equal(t, "fallback", got)
}

func TestDeleteThenReadDefault(t *testing.T) {
	ctx := context.Background()
	store, err := NewStore(storage.NewMemoryEntryRepository(), "agent1")
	require.NoError(t, err)

	require.NoError(t, store.Write(ctx, "k", 1))
	require.NoError(t, store.Delete(ctx, "k"))
	got, err := store.Read(ctx, "k", "gone")
	require.NoError(t, err)
	assert.Equal(t, "gone", got)

	// Deleting again is a no-op.
	require.NoError(t, store.Delete(ctx, "k"))
}

func TestScopesAreIsolated(t *testing.T) {
	ctx := context.Background()
	repo := storage.NewMemoryEntryRepository()

	agentScope, err := NewStore(repo, "a1")
	require.NoError(t, err)
	wfScope, err := NewStore(repo, "a1", WithWorkflow("wf1"))
	require.NoError(t, err)
	nodeScope, err := NewStore(repo, "a1", WithWorkflow("wf1"), WithNode("n1"))
	require.NoError(t, err)

	require.NoError(t, agentScope.Write(ctx, "k", "agent"))
	require.NoError(t, wfScope.Write(ctx, "k", "workflow"))
	require.NoError(t, nodeScope.Write(ctx, "k", "node"))

	for _, tc := range []struct {
		store *Store
		want  string
	}{
		{agentScope, "agent"},
		{wfScope, "workflow"},
		{nodeScope, "node"},
	} {
		got, err := tc.store.Read(ctx, "k", nil)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
	}
}

func TestListAndKeysFilterByScope(t *testing.T) {
	ctx := context.Background()
	repo := storage.NewMemoryEntryRepository()

	wfScope, err := NewStore(repo, "a1", WithWorkflow("wf1"))
	require.NoError(t, err)
	otherWf, err := NewStore(repo, "a1", WithWorkflow("wf2"))
	require.NoError(t, err)

	require.NoError(t, wfScope.Write(ctx, "alpha", 1))
	require.NoError(t, wfScope.Write(ctx, "alps", 2))
	require.NoError(t, wfScope.Write(ctx, "beta", 3))
	require.NoError(t, otherWf.Write(ctx, "alpha", 4))

	keys, err := wfScope.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "alps", "beta"}, keys)

	keys, err = wfScope.List(ctx, "alp")
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "alps"}, keys)
}

func TestClearRespectsScope(t *testing.T) {
	ctx := context.Background()
	repo := storage.NewMemoryEntryRepository()

	wf1, err := NewStore(repo, "a1", WithWorkflow("wf1"))
	require.NoError(t, err)
	wf2, err := NewStore(repo, "a1", WithWorkflow("wf2"))
	require.NoError(t, err)
	agent, err := NewStore(repo, "a1")
	require.NoError(t, err)

	require.NoError(t, wf1.Write(ctx, "k1", 1))
	require.NoError(t, wf1.Write(ctx, "k2", 2))
	require.NoError(t, wf2.Write(ctx, "k1", 3))
	require.NoError(t, agent.Write(ctx, "k1", 4))

	removed, err := wf1.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	// wf2 and the agent-level row survive a workflow-scoped clear.
	got, err := wf2.Read(ctx, "k1", nil)
	require.NoError(t, err)
	assert.Equal(t, float64(3), got)

	removed, err = agent.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
}

func TestNewStoreValidation(t *testing.T) {
	_, err := NewStore(nil, "a1")
	require.Error(t, err)
	_, err = NewStore(storage.NewMemoryEntryRepository(), "")
	require.Error(t, err)
	_, err = NewStore(storage.NewMemoryEntryRepository(), "a1", WithNode("n1"))
	require.Error(t, err)
}
