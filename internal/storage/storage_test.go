package storage

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchMetadata(t *testing.T) {
	metadata := map[string]any{
		"env":  "prod",
		"tags": []any{"nlp", "vision"},
		"deploy": map[string]any{
			"region": "us-west-2",
			"tier":   2,
		},
	}

	cases := []struct {
		name    string
		filters map[string]any
		want    bool
	}{
		{"exact string", map[string]any{"env": "prod"}, true},
		{"exact mismatch", map[string]any{"env": "dev"}, false},
		{"dotted path", map[string]any{"deploy.region": "us-west-2"}, true},
		{"dotted miss", map[string]any{"deploy.zone": "a"}, false},
		{"glob match", map[string]any{"deploy.region": "us-*"}, true},
		{"glob mismatch", map[string]any{"deploy.region": "eu-*"}, false},
		{"scalar in list", map[string]any{"tags": "nlp"}, true},
		{"scalar not in list", map[string]any{"tags": "audio"}, false},
		{"list contains expected", map[string]any{"tags": []any{"nlp"}}, true},
		{"list intersection", map[string]any{"tags": []any{"audio", "vision"}}, true},
		{"list disjoint", map[string]any{"tags": []any{"audio"}}, false},
		{"numeric across types", map[string]any{"deploy.tier": 2.0}, true},
		{"conjunction", map[string]any{"env": "prod", "deploy.region": "us-*"}, true},
		{"conjunction one fails", map[string]any{"env": "prod", "deploy.region": "eu-*"}, false},
		{"empty filters", map[string]any{}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, MatchMetadata(metadata, tc.filters))
		})
	}
}

func TestExecutionRepositoryLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryExecutionRepository()

	exec := &Execution{
		ID:           "e1",
		WorkflowName: "summarize",
		Status:       StatusPending,
		Inputs:       map[string]any{"topic": "ai"},
		StartedAt:    time.Now(),
	}
	require.NoError(t, repo.Add(ctx, exec))
	require.NoError(t, repo.UpdateStatus(ctx, "e1", StatusRunning))

	require.NoError(t, repo.UpdateCompletion(ctx, "e1", CompletionUpdate{
		Status:          StatusCompleted,
		DurationSeconds: 1.5,
		TotalTokens:     42,
		Outputs:         map[string]any{"summary": "done"},
	}))

	got, err := repo.Get(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.NotNil(t, got.CompletedAt)
	assert.Equal(t, 42, got.TotalTokens)
	assert.Equal(t, "done", got.Outputs["summary"])

	_, err = repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, repo.UpdateStatus(ctx, "missing", StatusFailed), ErrNotFound)
}

func TestExecutionRepositoryListsNewestFirst(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryExecutionRepository()
	base := time.Now()
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, repo.Add(ctx, &Execution{
			ID:           id,
			WorkflowName: "wf",
			Status:       StatusPending,
			StartedAt:    base.Add(time.Duration(i) * time.Second),
		}))
	}

	out, err := repo.ListByWorkflow(ctx, "wf", 2)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "c", out[0].ID)
	assert.Equal(t, "b", out[1].ID)

	all, err := repo.ListAll(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestStateRepositoryHistoryAndLatest(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryStateRepository()

	require.NoError(t, repo.Save(ctx, "e1", "a", map[string]any{"step": 1}))
	require.NoError(t, repo.Save(ctx, "e1", "b", map[string]any{"step": 2}))

	latest, err := repo.GetLatest(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "b", latest.NodeID)

	history, err := repo.GetHistory(ctx, "e1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "a", history[0].NodeID)

	_, err = repo.GetLatest(ctx, "none")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeploymentRepositoryLeaseLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryDeploymentRepository()

	lease := &Deployment{
		DeploymentID:   "x",
		DeploymentName: "worker",
		Host:           "10.0.0.1",
		Port:           8000,
		TTLSeconds:     60,
		Metadata:       map[string]any{"env": "prod"},
	}
	require.NoError(t, repo.Upsert(ctx, lease))

	got, err := repo.Get(ctx, "x")
	require.NoError(t, err)
	registered := got.RegisteredAt
	assert.True(t, got.IsAlive(time.Now()))

	// Re-register replaces the lease fields but keeps the original
	// registration time.
	lease.Host = "10.0.0.2"
	require.NoError(t, repo.Upsert(ctx, lease))
	got, err = repo.Get(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2", got.Host)
	assert.Equal(t, registered, got.RegisteredAt)

	hb, err := repo.UpdateHeartbeat(ctx, "x")
	require.NoError(t, err)
	assert.False(t, hb.IsZero())

	require.NoError(t, repo.Delete(ctx, "x"))
	_, err = repo.Get(ctx, "x")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, "x"), ErrNotFound)
}

func TestDeploymentRepositoryTTLFiltering(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryDeploymentRepository()

	require.NoError(t, repo.Upsert(ctx, &Deployment{DeploymentID: "dead", TTLSeconds: 0}))
	require.NoError(t, repo.Upsert(ctx, &Deployment{DeploymentID: "live", TTLSeconds: 60}))

	alive, err := repo.ListAll(ctx, false)
	require.NoError(t, err)
	require.Len(t, alive, 1)
	assert.Equal(t, "live", alive[0].DeploymentID)

	all, err := repo.ListAll(ctx, true)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	removed, err := repo.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	_, err = repo.Get(ctx, "dead")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeploymentRepositoryQueryByMetadata(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryDeploymentRepository()

	require.NoError(t, repo.Upsert(ctx, &Deployment{
		DeploymentID: "a", TTLSeconds: 60,
		Metadata: map[string]any{"env": "prod", "region": "us-west-2"},
	}))
	require.NoError(t, repo.Upsert(ctx, &Deployment{
		DeploymentID: "b", TTLSeconds: 60,
		Metadata: map[string]any{"env": "dev", "region": "us-east-1"},
	}))
	require.NoError(t, repo.Upsert(ctx, &Deployment{
		DeploymentID: "expired", TTLSeconds: 0,
		Metadata: map[string]any{"env": "prod"},
	}))

	out, err := repo.QueryByMetadata(ctx, map[string]any{"env": "prod"})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "a", out[0].DeploymentID)

	out, err = repo.QueryByMetadata(ctx, map[string]any{"region": "us-*"})
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

func TestDeploymentRepositoryGetActiveIgnoresTTL(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryDeploymentRepository()

	// TTL 0 means the lease is dead for listing, but a fresh heartbeat still
	// counts as active against an explicit cutoff.
	require.NoError(t, repo.Upsert(ctx, &Deployment{DeploymentID: "x", TTLSeconds: 0}))

	active, err := repo.GetActive(ctx, 30*time.Second)
	require.NoError(t, err)
	require.Len(t, active, 1)

	active, err = repo.GetActive(ctx, -time.Second)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestMemoryEntryRepositoryScopes(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryEntryRepository()

	set := func(nsKey, agent, workflow, userKey string) {
		t.Helper()
		require.NoError(t, repo.Set(ctx, &MemoryEntry{
			NamespaceKey: nsKey,
			AgentID:      agent,
			WorkflowID:   workflow,
			UserKey:      userKey,
			Value:        json.RawMessage(`"v"`),
		}))
	}
	set("a1:wf1:*:k1", "a1", "wf1", "k1")
	set("a1:wf1:*:k2", "a1", "wf1", "k2")
	set("a1:wf2:*:k1", "a1", "wf2", "k1")
	set("a2:*:*:k1", "a2", "", "k1")

	entries, err := repo.List(ctx, "a1", "k")
	require.NoError(t, err)
	assert.Len(t, entries, 3)

	entries, err = repo.List(ctx, "a1", "k1")
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	removed, err := repo.ClearByWorkflow(ctx, "a1", "wf1")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	removed, err = repo.Clear(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	// The other agent's rows are untouched.
	_, err = repo.Get(ctx, "a2:*:*:k1")
	require.NoError(t, err)
}

func TestWebhookEventRepositoryIdempotency(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryWebhookEventRepository()

	seen, err := repo.IsProcessed(ctx, "w1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, repo.MarkProcessed(ctx, "w1", "generic"))
	seen, err = repo.IsProcessed(ctx, "w1")
	require.NoError(t, err)
	assert.True(t, seen)

	assert.ErrorIs(t, repo.MarkProcessed(ctx, "w1", "generic"), ErrDuplicate)
}
