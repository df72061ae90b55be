// Package storage defines the persistence model and repository interfaces for
// executions, state snapshots, deployment leases, memory entries, and webhook
// idempotency. In-memory and postgres implementations live alongside; callers
// depend only on the interfaces.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound reports a missing row.
var ErrNotFound = errors.New("not found")

// ErrDuplicate reports a unique-key violation, e.g. a replayed webhook id.
var ErrDuplicate = errors.New("duplicate key")

// Execution statuses.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Execution is one workflow run.
type Execution struct {
	ID              string         `json:"id"`
	WorkflowName    string         `json:"workflow_name"`
	Status          string         `json:"status"`
	ConfigSnapshot  map[string]any `json:"config_snapshot,omitempty"`
	Inputs          map[string]any `json:"inputs,omitempty"`
	Outputs         map[string]any `json:"outputs,omitempty"`
	ErrorMessage    string         `json:"error_message,omitempty"`
	StartedAt       time.Time      `json:"started_at"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
	DurationSeconds float64        `json:"duration_seconds,omitempty"`
	TotalTokens     int            `json:"total_tokens,omitempty"`
	TotalCost       float64        `json:"total_cost,omitempty"`
	BottleneckInfo  map[string]any `json:"bottleneck_info,omitempty"`
}

// CompletionUpdate carries the terminal fields of an execution.
type CompletionUpdate struct {
	Status          string
	DurationSeconds float64
	TotalTokens     int
	TotalCost       float64
	Outputs         map[string]any
	ErrorMessage    string
	BottleneckInfo  map[string]any
}

// ExecutionRepository persists execution rows.
type ExecutionRepository interface {
	Add(ctx context.Context, exec *Execution) error
	Get(ctx context.Context, id string) (*Execution, error)
	ListByWorkflow(ctx context.Context, name string, limit int) ([]*Execution, error)
	ListAll(ctx context.Context, limit int) ([]*Execution, error)
	UpdateStatus(ctx context.Context, id, status string) error
	UpdateCompletion(ctx context.Context, id string, update CompletionUpdate) error
}

// StateSnapshot is an append-only copy of execution state after one node.
type StateSnapshot struct {
	ExecutionID string         `json:"execution_id"`
	NodeID      string         `json:"node_id"`
	StateData   map[string]any `json:"state_data"`
	CreatedAt   time.Time      `json:"created_at"`
}

// StateRepository persists per-node state snapshots.
type StateRepository interface {
	Save(ctx context.Context, executionID, nodeID string, stateData map[string]any) error
	GetLatest(ctx context.Context, executionID string) (*StateSnapshot, error)
	GetHistory(ctx context.Context, executionID string) ([]*StateSnapshot, error)
}

// Deployment is one worker's TTL-bounded lease.
type Deployment struct {
	DeploymentID   string         `json:"deployment_id"`
	DeploymentName string         `json:"deployment_name"`
	Host           string         `json:"host"`
	Port           int            `json:"port"`
	WorkflowName   string         `json:"workflow_name,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	TTLSeconds     int            `json:"ttl_seconds"`
	LastHeartbeat  time.Time      `json:"last_heartbeat"`
	RegisteredAt   time.Time      `json:"registered_at"`
}

// IsAlive reports whether the lease is still valid at the given instant.
func (d *Deployment) IsAlive(now time.Time) bool {
	return now.Before(d.LastHeartbeat.Add(time.Duration(d.TTLSeconds) * time.Second))
}

// DeploymentRepository persists deployment leases.
type DeploymentRepository interface {
	// Upsert inserts or replaces the lease by deployment id, refreshing its
	// heartbeat to now.
	Upsert(ctx context.Context, d *Deployment) error
	Get(ctx context.Context, id string) (*Deployment, error)
	ListAll(ctx context.Context, includeDead bool) ([]*Deployment, error)
	UpdateHeartbeat(ctx context.Context, id string) (time.Time, error)
	Delete(ctx context.Context, id string) error
	// DeleteExpired removes leases past their TTL and returns the count.
	DeleteExpired(ctx context.Context) (int, error)
	// QueryByMetadata returns alive deployments whose metadata matches every
	// filter (dotted keys, glob strings, list intersection).
	QueryByMetadata(ctx context.Context, filters map[string]any) ([]*Deployment, error)
	// GetActive keeps deployments heartbeated within the cutoff, independent
	// of their declared TTL.
	GetActive(ctx context.Context, cutoff time.Duration) ([]*Deployment, error)
}

// MemoryEntry is one namespaced key-value row.
type MemoryEntry struct {
	NamespaceKey string          `json:"namespace_key"`
	AgentID      string          `json:"agent_id"`
	WorkflowID   string          `json:"workflow_id,omitempty"`
	NodeID       string          `json:"node_id,omitempty"`
	UserKey      string          `json:"user_key"`
	Value        json.RawMessage `json:"value"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// MemoryRepository persists namespaced memory entries.
type MemoryRepository interface {
	Set(ctx context.Context, entry *MemoryEntry) error
	Get(ctx context.Context, namespaceKey string) (*MemoryEntry, error)
	Delete(ctx context.Context, namespaceKey string) error
	// List returns the agent's entries whose user key starts with prefix.
	List(ctx context.Context, agentID, prefix string) ([]*MemoryEntry, error)
	Clear(ctx context.Context, agentID string) (int, error)
	ClearByWorkflow(ctx context.Context, agentID, workflowID string) (int, error)
}

// WebhookEventRepository is the idempotency table.
type WebhookEventRepository interface {
	IsProcessed(ctx context.Context, webhookID string) (bool, error)
	// MarkProcessed records the id; a second call for the same id returns
	// ErrDuplicate.
	MarkProcessed(ctx context.Context, webhookID, provider string) error
}
