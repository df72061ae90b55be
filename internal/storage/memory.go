package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// In-memory repositories back tests and the CLI's no-database mode. Each type
// guards its map with its own mutex; they share nothing.

// MemoryExecutionRepository is the in-memory ExecutionRepository.
type MemoryExecutionRepository struct {
	mu   sync.RWMutex
	rows map[string]*Execution
}

// NewMemoryExecutionRepository builds an empty execution repository.
func NewMemoryExecutionRepository() *MemoryExecutionRepository {
	return &MemoryExecutionRepository{rows: make(map[string]*Execution)}
}

var _ ExecutionRepository = (*MemoryExecutionRepository)(nil)

// Add inserts an execution row.
func (r *MemoryExecutionRepository) Add(_ context.Context, exec *Execution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *exec
	r.rows[exec.ID] = &cp
	return nil
}

// Get returns an execution by id.
func (r *MemoryExecutionRepository) Get(_ context.Context, id string) (*Execution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exec, ok := r.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *exec
	return &cp, nil
}

// ListByWorkflow returns up to limit executions of one workflow, newest first.
func (r *MemoryExecutionRepository) ListByWorkflow(_ context.Context, name string, limit int) ([]*Execution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.list(func(e *Execution) bool { return e.WorkflowName == name }, limit), nil
}

// ListAll returns up to limit executions, newest first.
func (r *MemoryExecutionRepository) ListAll(_ context.Context, limit int) ([]*Execution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.list(func(*Execution) bool { return true }, limit), nil
}

func (r *MemoryExecutionRepository) list(keep func(*Execution) bool, limit int) []*Execution {
	var out []*Execution
	for _, e := range r.rows {
		if keep(e) {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// UpdateStatus transitions an execution's status.
func (r *MemoryExecutionRepository) UpdateStatus(_ context.Context, id, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	exec, ok := r.rows[id]
	if !ok {
		return ErrNotFound
	}
	exec.Status = status
	return nil
}

// UpdateCompletion records an execution's terminal fields.
func (r *MemoryExecutionRepository) UpdateCompletion(_ context.Context, id string, update CompletionUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	exec, ok := r.rows[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now()
	exec.Status = update.Status
	exec.CompletedAt = &now
	exec.DurationSeconds = update.DurationSeconds
	exec.TotalTokens = update.TotalTokens
	exec.TotalCost = update.TotalCost
	exec.Outputs = update.Outputs
	exec.ErrorMessage = update.ErrorMessage
	exec.BottleneckInfo = update.BottleneckInfo
	return nil
}

// MemoryStateRepository is the in-memory StateRepository.
type MemoryStateRepository struct {
	mu   sync.RWMutex
	rows map[string][]*StateSnapshot
}

// NewMemoryStateRepository builds an empty snapshot repository.
func NewMemoryStateRepository() *MemoryStateRepository {
	return &MemoryStateRepository{rows: make(map[string][]*StateSnapshot)}
}

var _ StateRepository = (*MemoryStateRepository)(nil)

// Save appends a state snapshot.
func (r *MemoryStateRepository) Save(_ context.Context, executionID, nodeID string, stateData map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[executionID] = append(r.rows[executionID], &StateSnapshot{
		ExecutionID: executionID,
		NodeID:      nodeID,
		StateData:   stateData,
		CreatedAt:   time.Now(),
	})
	return nil
}

// GetLatest returns the most recent snapshot of an execution.
func (r *MemoryStateRepository) GetLatest(_ context.Context, executionID string) (*StateSnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	history := r.rows[executionID]
	if len(history) == 0 {
		return nil, ErrNotFound
	}
	return history[len(history)-1], nil
}

// GetHistory returns every snapshot of an execution in insertion order.
func (r *MemoryStateRepository) GetHistory(_ context.Context, executionID string) ([]*StateSnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*StateSnapshot(nil), r.rows[executionID]...), nil
}

// MemoryDeploymentRepository is the in-memory DeploymentRepository.
type MemoryDeploymentRepository struct {
	mu   sync.RWMutex
	rows map[string]*Deployment
}

// NewMemoryDeploymentRepository builds an empty lease table.
func NewMemoryDeploymentRepository() *MemoryDeploymentRepository {
	return &MemoryDeploymentRepository{rows: make(map[string]*Deployment)}
}

var _ DeploymentRepository = (*MemoryDeploymentRepository)(nil)

// Upsert inserts or replaces a lease, refreshing its heartbeat.
func (r *MemoryDeploymentRepository) Upsert(_ context.Context, d *Deployment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	cp := *d
	cp.LastHeartbeat = now
	if existing, ok := r.rows[d.DeploymentID]; ok {
		cp.RegisteredAt = existing.RegisteredAt
	} else {
		cp.RegisteredAt = now
	}
	r.rows[d.DeploymentID] = &cp
	return nil
}

// Get returns a lease by deployment id.
func (r *MemoryDeploymentRepository) Get(_ context.Context, id string) (*Deployment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

// ListAll returns leases, optionally filtering out expired ones.
func (r *MemoryDeploymentRepository) ListAll(_ context.Context, includeDead bool) ([]*Deployment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	now := time.Now()
	var out []*Deployment
	for _, d := range r.rows {
		if !includeDead && !d.IsAlive(now) {
			continue
		}
		cp := *d
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeploymentID < out[j].DeploymentID })
	return out, nil
}

// UpdateHeartbeat refreshes a lease and returns the new heartbeat time.
func (r *MemoryDeploymentRepository) UpdateHeartbeat(_ context.Context, id string) (time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.rows[id]
	if !ok {
		return time.Time{}, ErrNotFound
	}
	d.LastHeartbeat = time.Now()
	return d.LastHeartbeat, nil
}

// Delete removes a lease.
func (r *MemoryDeploymentRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[id]; !ok {
		return ErrNotFound
	}
	delete(r.rows, id)
	return nil
}

// DeleteExpired removes expired leases and returns the count.
func (r *MemoryDeploymentRepository) DeleteExpired(_ context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	count := 0
	for id, d := range r.rows {
		if !d.IsAlive(now) {
			delete(r.rows, id)
			count++
		}
	}
	return count, nil
}

// QueryByMetadata returns alive leases matching every filter.
func (r *MemoryDeploymentRepository) QueryByMetadata(ctx context.Context, filters map[string]any) ([]*Deployment, error) {
	alive, err := r.ListAll(ctx, false)
	if err != nil {
		return nil, err
	}
	var out []*Deployment
	for _, d := range alive {
		if MatchMetadata(d.Metadata, filters) {
			out = append(out, d)
		}
	}
	return out, nil
}

// GetActive returns leases heartbeated within the cutoff.
func (r *MemoryDeploymentRepository) GetActive(_ context.Context, cutoff time.Duration) ([]*Deployment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	now := time.Now()
	var out []*Deployment
	for _, d := range r.rows {
		if now.Sub(d.LastHeartbeat) <= cutoff {
			cp := *d
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeploymentID < out[j].DeploymentID })
	return out, nil
}

// MemoryEntryRepository is the in-memory MemoryRepository.
type MemoryEntryRepository struct {
	mu   sync.RWMutex
	rows map[string]*MemoryEntry
}

// NewMemoryEntryRepository builds an empty memory table.
func NewMemoryEntryRepository() *MemoryEntryRepository {
	return &MemoryEntryRepository{rows: make(map[string]*MemoryEntry)}
}

var _ MemoryRepository = (*MemoryEntryRepository)(nil)

// Set inserts or updates an entry by namespace key.
func (r *MemoryEntryRepository) Set(_ context.Context, entry *MemoryEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	cp := *entry
	cp.UpdatedAt = now
	if existing, ok := r.rows[entry.NamespaceKey]; ok {
		cp.CreatedAt = existing.CreatedAt
	} else {
		cp.CreatedAt = now
	}
	r.rows[entry.NamespaceKey] = &cp
	return nil
}

// Get returns an entry by namespace key.
func (r *MemoryEntryRepository) Get(_ context.Context, namespaceKey string) (*MemoryEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.rows[namespaceKey]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *entry
	return &cp, nil
}

// Delete removes an entry.
func (r *MemoryEntryRepository) Delete(_ context.Context, namespaceKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[namespaceKey]; !ok {
		return ErrNotFound
	}
	delete(r.rows, namespaceKey)
	return nil
}

// List returns an agent's entries whose user key starts with prefix.
func (r *MemoryEntryRepository) List(_ context.Context, agentID, prefix string) ([]*MemoryEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*MemoryEntry
	for _, entry := range r.rows {
		if entry.AgentID == agentID && strings.HasPrefix(entry.UserKey, prefix) {
			cp := *entry
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NamespaceKey < out[j].NamespaceKey })
	return out, nil
}

// Clear removes every entry of an agent.
func (r *MemoryEntryRepository) Clear(_ context.Context, agentID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for key, entry := range r.rows {
		if entry.AgentID == agentID {
			delete(r.rows, key)
			count++
		}
	}
	return count, nil
}

// ClearByWorkflow removes an agent's entries scoped to one workflow.
func (r *MemoryEntryRepository) ClearByWorkflow(_ context.Context, agentID, workflowID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for key, entry := range r.rows {
		if entry.AgentID == agentID && entry.WorkflowID == workflowID {
			delete(r.rows, key)
			count++
		}
	}
	return count, nil
}

// MemoryWebhookEventRepository is the in-memory WebhookEventRepository.
type MemoryWebhookEventRepository struct {
	mu   sync.Mutex
	rows map[string]string
}

// NewMemoryWebhookEventRepository builds an empty idempotency table.
func NewMemoryWebhookEventRepository() *MemoryWebhookEventRepository {
	return &MemoryWebhookEventRepository{rows: make(map[string]string)}
}

var _ WebhookEventRepository = (*MemoryWebhookEventRepository)(nil)

// IsProcessed reports whether a webhook id was already seen.
func (r *MemoryWebhookEventRepository) IsProcessed(_ context.Context, webhookID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.rows[webhookID]
	return ok, nil
}

// MarkProcessed records a webhook id, failing on replay.
func (r *MemoryWebhookEventRepository) MarkProcessed(_ context.Context, webhookID, provider string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[webhookID]; ok {
		return ErrDuplicate
	}
	r.rows[webhookID] = provider
	return nil
}
