package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// uniqueViolation is the postgres error code for unique-key conflicts.
const uniqueViolation = "23505"

// NewPool connects a pgx pool to the given database URL.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database url required")
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// EnsureSchema creates every table the repositories use.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS workflow_executions (
    id TEXT PRIMARY KEY,
    workflow_name TEXT NOT NULL,
    status TEXT NOT NULL,
    config_snapshot JSONB,
    inputs JSONB,
    outputs JSONB,
    error_message TEXT NOT NULL DEFAULT '',
    started_at TIMESTAMPTZ NOT NULL,
    completed_at TIMESTAMPTZ,
    duration_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
    total_tokens INTEGER NOT NULL DEFAULT 0,
    total_cost DOUBLE PRECISION NOT NULL DEFAULT 0,
    bottleneck_info JSONB
);`,
		`CREATE INDEX IF NOT EXISTS idx_workflow_executions_name ON workflow_executions (workflow_name, started_at DESC);`,
		`CREATE TABLE IF NOT EXISTS workflow_execution_states (
    id BIGSERIAL PRIMARY KEY,
    execution_id TEXT NOT NULL,
    node_id TEXT NOT NULL,
    state_data JSONB NOT NULL,
    created_at TIMESTAMPTZ NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_workflow_execution_states_exec ON workflow_execution_states (execution_id, id);`,
		`CREATE TABLE IF NOT EXISTS deployments (
    deployment_id TEXT PRIMARY KEY,
    deployment_name TEXT NOT NULL,
    host TEXT NOT NULL,
    port INTEGER NOT NULL,
    workflow_name TEXT NOT NULL DEFAULT '',
    metadata JSONB,
    ttl_seconds INTEGER NOT NULL,
    last_heartbeat TIMESTAMPTZ NOT NULL,
    registered_at TIMESTAMPTZ NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS memory_entries (
    namespace_key TEXT PRIMARY KEY,
    agent_id TEXT NOT NULL,
    workflow_id TEXT NOT NULL DEFAULT '',
    node_id TEXT NOT NULL DEFAULT '',
    user_key TEXT NOT NULL,
    value JSONB NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_memory_entries_agent ON memory_entries (agent_id, user_key);`,
		`CREATE TABLE IF NOT EXISTS webhook_events (
    webhook_id TEXT PRIMARY KEY,
    provider TEXT NOT NULL,
    processed_at TIMESTAMPTZ NOT NULL
);`,
	}
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func marshalJSON(v map[string]any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func unmarshalJSON(data []byte) map[string]any {
	if len(data) == 0 {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// PostgresExecutionRepository persists executions in postgres.
type PostgresExecutionRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresExecutionRepository wraps the pool.
func NewPostgresExecutionRepository(pool *pgxpool.Pool) *PostgresExecutionRepository {
	return &PostgresExecutionRepository{pool: pool}
}

var _ ExecutionRepository = (*PostgresExecutionRepository)(nil)

// Add inserts an execution row.
func (r *PostgresExecutionRepository) Add(ctx context.Context, exec *Execution) error {
	cfg, err := marshalJSON(exec.ConfigSnapshot)
	if err != nil {
		return fmt.Errorf("marshal config snapshot: %w", err)
	}
	inputs, err := marshalJSON(exec.Inputs)
	if err != nil {
		return fmt.Errorf("marshal inputs: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
INSERT INTO workflow_executions (id, workflow_name, status, config_snapshot, inputs, started_at)
VALUES ($1, $2, $3, $4, $5, $6)`,
		exec.ID, exec.WorkflowName, exec.Status, cfg, inputs, exec.StartedAt)
	if err != nil {
		return fmt.Errorf("add execution: %w", err)
	}
	return nil
}

const executionColumns = `id, workflow_name, status, config_snapshot, inputs, outputs,
	error_message, started_at, completed_at, duration_seconds, total_tokens, total_cost, bottleneck_info`

func scanExecution(row pgx.Row) (*Execution, error) {
	var exec Execution
	var cfg, inputs, outputs, bottleneck []byte
	err := row.Scan(&exec.ID, &exec.WorkflowName, &exec.Status, &cfg, &inputs, &outputs,
		&exec.ErrorMessage, &exec.StartedAt, &exec.CompletedAt,
		&exec.DurationSeconds, &exec.TotalTokens, &exec.TotalCost, &bottleneck)
	if err != nil {
		return nil, err
	}
	exec.ConfigSnapshot = unmarshalJSON(cfg)
	exec.Inputs = unmarshalJSON(inputs)
	exec.Outputs = unmarshalJSON(outputs)
	exec.BottleneckInfo = unmarshalJSON(bottleneck)
	return &exec, nil
}

// Get returns an execution by id.
func (r *PostgresExecutionRepository) Get(ctx context.Context, id string) (*Execution, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+executionColumns+` FROM workflow_executions WHERE id = $1`, id)
	exec, err := scanExecution(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get execution: %w", err)
	}
	return exec, nil
}

// ListByWorkflow returns up to limit executions of one workflow, newest first.
func (r *PostgresExecutionRepository) ListByWorkflow(ctx context.Context, name string, limit int) ([]*Execution, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+executionColumns+` FROM workflow_executions
WHERE workflow_name = $1 ORDER BY started_at DESC LIMIT $2`, name, nullableLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	return collectExecutions(rows)
}

// ListAll returns up to limit executions, newest first.
func (r *PostgresExecutionRepository) ListAll(ctx context.Context, limit int) ([]*Execution, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+executionColumns+` FROM workflow_executions
ORDER BY started_at DESC LIMIT $1`, nullableLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	return collectExecutions(rows)
}

func collectExecutions(rows pgx.Rows) ([]*Execution, error) {
	defer rows.Close()
	var out []*Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		out = append(out, exec)
	}
	return out, rows.Err()
}

func nullableLimit(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}

// UpdateStatus transitions an execution's status.
func (r *PostgresExecutionRepository) UpdateStatus(ctx context.Context, id, status string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE workflow_executions SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateCompletion records an execution's terminal fields.
func (r *PostgresExecutionRepository) UpdateCompletion(ctx context.Context, id string, update CompletionUpdate) error {
	outputs, err := marshalJSON(update.Outputs)
	if err != nil {
		return fmt.Errorf("marshal outputs: %w", err)
	}
	bottleneck, err := marshalJSON(update.BottleneckInfo)
	if err != nil {
		return fmt.Errorf("marshal bottleneck info: %w", err)
	}
	tag, err := r.pool.Exec(ctx, `
UPDATE workflow_executions
SET status = $2, completed_at = $3, duration_seconds = $4, total_tokens = $5,
    total_cost = $6, outputs = $7, error_message = $8, bottleneck_info = $9
WHERE id = $1`,
		id, update.Status, time.Now(), update.DurationSeconds, update.TotalTokens,
		update.TotalCost, outputs, update.ErrorMessage, bottleneck)
	if err != nil {
		return fmt.Errorf("update completion: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// PostgresStateRepository persists state snapshots in postgres.
type PostgresStateRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresStateRepository wraps the pool.
func NewPostgresStateRepository(pool *pgxpool.Pool) *PostgresStateRepository {
	return &PostgresStateRepository{pool: pool}
}

var _ StateRepository = (*PostgresStateRepository)(nil)

// Save appends a state snapshot.
func (r *PostgresStateRepository) Save(ctx context.Context, executionID, nodeID string, stateData map[string]any) error {
	data, err := marshalJSON(stateData)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
INSERT INTO workflow_execution_states (execution_id, node_id, state_data, created_at)
VALUES ($1, $2, $3, $4)`, executionID, nodeID, data, time.Now())
	if err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

// GetLatest returns the most recent snapshot of an execution.
func (r *PostgresStateRepository) GetLatest(ctx context.Context, executionID string) (*StateSnapshot, error) {
	row := r.pool.QueryRow(ctx, `
SELECT execution_id, node_id, state_data, created_at
FROM workflow_execution_states WHERE execution_id = $1
ORDER BY id DESC LIMIT 1`, executionID)
	snap, err := scanSnapshot(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get latest state: %w", err)
	}
	return snap, nil
}

// GetHistory returns every snapshot of an execution, oldest first.
func (r *PostgresStateRepository) GetHistory(ctx context.Context, executionID string) ([]*StateSnapshot, error) {
	rows, err := r.pool.Query(ctx, `
SELECT execution_id, node_id, state_data, created_at
FROM workflow_execution_states WHERE execution_id = $1 ORDER BY id`, executionID)
	if err != nil {
		return nil, fmt.Errorf("get state history: %w", err)
	}
	defer rows.Close()
	var out []*StateSnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan state: %w", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

func scanSnapshot(row pgx.Row) (*StateSnapshot, error) {
	var snap StateSnapshot
	var data []byte
	if err := row.Scan(&snap.ExecutionID, &snap.NodeID, &data, &snap.CreatedAt); err != nil {
		return nil, err
	}
	snap.StateData = unmarshalJSON(data)
	return &snap, nil
}

// PostgresDeploymentRepository persists deployment leases in postgres.
type PostgresDeploymentRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresDeploymentRepository wraps the pool.
func NewPostgresDeploymentRepository(pool *pgxpool.Pool) *PostgresDeploymentRepository {
	return &PostgresDeploymentRepository{pool: pool}
}

var _ DeploymentRepository = (*PostgresDeploymentRepository)(nil)

// Upsert inserts or replaces the lease by deployment id. The row-level upsert
// makes concurrent registers for the same id linearizable.
func (r *PostgresDeploymentRepository) Upsert(ctx context.Context, d *Deployment) error {
	metadata, err := marshalJSON(d.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	now := time.Now()
	_, err = r.pool.Exec(ctx, `
INSERT INTO deployments (deployment_id, deployment_name, host, port, workflow_name, metadata, ttl_seconds, last_heartbeat, registered_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
ON CONFLICT (deployment_id)
DO UPDATE SET deployment_name = EXCLUDED.deployment_name,
              host = EXCLUDED.host,
              port = EXCLUDED.port,
              workflow_name = EXCLUDED.workflow_name,
              metadata = EXCLUDED.metadata,
              ttl_seconds = EXCLUDED.ttl_seconds,
              last_heartbeat = EXCLUDED.last_heartbeat`,
		d.DeploymentID, d.DeploymentName, d.Host, d.Port, d.WorkflowName, metadata, d.TTLSeconds, now)
	if err != nil {
		return fmt.Errorf("upsert deployment: %w", err)
	}
	return nil
}

const deploymentColumns = `deployment_id, deployment_name, host, port, workflow_name, metadata, ttl_seconds, last_heartbeat, registered_at`

func scanDeployment(row pgx.Row) (*Deployment, error) {
	var d Deployment
	var metadata []byte
	err := row.Scan(&d.DeploymentID, &d.DeploymentName, &d.Host, &d.Port,
		&d.WorkflowName, &metadata, &d.TTLSeconds, &d.LastHeartbeat, &d.RegisteredAt)
	if err != nil {
		return nil, err
	}
	d.Metadata = unmarshalJSON(metadata)
	return &d, nil
}

// Get returns a lease by deployment id.
func (r *PostgresDeploymentRepository) Get(ctx context.Context, id string) (*Deployment, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+deploymentColumns+` FROM deployments WHERE deployment_id = $1`, id)
	d, err := scanDeployment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get deployment: %w", err)
	}
	return d, nil
}

// ListAll returns leases, optionally filtering out expired ones.
func (r *PostgresDeploymentRepository) ListAll(ctx context.Context, includeDead bool) ([]*Deployment, error) {
	query := `SELECT ` + deploymentColumns + ` FROM deployments ORDER BY deployment_id`
	if !includeDead {
		query = `SELECT ` + deploymentColumns + ` FROM deployments
WHERE NOW() < last_heartbeat + ttl_seconds * INTERVAL '1 second' ORDER BY deployment_id`
	}
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list deployments: %w", err)
	}
	return collectDeployments(rows)
}

func collectDeployments(rows pgx.Rows) ([]*Deployment, error) {
	defer rows.Close()
	var out []*Deployment
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan deployment: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// UpdateHeartbeat refreshes a lease and returns the new heartbeat time.
func (r *PostgresDeploymentRepository) UpdateHeartbeat(ctx context.Context, id string) (time.Time, error) {
	var heartbeat time.Time
	err := r.pool.QueryRow(ctx, `
UPDATE deployments SET last_heartbeat = NOW()
WHERE deployment_id = $1 RETURNING last_heartbeat`, id).Scan(&heartbeat)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, ErrNotFound
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("update heartbeat: %w", err)
	}
	return heartbeat, nil
}

// Delete removes a lease.
func (r *PostgresDeploymentRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM deployments WHERE deployment_id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete deployment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteExpired removes expired leases and returns the count.
func (r *PostgresDeploymentRepository) DeleteExpired(ctx context.Context) (int, error) {
	tag, err := r.pool.Exec(ctx, `
DELETE FROM deployments WHERE NOW() >= last_heartbeat + ttl_seconds * INTERVAL '1 second'`)
	if err != nil {
		return 0, fmt.Errorf("delete expired: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// QueryByMetadata returns alive leases matching every filter. Filters are
// applied in-process so dotted paths, globs, and list semantics stay in one
// implementation shared with the in-memory repository.
func (r *PostgresDeploymentRepository) QueryByMetadata(ctx context.Context, filters map[string]any) ([]*Deployment, error) {
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
func (r *PostgresDeploymentRepository) GetActive(ctx context.Context, cutoff time.Duration) ([]*Deployment, error) {
	rows, err := r.pool.Query(ctx, `
SELECT `+deploymentColumns+` FROM deployments
WHERE NOW() - last_heartbeat <= $1 * INTERVAL '1 second' ORDER BY deployment_id`,
		cutoff.Seconds())
	if err != nil {
		return nil, fmt.Errorf("get active: %w", err)
	}
	return collectDeployments(rows)
}

// PostgresMemoryRepository persists memory entries in postgres.
type PostgresMemoryRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresMemoryRepository wraps the pool.
func NewPostgresMemoryRepository(pool *pgxpool.Pool) *PostgresMemoryRepository {
	return &PostgresMemoryRepository{pool: pool}
}

var _ MemoryRepository = (*PostgresMemoryRepository)(nil)

// Set inserts or updates an entry by namespace key.
func (r *PostgresMemoryRepository) Set(ctx context.Context, entry *MemoryEntry) error {
	_, err := r.pool.Exec(ctx, `
INSERT INTO memory_entries (namespace_key, agent_id, workflow_id, node_id, user_key, value, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
ON CONFLICT (namespace_key)
DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		entry.NamespaceKey, entry.AgentID, entry.WorkflowID, entry.NodeID, entry.UserKey, []byte(entry.Value))
	if err != nil {
		return fmt.Errorf("set memory entry: %w", err)
	}
	return nil
}

const memoryColumns = `namespace_key, agent_id, workflow_id, node_id, user_key, value, created_at, updated_at`

func scanMemoryEntry(row pgx.Row) (*MemoryEntry, error) {
	var entry MemoryEntry
	var value []byte
	err := row.Scan(&entry.NamespaceKey, &entry.AgentID, &entry.WorkflowID, &entry.NodeID,
		&entry.UserKey, &value, &entry.CreatedAt, &entry.UpdatedAt)
	if err != nil {
		return nil, err
	}
	entry.Value = value
	return &entry, nil
}

// Get returns an entry by namespace key.
func (r *PostgresMemoryRepository) Get(ctx context.Context, namespaceKey string) (*MemoryEntry, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+memoryColumns+` FROM memory_entries WHERE namespace_key = $1`, namespaceKey)
	entry, err := scanMemoryEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get memory entry: %w", err)
	}
	return entry, nil
}

// Delete removes an entry.
func (r *PostgresMemoryRepository) Delete(ctx context.Context, namespaceKey string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM memory_entries WHERE namespace_key = $1`, namespaceKey)
	if err != nil {
		return fmt.Errorf("delete memory entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns an agent's entries whose user key starts with prefix.
func (r *PostgresMemoryRepository) List(ctx context.Context, agentID, prefix string) ([]*MemoryEntry, error) {
	rows, err := r.pool.Query(ctx, `
SELECT `+memoryColumns+` FROM memory_entries
WHERE agent_id = $1 AND user_key LIKE $2 || '%' ORDER BY namespace_key`, agentID, prefix)
	if err != nil {
		return nil, fmt.Errorf("list memory entries: %w", err)
	}
	defer rows.Close()
	var out []*MemoryEntry
	for rows.Next() {
		entry, err := scanMemoryEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan memory entry: %w", err)
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// Clear removes every entry of an agent.
func (r *PostgresMemoryRepository) Clear(ctx context.Context, agentID string) (int, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM memory_entries WHERE agent_id = $1`, agentID)
	if err != nil {
		return 0, fmt.Errorf("clear memory: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ClearByWorkflow removes an agent's entries scoped to one workflow.
func (r *PostgresMemoryRepository) ClearByWorkflow(ctx context.Context, agentID, workflowID string) (int, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM memory_entries WHERE agent_id = $1 AND workflow_id = $2`, agentID, workflowID)
	if err != nil {
		return 0, fmt.Errorf("clear memory by workflow: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// PostgresWebhookEventRepository is the postgres idempotency table.
type PostgresWebhookEventRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresWebhookEventRepository wraps the pool.
func NewPostgresWebhookEventRepository(pool *pgxpool.Pool) *PostgresWebhookEventRepository {
	return &PostgresWebhookEventRepository{pool: pool}
}

var _ WebhookEventRepository = (*PostgresWebhookEventRepository)(nil)

// IsProcessed reports whether a webhook id was already seen.
func (r *PostgresWebhookEventRepository) IsProcessed(ctx context.Context, webhookID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM webhook_events WHERE webhook_id = $1)`, webhookID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check webhook event: %w", err)
	}
	return exists, nil
}

// MarkProcessed records a webhook id. The primary key makes the insert the
// concurrency primitive: a second insert fails with ErrDuplicate.
func (r *PostgresWebhookEventRepository) MarkProcessed(ctx context.Context, webhookID, provider string) error {
	_, err := r.pool.Exec(ctx, `
INSERT INTO webhook_events (webhook_id, provider, processed_at) VALUES ($1, $2, NOW())`,
		webhookID, provider)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("mark webhook processed: %w", err)
	}
	return nil
}
