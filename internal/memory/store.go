// Package memory gives workflows a persistent namespaced key-value store.
// Keys are scoped to an agent, optionally narrowed to a workflow or a single
// node; values round-trip through JSON.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"weave/internal/logging"
	"weave/internal/storage"
)

// Scope selects the namespace granularity.
type Scope string

const (
	ScopeAgent    Scope = "agent"
	ScopeWorkflow Scope = "workflow"
	ScopeNode     Scope = "node"
)

// wildcard fills namespace positions outside the current scope.
const wildcard = "*"

// Store reads and writes one scope's slice of the memory table.
type Store struct {
	repo       storage.MemoryRepository
	agentID    string
	workflowID string
	nodeID     string
	scope      Scope
	logger     logging.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithWorkflow narrows the store to a workflow namespace.
func WithWorkflow(workflowID string) Option {
	return func(s *Store) {
		s.workflowID = workflowID
		s.scope = ScopeWorkflow
	}
}

// WithNode narrows the store to a node namespace; requires WithWorkflow.
func WithNode(nodeID string) Option {
	return func(s *Store) {
		s.nodeID = nodeID
		s.scope = ScopeNode
	}
}

// WithLogger overrides the component logger.
func WithLogger(logger logging.Logger) Option {
	return func(s *Store) { s.logger = logging.OrNop(logger) }
}

// NewStore builds an agent-scoped store; options narrow the scope.
func NewStore(repo storage.MemoryRepository, agentID string, opts ...Option) (*Store, error) {
	if repo == nil {
		return nil, fmt.Errorf("memory repository required")
	}
	if agentID == "" {
		return nil, fmt.Errorf("agent id required")
	}
	s := &Store{
		repo:    repo,
		agentID: agentID,
		scope:   ScopeAgent,
		logger:  logging.NewComponentLogger("Memory"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.scope == ScopeNode && s.workflowID == "" {
		return nil, fmt.Errorf("node scope requires a workflow id")
	}
	return s, nil
}

// namespaceKey renders "agent:workflow|*:node|*:key".
func (s *Store) namespaceKey(userKey string) string {
	workflow, node := wildcard, wildcard
	if s.scope == ScopeWorkflow || s.scope == ScopeNode {
		workflow = s.workflowID
	}
	if s.scope == ScopeNode {
		node = s.nodeID
	}
	return strings.Join([]string{s.agentID, workflow, node, userKey}, ":")
}

// Write stores a value under the scoped key.
func (s *Store) Write(ctx context.Context, key string, value any) error {
	if key == "" {
		return fmt.Errorf("memory key required")
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode memory value: %w", err)
	}
	entry := &storage.MemoryEntry{
		NamespaceKey: s.namespaceKey(key),
		AgentID:      s.agentID,
		WorkflowID:   s.workflowID,
		NodeID:       s.nodeID,
		UserKey:      key,
		Value:        data,
	}
	if err := s.repo.Set(ctx, entry); err != nil {
		return err
	}
	s.logger.Debug("memory write %s", entry.NamespaceKey)
	return nil
}

// Read returns the stored value, or def when the key is absent.
func (s *Store) Read(ctx context.Context, key string, def any) (any, error) {
	entry, err := s.repo.Get(ctx, s.namespaceKey(key))
	if errors.Is(err, storage.ErrNotFound) {
		return def, nil
	}
	if err != nil {
		return nil, err
	}
	var value any
	if err := json.Unmarshal(entry.Value, &value); err != nil {
		return nil, fmt.Errorf("decode memory value: %w", err)
	}
	return value, nil
}

// Delete removes the key; deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	err := s.repo.Delete(ctx, s.namespaceKey(key))
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	return err
}

// List returns the scope's user keys starting with prefix, sorted.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	entries, err := s.repo.List(ctx, s.agentID, prefix)
	if err != nil {
		return nil, err
	}
	nsPrefix := s.namespaceKey("")
	var out []string
	for _, entry := range entries {
		if strings.HasPrefix(entry.NamespaceKey, nsPrefix) {
			out = append(out, entry.UserKey)
		}
	}
	return out, nil
}

// Keys returns every user key in the scope.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	return s.List(ctx, "")
}

// Clear removes the scope's rows and returns the count. Agent scope clears
// everything the agent owns; workflow scope clears only that workflow's rows.
func (s *Store) Clear(ctx context.Context) (int, error) {
	switch s.scope {
	case ScopeAgent:
		return s.repo.Clear(ctx, s.agentID)
	case ScopeWorkflow:
		return s.repo.ClearByWorkflow(ctx, s.agentID, s.workflowID)
	default:
		keys, err := s.Keys(ctx)
		if err != nil {
			return 0, err
		}
		count := 0
		for _, key := range keys {
			if err := s.Delete(ctx, key); err != nil {
				return count, err
			}
			count++
		}
		return count, nil
	}
}
