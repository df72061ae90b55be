package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"weave/internal/logging"
)

// Connection statuses.
const (
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
)

// Execution outcome statuses.
const (
	OutcomeCompleted = "completed"
	OutcomeTimeout   = "timeout"
	OutcomeError     = "error"
)

// ErrNotConnected reports an execute call for a deployment that was never
// registered with this orchestrator.
var ErrNotConnected = errors.New("deployment not connected")

// ErrUnhealthy reports a connection whose lease has expired.
var ErrUnhealthy = errors.New("deployment unhealthy")

// Connection is one tracked worker.
type Connection struct {
	DeploymentID   string         `json:"deployment_id"`
	Name           string         `json:"name"`
	Host           string         `json:"host"`
	Port           int            `json:"port"`
	Status         string         `json:"status"`
	ConnectedAt    time.Time      `json:"connected_at"`
	DisconnectedAt *time.Time     `json:"disconnected_at,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Config parameterizes the orchestrator.
type Config struct {
	RegistryURL           string
	MaxParallelExecutions int
	ExecutionTimeout      time.Duration
	RequestTimeout        time.Duration
	DiscoveryCacheTTL     time.Duration
}

// Service owns the connection table and dispatches executions.
type Service struct {
	discovery   *Discovery
	execTimeout time.Duration
	maxParallel int64
	http        *http.Client
	logger      logging.Logger

	mu          sync.Mutex
	connections map[string]*Connection
}

// NewService builds an orchestrator against the registry.
func NewService(cfg Config, logger logging.Logger) (*Service, error) {
	if cfg.MaxParallelExecutions <= 0 {
		cfg.MaxParallelExecutions = 5
	}
	if cfg.ExecutionTimeout <= 0 {
		cfg.ExecutionTimeout = 5 * time.Minute
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	discovery, err := NewDiscovery(cfg.RegistryURL, cfg.RequestTimeout, cfg.DiscoveryCacheTTL, logger)
	if err != nil {
		return nil, err
	}
	return &Service{
		discovery:   discovery,
		execTimeout: cfg.ExecutionTimeout,
		maxParallel: int64(cfg.MaxParallelExecutions),
		// Execution calls get their deadline from the per-call context.
		http:        &http.Client{},
		logger:      logging.OrNop(logger),
		connections: make(map[string]*Connection),
	}, nil
}

// Discovery exposes the registry query client.
func (s *Service) Discovery() *Discovery { return s.discovery }

// Register looks the deployment up in the registry and records a connection.
func (s *Service) Register(ctx context.Context, id string) (*Connection, error) {
	lease, err := s.discovery.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("register connection %s: %w", id, err)
	}
	if !lease.IsAlive(time.Now()) {
		return nil, fmt.Errorf("register connection %s: %w", id, ErrUnhealthy)
	}

	conn := &Connection{
		DeploymentID: lease.DeploymentID,
		Name:         lease.DeploymentName,
		Host:         lease.Host,
		Port:         lease.Port,
		Status:       StatusConnected,
		ConnectedAt:  time.Now(),
		Metadata:     lease.Metadata,
	}
	s.mu.Lock()
	s.connections[id] = conn
	s.mu.Unlock()
	s.logger.Info("Connected to deployment %s at %s:%d", id, conn.Host, conn.Port)
	return conn, nil
}

// CheckHealth verifies the connection's lease is still alive, marking the
// connection disconnected when it is not.
func (s *Service) CheckHealth(ctx context.Context, id string) error {
	s.mu.Lock()
	conn, ok := s.connections[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("check health %s: %w", id, ErrNotConnected)
	}

	lease, err := s.discovery.Get(ctx, id)
	if err != nil || !lease.IsAlive(time.Now()) {
		now := time.Now()
		s.mu.Lock()
		conn.Status = StatusDisconnected
		conn.DisconnectedAt = &now
		s.mu.Unlock()
		if err != nil {
			return fmt.Errorf("check health %s: %w", id, err)
		}
		return fmt.Errorf("check health %s: %w", id, ErrUnhealthy)
	}
	return nil
}

// Connections returns a snapshot of the connection table.
func (s *Service) Connections() []*Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Connection, 0, len(s.connections))
	for _, conn := range s.connections {
		cp := *conn
		out = append(out, &cp)
	}
	return out
}

// ExecuteOn dispatches one workflow execution to a healthy connection.
func (s *Service) ExecuteOn(ctx context.Context, id, workflowName string, inputs map[string]any) (map[string]any, error) {
	if err := s.CheckHealth(ctx, id); err != nil {
		return nil, err
	}
	s.mu.Lock()
	conn := s.connections[id]
	url := fmt.Sprintf("http://%s:%d/execute", conn.Host, conn.Port)
	s.mu.Unlock()

	payload, err := json.Marshal(map[string]any{
		"workflow_name": workflowName,
		"inputs":        inputs,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute on %s: %w", id, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("execute on %s: agent returned %d: %s", id, resp.StatusCode, body)
	}
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("execute on %s: decode response: %w", id, err)
	}
	return out, nil
}

// Outcome is one deployment's result from a fan-out dispatch.
type Outcome struct {
	DeploymentID string         `json:"deployment_id"`
	Status       string         `json:"status"`
	Output       map[string]any `json:"output,omitempty"`
	Error        string         `json:"error,omitempty"`
}

// ExecuteParallel dispatches the workflow to every id concurrently, bounded
// by the configured parallelism and a per-call timeout. The result holds one
// outcome per id; order follows the input.
func (s *Service) ExecuteParallel(ctx context.Context, ids []string, workflowName string, inputs map[string]any) []Outcome {
	outcomes := make([]Outcome, len(ids))
	sem := semaphore.NewWeighted(s.maxParallel)
	var wg sync.WaitGroup

	for i, id := range ids {
		idx, deploymentID := i, id
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				outcomes[idx] = Outcome{DeploymentID: deploymentID, Status: OutcomeError, Error: err.Error()}
				return
			}
			defer sem.Release(1)

			callCtx, cancel := context.WithTimeout(ctx, s.execTimeout)
			defer cancel()
			output, err := s.ExecuteOn(callCtx, deploymentID, workflowName, inputs)
			switch {
			case err == nil:
				outcomes[idx] = Outcome{DeploymentID: deploymentID, Status: OutcomeCompleted, Output: output}
			case errors.Is(callCtx.Err(), context.DeadlineExceeded):
				outcomes[idx] = Outcome{DeploymentID: deploymentID, Status: OutcomeTimeout, Error: err.Error()}
			default:
				outcomes[idx] = Outcome{DeploymentID: deploymentID, Status: OutcomeError, Error: err.Error()}
			}
		}()
	}
	wg.Wait()
	return outcomes
}
