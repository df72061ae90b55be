package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"weave/internal/logging"
)

// DefaultAgentPort is used when neither config nor metadata names a port.
const DefaultAgentPort = 8000

// ClientConfig parameterizes an agent's registration.
type ClientConfig struct {
	RegistryURL    string
	DeploymentID   string
	DeploymentName string
	Host           string
	Port           int
	TTLSeconds     int
	// HeartbeatInterval must be shorter than the TTL.
	HeartbeatInterval time.Duration
	WorkflowName      string
	Metadata          map[string]any
	RequestTimeout    time.Duration
}

// Client registers a worker and keeps its lease alive.
type Client struct {
	cfg    ClientConfig
	http   *http.Client
	logger logging.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewClient validates the config and resolves host and port: explicit config
// first, then metadata, then the detected hostname with the default port.
func NewClient(cfg ClientConfig, logger logging.Logger) (*Client, error) {
	if cfg.RegistryURL == "" {
		return nil, fmt.Errorf("registry url required")
	}
	if cfg.DeploymentID == "" {
		return nil, fmt.Errorf("deployment id required")
	}
	if cfg.TTLSeconds <= 0 {
		cfg.TTLSeconds = DefaultTTLSeconds
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = time.Duration(cfg.TTLSeconds) * time.Second / 3
	}
	if cfg.HeartbeatInterval >= time.Duration(cfg.TTLSeconds)*time.Second {
		return nil, fmt.Errorf("heartbeat interval %s must be shorter than ttl %ds", cfg.HeartbeatInterval, cfg.TTLSeconds)
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	resolveEndpoint(&cfg)

	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.RequestTimeout},
		logger: logging.OrNop(logger),
	}, nil
}

func resolveEndpoint(cfg *ClientConfig) {
	if cfg.Host == "" {
		if h, ok := cfg.Metadata["host"].(string); ok && h != "" {
			cfg.Host = h
		} else if hostname, err := os.Hostname(); err == nil {
			cfg.Host = hostname
		} else {
			cfg.Host = "localhost"
		}
	}
	if cfg.Port == 0 {
		switch p := cfg.Metadata["port"].(type) {
		case int:
			cfg.Port = p
		case float64:
			cfg.Port = int(p)
		}
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultAgentPort
	}
}

// Start registers the deployment and launches the heartbeat loop. The loop
// runs until Stop or until ctx ends.
func (c *Client) Start(ctx context.Context) error {
	if err := c.Register(ctx); err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.mu.Lock()
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	go c.heartbeatLoop(loopCtx, done)
	return nil
}

// Register performs one register call.
func (c *Client) Register(ctx context.Context) error {
	body := map[string]any{
		"deployment_id":   c.cfg.DeploymentID,
		"deployment_name": c.cfg.DeploymentName,
		"host":            c.cfg.Host,
		"port":            c.cfg.Port,
		"ttl_seconds":     c.cfg.TTLSeconds,
		"workflow_name":   c.cfg.WorkflowName,
		"metadata":        c.cfg.Metadata,
	}
	if err := c.post(ctx, c.cfg.RegistryURL+"/deployments/register", body); err != nil {
		return fmt.Errorf("register deployment %s: %w", c.cfg.DeploymentID, err)
	}
	c.logger.Info("Registered %s at %s:%d (ttl=%ds, heartbeat every %s)",
		c.cfg.DeploymentID, c.cfg.Host, c.cfg.Port, c.cfg.TTLSeconds, c.cfg.HeartbeatInterval)
	return nil
}

// heartbeatLoop posts a heartbeat every interval. Transient failures are
// logged and retried at the next tick.
func (c *Client) heartbeatLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			url := fmt.Sprintf("%s/deployments/%s/heartbeat", c.cfg.RegistryURL, c.cfg.DeploymentID)
			if err := c.post(ctx, url, nil); err != nil {
				c.logger.Warn("Heartbeat failed, retrying next tick: %v", err)
			}
		}
	}
}

// Stop cancels the heartbeat loop and deregisters best-effort.
func (c *Client) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}

	ctx, cancelReq := context.WithTimeout(context.Background(), c.cfg.RequestTimeout)
	defer cancelReq()
	url := fmt.Sprintf("%s/deployments/%s", c.cfg.RegistryURL, c.cfg.DeploymentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("Deregister failed: %v", err)
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	c.logger.Info("Deregistered %s", c.cfg.DeploymentID)
}

func (c *Client) post(ctx context.Context, url string, body map[string]any) error {
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, payload)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("registry returned %d: %s", resp.StatusCode, data)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
