// The weave-agent binary serves a catalog of workflows over HTTP and keeps a
// lease registered with the deployment registry while it runs.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"weave/internal/agentserver"
	"weave/internal/config"
	"weave/internal/llm"
	"weave/internal/logging"
	"weave/internal/registry"
	"weave/internal/workflow/runtime"
)

func main() {
	configPath := flag.String("config", "", "path to weave.yaml")
	workflowDir := flag.String("workflows", "workflows", "directory of workflow YAML files")
	flag.Parse()

	logger := logging.NewComponentLogger("AgentMain")
	if err := run(*configPath, *workflowDir, logger); err != nil {
		logger.Error("Fatal: %v", err)
		os.Exit(1)
	}
}

func run(configPath, workflowDir string, logger *logging.ComponentLogger) error {
	cfg, err := config.LoadService(configPath)
	if err != nil {
		return err
	}

	catalog, err := config.NewCatalog(workflowDir)
	if err != nil {
		return err
	}
	logger.Info("Serving %d workflows from %s", catalog.Len(), workflowDir)

	client, err := llm.NewOpenAIClient(llm.OpenAIConfig{
		BaseURL: orDefault(cfg.LLM.BaseURL, "https://api.openai.com/v1"),
		APIKey:  cfg.LLM.APIKey,
		Model:   orDefault(cfg.LLM.Model, "gpt-4o-mini"),
	})
	if err != nil {
		return err
	}
	runner, err := runtime.NewRunner(client,
		runtime.WithLogger(logging.NewComponentLogger("Runner")),
	)
	if err != nil {
		return err
	}

	server, err := agentserver.NewServer(runner, catalog, logging.NewComponentLogger("AgentServer"))
	if err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), registry.CorrelationMiddleware())
	server.RegisterRoutes(engine)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lease, err := buildLeaseClient(cfg, catalog, logger)
	if err != nil {
		return err
	}
	if err := lease.Start(ctx); err != nil {
		return err
	}
	defer lease.Stop()

	addr := fmt.Sprintf("%s:%d", cfg.Agent.Host, cfg.Agent.Port)
	srv := &http.Server{
		Addr:        addr,
		Handler:     engine,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Agent listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func buildLeaseClient(cfg *config.Service, catalog *config.Catalog, logger logging.Logger) (*registry.Client, error) {
	deploymentID := cfg.Agent.DeploymentID
	if deploymentID == "" {
		deploymentID = "agent-" + uuid.NewString()[:8]
	}

	metadata := map[string]any{"workflows": catalog.Names()}
	for k, v := range cfg.Agent.Metadata {
		metadata[k] = v
	}

	return registry.NewClient(registry.ClientConfig{
		RegistryURL:       cfg.Agent.RegistryURL,
		DeploymentID:      deploymentID,
		DeploymentName:    orDefault(cfg.Agent.DeploymentName, deploymentID),
		Host:              cfg.Agent.Host,
		Port:              cfg.Agent.Port,
		TTLSeconds:        cfg.Agent.TTLSeconds,
		HeartbeatInterval: cfg.Agent.HeartbeatInterval,
		WorkflowName:      cfg.Agent.WorkflowName,
		Metadata:          metadata,
	}, logging.OrNop(logger))
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
