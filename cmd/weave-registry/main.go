// The weave-registry binary serves the deployment registry, the webhook
// ingress, and Prometheus metrics on one HTTP listener.
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

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"weave/internal/config"
	"weave/internal/llm"
	"weave/internal/logging"
	"weave/internal/registry"
	"weave/internal/storage"
	"weave/internal/webhooks"
	"weave/internal/workflow/runtime"
)

func main() {
	configPath := flag.String("config", "", "path to weave.yaml")
	workflowDir := flag.String("workflows", "workflows", "directory of workflow YAML files served to webhooks")
	flag.Parse()

	logger := logging.NewComponentLogger("RegistryMain")
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repos, cleanup, err := buildRepositories(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector())
	metrics := registry.NewMetrics(promReg)

	svc, err := registry.NewService(repos.deployments,
		registry.WithMetrics(metrics),
		registry.WithLogger(logging.NewComponentLogger("Registry")),
	)
	if err != nil {
		return err
	}
	svc.StartSweeper(ctx, cfg.Registry.SweepInterval)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), registry.CorrelationMiddleware(), cors.Default())
	svc.RegisterRoutes(engine)
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(promReg, promhttp.HandlerOpts{})))

	if err := mountWebhooks(engine, cfg, workflowDir, repos, logger); err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", cfg.Registry.Host, cfg.Registry.Port)
	srv := &http.Server{
		Addr:        addr,
		Handler:     engine,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Registry listening on %s", addr)
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

type repositories struct {
	deployments storage.DeploymentRepository
	executions  storage.ExecutionRepository
	states      storage.StateRepository
	events      storage.WebhookEventRepository
}

// buildRepositories picks postgres when a database URL is configured and
// falls back to the in-memory stores otherwise.
func buildRepositories(ctx context.Context, databaseURL string, logger logging.Logger) (*repositories, func(), error) {
	if databaseURL == "" {
		logger.Info("No database configured, using in-memory stores")
		return &repositories{
			deployments: storage.NewMemoryDeploymentRepository(),
			executions:  storage.NewMemoryExecutionRepository(),
			states:      storage.NewMemoryStateRepository(),
			events:      storage.NewMemoryWebhookEventRepository(),
		}, func() {}, nil
	}

	pool, err := storage.NewPool(ctx, databaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := storage.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, err
	}
	logger.Info("Connected to postgres")
	return &repositories{
		deployments: storage.NewPostgresDeploymentRepository(pool),
		executions:  storage.NewPostgresExecutionRepository(pool),
		states:      storage.NewPostgresStateRepository(pool),
		events:      storage.NewPostgresWebhookEventRepository(pool),
	}, pool.Close, nil
}

// mountWebhooks wires the webhook ingress when a workflow directory exists.
// Launched workflows run detached on this process's runner.
func mountWebhooks(engine *gin.Engine, cfg *config.Service, workflowDir string, repos *repositories, logger logging.Logger) error {
	if _, err := os.Stat(workflowDir); err != nil {
		logger.Info("Workflow directory %s not found, webhook ingress disabled", workflowDir)
		return nil
	}
	catalog, err := config.NewCatalog(workflowDir)
	if err != nil {
		return err
	}
	logger.Info("Loaded %d workflows from %s", catalog.Len(), workflowDir)

	client, err := buildLLMClient(cfg)
	if err != nil {
		return err
	}
	runner, err := runtime.NewRunner(client,
		runtime.WithExecutionRepository(repos.executions),
		runtime.WithStateRepository(repos.states),
		runtime.WithLogger(logging.NewComponentLogger("Runner")),
	)
	if err != nil {
		return err
	}

	launcher := webhooks.LauncherFunc(func(ctx context.Context, workflowName string, inputs map[string]any) (string, error) {
		wf, err := catalog.Get(workflowName)
		if err != nil {
			return "", err
		}
		return runner.RunDetached(ctx, wf, inputs), nil
	})

	handler, err := webhooks.NewHandler(webhooks.Config{
		Secret:           cfg.Webhook.Secret,
		RequireSignature: cfg.Webhook.RequireSignature,
	}, launcher, repos.events, logging.NewComponentLogger("Webhooks"))
	if err != nil {
		return err
	}
	handler.RegisterRoutes(engine)

	lark, err := webhooks.NewLarkHandler(webhooks.LarkConfig{
		VerificationToken: cfg.Webhook.Lark.VerificationToken,
	}, launcher, nil, logging.NewComponentLogger("Lark"))
	if err != nil {
		return err
	}
	lark.RegisterRoutes(engine)
	handler.AddPlatform("lark")
	return nil
}

func buildLLMClient(cfg *config.Service) (llm.Client, error) {
	baseURL := cfg.LLM.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	model := cfg.LLM.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	return llm.NewOpenAIClient(llm.OpenAIConfig{
		BaseURL: baseURL,
		APIKey:  cfg.LLM.APIKey,
		Model:   model,
	})
}
