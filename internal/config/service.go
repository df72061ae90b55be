package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"

	werrors "weave/internal/errors"
)

// Service carries the runtime settings shared by the weave binaries. Values
// load from an optional weave.yaml plus WEAVE_-prefixed environment
// variables, environment winning.
type Service struct {
	DatabaseURL string `mapstructure:"database_url"`

	Registry struct {
		Host          string        `mapstructure:"host"`
		Port          int           `mapstructure:"port"`
		SweepInterval time.Duration `mapstructure:"sweep_interval"`
	} `mapstructure:"registry"`

	Agent struct {
		DeploymentID      string            `mapstructure:"deployment_id"`
		DeploymentName    string            `mapstructure:"deployment_name"`
		Host              string            `mapstructure:"host"`
		Port              int               `mapstructure:"port"`
		RegistryURL       string            `mapstructure:"registry_url"`
		TTLSeconds        int               `mapstructure:"ttl_seconds"`
		HeartbeatInterval time.Duration     `mapstructure:"heartbeat_interval"`
		WorkflowName      string            `mapstructure:"workflow_name"`
		Metadata          map[string]string `mapstructure:"metadata"`
	} `mapstructure:"agent"`

	Orchestrator struct {
		MaxParallelExecutions int           `mapstructure:"max_parallel_executions"`
		ExecutionTimeout      time.Duration `mapstructure:"execution_timeout"`
		RequestTimeout        time.Duration `mapstructure:"request_timeout"`
	} `mapstructure:"orchestrator"`

	Webhook struct {
		Secret           string `mapstructure:"secret"`
		RequireSignature bool   `mapstructure:"require_signature"`
		Lark             struct {
			VerificationToken string `mapstructure:"verification_token"`
			SigningSecret     string `mapstructure:"signing_secret"`
		} `mapstructure:"lark"`
	} `mapstructure:"webhook"`

	LLM struct {
		Provider string `mapstructure:"provider"`
		Model    string `mapstructure:"model"`
		BaseURL  string `mapstructure:"base_url"`
		APIKey   string `mapstructure:"api_key"`
	} `mapstructure:"llm"`
}

// LoadService loads service settings. A missing config file is fine; env
// overrides still apply.
func LoadService(path string) (*Service, error) {
	v := viper.New()
	v.SetEnvPrefix("WEAVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setServiceDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("weave")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.weave")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && path != "" {
			return nil, &werrors.ConfigLoadError{Path: path, Err: err}
		}
	}

	var svc Service
	if err := v.Unmarshal(&svc); err != nil {
		return nil, &werrors.ConfigLoadError{Path: v.ConfigFileUsed(), Err: err}
	}
	return &svc, nil
}

func setServiceDefaults(v *viper.Viper) {
	v.SetDefault("registry.host", "0.0.0.0")
	v.SetDefault("registry.port", 8500)
	v.SetDefault("registry.sweep_interval", time.Minute)

	v.SetDefault("agent.port", 8000)
	v.SetDefault("agent.registry_url", "http://localhost:8500")
	v.SetDefault("agent.ttl_seconds", 60)
	v.SetDefault("agent.heartbeat_interval", 20*time.Second)

	v.SetDefault("orchestrator.max_parallel_executions", 5)
	v.SetDefault("orchestrator.execution_timeout", 5*time.Minute)
	v.SetDefault("orchestrator.request_timeout", 10*time.Second)

	v.SetDefault("llm.provider", "openai")
}
