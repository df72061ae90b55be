package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	werrors "weave/internal/errors"
)

// LoadWorkflow reads, parses, and validates a workflow config file.
func LoadWorkflow(path string) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &werrors.ConfigLoadError{Path: path, Err: err}
	}
	return ParseWorkflow(data, path)
}

// ParseWorkflow parses and validates raw workflow YAML. The path is only used
// for error context.
func ParseWorkflow(data []byte, path string) (*Workflow, error) {
	var wf Workflow
	if err := yaml.Unmarshal(data, &wf); err != nil {
		return nil, &werrors.ConfigLoadError{Path: path, Err: fmt.Errorf("yaml: %w", err)}
	}
	if err := wf.Validate(); err != nil {
		return nil, err
	}
	return &wf, nil
}
