package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	werrors "weave/internal/errors"
)

// Catalog resolves workflow names to validated configs loaded from a
// directory of YAML files.
type Catalog struct {
	dir       string
	workflows map[string]*Workflow
}

// NewCatalog scans dir for *.yaml and *.yml workflow files, keyed by
// flow.name. A file that fails to parse or validate fails the whole scan.
func NewCatalog(dir string) (*Catalog, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &werrors.ConfigLoadError{Path: dir, Err: err}
	}

	workflows := make(map[string]*Workflow)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		wf, err := LoadWorkflow(path)
		if err != nil {
			return nil, err
		}
		if _, ok := workflows[wf.Flow.Name]; ok {
			return nil, &werrors.ConfigLoadError{
				Path: path,
				Err:  fmt.Errorf("workflow %q already defined", wf.Flow.Name),
			}
		}
		workflows[wf.Flow.Name] = wf
	}
	return &Catalog{dir: dir, workflows: workflows}, nil
}

// Get returns the workflow registered under name.
func (c *Catalog) Get(name string) (*Workflow, error) {
	wf, ok := c.workflows[name]
	if !ok {
		return nil, fmt.Errorf("workflow %q not found in %s", name, c.dir)
	}
	return wf, nil
}

// Names lists the registered workflow names, sorted.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.workflows))
	for name := range c.workflows {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len reports the number of loaded workflows.
func (c *Catalog) Len() int { return len(c.workflows) }
