// Package tracker is the observability sink the engine reports to: one run
// per execution, nested child runs per node, params/metrics/artifacts inside.
// Sink unavailability must never fail a workflow, so every implementation
// degrades silently.
package tracker

import (
	"encoding/json"

	"weave/internal/logging"
)

// Run statuses reported on End.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Tracker opens runs.
type Tracker interface {
	// StartRun opens a run. Implementations return a usable Run even when
	// the sink is down.
	StartRun(name string, inputs map[string]any) Run
}

// Run records one workflow or node execution.
type Run interface {
	LogParams(params map[string]any)
	LogMetric(name string, value float64)
	LogArtifact(name string, content any)
	// StartChild opens a nested run for per-node tracking.
	StartChild(name string) Run
	End(status string)
}

type nopTracker struct{}
type nopRun struct{}

func (nopTracker) StartRun(string, map[string]any) Run { return nopRun{} }
func (nopRun) LogParams(map[string]any)                {}
func (nopRun) LogMetric(string, float64)               {}
func (nopRun) LogArtifact(string, any)                 {}
func (nopRun) StartChild(string) Run                   { return nopRun{} }
func (nopRun) End(string)                              {}

// Nop returns a tracker that records nothing.
func Nop() Tracker { return nopTracker{} }

// OrNop returns t when non-nil, otherwise the no-op tracker.
func OrNop(t Tracker) Tracker {
	if t == nil {
		return Nop()
	}
	return t
}

// LogTracker writes runs to the component log. It doubles as the reference
// implementation for sinks like MLflow: same call shape, different transport.
type LogTracker struct {
	logger logging.Logger
}

// NewLogTracker builds a tracker over the given logger.
func NewLogTracker(logger logging.Logger) *LogTracker {
	return &LogTracker{logger: logging.OrNop(logger)}
}

// StartRun opens a logged run.
func (t *LogTracker) StartRun(name string, inputs map[string]any) Run {
	t.logger.Info("run start: %s inputs=%s", name, compactJSON(inputs))
	return &logRun{name: name, logger: t.logger}
}

type logRun struct {
	name   string
	logger logging.Logger
}

func (r *logRun) LogParams(params map[string]any) {
	r.logger.Debug("run %s params=%s", r.name, compactJSON(params))
}

func (r *logRun) LogMetric(name string, value float64) {
	r.logger.Info("run %s metric %s=%v", r.name, name, value)
}

func (r *logRun) LogArtifact(name string, content any) {
	r.logger.Debug("run %s artifact %s=%s", r.name, name, compactJSON(content))
}

func (r *logRun) StartChild(name string) Run {
	child := r.name + "/" + name
	r.logger.Debug("run start: %s", child)
	return &logRun{name: child, logger: r.logger}
}

func (r *logRun) End(status string) {
	r.logger.Info("run end: %s status=%s", r.name, status)
}

func compactJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "<unencodable>"
	}
	if len(data) > 2048 {
		data = data[:2048]
	}
	return string(data)
}
