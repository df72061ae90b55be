// Package quality checks post-run metrics against configured gates and
// aggregates per-node timings into a bottleneck profile.
package quality

import (
	"fmt"
	"sync"

	"weave/internal/config"
	werrors "weave/internal/errors"
	"weave/internal/logging"
)

// Gate policies.
const (
	PolicyWarn        = "warn"
	PolicyFail        = "fail"
	PolicyBlockDeploy = "block_deploy"
)

// GateResult is one gate's verdict against a metrics map.
type GateResult struct {
	Metric string
	Value  float64
	Found  bool
	Passed bool
	Reason string
}

// Checker evaluates gates and tracks per-context deploy blocks.
type Checker struct {
	gates  []config.GateSpec
	logger logging.Logger

	mu      sync.Mutex
	blocked map[string][]GateResult
}

// NewChecker builds a checker over the configured gates.
func NewChecker(gates []config.GateSpec, logger logging.Logger) *Checker {
	return &Checker{
		gates:   gates,
		logger:  logging.OrNop(logger),
		blocked: make(map[string][]GateResult),
	}
}

// Check evaluates every gate. A metric name matches exactly, with an "_avg"
// suffix, or with an "avg_" prefix; a missing metric fails the gate.
func (c *Checker) Check(metrics map[string]float64) []GateResult {
	results := make([]GateResult, 0, len(c.gates))
	for _, gate := range c.gates {
		value, found := lookupMetric(metrics, gate.Metric)
		result := GateResult{Metric: gate.Metric, Value: value, Found: found}
		switch {
		case !found:
			result.Reason = fmt.Sprintf("metric %q not reported", gate.Metric)
		case gate.Min != nil && value < *gate.Min:
			result.Reason = fmt.Sprintf("%s=%v below min %v", gate.Metric, value, *gate.Min)
		case gate.Max != nil && value > *gate.Max:
			result.Reason = fmt.Sprintf("%s=%v above max %v", gate.Metric, value, *gate.Max)
		default:
			result.Passed = true
		}
		results = append(results, result)
	}
	return results
}

func lookupMetric(metrics map[string]float64, name string) (float64, bool) {
	for _, candidate := range []string{name, name + "_avg", "avg_" + name} {
		if v, ok := metrics[candidate]; ok {
			return v, true
		}
	}
	return 0, false
}

// TakeAction applies the policy to the results. "warn" logs, "fail" returns a
// QualityGateError, "block_deploy" flags the context for IsBlocked.
func (c *Checker) TakeAction(results []GateResult, policy, contextName string) error {
	var failed []GateResult
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	if len(failed) == 0 {
		return nil
	}

	switch policy {
	case PolicyFail:
		failures := make([]string, len(failed))
		for i, r := range failed {
			failures[i] = r.Reason
		}
		return &werrors.QualityGateError{Context: contextName, Failures: failures}
	case PolicyBlockDeploy:
		c.mu.Lock()
		c.blocked[contextName] = failed
		c.mu.Unlock()
		c.logger.Warn("Deploy blocked for %s: %d gate(s) failed", contextName, len(failed))
		return nil
	default:
		for _, r := range failed {
			c.logger.Warn("Quality gate failed for %s: %s", contextName, r.Reason)
		}
		return nil
	}
}

// IsBlocked reports whether block_deploy flagged the context.
func (c *Checker) IsBlocked(contextName string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.blocked[contextName]) > 0
}

// GetFailed returns the failed gates recorded for the context.
func (c *Checker) GetFailed(contextName string) []GateResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]GateResult(nil), c.blocked[contextName]...)
}

// Unblock clears a context's block after the underlying metric recovers.
func (c *Checker) Unblock(contextName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.blocked, contextName)
}
