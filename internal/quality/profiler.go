package quality

import (
	"sync"
	"time"
)

// DefaultBottleneckShare is the fraction of total runtime above which a node
// counts as a bottleneck.
const DefaultBottleneckShare = 0.5

// Profiler aggregates per-node execution times. Safe for concurrent Record
// calls from parallel fork siblings.
type Profiler struct {
	mu        sync.Mutex
	durations map[string]time.Duration
	visits    map[string]int
	order     []string
}

// NewProfiler builds an empty profiler.
func NewProfiler() *Profiler {
	return &Profiler{
		durations: make(map[string]time.Duration),
		visits:    make(map[string]int),
	}
}

// Record adds one node visit's duration.
func (p *Profiler) Record(nodeID string, elapsed time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, seen := p.durations[nodeID]; !seen {
		p.order = append(p.order, nodeID)
	}
	p.durations[nodeID] += elapsed
	p.visits[nodeID]++
}

// Total returns the summed duration across every node.
func (p *Profiler) Total() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	var total time.Duration
	for _, d := range p.durations {
		total += d
	}
	return total
}

// Average returns the mean duration per node visit.
func (p *Profiler) Average() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	var total time.Duration
	count := 0
	for id, d := range p.durations {
		total += d
		count += p.visits[id]
	}
	if count == 0 {
		return 0
	}
	return total / time.Duration(count)
}

// Slowest returns the node with the largest cumulative duration.
func (p *Profiler) Slowest() (string, time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var slowest string
	var max time.Duration
	for _, id := range p.order {
		if p.durations[id] > max {
			slowest, max = id, p.durations[id]
		}
	}
	return slowest, max
}

// Bottleneck is a node whose share of total runtime exceeds the threshold.
type Bottleneck struct {
	NodeID   string
	Duration time.Duration
	Share    float64
}

// Bottlenecks returns nodes whose share of the total exceeds threshold; pass
// 0 to use DefaultBottleneckShare.
func (p *Profiler) Bottlenecks(threshold float64) []Bottleneck {
	if threshold <= 0 {
		threshold = DefaultBottleneckShare
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	var total time.Duration
	for _, d := range p.durations {
		total += d
	}
	if total == 0 {
		return nil
	}
	var out []Bottleneck
	for _, id := range p.order {
		share := float64(p.durations[id]) / float64(total)
		if share > threshold {
			out = append(out, Bottleneck{NodeID: id, Duration: p.durations[id], Share: share})
		}
	}
	return out
}

// Summary renders the profile as a JSON-friendly map for the execution row.
func (p *Profiler) Summary() map[string]any {
	slowest, slowestDur := p.Slowest()
	if slowest == "" {
		return nil
	}
	nodes := make(map[string]any)
	p.mu.Lock()
	for _, id := range p.order {
		nodes[id] = map[string]any{
			"duration_seconds": p.durations[id].Seconds(),
			"visits":           p.visits[id],
		}
	}
	p.mu.Unlock()

	summary := map[string]any{
		"total_seconds":   p.Total().Seconds(),
		"slowest_node":    slowest,
		"slowest_seconds": slowestDur.Seconds(),
		"nodes":           nodes,
	}
	if bottlenecks := p.Bottlenecks(0); len(bottlenecks) > 0 {
		names := make([]string, len(bottlenecks))
		for i, b := range bottlenecks {
			names[i] = b.NodeID
		}
		summary["bottlenecks"] = names
	}
	return summary
}
