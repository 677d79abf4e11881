// Package metrics aggregates WorkflowExecutionResult values into per-policy
// statistics and renders deterministic comparison reports (spec.md §4.7).
package metrics

import (
	"github.com/tarsy-labs/dagrunner/pkg/scheduler"
)

// PolicyMetrics is the aggregate computed from a single WorkflowExecutionResult.
type PolicyMetrics struct {
	Policy            scheduler.Policy
	TotalTimeMS       int64
	TotalTokens       int
	NodesExecuted     int
	TotalNodes        int
	TotalBatches      int
	AvgLatencyMS      float64
	TokensPerSecond   float64
	ParallelismFactor float64
}

// FromResult computes the PolicyMetrics for a single workflow run. totalNodes
// is the DAG's total node count, which may exceed NodesExecuted when some
// nodes failed.
func FromResult(result scheduler.WorkflowExecutionResult, totalNodes int) PolicyMetrics {
	m := PolicyMetrics{
		Policy:        result.Policy,
		TotalTimeMS:   result.TotalTimeMS,
		TotalTokens:   result.TotalTokens,
		NodesExecuted: result.NodesExecuted,
		TotalNodes:    totalNodes,
		TotalBatches:  result.TotalBatches,
	}

	if m.NodesExecuted > 0 {
		m.AvgLatencyMS = float64(m.TotalTimeMS) / float64(m.NodesExecuted)
	}
	if m.TotalTimeMS > 0 {
		m.TokensPerSecond = float64(m.TotalTokens) * 1000 / float64(m.TotalTimeMS)
	}
	if m.TotalBatches > 0 {
		m.ParallelismFactor = float64(m.NodesExecuted) / float64(m.TotalBatches)
	}

	return m
}

// NodeTypeAggregate summarizes results grouped by node type within one run.
type NodeTypeAggregate struct {
	NodeType     string
	Count        int
	AvgLatencyMS float64
	TotalTokens  int
}

// NodeTypeAggregates groups a run's node results by type tag, sorted by
// first appearance in the result list for deterministic report ordering.
func NodeTypeAggregates(result scheduler.WorkflowExecutionResult) []NodeTypeAggregate {
	var order []string
	sums := make(map[string]*NodeTypeAggregate)

	for _, r := range result.Results {
		agg, ok := sums[r.NodeType]
		if !ok {
			agg = &NodeTypeAggregate{NodeType: r.NodeType}
			sums[r.NodeType] = agg
			order = append(order, r.NodeType)
		}
		agg.Count++
		agg.TotalTokens += r.TokensUsed
		agg.AvgLatencyMS += float64(r.LatencyMS)
	}

	out := make([]NodeTypeAggregate, 0, len(order))
	for _, nodeType := range order {
		agg := sums[nodeType]
		if agg.Count > 0 {
			agg.AvgLatencyMS /= float64(agg.Count)
		}
		out = append(out, *agg)
	}
	return out
}

// ToolCallEntry records a single tool call emitted while executing a node.
type ToolCallEntry struct {
	NodeID   string
	ToolName string
}

// ToolCallInventory lists every tool call across a run's results, grouped by
// node in result order.
func ToolCallInventory(result scheduler.WorkflowExecutionResult) []ToolCallEntry {
	var entries []ToolCallEntry
	for _, r := range result.Results {
		for _, tc := range r.ToolCalls {
			entries = append(entries, ToolCallEntry{NodeID: r.NodeID, ToolName: tc.Name})
		}
	}
	return entries
}

// Comparison is the pairwise comparison of a policy's metrics against the
// sequential baseline.
type Comparison struct {
	Policy             scheduler.Policy
	Speedup            float64
	TimeSavedMS        int64
	ThroughputDeltaPct float64
	ParallelismFactor  float64
}

// CompareToBaseline computes Comparison entries for every non-baseline
// policy metric, relative to the sequential baseline if present among all.
func CompareToBaseline(all []PolicyMetrics) []Comparison {
	var baseline *PolicyMetrics
	for i := range all {
		if all[i].Policy == scheduler.PolicySequential {
			baseline = &all[i]
			break
		}
	}
	if baseline == nil {
		return nil
	}

	var comparisons []Comparison
	for _, m := range all {
		if m.Policy == scheduler.PolicySequential {
			continue
		}
		c := Comparison{Policy: m.Policy, ParallelismFactor: m.ParallelismFactor}
		if m.TotalTimeMS > 0 {
			c.Speedup = float64(baseline.TotalTimeMS) / float64(m.TotalTimeMS)
		}
		c.TimeSavedMS = baseline.TotalTimeMS - m.TotalTimeMS
		if baseline.TokensPerSecond > 0 {
			c.ThroughputDeltaPct = (m.TokensPerSecond - baseline.TokensPerSecond) / baseline.TokensPerSecond * 100
		}
		comparisons = append(comparisons, c)
	}
	return comparisons
}
