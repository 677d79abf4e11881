package metrics

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/tarsy-labs/dagrunner/pkg/scheduler"
)

// Report is the full comparison computed over one or more policy runs
// (spec.md §4.7). Policies holds one PolicyMetrics per run, sorted by policy
// name; Render and JSON export both operate over the same aggregated data so the
// text report and the exported metrics never disagree.
type Report struct {
	Policies    []PolicyMetrics
	Comparisons []Comparison
	NodeTypes   map[scheduler.Policy][]NodeTypeAggregate
	ToolCalls   map[scheduler.Policy][]ToolCallEntry
}

// BuildReport aggregates one WorkflowExecutionResult per policy into a
// Report. results must be keyed by the policy that produced them; totalNodes
// is the DAG's node count, constant across policies for the same DAG.
func BuildReport(results map[scheduler.Policy]scheduler.WorkflowExecutionResult, totalNodes int) Report {
	policies := make([]string, 0, len(results))
	for p := range results {
		policies = append(policies, string(p))
	}
	sort.Strings(policies)

	r := Report{
		NodeTypes: make(map[scheduler.Policy][]NodeTypeAggregate, len(results)),
		ToolCalls: make(map[scheduler.Policy][]ToolCallEntry, len(results)),
	}

	var all []PolicyMetrics
	for _, p := range policies {
		policy := scheduler.Policy(p)
		res := results[policy]
		m := FromResult(res, totalNodes)
		all = append(all, m)
		r.NodeTypes[policy] = NodeTypeAggregates(res)
		r.ToolCalls[policy] = ToolCallInventory(res)
	}
	r.Policies = all
	r.Comparisons = CompareToBaseline(all)

	return r
}

// Render produces a deterministic, human-readable text comparison report.
// Output ordering is fixed: policies are sorted by name, so the same input
// always renders byte-identical text (spec.md §8's round-trip property).
func (r Report) Render() string {
	var sb strings.Builder

	sb.WriteString("=== Policy Comparison Report ===\n\n")

	for _, m := range r.Policies {
		fmt.Fprintf(&sb, "[%s]\n", m.Policy)
		fmt.Fprintf(&sb, "  nodes executed: %d/%d\n", m.NodesExecuted, m.TotalNodes)
		fmt.Fprintf(&sb, "  batches:        %d\n", m.TotalBatches)
		fmt.Fprintf(&sb, "  total time:     %d ms\n", m.TotalTimeMS)
		fmt.Fprintf(&sb, "  total tokens:   %d\n", m.TotalTokens)
		fmt.Fprintf(&sb, "  avg latency:    %.2f ms/node\n", m.AvgLatencyMS)
		fmt.Fprintf(&sb, "  throughput:     %.2f tokens/sec\n", m.TokensPerSecond)
		fmt.Fprintf(&sb, "  parallelism:    %.3f\n", m.ParallelismFactor)
		sb.WriteString("\n")
	}

	if len(r.Comparisons) > 0 {
		sb.WriteString("=== Speedup vs. sequential baseline ===\n\n")
		for _, c := range r.Comparisons {
			fmt.Fprintf(&sb, "[%s]\n", c.Policy)
			fmt.Fprintf(&sb, "  speedup:            %.2fx\n", c.Speedup)
			fmt.Fprintf(&sb, "  time saved:         %d ms\n", c.TimeSavedMS)
			fmt.Fprintf(&sb, "  throughput delta:   %.1f%%\n", c.ThroughputDeltaPct)
			fmt.Fprintf(&sb, "  parallelism factor: %.3f\n", c.ParallelismFactor)
			sb.WriteString("\n")
		}
	}

	sb.WriteString("=== Per-node-type aggregates ===\n\n")
	for _, m := range r.Policies {
		fmt.Fprintf(&sb, "[%s]\n", m.Policy)
		for _, agg := range r.NodeTypes[m.Policy] {
			fmt.Fprintf(&sb, "  %-20s count=%-4d avg_latency=%.2fms tokens=%d\n",
				agg.NodeType, agg.Count, agg.AvgLatencyMS, agg.TotalTokens)
		}
		sb.WriteString("\n")
	}

	sb.WriteString("=== Tool call inventory ===\n\n")
	for _, m := range r.Policies {
		calls := r.ToolCalls[m.Policy]
		fmt.Fprintf(&sb, "[%s] %d tool call(s)\n", m.Policy, len(calls))
		for _, entry := range calls {
			fmt.Fprintf(&sb, "  %s -> %s\n", entry.NodeID, entry.ToolName)
		}
	}

	return sb.String()
}

// exportedMetrics mirrors PolicyMetrics with JSON tags; PolicyMetrics itself
// stays tag-free since it is also used as an in-process aggregation value.
type exportedMetrics struct {
	Policy            string  `json:"policy"`
	TotalTimeMS       int64   `json:"total_time_ms"`
	TotalTokens       int     `json:"total_tokens"`
	NodesExecuted     int     `json:"nodes_executed"`
	TotalNodes        int     `json:"total_nodes"`
	TotalBatches      int     `json:"total_batches"`
	AvgLatencyMS      float64 `json:"avg_latency_ms"`
	TokensPerSecond   float64 `json:"tokens_per_second"`
	ParallelismFactor float64 `json:"parallelism_factor"`
}

// JSON exports the per-policy metric mapping as JSON, per spec.md §4.7.
func (r Report) JSON() ([]byte, error) {
	out := make(map[string]exportedMetrics, len(r.Policies))
	for _, m := range r.Policies {
		out[string(m.Policy)] = exportedMetrics{
			Policy:            string(m.Policy),
			TotalTimeMS:       m.TotalTimeMS,
			TotalTokens:       m.TotalTokens,
			NodesExecuted:     m.NodesExecuted,
			TotalNodes:        m.TotalNodes,
			TotalBatches:      m.TotalBatches,
			AvgLatencyMS:      m.AvgLatencyMS,
			TokensPerSecond:   m.TokensPerSecond,
			ParallelismFactor: m.ParallelismFactor,
		}
	}
	return json.MarshalIndent(out, "", "  ")
}
