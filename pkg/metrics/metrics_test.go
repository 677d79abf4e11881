package metrics

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsy-labs/dagrunner/pkg/llmclient"
	"github.com/tarsy-labs/dagrunner/pkg/scheduler"
)

func diamondResult(policy scheduler.Policy, totalTimeMS int64, batches int) scheduler.WorkflowExecutionResult {
	return scheduler.WorkflowExecutionResult{
		Policy:        policy,
		Success:       true,
		TotalBatches:  batches,
		NodesExecuted: 4,
		TotalTokens:   40,
		TotalTimeMS:   totalTimeMS,
		CompletedIDs:  []string{"A", "B", "C", "D"},
		Results: []scheduler.NodeExecutionResult{
			{NodeID: "A", NodeType: "agent_response", TokensUsed: 10, LatencyMS: 5},
			{
				NodeID: "B", NodeType: "agent_response", TokensUsed: 10, LatencyMS: 5,
				ToolCalls: []llmclient.ToolCall{{ID: "c1", Name: "search_tracks"}},
			},
			{NodeID: "C", NodeType: "agent_response", TokensUsed: 10, LatencyMS: 5},
			{NodeID: "D", NodeType: "agent_response", TokensUsed: 10, LatencyMS: 5},
		},
	}
}

func TestFromResult_Diamond(t *testing.T) {
	m := FromResult(diamondResult(scheduler.PolicyDependencyAware, 30, 3), 4)

	assert.Equal(t, 4, m.NodesExecuted)
	assert.Equal(t, 3, m.TotalBatches)
	assert.Equal(t, 40, m.TotalTokens)
	assert.InDelta(t, 7.5, m.AvgLatencyMS, 0.001)
	assert.InDelta(t, 1333.33, m.TokensPerSecond, 0.1)
	assert.InDelta(t, 4.0/3.0, m.ParallelismFactor, 0.001)
}

func TestFromResult_Sequential_ParallelismFactorIsOne(t *testing.T) {
	m := FromResult(diamondResult(scheduler.PolicySequential, 40, 4), 4)
	assert.Equal(t, 1.0, m.ParallelismFactor)
}

func TestNodeTypeAggregates_GroupsByType(t *testing.T) {
	result := diamondResult(scheduler.PolicyDependencyAware, 30, 3)
	result.Results = append(result.Results, scheduler.NodeExecutionResult{
		NodeID: "E", NodeType: "code_execution", LatencyMS: 1,
	})

	aggs := NodeTypeAggregates(result)
	require.Len(t, aggs, 2)
	assert.Equal(t, "agent_response", aggs[0].NodeType)
	assert.Equal(t, 4, aggs[0].Count)
	assert.Equal(t, "code_execution", aggs[1].NodeType)
	assert.Equal(t, 1, aggs[1].Count)
}

func TestToolCallInventory_ListsCallsPerNode(t *testing.T) {
	entries := ToolCallInventory(diamondResult(scheduler.PolicyDependencyAware, 30, 3))
	require.Len(t, entries, 1)
	assert.Equal(t, "B", entries[0].NodeID)
	assert.Equal(t, "search_tracks", entries[0].ToolName)
}

func TestCompareToBaseline_SpeedupAgainstSequential(t *testing.T) {
	seq := FromResult(diamondResult(scheduler.PolicySequential, 100, 4), 4)
	dep := FromResult(diamondResult(scheduler.PolicyDependencyAware, 40, 3), 4)

	comparisons := CompareToBaseline([]PolicyMetrics{seq, dep})
	require.Len(t, comparisons, 1)
	assert.Equal(t, scheduler.PolicyDependencyAware, comparisons[0].Policy)
	assert.InDelta(t, 2.5, comparisons[0].Speedup, 0.001)
	assert.Equal(t, int64(60), comparisons[0].TimeSavedMS)
}

func TestCompareToBaseline_NoBaselineReturnsNil(t *testing.T) {
	dep := FromResult(diamondResult(scheduler.PolicyDependencyAware, 40, 3), 4)
	assert.Nil(t, CompareToBaseline([]PolicyMetrics{dep}))
}

func TestBuildReport_RenderAndJSON(t *testing.T) {
	results := map[scheduler.Policy]scheduler.WorkflowExecutionResult{
		scheduler.PolicySequential:      diamondResult(scheduler.PolicySequential, 100, 4),
		scheduler.PolicyDependencyAware: diamondResult(scheduler.PolicyDependencyAware, 40, 3),
	}

	report := BuildReport(results, 4)
	require.Len(t, report.Policies, 2)
	require.Len(t, report.Comparisons, 1)

	rendered := report.Render()
	assert.Contains(t, rendered, "=== Policy Comparison Report ===")
	assert.Contains(t, rendered, "dependency_aware")
	assert.Contains(t, rendered, "sequential")
	assert.Contains(t, rendered, "=== Speedup vs. sequential baseline ===")
	assert.Contains(t, rendered, "search_tracks")

	data, err := report.JSON()
	require.NoError(t, err)

	var decoded map[string]map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Contains(t, decoded, "sequential")
	assert.Contains(t, decoded, "dependency_aware")
}

func TestBuildReport_DeterministicOrdering(t *testing.T) {
	results := map[scheduler.Policy]scheduler.WorkflowExecutionResult{
		scheduler.PolicySequential:      diamondResult(scheduler.PolicySequential, 100, 4),
		scheduler.PolicyDependencyAware: diamondResult(scheduler.PolicyDependencyAware, 40, 3),
		scheduler.PolicyParallel:        diamondResult(scheduler.PolicyParallel, 35, 3),
	}

	first := BuildReport(results, 4).Render()
	second := BuildReport(results, 4).Render()
	assert.Equal(t, first, second)

	// Policies render in sorted-name order: dependency_aware, parallel, sequential.
	depIdx := strings.Index(first, "[dependency_aware]")
	parIdx := strings.Index(first, "[parallel]")
	seqIdx := strings.Index(first, "[sequential]")
	assert.True(t, depIdx < parIdx)
	assert.True(t, parIdx < seqIdx)
}
