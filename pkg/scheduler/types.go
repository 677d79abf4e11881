package scheduler

import (
	"time"

	"github.com/tarsy-labs/dagrunner/pkg/llmclient"
)

// sentinel content emitted for non-agent-response nodes, which are
// observation sites rather than model invocations (spec.md §4.6).
const simulatedContentPrefix = "[Simulated: "

// NodeExecutionResult records the outcome of executing a single node.
type NodeExecutionResult struct {
	NodeID           string               `json:"node_id"`
	Agent            string               `json:"agent"`
	NodeType         string               `json:"node_type"`
	OriginalContent  string               `json:"original_content"`
	GeneratedContent string               `json:"generated_content"`
	TokensUsed       int                  `json:"tokens_used"`
	StartedAt        time.Time            `json:"started_at"`
	EndedAt          time.Time            `json:"ended_at"`
	LatencyMS        int64                `json:"latency_ms"`
	Error            string               `json:"error,omitempty"`
	ToolCalls        []llmclient.ToolCall `json:"tool_calls,omitempty"`
	Attempts         int                  `json:"attempts"`

	// DependenciesMet is false iff this node was visited before all of its
	// direct predecessors had a recorded result (completed or failed). Under
	// normal batch-ordered execution this is always true; spec.md §3 treats
	// a false value as an anomaly worth flagging, not a fatal condition.
	DependenciesMet bool `json:"dependencies_met"`
}

// Failed reports whether this node's execution is considered failed.
func (r NodeExecutionResult) Failed() bool {
	return r.Error != ""
}

// WorkflowExecutionResult is the top-level outcome of running a policy over
// a DAG once.
type WorkflowExecutionResult struct {
	RunID           string `json:"run_id"`
	TaskID          string `json:"task_id"`
	TaskDescription string `json:"task_description"`

	Policy        Policy                `json:"policy"`
	Success       bool                  `json:"success"`
	Error         string                `json:"error,omitempty"`
	Results       []NodeExecutionResult `json:"results"`
	CompletedIDs  []string              `json:"completed_ids"`
	FailedIDs     []string              `json:"failed_ids"`
	TotalNodes    int                   `json:"total_nodes"`
	TotalBatches  int                   `json:"total_batches"`
	NodesExecuted int                   `json:"nodes_executed"`
	TotalTokens   int                   `json:"total_tokens"`
	TotalTimeMS   int64                 `json:"total_time_ms"`
	StartedAt     time.Time             `json:"started_at"`
	FinishedAt    time.Time             `json:"finished_at"`
}
