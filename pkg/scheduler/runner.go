// Package scheduler drives execution of a loaded DAG's nodes against an
// inference client, according to a configurable policy. It owns the result
// map and the completed/failed node sets — the only mutable shared state in
// the system (spec.md §5).
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tarsy-labs/dagrunner/pkg/dag"
	"github.com/tarsy-labs/dagrunner/pkg/llmclient"
	"github.com/tarsy-labs/dagrunner/pkg/prompt"
	"github.com/tarsy-labs/dagrunner/pkg/tools"
	"github.com/tarsy-labs/dagrunner/pkg/topology"
)

// Scheduler executes a single DAG under a single Config. A Scheduler is not
// reusable across concurrent Run calls: construct one per run.
type Scheduler struct {
	d        *dag.DAG
	analyzer *topology.Analyzer
	client   llmclient.Client
	cfg      Config
	taskDesc string

	mu        sync.Mutex
	results   map[string]NodeExecutionResult
	completed map[string]bool
	failed    map[string]bool
}

// New constructs a Scheduler. Configuration errors and DAG structural
// errors (cycles) are both fatal at construction (spec.md §7).
func New(d *dag.DAG, client llmclient.Client, cfg Config, taskDescription string) (*Scheduler, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	analyzer, err := topology.New(d)
	if err != nil {
		return nil, fmt.Errorf("scheduler: %w", err)
	}

	return &Scheduler{
		d:         d,
		analyzer:  analyzer,
		client:    client,
		cfg:       cfg,
		taskDesc:  taskDescription,
		results:   make(map[string]NodeExecutionResult),
		completed: make(map[string]bool),
		failed:    make(map[string]bool),
	}, nil
}

// Run executes the DAG to completion under the configured policy and
// returns the workflow-level outcome.
func (s *Scheduler) Run(ctx context.Context) WorkflowExecutionResult {
	runID := uuid.New().String()
	started := time.Now()
	logger := slog.With("run_id", runID, "policy", s.cfg.Policy, "nodes", s.d.Len())
	logger.Info("scheduler: run starting")

	batches := s.planBatches()

	for i, batch := range batches {
		logger.Info("scheduler: executing batch", "index", i, "size", len(batch))
		s.executeBatch(ctx, batch)
	}

	result := s.finalize(runID, s.cfg.Policy, started, batches)
	logger.Info("scheduler: run finished",
		"success", result.Success, "nodes_executed", result.NodesExecuted, "total_tokens", result.TotalTokens)
	return result
}

// planBatches returns the ordered groups of node ids this run will execute.
// sequential yields one singleton batch per node, in topological order;
// dependency_aware and parallel yield the layered batches from C2 — they
// differ only in how much of a batch may run concurrently, not in batch
// membership (spec.md §4.6).
func (s *Scheduler) planBatches() [][]string {
	if s.cfg.Policy == PolicySequential {
		order := s.analyzer.TopologicalOrder()
		batches := make([][]string, len(order))
		for i, id := range order {
			batches[i] = []string{id}
		}
		return batches
	}
	return s.analyzer.ExecutionBatches()
}

// executeBatch runs every node in batch, bounded by the policy's effective
// concurrency, and merges their results into the scheduler's shared state
// once all have completed. Per spec.md §5, within-batch ordering is not
// observable: results are collected via a channel and merged by the single
// calling goroutine rather than written concurrently from worker goroutines.
func (s *Scheduler) executeBatch(ctx context.Context, batch []string) {
	maxParallel := s.cfg.effectiveMaxParallel()
	if maxParallel <= 0 {
		maxParallel = 1
	}

	resultsCh := make(chan NodeExecutionResult, len(batch))
	sem := make(chan struct{}, maxParallel)
	var wg sync.WaitGroup

	for _, id := range batch {
		wg.Add(1)
		sem <- struct{}{}
		go func(nodeID string) {
			defer wg.Done()
			defer func() { <-sem }()
			resultsCh <- s.executeNodeWithRetry(ctx, nodeID)
		}(id)
	}

	wg.Wait()
	close(resultsCh)

	s.mu.Lock()
	defer s.mu.Unlock()
	for r := range resultsCh {
		s.results[r.NodeID] = r
		if r.Failed() {
			s.failed[r.NodeID] = true
		} else {
			s.completed[r.NodeID] = true
		}
	}
}

// executeNodeWithRetry executes a single node, retrying with the same
// prompt up to cfg.MaxRetries times if cfg.RetryFailed is set and the node
// keeps failing.
func (s *Scheduler) executeNodeWithRetry(ctx context.Context, nodeID string) NodeExecutionResult {
	node, ok := s.d.Node(nodeID)
	if !ok {
		return NodeExecutionResult{NodeID: nodeID, Error: "node not found in DAG"}
	}

	attempts := 0
	var result NodeExecutionResult
	for {
		attempts++
		result = s.executeNode(ctx, node)
		result.Attempts = attempts

		if !result.Failed() || !s.cfg.RetryFailed || attempts > s.cfg.MaxRetries {
			break
		}
		slog.Info("scheduler: retrying failed node", "node_id", nodeID, "attempt", attempts)
	}
	return result
}

// executeNode runs the per-node classification branch described in
// spec.md §4.6: agent_response nodes compose a prompt and call the
// inference client; every other node type is an observation site and
// produces a simulated result without a network call.
func (s *Scheduler) executeNode(ctx context.Context, node *dag.Node) NodeExecutionResult {
	start := time.Now()

	result := NodeExecutionResult{
		NodeID:          node.ID,
		Agent:           node.Agent,
		NodeType:        string(node.Type),
		OriginalContent: node.Content,
		StartedAt:       start,
		DependenciesMet: s.dependenciesMet(node.ID),
	}

	if node.Type != dag.TypeAgentResponse {
		result.GeneratedContent = simulatedContentPrefix + string(node.Type) + "]"
		result.EndedAt = time.Now()
		result.LatencyMS = result.EndedAt.Sub(start).Milliseconds()
		return result
	}

	predecessors := s.d.Predecessors(node.ID)
	composed := prompt.Compose(node, predecessors, s.predecessorLookup, s.taskDesc)

	var toolSchemas []llmclient.ToolSchema
	if s.cfg.EnableTools {
		toolSchemas = tools.ForAgent(node.Agent)
	}

	req := llmclient.Request{
		NodeID:      node.ID,
		Prompt:      composed,
		AgentName:   node.Agent,
		NodeType:    string(node.Type),
		MaxTokens:   s.cfg.MaxTokens,
		Temperature: s.cfg.Temperature,
		Tools:       toolSchemas,
	}

	resp := s.client.Generate(ctx, req)

	result.GeneratedContent = resp.Content
	result.TokensUsed = resp.TokensUsed
	result.ToolCalls = resp.ToolCalls
	result.EndedAt = time.Now()
	result.LatencyMS = result.EndedAt.Sub(start).Milliseconds()
	if resp.FinishReason == llmclient.FinishError {
		result.Error = resp.Content
	}
	return result
}

// dependenciesMet reports whether every direct predecessor of nodeID already
// has a recorded result. Under normal batch-ordered execution this is
// always true; it exists as an anomaly detector (spec.md §3/§8 invariant 3).
func (s *Scheduler) dependenciesMet(nodeID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, pred := range s.d.Predecessors(nodeID) {
		if !s.completed[pred] && !s.failed[pred] {
			return false
		}
	}
	return true
}

// predecessorLookup adapts the scheduler's result map to prompt.ResultLookup.
// Failed predecessors are reported as absent: spec.md §4.3's context block
// silently skips them, and §8's boundary cases require a failed node's
// context to be omitted from its successors' prompts.
func (s *Scheduler) predecessorLookup(nodeID string) (prompt.PredecessorResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.results[nodeID]
	if !ok || r.Failed() {
		return prompt.PredecessorResult{}, false
	}
	return prompt.PredecessorResult{AgentName: r.Agent, GeneratedContent: r.GeneratedContent}, true
}

// finalize assembles the WorkflowExecutionResult from accumulated state.
func (s *Scheduler) finalize(runID string, policy Policy, started time.Time, batches [][]string) WorkflowExecutionResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	finished := time.Now()

	var results []NodeExecutionResult
	totalTokens := 0
	for _, batch := range batches {
		for _, id := range batch {
			r := s.results[id]
			results = append(results, r)
			totalTokens += r.TokensUsed
		}
	}

	var completedIDs, failedIDs []string
	for _, id := range s.d.NodeIDs() {
		switch {
		case s.completed[id]:
			completedIDs = append(completedIDs, id)
		case s.failed[id]:
			failedIDs = append(failedIDs, id)
		}
	}

	return WorkflowExecutionResult{
		RunID:           runID,
		TaskID:          s.d.Metadata.TaskID,
		TaskDescription: s.d.Metadata.TaskDescription,
		Policy:          policy,
		Success:         len(s.failed) == 0,
		Results:         results,
		CompletedIDs:    completedIDs,
		FailedIDs:       failedIDs,
		TotalNodes:      s.d.Len(),
		TotalBatches:    len(batches),
		NodesExecuted:   len(s.completed),
		TotalTokens:     totalTokens,
		TotalTimeMS:     finished.Sub(started).Milliseconds(),
		StartedAt:       started,
		FinishedAt:      finished,
	}
}
