// Package prompt assembles the per-node prompt string a DAG node's inference
// request is built from: a role/system block, a bounded excerpt of prior
// results, a task block for agent-response nodes, and a reference block
// anchored on the node's original recorded content.
package prompt

import (
	"fmt"
	"strings"

	"github.com/tarsy-labs/dagrunner/pkg/dag"
)

// maxPriorContextPredecessors bounds how many predecessors feed the prior
// context block, keeping per-node prompt size independent of trace depth.
const maxPriorContextPredecessors = 3

const (
	priorContextTruncateChars = 200
	referenceTruncateChars    = 300
)

// PredecessorResult is the subset of a prior node's execution result the
// composer needs: its agent name and the text it generated.
type PredecessorResult struct {
	AgentName        string
	GeneratedContent string
}

// ResultLookup resolves a node id to its predecessor result. Nodes absent
// from the lookup (failed, skipped, or not yet executed) are treated as
// silently missing, per spec.md §4.3.
type ResultLookup func(nodeID string) (PredecessorResult, bool)

// Compose builds the prompt for node n, given its ordered list of direct
// predecessor ids (adjacency-list order) and a lookup into already-produced
// results. taskDescription is the workflow-level task description used by
// the task block.
func Compose(n *dag.Node, predecessors []string, results ResultLookup, taskDescription string) string {
	var blocks []string

	blocks = append(blocks, roleBlock(n.Agent))

	if ctx := priorContextBlock(predecessors, results); ctx != "" {
		blocks = append(blocks, ctx)
	}

	if n.Type == dag.TypeAgentResponse {
		blocks = append(blocks, taskBlock(taskDescription))
	}

	blocks = append(blocks, referenceBlock(n.Content))

	return strings.Join(blocks, "\n\n")
}

// roleBlock positions the model via a case-insensitive substring match on
// the agent name, mirroring the tool catalog's rule table (spec.md §6).
func roleBlock(agentName string) string {
	lower := strings.ToLower(agentName)
	switch {
	case strings.Contains(lower, "supervisor"):
		return "You are the supervisor agent, coordinating work across the " +
			"application's specialized sub-agents. You have access to supervisor APIs " +
			"for delegating tasks and aggregating their results."
	case strings.Contains(lower, "spotify"):
		return "You are the Spotify agent, responsible for handling music-related " +
			"requests. You have access to Spotify APIs for searching tracks, managing " +
			"playback, and reading account information."
	default:
		name := agentName
		if name == "" {
			name = "an unspecified"
		}
		return fmt.Sprintf("You are acting as the %s agent in this workflow.", name)
	}
}

func priorContextBlock(predecessors []string, results ResultLookup) string {
	if len(predecessors) == 0 || results == nil {
		return ""
	}

	start := 0
	if len(predecessors) > maxPriorContextPredecessors {
		start = len(predecessors) - maxPriorContextPredecessors
	}

	var sb strings.Builder
	wrote := false
	for _, id := range predecessors[start:] {
		res, ok := results(id)
		if !ok {
			continue
		}
		if !wrote {
			sb.WriteString("=== Previous Context ===\n")
			wrote = true
		}
		sb.WriteString(fmt.Sprintf("[%s]: %s\n", res.AgentName, truncate(res.GeneratedContent, priorContextTruncateChars)))
	}

	if !wrote {
		return ""
	}
	return strings.TrimRight(sb.String(), "\n")
}

func taskBlock(taskDescription string) string {
	var sb strings.Builder
	sb.WriteString("=== Current Task ===\n")
	sb.WriteString(taskDescription)
	sb.WriteString("\n\n=== Your Response ===\n")
	sb.WriteString("Generate the next action for this workflow.")
	return sb.String()
}

func referenceBlock(original string) string {
	return "=== Reference (Original Trace) ===\n" + truncate(original, referenceTruncateChars) + "..."
}

// truncate cuts s to at most n bytes. Trace content is treated as
// byte-indexed rather than rune-indexed, matching the rest of the
// ecosystem's ASCII-biased log truncation helpers.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
