// Package tools maps a replayed agent's role to the set of function-calling
// tools it is allowed to invoke during replay. The catalog is intentionally
// static: spec.md §4.3 treats tool availability as a property of the agent's
// name, not of the trace being replayed.
package tools

import (
	"strings"

	"github.com/tarsy-labs/dagrunner/pkg/llmclient"
)

// rule pairs a case-insensitive substring match against an agent name with
// the tool set that agent is granted. Rules are evaluated in order; the
// first match wins.
type rule struct {
	substr string
	tools  []llmclient.ToolSchema
}

var catalog = []rule{
	{substr: "supervisor", tools: supervisorTools()},
	{substr: "spotify", tools: spotifyTools()},
}

// ForAgent returns the tool schemas available to agentName. Matching is a
// case-insensitive substring test against the rule table; an agent matching
// no rule gets no tools, which is the expected default for utility or
// system-role participants in a replayed trace.
func ForAgent(agentName string) []llmclient.ToolSchema {
	lower := strings.ToLower(agentName)
	for _, r := range catalog {
		if strings.Contains(lower, r.substr) {
			return r.tools
		}
	}
	return nil
}

func supervisorTools() []llmclient.ToolSchema {
	return []llmclient.ToolSchema{
		{
			Name:        "delegate_to_agent",
			Description: "Hand off the current task to a named sub-agent for specialized handling.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"agent_name": map[string]any{
						"type":        "string",
						"description": "Name of the sub-agent to delegate to.",
					},
					"instructions": map[string]any{
						"type":        "string",
						"description": "Task instructions for the delegated agent.",
					},
				},
				"required": []any{"agent_name", "instructions"},
			},
		},
	}
}

func spotifyTools() []llmclient.ToolSchema {
	return []llmclient.ToolSchema{
		{
			Name:        "search_tracks",
			Description: "Search the Spotify catalog for tracks matching a query.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{
						"type":        "string",
						"description": "Free-text search query.",
					},
					"limit": map[string]any{
						"type":        "integer",
						"description": "Maximum number of results to return.",
						"default":     10,
					},
				},
				"required": []any{"query"},
			},
		},
		{
			Name:        "show_balance",
			Description: "Show the current account balance for the active user.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
	}
}

// Describe renders a human-readable summary of a tool schema list for
// diagnostic output. It mirrors the
// deterministic, sorted-by-declaration-order rendering the rest of the
// ecosystem uses for tool descriptions (see DESIGN.md).
func Describe(schemas []llmclient.ToolSchema) string {
	if len(schemas) == 0 {
		return "No tools available."
	}

	var sb strings.Builder
	for i, t := range schemas {
		sb.WriteString(t.Name)
		if t.Description != "" {
			sb.WriteString(": ")
			sb.WriteString(t.Description)
		}
		if i < len(schemas)-1 {
			sb.WriteString("; ")
		}
	}
	return sb.String()
}
