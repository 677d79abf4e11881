// Package dag loads recorded multi-agent conversation traces into an
// in-memory directed acyclic graph of nodes and ordering edges.
package dag

import (
	"errors"
	"strings"
)

// Node type tags recognized by the core. The loader accepts any non-empty
// type string; it rejects only a missing or empty type.
const (
	TypeAgentResponse TypeTag = "agent_response"
	TypeAgentMessage  TypeTag = "agent_message"
	TypeAgentEntry    TypeTag = "agent_entry"
	TypeAgentExit     TypeTag = "agent_exit"
	TypeAgentReply    TypeTag = "agent_reply"
	TypeCodeExecution TypeTag = "code_execution"
	TypeAPIResponse   TypeTag = "api_response"
	TypeSystem        TypeTag = "system"
)

// TypeTag is a node's type classification.
type TypeTag string

// Edge type tags. This set is open — the loader accepts any string, and an
// empty edge_type defaults to EdgeSequential, since edge semantics are
// advisory to the scheduler.
const (
	EdgeSequential     = "sequential"
	EdgeRequestResp    = "request_response"
	EdgeContextEntry   = "context_entry"
	EdgeContextExit    = "context_exit"
	EdgeExecutionResult = "execution_result"
)

// toolCallPatterns are substrings that mark a node's content as describing
// a tool invocation, per spec.md §3. Matching is case-sensitive against the
// raw content, matching the original dag_parser.py classifier exactly
// ("api_docs" in content or "show_" in content) — AppWorld trace content
// uses snake_case call sites like "apis.api_docs.show_api_descriptions(...)".
var toolCallPatterns = []string{"api_docs", "show_"}

// Node is a single step in a recorded trace: an agent response, a tool/API
// call, or a message exchange.
type Node struct {
	ID      string
	Label   string
	Type    TypeTag
	Agent   string
	Content string
	Line    int
	Context string

	// Derived booleans, computed once at load time.
	IsAgentResponse bool
	IsCodeExecution bool
	IsToolCall      bool
	IsAPICall       bool
}

// deriveFlags populates the derived booleans from the node's type and content.
func (n *Node) deriveFlags() {
	n.IsAgentResponse = n.Type == TypeAgentResponse
	n.IsCodeExecution = n.Type == TypeCodeExecution
	n.IsAPICall = n.Type == TypeAPIResponse

	n.IsToolCall = false
	for _, pattern := range toolCallPatterns {
		if strings.Contains(n.Content, pattern) {
			n.IsToolCall = true
			break
		}
	}
}

// Edge is an ordered, typed dependency between two nodes.
type Edge struct {
	Source   string
	Target   string
	EdgeType string
}

// Metadata is the free-form workflow description. Only TaskID and
// TaskDescription are consulted by the core (prompt composition and
// reporting); everything else is opaque and passed through untouched.
type Metadata struct {
	TaskID          string
	TaskDescription string
	Numbering       string
	Raw             map[string]any
}

// DAG is a fully loaded, validated workflow graph. Nodes and edges are
// immutable once returned by Load.
type DAG struct {
	Metadata Metadata

	// nodeOrder preserves insertion order from the source document; it is
	// the tie-break used by topological sort.
	nodeOrder []string
	nodes     map[string]*Node
	edges     []Edge

	// forward[u] lists the targets of u's outgoing edges, in the order
	// those edges appeared in the source document.
	forward map[string][]string
	// reverse[v] lists the sources of v's incoming edges, same ordering.
	reverse map[string][]string
}

// Errors returned by the loader. Cycle detection is deferred to the
// topology package (spec.md §4.1: "cycle detected later by C2").
var (
	ErrMalformedInput = errors.New("malformed DAG input")
	ErrDuplicateNode  = errors.New("duplicate node id")
	ErrUnknownNode    = errors.New("edge references unknown node")
)

// Node returns the node with the given id, or false if it does not exist.
func (d *DAG) Node(id string) (*Node, bool) {
	n, ok := d.nodes[id]
	return n, ok
}

// Nodes returns all nodes in insertion order. The returned slice is a copy;
// callers may not mutate the DAG through it.
func (d *DAG) Nodes() []*Node {
	out := make([]*Node, 0, len(d.nodeOrder))
	for _, id := range d.nodeOrder {
		out = append(out, d.nodes[id])
	}
	return out
}

// NodeIDs returns node ids in insertion order.
func (d *DAG) NodeIDs() []string {
	out := make([]string, len(d.nodeOrder))
	copy(out, d.nodeOrder)
	return out
}

// Edges returns all edges in the order they appeared in the source document.
func (d *DAG) Edges() []Edge {
	out := make([]Edge, len(d.edges))
	copy(out, d.edges)
	return out
}

// Successors returns the direct dependents of id, in source-document order.
func (d *DAG) Successors(id string) []string {
	return append([]string(nil), d.forward[id]...)
}

// Predecessors returns the direct dependencies of id, in source-document order.
func (d *DAG) Predecessors(id string) []string {
	return append([]string(nil), d.reverse[id]...)
}

// Len returns the number of nodes in the DAG.
func (d *DAG) Len() int {
	return len(d.nodeOrder)
}
