package dag

import (
	"encoding/json"
	"fmt"
	"os"
)

// rawDocument mirrors the on-disk JSON shape described in spec.md §6.
type rawDocument struct {
	Metadata map[string]any `json:"metadata"`
	Nodes    []rawNode      `json:"nodes"`
	Edges    []rawEdge      `json:"edges"`
}

type rawNode struct {
	ID      string `json:"id"`
	Label   string `json:"label"`
	Type    string `json:"type"`
	Content string `json:"content"`
	Line    int    `json:"line_number"`
	Agent   string `json:"agent"`
	Context string `json:"context"`
}

type rawEdge struct {
	Source   string `json:"source"`
	Target   string `json:"target"`
	EdgeType string `json:"edge_type"`
}

// LoadFile reads and parses a DAG JSON document from disk.
func LoadFile(path string) (*DAG, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("dag: read %s: %w", path, err)
	}
	return Load(data)
}

// Load parses a DAG JSON document already read into memory. It validates
// required fields, node uniqueness, and edge endpoint resolution; cycle
// detection is left to the topology package, per spec.md §4.1.
func Load(data []byte) (*DAG, error) {
	var doc rawDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}

	d := &DAG{
		nodeOrder: make([]string, 0, len(doc.Nodes)),
		nodes:     make(map[string]*Node, len(doc.Nodes)),
		forward:   make(map[string][]string, len(doc.Nodes)),
		reverse:   make(map[string][]string, len(doc.Nodes)),
		edges:     make([]Edge, 0, len(doc.Edges)),
	}
	d.Metadata = parseMetadata(doc.Metadata)

	for i, rn := range doc.Nodes {
		if rn.ID == "" {
			return nil, fmt.Errorf("%w: node[%d] missing id", ErrMalformedInput, i)
		}
		if rn.Type == "" {
			return nil, fmt.Errorf("%w: node %q missing type", ErrMalformedInput, rn.ID)
		}
		if _, exists := d.nodes[rn.ID]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateNode, rn.ID)
		}

		node := &Node{
			ID:      rn.ID,
			Label:   rn.Label,
			Type:    TypeTag(rn.Type),
			Agent:   rn.Agent,
			Content: rn.Content,
			Line:    rn.Line,
			Context: rn.Context,
		}
		node.deriveFlags()

		d.nodes[rn.ID] = node
		d.nodeOrder = append(d.nodeOrder, rn.ID)
		d.forward[rn.ID] = nil
		d.reverse[rn.ID] = nil
	}

	for i, re := range doc.Edges {
		if re.Source == "" || re.Target == "" {
			return nil, fmt.Errorf("%w: edge[%d] missing source/target", ErrMalformedInput, i)
		}
		if _, ok := d.nodes[re.Source]; !ok {
			return nil, fmt.Errorf("%w: edge[%d] source %q", ErrUnknownNode, i, re.Source)
		}
		if _, ok := d.nodes[re.Target]; !ok {
			return nil, fmt.Errorf("%w: edge[%d] target %q", ErrUnknownNode, i, re.Target)
		}
		if re.Source == re.Target {
			return nil, fmt.Errorf("%w: edge[%d] self-loop on %q", ErrMalformedInput, i, re.Source)
		}

		edgeType := re.EdgeType
		if edgeType == "" {
			edgeType = EdgeSequential
		}

		d.edges = append(d.edges, Edge{Source: re.Source, Target: re.Target, EdgeType: edgeType})
		d.forward[re.Source] = append(d.forward[re.Source], re.Target)
		d.reverse[re.Target] = append(d.reverse[re.Target], re.Source)
	}

	return d, nil
}

func parseMetadata(raw map[string]any) Metadata {
	m := Metadata{Raw: raw}
	if raw == nil {
		return m
	}
	if v, ok := raw["task_id"].(string); ok {
		m.TaskID = v
	}
	if v, ok := raw["task_description"].(string); ok {
		m.TaskDescription = v
	}
	if v, ok := raw["numbering"].(string); ok {
		m.Numbering = v
	}
	return m
}
