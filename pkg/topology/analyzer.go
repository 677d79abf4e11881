// Package topology computes execution order, batching, and critical-path
// statistics over a loaded DAG.
package topology

import (
	"errors"
	"fmt"
	"sort"

	"github.com/tarsy-labs/dagrunner/pkg/dag"
)

// ErrCycle is returned when the DAG contains a cycle, detected on first
// topological analysis (spec.md §4.1/§4.2).
var ErrCycle = errors.New("cycle detected in DAG")

// ErrScheduling is returned when batching cannot make progress, which (given
// a well-formed edge set) indicates a cycle.
var ErrScheduling = errors.New("scheduling error: batching made no progress")

// Analyzer wraps a loaded DAG and caches the results of topology analysis.
// It is safe for concurrent read-only use once constructed; construction
// itself is not concurrency-safe.
type Analyzer struct {
	d *dag.DAG

	order   []string
	batches [][]string
}

// New builds an Analyzer and eagerly computes and validates topology, so
// that callers learn about a cycle immediately instead of at first use.
func New(d *dag.DAG) (*Analyzer, error) {
	a := &Analyzer{d: d}
	order, err := a.computeOrder()
	if err != nil {
		return nil, err
	}
	a.order = order

	batches, err := a.computeBatches()
	if err != nil {
		return nil, err
	}
	a.batches = batches

	return a, nil
}

// TopologicalOrder returns the cached total ordering of node ids, computed
// via Kahn's algorithm with insertion order as the tie-break among
// simultaneously ready nodes.
func (a *Analyzer) TopologicalOrder() []string {
	out := make([]string, len(a.order))
	copy(out, a.order)
	return out
}

// computeOrder implements Kahn's algorithm.
func (a *Analyzer) computeOrder() ([]string, error) {
	inDegree := make(map[string]int, a.d.Len())
	pos := make(map[string]int, a.d.Len())
	for i, id := range a.d.NodeIDs() {
		inDegree[id] = len(a.d.Predecessors(id))
		pos[id] = i
	}

	// Queue preserves insertion order among ready nodes: the initial roots
	// and the nodes freed by each pop are appended in insertion order, and
	// popped from the front, so ties resolve to insertion order.
	queue := make([]string, 0, a.d.Len())
	for _, id := range a.d.NodeIDs() {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	order := make([]string, 0, a.d.Len())
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)

		var ready []string
		for _, next := range a.d.Successors(id) {
			inDegree[next]--
			if inDegree[next] == 0 {
				ready = append(ready, next)
			}
		}
		sort.Slice(ready, func(i, j int) bool { return pos[ready[i]] < pos[ready[j]] })
		queue = append(queue, ready...)
	}

	if len(order) != a.d.Len() {
		return nil, fmt.Errorf("%w: topological sort produced %d of %d nodes", ErrCycle, len(order), a.d.Len())
	}
	return order, nil
}

// ExecutionBatches returns the cached layered batches. Batch k+1 contains
// exactly the nodes whose full predecessor set lies in batches 0..k.
func (a *Analyzer) ExecutionBatches() [][]string {
	out := make([][]string, len(a.batches))
	for i, b := range a.batches {
		out[i] = append([]string(nil), b...)
	}
	return out
}

// computeBatches performs layered BFS using reverse adjacency.
func (a *Analyzer) computeBatches() ([][]string, error) {
	remaining := make(map[string]int, a.d.Len())
	for _, id := range a.d.NodeIDs() {
		remaining[id] = len(a.d.Predecessors(id))
	}

	done := make(map[string]bool, a.d.Len())
	var batches [][]string

	for len(done) < a.d.Len() {
		var batch []string
		for _, id := range a.d.NodeIDs() {
			if !done[id] && remaining[id] == 0 {
				batch = append(batch, id)
			}
		}
		if len(batch) == 0 {
			return nil, fmt.Errorf("%w", ErrScheduling)
		}

		for _, id := range batch {
			done[id] = true
		}
		for _, id := range batch {
			for _, next := range a.d.Successors(id) {
				if !done[next] {
					remaining[next]--
				}
			}
		}

		batches = append(batches, batch)
	}

	return batches, nil
}

// Dependencies returns the direct predecessors of id.
func (a *Analyzer) Dependencies(id string) []string {
	return a.d.Predecessors(id)
}

// Dependents returns the direct successors of id.
func (a *Analyzer) Dependents(id string) []string {
	return a.d.Successors(id)
}

// CriticalPath returns the longest directed path in the DAG by node count,
// in execution order; its length is the number of nodes in the returned slice.
func (a *Analyzer) CriticalPath() []string {
	dist := make(map[string]int, a.d.Len())
	prev := make(map[string]string, a.d.Len())

	for _, id := range a.order {
		if _, ok := dist[id]; !ok {
			dist[id] = 1
		}
		for _, next := range a.d.Successors(id) {
			if dist[id]+1 > dist[next] {
				dist[next] = dist[id] + 1
				prev[next] = id
			}
		}
	}

	var best string
	bestDist := 0
	for _, id := range a.order {
		if dist[id] > bestDist {
			bestDist = dist[id]
			best = id
		}
	}
	if best == "" {
		return nil
	}

	var path []string
	for cur := best; cur != ""; {
		path = append([]string{cur}, path...)
		p, ok := prev[cur]
		if !ok {
			break
		}
		cur = p
	}
	return path
}

// NodesByType returns node ids whose type tag matches t, in insertion order.
func (a *Analyzer) NodesByType(t dag.TypeTag) []string {
	var out []string
	for _, n := range a.d.Nodes() {
		if n.Type == t {
			out = append(out, n.ID)
		}
	}
	return out
}

// NodesByAgent returns node ids whose agent name matches agent exactly, in
// insertion order.
func (a *Analyzer) NodesByAgent(agent string) []string {
	var out []string
	for _, n := range a.d.Nodes() {
		if n.Agent == agent {
			out = append(out, n.ID)
		}
	}
	return out
}

// Stats summarizes graph-level statistics.
type Stats struct {
	NodeCount        int
	EdgeCount        int
	UniqueAgentCount int
	NodesByType      map[dag.TypeTag]int
	EdgesByType      map[string]int
	MaxDepth         int
	CriticalPathLen  int
}

// Statistics computes the Stats snapshot described in spec.md §4.2.
func (a *Analyzer) Statistics() Stats {
	s := Stats{
		NodeCount:   a.d.Len(),
		NodesByType: make(map[dag.TypeTag]int),
		EdgesByType: make(map[string]int),
	}

	agents := make(map[string]bool)
	for _, n := range a.d.Nodes() {
		s.NodesByType[n.Type]++
		if n.Agent != "" {
			agents[n.Agent] = true
		}
	}
	s.UniqueAgentCount = len(agents)

	edges := a.d.Edges()
	s.EdgeCount = len(edges)
	for _, e := range edges {
		s.EdgesByType[e.EdgeType]++
	}

	s.MaxDepth = a.maxDepthFromRoots()
	s.CriticalPathLen = len(a.CriticalPath())

	return s
}

// maxDepthFromRoots runs BFS from every in-degree-0 node and returns the
// maximum depth reached.
func (a *Analyzer) maxDepthFromRoots() int {
	depth := make(map[string]int, a.d.Len())
	var queue []string
	for _, id := range a.d.NodeIDs() {
		if len(a.d.Predecessors(id)) == 0 {
			depth[id] = 0
			queue = append(queue, id)
		}
	}

	maxDepth := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if depth[id] > maxDepth {
			maxDepth = depth[id]
		}
		for _, next := range a.d.Successors(id) {
			if d, visited := depth[next]; !visited || depth[id]+1 > d {
				depth[next] = depth[id] + 1
				queue = append(queue, next)
			}
		}
	}
	return maxDepth
}
