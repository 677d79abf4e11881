package topology

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsy-labs/dagrunner/pkg/dag"
)

func mustLoad(t *testing.T, doc string) *dag.DAG {
	t.Helper()
	d, err := dag.Load([]byte(doc))
	require.NoError(t, err)
	return d
}

const diamondDoc = `{
  "nodes": [
    {"id": "A", "type": "agent_response", "content": "a", "line_number": 1},
    {"id": "B", "type": "agent_response", "content": "b", "line_number": 2},
    {"id": "C", "type": "agent_response", "content": "c", "line_number": 3},
    {"id": "D", "type": "agent_response", "content": "d", "line_number": 4}
  ],
  "edges": [
    {"source": "A", "target": "B", "edge_type": "sequential"},
    {"source": "A", "target": "C", "edge_type": "sequential"},
    {"source": "B", "target": "D", "edge_type": "sequential"},
    {"source": "C", "target": "D", "edge_type": "sequential"}
  ]
}`

func TestAnalyzer_Diamond_Batches(t *testing.T) {
	d := mustLoad(t, diamondDoc)
	a, err := New(d)
	require.NoError(t, err)

	batches := a.ExecutionBatches()
	require.Len(t, batches, 3)
	assert.Equal(t, []string{"A"}, batches[0])
	assert.ElementsMatch(t, []string{"B", "C"}, batches[1])
	assert.Equal(t, []string{"D"}, batches[2])
}

func TestAnalyzer_Diamond_CriticalPath(t *testing.T) {
	d := mustLoad(t, diamondDoc)
	a, err := New(d)
	require.NoError(t, err)

	path := a.CriticalPath()
	require.Len(t, path, 3)
	assert.Equal(t, "A", path[0])
	assert.Equal(t, "D", path[2])
}

func TestAnalyzer_Cycle(t *testing.T) {
	doc := `{
	  "nodes": [
	    {"id": "A", "type": "system", "content": "", "line_number": 1},
	    {"id": "B", "type": "system", "content": "", "line_number": 2},
	    {"id": "C", "type": "system", "content": "", "line_number": 3}
	  ],
	  "edges": [
	    {"source": "A", "target": "B", "edge_type": "sequential"},
	    {"source": "B", "target": "C", "edge_type": "sequential"},
	    {"source": "C", "target": "A", "edge_type": "sequential"}
	  ]
	}`
	d := mustLoad(t, doc)
	_, err := New(d)
	require.ErrorIs(t, err, ErrCycle)
}

func TestAnalyzer_EmptyDAG(t *testing.T) {
	d := mustLoad(t, `{"nodes": [], "edges": []}`)
	a, err := New(d)
	require.NoError(t, err)

	assert.Empty(t, a.TopologicalOrder())
	assert.Empty(t, a.ExecutionBatches())
}

func TestAnalyzer_SingleNode(t *testing.T) {
	d := mustLoad(t, `{"nodes": [{"id": "only", "type": "agent_response", "content": "", "line_number": 1}], "edges": []}`)
	a, err := New(d)
	require.NoError(t, err)

	batches := a.ExecutionBatches()
	require.Len(t, batches, 1)
	assert.Equal(t, []string{"only"}, batches[0])
}

func TestAnalyzer_LinearChain(t *testing.T) {
	doc := `{
	  "nodes": [
	    {"id": "n1", "type": "agent_response", "content": "", "line_number": 1},
	    {"id": "n2", "type": "agent_response", "content": "", "line_number": 2},
	    {"id": "n3", "type": "agent_response", "content": "", "line_number": 3},
	    {"id": "n4", "type": "agent_response", "content": "", "line_number": 4},
	    {"id": "n5", "type": "agent_response", "content": "", "line_number": 5}
	  ],
	  "edges": [
	    {"source": "n1", "target": "n2", "edge_type": "sequential"},
	    {"source": "n2", "target": "n3", "edge_type": "sequential"},
	    {"source": "n3", "target": "n4", "edge_type": "sequential"},
	    {"source": "n4", "target": "n5", "edge_type": "sequential"}
	  ]
	}`
	d := mustLoad(t, doc)
	a, err := New(d)
	require.NoError(t, err)

	batches := a.ExecutionBatches()
	require.Len(t, batches, 5)
	for _, b := range batches {
		assert.Len(t, b, 1)
	}
}

func TestAnalyzer_Statistics(t *testing.T) {
	d := mustLoad(t, diamondDoc)
	a, err := New(d)
	require.NoError(t, err)

	stats := a.Statistics()
	assert.Equal(t, 4, stats.NodeCount)
	assert.Equal(t, 4, stats.EdgeCount)
	assert.Equal(t, 3, stats.CriticalPathLen)
	assert.Equal(t, 4, stats.NodesByType[dag.TypeAgentResponse])
}

func TestAnalyzer_DependenciesAndDependents(t *testing.T) {
	d := mustLoad(t, diamondDoc)
	a, err := New(d)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"B", "C"}, a.Dependencies("D"))
	assert.ElementsMatch(t, []string{"B", "C"}, a.Dependents("A"))
}
