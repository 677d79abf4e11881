package scheduler

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsy-labs/dagrunner/pkg/dag"
	"github.com/tarsy-labs/dagrunner/pkg/llmclient"
)

// fakeClient is a deterministic, in-memory llmclient.Client for scheduler
// tests. failNodes names nodes whose Generate call should produce an error
// response; everything else succeeds with fixed content and token usage.
// prompts records the last prompt sent for each node.
type fakeClient struct {
	mu        sync.Mutex
	failNodes map[string]bool
	calls     int
	prompts   map[string]string
}

func newFakeClient(failNodes ...string) *fakeClient {
	f := &fakeClient{failNodes: make(map[string]bool), prompts: make(map[string]string)}
	for _, n := range failNodes {
		f.failNodes[n] = true
	}
	return f
}

func (f *fakeClient) CheckHealth(ctx context.Context) bool { return true }
func (f *fakeClient) ListModels(ctx context.Context) ([]string, error) {
	return []string{"fake-model"}, nil
}

func (f *fakeClient) Generate(ctx context.Context, req llmclient.Request) llmclient.Response {
	f.mu.Lock()
	f.calls++
	f.prompts[req.NodeID] = req.Prompt
	f.mu.Unlock()

	if f.failNodes[req.NodeID] {
		return llmclient.Response{NodeID: req.NodeID, Content: "ERROR: simulated failure", FinishReason: llmclient.FinishError}
	}
	return llmclient.Response{NodeID: req.NodeID, Content: "ok-" + req.NodeID, FinishReason: llmclient.FinishNormal, TokensUsed: 10, LatencyMS: 5}
}

func (f *fakeClient) BatchGenerate(ctx context.Context, reqs []llmclient.Request, maxParallel int) []llmclient.Response {
	out := make([]llmclient.Response, len(reqs))
	for i, r := range reqs {
		out[i] = f.Generate(ctx, r)
	}
	return out
}

func (f *fakeClient) Statistics() llmclient.Counters { return llmclient.Counters{} }

const diamondDoc = `{
  "nodes": [
    {"id": "A", "type": "agent_response", "content": "a", "line_number": 1, "agent": "Supervisor"},
    {"id": "B", "type": "agent_response", "content": "b", "line_number": 2, "agent": "Spotify"},
    {"id": "C", "type": "agent_response", "content": "c", "line_number": 3, "agent": "Spotify"},
    {"id": "D", "type": "agent_response", "content": "d", "line_number": 4, "agent": "Supervisor"}
  ],
  "edges": [
    {"source": "A", "target": "B", "edge_type": "sequential"},
    {"source": "A", "target": "C", "edge_type": "sequential"},
    {"source": "B", "target": "D", "edge_type": "sequential"},
    {"source": "C", "target": "D", "edge_type": "sequential"}
  ]
}`

func mustLoadDiamond(t *testing.T) *dag.DAG {
	t.Helper()
	d, err := dag.Load([]byte(diamondDoc))
	require.NoError(t, err)
	return d
}

// cfgWithPolicy returns the documented defaults with only Policy overridden.
func cfgWithPolicy(p Policy) Config {
	c := DefaultConfig()
	c.Policy = p
	return c
}

// S1 — diamond, dependency-aware, mocked OK responses.
func TestScheduler_Diamond_DependencyAware(t *testing.T) {
	d := mustLoadDiamond(t)
	client := newFakeClient()
	s, err := New(d, client, cfgWithPolicy(PolicyDependencyAware), "investigate issue")
	require.NoError(t, err)

	result := s.Run(context.Background())

	assert.True(t, result.Success)
	assert.Equal(t, 4, result.NodesExecuted)
	assert.Equal(t, 3, result.TotalBatches)
	assert.Equal(t, 40, result.TotalTokens)
	assert.Empty(t, result.FailedIDs)
	assert.ElementsMatch(t, []string{"A", "B", "C", "D"}, result.CompletedIDs)
}

// S2 — linear chain, sequential vs dependency-aware produce equal totals.
func TestScheduler_LinearChain_SequentialVsDependencyAware(t *testing.T) {
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
	d, err := dag.Load([]byte(doc))
	require.NoError(t, err)

	seqSched, err := New(d, newFakeClient(), cfgWithPolicy(PolicySequential), "")
	require.NoError(t, err)
	seqResult := seqSched.Run(context.Background())

	depSched, err := New(d, newFakeClient(), cfgWithPolicy(PolicyDependencyAware), "")
	require.NoError(t, err)
	depResult := depSched.Run(context.Background())

	assert.Equal(t, 5, seqResult.TotalBatches)
	assert.Equal(t, 5, depResult.TotalBatches)
	assert.Equal(t, seqResult.TotalTokens, depResult.TotalTokens)
}

// S4 — transport failure isolation: B fails, D's context omits it.
func TestScheduler_TransportFailureIsolation(t *testing.T) {
	d := mustLoadDiamond(t)
	client := newFakeClient("B")
	s, err := New(d, client, cfgWithPolicy(PolicyDependencyAware), "")
	require.NoError(t, err)

	result := s.Run(context.Background())

	assert.False(t, result.Success)
	assert.Equal(t, []string{"B"}, result.FailedIDs)
	assert.ElementsMatch(t, []string{"A", "C", "D"}, result.CompletedIDs)

	var dResult NodeExecutionResult
	for _, r := range result.Results {
		if r.NodeID == "D" {
			dResult = r
		}
	}
	require.NotEmpty(t, dResult.NodeID)
	assert.Contains(t, client.prompts["D"], "ok-C")
	assert.NotContains(t, client.prompts["D"], "ok-B")
}

// S5 — non-agent node is simulated without an HTTP call.
func TestScheduler_NonAgentNode_Simulated(t *testing.T) {
	doc := `{"nodes": [{"id": "x", "type": "code_execution", "content": "print(1)", "line_number": 1}], "edges": []}`
	d, err := dag.Load([]byte(doc))
	require.NoError(t, err)

	client := newFakeClient()
	s, err := New(d, client, DefaultConfig(), "")
	require.NoError(t, err)

	result := s.Run(context.Background())

	require.Len(t, result.Results, 1)
	assert.Equal(t, "[Simulated: code_execution]", result.Results[0].GeneratedContent)
	assert.Equal(t, 0, result.Results[0].TokensUsed)
	assert.Equal(t, 0, client.calls)
}

func TestScheduler_RetryFailedNode(t *testing.T) {
	d := mustLoadDiamond(t)
	client := newFakeClient("B")
	cfg := DefaultConfig()
	cfg.RetryFailed = true
	cfg.MaxRetries = 2
	s, err := New(d, client, cfg, "")
	require.NoError(t, err)

	result := s.Run(context.Background())

	var bResult NodeExecutionResult
	for _, r := range result.Results {
		if r.NodeID == "B" {
			bResult = r
		}
	}
	assert.Equal(t, 3, bResult.Attempts)
	assert.True(t, bResult.Failed())
}

func TestScheduler_EmptyDAG(t *testing.T) {
	d, err := dag.Load([]byte(`{"nodes": [], "edges": []}`))
	require.NoError(t, err)

	s, err := New(d, newFakeClient(), DefaultConfig(), "")
	require.NoError(t, err)

	result := s.Run(context.Background())
	assert.True(t, result.Success)
	assert.Equal(t, 0, result.NodesExecuted)
	assert.Empty(t, result.Results)
}

func TestScheduler_CycleRejectedAtConstruction(t *testing.T) {
	doc := `{
	  "nodes": [
	    {"id": "A", "type": "system", "content": "", "line_number": 1},
	    {"id": "B", "type": "system", "content": "", "line_number": 2}
	  ],
	  "edges": [
	    {"source": "A", "target": "B", "edge_type": "sequential"},
	    {"source": "B", "target": "A", "edge_type": "sequential"}
	  ]
	}`
	d, err := dag.Load([]byte(doc))
	require.NoError(t, err)

	_, err = New(d, newFakeClient(), DefaultConfig(), "")
	require.Error(t, err)
}

func TestScheduler_InvalidConfigRejected(t *testing.T) {
	d := mustLoadDiamond(t)
	cfg := DefaultConfig()
	cfg.Policy = "bogus"
	_, err := New(d, newFakeClient(), cfg, "")
	require.ErrorIs(t, err, ErrConfiguration)
}
