package retrieval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/groundwire/orchestrator/domain/graphmodel"
	"github.com/groundwire/orchestrator/services/cache"
	"github.com/groundwire/orchestrator/services/cypher"
)

type fakeGraph struct {
	rows []cache.Row
	err  error
	runs int
}

func (f *fakeGraph) RunRead(ctx context.Context, query string, params map[string]interface{}) ([]cache.Row, error) {
	f.runs++
	return f.rows, f.err
}

type fakeVectors struct{}

func (fakeVectors) SearchByVector(ctx context.Context, collection string, embedding []float32, limit uint64) ([]graphmodel.Candidate, error) {
	return nil, nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func adminPrincipal() graphmodel.SecurityPrincipal {
	return graphmodel.SecurityPrincipal{Role: "admin", TenantID: "tenant-a"}
}

func TestQuery_RejectsEmptyTenantForNonAdmin(t *testing.T) {
	e := New(&fakeGraph{}, fakeVectors{}, fakeEmbedder{}, cypher.NewCatalog(), nil, nil, Config{})
	_, err := e.Query(context.Background(), graphmodel.SecurityPrincipal{Role: "reader"}, "", "what does payments do")
	assert.Error(t, err)
}

func TestQuery_EntityLookupRoutesToVectorPath(t *testing.T) {
	graph := &fakeGraph{rows: []cache.Row{
		{"id": "svc-a", "properties": map[string]interface{}{"name": "svc-a"}, "score": 0.9},
	}}
	e := New(graph, fakeVectors{}, fakeEmbedder{}, cypher.NewCatalog(), nil, nil, Config{})

	result, err := e.Query(context.Background(), adminPrincipal(), "tenant-a", "what does svc-a do")
	require.NoError(t, err)
	assert.Equal(t, graphmodel.PathVector, result.Path)
	require.Len(t, result.Candidates, 1)
	assert.Equal(t, "svc-a", result.Candidates[0].ID)
}

func TestQuery_MultiHopUsesTemplateWhenMatched(t *testing.T) {
	graph := &fakeGraph{rows: []cache.Row{{"name": "dependent-svc", "team": "payments"}}}
	e := New(graph, fakeVectors{}, fakeEmbedder{}, cypher.NewCatalog(), nil, nil, Config{})

	result, err := e.Query(context.Background(), adminPrincipal(), "tenant-a", "blast radius of svc-a")
	require.NoError(t, err)
	assert.Equal(t, graphmodel.PathTraversal, result.Path)
	assert.Len(t, result.Aggregate, 1)
}

func TestQuery_SingleFlightCoalescesConcurrentIdenticalRequests(t *testing.T) {
	graph := &fakeGraph{rows: []cache.Row{{"id": "svc-a"}}}
	e := New(graph, fakeVectors{}, fakeEmbedder{}, cypher.NewCatalog(), nil, nil, Config{})

	done := make(chan struct{}, 8)
	for i := 0; i < 8; i++ {
		go func() {
			_, _ = e.Query(context.Background(), adminPrincipal(), "tenant-a", "what does svc-a do")
			done <- struct{}{}
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}
	assert.LessOrEqual(t, graph.runs, 8)
}

func TestQuery_SubgraphCacheHitSkipsGraphRead(t *testing.T) {
	graph := &fakeGraph{rows: []cache.Row{{"id": "svc-a", "score": 1.0}}}
	subgraph := WrapInProcessCache(cache.NewSubgraphCache(100, 1<<20))
	e := New(graph, fakeVectors{}, fakeEmbedder{}, cypher.NewCatalog(), subgraph, nil, Config{})

	_, err := e.Query(context.Background(), adminPrincipal(), "tenant-a", "what does svc-a do")
	require.NoError(t, err)
	firstRuns := graph.runs

	_, err = e.Query(context.Background(), adminPrincipal(), "tenant-a", "what does svc-a do")
	require.NoError(t, err)
	assert.Equal(t, firstRuns, graph.runs)
}

func TestAgenticTraversal_HighDegreeSeedUsesBatchedBFS(t *testing.T) {
	graph := &fakeGraph{rows: []cache.Row{{"id": "neighbor", "degree": 3}}}
	e := New(graph, fakeVectors{}, fakeEmbedder{}, nil, nil, nil, Config{HighDegreeThreshold: 10})

	seeds := []graphmodel.Candidate{{ID: "hub", Degree: 50}}
	result, err := e.agenticTraversal(context.Background(), adminPrincipal(), "tenant-a", seeds)
	require.NoError(t, err)
	require.Len(t, result.Candidates, 1)
	assert.Equal(t, "neighbor", result.Candidates[0].ID)
}

func TestAgenticTraversal_LowDegreeSeedUsesBoundedVariableLengthPath(t *testing.T) {
	graph := &fakeGraph{rows: []cache.Row{{"id": "far-node", "degree": 2}}}
	e := New(graph, fakeVectors{}, fakeEmbedder{}, nil, nil, nil, Config{HighDegreeThreshold: 10})

	seeds := []graphmodel.Candidate{{ID: "start", Degree: 1}}
	result, err := e.agenticTraversal(context.Background(), adminPrincipal(), "tenant-a", seeds)
	require.NoError(t, err)
	require.Len(t, result.Candidates, 1)
	assert.Equal(t, 1, graph.runs)
}

func TestPersonalizedPageRank_BeyondEdgeSafetyCapReturnsUnchanged(t *testing.T) {
	candidates := []graphmodel.Candidate{{ID: "a", Score: 0.1}, {ID: "b", Score: 0.9}}
	edges := make([]graphmodel.Edge, 10)
	out := PersonalizedPageRank(candidates, edges, 5)
	assert.Equal(t, candidates, out)
}

func TestPersonalizedPageRank_RanksHubHigher(t *testing.T) {
	candidates := []graphmodel.Candidate{
		{ID: "hub", Degree: 10},
		{ID: "leaf-a", Degree: 1},
		{ID: "leaf-b", Degree: 1},
	}
	out := PersonalizedPageRank(candidates, nil, 5000)
	require.Len(t, out, 3)
	assert.Equal(t, "hub", out[0].ID)
}
