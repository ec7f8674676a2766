package rerank

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/groundwire/orchestrator/domain/graphmodel"
)

func TestBM25Rerank_OrdersByRelevance(t *testing.T) {
	candidates := []graphmodel.Candidate{
		{ID: "a", Name: "payment service handles billing"},
		{ID: "b", Name: "unrelated inventory tracker"},
		{ID: "c", Name: "payment gateway billing integration"},
	}
	ranked := BM25Rerank("payment billing", candidates)
	require.Len(t, ranked, 3)
	assert.NotEqual(t, "b", ranked[0].ID)
}

func TestDensityRerank_FallsBackBelowMinCandidates(t *testing.T) {
	candidates := []graphmodel.Candidate{
		{ID: "a", Name: "payment service"},
		{ID: "b", Name: "billing service"},
	}
	cfg := DensityConfig{Lambda: 0.7, MinCandidates: 5, Enabled: true}
	got := DensityRerank("payment", candidates, cfg)
	want := BM25Rerank("payment", candidates)
	assert.Equal(t, want[0].ID, got[0].ID)
}

func TestDensityRerank_DiversifiesDuplicateContent(t *testing.T) {
	candidates := []graphmodel.Candidate{
		{ID: "a", Name: "payment service billing gateway"},
		{ID: "b", Name: "payment service billing gateway"},
		{ID: "c", Name: "inventory tracker warehouse stock"},
		{ID: "d", Name: "payment service billing gateway"},
	}
	cfg := DensityConfig{Lambda: 0.3, MinCandidates: 2, Enabled: true}
	got := DensityRerank("payment billing", candidates, cfg)
	require.Len(t, got, 4)
	// The diverse item should be pulled forward ahead of at least one near-duplicate.
	idxOfC := indexOf(got, "c")
	idxOfLastDup := indexOf(got, "d")
	assert.Less(t, idxOfC, idxOfLastDup)
}

func indexOf(candidates []graphmodel.Candidate, id string) int {
	for i, c := range candidates {
		if c.ID == id {
			return i
		}
	}
	return -1
}

func TestStructuralRerank_WeightsByComplexity(t *testing.T) {
	// "a" wins on text score but is structurally unrelated to the query;
	// "b" is a weak text match but structurally identical to the query.
	candidates := []graphmodel.Candidate{
		{ID: "a", Score: 1.0, Embedding: []float32{0, 1, 0}},
		{ID: "b", Score: 0.1, Embedding: []float32{1, 0, 0}},
	}
	queryVec := []float32{1, 0, 0}

	entityLookup := StructuralRerank(graphmodel.ComplexityEntityLookup, queryVec, candidates)
	assert.Equal(t, "a", entityLookup[0].ID, "entity lookup weights text score heavily (0.9/0.1)")

	multiHop := StructuralRerank(graphmodel.ComplexityMultiHop, queryVec, candidates)
	assert.Equal(t, "b", multiHop[0].ID, "multi-hop weights structural similarity heavily (0.3/0.7)")
}

func TestReciprocalRankFusion_MergesSources(t *testing.T) {
	listA := []graphmodel.Candidate{{ID: "x"}, {ID: "y"}}
	listB := []graphmodel.Candidate{{ID: "y"}, {ID: "z"}}

	merged := ReciprocalRankFusion([][]graphmodel.Candidate{listA, listB}, 60)
	require.Len(t, merged, 3)
	assert.Equal(t, "y", merged[0].ID, "y appears near the top of both lists and should rank first")
}
