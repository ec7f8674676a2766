package rerank

import (
	"math"
	"sort"

	"github.com/groundwire/orchestrator/domain/graphmodel"
)

// structuralWeights gives the (textWeight, structuralWeight) pair per
// complexity class used to fuse BM25 text relevance with structural
// embedding similarity.
var structuralWeights = map[graphmodel.QueryComplexity][2]float64{
	graphmodel.ComplexityEntityLookup: {0.9, 0.1},
	graphmodel.ComplexitySingleHop:    {0.6, 0.4},
	graphmodel.ComplexityMultiHop:     {0.3, 0.7},
	graphmodel.ComplexityAggregate:    {0.4, 0.6},
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// StructuralRerank fuses text score (already populated on each candidate,
// e.g. by BM25Rerank) with cosine similarity between queryVector and each
// candidate's structural embedding, weighted by complexity.
func StructuralRerank(complexity graphmodel.QueryComplexity, queryVector []float32, candidates []graphmodel.Candidate) []graphmodel.Candidate {
	weights, ok := structuralWeights[complexity]
	if !ok {
		weights = [2]float64{0.5, 0.5}
	}
	textWeight, structWeight := weights[0], weights[1]

	maxText := 0.0
	for _, c := range candidates {
		if c.Score > maxText {
			maxText = c.Score
		}
	}
	if maxText == 0 {
		maxText = 1
	}

	out := make([]graphmodel.Candidate, len(candidates))
	copy(out, candidates)
	for i := range out {
		textNorm := out[i].Score / maxText
		structSim := cosineSimilarity(queryVector, out[i].Embedding)
		out[i].Score = textWeight*textNorm + structWeight*structSim
	}
	sortByScoreDesc(out)
	return out
}

// ReciprocalRankFusion merges multiple ranked candidate lists into one,
// scoring each candidate's rank position across sources as 1/(k+rank) summed
// over every source it appears in. k=60 is the standard RRF constant.
func ReciprocalRankFusion(lists [][]graphmodel.Candidate, k int) []graphmodel.Candidate {
	if k <= 0 {
		k = 60
	}
	scores := map[string]float64{}
	items := map[string]graphmodel.Candidate{}

	for _, list := range lists {
		for rank, c := range list {
			key := c.ID
			if key == "" {
				key = c.Name
			}
			scores[key] += 1.0 / float64(k+rank+1)
			if _, seen := items[key]; !seen {
				items[key] = c
			}
		}
	}

	merged := make([]graphmodel.Candidate, 0, len(items))
	for key, c := range items {
		c.Score = scores[key]
		merged = append(merged, c)
	}
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	return merged
}
