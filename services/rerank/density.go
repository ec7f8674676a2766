package rerank

import (
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/groundwire/orchestrator/domain/graphmodel"
)

// DensityConfig tunes the MMR-based diversification pass.
type DensityConfig struct {
	Lambda        float64
	MinCandidates int
	Enabled       bool
}

// DefaultDensityConfig mirrors the defaults read by DensityConfigFromEnv when
// no override is present.
func DefaultDensityConfig() DensityConfig {
	return DensityConfig{Lambda: 0.7, MinCandidates: 3, Enabled: true}
}

// DensityConfigFromEnv reads DENSITY_RERANK_LAMBDA, DENSITY_RERANK_MIN_CANDIDATES,
// and DENSITY_RERANK_ENABLED, falling back to DefaultDensityConfig per field.
func DensityConfigFromEnv() DensityConfig {
	cfg := DefaultDensityConfig()
	if v := strings.TrimSpace(os.Getenv("DENSITY_RERANK_LAMBDA")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Lambda = f
		}
	}
	if v := strings.TrimSpace(os.Getenv("DENSITY_RERANK_MIN_CANDIDATES")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MinCandidates = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("DENSITY_RERANK_ENABLED")); v != "" {
		cfg.Enabled = v == "1" || strings.EqualFold(v, "true")
	}
	return cfg
}

func jaccardSimilarity(a, b string) float64 {
	setA := map[string]bool{}
	for _, tok := range tokenize(a) {
		setA[tok] = true
	}
	setB := map[string]bool{}
	for _, tok := range tokenize(b) {
		setB[tok] = true
	}
	if len(setA) == 0 && len(setB) == 0 {
		return 0
	}
	intersection := 0
	for tok := range setA {
		if setB[tok] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// DensityRerank runs BM25 first, then greedily selects candidates by maximal
// marginal relevance: lambda * normalized_score - (1-lambda) * max_jaccard
// against already-selected items. Below MinCandidates it falls back to the
// plain BM25 order.
func DensityRerank(query string, candidates []graphmodel.Candidate, cfg DensityConfig) []graphmodel.Candidate {
	ranked := BM25Rerank(query, candidates)
	if !cfg.Enabled || len(ranked) < cfg.MinCandidates {
		return ranked
	}

	maxScore := ranked[0].Score
	if maxScore == 0 {
		maxScore = 1
	}

	remaining := append([]graphmodel.Candidate{}, ranked...)
	selected := make([]graphmodel.Candidate, 0, len(remaining))

	for len(remaining) > 0 {
		bestIdx := -1
		bestMMR := math.Inf(-1)
		for i, cand := range remaining {
			normalized := cand.Score / maxScore
			maxSim := 0.0
			for _, sel := range selected {
				sim := jaccardSimilarity(candidateText(cand), candidateText(sel))
				if sim > maxSim {
					maxSim = sim
				}
			}
			mmr := cfg.Lambda*normalized - (1-cfg.Lambda)*maxSim
			if mmr > bestMMR {
				bestMMR = mmr
				bestIdx = i
			}
		}
		selected = append(selected, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}

	return selected
}
