package retrieval

import (
	"sort"

	"github.com/groundwire/orchestrator/domain/graphmodel"
)

const (
	defaultDamping    = 0.85
	defaultIterations = 20
	convergenceEps    = 1e-6
)

// PersonalizedPageRank re-weights candidates by running personalized
// PageRank over the local edge set (the single-hop neighborhood just
// fetched), biased toward the original seed/candidate set as the restart
// distribution. A safety cap on edge count bounds the iteration cost; past
// the cap the original candidate order is returned unchanged, since the
// GDS-backed gds.pageRank.stream projection is the prescribed strategy for
// graphs that large and isn't exercised by this in-process fallback.
func PersonalizedPageRank(candidates []graphmodel.Candidate, edges []graphmodel.Edge, edgeSafetyCap int) []graphmodel.Candidate {
	if len(candidates) == 0 {
		return candidates
	}
	if len(edges) > edgeSafetyCap {
		return candidates
	}

	index := make(map[string]int, len(candidates))
	for i, c := range candidates {
		index[c.ID] = i
	}

	adjacency := make([][]int, len(candidates))
	if len(edges) > 0 {
		for _, e := range edges {
			si, sok := index[e.SourceKey]
			ti, tok := index[e.TargetKey]
			if sok && tok {
				adjacency[si] = append(adjacency[si], ti)
				adjacency[ti] = append(adjacency[ti], si)
			}
		}
	} else {
		// No explicit edges: approximate the local neighborhood as a
		// fully-connected star around the highest-degree candidate, biasing
		// rank toward well-connected members of the fetched set.
		hub := 0
		for i, c := range candidates {
			if c.Degree > candidates[hub].Degree {
				hub = i
			}
		}
		for i := range candidates {
			if i == hub {
				continue
			}
			adjacency[hub] = append(adjacency[hub], i)
			adjacency[i] = append(adjacency[i], hub)
		}
	}

	n := len(candidates)
	restart := 1.0 / float64(n)
	rank := make([]float64, n)
	for i := range rank {
		rank[i] = restart
	}

	for iter := 0; iter < defaultIterations; iter++ {
		next := make([]float64, n)
		for i := range next {
			next[i] = (1 - defaultDamping) * restart
		}
		maxDelta := 0.0
		for i, neighbors := range adjacency {
			if len(neighbors) == 0 {
				next[i] += defaultDamping * rank[i] * restart
				continue
			}
			share := defaultDamping * rank[i] / float64(len(neighbors))
			for _, j := range neighbors {
				next[j] += share
			}
		}
		for i := range rank {
			if d := next[i] - rank[i]; d > maxDelta || -d > maxDelta {
				maxDelta = d
				if maxDelta < 0 {
					maxDelta = -maxDelta
				}
			}
		}
		rank = next
		if maxDelta < convergenceEps {
			break
		}
	}

	out := make([]graphmodel.Candidate, n)
	copy(out, candidates)
	for i := range out {
		out[i].Score = rank[i]
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}
