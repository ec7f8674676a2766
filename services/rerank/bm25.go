// Package rerank implements candidate re-ordering and diversification:
// Okapi BM25 scoring, maximal-marginal-relevance density reranking,
// structural cosine fusion, and reciprocal rank fusion. Computation here is
// dispatched to a bounded worker pool by callers; nothing in this package
// blocks on I/O.
package rerank

import (
	"math"
	"regexp"
	"strings"

	"github.com/groundwire/orchestrator/domain/graphmodel"
)

const (
	bm25K1 = 1.2
	bm25B  = 0.75
	// idfApprox approximates IDF as ln(2): candidate documents are short and
	// collection statistics are unstable, so a fixed constant outperforms a
	// noisy per-corpus estimate.
	idfApprox = math.Ln2
)

var tokenPattern = regexp.MustCompile(`\w+`)

func tokenize(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}

// candidateText extracts the text BM25 scores against: name, id, source,
// target, and result fields concatenated.
func candidateText(c graphmodel.Candidate) string {
	var sb strings.Builder
	for _, f := range []string{c.Name, c.ID, c.Source, c.Target, c.Result} {
		if f != "" {
			sb.WriteString(f)
			sb.WriteString(" ")
		}
	}
	return sb.String()
}

// BM25Score scores a single candidate against a tokenized query using
// standard Okapi BM25 with k1=1.2, b=0.75.
func BM25Score(query []string, doc []string, avgDocLen float64) float64 {
	if len(doc) == 0 {
		return 0
	}
	docLen := float64(len(doc))
	termFreq := map[string]int{}
	for _, tok := range doc {
		termFreq[tok]++
	}

	score := 0.0
	for _, qTok := range query {
		tf := float64(termFreq[qTok])
		if tf == 0 {
			continue
		}
		numerator := tf * (bm25K1 + 1)
		denominator := tf + bm25K1*(1-bm25B+bm25B*(docLen/avgDocLen))
		score += idfApprox * (numerator / denominator)
	}
	return score
}

// BM25Rerank scores and sorts candidates by BM25 relevance to query,
// descending.
func BM25Rerank(query string, candidates []graphmodel.Candidate) []graphmodel.Candidate {
	if len(candidates) == 0 {
		return candidates
	}
	qTokens := tokenize(query)
	docs := make([][]string, len(candidates))
	totalLen := 0
	for i, c := range candidates {
		docs[i] = tokenize(candidateText(c))
		totalLen += len(docs[i])
	}
	avgDocLen := float64(totalLen) / float64(len(candidates))
	if avgDocLen == 0 {
		avgDocLen = 1
	}

	scored := make([]graphmodel.Candidate, len(candidates))
	copy(scored, candidates)
	for i := range scored {
		scored[i].Score = BM25Score(qTokens, docs[i], avgDocLen)
	}
	sortByScoreDesc(scored)
	return scored
}

func sortByScoreDesc(c []graphmodel.Candidate) {
	for i := 1; i < len(c); i++ {
		j := i
		for j > 0 && c[j-1].Score < c[j].Score {
			c[j-1], c[j] = c[j], c[j-1]
			j--
		}
	}
}
