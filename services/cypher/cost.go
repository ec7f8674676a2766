package cypher

import (
	"regexp"
	"strconv"
)

// CostError reports that a query exceeded the cost gate.
type CostError struct{ Reason string }

func (e *CostError) Error() string { return "cypher cost: " + e.Reason }

const edgeFactor = 2

var variableLengthPattern = regexp.MustCompile(`\[[^\]]*\*\s*(\d+)?\s*(\.\.)?\s*(\d+)?\s*\]`)
var limitPattern = regexp.MustCompile(`(?i)\bLIMIT\s+(\d+)`)

// CostEstimate is the computed integer score and bookkeeping used by the
// capper and the amplification detector.
type CostEstimate struct {
	Score        int
	MaxPathDepth int
}

// EstimateCost computes the integer cost score from MATCH count,
// variable-length path multipliers, and subquery nesting depth. An unbounded
// variable-length path ("[:X*]" with no bounds) is a hard reject.
func EstimateCost(clauses []Clause, maxPathDepth int) (CostEstimate, error) {
	est := CostEstimate{}
	if err := walkCostScope(clauses, 0, &est); err != nil {
		return est, err
	}
	if maxPathDepth > 0 && est.MaxPathDepth > maxPathDepth {
		return est, &CostError{Reason: "max path depth exceeded"}
	}
	return est, nil
}

func walkCostScope(clauses []Clause, subqueryDepth int, est *CostEstimate) error {
	for _, c := range clauses {
		switch c.Kind {
		case ClauseMatch, ClauseOptionalMatch:
			est.Score++
			text := Reconstruct(c.Tokens)
			matches := variableLengthPattern.FindAllStringSubmatch(text, -1)
			for _, m := range matches {
				lo, hi, unbounded := parseRange(m)
				if unbounded {
					return &CostError{Reason: "unbounded variable-length path is not permitted"}
				}
				est.Score += (hi - lo + 1) * edgeFactor
				if hi > est.MaxPathDepth {
					est.MaxPathDepth = hi
				}
			}
			est.Score += subqueryDepth
		case ClauseCallSubquery:
			if err := walkCostScope(c.Body, subqueryDepth+1, est); err != nil {
				return err
			}
		case ClauseUnionQuery:
			for _, branch := range c.Branches {
				if err := walkCostScope(branch, subqueryDepth, est); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func parseRange(m []string) (lo, hi int, unbounded bool) {
	if m[1] == "" && m[3] == "" {
		return 0, 0, true
	}
	lo = 1
	if m[1] != "" {
		lo, _ = strconv.Atoi(m[1])
	}
	hi = lo
	if m[3] != "" {
		hi, _ = strconv.Atoi(m[3])
	} else if m[2] == "" {
		hi = lo // exact length "*n"
	} else {
		return 0, 0, true // "*n.." with no upper bound
	}
	return lo, hi, false
}

// CapLimits traverses the AST and, for every LIMIT clause at every scope,
// caps its numeric argument at maxResults; appends "LIMIT maxResults" at the
// end of the top-level clause list if no LIMIT is present anywhere. Because
// this operates on AST clause tokens (not raw text), a string literal like
// "LIMIT 9999" inside a WHERE clause's STRING_LITERAL token is untouched.
func CapLimits(clauses []Clause, maxResults int) []Clause {
	found := capLimitsScope(clauses, maxResults)
	if !found {
		clauses = append(append([]Clause{}, clauses...), Clause{
			Kind:   ClauseGeneric,
			Tokens: Tokenize(" LIMIT " + strconv.Itoa(maxResults)),
		})
	}
	return clauses
}

func capLimitsScope(clauses []Clause, maxResults int) bool {
	found := false
	for i := range clauses {
		c := &clauses[i]
		switch c.Kind {
		case ClauseReturn, ClauseWith, ClauseGeneric:
			toks := append([]Token(nil), c.Tokens...)
			for ti := 0; ti+2 < len(toks); ti++ {
				if toks[ti].Type != TokenKeyword || toks[ti].Upper() != "LIMIT" ||
					toks[ti+1].Type != TokenWhitespace || toks[ti+2].Type != TokenNumber {
					continue
				}
				found = true
				if n, err := strconv.Atoi(toks[ti+2].Value); err == nil && n > maxResults {
					toks[ti+2].Value = strconv.Itoa(maxResults)
				}
			}
			c.Tokens = toks
		case ClauseCallSubquery:
			if capLimitsScope(c.Body, maxResults) {
				found = true
			}
		case ClauseUnionQuery:
			for bi := range c.Branches {
				if capLimitsScope(c.Branches[bi], maxResults) {
					found = true
				}
			}
		}
	}
	return found
}

var withLimitPattern = regexp.MustCompile(`(?i)\bWITH\b[^{]*\bLIMIT\s+\d+`)
var unwindPattern = regexp.MustCompile(`(?i)\bUNWIND\b`)

// DetectAmplification rejects the "WITH ... LIMIT k" followed by UNWIND (or a
// CALL subquery containing UNWIND) row-explosion pattern.
func DetectAmplification(clauses []Clause) error {
	for i, c := range clauses {
		if c.Kind != ClauseWith {
			continue
		}
		text := Reconstruct(c.Tokens)
		if !withLimitPattern.MatchString(text) {
			continue
		}
		for j := i + 1; j < len(clauses); j++ {
			switch clauses[j].Kind {
			case ClauseUnwind:
				return &CostError{Reason: "amplification pattern: WITH ... LIMIT followed by UNWIND"}
			case ClauseCallSubquery:
				if unwindPattern.MatchString(ReconstructAll(clauses[j].Body)) {
					return &CostError{Reason: "amplification pattern: WITH ... LIMIT followed by CALL { UNWIND }"}
				}
			}
		}
	}
	return nil
}
