// Package classifier buckets a natural-language query into one of four
// complexity classes using fixed-precedence regex banks, then maps the
// class onto a retrieval path via a fixed route table.
package classifier

import (
	"regexp"

	"github.com/groundwire/orchestrator/domain/graphmodel"
)

// aggregatePatterns, multiHopPatterns, and singleHopPatterns are the exact
// phrase families this classifier bank evaluates in fixed precedence order:
// AGGREGATE > MULTI_HOP > SINGLE_HOP, default ENTITY_LOOKUP.
var (
	aggregatePatterns = regexp.MustCompile(`(?i)most critical|top \d|count|how many|ranking|rank\b|highest|transitive.*count|by.*count`)
	// "transitive" alone (without "count") falls through to this bank;
	// AGGREGATE is checked first, so "transitive ... count" queries never
	// reach here — Go's RE2 engine has no negative lookahead, and the
	// precedence ordering makes one unnecessary.
	multiHopPatterns  = regexp.MustCompile(`(?i)blast radius|downstream|upstream|depends on|dependency chain|cascade|if.*fails|impact|indirect|transitive`)
	singleHopPatterns = regexp.MustCompile(`(?i)produce[sd]?( to)?|consume[sd]?( from)?|calls?\b|deployed in|connects? to|communicates? with`)
)

// Classify returns the complexity class for a query string. First match
// wins; AGGREGATE is checked before MULTI_HOP before SINGLE_HOP so an
// aggregate phrase ("how many services depend on X") is never misrouted to
// the cheaper single-hop path.
func Classify(query string) graphmodel.QueryComplexity {
	switch {
	case aggregatePatterns.MatchString(query):
		return graphmodel.ComplexityAggregate
	case multiHopPatterns.MatchString(query):
		return graphmodel.ComplexityMultiHop
	case singleHopPatterns.MatchString(query):
		return graphmodel.ComplexitySingleHop
	default:
		return graphmodel.ComplexityEntityLookup
	}
}

// Route classifies and resolves the retrieval path in one call.
func Route(query string) (graphmodel.QueryComplexity, graphmodel.RetrievalPath) {
	complexity := Classify(query)
	return complexity, graphmodel.RouteFor(complexity)
}
