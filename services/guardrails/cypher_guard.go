package guardrails

import (
	"fmt"
	"regexp"
	"strings"
)

// Violation records one guardrail failure or warning.
type Violation struct {
	Guardrail string
	Detail    string
	Severity  string // "error" or "warning"
}

var (
	labelPattern   = regexp.MustCompile(`:([A-Z][A-Za-z0-9_]*)`)
	relTypePattern = regexp.MustCompile(`\[:([A-Z_]+)`)
	matchPattern   = regexp.MustCompile(`(?i)\bMATCH\b`)
	optMatchPat    = regexp.MustCompile(`(?i)\bOPTIONAL\s+MATCH\b`)
)

var cypherKeywords = map[string]bool{
	"MATCH": true, "WHERE": true, "RETURN": true, "WITH": true, "OPTIONAL": true,
	"ORDER": true, "BY": true, "SKIP": true, "LIMIT": true, "UNION": true,
	"UNWIND": true, "CREATE": true, "DELETE": true, "SET": true, "MERGE": true,
	"CALL": true, "YIELD": true, "DETACH": true, "REMOVE": true, "FOREACH": true,
	"CASE": true, "WHEN": true, "THEN": true, "ELSE": true, "END": true,
	"AND": true, "OR": true, "NOT": true, "IN": true, "AS": true, "IS": true,
	"NULL": true, "TRUE": true, "FALSE": true, "EXISTS": true, "ALL": true,
	"ANY": true, "NONE": true, "SINGLE": true, "DISTINCT": true, "COUNT": true,
	"COLLECT": true, "EXPLAIN": true, "PROFILE": true,
}

// Ontology is the minimal schema contract: the set of known node labels and
// relationship types, sourced from the ONTOLOGY_NODE_TYPES/ONTOLOGY_EDGE_TYPES
// environment configuration rather than a generated schema file.
type Ontology struct {
	NodeTypes map[string]bool
	EdgeTypes map[string]bool
}

// CypherSchemaValidator rejects generated Cypher referencing node labels or
// relationship types the ontology doesn't know about.
type CypherSchemaValidator struct {
	ontology Ontology
}

// NewCypherSchemaValidator builds a validator over the given ontology.
func NewCypherSchemaValidator(ontology Ontology) *CypherSchemaValidator {
	return &CypherSchemaValidator{ontology: ontology}
}

// Validate scans cypher for unknown labels and relationship types.
func (v *CypherSchemaValidator) Validate(cypher string) []Violation {
	var violations []Violation

	seenLabels := map[string]bool{}
	for _, idx := range labelPattern.FindAllStringSubmatchIndex(cypher, -1) {
		// A ":TYPE" inside "[...]" is a relationship type, not a node label.
		if open := strings.LastIndexAny(cypher[:idx[0]], "(["); open >= 0 && cypher[open] == '[' {
			continue
		}
		label := cypher[idx[2]:idx[3]]
		if seenLabels[label] {
			continue
		}
		seenLabels[label] = true
		if cypherKeywords[strings.ToUpper(label)] {
			continue
		}
		if !v.ontology.NodeTypes[label] {
			violations = append(violations, Violation{
				Guardrail: "CypherSchemaValidator",
				Detail:    fmt.Sprintf("unknown node label: %s", label),
				Severity:  "error",
			})
		}
	}

	seenRels := map[string]bool{}
	for _, m := range relTypePattern.FindAllStringSubmatch(cypher, -1) {
		rel := m[1]
		if seenRels[rel] {
			continue
		}
		seenRels[rel] = true
		if !v.ontology.EdgeTypes[rel] {
			violations = append(violations, Violation{
				Guardrail: "CypherSchemaValidator",
				Detail:    fmt.Sprintf("unknown relationship type: %s", rel),
				Severity:  "error",
			})
		}
	}

	return violations
}

// CypherComplexityGuard caps the number of MATCH and OPTIONAL MATCH
// clauses in generated Cypher, independent of the cost estimator in
// services/cypher (which bounds traversal depth, not clause count).
type CypherComplexityGuard struct {
	maxMatch    int
	maxOptional int
}

// NewCypherComplexityGuard builds a guard with the given caps.
func NewCypherComplexityGuard(maxMatch, maxOptional int) *CypherComplexityGuard {
	if maxMatch <= 0 {
		maxMatch = 5
	}
	if maxOptional <= 0 {
		maxOptional = 3
	}
	return &CypherComplexityGuard{maxMatch: maxMatch, maxOptional: maxOptional}
}

// Validate counts MATCH/OPTIONAL MATCH clauses and flags ones over the cap.
func (g *CypherComplexityGuard) Validate(cypher string) []Violation {
	var violations []Violation

	total := len(matchPattern.FindAllString(cypher, -1))
	optional := len(optMatchPat.FindAllString(cypher, -1))
	plain := total - optional

	if plain > g.maxMatch {
		violations = append(violations, Violation{
			Guardrail: "CypherComplexityGuard",
			Detail:    fmt.Sprintf("query has %d MATCH clauses (max %d)", plain, g.maxMatch),
			Severity:  "error",
		})
	}
	if optional > g.maxOptional {
		violations = append(violations, Violation{
			Guardrail: "CypherComplexityGuard",
			Detail:    fmt.Sprintf("query has %d OPTIONAL MATCH clauses (max %d)", optional, g.maxOptional),
			Severity:  "error",
		})
	}
	return violations
}

var entityWordPattern = regexp.MustCompile(`[a-zA-Z0-9_-]+`)

var entitySuffixes = []string{"-svc", "-service", "-api", "-topic", "-db"}

// ResponseCoherenceChecker flags answer substrings that look like
// entity references (service/topic/db-style hyphenated names) but do not
// appear anywhere in the retrieved context — a sign of hallucination.
type ResponseCoherenceChecker struct{}

// NewResponseCoherenceChecker builds a checker.
func NewResponseCoherenceChecker() *ResponseCoherenceChecker { return &ResponseCoherenceChecker{} }

// Validate compares answer's entity-shaped tokens against contextEntities.
func (c *ResponseCoherenceChecker) Validate(answer string, contextEntities []string) []Violation {
	if len(contextEntities) == 0 {
		return nil
	}

	known := make(map[string]bool, len(contextEntities))
	for _, e := range contextEntities {
		known[strings.ToLower(e)] = true
	}

	var violations []Violation
	for _, word := range entityWordPattern.FindAllString(answer, -1) {
		if !strings.Contains(word, "-") || len(word) <= 3 {
			continue
		}
		if known[strings.ToLower(word)] {
			continue
		}
		for _, suffix := range entitySuffixes {
			if strings.HasSuffix(word, suffix) {
				violations = append(violations, Violation{
					Guardrail: "ResponseCoherenceChecker",
					Detail:    fmt.Sprintf("entity %q referenced in answer but not present in retrieved context", word),
					Severity:  "warning",
				})
				break
			}
		}
	}
	return violations
}
