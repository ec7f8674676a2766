package cypher

import (
	"fmt"
	"regexp"
	"strings"
)

// writeKeywords is the closed set of keywords that mark a query as
// write-bearing. Detected on the stripped token stream so comments and
// string payloads cannot hide or smuggle a write.
var writeKeywords = []string{"MERGE", "CREATE", "DELETE", "SET", "REMOVE", "DROP"}

// allowedProcedures is the closed allowlist of introspection, full-text
// index, APOC path-expansion and GDS procedures permitted in a bare CALL.
var allowedProcedures = map[string]bool{
	"db.labels":             true,
	"db.relationshipTypes":  true,
	"db.propertyKeys":       true,
	"db.schema.visualization": true,
	"db.index.fulltext.queryNodes": true,
	"db.index.fulltext.queryRelationships": true,
	"apoc.path.expandConfig": true,
	"gds.pageRank.stream":    true,
	"gds.graph.project":      true,
	"gds.graph.drop":         true,
}

var loadCSVPattern = regexp.MustCompile(`(?i)\bLOAD\s+CSV\b`)
var procedureCallPattern = regexp.MustCompile(`(?i)\bCALL\s+([A-Za-z0-9_.]+)\s*\(`)

// ValidationError reports why a Cypher query failed the read-only gate.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "cypher validation: " + e.Reason }

// ValidateReadOnly rejects any query that is not a pure read. It operates on
// the token stream with comments and string literals stripped, so a write
// keyword cannot be hidden behind "// MERGE" or smuggled as "'MERGE'".
func ValidateReadOnly(source string) error {
	tokens := Tokenize(source)
	stripped := StripCommentsAndStrings(tokens)
	upper := strings.ToUpper(stripped)

	for _, kw := range writeKeywords {
		if containsKeyword(upper, kw) {
			return &ValidationError{Reason: fmt.Sprintf("write keyword %q is not permitted", kw)}
		}
	}
	if containsKeyword(upper, "DETACH") {
		return &ValidationError{Reason: "DETACH DELETE is not permitted"}
	}
	if loadCSVPattern.MatchString(stripped) {
		return &ValidationError{Reason: "LOAD CSV is not permitted"}
	}
	if err := validateProcedureAllowlist(stripped); err != nil {
		return err
	}
	if err := validateNoCartesianProduct(tokens); err != nil {
		return err
	}
	if err := validateNoBraceSubqueryWrites(source); err != nil {
		return err
	}
	return nil
}

// containsKeyword is a whole-word search so e.g. "SETTINGS" does not match "SET".
func containsKeyword(upper, kw string) bool {
	idx := 0
	for {
		i := strings.Index(upper[idx:], kw)
		if i < 0 {
			return false
		}
		pos := idx + i
		before := pos == 0 || !isWordChar(rune(upper[pos-1]))
		afterPos := pos + len(kw)
		after := afterPos >= len(upper) || !isWordChar(rune(upper[afterPos]))
		if before && after {
			return true
		}
		idx = pos + len(kw)
	}
}

func isWordChar(r rune) bool {
	return r == '_' || (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
}

func validateProcedureAllowlist(stripped string) error {
	matches := procedureCallPattern.FindAllStringSubmatch(stripped, -1)
	for _, m := range matches {
		if !allowedProcedures[m[1]] {
			return &ValidationError{Reason: fmt.Sprintf("procedure %q is not in the allowlist", m[1])}
		}
	}
	return nil
}

// validateNoCartesianProduct rejects comma-separated node patterns within a
// single MATCH that have no connecting relationship, e.g.
// "MATCH (a:Service), (b:Service) RETURN a, b".
func validateNoCartesianProduct(tokens []Token) error {
	clauses := Parse(Reconstruct(tokens))
	return walkMatches(clauses, func(c Clause) error {
		text := Reconstruct(c.Tokens)
		if hasTopLevelCommaBetweenNodePatterns(text) {
			return &ValidationError{Reason: "cartesian product (comma-separated unconnected node patterns) is not permitted"}
		}
		return nil
	})
}

// hasTopLevelCommaBetweenNodePatterns is a structural heuristic: a comma at
// paren-depth 0 inside the MATCH clause body, between two "(" patterns, with
// no relationship arrow "-" or "<-"/"->" token between them.
func hasTopLevelCommaBetweenNodePatterns(matchText string) bool {
	depth := 0
	sawPattern := false
	sawArrowSincePattern := false
	runes := []rune(matchText)
	for i := 0; i < len(runes); i++ {
		switch runes[i] {
		case '(':
			if depth == 0 {
				if sawPattern && !sawArrowSincePattern {
					// Two patterns at depth 0 with nothing connecting them yet; the
					// only way we got here without a comma is back-to-back, unusual
					// but not our target — bail conservatively.
				}
			}
			depth++
		case ')':
			depth--
			if depth == 0 {
				sawPattern = true
			}
		case '-':
			if depth == 0 {
				sawArrowSincePattern = true
			}
		case ',':
			if depth == 0 && sawPattern && !sawArrowSincePattern {
				return true
			}
			if depth == 0 {
				sawPattern = false
				sawArrowSincePattern = false
			}
		}
	}
	return false
}

// walkMatches invokes fn on every MATCH/OPTIONAL MATCH clause at every scope:
// top level, inside CALL subquery bodies, inside every UNION branch.
func walkMatches(clauses []Clause, fn func(Clause) error) error {
	for _, c := range clauses {
		switch c.Kind {
		case ClauseMatch, ClauseOptionalMatch:
			if err := fn(c); err != nil {
				return err
			}
		case ClauseCallSubquery:
			if err := walkMatches(c.Body, fn); err != nil {
				return err
			}
		case ClauseUnionQuery:
			for _, branch := range c.Branches {
				if err := walkMatches(branch, fn); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// validateNoBraceSubqueryWrites rejects CALL { ... } bodies that contain a
// write keyword. Per this system's read-only gate, CALL subqueries are not
// banned outright (introspection/full-text procedures commonly use the bare
// form, and template bodies may use read-only CALL { ... } blocks for
// counting); only brace-subquery *writes* are rejected.
func validateNoBraceSubqueryWrites(source string) error {
	clauses := Parse(source)
	return walkCallSubqueries(clauses, func(c Clause) error {
		bodyText := ReconstructAll(c.Body)
		stripped := StripCommentsAndStrings(Tokenize(bodyText))
		upper := strings.ToUpper(stripped)
		for _, kw := range writeKeywords {
			if containsKeyword(upper, kw) {
				return &ValidationError{Reason: fmt.Sprintf("brace-subquery write (%q) is not permitted", kw)}
			}
		}
		return nil
	})
}

func walkCallSubqueries(clauses []Clause, fn func(Clause) error) error {
	for _, c := range clauses {
		switch c.Kind {
		case ClauseCallSubquery:
			if err := fn(c); err != nil {
				return err
			}
			if err := walkCallSubqueries(c.Body, fn); err != nil {
				return err
			}
		case ClauseUnionQuery:
			for _, branch := range c.Branches {
				if err := walkCallSubqueries(branch, fn); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
