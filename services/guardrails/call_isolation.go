package guardrails

import (
	"errors"
	"fmt"
	"strings"

	"github.com/groundwire/orchestrator/services/cypher"
)

// ErrUnfilteredCallMatch is returned when a CALL subquery contains a MATCH
// that isn't scoped by every field in requiredACLFields. A CALL subquery's
// inner MATCH runs in its own scope and needs its own filter; this check
// catches generated Cypher whose subquery body lacks one.
var ErrUnfilteredCallMatch = errors.New("guardrails: unfiltered MATCH inside CALL subquery")

var defaultRequiredACLFields = []string{"team_owner", "namespace_acl"}

// ValidateCallSubqueryACL walks the parsed clause tree and fails closed if
// any CALL subquery body contains a MATCH without every required ACL field
// referenced somewhere in that subquery's own token text.
func ValidateCallSubqueryACL(src string, requiredFields ...string) error {
	if len(requiredFields) == 0 {
		requiredFields = defaultRequiredACLFields
	}
	clauses := cypher.Parse(src)

	var violations []string
	var walk func(cs []cypher.Clause, depth int)
	walk = func(cs []cypher.Clause, depth int) {
		for _, c := range cs {
			switch c.Kind {
			case cypher.ClauseCallSubquery:
				if hasMatch(c.Body) {
					bodyText := strings.ToLower(cypher.ReconstructAll(c.Body))
					for _, field := range requiredFields {
						if !strings.Contains(bodyText, strings.ToLower(field)) {
							violations = append(violations, fmt.Sprintf(
								"CALL subquery at depth %d has MATCH without %s filter", depth, field))
							break
						}
					}
				}
				walk(c.Body, depth+1)
			case cypher.ClauseUnionQuery:
				for _, branch := range c.Branches {
					walk(branch, depth)
				}
			}
		}
	}
	walk(clauses, 0)

	if len(violations) > 0 {
		return fmt.Errorf("%w: %s", ErrUnfilteredCallMatch, strings.Join(violations, "; "))
	}
	return nil
}

// CallSubqueryACLDepth reports the deepest nesting level at which a CALL
// subquery contains a MATCH clause, for cost/complexity accounting.
func CallSubqueryACLDepth(src string) int {
	clauses := cypher.Parse(src)
	maxDepth := 0
	var walk func(cs []cypher.Clause, depth int)
	walk = func(cs []cypher.Clause, depth int) {
		for _, c := range cs {
			if c.Kind == cypher.ClauseCallSubquery {
				if hasMatch(c.Body) && depth+1 > maxDepth {
					maxDepth = depth + 1
				}
				walk(c.Body, depth+1)
			}
			if c.Kind == cypher.ClauseUnionQuery {
				for _, branch := range c.Branches {
					walk(branch, depth)
				}
			}
		}
	}
	walk(clauses, 0)
	return maxDepth
}

func hasMatch(cs []cypher.Clause) bool {
	for _, c := range cs {
		if c.Kind == cypher.ClauseMatch || c.Kind == cypher.ClauseOptionalMatch {
			return true
		}
	}
	return false
}
