package cypher

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// Template is a named, parameterized Cypher string. All templates use
// "$param" placeholders, never string interpolation, so dynamic Cypher
// generation from LLM output never touches these queries.
type Template struct {
	Name       string
	Cypher     string
	Parameters []string
	// MatchPattern and ParamGroups implement the template matcher: a regex
	// that maps free-text query intent to (template name, bindings). Match
	// only succeeds when every required parameter is extractable.
	MatchPattern *regexp.Regexp
	ParamGroups  []string // named capture groups, in the order they bind Parameters
}

// whitespaceRunPattern backs whitespaceNormalize, which normalizes a Cypher string for stable hashing: runs of
// whitespace collapse to a single space, and leading/trailing space is
// trimmed.
var whitespaceRunPattern = regexp.MustCompile(`\s+`)

func whitespaceNormalize(s string) string {
	return strings.TrimSpace(whitespaceRunPattern.ReplaceAllString(s, " "))
}

// HashTemplate computes the SHA-256 hex digest of a whitespace-normalized
// Cypher string.
func HashTemplate(cypher string) string {
	sum := sha256.Sum256([]byte(whitespaceNormalize(cypher)))
	return hex.EncodeToString(sum[:])
}

// Catalog holds the fixed set of known-safe templates and their hash
// registry. Queries from this class bypass LLM cypher generation entirely.
type Catalog struct {
	templates map[string]Template
	hashes    map[string]bool
}

// NewCatalog builds the default catalog: blast_radius, dependency_count,
// service_neighbors, topic_consumers, topic_producers, service_deployments,
// cross_team_dependencies.
func NewCatalog() *Catalog {
	c := &Catalog{templates: map[string]Template{}, hashes: map[string]bool{}}
	for _, t := range defaultTemplates() {
		c.Register(t)
	}
	return c
}

// Register adds a template to the catalog and indexes its normalized hash.
func (c *Catalog) Register(t Template) {
	c.templates[t.Name] = t
	c.hashes[HashTemplate(t.Cypher)] = true
}

// Lookup returns a template by name.
func (c *Catalog) Lookup(name string) (Template, bool) {
	t, ok := c.templates[name]
	return t, ok
}

// IsAllowed reports whether the normalized hash of a Cypher string is in the
// registry. A sandbox configured with this catalog must reject any execution
// attempt whose hash is absent, whitespace-robust on both sides.
func (c *Catalog) IsAllowed(cypherText string) bool {
	return c.hashes[HashTemplate(cypherText)]
}

// Match runs the template matcher against free-text query intent, returning
// the matched template name and extracted parameter bindings. Returns
// ok=false when intent matches but a required parameter could not be
// extracted — never executes with an empty entity.
func (c *Catalog) Match(queryText string) (name string, bindings map[string]string, ok bool) {
	for _, t := range c.templates {
		if t.MatchPattern == nil {
			continue
		}
		m := t.MatchPattern.FindStringSubmatch(queryText)
		if m == nil {
			continue
		}
		bindings = map[string]string{}
		groupNames := t.MatchPattern.SubexpNames()
		for i, g := range groupNames {
			if g == "" || i >= len(m) {
				continue
			}
			if strings.TrimSpace(m[i]) == "" {
				return "", nil, false
			}
			bindings[g] = strings.TrimSpace(m[i])
		}
		for _, p := range t.ParamGroups {
			if _, got := bindings[p]; !got {
				return "", nil, false
			}
		}
		return t.Name, bindings, true
	}
	return "", nil, false
}

func defaultTemplates() []Template {
	return []Template{
		{
			Name: "blast_radius",
			Cypher: `MATCH (n:Service {name: $entity, tenant_id: $tenant_id})
<-[:CALLS*1..3]-(dependent:Service)
WHERE dependent.tenant_id = $tenant_id
RETURN DISTINCT dependent.name AS name, dependent.team_owner AS team
LIMIT $max_results`,
			Parameters:   []string{"entity", "tenant_id", "max_results"},
			MatchPattern: regexp.MustCompile(`(?i)blast radius of (?P<entity>[\w.-]+)`),
			ParamGroups:  []string{"entity"},
		},
		{
			Name: "dependency_count",
			Cypher: `MATCH (n:Service {tenant_id: $tenant_id})-[:CALLS]->(m:Service)
WHERE m.tenant_id = $tenant_id
RETURN n.name AS name, count(m) AS dependency_count
ORDER BY dependency_count DESC
LIMIT $max_results`,
			Parameters:   []string{"tenant_id", "max_results"},
			MatchPattern: regexp.MustCompile(`(?i)(?:most critical|highest|top) .*dependenc`),
		},
		{
			Name: "service_neighbors",
			Cypher: `MATCH (n:Service {name: $entity, tenant_id: $tenant_id})-[r]-(m)
WHERE m.tenant_id = $tenant_id
RETURN type(r) AS relationship, m.name AS neighbor
LIMIT $max_results`,
			Parameters:   []string{"entity", "tenant_id", "max_results"},
			MatchPattern: regexp.MustCompile(`(?i)(?:neighbors|connections) of (?P<entity>[\w.-]+)`),
			ParamGroups:  []string{"entity"},
		},
		{
			Name: "topic_consumers",
			Cypher: `MATCH (n:KafkaTopic {name: $entity, tenant_id: $tenant_id})<-[:CONSUMES]-(s:Service)
WHERE s.tenant_id = $tenant_id
RETURN s.name AS consumer
LIMIT $max_results`,
			Parameters:   []string{"entity", "tenant_id", "max_results"},
			MatchPattern: regexp.MustCompile(`(?i)(?:who consumes|consumers? of) (?P<entity>[\w.-]+)`),
			ParamGroups:  []string{"entity"},
		},
		{
			Name: "topic_producers",
			Cypher: `MATCH (n:KafkaTopic {name: $entity, tenant_id: $tenant_id})<-[:PRODUCES]-(s:Service)
WHERE s.tenant_id = $tenant_id
RETURN s.name AS producer
LIMIT $max_results`,
			Parameters:   []string{"entity", "tenant_id", "max_results"},
			MatchPattern: regexp.MustCompile(`(?i)(?:who produces|producers? of) (?P<entity>[\w.-]+)`),
			ParamGroups:  []string{"entity"},
		},
		{
			Name: "service_deployments",
			Cypher: `MATCH (n:Service {name: $entity, tenant_id: $tenant_id})-[:DEPLOYED_IN]->(d:K8sDeployment)
WHERE d.tenant_id = $tenant_id
RETURN d.name AS deployment, d.properties AS properties
LIMIT $max_results`,
			Parameters:   []string{"entity", "tenant_id", "max_results"},
			MatchPattern: regexp.MustCompile(`(?i)(?:where is|deployments? of) (?P<entity>[\w.-]+) deployed`),
			ParamGroups:  []string{"entity"},
		},
		{
			Name: "cross_team_dependencies",
			Cypher: `MATCH (n:Service {tenant_id: $tenant_id})-[:CALLS]->(m:Service)
WHERE m.tenant_id = $tenant_id AND m.team_owner <> n.team_owner
RETURN n.name AS caller, n.team_owner AS caller_team, m.name AS callee, m.team_owner AS callee_team
LIMIT $max_results`,
			Parameters:   []string{"tenant_id", "max_results"},
			MatchPattern: regexp.MustCompile(`(?i)cross[- ]team dependenc`),
		},
	}
}
