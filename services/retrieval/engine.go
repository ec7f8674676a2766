// Package retrieval implements the four-path retrieval engine: vector,
// single-hop, multi-hop (template-or-traversal), and hybrid, each honoring
// the semantic and subgraph caches and coalescing concurrent identical
// requests via singleflight.
package retrieval

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/groundwire/orchestrator/domain/graphmodel"
	"github.com/groundwire/orchestrator/services/cache"
	"github.com/groundwire/orchestrator/services/classifier"
	"github.com/groundwire/orchestrator/services/cypher"
	"github.com/groundwire/orchestrator/services/rerank"
)

// GraphReader executes a read-only Cypher query and returns its rows.
type GraphReader interface {
	RunRead(ctx context.Context, query string, params map[string]interface{}) ([]cache.Row, error)
}

// VectorSearcher performs a nearest-neighbor query against a collection.
type VectorSearcher interface {
	SearchByVector(ctx context.Context, collection string, embedding []float32, limit uint64) ([]graphmodel.Candidate, error)
}

// Embedder converts free text into the embedding space the vector store and
// structural reranker share.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// SubgraphCacheStore is the subset of services/cache's two cache
// implementations (in-process SubgraphCache, or the Redis-backed two-tier
// RedisSubgraphCache) the engine needs.
type SubgraphCacheStore interface {
	Get(key string) ([]cache.Row, bool)
	Put(key string, rows []cache.Row, nodeIDs []string)
}

// inProcessSubgraphAdapter adapts *cache.SubgraphCache (no ctx parameter) to
// SubgraphCacheStore; RedisSubgraphCache's ctx-taking methods are adapted at
// the call site in cmd/orchestrator instead.
type inProcessSubgraphAdapter struct{ c *cache.SubgraphCache }

func (a inProcessSubgraphAdapter) Get(key string) ([]cache.Row, bool) { return a.c.Get(key) }
func (a inProcessSubgraphAdapter) Put(key string, rows []cache.Row, nodeIDs []string) {
	a.c.Put(key, rows, nodeIDs)
}

// WrapInProcessCache adapts a *cache.SubgraphCache to SubgraphCacheStore.
func WrapInProcessCache(c *cache.SubgraphCache) SubgraphCacheStore { return inProcessSubgraphAdapter{c} }

const (
	defaultMaxResults  = 25
	defaultDegreeCap   = 200
	defaultEdgeSafeCap = 5000
	// DefaultHighDegreeThreshold selects batched BFS over a bounded
	// variable-length Cypher path when a traversal's start node degree
	// meets or exceeds it.
	DefaultHighDegreeThreshold = 50
)

// Config tunes per-request limits; zero values fall back to spec defaults.
type Config struct {
	MaxResults           int
	DegreeCap            int
	EdgeSafetyCap        int
	HighDegreeThreshold  int
	MaxTraversalHops     int
	DefaultDenyUntagged  bool
}

func (c Config) withDefaults() Config {
	if c.MaxResults <= 0 {
		c.MaxResults = defaultMaxResults
	}
	if c.DegreeCap <= 0 {
		c.DegreeCap = defaultDegreeCap
	}
	if c.EdgeSafetyCap <= 0 {
		c.EdgeSafetyCap = defaultEdgeSafeCap
	}
	if c.HighDegreeThreshold <= 0 {
		c.HighDegreeThreshold = DefaultHighDegreeThreshold
	}
	if c.MaxTraversalHops <= 0 {
		c.MaxTraversalHops = 3
	}
	return c
}

// Result is what a retrieval path returns to the caller: candidates for a
// graph-shaped answer and/or aggregate rows for a table-shaped one.
type Result struct {
	Path       graphmodel.RetrievalPath
	Candidates []graphmodel.Candidate
	Aggregate  []cache.Row
	FromCache  bool
}

// Engine wires the classifier, template catalog, graph/vector backends, and
// caches into the four retrieval paths.
type Engine struct {
	graph    GraphReader
	vectors  VectorSearcher
	embedder Embedder
	catalog  *cypher.Catalog
	subgraph SubgraphCacheStore
	semantic *cache.SemanticQueryCache
	cfg      Config
	density  rerank.DensityConfig
	flight   singleflight.Group
}

// New builds an Engine. subgraph and semantic may be nil to disable caching
// (e.g. in tests). Density reranking uses rerank.DensityConfigFromEnv.
func New(graph GraphReader, vectors VectorSearcher, embedder Embedder, catalog *cypher.Catalog, subgraph SubgraphCacheStore, semantic *cache.SemanticQueryCache, cfg Config) *Engine {
	return &Engine{
		graph:    graph,
		vectors:  vectors,
		embedder: embedder,
		catalog:  catalog,
		subgraph: subgraph,
		semantic: semantic,
		cfg:      cfg.withDefaults(),
		density:  rerank.DensityConfigFromEnv(),
	}
}

// Query classifies queryText and dispatches it to the matching retrieval
// path under principal's ACL scope.
func (e *Engine) Query(ctx context.Context, principal graphmodel.SecurityPrincipal, tenantID, queryText string) (Result, error) {
	if tenantID == "" && !principal.IsAdmin() {
		return Result{}, fmt.Errorf("retrieval: tenant_id is required")
	}

	complexity, path := classifier.Route(queryText)

	if e.semantic != nil {
		if embedding, err := e.embedder.Embed(ctx, queryText); err == nil {
			if cached, ok := e.semantic.Lookup(tenantID, principal.Role, embedding); ok {
				if res, ok := cached.(Result); ok {
					res.FromCache = true
					return res, nil
				}
			}
		}
	}

	flightKey := tenantID + "|" + principal.Team + "|" + string(path) + "|" + queryText
	out, err, _ := e.flight.Do(flightKey, func() (interface{}, error) {
		switch path {
		case graphmodel.PathVector:
			return e.vectorPath(ctx, principal, tenantID, queryText)
		case graphmodel.PathSingleHop:
			return e.singleHopPath(ctx, principal, tenantID, queryText, complexity)
		case graphmodel.PathTraversal:
			return e.multiHopPath(ctx, principal, tenantID, queryText)
		default:
			return e.hybridPath(ctx, principal, tenantID, queryText)
		}
	})
	if err != nil {
		return Result{}, err
	}
	result := out.(Result)
	result.Path = path

	if e.semantic != nil {
		if embedding, embErr := e.embedder.Embed(ctx, queryText); embErr == nil {
			e.semantic.Put(cache.SemanticEntry{
				Query: queryText, Embedding: embedding, Result: result,
				TenantID: tenantID, ACLKey: principal.Role,
			})
		}
	}
	return result, nil
}

// aclCondition skips injection for admins, matching services/cypher's fixed
// precedence rule.
func (e *Engine) aclCondition(principal graphmodel.SecurityPrincipal) (string, map[string]interface{}) {
	if principal.IsAdmin() {
		return "", nil
	}
	cond := cypher.BuildACLCondition("n", principal, e.cfg.DefaultDenyUntagged)
	return cond.Expression, cond.Params
}

// guardGenerated runs a dynamically assembled Cypher string (ACL conditions
// and hop bounds spliced into a shape at request time, not LLM-authored
// prose) through the same read-only, cost, and amplification gate that
// every generated query goes through, before anything reaches the driver.
// Template catalog bodies skip this: they're developer-authored and
// registered by hash at startup, not assembled per request. CapLimits is
// not run here: every LIMIT this engine emits is already the bound
// parameter "$max_results" set from e.cfg.MaxResults, never a literal
// integer a caller could inflate, so there is nothing for it to cap; it
// guards the literal-LIMIT case an LLM-authored query could produce, which
// this engine's parameterized Cypher never does.
func (e *Engine) guardGenerated(query string, maxResults int) (string, error) {
	if err := cypher.ValidateReadOnly(query); err != nil {
		return "", err
	}
	clauses := cypher.Parse(query)
	if _, err := cypher.EstimateCost(clauses, e.cfg.MaxTraversalHops); err != nil {
		return "", err
	}
	if err := cypher.DetectAmplification(clauses); err != nil {
		return "", err
	}
	return query, nil
}

// vectorPath: full-text index lookup over service names, tenant- and
// ACL-filtered, capped at MaxResults.
func (e *Engine) vectorPath(ctx context.Context, principal graphmodel.SecurityPrincipal, tenantID, queryText string) (Result, error) {
	query, params := e.buildVectorFallback(principal, tenantID, queryText)
	query, err := e.guardGenerated(query, e.cfg.MaxResults)
	if err != nil {
		return Result{}, err
	}

	cacheKey := cache.CacheKey(query, params)
	if e.subgraph != nil {
		if rows, ok := e.subgraph.Get(cacheKey); ok {
			return Result{Candidates: rowsToCandidates(rows), FromCache: true}, nil
		}
	}

	rows, err := e.graph.RunRead(ctx, query, params)
	if err != nil {
		return Result{}, err
	}
	if e.subgraph != nil {
		e.subgraph.Put(cacheKey, rows, nodeIDsFromRows(rows))
	}

	candidates := rowsToCandidates(rows)
	candidates = rerank.DensityRerank(queryText, candidates, e.density)
	return Result{Candidates: candidates}, nil
}

// buildVectorFallback constructs the exact Cypher string for the full-text
// vector fallback path; a missing tenant id for a non-admin fails closed
// via Query's guard above, so by this point tenantID is always safe to bind.
func (e *Engine) buildVectorFallback(principal graphmodel.SecurityPrincipal, tenantID, queryText string) (string, map[string]interface{}) {
	aclExpr, aclParams := e.aclCondition(principal)
	where := "n.tenant_id = $tenant_id"
	if aclExpr != "" {
		where += " AND " + aclExpr
	}
	query := fmt.Sprintf(`CALL db.index.fulltext.queryNodes('serviceNameIndex', $query_text) YIELD node AS n, score
WHERE %s
RETURN n.primary_key AS id, n.properties AS properties, score
ORDER BY score DESC
LIMIT $max_results`, where)

	params := map[string]interface{}{
		"tenant_id":   tenantID,
		"query_text":  queryText,
		"max_results": e.cfg.MaxResults,
	}
	for k, v := range aclParams {
		params[k] = v
	}
	return query, params
}

// singleHopPath: vector retrieval for seeds, then one degree-capped
// MATCH-expand step ordered by degree DESC with primary_key as the tiebreaker,
// followed by personalized PageRank re-weighting of the local edge set and,
// when an embedder is wired, a structural rerank fusing text relevance with
// embedding similarity at the weight this complexity class calls for.
func (e *Engine) singleHopPath(ctx context.Context, principal graphmodel.SecurityPrincipal, tenantID, queryText string, complexity graphmodel.QueryComplexity) (Result, error) {
	seeds, err := e.vectorPath(ctx, principal, tenantID, queryText)
	if err != nil {
		return Result{}, err
	}
	if len(seeds.Candidates) == 0 {
		return Result{}, nil
	}

	names := candidateIDs(seeds.Candidates)
	aclExpr, aclParams := e.aclCondition(principal)
	where := "n.tenant_id = $tenant_id"
	if aclExpr != "" {
		where += " AND " + aclExpr
	}
	query := fmt.Sprintf(`MATCH (n)-[r]-(m)
WHERE n.primary_key IN $seeds AND %s AND m.tenant_id = $tenant_id
WITH m, count(r) AS degree
WHERE degree <= $degree_cap
RETURN m.primary_key AS id, m.properties AS properties, degree
ORDER BY degree DESC, m.primary_key ASC
LIMIT $max_results`, where)
	query, err = e.guardGenerated(query, e.cfg.MaxResults)
	if err != nil {
		return Result{}, err
	}

	params := map[string]interface{}{
		"seeds":       names,
		"tenant_id":   tenantID,
		"degree_cap":  e.cfg.DegreeCap,
		"max_results": e.cfg.MaxResults,
	}
	for k, v := range aclParams {
		params[k] = v
	}

	cacheKey := cache.CacheKey(query, params)
	var rows []cache.Row
	if e.subgraph != nil {
		if cached, ok := e.subgraph.Get(cacheKey); ok {
			rows = cached
		}
	}
	if rows == nil {
		rows, err = e.graph.RunRead(ctx, query, params)
		if err != nil {
			return Result{}, err
		}
		if e.subgraph != nil {
			e.subgraph.Put(cacheKey, rows, nodeIDsFromRows(rows))
		}
	}

	candidates := rowsToCandidates(rows)
	candidates = PersonalizedPageRank(candidates, edgesFromRows(rows), e.cfg.EdgeSafetyCap)
	if e.embedder != nil {
		if queryVector, embErr := e.embedder.Embed(ctx, queryText); embErr == nil {
			candidates = rerank.StructuralRerank(complexity, queryVector, candidates)
		}
	}
	return Result{Candidates: candidates}, nil
}

// multiHopPath: try the template catalog first; fall back to vector seeds
// plus agentic traversal.
func (e *Engine) multiHopPath(ctx context.Context, principal graphmodel.SecurityPrincipal, tenantID, queryText string) (Result, error) {
	if e.catalog != nil {
		if name, bindings, ok := e.catalog.Match(queryText); ok {
			return e.runTemplate(ctx, principal, tenantID, name, bindings)
		}
	}

	seeds, err := e.vectorPath(ctx, principal, tenantID, queryText)
	if err != nil {
		return Result{}, err
	}
	if len(seeds.Candidates) == 0 {
		return Result{}, nil
	}

	return e.agenticTraversal(ctx, principal, tenantID, seeds.Candidates)
}

func (e *Engine) runTemplate(ctx context.Context, principal graphmodel.SecurityPrincipal, tenantID, name string, bindings map[string]string) (Result, error) {
	tmpl, ok := e.catalog.Lookup(name)
	if !ok {
		return Result{}, fmt.Errorf("retrieval: unknown template %q", name)
	}
	params := map[string]interface{}{"tenant_id": tenantID, "max_results": e.cfg.MaxResults}
	for k, v := range bindings {
		params[k] = v
	}

	cacheKey := cache.CacheKey(tmpl.Cypher, params)
	if e.subgraph != nil {
		if rows, ok := e.subgraph.Get(cacheKey); ok {
			return Result{Aggregate: rows, FromCache: true}, nil
		}
	}
	rows, err := e.graph.RunRead(ctx, tmpl.Cypher, params)
	if err != nil {
		return Result{}, err
	}
	if e.subgraph != nil {
		e.subgraph.Put(cacheKey, rows, nil)
	}
	return Result{Aggregate: rows}, nil
}

// agenticTraversal selects between a bounded variable-length Cypher query
// (low-degree starts) and batched BFS (high-degree starts), using each
// seed's Degree field rather than a speculative probe round-trip. Seeds
// from vectorPath's full-text query carry no degree column (Degree is 0),
// so for those the bounded variable-length query is always chosen.
func (e *Engine) agenticTraversal(ctx context.Context, principal graphmodel.SecurityPrincipal, tenantID string, seeds []graphmodel.Candidate) (Result, error) {
	maxSeedDegree := 0
	for _, s := range seeds {
		if s.Degree > maxSeedDegree {
			maxSeedDegree = s.Degree
		}
	}

	if maxSeedDegree >= e.cfg.HighDegreeThreshold {
		return e.batchedBFS(ctx, principal, tenantID, candidateIDs(seeds))
	}
	return e.boundedVariableLengthPath(ctx, principal, tenantID, candidateIDs(seeds))
}

func (e *Engine) boundedVariableLengthPath(ctx context.Context, principal graphmodel.SecurityPrincipal, tenantID string, seedIDs []string) (Result, error) {
	aclExpr, aclParams := e.aclCondition(principal)
	where := "start.tenant_id = $tenant_id"
	if aclExpr != "" {
		where = strings.ReplaceAll(aclExpr, "n.", "end.") + " AND " + where
	}
	query := fmt.Sprintf(`MATCH p = (start)-[*1..%d]-(end)
WHERE start.primary_key IN $seeds AND %s AND end.tenant_id = $tenant_id
RETURN DISTINCT end.primary_key AS id, end.properties AS properties, length(p) AS degree
LIMIT $max_results`, e.cfg.MaxTraversalHops, where)
	query, err := e.guardGenerated(query, e.cfg.MaxResults)
	if err != nil {
		return Result{}, err
	}

	params := map[string]interface{}{"seeds": seedIDs, "tenant_id": tenantID, "max_results": e.cfg.MaxResults}
	for k, v := range aclParams {
		params[k] = v
	}
	rows, err := e.graph.RunRead(ctx, query, params)
	if err != nil {
		return Result{}, err
	}
	return Result{Candidates: rowsToCandidates(rows)}, nil
}

// batchedBFS expands one hop at a time, applying the degree cap at every
// level instead of materializing a deep variable-length path from a
// supernode.
func (e *Engine) batchedBFS(ctx context.Context, principal graphmodel.SecurityPrincipal, tenantID string, seedIDs []string) (Result, error) {
	frontier := seedIDs
	visited := map[string]bool{}
	var out []graphmodel.Candidate

	aclExpr, aclParams := e.aclCondition(principal)
	where := "n.tenant_id = $tenant_id"
	if aclExpr != "" {
		where += " AND " + aclExpr
	}

	for hop := 0; hop < e.cfg.MaxTraversalHops && len(frontier) > 0; hop++ {
		query := fmt.Sprintf(`MATCH (n)-[r]-(m)
WHERE n.primary_key IN $frontier AND %s AND m.tenant_id = $tenant_id
WITH m, count(r) AS degree
WHERE degree <= $degree_cap
RETURN DISTINCT m.primary_key AS id, m.properties AS properties, degree
LIMIT $max_results`, where)
		query, err := e.guardGenerated(query, e.cfg.MaxResults)
		if err != nil {
			return Result{}, err
		}

		params := map[string]interface{}{
			"frontier":    frontier,
			"tenant_id":   tenantID,
			"degree_cap":  e.cfg.DegreeCap,
			"max_results": e.cfg.MaxResults,
		}
		for k, v := range aclParams {
			params[k] = v
		}

		rows, err := e.graph.RunRead(ctx, query, params)
		if err != nil {
			return Result{}, err
		}
		var next []string
		for _, c := range rowsToCandidates(rows) {
			if visited[c.ID] {
				continue
			}
			visited[c.ID] = true
			out = append(out, c)
			next = append(next, c.ID)
		}
		frontier = next
		if len(out) >= e.cfg.MaxResults {
			break
		}
	}
	return Result{Candidates: out}, nil
}

// hybridPath: fuses the vector path's candidates with a single-hop graph
// expansion via reciprocal rank fusion, then layers on an aggregate template
// execution when the query also matches one.
func (e *Engine) hybridPath(ctx context.Context, principal graphmodel.SecurityPrincipal, tenantID, queryText string) (Result, error) {
	vectorResult, err := e.vectorPath(ctx, principal, tenantID, queryText)
	if err != nil {
		return Result{}, err
	}
	expanded, err := e.singleHopPath(ctx, principal, tenantID, queryText, graphmodel.ComplexityAggregate)
	if err != nil {
		return Result{}, err
	}

	result := Result{Candidates: rerank.ReciprocalRankFusion([][]graphmodel.Candidate{vectorResult.Candidates, expanded.Candidates}, 60)}
	if e.catalog != nil {
		if name, bindings, ok := e.catalog.Match(queryText); ok {
			aggResult, err := e.runTemplate(ctx, principal, tenantID, name, bindings)
			if err == nil {
				result.Aggregate = aggResult.Aggregate
			}
		}
	}
	return result, nil
}

func rowsToCandidates(rows []cache.Row) []graphmodel.Candidate {
	candidates := make([]graphmodel.Candidate, 0, len(rows))
	for _, r := range rows {
		c := graphmodel.Candidate{}
		if id, ok := r["id"].(string); ok {
			c.ID = id
		}
		if props, ok := r["properties"].(map[string]interface{}); ok {
			c.Properties = props
			if name, ok := props["name"].(string); ok {
				c.Name = name
			}
			if raw, ok := props["embedding"].([]interface{}); ok {
				vec := make([]float32, 0, len(raw))
				for _, v := range raw {
					if f, ok := v.(float64); ok {
						vec = append(vec, float32(f))
					}
				}
				c.Embedding = vec
			}
		}
		if score, ok := r["score"].(float64); ok {
			c.Score = score
		}
		if degree, ok := r["degree"].(int64); ok {
			c.Degree = int(degree)
		} else if degree, ok := r["degree"].(int); ok {
			c.Degree = degree
		}
		candidates = append(candidates, c)
	}
	return candidates
}

func nodeIDsFromRows(rows []cache.Row) []string {
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		if id, ok := r["id"].(string); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

func edgesFromRows(rows []cache.Row) []graphmodel.Edge {
	// The degree-capped MATCH-expand step doesn't carry edge direction in
	// its projection; PersonalizedPageRank treats a missing edge list as an
	// undirected star around the highest-degree candidate, a stand-in for the
	// local neighborhood
	// this path actually retrieved.
	return nil
}

func candidateIDs(candidates []graphmodel.Candidate) []string {
	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ID
	}
	return ids
}
