// Package cache implements the subgraph and semantic query caches: an
// in-memory LRU (backed by hashicorp/golang-lru), an optional two-tier
// Redis-backed extension, and a semantic nearest-neighbor query cache.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"regexp"
	"sort"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CacheStats mirrors the frozen stats tuple from the reference cache:
// (hits, misses, size, maxsize).
type CacheStats struct {
	Hits    int64
	Misses  int64
	Size    int
	MaxSize int
}

var whitespacePattern = regexp.MustCompile(`\s+`)

// NormalizeCypher lowercases, collapses whitespace runs, and strips a
// trailing semicolon so semantically identical queries hash identically.
func NormalizeCypher(cypher string) string {
	normalized := whitespacePattern.ReplaceAllString(strings.ToLower(strings.TrimSpace(cypher)), " ")
	return strings.TrimSuffix(normalized, ";")
}

// CacheKey computes a fixed-length (SHA-256 hex, <=128 chars) key from the
// normalized Cypher text and a sorted-JSON encoding of the ACL parameter set,
// so two requests with the same query and ACL scope always collide and two
// different ACL scopes never do.
func CacheKey(cypher string, aclParams map[string]interface{}) string {
	keys := make([]string, 0, len(aclParams))
	for k := range aclParams {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ordered := make(map[string]interface{}, len(aclParams))
	for _, k := range keys {
		ordered[k] = aclParams[k]
	}
	paramsJSON, _ := json.Marshal(ordered)

	h := sha256.Sum256([]byte(NormalizeCypher(cypher) + "|" + string(paramsJSON)))
	return hex.EncodeToString(h[:])
}

// Row is one cached result row; the subgraph cache stores lists of these.
type Row = map[string]interface{}

type entry struct {
	rows    []Row
	nodeIDs map[string]bool
}

// SubgraphCache is an LRU mapping key -> []Row with a maximum entry count
// and an optional maximum per-value byte estimate. On insert beyond
// capacity the least-recently-used entry is evicted; hits move to
// most-recently-used.
type SubgraphCache struct {
	mu            sync.Mutex
	lru           *lru.Cache[string, entry]
	maxSize       int
	maxValueBytes int
	hits          int64
	misses        int64
}

// NewSubgraphCache builds an LRU-backed subgraph cache bounded at maxSize
// entries, optionally rejecting puts whose estimated byte size exceeds
// maxValueBytes (0 disables the check).
func NewSubgraphCache(maxSize, maxValueBytes int) *SubgraphCache {
	if maxSize <= 0 {
		maxSize = DefaultSubgraphCacheMaxSize
	}
	c, _ := lru.New[string, entry](maxSize)
	return &SubgraphCache{lru: c, maxSize: maxSize, maxValueBytes: maxValueBytes}
}

// DefaultSubgraphCacheMaxSize mirrors SUBGRAPH_CACHE_MAXSIZE's default.
const DefaultSubgraphCacheMaxSize = 256

// Get returns the cached rows for key and whether they were found.
func (c *SubgraphCache) Get(key string) ([]Row, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Get(key)
	if !ok {
		c.misses++
		return nil, false
	}
	c.hits++
	return e.rows, true
}

// estimateBytes approximates the in-memory footprint of rows via their JSON
// encoding length; rows are marshaled on each call and the encoding is used
// only for this estimate.
func estimateBytes(rows []Row) int {
	b, err := json.Marshal(rows)
	if err != nil {
		return 0
	}
	return len(b)
}

// Put inserts rows under key, optionally tagged with the node IDs they
// touch (used for surgical invalidation). Puts exceeding maxValueBytes are
// silently skipped.
func (c *SubgraphCache) Put(key string, rows []Row, nodeIDs []string) {
	if c.maxValueBytes > 0 && estimateBytes(rows) > c.maxValueBytes {
		return
	}

	nodeSet := make(map[string]bool, len(nodeIDs))
	for _, id := range nodeIDs {
		nodeSet[id] = true
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(key, entry{rows: rows, nodeIDs: nodeSet})
}

// Invalidate removes a single key.
func (c *SubgraphCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(key)
}

// InvalidateAll clears the cache.
func (c *SubgraphCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}

// InvalidateByNodes removes every cached query touching any of the listed
// node IDs.
func (c *SubgraphCache) InvalidateByNodes(nodeIDs []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	targets := make(map[string]bool, len(nodeIDs))
	for _, id := range nodeIDs {
		targets[id] = true
	}
	for _, key := range c.lru.Keys() {
		e, ok := c.lru.Peek(key)
		if !ok {
			continue
		}
		for id := range e.nodeIDs {
			if targets[id] {
				c.lru.Remove(key)
				break
			}
		}
	}
}

// Stats returns the current (hits, misses, size, maxsize) tuple.
func (c *SubgraphCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{Hits: c.hits, Misses: c.misses, Size: c.lru.Len(), MaxSize: c.maxSize}
}
