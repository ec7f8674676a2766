package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheKey_FixedLengthAndOrderIndependent(t *testing.T) {
	k1 := CacheKey("MATCH (n) RETURN n", map[string]interface{}{"acl_team": "platform", "acl_role": "viewer"})
	k2 := CacheKey("match (n)   return n  ;", map[string]interface{}{"acl_role": "viewer", "acl_team": "platform"})
	assert.Equal(t, k1, k2, "normalization and param ordering must not affect the key")
	assert.Len(t, k1, 64, "sha256 hex digest is always 64 chars")
}

func TestCacheKey_DifferentACLScopesDiverge(t *testing.T) {
	k1 := CacheKey("MATCH (n) RETURN n", map[string]interface{}{"acl_team": "platform"})
	k2 := CacheKey("MATCH (n) RETURN n", map[string]interface{}{"acl_team": "payments"})
	assert.NotEqual(t, k1, k2)
}

func TestSubgraphCache_HitsAndMisses(t *testing.T) {
	c := NewSubgraphCache(2, 0)

	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.Put("k1", []Row{{"id": "1"}}, []string{"n1"})
	rows, ok := c.Get("k1")
	require.True(t, ok)
	assert.Equal(t, "1", rows[0]["id"])

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 1, stats.Size)
	assert.Equal(t, 2, stats.MaxSize)
}

func TestSubgraphCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := NewSubgraphCache(2, 0)
	c.Put("k1", []Row{{"id": "1"}}, nil)
	c.Put("k2", []Row{{"id": "2"}}, nil)
	c.Get("k1") // k1 becomes most-recently-used
	c.Put("k3", []Row{{"id": "3"}}, nil)

	_, ok := c.Get("k2")
	assert.False(t, ok, "k2 was least recently used and should have been evicted")

	_, ok = c.Get("k1")
	assert.True(t, ok)
}

func TestSubgraphCache_RejectsOversizedValues(t *testing.T) {
	c := NewSubgraphCache(10, 5)
	c.Put("big", []Row{{"id": "this is definitely more than five bytes"}}, nil)
	_, ok := c.Get("big")
	assert.False(t, ok)
}

func TestSubgraphCache_InvalidateByNodes(t *testing.T) {
	c := NewSubgraphCache(10, 0)
	c.Put("k1", []Row{{"id": "1"}}, []string{"n1", "n2"})
	c.Put("k2", []Row{{"id": "2"}}, []string{"n3"})

	c.InvalidateByNodes([]string{"n2"})

	_, ok := c.Get("k1")
	assert.False(t, ok)
	_, ok = c.Get("k2")
	assert.True(t, ok)
}

func TestSemanticQueryCache_NearestNeighborHit(t *testing.T) {
	c := NewSemanticQueryCache(10, 0.9)
	c.Put(SemanticEntry{
		Query:     "blast radius of payments",
		Embedding: []float32{1, 0, 0},
		Result:    "cached-result",
		TenantID:  "tenant-a",
		ACLKey:    "team:platform",
	})

	result, ok := c.Lookup("tenant-a", "team:platform", []float32{0.99, 0.01, 0})
	require.True(t, ok)
	assert.Equal(t, "cached-result", result)
}

func TestSemanticQueryCache_MissesOutsideThreshold(t *testing.T) {
	c := NewSemanticQueryCache(10, 0.99)
	c.Put(SemanticEntry{
		Query:     "blast radius of payments",
		Embedding: []float32{1, 0, 0},
		Result:    "cached-result",
		TenantID:  "tenant-a",
		ACLKey:    "team:platform",
	})

	_, ok := c.Lookup("tenant-a", "team:platform", []float32{0, 1, 0})
	assert.False(t, ok)
}

func TestSemanticQueryCache_ScopedByTenantAndACL(t *testing.T) {
	c := NewSemanticQueryCache(10, 0.9)
	c.Put(SemanticEntry{
		Query:     "blast radius of payments",
		Embedding: []float32{1, 0, 0},
		Result:    "cached-result",
		TenantID:  "tenant-a",
		ACLKey:    "team:platform",
	})

	_, ok := c.Lookup("tenant-b", "team:platform", []float32{1, 0, 0})
	assert.False(t, ok, "different tenant must never share a cache hit")

	_, ok = c.Lookup("tenant-a", "team:other", []float32{1, 0, 0})
	assert.False(t, ok, "different ACL key must never share a cache hit")
}

func TestSemanticQueryCache_InvalidateTenant(t *testing.T) {
	c := NewSemanticQueryCache(10, 0.9)
	c.Put(SemanticEntry{Query: "q1", Embedding: []float32{1, 0}, Result: "r1", TenantID: "tenant-a", ACLKey: "k"})
	c.Put(SemanticEntry{Query: "q2", Embedding: []float32{0, 1}, Result: "r2", TenantID: "tenant-b", ACLKey: "k"})

	c.InvalidateTenant("tenant-a")

	assert.Equal(t, 1, c.Len())
	_, ok := c.Lookup("tenant-a", "k", []float32{1, 0})
	assert.False(t, ok)
	_, ok = c.Lookup("tenant-b", "k", []float32{0, 1})
	assert.True(t, ok)
}
