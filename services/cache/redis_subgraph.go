package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/groundwire/orchestrator/infrastructure/logging"
)

// RedisSubgraphCache is a two-tier cache: L1 is an in-memory SubgraphCache,
// L2 is Redis with a per-entry TTL. Gets check L1 then L2; L2 failures
// degrade silently to an L1 miss rather than surfacing an error — the cache
// is an optimization, never a dependency the hot path can fail on.
type RedisSubgraphCache struct {
	l1     *SubgraphCache
	client *redis.Client
	ttl    time.Duration
	prefix string
	logger *logging.Logger
}

// NewRedisSubgraphCache wires an L1 SubgraphCache in front of a Redis client.
// A nil client degrades the cache to L1-only, which callers use when
// REDIS_URL is unset.
func NewRedisSubgraphCache(client *redis.Client, l1MaxSize, l1MaxValueBytes int, ttl time.Duration, logger *logging.Logger) *RedisSubgraphCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisSubgraphCache{
		l1:     NewSubgraphCache(l1MaxSize, l1MaxValueBytes),
		client: client,
		ttl:    ttl,
		prefix: "subgraph:",
		logger: logger,
	}
}

// Get checks L1, then L2 on an L1 miss.
func (c *RedisSubgraphCache) Get(ctx context.Context, key string) ([]Row, bool) {
	if rows, ok := c.l1.Get(key); ok {
		return rows, true
	}
	if c.client == nil {
		return nil, false
	}

	raw, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if err != redis.Nil && c.logger != nil {
			c.logger.WithContext(ctx).WithError(err).Debug("subgraph cache L2 read failed, degrading to miss")
		}
		return nil, false
	}

	var rows []Row
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, false
	}
	c.l1.Put(key, rows, nil)
	return rows, true
}

// Put writes both L1 and L2 (when configured). nodeIDs is a reverse index
// used by InvalidateByNodes.
func (c *RedisSubgraphCache) Put(ctx context.Context, key string, rows []Row, nodeIDs []string) {
	c.l1.Put(key, rows, nodeIDs)
	if c.client == nil {
		return
	}

	raw, err := json.Marshal(rows)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, c.prefix+key, raw, c.ttl).Err(); err != nil && c.logger != nil {
		c.logger.WithContext(ctx).WithError(err).Debug("subgraph cache L2 write failed")
	}
}

// InvalidateByNodes removes from L1 every cached query touching any of the
// listed node IDs. L2 entries expire naturally via TTL; a surgical L2
// invalidation would require a node->key reverse index in Redis, which this
// deployment does not maintain (L2 is a performance cache, not a source of
// truth, so bounded staleness up to ttl is acceptable).
func (c *RedisSubgraphCache) InvalidateByNodes(nodeIDs []string) {
	c.l1.InvalidateByNodes(nodeIDs)
}

// InvalidateAll clears L1. See InvalidateByNodes for the L2 staleness note.
func (c *RedisSubgraphCache) InvalidateAll() {
	c.l1.InvalidateAll()
}

// Stats returns L1 statistics; L2 hit/miss counters are not tracked locally.
func (c *RedisSubgraphCache) Stats() CacheStats {
	return c.l1.Stats()
}
