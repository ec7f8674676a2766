package guardrails

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/go-redis/redis/v8"

	"github.com/groundwire/orchestrator/infrastructure/logging"
)

// RejectedQuery is one entry in the AST dead-letter queue: a generated
// Cypher query that failed a guardrail, kept for offline inspection rather
// than silently dropped.
type RejectedQuery struct {
	TenantID string
	Query    string
	Reason   string
}

// ASTDeadLetterQueue holds queries rejected by ValidateCallSubqueryACL,
// CypherSchemaValidator, or CypherComplexityGuard for later replay/audit.
type ASTDeadLetterQueue struct {
	mu      sync.Mutex
	maxSize int
	buffer  []RejectedQuery

	client *redis.Client
	key    string
	logger *logging.Logger
}

const defaultDLQMaxSize = 10000

// NewASTDeadLetterQueue builds an in-memory DLQ. If client is non-nil,
// Enqueue additionally best-effort persists to a bounded Redis list so the
// queue survives process restarts; the in-memory copy remains authoritative
// for Peek/Size within this process.
func NewASTDeadLetterQueue(maxSize int, client *redis.Client, logger *logging.Logger) *ASTDeadLetterQueue {
	if maxSize <= 0 {
		maxSize = defaultDLQMaxSize
	}
	return &ASTDeadLetterQueue{
		maxSize: maxSize,
		client:  client,
		key:     "guardrails:ast_dlq",
		logger:  logger,
	}
}

// Enqueue appends entry, evicting the oldest entry once at capacity.
func (q *ASTDeadLetterQueue) Enqueue(ctx context.Context, entry RejectedQuery) {
	q.mu.Lock()
	if len(q.buffer) >= q.maxSize {
		q.buffer = q.buffer[1:]
	}
	q.buffer = append(q.buffer, entry)
	q.mu.Unlock()

	if q.client == nil {
		return
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return
	}
	pipe := q.client.TxPipeline()
	pipe.RPush(ctx, q.key, raw)
	pipe.LTrim(ctx, q.key, -int64(q.maxSize), -1)
	if _, err := pipe.Exec(ctx); err != nil && q.logger != nil {
		q.logger.WithContext(ctx).WithError(err).Warn("ast dlq redis persist failed")
	}
}

// Drain returns and clears all buffered entries.
func (q *ASTDeadLetterQueue) Drain() []RejectedQuery {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.buffer
	q.buffer = nil
	return items
}

// Peek returns a snapshot without clearing the queue.
func (q *ASTDeadLetterQueue) Peek() []RejectedQuery {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]RejectedQuery, len(q.buffer))
	copy(out, q.buffer)
	return out
}

// Size reports the number of buffered entries.
func (q *ASTDeadLetterQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buffer)
}

// Clear discards every buffered entry, local and remote.
func (q *ASTDeadLetterQueue) Clear(ctx context.Context) error {
	q.mu.Lock()
	q.buffer = nil
	q.mu.Unlock()
	if q.client == nil {
		return nil
	}
	if err := q.client.Del(ctx, q.key).Err(); err != nil {
		return errors.New("guardrails: ast dlq redis clear failed: " + err.Error())
	}
	return nil
}
