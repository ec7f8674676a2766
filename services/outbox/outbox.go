// Package outbox implements the vector-sync outbox: an in-memory coalescing
// buffer for events produced within a graph-commit transaction, and a
// durable drainer that persists and retries them against the vector store.
package outbox

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"github.com/groundwire/orchestrator/domain/graphmodel"
)

type coalesceKey struct {
	collection string
	nodeID     string
}

// CoalescingOutbox deduplicates enqueued events by (collection, node_id):
// repeated enqueues of the same node within the buffer's lifetime collapse
// into a single event, with the latest operation and event ID winning (an
// upsert after a delete overrides it, and vice versa).
type CoalescingOutbox struct {
	mu     sync.Mutex
	events map[coalesceKey]graphmodel.VectorSyncEvent
}

// NewCoalescingOutbox builds an empty buffer.
func NewCoalescingOutbox() *CoalescingOutbox {
	return &CoalescingOutbox{events: make(map[coalesceKey]graphmodel.VectorSyncEvent)}
}

// Enqueue records an event, overwriting any pending event for the same
// (collection, node) key.
func (o *CoalescingOutbox) Enqueue(collection, nodeID string, op graphmodel.VectorOperation, record graphmodel.VectorRecord) {
	o.mu.Lock()
	defer o.mu.Unlock()

	key := coalesceKey{collection: collection, nodeID: nodeID}
	o.events[key] = graphmodel.VectorSyncEvent{
		EventID:    uuid.NewString(),
		Collection: collection,
		Operation:  op,
		Vectors:    []graphmodel.VectorRecord{record},
		Status:     "pending",
	}
}

// EnqueueDelete records a pending deletion of nodeID from collection.
func (o *CoalescingOutbox) EnqueueDelete(collection, nodeID string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	key := coalesceKey{collection: collection, nodeID: nodeID}
	o.events[key] = graphmodel.VectorSyncEvent{
		EventID:    uuid.NewString(),
		Collection: collection,
		Operation:  graphmodel.VectorDelete,
		PrunedIDs:  []string{nodeID},
		Status:     "pending",
	}
}

// Drain removes and returns every currently buffered event.
func (o *CoalescingOutbox) Drain() []graphmodel.VectorSyncEvent {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]graphmodel.VectorSyncEvent, 0, len(o.events))
	for _, e := range o.events {
		out = append(out, e)
	}
	o.events = make(map[coalesceKey]graphmodel.VectorSyncEvent)
	return out
}

// Len reports the number of currently buffered (post-coalescing) events.
func (o *CoalescingOutbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.events)
}

// VectorStore is the minimal contract the drainer needs against the vector
// database client; the concrete client (e.g. Qdrant) is wired in by the
// caller.
type VectorStore interface {
	Upsert(ctx context.Context, collection string, records []graphmodel.VectorRecord) error
	Delete(ctx context.Context, collection string, ids []string) error
}

// DurableStore is the minimal contract against the distributed key-value
// store used to persist pending events across restarts.
type DurableStore interface {
	Save(ctx context.Context, key string, data []byte) error
	Load(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)
}

// DurableOutboxDrainer persists events (one hash entry per event, a set of
// pending IDs via key listing) and processes them against the vector store
// with bounded retry.
type DurableOutboxDrainer struct {
	store      DurableStore
	vectorDB   VectorStore
	maxRetries int
	prefix     string
}

// NewDurableOutboxDrainer builds a drainer. maxRetries <= 0 defaults to 5.
func NewDurableOutboxDrainer(store DurableStore, vectorDB VectorStore, maxRetries int) *DurableOutboxDrainer {
	if maxRetries <= 0 {
		maxRetries = 5
	}
	return &DurableOutboxDrainer{store: store, vectorDB: vectorDB, maxRetries: maxRetries, prefix: "outbox:"}
}

// Persist writes event to durable storage ahead of processing, so it
// survives a crash before the vector-store call completes.
func (d *DurableOutboxDrainer) Persist(ctx context.Context, event graphmodel.VectorSyncEvent) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return d.store.Save(ctx, d.prefix+event.EventID, raw)
}

// LoadPending lists and decodes every event persisted but not yet cleared
// (called on startup to resume after a restart).
func (d *DurableOutboxDrainer) LoadPending(ctx context.Context) ([]graphmodel.VectorSyncEvent, error) {
	keys, err := d.store.List(ctx, d.prefix)
	if err != nil {
		return nil, err
	}
	events := make([]graphmodel.VectorSyncEvent, 0, len(keys))
	for _, key := range keys {
		raw, err := d.store.Load(ctx, key)
		if err != nil {
			continue
		}
		var e graphmodel.VectorSyncEvent
		if err := json.Unmarshal(raw, &e); err == nil {
			events = append(events, e)
		}
	}
	return events, nil
}

// Process applies event to the vector store, retrying up to maxRetries on
// failure before discarding it. It returns nil once the event is either
// applied or discarded (Process never re-raises a vector-store error to the
// caller — that is the point of an outbox).
func (d *DurableOutboxDrainer) Process(ctx context.Context, event graphmodel.VectorSyncEvent) error {
	var err error
	switch event.Operation {
	case graphmodel.VectorUpsert:
		err = d.vectorDB.Upsert(ctx, event.Collection, event.Vectors)
	case graphmodel.VectorDelete:
		err = d.vectorDB.Delete(ctx, event.Collection, event.PrunedIDs)
	}

	if err == nil {
		return d.store.Delete(ctx, d.prefix+event.EventID)
	}

	event.RetryCount++
	if event.RetryCount >= d.maxRetries {
		event.Status = "discarded"
		return d.store.Delete(ctx, d.prefix+event.EventID)
	}
	event.Status = "retrying"
	raw, marshalErr := json.Marshal(event)
	if marshalErr != nil {
		return marshalErr
	}
	return d.store.Save(ctx, d.prefix+event.EventID, raw)
}
