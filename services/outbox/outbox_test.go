package outbox

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/groundwire/orchestrator/domain/graphmodel"
	"github.com/groundwire/orchestrator/infrastructure/state"
)

func TestCoalescingOutbox_DedupesByCollectionAndNode(t *testing.T) {
	o := NewCoalescingOutbox()
	for i := 0; i < 100; i++ {
		o.Enqueue("services", "node-1", graphmodel.VectorUpsert, graphmodel.VectorRecord{ID: "node-1"})
	}
	assert.Equal(t, 1, o.Len())
}

func TestCoalescingOutbox_DistinctNodesPreserved(t *testing.T) {
	o := NewCoalescingOutbox()
	o.Enqueue("services", "node-1", graphmodel.VectorUpsert, graphmodel.VectorRecord{ID: "node-1"})
	o.Enqueue("services", "node-2", graphmodel.VectorUpsert, graphmodel.VectorRecord{ID: "node-2"})
	o.Enqueue("topics", "node-1", graphmodel.VectorUpsert, graphmodel.VectorRecord{ID: "node-1"})
	assert.Equal(t, 3, o.Len())
}

func TestCoalescingOutbox_LatestOperationWins(t *testing.T) {
	o := NewCoalescingOutbox()
	o.EnqueueDelete("services", "node-1")
	o.Enqueue("services", "node-1", graphmodel.VectorUpsert, graphmodel.VectorRecord{ID: "node-1"})

	drained := o.Drain()
	require.Len(t, drained, 1)
	assert.Equal(t, graphmodel.VectorUpsert, drained[0].Operation)
}

type fakeVectorStore struct {
	failUpsert bool
	upserted   []graphmodel.VectorRecord
	deleted    []string
}

func (f *fakeVectorStore) Upsert(ctx context.Context, collection string, records []graphmodel.VectorRecord) error {
	if f.failUpsert {
		return errors.New("store unavailable")
	}
	f.upserted = append(f.upserted, records...)
	return nil
}

func (f *fakeVectorStore) Delete(ctx context.Context, collection string, ids []string) error {
	f.deleted = append(f.deleted, ids...)
	return nil
}

func newTestStore(t *testing.T) *state.PersistentState {
	t.Helper()
	st, err := state.NewPersistentState(state.DefaultConfig())
	require.NoError(t, err)
	return st
}

func TestDurableOutboxDrainer_ProcessSucceeds(t *testing.T) {
	store := newTestStore(t)
	vec := &fakeVectorStore{}
	d := NewDurableOutboxDrainer(store, vec, 3)

	event := graphmodel.VectorSyncEvent{EventID: "e1", Collection: "services", Operation: graphmodel.VectorUpsert, Vectors: []graphmodel.VectorRecord{{ID: "n1"}}}
	require.NoError(t, d.Persist(context.Background(), event))
	require.NoError(t, d.Process(context.Background(), event))

	assert.Len(t, vec.upserted, 1)
	_, err := store.Load(context.Background(), "outbox:e1")
	assert.Error(t, err, "a successfully processed event must be cleared from durable storage")
}

func TestDurableOutboxDrainer_DiscardsAfterMaxRetries(t *testing.T) {
	store := newTestStore(t)
	vec := &fakeVectorStore{failUpsert: true}
	d := NewDurableOutboxDrainer(store, vec, 2)

	event := graphmodel.VectorSyncEvent{EventID: "e2", Collection: "services", Operation: graphmodel.VectorUpsert, Vectors: []graphmodel.VectorRecord{{ID: "n2"}}}
	require.NoError(t, d.Persist(context.Background(), event))

	require.NoError(t, d.Process(context.Background(), event))
	raw, err := store.Load(context.Background(), "outbox:e2")
	require.NoError(t, err)

	event.RetryCount = 1
	require.NoError(t, d.Process(context.Background(), event))
	_, err = store.Load(context.Background(), "outbox:e2")
	assert.Error(t, err, "the event must be discarded once max retries is reached")
	_ = raw
}

func TestDurableOutboxDrainer_LoadPendingAfterRestart(t *testing.T) {
	store := newTestStore(t)
	d := NewDurableOutboxDrainer(store, &fakeVectorStore{}, 3)

	event := graphmodel.VectorSyncEvent{EventID: "e3", Collection: "services", Operation: graphmodel.VectorUpsert}
	require.NoError(t, d.Persist(context.Background(), event))

	pending, err := d.LoadPending(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "e3", pending[0].EventID)
}
