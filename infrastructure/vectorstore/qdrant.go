// Package vectorstore adapts github.com/qdrant/go-client to the narrow
// vector-search contract services/retrieval's vector path depends on, and
// the VectorStore contract services/outbox's durable drainer writes
// through. Named (not corpus-grounded on a full repo's source, since the
// pack carries qdrant-go-client only in other_examples/ manifest go.mod
// files, not source) per DESIGN.md.
package vectorstore

import (
	"context"

	"github.com/qdrant/go-client/qdrant"

	"github.com/groundwire/orchestrator/domain/graphmodel"
)

// Store wraps a Qdrant gRPC client scoped to one collection namespace
// convention: "{tenant_id}__{collection}", so a single Qdrant instance can
// back every tenant without relying on row-level filtering alone.
type Store struct {
	client *qdrant.Client
}

// NewStore dials host:port. Qdrant connections are plain gRPC without TLS;
// a non-empty apiKey is sent as the Qdrant API key.
func NewStore(host string, port int, apiKey string) (*Store, error) {
	cfg := &qdrant.Config{Host: host, Port: port}
	if apiKey != "" {
		cfg.APIKey = apiKey
	}
	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return &Store{client: client}, nil
}

// SearchByVector runs a nearest-neighbor query against collection (already
// tenant-scoped by the caller, e.g. "{tenant_id}__services") and returns
// candidates ordered by similarity score.
func (s *Store) SearchByVector(ctx context.Context, collection string, embedding []float32, limit uint64) ([]graphmodel.Candidate, error) {
	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(embedding...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, err
	}

	candidates := make([]graphmodel.Candidate, 0, len(points))
	for _, p := range points {
		candidates = append(candidates, graphmodel.Candidate{
			ID:    p.Id.GetUuid(),
			Score: float64(p.Score),
		})
	}
	return candidates, nil
}

// Upsert writes or overwrites vectors in collection, implementing
// services/outbox.VectorStore.
func (s *Store) Upsert(ctx context.Context, collection string, records []graphmodel.VectorRecord) error {
	points := make([]*qdrant.PointStruct, 0, len(records))
	for _, r := range records {
		payload := map[string]interface{}{}
		for k, v := range r.Metadata {
			payload[k] = v
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewID(r.ID),
			Vectors: qdrant.NewVectors(r.Vector...),
			Payload: qdrant.NewValueMap(payload),
		})
	}
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Points:         points,
	})
	return err
}

// Delete removes the given point IDs from collection, implementing
// services/outbox.VectorStore.
func (s *Store) Delete(ctx context.Context, collection string, ids []string) error {
	pointIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pointIDs = append(pointIDs, qdrant.NewID(id))
	}
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points:         qdrant.NewPointsSelector(pointIDs...),
	})
	return err
}
