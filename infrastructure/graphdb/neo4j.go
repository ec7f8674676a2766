// Package graphdb adapts the neo4j-go-driver to the narrow read/write
// contracts services/ingest and services/retrieval depend on, keeping the
// domain packages free of any driver import. Grounded on
// evalgo-org-eve/db/repository/neo4j.go's session-per-call,
// ExecuteRead/ExecuteWrite pattern.
package graphdb

import (
	"context"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/groundwire/orchestrator/domain/graphmodel"
	svcerrors "github.com/groundwire/orchestrator/infrastructure/errors"
	"github.com/groundwire/orchestrator/services/cache"
)

// Driver wraps a neo4j.DriverWithContext, batching UNWIND MERGE writes for
// ingestion and exposing plain Cypher execution for retrieval.
type Driver struct {
	driver neo4j.DriverWithContext
}

// NewDriver connects to uri and verifies connectivity before returning.
func NewDriver(ctx context.Context, uri, username, password string) (*Driver, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, err
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, err
	}
	return &Driver{driver: driver}, nil
}

// Close releases the underlying driver's connection pool.
func (d *Driver) Close(ctx context.Context) error { return d.driver.Close(ctx) }

// RunRead executes a read-only Cypher query and materializes every record
// into a cache.Row, the shared shape the subgraph cache stores.
func (d *Driver) RunRead(ctx context.Context, query string, params map[string]interface{}) ([]cache.Row, error) {
	session := d.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		var rows []cache.Row
		for res.Next(ctx) {
			rec := res.Record()
			row := cache.Row{}
			for i, key := range rec.Keys {
				row[key] = rec.Values[i]
			}
			rows = append(rows, row)
		}
		return rows, res.Err()
	})
	if err != nil {
		return nil, svcerrors.GraphBackendError("run_read", err)
	}
	return result.([]cache.Row), nil
}

// MergeNodesAndEdges implements services/ingest.GraphWriter: one UNWIND
// MERGE statement per node kind (labels can't be parameterized in Cypher),
// all scoped by tenant_id, followed by edge merges tagged with ingestionID
// for the tombstone sweep.
func (d *Driver) MergeNodesAndEdges(ctx context.Context, tenantID, ingestionID string, nodes []graphmodel.Node, edges []graphmodel.Edge) error {
	session := d.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		byKind := map[graphmodel.NodeKind][]map[string]interface{}{}
		for _, n := range nodes {
			byKind[n.Kind] = append(byKind[n.Kind], map[string]interface{}{
				"primary_key":   n.PrimaryKey,
				"tenant_id":     n.TenantID,
				"team_owner":    n.TeamOwner,
				"namespace_acl": n.NamespaceACL,
				"read_roles":    n.ReadRoles,
				"properties":    n.Properties,
			})
		}
		for kind, batch := range byKind {
			query := `UNWIND $rows AS row
MERGE (n:` + string(kind) + ` {primary_key: row.primary_key, tenant_id: row.tenant_id})
SET n.team_owner = row.team_owner,
    n.namespace_acl = row.namespace_acl,
    n.read_roles = row.read_roles,
    n.properties = row.properties`
			if _, err := tx.Run(ctx, query, map[string]interface{}{"rows": batch}); err != nil {
				return nil, err
			}
		}

		byEdgeKind := map[graphmodel.EdgeKind][]map[string]interface{}{}
		for _, e := range edges {
			byEdgeKind[e.Kind] = append(byEdgeKind[e.Kind], map[string]interface{}{
				"source_key":   e.SourceKey,
				"target_key":   e.TargetKey,
				"tenant_id":    e.TenantID,
				"ingestion_id": ingestionID,
				"last_seen_at": e.LastSeenAt.Format(time.RFC3339),
			})
		}
		for kind, batch := range byEdgeKind {
			query := `UNWIND $rows AS row
MATCH (a {primary_key: row.source_key, tenant_id: row.tenant_id})
MATCH (b {primary_key: row.target_key, tenant_id: row.tenant_id})
MERGE (a)-[r:` + string(kind) + `]->(b)
SET r.ingestion_id = row.ingestion_id,
    r.last_seen_at = row.last_seen_at,
    r.tombstoned_at = null`
			if _, err := tx.Run(ctx, query, map[string]interface{}{"rows": batch}); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return svcerrors.GraphBackendError("merge_nodes_and_edges", err)
	}
	return nil
}

// TombstoneStaleEdges marks every tenant edge not touched by ingestionID
// as tombstoned rather than deleting it outright, so the vector-sync
// outbox can still observe and prune dependent vectors.
func (d *Driver) TombstoneStaleEdges(ctx context.Context, tenantID, ingestionID string) (int, error) {
	session := d.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	result, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		query := `MATCH (a {tenant_id: $tenant_id})-[r]->(b {tenant_id: $tenant_id})
WHERE r.ingestion_id <> $ingestion_id AND r.tombstoned_at IS NULL
SET r.tombstoned_at = datetime()
RETURN count(r) AS tombstoned`
		res, err := tx.Run(ctx, query, map[string]interface{}{
			"tenant_id":    tenantID,
			"ingestion_id": ingestionID,
		})
		if err != nil {
			return 0, err
		}
		if res.Next(ctx) {
			rec := res.Record()
			if v, ok := rec.Get("tombstoned"); ok {
				return int(v.(int64)), res.Err()
			}
		}
		return 0, res.Err()
	})
	if err != nil {
		return 0, svcerrors.GraphBackendError("tombstone_stale_edges", err)
	}
	return result.(int), nil
}
