// Package graphmodel defines the property-graph data model shared by the
// ingestion pipeline, the retrieval engine, and the ACL rewriter.
package graphmodel

import "time"

// NodeKind enumerates the fixed set of node labels the orchestrator knows
// how to ingest and traverse.
type NodeKind string

const (
	NodeService       NodeKind = "Service"
	NodeDatabase      NodeKind = "Database"
	NodeKafkaTopic    NodeKind = "KafkaTopic"
	NodeK8sDeployment NodeKind = "K8sDeployment"
)

// EdgeKind enumerates the fixed set of relationship types.
type EdgeKind string

const (
	EdgeCalls      EdgeKind = "CALLS"
	EdgeProduces   EdgeKind = "PRODUCES"
	EdgeConsumes   EdgeKind = "CONSUMES"
	EdgeDeployedIn EdgeKind = "DEPLOYED_IN"
)

// Node is a property-graph vertex. Merge identity is (PrimaryKey, TenantID)
// jointly: cross-tenant duplicates with the same PrimaryKey are distinct nodes.
type Node struct {
	Kind         NodeKind               `json:"kind"`
	PrimaryKey   string                 `json:"primary_key"`
	TenantID     string                 `json:"tenant_id"`
	TeamOwner    string                 `json:"team_owner"`
	NamespaceACL []string               `json:"namespace_acl"`
	ReadRoles    []string               `json:"read_roles"`
	Properties   map[string]interface{} `json:"properties"`
}

// Edge is a property-graph relationship. Source and target must share TenantID.
type Edge struct {
	Kind         EdgeKind  `json:"kind"`
	TenantID     string    `json:"tenant_id"`
	SourceKey    string    `json:"source_key"`
	TargetKey    string    `json:"target_key"`
	IngestionID  string    `json:"ingestion_id"`
	LastSeenAt   time.Time `json:"last_seen_at"`
	TombstonedAt *time.Time `json:"tombstoned_at,omitempty"`
}

// ScopedEntityID builds the canonical graph identifier for an extracted
// service: "{repository}::{namespace}::{name}", or the bare name if both
// repository and namespace are empty.
func ScopedEntityID(repository, namespace, name string) string {
	if repository == "" && namespace == "" {
		return name
	}
	return repository + "::" + namespace + "::" + name
}

// SecurityPrincipal identifies the caller for ACL evaluation. A principal is
// admin iff Role == "admin". The anonymous principal (AnonymousPrincipal) is
// {team: "*", namespace: "*", role: "anonymous"}.
type SecurityPrincipal struct {
	Team      string `json:"team"`
	Namespace string `json:"namespace"`
	Role      string `json:"role"`
	TenantID  string `json:"tenant_id"`
}

// IsAdmin reports whether the principal bypasses ACL injection entirely.
func (p SecurityPrincipal) IsAdmin() bool { return p.Role == "admin" }

// AnonymousPrincipal is returned when no Authorization header is present.
func AnonymousPrincipal() SecurityPrincipal {
	return SecurityPrincipal{Team: "*", Namespace: "*", Role: "anonymous"}
}

// JobStatus enumerates the lifecycle of an asynchronous ingest job.
type JobStatus string

const (
	JobPending   JobStatus = "PENDING"
	JobRunning   JobStatus = "RUNNING"
	JobCompleted JobStatus = "COMPLETED"
	JobFailed    JobStatus = "FAILED"
)

// Job is a record of an asynchronous ingestion run.
type Job struct {
	JobID       string      `json:"job_id"`
	Status      JobStatus   `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	Result      interface{} `json:"result,omitempty"`
	Error       string      `json:"error,omitempty"`
}

// VectorOperation distinguishes upsert from delete in the vector-sync outbox.
type VectorOperation string

const (
	VectorUpsert VectorOperation = "upsert"
	VectorDelete VectorOperation = "delete"
)

// VectorRecord is a single embedding row synced to the vector store.
type VectorRecord struct {
	ID       string                 `json:"id"`
	Vector   []float32              `json:"vector"`
	Metadata map[string]interface{} `json:"metadata"`
}

// VectorSyncEvent describes one outstanding vector-store mutation.
type VectorSyncEvent struct {
	EventID    string          `json:"event_id"`
	Collection string          `json:"collection"`
	Operation  VectorOperation `json:"operation"`
	PrunedIDs  []string        `json:"pruned_ids,omitempty"`
	Vectors    []VectorRecord  `json:"vectors,omitempty"`
	Status     string          `json:"status"`
	RetryCount int             `json:"retry_count"`
}

// QueryComplexity is the result of query classification.
type QueryComplexity string

const (
	ComplexityEntityLookup QueryComplexity = "ENTITY_LOOKUP"
	ComplexitySingleHop    QueryComplexity = "SINGLE_HOP"
	ComplexityMultiHop     QueryComplexity = "MULTI_HOP"
	ComplexityAggregate    QueryComplexity = "AGGREGATE"
)

// RetrievalPath names the routing strategy chosen by the query router.
type RetrievalPath string

const (
	PathVector    RetrievalPath = "vector"
	PathSingleHop RetrievalPath = "single_hop"
	PathTraversal RetrievalPath = "template_or_traversal"
	PathHybrid    RetrievalPath = "hybrid"
)

// RouteFor returns the fixed complexity-to-path mapping from the query router.
func RouteFor(c QueryComplexity) RetrievalPath {
	switch c {
	case ComplexitySingleHop:
		return PathSingleHop
	case ComplexityMultiHop:
		return PathTraversal
	case ComplexityAggregate:
		return PathHybrid
	default:
		return PathVector
	}
}

// Candidate is a single retrieved graph row or vector hit, as consumed by
// the reranker.
type Candidate struct {
	ID         string                 `json:"id"`
	Name       string                 `json:"name"`
	Source     string                 `json:"source,omitempty"`
	Target     string                 `json:"target,omitempty"`
	Result     string                 `json:"result,omitempty"`
	Score      float64                `json:"score"`
	Degree     int                    `json:"degree,omitempty"`
	Embedding  []float32              `json:"-"`
	Properties map[string]interface{} `json:"properties,omitempty"`
}
