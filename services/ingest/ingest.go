// Package ingest implements the ingestion orchestrator: a fixed pipeline
// of decode -> extract -> resolve -> enrich -> commit -> tombstone sweep ->
// enqueue vector-sync -> invalidate tenant caches.
package ingest

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/groundwire/orchestrator/domain/graphmodel"
	"github.com/groundwire/orchestrator/services/outbox"
	"github.com/groundwire/orchestrator/services/resolver"
)

// SourceType enumerates the accepted document kinds for /ingest.
type SourceType string

const (
	SourceCode        SourceType = "source_code"
	SourceK8sManifest SourceType = "k8s_manifest"
	SourceKafkaSchema SourceType = "kafka_schema"
)

// Document is one entry in an ingest request body.
type Document struct {
	FilePath   string     `json:"file_path"`
	Content    string     `json:"content"` // base64
	SourceType SourceType `json:"source_type"`
	Repository string     `json:"repository,omitempty"`
	CommitSHA  string     `json:"commit_sha,omitempty"`
}

// Result summarizes one ingestion run.
type Result struct {
	Status            string   `json:"status"`
	EntitiesExtracted int      `json:"entities_extracted"`
	Errors            []string `json:"errors,omitempty"`
}

// MinBatchSize, MaxBatchSize, DefaultBatchSize clamp the commit batch size.
const (
	MinBatchSize     = 100
	MaxBatchSize     = 5000
	DefaultBatchSize = 500
)

func clampBatchSize(n int) int {
	if n < MinBatchSize {
		return MinBatchSize
	}
	if n > MaxBatchSize {
		return MaxBatchSize
	}
	return n
}

// GraphWriter is the minimal contract against the graph database driver
// needed to commit a batch and sweep tombstones.
type GraphWriter interface {
	MergeNodesAndEdges(ctx context.Context, tenantID, ingestionID string, nodes []graphmodel.Node, edges []graphmodel.Edge) error
	TombstoneStaleEdges(ctx context.Context, tenantID, ingestionID string) (int, error)
}

// CacheInvalidator is the minimal contract against the subgraph cache for
// post-commit invalidation.
type CacheInvalidator interface {
	InvalidateByNodes(nodeIDs []string)
}

// Orchestrator runs the ingestion DAG end to end.
type Orchestrator struct {
	resolver    *resolver.Resolver
	writer      GraphWriter
	outbox      *outbox.CoalescingOutbox
	cache       CacheInvalidator
	batchSize   int
}

// New builds an orchestrator. batchSize is clamped to [MinBatchSize, MaxBatchSize].
func New(res *resolver.Resolver, writer GraphWriter, ob *outbox.CoalescingOutbox, cache CacheInvalidator, batchSize int) *Orchestrator {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Orchestrator{resolver: res, writer: writer, outbox: ob, cache: cache, batchSize: clampBatchSize(batchSize)}
}

// teamOwnerFromPath extracts team_owner from a services/<team>/... style
// path convention, defaulting to "" (unowned) when the convention doesn't match.
func teamOwnerFromPath(path string) string {
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	if len(parts) >= 2 && parts[0] == "services" {
		return parts[1]
	}
	return ""
}

// extracted is one entity pulled from a decoded document, before ACL enrichment.
type extracted struct {
	kind graphmodel.NodeKind
	name string
	path string
}

// Run executes the full pipeline for a batch of documents belonging to tenantID.
func (o *Orchestrator) Run(ctx context.Context, tenantID string, docs []Document) (Result, error) {
	if tenantID == "" {
		return Result{}, errors.New("ingest: tenant_id is required")
	}

	ingestionID := uuid.NewString()
	var errs []string
	var nodes []graphmodel.Node
	var touchedIDs []string

	for _, doc := range docs {
		raw, err := base64.StdEncoding.DecodeString(doc.Content)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: decode failed: %v", doc.FilePath, err))
			continue
		}

		items, err := extract(doc.SourceType, doc.FilePath, raw)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: extract failed: %v", doc.FilePath, err))
			continue
		}

		for _, item := range items {
			id := o.resolver.Resolve(item.kind, doc.Repository, teamOwnerFromPath(item.path), item.name)
			teamOwner := teamOwnerFromPath(item.path)
			node := graphmodel.Node{
				Kind:         item.kind,
				PrimaryKey:   id,
				TenantID:     tenantID,
				TeamOwner:    teamOwner,
				NamespaceACL: []string{teamOwner},
				ReadRoles:    []string{"reader"},
				Properties:   map[string]interface{}{"source_path": item.path, "commit_sha": doc.CommitSHA},
			}
			nodes = append(nodes, node)
			touchedIDs = append(touchedIDs, id)
		}
	}

	if len(nodes) == 0 {
		return Result{Status: "completed", EntitiesExtracted: 0, Errors: errs}, nil
	}

	for start := 0; start < len(nodes); start += o.batchSize {
		end := start + o.batchSize
		if end > len(nodes) {
			end = len(nodes)
		}
		if err := o.writer.MergeNodesAndEdges(ctx, tenantID, ingestionID, nodes[start:end], nil); err != nil {
			errs = append(errs, fmt.Sprintf("commit batch [%d:%d]: %v", start, end, err))
		}
	}

	if _, err := o.writer.TombstoneStaleEdges(ctx, tenantID, ingestionID); err != nil {
		errs = append(errs, fmt.Sprintf("tombstone sweep: %v", err))
	}

	for _, node := range nodes {
		o.outbox.Enqueue("services", node.PrimaryKey, graphmodel.VectorUpsert, graphmodel.VectorRecord{
			ID:       node.PrimaryKey,
			Metadata: node.Properties,
		})
	}

	// Cache invalidation post-commit requires a non-empty tenant_id; Run
	// already rejected an empty tenantID above, so this is always safe.
	if o.cache != nil {
		o.cache.InvalidateByNodes(touchedIDs)
	}

	status := "completed"
	if len(errs) > 0 {
		status = "completed_with_errors"
	}
	return Result{Status: status, EntitiesExtracted: len(nodes), Errors: errs}, nil
}

// extract performs a minimal, format-aware entity scan. It is deliberately
// shallow: full source/manifest/schema parsing is delegated to
// language-specific tooling; extraction here treats every input as an
// already-decoded document.
func extract(sourceType SourceType, path string, content []byte) ([]extracted, error) {
	name := baseName(path)
	if name == "" {
		return nil, errors.New("empty file path")
	}

	switch sourceType {
	case SourceCode:
		return []extracted{{kind: graphmodel.NodeService, name: strings.TrimSuffix(name, fileExt(name)), path: path}}, nil
	case SourceK8sManifest:
		return []extracted{{kind: graphmodel.NodeK8sDeployment, name: strings.TrimSuffix(name, fileExt(name)), path: path}}, nil
	case SourceKafkaSchema:
		return []extracted{{kind: graphmodel.NodeKafkaTopic, name: strings.TrimSuffix(name, fileExt(name)), path: path}}, nil
	default:
		return nil, fmt.Errorf("unknown source_type %q", sourceType)
	}
}

func baseName(path string) string {
	parts := strings.Split(path, "/")
	return parts[len(parts)-1]
}

func fileExt(name string) string {
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		return name[idx:]
	}
	return ""
}

// JobStore tracks asynchronous ingest jobs for the /ingest/{job_id} endpoint.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]*graphmodel.Job
}

// NewJobStore builds an empty job store.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]*graphmodel.Job)}
}

// Create registers a new pending job and returns its ID.
func (s *JobStore) Create() *graphmodel.Job {
	job := &graphmodel.Job{JobID: uuid.NewString(), Status: graphmodel.JobPending, CreatedAt: time.Now()}
	s.mu.Lock()
	s.jobs[job.JobID] = job
	s.mu.Unlock()
	return job
}

// Get returns the job record for id, or false if unknown.
func (s *JobStore) Get(id string) (*graphmodel.Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	return job, ok
}

// Complete marks a job finished with either a result or an error.
func (s *JobStore) Complete(id string, result Result, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return
	}
	now := time.Now()
	job.CompletedAt = &now
	if err != nil {
		job.Status = graphmodel.JobFailed
		job.Error = err.Error()
		return
	}
	job.Status = graphmodel.JobCompleted
	job.Result = result
}
