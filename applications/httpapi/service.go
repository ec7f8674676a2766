package httpapi

import (
	"context"
	"time"

	"github.com/groundwire/orchestrator/domain/graphmodel"
	"github.com/groundwire/orchestrator/infrastructure/logging"
	"github.com/groundwire/orchestrator/infrastructure/metrics"
	"github.com/groundwire/orchestrator/infrastructure/middleware"
	"github.com/groundwire/orchestrator/services/breaker"
	"github.com/groundwire/orchestrator/services/guardrails"
	"github.com/groundwire/orchestrator/services/ingest"
	"github.com/groundwire/orchestrator/services/llm"
	"github.com/groundwire/orchestrator/services/lock"
	"github.com/groundwire/orchestrator/services/retrieval"
	"github.com/groundwire/orchestrator/services/tenancy"
)

// Semaphore is the admission-control contract shared by the local and
// Redis-backed implementations in services/lock, so Service doesn't care
// which one cmd/orchestrator wired in for a given deployment.
type Semaphore interface {
	Acquire(ctx context.Context) (string, error)
	Release(ctx context.Context, token string) error
}

// EvalConfig controls whether answer evaluation runs at all, whether it
// additionally asks an LLM judge, and the score below which
// retrieval_quality is reported as "low".
type EvalConfig struct {
	Enabled               bool
	UseLLMJudge           bool
	LowRelevanceThreshold float64
}

// DefaultEvalConfig returns evaluation on by default, judged against the
// standard low-relevance threshold.
func DefaultEvalConfig() EvalConfig {
	return EvalConfig{Enabled: true, UseLLMJudge: true, LowRelevanceThreshold: 0.3}
}

// Service wires every domain component the HTTP handlers call into. It is
// built once at startup by cmd/orchestrator and shared across requests.
type Service struct {
	Logger  *logging.Logger
	Metrics *metrics.Metrics
	Health  *middleware.HealthChecker

	Principals *tenancy.PrincipalResolver
	Tenants    *tenancy.TenantRegistry
	Conns      *tenancy.TenantConnectionTracker

	Retrieval  *retrieval.Engine
	Guardrails *guardrails.GuardrailChain
	Providers  *llm.FallbackChain

	Ingest     *ingest.Orchestrator
	Jobs       *ingest.JobStore
	IngestGate *breaker.GlobalProviderBreaker

	Admission Semaphore
	Drainer   *lock.BoundedTaskSet

	Eval EvalConfig

	QuerySyncTimeout  time.Duration
	IngestSyncTimeout time.Duration
}

// resolvePrincipal resolves the caller's SecurityPrincipal from an
// Authorization header. Callers translate the returned tenancy error into
// the handler's HTTP status (401 vs 503) themselves.
func (s *Service) resolvePrincipal(authHeader string) (graphmodel.SecurityPrincipal, error) {
	return s.Principals.Resolve(authHeader)
}
