// Package breaker provides per-tenant and global circuit breaker registries
// on top of infrastructure/resilience's gobreaker-backed primitive, with
// state snapshots written through infrastructure/state on every state
// change. Snapshots are not read back: a breaker created in a new process
// starts closed.
package breaker

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/groundwire/orchestrator/infrastructure/resilience"
	"github.com/groundwire/orchestrator/infrastructure/state"
)

// ErrCircuitOpen is resilience.ErrCircuitOpen itself, returned when a
// call is rejected because the breaker for a key is open.
var ErrCircuitOpen = resilience.ErrCircuitOpen

// Config tunes a single circuit. RecoveryTimeout is jittered by +/-Jitter
// (a fraction in [0,1]) at breaker-creation time, so that breakers created
// together (e.g. at process start, one per known tenant) do not all
// transition to half-open on the same tick — preventing a thundering herd
// of retries against a just-recovering dependency.
type Config struct {
	FailureThreshold  int
	RecoveryTimeout   time.Duration
	HalfOpenMaxCalls  int
	Jitter            float64
}

// DefaultConfig returns the standard breaker tuning: five failures trip
// it, a 30s base recovery window with 20% jitter, three half-open probes.
func DefaultConfig() Config {
	return Config{FailureThreshold: 5, RecoveryTimeout: 30 * time.Second, HalfOpenMaxCalls: 3, Jitter: 0.2}
}

func (c Config) jitteredTimeout() time.Duration {
	if c.Jitter <= 0 {
		return c.RecoveryTimeout
	}
	factor := 1 + (rand.Float64()*2-1)*c.Jitter
	return time.Duration(float64(c.RecoveryTimeout) * factor)
}

// snapshot is the persisted record of a breaker's last observed state,
// written on every state-changing event. Get does not read it back.
type snapshot struct {
	State     string    `json:"state"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Registry holds one CircuitBreaker per key (typically a tenant ID), all
// sharing a single backing state store for snapshot persistence.
type Registry struct {
	mu        sync.RWMutex
	breakers  map[string]*resilience.CircuitBreaker
	cfg       Config
	store     *state.PersistentState
	keyPrefix string
}

// NewRegistry builds a registry. store may be nil, in which case snapshots
// are not persisted (process-local only).
func NewRegistry(cfg Config, store *state.PersistentState) *Registry {
	return &Registry{
		breakers:  make(map[string]*resilience.CircuitBreaker),
		cfg:       cfg,
		store:     store,
		keyPrefix: "breaker:",
	}
}

// Get returns the breaker for key, creating it in the closed state on first
// use; a persisted snapshot for key is not consulted.
func (r *Registry) Get(key string) *resilience.CircuitBreaker {
	r.mu.RLock()
	cb, ok := r.breakers[key]
	r.mu.RUnlock()
	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[key]; ok {
		return cb
	}

	cb = resilience.New(resilience.Config{
		MaxFailures: r.cfg.FailureThreshold,
		Timeout:     r.cfg.jitteredTimeout(),
		HalfOpenMax: r.cfg.HalfOpenMaxCalls,
		OnStateChange: func(from, to resilience.State) {
			r.persist(key, to)
		},
	})
	r.breakers[key] = cb
	return cb
}

// Execute runs fn through the breaker for key.
func (r *Registry) Execute(ctx context.Context, key string, fn func() error) error {
	return r.Get(key).Execute(ctx, fn)
}

func (r *Registry) persist(key string, to resilience.State) {
	if r.store == nil {
		return
	}
	snap := snapshot{State: to.String(), UpdatedAt: time.Now()}
	raw, err := json.Marshal(snap)
	if err != nil {
		return
	}
	_ = r.store.Save(context.Background(), r.keyPrefix+key, raw)
}

// GlobalProviderBreaker composes a single global breaker over a Registry: a
// call passes only if both the tenant-scoped breaker AND the global breaker
// are closed, so a provider-wide outage trips access for every tenant
// regardless of each tenant's individual failure history.
type GlobalProviderBreaker struct {
	registry *Registry
	global   *resilience.CircuitBreaker
}

// NewGlobalProviderBreaker wraps registry with a global breaker using cfg.
func NewGlobalProviderBreaker(registry *Registry, cfg Config) *GlobalProviderBreaker {
	return &GlobalProviderBreaker{
		registry: registry,
		global:   resilience.New(resilience.Config{MaxFailures: cfg.FailureThreshold, Timeout: cfg.jitteredTimeout(), HalfOpenMax: cfg.HalfOpenMaxCalls}),
	}
}

// Execute runs fn only if both the global and the tenant's breaker permit it.
func (g *GlobalProviderBreaker) Execute(ctx context.Context, tenantID string, fn func() error) error {
	return g.global.Execute(ctx, func() error {
		return g.registry.Execute(ctx, tenantID, fn)
	})
}

// State reports the tenant breaker's current state, for health/debug endpoints.
func (r *Registry) State(key string) resilience.State {
	return r.Get(key).State()
}

// ErrUnknownKey is returned by callers that require an already-created
// breaker rather than implicitly creating one (e.g. read-only inspection).
var ErrUnknownKey = errors.New("breaker: unknown key")
