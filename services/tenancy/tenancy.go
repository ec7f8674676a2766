// Package tenancy resolves security principals from inbound requests and
// enforces per-tenant isolation: database routing, connection quotas, and
// read-replica selection.
package tenancy

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/golang-jwt/jwt/v5"

	"github.com/groundwire/orchestrator/domain/graphmodel"
)

var (
	// ErrMissingToken is returned when no Authorization header is present
	// and tokens are required.
	ErrMissingToken = errors.New("tenancy: missing bearer token")
	// ErrInvalidToken is returned when the token fails signature or claim
	// validation.
	ErrInvalidToken = errors.New("tenancy: invalid token")
	// ErrSecretNotConfigured signals a fail-closed 503: tokens are
	// required but no signing secret is configured.
	ErrSecretNotConfigured = errors.New("tenancy: signing secret not configured")
	// ErrNoTenant is returned in production mode when a non-admin
	// principal carries no tenant.
	ErrNoTenant = errors.New("tenancy: no tenant resolved")
	// ErrQuotaExceeded is returned by TenantConnectionTracker.Acquire.
	ErrQuotaExceeded = errors.New("tenancy: connection quota exceeded")
)

// Claims is the JWT payload this system issues and accepts: {team,
// namespace, role, iat, exp}, HS256-signed.
type Claims struct {
	Team      string `json:"team"`
	Namespace string `json:"namespace"`
	Role      string `json:"role"`
	TenantID  string `json:"tenant_id"`
	jwt.RegisteredClaims
}

// PrincipalResolver turns an Authorization header into a SecurityPrincipal.
type PrincipalResolver struct {
	secret        []byte
	requireTokens bool
	devMode       bool
	defaultTenant string
}

// NewPrincipalResolver builds a resolver. An empty secret combined with
// requireTokens=true means every request carrying a token fails closed with
// ErrSecretNotConfigured rather than silently accepting unsigned tokens (a
// request without one gets ErrMissingToken).
func NewPrincipalResolver(secret string, requireTokens, devMode bool, defaultTenant string) *PrincipalResolver {
	return &PrincipalResolver{secret: []byte(secret), requireTokens: requireTokens, devMode: devMode, defaultTenant: defaultTenant}
}

// Resolve extracts and validates the bearer token from authHeader.
func (p *PrincipalResolver) Resolve(authHeader string) (graphmodel.SecurityPrincipal, error) {
	authHeader = strings.TrimSpace(authHeader)
	if authHeader == "" {
		if p.requireTokens {
			return graphmodel.SecurityPrincipal{}, ErrMissingToken
		}
		return graphmodel.AnonymousPrincipal(), nil
	}

	if p.requireTokens && len(p.secret) == 0 {
		return graphmodel.SecurityPrincipal{}, ErrSecretNotConfigured
	}

	tokenStr := strings.TrimPrefix(authHeader, "Bearer ")
	tokenStr = strings.TrimSpace(tokenStr)

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("tenancy: unexpected signing method %v", t.Header["alg"])
		}
		return p.secret, nil
	})
	if err != nil || !token.Valid {
		return graphmodel.SecurityPrincipal{}, ErrInvalidToken
	}

	principal := graphmodel.SecurityPrincipal{
		Team: claims.Team, Namespace: claims.Namespace, Role: claims.Role, TenantID: claims.TenantID,
	}

	if principal.IsAdmin() {
		return principal, nil
	}
	if principal.TenantID == "" {
		if p.devMode {
			principal.TenantID = p.defaultTenant
		} else {
			return graphmodel.SecurityPrincipal{}, ErrNoTenant
		}
	}
	return principal, nil
}

// Isolation describes how a tenant's data is physically or logically
// separated.
type Isolation string

const (
	IsolationPhysical Isolation = "PHYSICAL"
	IsolationLogical  Isolation = "LOGICAL"
)

// TenantRoute is the routing decision for a tenant: which database to talk
// to and whether tenant_id predicates must additionally be applied.
type TenantRoute struct {
	Isolation Isolation
	Database  string
}

// TenantRegistry maps tenant IDs to their routing configuration.
type TenantRegistry struct {
	mu           sync.RWMutex
	routes       map[string]TenantRoute
	defaultRoute TenantRoute
}

// NewTenantRegistry builds a registry, falling back to defaultRoute for
// unregistered tenants (LOGICAL isolation against the shared database).
func NewTenantRegistry(defaultDatabase string) *TenantRegistry {
	return &TenantRegistry{
		routes:       make(map[string]TenantRoute),
		defaultRoute: TenantRoute{Isolation: IsolationLogical, Database: defaultDatabase},
	}
}

// Register assigns an explicit route for tenantID.
func (t *TenantRegistry) Register(tenantID string, route TenantRoute) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.routes[tenantID] = route
}

// RouteFor returns tenantID's route, or the registry default.
func (t *TenantRegistry) RouteFor(tenantID string) TenantRoute {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if route, ok := t.routes[tenantID]; ok {
		return route
	}
	return t.defaultRoute
}

// TenantConnectionTracker enforces a per-tenant concurrent-connection quota,
// computed as max(1, floor(poolSize * fraction)).
type TenantConnectionTracker struct {
	mu       sync.Mutex
	counts   map[string]int
	poolSize int
	fraction float64
}

// NewTenantConnectionTracker builds a tracker against a pool of poolSize
// total connections, each tenant capped at fraction of that pool.
func NewTenantConnectionTracker(poolSize int, fraction float64) *TenantConnectionTracker {
	return &TenantConnectionTracker{counts: make(map[string]int), poolSize: poolSize, fraction: fraction}
}

func (t *TenantConnectionTracker) quota() int {
	q := int(float64(t.poolSize) * t.fraction)
	if q < 1 {
		q = 1
	}
	return q
}

// Acquire increments tenantID's connection count, or returns
// ErrQuotaExceeded if it is already at quota.
func (t *TenantConnectionTracker) Acquire(tenantID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.counts[tenantID] >= t.quota() {
		return ErrQuotaExceeded
	}
	t.counts[tenantID]++
	return nil
}

// Release decrements tenantID's connection count.
func (t *TenantConnectionTracker) Release(tenantID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.counts[tenantID] > 0 {
		t.counts[tenantID]--
	}
}

// ReplicaAwarePool round-robins read traffic across configured replicas,
// falling back to the primary when none are configured. Writes always use
// Primary directly — callers never go through this pool for writes.
type ReplicaAwarePool struct {
	mu       sync.Mutex
	Primary  string
	replicas []string
	next     int
}

// NewReplicaAwarePool builds a pool with the given primary and read replicas.
func NewReplicaAwarePool(primary string, replicas []string) *ReplicaAwarePool {
	return &ReplicaAwarePool{Primary: primary, replicas: replicas}
}

// NextRead returns the next replica in rotation, or Primary if none configured.
func (r *ReplicaAwarePool) NextRead() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.replicas) == 0 {
		return r.Primary
	}
	target := r.replicas[r.next%len(r.replicas)]
	r.next++
	return target
}
