package tenancy

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, secret string, claims Claims) string {
	t.Helper()
	claims.RegisteredClaims = jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestResolve_MissingTokenWhenRequired(t *testing.T) {
	r := NewPrincipalResolver("secret", true, false, "default")
	_, err := r.Resolve("")
	assert.ErrorIs(t, err, ErrMissingToken)
}

func TestResolve_MissingTokenAllowedWhenNotRequired(t *testing.T) {
	r := NewPrincipalResolver("secret", false, false, "default")
	p, err := r.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, "anonymous", p.Role)
}

func TestResolve_FailsClosedWithoutSecret(t *testing.T) {
	r := NewPrincipalResolver("", true, false, "default")
	_, err := r.Resolve("Bearer sometoken")
	assert.ErrorIs(t, err, ErrSecretNotConfigured)
}

func TestResolve_ValidTokenResolvesPrincipal(t *testing.T) {
	secret := "test-secret"
	r := NewPrincipalResolver(secret, true, false, "default")
	tok := signToken(t, secret, Claims{Team: "platform", Namespace: "prod", Role: "viewer", TenantID: "tenant-a"})

	p, err := r.Resolve("Bearer " + tok)
	require.NoError(t, err)
	assert.Equal(t, "platform", p.Team)
	assert.Equal(t, "tenant-a", p.TenantID)
}

func TestResolve_NonAdminWithNoTenantFailsInProduction(t *testing.T) {
	secret := "test-secret"
	r := NewPrincipalResolver(secret, true, false, "default")
	tok := signToken(t, secret, Claims{Team: "platform", Role: "viewer"})

	_, err := r.Resolve("Bearer " + tok)
	assert.ErrorIs(t, err, ErrNoTenant)
}

func TestResolve_NonAdminWithNoTenantDefaultsInDevMode(t *testing.T) {
	secret := "test-secret"
	r := NewPrincipalResolver(secret, true, true, "dev-default")
	tok := signToken(t, secret, Claims{Team: "platform", Role: "viewer"})

	p, err := r.Resolve("Bearer " + tok)
	require.NoError(t, err)
	assert.Equal(t, "dev-default", p.TenantID)
}

func TestTenantConnectionTracker_EnforcesQuota(t *testing.T) {
	tr := NewTenantConnectionTracker(10, 0.2) // quota = 2
	require.NoError(t, tr.Acquire("tenant-a"))
	require.NoError(t, tr.Acquire("tenant-a"))
	assert.ErrorIs(t, tr.Acquire("tenant-a"), ErrQuotaExceeded)

	tr.Release("tenant-a")
	assert.NoError(t, tr.Acquire("tenant-a"))
}

func TestReplicaAwarePool_RoundRobinsAndFallsBack(t *testing.T) {
	withReplicas := NewReplicaAwarePool("primary", []string{"r1", "r2"})
	first := withReplicas.NextRead()
	second := withReplicas.NextRead()
	assert.NotEqual(t, first, second)

	noReplicas := NewReplicaAwarePool("primary", nil)
	assert.Equal(t, "primary", noReplicas.NextRead())
}

func TestTenantRegistry_DefaultsUnregisteredTenants(t *testing.T) {
	reg := NewTenantRegistry("shared_db")
	route := reg.RouteFor("unknown-tenant")
	assert.Equal(t, IsolationLogical, route.Isolation)
	assert.Equal(t, "shared_db", route.Database)

	reg.Register("tenant-a", TenantRoute{Isolation: IsolationPhysical, Database: "tenant_a_db"})
	assert.Equal(t, IsolationPhysical, reg.RouteFor("tenant-a").Isolation)
}
