package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/groundwire/orchestrator/infrastructure/state"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	st, err := state.NewPersistentState(state.DefaultConfig())
	require.NoError(t, err)
	cfg := Config{FailureThreshold: 2, RecoveryTimeout: 20 * time.Millisecond, HalfOpenMaxCalls: 1, Jitter: 0}
	return NewRegistry(cfg, st)
}

func TestRegistry_TripsOpenAfterThreshold(t *testing.T) {
	r := newTestRegistry(t)
	boom := errors.New("boom")

	for i := 0; i < 2; i++ {
		err := r.Execute(context.Background(), "tenant-a", func() error { return boom })
		assert.ErrorIs(t, err, boom)
	}

	err := r.Execute(context.Background(), "tenant-a", func() error { return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestRegistry_TenantsAreIsolated(t *testing.T) {
	r := newTestRegistry(t)
	boom := errors.New("boom")

	for i := 0; i < 2; i++ {
		_ = r.Execute(context.Background(), "tenant-a", func() error { return boom })
	}

	err := r.Execute(context.Background(), "tenant-b", func() error { return nil })
	assert.NoError(t, err, "a different tenant's breaker must be unaffected")
}

func TestGlobalProviderBreaker_TripsAcrossTenants(t *testing.T) {
	r := newTestRegistry(t)
	g := NewGlobalProviderBreaker(r, Config{FailureThreshold: 2, RecoveryTimeout: 20 * time.Millisecond, HalfOpenMaxCalls: 1})
	boom := errors.New("boom")

	for i := 0; i < 2; i++ {
		_ = g.Execute(context.Background(), "tenant-a", func() error { return boom })
	}

	err := g.Execute(context.Background(), "tenant-b", func() error { return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen, "a provider-wide trip must reject every tenant")
}
