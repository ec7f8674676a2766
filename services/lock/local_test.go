package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalFallbackLock_MutualExclusion(t *testing.T) {
	l := NewLocalFallbackLock(50 * time.Millisecond)
	require.NoError(t, l.Acquire(context.Background()))
	assert.ErrorIs(t, l.Acquire(context.Background()), ErrNotAcquired)

	require.NoError(t, l.Release(context.Background()))
	assert.NoError(t, l.Acquire(context.Background()))
}

func TestLocalFallbackLock_ExpiresAfterTTL(t *testing.T) {
	l := NewLocalFallbackLock(10 * time.Millisecond)
	require.NoError(t, l.Acquire(context.Background()))
	time.Sleep(20 * time.Millisecond)
	assert.NoError(t, l.Acquire(context.Background()), "an expired holder must not block a new acquirer")
}

func TestLocalFallbackSemaphore_CapsConcurrentHolders(t *testing.T) {
	s := NewLocalFallbackSemaphore(2, time.Second)
	t1, err := s.Acquire(context.Background())
	require.NoError(t, err)
	_, err = s.Acquire(context.Background())
	require.NoError(t, err)

	_, err = s.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrNotAcquired)

	require.NoError(t, s.Release(context.Background(), t1))
	_, err = s.Acquire(context.Background())
	assert.NoError(t, err)
}

func TestBoundedTaskSet_RejectsAboveLimit(t *testing.T) {
	b := NewBoundedTaskSet(1)
	block := make(chan struct{})

	ok := b.TryAdd(func(ctx context.Context) { <-block })
	require.True(t, ok)

	ok = b.TryAdd(func(ctx context.Context) {})
	assert.False(t, ok, "a second task must be rejected while at capacity")

	close(block)
	drained := b.DrainAll(time.Second)
	assert.Equal(t, 0, drained)
}
