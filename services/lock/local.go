package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// LocalFallbackLock is an in-process mutex implementing the same contract
// as DistributedLock, selected when no Redis URL is configured.
type LocalFallbackLock struct {
	mu        sync.Mutex
	held      bool
	owner     string
	expiresAt time.Time
	ttl       time.Duration
}

// NewLocalFallbackLock builds a process-local lock with the given TTL.
func NewLocalFallbackLock(ttl time.Duration) *LocalFallbackLock {
	return &LocalFallbackLock{ttl: ttl}
}

// Acquire succeeds if the lock is free or its previous holder's TTL expired.
func (l *LocalFallbackLock) Acquire(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held && time.Now().Before(l.expiresAt) {
		return ErrNotAcquired
	}
	l.held = true
	l.owner = uuid.NewString()
	l.expiresAt = time.Now().Add(l.ttl)
	return nil
}

// Release clears the lock if still held (idempotent; matches the
// compare-and-delete semantics of DistributedLock.Release without needing
// an explicit owner token since there is exactly one process here).
func (l *LocalFallbackLock) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held = false
	l.owner = ""
	return nil
}

type localSemToken struct {
	token     string
	expiresAt time.Time
}

// LocalFallbackSemaphore is an in-process counting semaphore with the same
// time-windowed-expiry contract as DistributedSemaphore.
type LocalFallbackSemaphore struct {
	mu     sync.Mutex
	tokens []localSemToken
	limit  int
	window time.Duration
}

// NewLocalFallbackSemaphore builds a process-local semaphore.
func NewLocalFallbackSemaphore(limit int, window time.Duration) *LocalFallbackSemaphore {
	return &LocalFallbackSemaphore{limit: limit, window: window}
}

func (s *LocalFallbackSemaphore) reapLocked(now time.Time) {
	kept := s.tokens[:0]
	for _, t := range s.tokens {
		if now.Before(t.expiresAt) {
			kept = append(kept, t)
		}
	}
	s.tokens = kept
}

// Acquire reserves a slot if the semaphore is under its limit.
func (s *LocalFallbackSemaphore) Acquire(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.reapLocked(now)
	if len(s.tokens) >= s.limit {
		return "", ErrNotAcquired
	}
	token := uuid.NewString()
	s.tokens = append(s.tokens, localSemToken{token: token, expiresAt: now.Add(s.window)})
	return token, nil
}

// Release frees the slot held by token.
func (s *LocalFallbackSemaphore) Release(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.tokens[:0]
	for _, t := range s.tokens {
		if t.token != token {
			kept = append(kept, t)
		}
	}
	s.tokens = kept
	return nil
}

// BoundedTaskSet caps the number of concurrently running background tasks.
// TryAdd rejects (and the caller should cancel) work above the limit;
// DrainAll waits for in-flight tasks up to a timeout and reports how many
// were still running at the deadline.
type BoundedTaskSet struct {
	mu      sync.Mutex
	wg      sync.WaitGroup
	running int
	limit   int
}

// NewBoundedTaskSet builds a set capped at limit concurrent tasks.
func NewBoundedTaskSet(limit int) *BoundedTaskSet {
	return &BoundedTaskSet{limit: limit}
}

// TryAdd runs fn in a new goroutine if under the limit, returning false
// (without running fn) when the set is full.
func (b *BoundedTaskSet) TryAdd(fn func(ctx context.Context)) bool {
	b.mu.Lock()
	if b.running >= b.limit {
		b.mu.Unlock()
		return false
	}
	b.running++
	b.wg.Add(1)
	b.mu.Unlock()

	go func() {
		defer b.wg.Done()
		defer func() {
			b.mu.Lock()
			b.running--
			b.mu.Unlock()
		}()
		fn(context.Background())
	}()
	return true
}

// Len reports the number of currently running tasks.
func (b *BoundedTaskSet) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// DrainAll waits for all running tasks to finish, up to timeout. It returns
// the number of tasks still outstanding when it returned (0 means every
// task drained cleanly).
func (b *BoundedTaskSet) DrainAll(timeout time.Duration) int {
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return 0
	case <-time.After(timeout):
		return b.Len()
	}
}
