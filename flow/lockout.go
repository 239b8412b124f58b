package flow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrLockedOut is returned by Authenticate while a principal is locked after
// repeated failures.
var ErrLockedOut = errors.New("too many failed attempts, temporarily locked")

// LockoutStore tracks authentication failures and lock state per principal.
type LockoutStore interface {
	// RecordFailure increments the failure count, keeping the record for
	// ttl. Returns the new count.
	RecordFailure(ctx context.Context, key string, ttl time.Duration) (int, error)

	// ClearFailures resets the failure count.
	ClearFailures(ctx context.Context, key string) error

	// Lock locks the key for the given duration.
	Lock(ctx context.Context, key string, duration time.Duration) error

	// IsLocked reports whether the key is currently locked, and until
	// when.
	IsLocked(ctx context.Context, key string) (bool, time.Time, error)
}

// LockoutGate applies brute-force protection to the login path.
type LockoutGate struct {
	store           LockoutStore
	maxFailures     int
	lockoutDuration time.Duration
	failureWindow   time.Duration
}

// NewLockoutGate creates a gate locking a principal for lockoutDuration after
// maxFailures failures within failureWindow.
func NewLockoutGate(store LockoutStore, maxFailures int, lockoutDuration, failureWindow time.Duration) *LockoutGate {
	return &LockoutGate{
		store:           store,
		maxFailures:     maxFailures,
		lockoutDuration: lockoutDuration,
		failureWindow:   failureWindow,
	}
}

// Check fails with ErrLockedOut while the principal is locked. Store errors
// fail closed.
func (g *LockoutGate) Check(ctx context.Context, principalID string) error {
	locked, until, err := g.store.IsLocked(ctx, principalID)
	if err != nil {
		return fmt.Errorf("lockout: %w", err)
	}
	if locked {
		return fmt.Errorf("%w (until %s)", ErrLockedOut, until.Format(time.RFC3339))
	}
	return nil
}

// RecordFailure counts one failed attempt, locking the principal when the
// threshold is crossed.
func (g *LockoutGate) RecordFailure(ctx context.Context, principalID string) {
	count, err := g.store.RecordFailure(ctx, principalID, g.failureWindow)
	if err != nil {
		return
	}
	if count >= g.maxFailures {
		g.store.Lock(ctx, principalID, g.lockoutDuration)
	}
}

// Clear resets the failure count after a successful login.
func (g *LockoutGate) Clear(ctx context.Context, principalID string) {
	g.store.ClearFailures(ctx, principalID)
}

// MemoryLockoutStore is an in-process LockoutStore for single-node
// deployments and tests.
type MemoryLockoutStore struct {
	mu       sync.Mutex
	failures map[string]*failureRecord
	locks    map[string]time.Time
}

type failureRecord struct {
	count     int
	expiresAt time.Time
}

// NewMemoryLockoutStore creates an in-memory lockout store.
func NewMemoryLockoutStore() *MemoryLockoutStore {
	return &MemoryLockoutStore{
		failures: make(map[string]*failureRecord),
		locks:    make(map[string]time.Time),
	}
}

func (s *MemoryLockoutStore) RecordFailure(ctx context.Context, key string, ttl time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	rec, ok := s.failures[key]
	if !ok || now.After(rec.expiresAt) {
		rec = &failureRecord{expiresAt: now.Add(ttl)}
		s.failures[key] = rec
	}
	rec.count++
	return rec.count, nil
}

func (s *MemoryLockoutStore) ClearFailures(ctx context.Context, key string) error {
	s.mu.Lock()
	delete(s.failures, key)
	s.mu.Unlock()
	return nil
}

func (s *MemoryLockoutStore) Lock(ctx context.Context, key string, duration time.Duration) error {
	s.mu.Lock()
	s.locks[key] = time.Now().Add(duration)
	delete(s.failures, key)
	s.mu.Unlock()
	return nil
}

func (s *MemoryLockoutStore) IsLocked(ctx context.Context, key string) (bool, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	until, ok := s.locks[key]
	if !ok {
		return false, time.Time{}, nil
	}
	if time.Now().After(until) {
		delete(s.locks, key)
		return false, time.Time{}, nil
	}
	return true, until, nil
}
