// Package session provides the revocation blacklist backing token
// verification. Entries are self-expiring; there is no enumeration API.
package session

import (
	"context"
	"sync"
	"time"
)

// Store maps a bearer token to revoked status with expiry.
// Implementations must be safe for concurrent use.
type Store interface {
	// IsRevoked reports whether the token has a live blacklist entry.
	IsRevoked(ctx context.Context, token string) (bool, error)

	// Revoke writes a blacklist entry that expires after ttl.
	Revoke(ctx context.Context, token string, ttl time.Duration) error
}

// MemoryStore is an in-process Store for tests and single-node runs.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory blacklist.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

// WithClock overrides the store's clock for tests.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

func (s *MemoryStore) IsRevoked(ctx context.Context, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiresAt, ok := s.entries[token]
	if !ok {
		return false, nil
	}
	if s.now().After(expiresAt) {
		delete(s.entries, token)
		return false, nil
	}
	return true, nil
}

func (s *MemoryStore) Revoke(ctx context.Context, token string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[token] = s.now().Add(ttl)
	return nil
}
