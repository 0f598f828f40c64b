package auth

import (
	"context"
	"errors"
	"sync"

	"github.com/coinkiri/coinsync/internal/model"
)

var (
	// ErrNoSession is returned by Get when no token pair is stored.
	ErrNoSession = errors.New("auth: no stored session")

	// ErrPartialPair is returned by Set when only one token is supplied.
	// The store never holds a partial pair.
	ErrPartialPair = errors.New("auth: token pair must be complete")
)

// Store holds the current token pair for a session.
//
// Invariant: the store holds either a complete access/refresh pair or
// nothing. Set replaces the pair atomically; Clear removes it atomically.
// The Manager is the only writer after login; everything else reads.
type Store interface {
	// Get returns the stored pair, or ErrNoSession if the store is empty.
	Get(ctx context.Context) (model.TokenPair, error)

	// Set atomically replaces the stored pair. Partial pairs are rejected.
	Set(ctx context.Context, pair model.TokenPair) error

	// Clear atomically removes the stored pair. Clearing an empty store
	// is a no-op.
	Clear(ctx context.Context) error
}

// MemoryStore is an in-memory Store for tests and ephemeral sessions.
type MemoryStore struct {
	mu   sync.RWMutex
	pair model.TokenPair
	set  bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Get returns the stored pair.
func (s *MemoryStore) Get(ctx context.Context) (model.TokenPair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.set {
		return model.TokenPair{}, ErrNoSession
	}
	return s.pair, nil
}

// Set replaces the stored pair.
func (s *MemoryStore) Set(ctx context.Context, pair model.TokenPair) error {
	if !pair.Complete() {
		return ErrPartialPair
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.pair = pair
	s.set = true
	return nil
}

// Clear removes the stored pair.
func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pair = model.TokenPair{}
	s.set = false
	return nil
}
