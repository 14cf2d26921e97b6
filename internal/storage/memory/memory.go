// Package memory keeps the settings in process memory, for development
// and tests.
package memory

import (
	"context"
	"sync"

	"github.com/sirosfoundation/go-interpreter-relay/internal/domain"
	"github.com/sirosfoundation/go-interpreter-relay/internal/storage"
)

// Store implements an in-memory settings store
type Store struct {
	mu       sync.RWMutex
	settings *domain.Settings
	saves    int
}

// NewStore creates a new in-memory store
func NewStore() *Store {
	return &Store{}
}

func (s *Store) Load(ctx context.Context) (*domain.Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.settings == nil {
		return nil, storage.ErrNotFound
	}
	return s.settings.Clone(), nil
}

func (s *Store) Save(ctx context.Context, settings *domain.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings.Clone()
	s.saves++
	return nil
}

// Saves returns how many times Save was called
func (s *Store) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}

func (s *Store) Ping(ctx context.Context) error { return nil }

func (s *Store) Close() error { return nil }
