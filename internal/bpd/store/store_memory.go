package store

import (
	"context"
	"slices"
	"sync"

	"custodian/internal/bpd/models"
)

type InMemoryStore struct {
	mu       sync.RWMutex
	partners map[string]models.BusinessPartner
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{partners: make(map[string]models.BusinessPartner)}
}

func (s *InMemoryStore) Save(_ context.Context, bp models.BusinessPartner) error {
	bp.Addresses = slices.Clone(bp.Addresses)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.partners[bp.BPN] = bp
	return nil
}

func (s *InMemoryStore) FindByBPN(_ context.Context, bpn string) (*models.BusinessPartner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bp, ok := s.partners[bpn]
	if !ok {
		return nil, ErrNotFound
	}
	bp.Addresses = slices.Clone(bp.Addresses)
	return &bp, nil
}
