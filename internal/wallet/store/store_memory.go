package store

import (
	"context"
	"slices"
	"strings"
	"sync"

	"custodian/internal/wallet/models"
)

// InMemoryStore is safe for concurrent access but does not persist across
// process restarts.
type InMemoryStore struct {
	mu          sync.RWMutex
	wallets     map[string]models.Wallet
	credentials map[string]models.CredentialRecord
	order       []string
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		wallets:     make(map[string]models.Wallet),
		credentials: make(map[string]models.CredentialRecord),
	}
}

func (s *InMemoryStore) CreateWallet(_ context.Context, wallet models.Wallet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.wallets[wallet.BPN]; exists {
		return ErrConflict
	}
	for _, w := range s.wallets {
		if w.DID == wallet.DID {
			return ErrConflict
		}
	}
	wallet.Services = slices.Clone(wallet.Services)
	s.wallets[wallet.BPN] = wallet
	return nil
}

func (s *InMemoryStore) WalletByBPN(_ context.Context, bpn string) (*models.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.wallets[bpn]
	if !ok {
		return nil, ErrNotFound
	}
	w.Services = slices.Clone(w.Services)
	return &w, nil
}

// ListWallets returns wallets ordered by creation time, then BPN.
func (s *InMemoryStore) ListWallets(_ context.Context) ([]models.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wallets := make([]models.Wallet, 0, len(s.wallets))
	for _, w := range s.wallets {
		w.Services = slices.Clone(w.Services)
		wallets = append(wallets, w)
	}
	slices.SortFunc(wallets, func(a, b models.Wallet) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.BPN, b.BPN)
	})
	return wallets, nil
}

func (s *InMemoryStore) DeleteWallet(_ context.Context, bpn string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[bpn]
	if !ok {
		return ErrNotFound
	}
	delete(s.wallets, bpn)
	for id, record := range s.credentials {
		if record.HolderDID == w.DID {
			delete(s.credentials, id)
		}
	}
	s.order = slices.DeleteFunc(s.order, func(id string) bool {
		_, kept := s.credentials[id]
		return !kept
	})
	return nil
}

func (s *InMemoryStore) UpdateServices(_ context.Context, bpn string, services []models.Service) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[bpn]
	if !ok {
		return ErrNotFound
	}
	w.Services = slices.Clone(services)
	s.wallets[bpn] = w
	return nil
}

func (s *InMemoryStore) SaveCredential(_ context.Context, record models.CredentialRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.credentials[record.Credential.ID]; exists {
		return ErrConflict
	}
	holderExists := false
	for _, w := range s.wallets {
		if w.DID == record.HolderDID {
			holderExists = true
			break
		}
	}
	if !holderExists {
		return ErrNotFound
	}
	s.credentials[record.Credential.ID] = record
	s.order = append(s.order, record.Credential.ID)
	return nil
}

// ListCredentials returns matching credentials in insertion order.
func (s *InMemoryStore) ListCredentials(_ context.Context, filter models.CredentialFilter) ([]models.CredentialRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := make([]models.CredentialRecord, 0)
	for _, id := range s.order {
		record := s.credentials[id]
		if matches(record, filter) {
			records = append(records, record)
		}
	}
	return records, nil
}

func matches(record models.CredentialRecord, filter models.CredentialFilter) bool {
	if filter.HolderDID != "" && record.HolderDID != filter.HolderDID {
		return false
	}
	if filter.IssuerDID != "" && record.Credential.Issuer != filter.IssuerDID {
		return false
	}
	if filter.Type != "" && !record.Credential.HasType(filter.Type) {
		return false
	}
	return true
}

var _ Store = (*InMemoryStore)(nil)
