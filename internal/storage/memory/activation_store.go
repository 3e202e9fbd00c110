package memory

import (
	"context"
	"sort"
	"sync"

	"xrpl-wash-monitor/internal/domain"
	"xrpl-wash-monitor/internal/storage"
)

// ActivationStore is an in-memory implementation of storage.ActivationStore.
type ActivationStore struct {
	mu   sync.RWMutex
	data map[activationKey]*domain.AccountActivation
}

type activationKey struct {
	parent string
	child  string
}

// NewActivationStore creates a new in-memory activation store.
func NewActivationStore() *ActivationStore {
	return &ActivationStore{
		data: make(map[activationKey]*domain.AccountActivation),
	}
}

// Compile-time interface check.
var _ storage.ActivationStore = (*ActivationStore)(nil)

// Insert adds an activation. Returns ErrDuplicateKey if (parent, child) exists.
func (s *ActivationStore) Insert(_ context.Context, a *domain.AccountActivation) error {
	if err := storage.ValidateActivation(a); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := activationKey{parent: a.Parent, child: a.Child}
	if _, exists := s.data[key]; exists {
		return storage.ErrDuplicateKey
	}

	copy := *a
	s.data[key] = &copy
	return nil
}

// GetAll returns every activation ordered by timestamp ASC.
func (s *ActivationStore) GetAll(_ context.Context) ([]*domain.AccountActivation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.AccountActivation, 0, len(s.data))
	for _, a := range s.data {
		copy := *a
		result = append(result, &copy)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Timestamp != result[j].Timestamp {
			return result[i].Timestamp < result[j].Timestamp
		}
		if result[i].Parent != result[j].Parent {
			return result[i].Parent < result[j].Parent
		}
		return result[i].Child < result[j].Child
	})

	return result, nil
}
