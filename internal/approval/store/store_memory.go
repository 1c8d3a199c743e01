package store

import (
	"context"
	"sync"

	"certledger/internal/approval/models"
	"certledger/pkg/domain"
	"certledger/pkg/platform/sentinel"
)

// InMemoryStore keeps queue entries keyed by certificate id.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries map[domain.CertificateID]models.QueueEntry
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{entries: make(map[domain.CertificateID]models.QueueEntry)}
}

func (s *InMemoryStore) Create(_ context.Context, entry models.QueueEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[entry.CertificateID]; exists {
		return sentinel.ErrDuplicate
	}
	entry.Version = 1
	s.entries[entry.CertificateID] = entry
	return nil
}

func (s *InMemoryStore) FindByCertificate(_ context.Context, certID domain.CertificateID) (models.QueueEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[certID]
	if !ok {
		return models.QueueEntry{}, sentinel.ErrNotFound
	}
	return entry, nil
}

// Update replaces the entry if its stored version still equals entry.Version.
func (s *InMemoryStore) Update(_ context.Context, entry models.QueueEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.entries[entry.CertificateID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if current.Version != entry.Version {
		return sentinel.ErrConflict
	}
	entry.Version++
	s.entries[entry.CertificateID] = entry
	return nil
}
