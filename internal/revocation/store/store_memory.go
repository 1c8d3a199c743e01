package store

import (
	"context"
	"sort"
	"sync"

	"certledger/internal/revocation/models"
	"certledger/pkg/domain"
	"certledger/pkg/platform/sentinel"
)

// InMemoryStore keeps revocation records keyed by id. Like the Postgres
// partial index, it refuses a second open record for the same certificate.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[domain.RevocationID]models.Record
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[domain.RevocationID]models.Record)}
}

func (s *InMemoryStore) Create(_ context.Context, r models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[r.ID]; exists {
		return sentinel.ErrDuplicate
	}
	if r.Status().IsOpen() {
		for _, other := range s.records {
			if other.CertificateID == r.CertificateID && other.Status().IsOpen() {
				return sentinel.ErrDuplicate
			}
		}
	}
	r.Version = 1
	s.records[r.ID] = r
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, id domain.RevocationID) (models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return models.Record{}, sentinel.ErrNotFound
	}
	return r, nil
}

func (s *InMemoryStore) FindOpenByCertificate(_ context.Context, certID domain.CertificateID) (models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.records {
		if r.CertificateID == certID && r.Status().IsOpen() {
			return r, nil
		}
	}
	return models.Record{}, sentinel.ErrNotFound
}

// ListByCertificate returns every record for certID, oldest first.
func (s *InMemoryStore) ListByCertificate(_ context.Context, certID domain.CertificateID) ([]models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Record
	for _, r := range s.records {
		if r.CertificateID == certID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Update replaces the record if its stored version still equals r.Version.
func (s *InMemoryStore) Update(_ context.Context, r models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.records[r.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if current.Version != r.Version {
		return sentinel.ErrConflict
	}
	r.Version++
	s.records[r.ID] = r
	return nil
}
