package memory

import (
	"context"
	"sort"
	"sync"

	"certledger/internal/audit"
	"certledger/pkg/domain"
)

// InMemoryStore keeps entries per certificate in append order.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries map[domain.CertificateID][]audit.Entry
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{entries: make(map[domain.CertificateID][]audit.Entry)}
}

func (s *InMemoryStore) Append(_ context.Context, entries ...audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		s.entries[e.CertificateID] = append(s.entries[e.CertificateID], e)
	}
	return nil
}

func (s *InMemoryStore) ListByCertificate(_ context.Context, certID domain.CertificateID) ([]audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := append([]audit.Entry{}, s.entries[certID]...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

// Count returns the total number of stored entries.
func (s *InMemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, list := range s.entries {
		n += len(list)
	}
	return n
}
