// Package memory keeps certificate documents in process memory.
package memory

import (
	"context"
	"sync"

	"certledger/pkg/domain"
)

type Store struct {
	mu   sync.RWMutex
	docs map[domain.CertificateID][]byte
}

func New() *Store {
	return &Store{docs: make(map[domain.CertificateID][]byte)}
}

func (s *Store) Put(_ context.Context, id domain.CertificateID, raw []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[id] = append([]byte{}, raw...)
	return nil
}

// Fetch returns nil bytes for unknown documents, which callers treat as
// content stored off-system.
func (s *Store) Fetch(_ context.Context, id domain.CertificateID) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	raw, ok := s.docs[id]
	if !ok {
		return nil, nil
	}
	return append([]byte{}, raw...), nil
}
