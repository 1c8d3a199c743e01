package store

import (
	"context"
	"sync"

	"certledger/internal/certificate/models"
	"certledger/pkg/domain"
	"certledger/pkg/platform/sentinel"
)

// InMemoryStore keeps certificates keyed by id with secondary indexes on
// content hash and ledger transaction id.
type InMemoryStore struct {
	mu     sync.RWMutex
	byID   map[domain.CertificateID]models.Certificate
	byHash map[string]domain.CertificateID
	byTx   map[string]domain.CertificateID
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID:   make(map[domain.CertificateID]models.Certificate),
		byHash: make(map[string]domain.CertificateID),
		byTx:   make(map[string]domain.CertificateID),
	}
}

// Create inserts c. Both the id and the content hash must be unused.
func (s *InMemoryStore) Create(_ context.Context, c models.Certificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[c.ID]; exists {
		return sentinel.ErrDuplicate
	}
	if _, exists := s.byHash[c.ContentHash]; exists {
		return sentinel.ErrDuplicate
	}
	c.Version = 1
	s.byID[c.ID] = c
	s.byHash[c.ContentHash] = c.ID
	if c.IsAnchored() {
		s.byTx[c.AnchorRef.TxID] = c.ID
	}
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, id domain.CertificateID) (models.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byID[id]
	if !ok {
		return models.Certificate{}, sentinel.ErrNotFound
	}
	return c, nil
}

func (s *InMemoryStore) FindByContentHash(_ context.Context, hash string) (models.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byHash[hash]
	if !ok {
		return models.Certificate{}, sentinel.ErrNotFound
	}
	return s.byID[id], nil
}

func (s *InMemoryStore) FindByTxID(_ context.Context, txID string) (models.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byTx[txID]
	if !ok {
		return models.Certificate{}, sentinel.ErrNotFound
	}
	return s.byID[id], nil
}

// Update replaces c if its stored version still equals c.Version.
func (s *InMemoryStore) Update(_ context.Context, c models.Certificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.byID[c.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if current.Version != c.Version {
		return sentinel.ErrConflict
	}
	if c.IsAnchored() {
		if owner, taken := s.byTx[c.AnchorRef.TxID]; taken && owner != c.ID {
			return sentinel.ErrDuplicate
		}
		s.byTx[c.AnchorRef.TxID] = c.ID
	}
	// the verification counter moves independently of the version
	c.VerificationCount = current.VerificationCount
	c.Version++
	s.byID[c.ID] = c
	return nil
}

// IncrementVerificationCount bumps the counter without touching the version.
func (s *InMemoryStore) IncrementVerificationCount(_ context.Context, id domain.CertificateID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	s.byID[id] = c.RecordVerification()
	return nil
}

// FindByHolderCredential lists certificates the issuer recorded for the same
// holder and credential name.
func (s *InMemoryStore) FindByHolderCredential(_ context.Context, issuerID, holderID, credentialName string) ([]models.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Certificate
	for _, c := range s.byID {
		if c.IssuerID == issuerID && c.HolderID == holderID && c.CredentialName == credentialName {
			out = append(out, c)
		}
	}
	return out, nil
}
