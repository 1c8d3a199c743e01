// Package service runs the certificate lifecycle: submission, the three-step
// approval pipeline, anchoring and issuance, corrections, lazy expiry, and
// public verification.
//
// Ledger calls never run inside a transaction. A decision that completes
// sign-off is committed first; anchoring follows, and its receipt is persisted
// in a second transaction. If anything after the ledger call fails, a later
// manual anchor request reconciles through the ledger lookup instead of
// anchoring twice.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"certledger/internal/anchor"
	approval "certledger/internal/approval/models"
	"certledger/internal/audit"
	"certledger/internal/certificate/metrics"
	"certledger/internal/certificate/models"
	"certledger/pkg/domain"
	dErrors "certledger/pkg/domain-errors"
	"certledger/pkg/platform/sentinel"
	"certledger/pkg/platform/tx"
	"certledger/pkg/requestcontext"
)

// maxConflictRetries bounds re-read and re-apply cycles after a version conflict.
const maxConflictRetries = 3

// DefaultMaxResubmissions is the number of rejections after which an entry
// can no longer be resubmitted.
const DefaultMaxResubmissions = 3

type Store interface {
	Create(ctx context.Context, c models.Certificate) error
	FindByID(ctx context.Context, id domain.CertificateID) (models.Certificate, error)
	FindByContentHash(ctx context.Context, hash string) (models.Certificate, error)
	FindByTxID(ctx context.Context, txID string) (models.Certificate, error)
	FindByHolderCredential(ctx context.Context, issuerID, holderID, credentialName string) ([]models.Certificate, error)
	Update(ctx context.Context, c models.Certificate) error
	IncrementVerificationCount(ctx context.Context, id domain.CertificateID) error
}

type QueueStore interface {
	Create(ctx context.Context, entry approval.QueueEntry) error
	FindByCertificate(ctx context.Context, certID domain.CertificateID) (approval.QueueEntry, error)
	Update(ctx context.Context, entry approval.QueueEntry) error
}

type Anchorer interface {
	Anchor(ctx context.Context, subj anchor.Subject) (anchor.Receipt, error)
}

type AuditTrail interface {
	Append(ctx context.Context, entries ...audit.Entry) error
	Publish(ctx context.Context, entries ...audit.Entry)
	History(ctx context.Context, certID domain.CertificateID) ([]audit.Entry, error)
}

// SubjectRegistry confirms that a holder exists in the institution's records.
type SubjectRegistry interface {
	Confirm(ctx context.Context, holderID, holderName string) (bool, error)
}

// ContentStore keeps the raw certificate documents. Fetch returns nil bytes
// and a nil error when the document is kept off-system.
type ContentStore interface {
	Put(ctx context.Context, id domain.CertificateID, raw []byte) error
	Fetch(ctx context.Context, id domain.CertificateID) ([]byte, error)
}

// VerificationLog records verification attempts for later analysis.
type VerificationLog interface {
	Record(ctx context.Context, event VerificationEvent) error
}

// Service orchestrates the certificate lifecycle.
type Service struct {
	store            Store
	queue            QueueStore
	anchorer         Anchorer
	trail            AuditTrail
	tx               tx.Runner
	registry         SubjectRegistry
	content          ContentStore
	verificationLog  VerificationLog
	maxResubmissions int
	ledgerClaimTTL   time.Duration
	logger           *slog.Logger
	metrics          *metrics.Metrics
	now              func() time.Time
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithTxRunner sets the transaction boundary. Without it, an in-memory
// sharded runner is used.
func WithTxRunner(r tx.Runner) Option {
	return func(s *Service) {
		if r != nil {
			s.tx = r
		}
	}
}

func WithSubjectRegistry(r SubjectRegistry) Option {
	return func(s *Service) {
		s.registry = r
	}
}

func WithContentStore(c ContentStore) Option {
	return func(s *Service) {
		s.content = c
	}
}

func WithVerificationLog(l VerificationLog) Option {
	return func(s *Service) {
		s.verificationLog = l
	}
}

func WithMaxResubmissions(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxResubmissions = n
		}
	}
}

// WithLedgerClaimTTL overrides models.DefaultLedgerClaimTTL.
func WithLedgerClaimTTL(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.ledgerClaimTTL = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func New(store Store, queue QueueStore, anchorer Anchorer, trail AuditTrail, opts ...Option) *Service {
	s := &Service{
		store:            store,
		queue:            queue,
		anchorer:         anchorer,
		trail:            trail,
		tx:               tx.NewShardedRunner(),
		maxResubmissions: DefaultMaxResubmissions,
		ledgerClaimTTL:   models.DefaultLedgerClaimTTL,
		logger:           slog.Default(),
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// inTx runs fn in a transaction scoped to certID, re-running it when a store
// reports a version conflict.
func (s *Service) inTx(ctx context.Context, certID domain.CertificateID, fn func(ctx context.Context) error) error {
	ctx = tx.WithShardKey(ctx, certID.String())
	var err error
	for attempt := 1; attempt <= maxConflictRetries; attempt++ {
		err = s.tx.RunInTx(ctx, fn)
		if !errors.Is(err, sentinel.ErrConflict) {
			return err
		}
		s.metrics.IncConflictRetry()
		s.logger.DebugContext(ctx, "certificate update conflicted, retrying",
			"certificate_id", certID,
			"attempt", attempt,
		)
	}
	return dErrors.Wrap(err, dErrors.CodeConflict, "certificate was modified concurrently; retry the request")
}

func (s *Service) load(ctx context.Context, id domain.CertificateID) (models.Certificate, error) {
	c, err := s.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return models.Certificate{}, dErrors.New(dErrors.CodeNotFound, "certificate not found")
		}
		return models.Certificate{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load certificate")
	}
	return c, nil
}

func (s *Service) loadEntry(ctx context.Context, id domain.CertificateID) (approval.QueueEntry, error) {
	entry, err := s.queue.FindByCertificate(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return approval.QueueEntry{}, dErrors.New(dErrors.CodeInvariantViolation, "certificate has no approval entry")
		}
		return approval.QueueEntry{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load approval entry")
	}
	return entry, nil
}

// persist writes the changed records and their audit entries. Store errors
// are returned unwrapped so inTx can see conflicts.
func (s *Service) persist(ctx context.Context, c *models.Certificate, e *approval.QueueEntry, entries []audit.Entry) error {
	if c != nil {
		if err := s.store.Update(ctx, *c); err != nil {
			return storeError(err, "failed to update certificate")
		}
		c.Version++
	}
	if e != nil {
		if err := s.queue.Update(ctx, *e); err != nil {
			return storeError(err, "failed to update approval entry")
		}
		e.Version++
	}
	return s.trail.Append(ctx, stamp(ctx, entries)...)
}

func storeError(err error, msg string) error {
	if errors.Is(err, sentinel.ErrConflict) {
		return err
	}
	if errors.Is(err, sentinel.ErrDuplicate) {
		return dErrors.Wrap(err, dErrors.CodeDuplicate, msg)
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, msg)
}

// stamp attaches the request id to every entry.
func stamp(ctx context.Context, entries []audit.Entry) []audit.Entry {
	requestID := requestcontext.RequestID(ctx)
	if requestID == "" {
		return entries
	}
	for i := range entries {
		entries[i].RequestID = requestID
	}
	return entries
}

func (s *Service) committed(ctx context.Context, c models.Certificate, entries []audit.Entry) {
	s.trail.Publish(ctx, entries...)
	s.metrics.IncTransition(c.Status.String())
}

func subjectOf(c models.Certificate) anchor.Subject {
	return anchor.Subject{
		CertificateID:  c.ID,
		ContentHash:    c.ContentHash,
		SubjectCode:    c.HolderID,
		CredentialName: c.CredentialName,
		Grade:          c.Grade,
		IssueDate:      c.IssueDate,
		ExpiryDate:     c.ExpiryDate,
		AuxiliaryRef:   c.AuxiliaryRef,
	}
}
