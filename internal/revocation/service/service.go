// Package service runs the revocation workflow: three independent authority
// approvals, ledger-anchored execution, and a single appeal.
//
// Like certificate issuance, the ledger call for an execution happens outside
// any transaction; the receipt and the certificate's REVOKED status are then
// written together. A retried execution reconciles through the ledger lookup
// keyed by the revocation id.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"certledger/internal/anchor"
	approval "certledger/internal/approval/models"
	"certledger/internal/audit"
	certmodels "certledger/internal/certificate/models"
	"certledger/internal/revocation/metrics"
	"certledger/internal/revocation/models"
	"certledger/pkg/domain"
	dErrors "certledger/pkg/domain-errors"
	"certledger/pkg/platform/sentinel"
	"certledger/pkg/platform/tx"
	"certledger/pkg/requestcontext"
)

const maxConflictRetries = 3

type Store interface {
	Create(ctx context.Context, r models.Record) error
	FindByID(ctx context.Context, id domain.RevocationID) (models.Record, error)
	FindOpenByCertificate(ctx context.Context, certID domain.CertificateID) (models.Record, error)
	ListByCertificate(ctx context.Context, certID domain.CertificateID) ([]models.Record, error)
	Update(ctx context.Context, r models.Record) error
}

// CertificateStore is the part of the certificate store revocation writes to.
type CertificateStore interface {
	FindByID(ctx context.Context, id domain.CertificateID) (certmodels.Certificate, error)
	Update(ctx context.Context, c certmodels.Certificate) error
}

type Anchorer interface {
	AnchorRevocation(ctx context.Context, subj anchor.Subject, revocationID domain.RevocationID) (anchor.Receipt, error)
}

type AuditTrail interface {
	Append(ctx context.Context, entries ...audit.Entry) error
	Publish(ctx context.Context, entries ...audit.Entry)
}

type Service struct {
	store          Store
	certificates   CertificateStore
	anchorer       Anchorer
	trail          AuditTrail
	tx             tx.Runner
	appealWindow   time.Duration
	ledgerClaimTTL time.Duration
	logger         *slog.Logger
	metrics        *metrics.Metrics
	now            func() time.Time
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithTxRunner(r tx.Runner) Option {
	return func(s *Service) {
		if r != nil {
			s.tx = r
		}
	}
}

// WithAppealWindow overrides DefaultAppealWindow.
func WithAppealWindow(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.appealWindow = d
		}
	}
}

// WithLedgerClaimTTL overrides how long an execution's ledger claim blocks
// other callers.
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

func New(store Store, certificates CertificateStore, anchorer Anchorer, trail AuditTrail, opts ...Option) *Service {
	s := &Service{
		store:          store,
		certificates:   certificates,
		anchorer:       anchorer,
		trail:          trail,
		tx:             tx.NewShardedRunner(),
		appealWindow:   models.DefaultAppealWindow,
		ledgerClaimTTL: certmodels.DefaultLedgerClaimTTL,
		logger:         slog.Default(),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// InitiateCommand opens a revocation.
type InitiateCommand struct {
	CertificateID domain.CertificateID
	Reason        models.Reason
	Description   string
	Evidence      []string
}

// Initiate opens a revocation of an issued certificate. A certificate can
// have only one open revocation at a time.
func (s *Service) Initiate(ctx context.Context, actor domain.Actor, cmd InitiateCommand) (*models.Record, error) {
	if err := actor.Require("initiate revocations",
		domain.RoleApprover, domain.RoleRegistrar, domain.RoleDepartmentHead, domain.RoleSuperAdmin); err != nil {
		return nil, err
	}
	now := s.now()
	record, entry, err := models.NewRecord(domain.NewRevocationID(), models.Request{
		CertificateID: cmd.CertificateID,
		Reason:        cmd.Reason,
		Description:   cmd.Description,
		Evidence:      cmd.Evidence,
	}, actor, now)
	if err != nil {
		return nil, err
	}

	err = s.inTx(ctx, cmd.CertificateID, func(ctx context.Context) error {
		cert, err := s.loadCertificate(ctx, cmd.CertificateID)
		if err != nil {
			return err
		}
		if cert.Status != certmodels.StatusIssued || cert.IsExpiredAt(now) {
			return dErrors.Newf(dErrors.CodeInvalidTransition, "only an issued certificate can be revoked, status is %s", cert.Status)
		}
		if open, err := s.store.FindOpenByCertificate(ctx, cmd.CertificateID); err == nil {
			return dErrors.Newf(dErrors.CodeConflict, "certificate already has open revocation %s", open.ID)
		} else if !errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to check open revocations")
		}
		if err := s.store.Create(ctx, record); err != nil {
			if errors.Is(err, sentinel.ErrDuplicate) {
				return dErrors.New(dErrors.CodeConflict, "certificate already has an open revocation")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create revocation")
		}
		return s.trail.Append(ctx, stamp(ctx, []audit.Entry{entry})...)
	})
	if err != nil {
		return nil, err
	}
	record.Version = 1
	s.committed(ctx, "initiated", entry)
	s.metrics.OpenChanged(1)
	s.logger.InfoContext(ctx, "revocation initiated",
		"revocation_id", record.ID,
		"certificate_id", record.CertificateID,
		"reason", record.Reason,
		"actor", actor.ID,
	)
	return &record, nil
}

// DecideCommand is one tier's decision. The tier follows from the actor's role.
type DecideCommand struct {
	RevocationID domain.RevocationID
	Decision     approval.StepStatus
	Comments     string
}

func (s *Service) Decide(ctx context.Context, actor domain.Actor, cmd DecideCommand) (*models.Record, error) {
	tier, ok := models.TierFor(actor.Role)
	if !ok {
		return nil, actor.Require("decide revocations",
			domain.RoleDepartmentHead, domain.RoleRegistrar, domain.RoleSuperAdmin)
	}
	current, err := s.load(ctx, cmd.RevocationID)
	if err != nil {
		return nil, err
	}
	var (
		result models.Record
		entry  audit.Entry
	)
	err = s.inTx(ctx, current.CertificateID, func(ctx context.Context) error {
		r, err := s.load(ctx, cmd.RevocationID)
		if err != nil {
			return err
		}
		next, e, err := r.Decide(tier, cmd.Decision, cmd.Comments, actor, s.now())
		if err != nil {
			return err
		}
		if err := s.store.Update(ctx, next); err != nil {
			return storeError(err, "failed to update revocation")
		}
		next.Version++
		if err := s.trail.Append(ctx, stamp(ctx, []audit.Entry{e})...); err != nil {
			return err
		}
		result, entry = next, e
		return nil
	})
	if err != nil {
		return nil, err
	}
	if cmd.Decision == approval.StepRejected {
		s.committed(ctx, "rejected", entry)
		s.metrics.OpenChanged(-1)
	} else {
		s.committed(ctx, "approved", entry)
	}
	s.logger.InfoContext(ctx, "revocation decision recorded",
		"revocation_id", result.ID,
		"tier", tier,
		"decision", cmd.Decision,
		"status", result.Status(),
	)
	return &result, nil
}

// Execute anchors the revocation event and revokes the certificate. It
// requires all three tiers APPROVED.
func (s *Service) Execute(ctx context.Context, actor domain.Actor, id domain.RevocationID) (*models.Record, error) {
	if err := actor.Require("execute revocations", domain.RoleSuperAdmin, domain.RoleRegistrar); err != nil {
		return nil, err
	}
	record, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := record.CanExecute(); err != nil {
		return nil, err
	}
	token := uuid.NewString()
	cert, err := s.claimLedger(ctx, record.CertificateID, id, token)
	if err != nil {
		return nil, err
	}

	receipt, err := s.anchorer.AnchorRevocation(ctx, subjectOf(cert), id)
	if err != nil {
		s.releaseLedger(ctx, cert.ID, token)
		s.logger.ErrorContext(ctx, "revocation anchoring failed",
			"revocation_id", id,
			"certificate_id", cert.ID,
			"code", dErrors.CodeOf(err),
			"error", err,
		)
		return nil, err
	}

	var (
		result  models.Record
		entries []audit.Entry
	)
	err = s.inTx(ctx, record.CertificateID, func(ctx context.Context) error {
		r, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		c, err := s.loadCertificate(ctx, r.CertificateID)
		if err != nil {
			return err
		}
		now := s.now()
		if err := revocable(c, now); err != nil {
			return err
		}
		nextRecord, rAudit, err := r.Execute(models.Execution{
			TxID:     receipt.TxID,
			BlockRef: receipt.BlockRef,
			FixedID:  receipt.FixedID,
		}, actor, now)
		if err != nil {
			return err
		}
		nextCert, cAudit, err := c.Revoke(actor, id, now)
		if err != nil {
			return err
		}
		if err := s.store.Update(ctx, nextRecord); err != nil {
			return storeError(err, "failed to update revocation")
		}
		nextRecord.Version++
		if err := s.certificates.Update(ctx, nextCert); err != nil {
			return storeError(err, "failed to revoke certificate")
		}
		entries = []audit.Entry{rAudit, cAudit}
		if err := s.trail.Append(ctx, stamp(ctx, entries)...); err != nil {
			return err
		}
		result = nextRecord
		return nil
	})
	if err != nil {
		s.releaseLedger(ctx, record.CertificateID, token)
		s.logger.ErrorContext(ctx, "anchored revocation could not be recorded",
			"revocation_id", id,
			"tx_id", receipt.TxID,
			"error", err,
		)
		return nil, err
	}
	s.committed(ctx, "executed", entries...)
	s.metrics.OpenChanged(-1)
	s.logger.InfoContext(ctx, "certificate revoked",
		"revocation_id", id,
		"certificate_id", result.CertificateID,
		"tx_id", receipt.TxID,
	)
	return &result, nil
}

// claimLedger checks that the certificate can still be revoked and takes its
// in-flight ledger claim. A concurrent execution of the same revocation
// loses the version check and gets CodeAnchorPending.
func (s *Service) claimLedger(ctx context.Context, certID domain.CertificateID, id domain.RevocationID, token string) (certmodels.Certificate, error) {
	var claimed certmodels.Certificate
	err := s.inTx(ctx, certID, func(ctx context.Context) error {
		r, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		if err := r.CanExecute(); err != nil {
			return err
		}
		cert, err := s.loadCertificate(ctx, certID)
		if err != nil {
			return err
		}
		now := s.now()
		if err := revocable(cert, now); err != nil {
			return err
		}
		next, err := cert.ClaimLedger(token, "revocation "+id.String(), now, s.ledgerClaimTTL)
		if err != nil {
			return err
		}
		if err := s.certificates.Update(ctx, next); err != nil {
			return storeError(err, "failed to claim certificate for revocation")
		}
		next.Version++
		claimed = next
		return nil
	})
	return claimed, err
}

func (s *Service) releaseLedger(ctx context.Context, certID domain.CertificateID, token string) {
	err := s.inTx(context.WithoutCancel(ctx), certID, func(ctx context.Context) error {
		cert, err := s.loadCertificate(ctx, certID)
		if err != nil {
			return err
		}
		next, ok := cert.ReleaseLedger(token)
		if !ok {
			return nil
		}
		if err := s.certificates.Update(ctx, next); err != nil {
			return storeError(err, "failed to release revocation claim")
		}
		return nil
	})
	if err != nil {
		s.logger.WarnContext(ctx, "revocation claim not released; it expires on its own",
			"certificate_id", certID,
			"ttl", s.ledgerClaimTTL,
			"error", err,
		)
	}
}

// revocable applies the lazy expiry rule: an issued certificate past its
// expiry date is EXPIRED and can no longer be revoked.
func revocable(cert certmodels.Certificate, now time.Time) error {
	if cert.IsExpiredAt(now) {
		return dErrors.Newf(dErrors.CodeInvalidTransition, "certificate expired on %s and cannot be revoked",
			cert.ExpiryDate.Format(time.DateOnly))
	}
	if cert.Status != certmodels.StatusIssued {
		return dErrors.Newf(dErrors.CodeInvalidTransition, "cannot revoke a certificate in status %s", cert.Status)
	}
	return nil
}

// FileAppeal opens the single appeal of an executed revocation.
func (s *Service) FileAppeal(ctx context.Context, actor domain.Actor, id domain.RevocationID, grounds string) (*models.Record, error) {
	if err := actor.Require("appeal revocations",
		domain.RoleHolder, domain.RoleIssuer, domain.RoleRegistrar, domain.RoleSuperAdmin); err != nil {
		return nil, err
	}
	return s.update(ctx, id, "appeal_filed", func(r models.Record, cert certmodels.Certificate, now time.Time) (models.Record, *certmodels.Certificate, []audit.Entry, error) {
		if actor.Role == domain.RoleHolder && cert.HolderID != actor.ID.String() {
			return r, nil, nil, dErrors.New(dErrors.CodeForbidden, "holders may only appeal their own certificates")
		}
		next, entry, err := r.FileAppeal(grounds, actor, now, s.appealWindow)
		return next, nil, []audit.Entry{entry}, err
	})
}

// DecideAppeal settles the appeal. Granting returns the certificate to ISSUED.
func (s *Service) DecideAppeal(ctx context.Context, actor domain.Actor, id domain.RevocationID, grant bool, comments string) (*models.Record, error) {
	if err := actor.Require("decide appeals", domain.RoleSuperAdmin); err != nil {
		return nil, err
	}
	action := "appeal_upheld"
	if grant {
		action = "appeal_granted"
	}
	return s.update(ctx, id, action, func(r models.Record, cert certmodels.Certificate, now time.Time) (models.Record, *certmodels.Certificate, []audit.Entry, error) {
		next, entry, err := r.DecideAppeal(grant, comments, actor, now)
		if err != nil {
			return r, nil, nil, err
		}
		if !grant {
			return next, nil, []audit.Entry{entry}, nil
		}
		reinstated, cAudit, err := cert.Reinstate(actor, r.ID, now)
		if err != nil {
			return r, nil, nil, err
		}
		entries := []audit.Entry{entry, cAudit}
		// a certificate whose expiry passed while revoked comes back expired
		if expired, eAudit, ok := reinstated.ExpireIfDue(now); ok {
			reinstated = expired
			entries = append(entries, eAudit)
		}
		return next, &reinstated, entries, nil
	})
}

type mutation func(r models.Record, cert certmodels.Certificate, now time.Time) (models.Record, *certmodels.Certificate, []audit.Entry, error)

// update applies fn to the current record and certificate in one
// transaction, retrying on version conflicts.
func (s *Service) update(ctx context.Context, id domain.RevocationID, action string, fn mutation) (*models.Record, error) {
	current, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	var (
		result  models.Record
		entries []audit.Entry
	)
	err = s.inTx(ctx, current.CertificateID, func(ctx context.Context) error {
		r, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		cert, err := s.loadCertificate(ctx, r.CertificateID)
		if err != nil {
			return err
		}
		next, nextCert, e, err := fn(r, cert, s.now())
		if err != nil {
			return err
		}
		if err := s.store.Update(ctx, next); err != nil {
			return storeError(err, "failed to update revocation")
		}
		next.Version++
		if nextCert != nil {
			if err := s.certificates.Update(ctx, *nextCert); err != nil {
				return storeError(err, "failed to update certificate")
			}
		}
		if err := s.trail.Append(ctx, stamp(ctx, e)...); err != nil {
			return err
		}
		result, entries = next, e
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.committed(ctx, action, entries...)
	s.logger.InfoContext(ctx, "revocation updated",
		"revocation_id", id,
		"action", action,
		"status", result.Status(),
	)
	return &result, nil
}

func (s *Service) Get(ctx context.Context, id domain.RevocationID) (*models.Record, error) {
	r, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListByCertificate returns every revocation of a certificate, oldest first.
func (s *Service) ListByCertificate(ctx context.Context, certID domain.CertificateID) ([]models.Record, error) {
	records, err := s.store.ListByCertificate(ctx, certID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list revocations")
	}
	return records, nil
}

func (s *Service) inTx(ctx context.Context, certID domain.CertificateID, fn func(ctx context.Context) error) error {
	ctx = tx.WithShardKey(ctx, certID.String())
	var err error
	for attempt := 1; attempt <= maxConflictRetries; attempt++ {
		err = s.tx.RunInTx(ctx, fn)
		if !errors.Is(err, sentinel.ErrConflict) {
			return err
		}
		s.logger.DebugContext(ctx, "revocation update conflicted, retrying",
			"certificate_id", certID,
			"attempt", attempt,
		)
	}
	return dErrors.Wrap(err, dErrors.CodeConflict, "revocation was modified concurrently; retry the request")
}

func (s *Service) load(ctx context.Context, id domain.RevocationID) (models.Record, error) {
	r, err := s.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return models.Record{}, dErrors.New(dErrors.CodeNotFound, "revocation not found")
		}
		return models.Record{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load revocation")
	}
	return r, nil
}

func (s *Service) loadCertificate(ctx context.Context, id domain.CertificateID) (certmodels.Certificate, error) {
	c, err := s.certificates.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return certmodels.Certificate{}, dErrors.New(dErrors.CodeNotFound, "certificate not found")
		}
		return certmodels.Certificate{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load certificate")
	}
	return c, nil
}

func storeError(err error, msg string) error {
	if errors.Is(err, sentinel.ErrConflict) {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, msg)
}

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

func (s *Service) committed(ctx context.Context, action string, entries ...audit.Entry) {
	s.trail.Publish(ctx, entries...)
	s.metrics.IncAction(strings.ToLower(action))
}

func subjectOf(c certmodels.Certificate) anchor.Subject {
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
