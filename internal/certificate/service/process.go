package service

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"certledger/internal/anchor"
	approval "certledger/internal/approval/models"
	"certledger/internal/audit"
	"certledger/internal/certificate/models"
	"certledger/pkg/domain"
	dErrors "certledger/pkg/domain-errors"
)

// ProcessCommand is one approval decision on the step a certificate is
// waiting for.
type ProcessCommand struct {
	CertificateID domain.CertificateID
	Decision      approval.StepStatus
	Comments      string
	Signature     string
}

// ProcessResult is the state after a decision. Receipt is set when the
// decision completed sign-off and the certificate was anchored.
type ProcessResult struct {
	Certificate models.Certificate
	Entry       approval.QueueEntry
	Receipt     *anchor.Receipt
}

// Process records a decision. When it completes the pipeline the certificate
// is anchored and issued; an anchoring failure is returned with the decision
// already committed and the certificate left in PENDING_L3.
func (s *Service) Process(ctx context.Context, actor domain.Actor, cmd ProcessCommand) (*ProcessResult, error) {
	start := s.now()
	defer s.metrics.ObserveProcess(start)

	current, err := s.load(ctx, cmd.CertificateID)
	if err != nil {
		return nil, err
	}
	if current.Status == models.StatusPendingL1 && cmd.Decision == approval.StepApproved &&
		actor.Role == domain.RoleValidator {
		if err := s.checkDataQuality(ctx, current); err != nil {
			return nil, err
		}
	}

	var (
		result  ProcessResult
		entries []audit.Entry
	)
	err = s.inTx(ctx, cmd.CertificateID, func(ctx context.Context) error {
		cert, err := s.load(ctx, cmd.CertificateID)
		if err != nil {
			return err
		}
		step, pending := cert.Status.PendingStep()
		if !pending {
			return dErrors.Newf(dErrors.CodeInvalidTransition, "certificate in status %s is not awaiting approval", cert.Status)
		}
		entry, err := s.loadEntry(ctx, cert.ID)
		if err != nil {
			return err
		}
		now := s.now()
		nextEntry, qAudit, err := entry.Decide(step, approval.Decision{
			Outcome:   cmd.Decision,
			Comments:  cmd.Comments,
			Signature: cmd.Signature,
			Actor:     actor,
			At:        now,
		}, s.maxResubmissions)
		if err != nil {
			return err
		}
		entries = []audit.Entry{qAudit}

		next := cert
		switch {
		case cmd.Decision == approval.StepRejected:
			var cAudit audit.Entry
			if next, cAudit, err = cert.Reject(actor, strings.TrimSpace(cmd.Comments), now); err != nil {
				return err
			}
			entries = append(entries, cAudit)
			if !nextEntry.RejectionHistory.CanResubmit {
				var aAudit audit.Entry
				if nextEntry, aAudit, err = nextEntry.Archive(actor, now); err != nil {
					return err
				}
				entries = append(entries, aAudit)
			}
		case step != approval.StepSignOff:
			var cAudit audit.Entry
			if next, cAudit, err = cert.Advance(actor, cmd.Comments, now); err != nil {
				return err
			}
			entries = append(entries, cAudit)
		}
		// sign-off approval leaves the certificate in PENDING_L3 until anchored

		var certChange *models.Certificate
		if next.Status != cert.Status {
			certChange = &next
		}
		if err := s.persist(ctx, certChange, &nextEntry, entries); err != nil {
			return err
		}
		result = ProcessResult{Certificate: next, Entry: nextEntry}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.committed(ctx, result.Certificate, entries)
	s.logger.InfoContext(ctx, "approval decision recorded",
		"certificate_id", cmd.CertificateID,
		"decision", cmd.Decision,
		"status", result.Certificate.Status,
		"actor", actor.ID,
	)

	if !result.Entry.IsReadyForIssuance() {
		return &result, nil
	}
	issued, receipt, err := s.issue(ctx, actor, result.Certificate.ID)
	if err != nil {
		return &result, err
	}
	result.Certificate = issued
	result.Receipt = &receipt
	return &result, nil
}

// Anchor re-submits anchoring for a fully approved certificate whose earlier
// attempt failed or ended with an unknown status. Calling it on an issued
// certificate returns the existing receipt.
func (s *Service) Anchor(ctx context.Context, actor domain.Actor, id domain.CertificateID) (*models.Certificate, *anchor.Receipt, error) {
	if err := actor.Require("anchor certificates", domain.RoleDepartmentHead, domain.RoleRegistrar, domain.RoleSuperAdmin); err != nil {
		return nil, nil, err
	}
	cert, receipt, err := s.issue(ctx, actor, id)
	if err != nil {
		return nil, nil, err
	}
	return &cert, &receipt, nil
}

func (s *Service) issue(ctx context.Context, actor domain.Actor, id domain.CertificateID) (models.Certificate, anchor.Receipt, error) {
	cert, err := s.load(ctx, id)
	if err != nil {
		return models.Certificate{}, anchor.Receipt{}, err
	}
	if cert.IsAnchored() {
		return cert, receiptOf(cert.AnchorRef), nil
	}
	if cert.Status != models.StatusPendingL3 {
		return models.Certificate{}, anchor.Receipt{}, dErrors.Newf(dErrors.CodeInvalidTransition,
			"cannot anchor a certificate in status %s", cert.Status)
	}
	entry, err := s.loadEntry(ctx, id)
	if err != nil {
		return models.Certificate{}, anchor.Receipt{}, err
	}
	if !entry.IsReadyForIssuance() {
		return models.Certificate{}, anchor.Receipt{}, dErrors.New(dErrors.CodeInvalidTransition,
			"certificate cannot be anchored before all approval steps are approved")
	}

	token := uuid.NewString()
	claimed, err := s.claimLedger(ctx, id, token)
	if err != nil {
		return models.Certificate{}, anchor.Receipt{}, err
	}
	if claimed.IsAnchored() {
		return claimed, receiptOf(claimed.AnchorRef), nil
	}

	receipt, err := s.anchorer.Anchor(ctx, subjectOf(claimed))
	if err != nil {
		s.releaseLedger(ctx, id, token)
		s.logger.ErrorContext(ctx, "certificate anchoring failed",
			"certificate_id", id,
			"code", dErrors.CodeOf(err),
			"error", err,
		)
		return models.Certificate{}, anchor.Receipt{}, err
	}

	var (
		issued  models.Certificate
		entries []audit.Entry
	)
	err = s.inTx(ctx, id, func(ctx context.Context) error {
		cert, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		if cert.IsAnchored() {
			issued, entries = cert, nil
			return nil
		}
		entry, err := s.loadEntry(ctx, id)
		if err != nil {
			return err
		}
		now := s.now()
		ref := models.AnchorRef{
			TxID:       receipt.TxID,
			BlockRef:   receipt.BlockRef,
			FixedID:    receipt.FixedID,
			AnchoredAt: receipt.AnchoredAt,
		}
		anchored := audit.NewEntry(id, audit.SubjectCertificate, id.String(), audit.ActionAnchored, actor, now).
			WithComments("tx " + receipt.TxID + " block " + receipt.BlockRef)
		next, iAudit, err := cert.Issue(ref, actor, now)
		if err != nil {
			return err
		}
		nextEntry, aAudit, err := entry.Archive(actor, now)
		if err != nil {
			return err
		}
		entries = []audit.Entry{anchored, iAudit, aAudit}
		if err := s.persist(ctx, &next, &nextEntry, entries); err != nil {
			return err
		}
		issued = next
		return nil
	})
	if err != nil {
		// The ledger holds the anchor; the next Anchor call reconciles it.
		s.releaseLedger(ctx, id, token)
		s.logger.ErrorContext(ctx, "anchored certificate could not be recorded",
			"certificate_id", id,
			"tx_id", receipt.TxID,
			"error", err,
		)
		return models.Certificate{}, anchor.Receipt{}, err
	}
	if len(entries) > 0 {
		s.committed(ctx, issued, entries)
		s.logger.InfoContext(ctx, "certificate issued",
			"certificate_id", id,
			"tx_id", receipt.TxID,
			"block_ref", receipt.BlockRef,
		)
	}
	return issued, receiptOf(issued.AnchorRef), nil
}

// claimLedger records that this caller is about to call the ledger for id.
// A concurrent caller loses the version check, re-reads the claim and gets
// CodeAnchorPending instead of submitting a second time.
func (s *Service) claimLedger(ctx context.Context, id domain.CertificateID, token string) (models.Certificate, error) {
	var claimed models.Certificate
	err := s.inTx(ctx, id, func(ctx context.Context) error {
		cert, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		if cert.IsAnchored() {
			claimed = cert
			return nil
		}
		if cert.Status != models.StatusPendingL3 {
			return dErrors.Newf(dErrors.CodeInvalidTransition, "cannot anchor a certificate in status %s", cert.Status)
		}
		next, err := cert.ClaimLedger(token, "issue", s.now(), s.ledgerClaimTTL)
		if err != nil {
			return err
		}
		if err := s.store.Update(ctx, next); err != nil {
			return storeError(err, "failed to claim certificate for anchoring")
		}
		next.Version++
		claimed = next
		return nil
	})
	return claimed, err
}

// releaseLedger drops a claim after a failed ledger call so a later attempt
// can reconcile without waiting for the claim to age out.
func (s *Service) releaseLedger(ctx context.Context, id domain.CertificateID, token string) {
	err := s.inTx(context.WithoutCancel(ctx), id, func(ctx context.Context) error {
		cert, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		next, ok := cert.ReleaseLedger(token)
		if !ok {
			return nil
		}
		if err := s.store.Update(ctx, next); err != nil {
			return storeError(err, "failed to release anchoring claim")
		}
		return nil
	})
	if err != nil {
		s.logger.WarnContext(ctx, "anchoring claim not released; it expires on its own",
			"certificate_id", id,
			"ttl", s.ledgerClaimTTL,
			"error", err,
		)
	}
}

// checkDataQuality is the validator's duplicate, completeness, and registry check.
func (s *Service) checkDataQuality(ctx context.Context, cert models.Certificate) error {
	if err := cert.Attributes.Validate(); err != nil {
		return err
	}
	siblings, err := s.store.FindByHolderCredential(ctx, cert.IssuerID, cert.HolderID, cert.CredentialName)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to check for duplicate certificates")
	}
	for _, other := range siblings {
		if other.ID == cert.ID {
			continue
		}
		switch other.Status {
		case models.StatusIssued, models.StatusPendingL2, models.StatusPendingL3:
			return dErrors.Newf(dErrors.CodeDuplicate,
				"holder already has an active %s certificate %s", other.CredentialName, other.ID)
		case models.StatusPendingL1, models.StatusRejected, models.StatusNeedsCorrection,
			models.StatusRevoked, models.StatusExpired:
		}
	}
	if s.registry == nil {
		return nil
	}
	known, err := s.registry.Confirm(ctx, cert.HolderID, cert.HolderName)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "subject registry is unavailable")
	}
	if !known {
		return dErrors.New(dErrors.CodeValidation, "holder does not match the subject registry")
	}
	return nil
}

func receiptOf(ref *models.AnchorRef) anchor.Receipt {
	if ref == nil {
		return anchor.Receipt{}
	}
	return anchor.Receipt{
		TxID:       ref.TxID,
		BlockRef:   ref.BlockRef,
		FixedID:    ref.FixedID,
		AnchoredAt: ref.AnchoredAt,
	}
}
