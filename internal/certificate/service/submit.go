package service

import (
	"context"
	"errors"

	approval "certledger/internal/approval/models"
	"certledger/internal/audit"
	"certledger/internal/certificate/models"
	"certledger/internal/integrity"
	"certledger/pkg/domain"
	dErrors "certledger/pkg/domain-errors"
	"certledger/pkg/platform/sentinel"
)

// SubmitCommand carries a new certificate. ContentHash and Content are both
// optional: a declared hash must match the uploaded content, and when neither
// is given the hash is computed over the canonical attribute payload.
type SubmitCommand struct {
	Attributes  models.Attributes
	ContentHash string
	Content     []byte
}

// Submit validates and records a new certificate in PENDING_L1 together with
// its approval entry.
func (s *Service) Submit(ctx context.Context, actor domain.Actor, cmd SubmitCommand) (*models.Certificate, error) {
	if err := actor.Require("submit certificates", domain.RoleIssuer, domain.RoleRegistrar, domain.RoleSuperAdmin); err != nil {
		return nil, err
	}
	attrs := cmd.Attributes.Normalize()
	if err := attrs.Validate(); err != nil {
		return nil, err
	}
	hash, err := resolveContentHash(attrs, cmd.ContentHash, cmd.Content)
	if err != nil {
		return nil, err
	}

	if _, err := s.store.FindByContentHash(ctx, hash); err == nil {
		return nil, dErrors.New(dErrors.CodeDuplicate, "a certificate with this content hash already exists")
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check for duplicates")
	}

	now := s.now()
	cert, entry, err := models.NewCertificate(domain.NewCertificateID(), hash, attrs, actor, now)
	if err != nil {
		return nil, err
	}
	queueEntry := approval.NewQueueEntry(cert.ID, now)

	if cmd.Content != nil && s.content != nil {
		if err := s.content.Put(ctx, cert.ID, cmd.Content); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store certificate content")
		}
	}

	entries := []audit.Entry{entry}
	err = s.inTx(ctx, cert.ID, func(ctx context.Context) error {
		if err := s.store.Create(ctx, cert); err != nil {
			if errors.Is(err, sentinel.ErrDuplicate) {
				return dErrors.New(dErrors.CodeDuplicate, "a certificate with this id or content hash already exists")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create certificate")
		}
		if err := s.queue.Create(ctx, queueEntry); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to open approval entry")
		}
		return s.trail.Append(ctx, stamp(ctx, entries)...)
	})
	if err != nil {
		return nil, err
	}

	cert.Version = 1
	s.committed(ctx, cert, entries)
	s.logger.InfoContext(ctx, "certificate submitted",
		"certificate_id", cert.ID,
		"content_hash", cert.ContentHash,
		"actor", actor.ID,
	)
	return &cert, nil
}

func resolveContentHash(attrs models.Attributes, declared string, content []byte) (string, error) {
	var hash string
	if declared != "" {
		parsed, err := integrity.ParseHash(declared)
		if err != nil {
			return "", err
		}
		hash = parsed
	}
	if content != nil {
		sum := integrity.Sum(content)
		if hash != "" && hash != sum {
			return "", dErrors.New(dErrors.CodeValidation, "content_hash does not match the uploaded content")
		}
		return sum, nil
	}
	if hash != "" {
		return hash, nil
	}
	computed, err := integrity.CanonicalHash(attrs.Payload())
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to hash certificate payload")
	}
	return computed, nil
}

// Revert pushes a pending certificate back for correction. The reviewer of
// the current step (or a super admin) may revert; it is not a rejection.
func (s *Service) Revert(ctx context.Context, actor domain.Actor, id domain.CertificateID, comments string) (*models.Certificate, error) {
	var (
		result  models.Certificate
		entries []audit.Entry
	)
	err := s.inTx(ctx, id, func(ctx context.Context) error {
		cert, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		step, pending := cert.Status.PendingStep()
		if !pending {
			return dErrors.Newf(dErrors.CodeInvalidTransition, "cannot revert a certificate in status %s", cert.Status)
		}
		if err := actor.Require("revert certificates", approval.RequiredRole(step), domain.RoleSuperAdmin); err != nil {
			return err
		}
		entry, err := s.loadEntry(ctx, id)
		if err != nil {
			return err
		}
		nextEntry, qAudit, err := entry.Revert(actor, comments, s.now())
		if err != nil {
			return err
		}
		next, cAudit, err := cert.Revert(actor, comments, s.now())
		if err != nil {
			return err
		}
		entries = []audit.Entry{cAudit, qAudit}
		if err := s.persist(ctx, &next, &nextEntry, entries); err != nil {
			return err
		}
		result = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.committed(ctx, result, entries)
	return &result, nil
}

// Resubmit restarts approval for a rejected or corrected certificate.
func (s *Service) Resubmit(ctx context.Context, actor domain.Actor, id domain.CertificateID) (*models.Certificate, error) {
	if err := actor.Require("resubmit certificates", domain.RoleIssuer, domain.RoleRegistrar, domain.RoleSuperAdmin); err != nil {
		return nil, err
	}
	var (
		result  models.Certificate
		entries []audit.Entry
	)
	err := s.inTx(ctx, id, func(ctx context.Context) error {
		cert, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		entry, err := s.loadEntry(ctx, id)
		if err != nil {
			return err
		}
		if !cert.Status.CanTransitionTo(models.StatusPendingL1) {
			return dErrors.Newf(dErrors.CodeInvalidTransition, "cannot resubmit a certificate in status %s", cert.Status)
		}
		nextEntry, qAudit, err := entry.Resubmit(actor, s.now())
		if err != nil {
			return err
		}
		next, cAudit, err := cert.Resubmit(actor, s.now())
		if err != nil {
			return err
		}
		entries = []audit.Entry{cAudit, qAudit}
		if err := s.persist(ctx, &next, &nextEntry, entries); err != nil {
			return err
		}
		result = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.committed(ctx, result, entries)
	return &result, nil
}

// Get returns a certificate, applying the lazy expiry transition first.
func (s *Service) Get(ctx context.Context, id domain.CertificateID) (*models.Certificate, error) {
	cert, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	cert = s.expireIfDue(ctx, cert)
	return &cert, nil
}

// expireIfDue persists ISSUED -> EXPIRED when the expiry date has passed. A
// failure to persist is logged and the expired view is still returned.
func (s *Service) expireIfDue(ctx context.Context, cert models.Certificate) models.Certificate {
	expired, _, due := cert.ExpireIfDue(s.now())
	if !due {
		return cert
	}
	var entries []audit.Entry
	err := s.inTx(ctx, cert.ID, func(ctx context.Context) error {
		current, err := s.load(ctx, cert.ID)
		if err != nil {
			return err
		}
		next, entry, ok := current.ExpireIfDue(s.now())
		if !ok {
			expired = current
			entries = nil
			return nil
		}
		entries = []audit.Entry{entry}
		if err := s.persist(ctx, &next, nil, entries); err != nil {
			return err
		}
		expired = next
		return nil
	})
	if err != nil {
		s.logger.WarnContext(ctx, "failed to persist certificate expiry",
			"certificate_id", cert.ID,
			"error", err,
		)
		return expired
	}
	if len(entries) > 0 {
		s.committed(ctx, expired, entries)
	}
	return expired
}

// History returns the audit trail of a certificate, oldest first.
func (s *Service) History(ctx context.Context, id domain.CertificateID) ([]audit.Entry, error) {
	if _, err := s.load(ctx, id); err != nil {
		return nil, err
	}
	return s.trail.History(ctx, id)
}
