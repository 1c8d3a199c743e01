package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"certledger/internal/certificate/models"
	"certledger/internal/integrity"
	"certledger/pkg/domain"
	dErrors "certledger/pkg/domain-errors"
	"certledger/pkg/platform/sentinel"
)

// Verification outcomes reported to metrics and the verification log.
const (
	OutcomeValid    = "valid"
	OutcomeInvalid  = "invalid"
	OutcomeTampered = "tampered"
	OutcomeNotFound = "not_found"
)

// VerificationResult is always returned, including for unknown identifiers.
type VerificationResult struct {
	Query       string
	Found       bool
	IsValid     bool
	Integrity   integrity.Result
	Certificate *models.Certificate
	Reason      string
}

// TamperedDetected is nil when no content was available to check.
func (r VerificationResult) TamperedDetected() *bool {
	if r.Integrity.Verdict == integrity.VerdictUnknown || r.Integrity.Verdict == "" {
		return nil
	}
	tampered := r.Integrity.Tampered()
	return &tampered
}

func (r VerificationResult) Outcome() string {
	switch {
	case !r.Found:
		return OutcomeNotFound
	case r.Integrity.Tampered():
		return OutcomeTampered
	case r.IsValid:
		return OutcomeValid
	default:
		return OutcomeInvalid
	}
}

// VerificationEvent is one entry of the verification log.
type VerificationEvent struct {
	Query         string
	CertificateID string
	Outcome       string
	ClientIP      string
	UserAgent     string
	At            time.Time
}

// Verify looks a certificate up by id, content hash, or ledger transaction id
// and checks its stored content.
func (s *Service) Verify(ctx context.Context, query string) (*VerificationResult, error) {
	return s.verify(ctx, query, nil)
}

// VerifyContent checks caller-supplied bytes against the certificate found by query.
func (s *Service) VerifyContent(ctx context.Context, query string, raw []byte) (*VerificationResult, error) {
	if raw == nil {
		raw = []byte{}
	}
	return s.verify(ctx, query, raw)
}

func (s *Service) verify(ctx context.Context, query string, supplied []byte) (*VerificationResult, error) {
	query = strings.TrimSpace(query)
	result := &VerificationResult{Query: query, Integrity: integrity.Result{Verdict: integrity.VerdictUnknown}}

	cert, found, err := s.lookup(ctx, query)
	if err != nil {
		return nil, err
	}
	if !found {
		result.Reason = "no certificate matches the identifier"
		s.metrics.IncVerification(OutcomeNotFound)
		return result, nil
	}
	cert = s.expireIfDue(ctx, cert)
	result.Found = true

	raw := supplied
	if raw == nil {
		raw = s.fetchContent(ctx, cert.ID)
	}
	result.Integrity = integrity.Verify(cert.ContentHash, raw)

	switch {
	case result.Integrity.Tampered():
		result.Reason = "content does not match the recorded hash"
	case cert.Status != models.StatusIssued:
		result.Reason = "certificate status is " + cert.Status.String()
	case !cert.IsAnchored():
		result.Reason = "certificate has no ledger anchor"
	default:
		result.IsValid = true
	}

	if err := s.store.IncrementVerificationCount(ctx, cert.ID); err != nil {
		s.logger.WarnContext(ctx, "failed to count verification",
			"certificate_id", cert.ID,
			"error", err,
		)
	} else {
		cert = cert.RecordVerification()
	}
	result.Certificate = &cert
	s.metrics.IncVerification(result.Outcome())
	return result, nil
}

// lookup runs the id, content hash, and transaction id lookups concurrently
// and prefers an id match, then a hash match.
func (s *Service) lookup(ctx context.Context, query string) (models.Certificate, bool, error) {
	if query == "" {
		return models.Certificate{}, false, nil
	}
	var hits [3]*models.Certificate
	g, gctx := errgroup.WithContext(ctx)

	if id, err := domain.ParseCertificateID(query); err == nil {
		g.Go(func() error {
			return s.collect(gctx, &hits[0], func(ctx context.Context) (models.Certificate, error) {
				return s.store.FindByID(ctx, id)
			})
		})
	}
	if integrity.IsWellFormed(query) {
		hash := integrity.NormalizeHash(query)
		g.Go(func() error {
			return s.collect(gctx, &hits[1], func(ctx context.Context) (models.Certificate, error) {
				return s.store.FindByContentHash(ctx, hash)
			})
		})
	}
	g.Go(func() error {
		return s.collect(gctx, &hits[2], func(ctx context.Context) (models.Certificate, error) {
			return s.store.FindByTxID(ctx, query)
		})
	})

	if err := g.Wait(); err != nil {
		return models.Certificate{}, false, dErrors.Wrap(err, dErrors.CodeInternal, "certificate lookup failed")
	}
	for _, hit := range hits {
		if hit != nil {
			return *hit, true, nil
		}
	}
	return models.Certificate{}, false, nil
}

func (s *Service) collect(ctx context.Context, dst **models.Certificate, find func(context.Context) (models.Certificate, error)) error {
	c, err := find(ctx)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil
		}
		return err
	}
	*dst = &c
	return nil
}

// fetchContent returns nil when no content is available; fetch failures are
// logged and reported as unknown integrity rather than failing verification.
func (s *Service) fetchContent(ctx context.Context, id domain.CertificateID) []byte {
	if s.content == nil {
		return nil
	}
	raw, err := s.content.Fetch(ctx, id)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to fetch certificate content",
			"certificate_id", id,
			"error", err,
		)
		return nil
	}
	return raw
}

// LogVerification appends to the verification log. It never fails the caller.
func (s *Service) LogVerification(ctx context.Context, event VerificationEvent) {
	if s.verificationLog == nil {
		return
	}
	if event.At.IsZero() {
		event.At = s.now()
	}
	if err := s.verificationLog.Record(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "verification log append failed",
			"query", event.Query,
			"error", err,
		)
	}
}
