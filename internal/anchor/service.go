// Package anchor submits certificates and revocation events to the external ledger.
//
// Anchoring is not idempotent at the ledger, so this package prevents
// duplicates itself: an already anchored certificate short-circuits through
// the Index, and every submission is preceded by a ledger Lookup under the
// same fixed-width identifier, which also reconciles a previous attempt whose
// result was never recorded. Submissions are never retried here. A timeout is
// treated as "status unknown": the ledger is queried again and, if the anchor
// is still absent, the caller gets CodeAnchorPending and must resubmit later.
package anchor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"certledger/internal/anchor/metrics"
	"certledger/pkg/domain"
	dErrors "certledger/pkg/domain-errors"
	"certledger/pkg/platform/circuit"
)

const (
	// DefaultCostMarginPercent is added to the ledger's cost estimate before submission.
	DefaultCostMarginPercent = 20
	// DefaultTimeout bounds each individual ledger call.
	DefaultTimeout = 10 * time.Second

	kindCertificate = "certificate"
	kindRevocation  = "revocation"
)

// Subject is the certificate data anchoring needs.
type Subject struct {
	CertificateID  domain.CertificateID
	ContentHash    string
	SubjectCode    string
	CredentialName string
	Grade          string
	IssueDate      time.Time
	ExpiryDate     *time.Time
	AuxiliaryRef   string
}

// Index finds certificates that already carry an anchor receipt.
type Index interface {
	FindAnchored(ctx context.Context, certID domain.CertificateID, contentHash string) (Receipt, bool, error)
}

// Service is the ledger anchoring protocol.
type Service struct {
	ledger        LedgerClient
	index         Index
	breaker       *circuit.Breaker
	timeout       time.Duration
	marginPercent uint64
	logger        *slog.Logger
	metrics       *metrics.Metrics
	tracer        trace.Tracer
	now           func() time.Time
}

type Option func(*Service)

func WithIndex(index Index) Option {
	return func(s *Service) { s.index = index }
}

func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithCostMargin overrides the safety margin percentage applied to estimates.
func WithCostMargin(percent uint64) Option {
	return func(s *Service) { s.marginPercent = percent }
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(s *Service) {
		if b != nil {
			s.breaker = b
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
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

func New(ledger LedgerClient, opts ...Option) *Service {
	s := &Service{
		ledger:        ledger,
		breaker:       circuit.New("ledger"),
		timeout:       DefaultTimeout,
		marginPercent: DefaultCostMarginPercent,
		logger:        slog.Default(),
		tracer:        otel.Tracer("certledger/anchor"),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Anchor anchors a certificate, returning the existing receipt when the
// certificate (or its content hash) is already anchored.
func (s *Service) Anchor(ctx context.Context, subj Subject) (Receipt, error) {
	ctx, span := s.tracer.Start(ctx, "anchor.Anchor", trace.WithAttributes(
		attribute.String("certificate.id", subj.CertificateID.String()),
	))
	defer span.End()
	start := s.now()
	defer func() { s.metrics.ObserveLatency(kindCertificate, s.now().Sub(start)) }()

	if s.index != nil {
		existing, found, err := s.index.FindAnchored(ctx, subj.CertificateID, subj.ContentHash)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "anchor index lookup failed")
			return Receipt{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check existing anchors")
		}
		if found {
			s.metrics.IncOutcome(kindCertificate, "existing")
			span.SetAttributes(attribute.String("anchor.outcome", "existing"))
			return existing, nil
		}
	}

	req := buildRequest(subj, FixedWidthID(subj.ContentHash, subj.CertificateID))
	receipt, err := s.submit(ctx, span, kindCertificate, req)
	if err != nil {
		return Receipt{}, err
	}
	s.logger.InfoContext(ctx, "certificate anchored",
		"certificate_id", subj.CertificateID,
		"tx_id", receipt.TxID,
		"block_ref", receipt.BlockRef,
	)
	return receipt, nil
}

// AnchorRevocation anchors the revocation event for a certificate.
func (s *Service) AnchorRevocation(ctx context.Context, subj Subject, revocationID domain.RevocationID) (Receipt, error) {
	ctx, span := s.tracer.Start(ctx, "anchor.AnchorRevocation", trace.WithAttributes(
		attribute.String("certificate.id", subj.CertificateID.String()),
		attribute.String("revocation.id", revocationID.String()),
	))
	defer span.End()
	start := s.now()
	defer func() { s.metrics.ObserveLatency(kindRevocation, s.now().Sub(start)) }()

	req := buildRequest(subj, RevocationFixedID(revocationID))
	req.AuxiliaryRef = revocationID.String()
	receipt, err := s.submit(ctx, span, kindRevocation, req)
	if err != nil {
		return Receipt{}, err
	}
	s.logger.InfoContext(ctx, "revocation anchored",
		"certificate_id", subj.CertificateID,
		"revocation_id", revocationID,
		"tx_id", receipt.TxID,
	)
	return receipt, nil
}

// Lookup queries the ledger for an anchor without submitting anything.
func (s *Service) Lookup(ctx context.Context, fixedID string) (Receipt, bool, error) {
	receipt, found, err := s.lookup(ctx, fixedID)
	if err != nil {
		return Receipt{}, false, dErrors.Wrap(err, dErrors.CodeAnchoring, "ledger lookup failed")
	}
	return receipt, found, nil
}

func (s *Service) submit(ctx context.Context, span trace.Span, kind string, req AnchorRequest) (Receipt, error) {
	span.SetAttributes(attribute.String("anchor.fixed_id", req.FixedWidthID))

	if !s.breaker.Allow() {
		s.metrics.IncOutcome(kind, "unavailable")
		span.SetStatus(codes.Error, "ledger circuit open")
		return Receipt{}, dErrors.New(dErrors.CodeUnavailable, "ledger is temporarily unavailable")
	}

	// Reconcile before submitting: a previous attempt may have reached the
	// ledger without being recorded.
	existing, found, err := s.lookup(ctx, req.FixedWidthID)
	if err != nil {
		return Receipt{}, s.fail(ctx, span, kind, err, "ledger lookup failed")
	}
	if found {
		s.recordSuccess()
		s.metrics.IncOutcome(kind, "reconciled")
		span.SetAttributes(attribute.String("anchor.outcome", "reconciled"))
		return existing, nil
	}

	estimateCtx, cancel := context.WithTimeout(ctx, s.timeout)
	estimate, err := s.ledger.EstimateCost(estimateCtx, req)
	cancel()
	if err != nil {
		return Receipt{}, s.fail(ctx, span, kind, NewLedgerError(ErrorCostEstimation, "cost estimation failed", err), "ledger cost estimation failed")
	}
	limit := ApplyMargin(estimate, s.marginPercent)
	s.metrics.ObserveCostLimit(limit)
	span.SetAttributes(
		attribute.Int64("anchor.cost_estimate", int64(estimate)),
		attribute.Int64("anchor.cost_limit", int64(limit)),
	)

	submitCtx, cancel := context.WithTimeout(ctx, s.timeout)
	receipt, err := s.ledger.Submit(submitCtx, req, limit)
	cancel()
	if err == nil {
		s.recordSuccess()
		s.metrics.IncOutcome(kind, "anchored")
		span.SetAttributes(attribute.String("anchor.outcome", "anchored"), attribute.String("anchor.tx_id", receipt.TxID))
		return s.complete(receipt, req), nil
	}

	if !isTimeout(err) {
		return Receipt{}, s.fail(ctx, span, kind, err, "ledger submission failed")
	}

	// The submission may or may not have landed. Ask again before giving up.
	s.logger.WarnContext(ctx, "ledger submission timed out, re-querying",
		"fixed_id", req.FixedWidthID,
		"error", err,
	)
	recheckCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()
	existing, found, lookupErr := s.ledger.Lookup(recheckCtx, req.FixedWidthID)
	if lookupErr == nil && found {
		s.recordSuccess()
		s.metrics.IncOutcome(kind, "reconciled")
		span.SetAttributes(attribute.String("anchor.outcome", "reconciled_after_timeout"))
		return s.complete(existing, req), nil
	}
	s.recordFailure()
	s.metrics.IncOutcome(kind, "pending")
	span.SetStatus(codes.Error, "anchoring status unknown")
	return Receipt{}, dErrors.Wrap(err, dErrors.CodeAnchorPending, "anchoring status unknown; resubmit later to reconcile")
}

func (s *Service) lookup(ctx context.Context, fixedID string) (Receipt, bool, error) {
	lookupCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	receipt, found, err := s.ledger.Lookup(lookupCtx, fixedID)
	if err != nil {
		return Receipt{}, false, NewLedgerError(ErrorLookup, "lookup failed", err)
	}
	return receipt, found, nil
}

func (s *Service) complete(r Receipt, req AnchorRequest) Receipt {
	if r.FixedID == "" {
		r.FixedID = req.FixedWidthID
	}
	if r.AnchoredAt.IsZero() {
		r.AnchoredAt = s.now()
	}
	return r
}

func (s *Service) fail(ctx context.Context, span trace.Span, kind string, err error, msg string) error {
	s.recordFailure()
	s.metrics.IncOutcome(kind, "failed")
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
	s.logger.ErrorContext(ctx, msg,
		"kind", kind,
		"category", CategoryOf(err),
		"error", err,
	)
	return dErrors.Wrap(err, dErrors.CodeAnchoring, msg)
}

func (s *Service) recordSuccess() {
	if _, change := s.breaker.RecordSuccess(); change.Closed {
		s.metrics.SetBreakerOpen(false)
		s.logger.Info("ledger circuit closed")
	}
}

func (s *Service) recordFailure() {
	if _, change := s.breaker.RecordFailure(); change.Opened {
		s.metrics.SetBreakerOpen(true)
		s.logger.Warn("ledger circuit opened")
	}
}

func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		CategoryOf(err) == ErrorTimeout
}

func buildRequest(subj Subject, fixedID string) AnchorRequest {
	req := AnchorRequest{
		FixedWidthID:   fixedID,
		SubjectCode:    subj.SubjectCode,
		CredentialName: subj.CredentialName,
		Grade:          subj.Grade,
		IssueDateEpoch: subj.IssueDate.Unix(),
		AuxiliaryRef:   subj.AuxiliaryRef,
	}
	if subj.ExpiryDate != nil {
		req.ExpiryDateEpoch = subj.ExpiryDate.Unix()
	}
	return req
}
