package service_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"certledger/internal/anchor"
	ledgermemory "certledger/internal/anchor/ledger/memory"
	approval "certledger/internal/approval/models"
	approvalstore "certledger/internal/approval/store"
	"certledger/internal/audit"
	auditmemory "certledger/internal/audit/store/memory"
	"certledger/internal/certificate/models"
	"certledger/internal/certificate/service"
	certstore "certledger/internal/certificate/store"
	contentmemory "certledger/internal/content/memory"
	"certledger/internal/integrity"
	"certledger/internal/registry"
	"certledger/pkg/domain"
	dErrors "certledger/pkg/domain-errors"
)

var (
	issuer    = domain.Actor{ID: "issuer-1", Role: domain.RoleIssuer}
	validator = domain.Actor{ID: "validator-1", Role: domain.RoleValidator}
	approver  = domain.Actor{ID: "approver-1", Role: domain.RoleApprover}
	head      = domain.Actor{ID: "head-1", Role: domain.RoleDepartmentHead}
	registrar = domain.Actor{ID: "registrar-1", Role: domain.RoleRegistrar}
)

type LifecycleSuite struct {
	suite.Suite
	ctx      context.Context
	now      time.Time
	store    *certstore.InMemoryStore
	queue    *approvalstore.InMemoryStore
	audit    *auditmemory.InMemoryStore
	content  *contentmemory.Store
	ledger   *ledgermemory.Ledger
	registry service.SubjectRegistry
	service  *service.Service
}

func TestLifecycleSuite(t *testing.T) {
	suite.Run(t, new(LifecycleSuite))
}

func (s *LifecycleSuite) SetupTest() {
	s.ctx = context.Background()
	s.now = time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	s.store = certstore.NewInMemoryStore()
	s.queue = approvalstore.NewInMemoryStore()
	s.audit = auditmemory.NewInMemoryStore()
	s.content = contentmemory.New()
	s.ledger = ledgermemory.New()
	s.registry = registry.StaticClient{AcceptUnknown: true}
	s.build()
}

func (s *LifecycleSuite) build() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	anchorer := anchor.New(s.ledger,
		anchor.WithIndex(service.NewAnchorIndex(s.store)),
		anchor.WithLogger(logger),
	)
	s.service = service.New(s.store, s.queue, anchorer, audit.New(s.audit, audit.WithLogger(logger)),
		service.WithLogger(logger),
		service.WithContentStore(s.content),
		service.WithSubjectRegistry(s.registry),
		service.WithClock(func() time.Time { return s.now }),
	)
}

func attributes() models.Attributes {
	return models.Attributes{
		HolderID:       "S1",
		HolderName:     "Grace Hopper",
		IssuerID:       "CS",
		CredentialName: "CS101",
		Grade:          "A",
		IssueDate:      time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (s *LifecycleSuite) submit(content []byte) *models.Certificate {
	cert, err := s.service.Submit(s.ctx, issuer, service.SubmitCommand{
		Attributes:  attributes(),
		ContentHash: integrity.Sum(content),
		Content:     content,
	})
	s.Require().NoError(err)
	return cert
}

func (s *LifecycleSuite) decide(actor domain.Actor, id domain.CertificateID, decision approval.StepStatus, comments string) (*service.ProcessResult, error) {
	return s.service.Process(s.ctx, actor, service.ProcessCommand{
		CertificateID: id,
		Decision:      decision,
		Comments:      comments,
	})
}

func (s *LifecycleSuite) approveAll(id domain.CertificateID) *service.ProcessResult {
	var result *service.ProcessResult
	for _, actor := range []domain.Actor{validator, approver, head} {
		var err error
		result, err = s.decide(actor, id, approval.StepApproved, "ok")
		s.Require().NoError(err)
	}
	return result
}

func (s *LifecycleSuite) actions(id domain.CertificateID) []audit.Action {
	entries, err := s.service.History(s.ctx, id)
	s.Require().NoError(err)
	out := make([]audit.Action, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Action)
	}
	return out
}

func (s *LifecycleSuite) TestSubmitStartsPending() {
	content := []byte("transcript S1 CS101")
	cert := s.submit(content)

	s.Equal(models.StatusPendingL1, cert.Status)
	s.Equal(integrity.Sum(content), cert.ContentHash)

	entry, err := s.queue.FindByCertificate(s.ctx, cert.ID)
	s.Require().NoError(err)
	s.Equal(approval.EntryPending, entry.Status())
	s.Equal([]audit.Action{audit.ActionSubmitted}, s.actions(cert.ID))
}

func (s *LifecycleSuite) TestSubmitWithoutContentHashesPayload() {
	cert, err := s.service.Submit(s.ctx, issuer, service.SubmitCommand{Attributes: attributes()})
	s.Require().NoError(err)

	want, err := integrity.CanonicalHash(attributes().Payload())
	s.Require().NoError(err)
	s.Equal(want, cert.ContentHash)
}

func (s *LifecycleSuite) TestSubmitRejectsMismatchedHash() {
	_, err := s.service.Submit(s.ctx, issuer, service.SubmitCommand{
		Attributes:  attributes(),
		ContentHash: integrity.Sum([]byte("one")),
		Content:     []byte("two"),
	})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *LifecycleSuite) TestSubmitRequiresRole() {
	_, err := s.service.Submit(s.ctx, validator, service.SubmitCommand{Attributes: attributes()})
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
}

func (s *LifecycleSuite) TestFullPipelineIssues() {
	cert := s.submit([]byte("transcript"))

	result, err := s.decide(validator, cert.ID, approval.StepApproved, "")
	s.Require().NoError(err)
	s.Equal(models.StatusPendingL2, result.Certificate.Status)

	result, err = s.decide(approver, cert.ID, approval.StepApproved, "correct")
	s.Require().NoError(err)
	s.Equal(models.StatusPendingL3, result.Certificate.Status)

	result, err = s.decide(head, cert.ID, approval.StepApproved, "")
	s.Require().NoError(err)
	s.Equal(models.StatusIssued, result.Certificate.Status)
	s.True(result.Entry.IsReadyForIssuance())
	s.Require().NotNil(result.Receipt)
	s.NotEmpty(result.Receipt.TxID)
	s.Equal(1, s.ledger.SubmitCalls())

	stored, err := s.store.FindByTxID(s.ctx, result.Receipt.TxID)
	s.Require().NoError(err)
	s.Equal(cert.ID, stored.ID)

	entry, err := s.queue.FindByCertificate(s.ctx, cert.ID)
	s.Require().NoError(err)
	s.True(entry.Archived)

	s.Equal([]audit.Action{
		audit.ActionSubmitted,
		audit.ActionValidated, audit.ActionValidated,
		audit.ActionApproved, audit.ActionApproved,
		audit.ActionSignedOff,
		audit.ActionAnchored, audit.ActionIssued, audit.ActionArchived,
	}, s.actions(cert.ID))
}

func (s *LifecycleSuite) TestDuplicateContentHashIsRejected() {
	content := []byte("same bytes")
	s.submit(content)

	_, err := s.service.Submit(s.ctx, issuer, service.SubmitCommand{
		Attributes:  attributes(),
		ContentHash: integrity.Sum(content),
	})
	s.Require().ErrorIs(err, dErrors.New(dErrors.CodeDuplicate, "a certificate with this content hash already exists"))
}

func (s *LifecycleSuite) TestStepsRunInOrder() {
	cert := s.submit([]byte("ordered"))

	_, err := s.decide(approver, cert.ID, approval.StepApproved, "")
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden), "approver cannot decide validation")

	_, err = s.decide(validator, cert.ID, approval.StepApproved, "")
	s.Require().NoError(err)
	_, err = s.decide(validator, cert.ID, approval.StepApproved, "")
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden), "validator cannot decide approval")

	got, err := s.service.Get(s.ctx, cert.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusPendingL2, got.Status)
}

func (s *LifecycleSuite) TestRejectionAndResubmission() {
	cert := s.submit([]byte("rejected"))

	_, err := s.decide(validator, cert.ID, approval.StepRejected, "")
	s.True(dErrors.HasCode(err, dErrors.CodeValidation), "a rejection needs comments")

	result, err := s.decide(validator, cert.ID, approval.StepRejected, "grade missing from transcript")
	s.Require().NoError(err)
	s.Equal(models.StatusRejected, result.Certificate.Status)
	s.Equal(1, result.Entry.RejectionHistory.Count)
	s.True(result.Entry.RejectionHistory.CanResubmit)

	_, err = s.decide(approver, cert.ID, approval.StepApproved, "")
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))

	resubmitted, err := s.service.Resubmit(s.ctx, issuer, cert.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusPendingL1, resubmitted.Status)

	s.approveAll(cert.ID)
	got, err := s.service.Get(s.ctx, cert.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusIssued, got.Status)
}

func (s *LifecycleSuite) TestResubmissionLimitArchives() {
	cert := s.submit([]byte("limit"))
	for i := 0; i < service.DefaultMaxResubmissions; i++ {
		result, err := s.decide(validator, cert.ID, approval.StepRejected, "still wrong")
		s.Require().NoError(err)
		if i < service.DefaultMaxResubmissions-1 {
			_, err = s.service.Resubmit(s.ctx, issuer, cert.ID)
			s.Require().NoError(err)
			continue
		}
		s.True(result.Entry.Archived)
	}
	_, err := s.service.Resubmit(s.ctx, issuer, cert.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
}

func (s *LifecycleSuite) TestRevertIsNotARejection() {
	cert := s.submit([]byte("revert"))
	_, err := s.decide(validator, cert.ID, approval.StepApproved, "")
	s.Require().NoError(err)

	_, err = s.service.Revert(s.ctx, validator, cert.ID, "wrong step")
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden), "only the current step's reviewer may revert")

	reverted, err := s.service.Revert(s.ctx, approver, cert.ID, "holder name misspelled")
	s.Require().NoError(err)
	s.Equal(models.StatusNeedsCorrection, reverted.Status)

	entry, err := s.queue.FindByCertificate(s.ctx, cert.ID)
	s.Require().NoError(err)
	s.Equal(0, entry.RejectionHistory.Count)
	s.Equal(1, entry.Corrections)
	s.Equal(approval.StepPending, entry.Validation.Status)

	_, err = s.service.Resubmit(s.ctx, issuer, cert.ID)
	s.Require().NoError(err)
}

func (s *LifecycleSuite) TestAnchoringFailureLeavesPendingL3() {
	cert := s.submit([]byte("ledger down"))
	_, err := s.decide(validator, cert.ID, approval.StepApproved, "")
	s.Require().NoError(err)
	_, err = s.decide(approver, cert.ID, approval.StepApproved, "")
	s.Require().NoError(err)

	s.ledger.FailSubmissions(errors.New("node rejected transaction"))
	result, err := s.decide(head, cert.ID, approval.StepApproved, "")
	s.True(dErrors.HasCode(err, dErrors.CodeAnchoring))
	s.Require().NotNil(result, "the sign-off decision is committed")
	s.Equal(models.StatusPendingL3, result.Certificate.Status)
	s.True(result.Entry.IsReadyForIssuance())

	got, err := s.service.Get(s.ctx, cert.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusPendingL3, got.Status)
	s.Nil(got.AnchorRef)

	s.ledger.FailSubmissions(nil)
	issued, receipt, err := s.service.Anchor(s.ctx, registrar, cert.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusIssued, issued.Status)
	s.Equal(issued.AnchorRef.TxID, receipt.TxID)
	s.Equal(2, s.ledger.SubmitCalls())
}

func (s *LifecycleSuite) TestLostLedgerResponseIsReconciled() {
	cert := s.submit([]byte("lost response"))
	_, err := s.decide(validator, cert.ID, approval.StepApproved, "")
	s.Require().NoError(err)
	_, err = s.decide(approver, cert.ID, approval.StepApproved, "")
	s.Require().NoError(err)

	s.ledger.LoseResponses(errors.New("connection reset"))
	_, err = s.decide(head, cert.ID, approval.StepApproved, "")
	s.True(dErrors.HasCode(err, dErrors.CodeAnchoring))

	s.ledger.LoseResponses(nil)
	issued, _, err := s.service.Anchor(s.ctx, head, cert.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusIssued, issued.Status)
	s.Equal(1, s.ledger.SubmitCalls(), "reconciliation must not submit again")
}

func (s *LifecycleSuite) TestReanchorReturnsExistingReceipt() {
	cert := s.submit([]byte("idempotent"))
	first := s.approveAll(cert.ID)
	s.Require().NotNil(first.Receipt)

	_, receipt, err := s.service.Anchor(s.ctx, registrar, cert.ID)
	s.Require().NoError(err)
	s.Equal(first.Receipt.TxID, receipt.TxID)
	s.Equal(first.Receipt.BlockRef, receipt.BlockRef)
	s.Equal(1, s.ledger.SubmitCalls())
}

func (s *LifecycleSuite) TestAnchorRequiresApprovedEntry() {
	cert := s.submit([]byte("early"))
	_, _, err := s.service.Anchor(s.ctx, registrar, cert.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))

	_, _, err = s.service.Anchor(s.ctx, validator, cert.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	s.Equal(0, s.ledger.SubmitCalls())
}

func (s *LifecycleSuite) TestVerifyDetectsTampering() {
	content := []byte("%PDF original diploma")
	cert := s.submit(content)
	issued := s.approveAll(cert.ID)

	result, err := s.service.Verify(s.ctx, cert.ID.String())
	s.Require().NoError(err)
	s.True(result.IsValid)
	s.Require().NotNil(result.TamperedDetected())
	s.False(*result.TamperedDetected())
	s.Equal(int64(1), result.Certificate.VerificationCount)

	byTx, err := s.service.Verify(s.ctx, issued.Receipt.TxID)
	s.Require().NoError(err)
	s.Equal(cert.ID, byTx.Certificate.ID)

	s.Require().NoError(s.content.Put(s.ctx, cert.ID, []byte("%PDF edited diploma")))
	result, err = s.service.Verify(s.ctx, cert.ContentHash)
	s.Require().NoError(err)
	s.True(result.Found)
	s.False(result.IsValid)
	s.Require().NotNil(result.TamperedDetected())
	s.True(*result.TamperedDetected())
	s.Equal(service.OutcomeTampered, result.Outcome())
}

func (s *LifecycleSuite) TestVerifyWithoutContentIsUnknown() {
	cert, err := s.service.Submit(s.ctx, issuer, service.SubmitCommand{Attributes: attributes()})
	s.Require().NoError(err)
	s.approveAll(cert.ID)

	result, err := s.service.Verify(s.ctx, cert.ID.String())
	s.Require().NoError(err)
	s.True(result.IsValid)
	s.Nil(result.TamperedDetected())
}

func (s *LifecycleSuite) TestVerifySuppliedContent() {
	content := []byte("supplied")
	cert := s.submit(content)
	s.approveAll(cert.ID)

	result, err := s.service.VerifyContent(s.ctx, cert.ID.String(), []byte("forged"))
	s.Require().NoError(err)
	s.False(result.IsValid)
	s.True(result.Integrity.Tampered())

	result, err = s.service.VerifyContent(s.ctx, cert.ID.String(), content)
	s.Require().NoError(err)
	s.True(result.IsValid)
}

func (s *LifecycleSuite) TestVerifyUnknownIdentifier() {
	result, err := s.service.Verify(s.ctx, "0xdoesnotexist")
	s.Require().NoError(err)
	s.False(result.Found)
	s.False(result.IsValid)
	s.Nil(result.Certificate)
	s.Equal(service.OutcomeNotFound, result.Outcome())
}

func (s *LifecycleSuite) TestPendingCertificateIsNotValid() {
	cert := s.submit([]byte("pending"))
	result, err := s.service.Verify(s.ctx, cert.ID.String())
	s.Require().NoError(err)
	s.True(result.Found)
	s.False(result.IsValid)
	s.Equal("certificate status is PENDING_L1", result.Reason)
}

func (s *LifecycleSuite) TestExpiryIsAppliedOnRead() {
	attrs := attributes()
	expiry := time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC)
	attrs.ExpiryDate = &expiry
	cert, err := s.service.Submit(s.ctx, issuer, service.SubmitCommand{Attributes: attrs, Content: []byte("expiring")})
	s.Require().NoError(err)
	s.approveAll(cert.ID)

	s.now = expiry.Add(24 * time.Hour)
	got, err := s.service.Get(s.ctx, cert.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusExpired, got.Status)

	stored, err := s.store.FindByID(s.ctx, cert.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusExpired, stored.Status)

	result, err := s.service.Verify(s.ctx, cert.ID.String())
	s.Require().NoError(err)
	s.False(result.IsValid)
	s.Contains(s.actions(cert.ID), audit.ActionExpired)
}

func (s *LifecycleSuite) TestValidationChecksRegistry() {
	s.registry = registry.StaticClient{Records: map[string]registry.Record{
		"S1": {HolderID: "S1", FullName: "Someone Else", Active: true},
	}}
	s.build()
	cert := s.submit([]byte("registry"))

	_, err := s.decide(validator, cert.ID, approval.StepApproved, "")
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	got, err := s.service.Get(s.ctx, cert.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusPendingL1, got.Status)
}

func (s *LifecycleSuite) TestValidationDetectsActiveSibling() {
	first := s.submit([]byte("first copy"))
	s.approveAll(first.ID)

	second := s.submit([]byte("second copy"))
	_, err := s.decide(validator, second.ID, approval.StepApproved, "")
	s.True(dErrors.HasCode(err, dErrors.CodeDuplicate))
}

func (s *LifecycleSuite) TestConcurrentDecisionsApplyOnce() {
	cert := s.submit([]byte("race"))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.decide(validator, cert.ID, approval.StepApproved, ""); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	s.Equal(1, successes)
	got, err := s.service.Get(s.ctx, cert.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusPendingL2, got.Status)
}

func (s *LifecycleSuite) pendingAfterFailedAnchor(content []byte) domain.CertificateID {
	cert := s.submit(content)
	_, err := s.decide(validator, cert.ID, approval.StepApproved, "")
	s.Require().NoError(err)
	_, err = s.decide(approver, cert.ID, approval.StepApproved, "")
	s.Require().NoError(err)
	s.ledger.FailSubmissions(errors.New("node rejected transaction"))
	_, err = s.decide(head, cert.ID, approval.StepApproved, "")
	s.Require().True(dErrors.HasCode(err, dErrors.CodeAnchoring))
	s.ledger.FailSubmissions(nil)

	got, err := s.service.Get(s.ctx, cert.ID)
	s.Require().NoError(err)
	s.Require().Nil(got.LedgerClaim, "a failed attempt releases its claim")
	return cert.ID
}

func (s *LifecycleSuite) TestConcurrentAnchorSubmitsOnce() {
	id := s.pendingAfterFailedAnchor([]byte("concurrent anchor"))
	before := s.ledger.SubmitCalls()
	s.ledger.SetDelay(200 * time.Millisecond)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, errs[i] = s.service.Anchor(s.ctx, registrar, id)
		}()
	}
	wg.Wait()

	s.Equal(1, s.ledger.SubmitCalls()-before)
	for _, err := range errs {
		if err != nil {
			s.True(dErrors.HasCode(err, dErrors.CodeAnchorPending), "got %v", err)
		}
	}
	got, err := s.service.Get(s.ctx, id)
	s.Require().NoError(err)
	s.Equal(models.StatusIssued, got.Status)
	s.Nil(got.LedgerClaim)
}

func (s *LifecycleSuite) TestAbandonedAnchorClaimIsTakenOver() {
	id := s.pendingAfterFailedAnchor([]byte("abandoned claim"))
	cert, err := s.store.FindByID(s.ctx, id)
	s.Require().NoError(err)
	stale, err := cert.ClaimLedger("crashed-worker", "issue", s.now, models.DefaultLedgerClaimTTL)
	s.Require().NoError(err)
	s.Require().NoError(s.store.Update(s.ctx, stale))

	_, _, err = s.service.Anchor(s.ctx, registrar, id)
	s.True(dErrors.HasCode(err, dErrors.CodeAnchorPending))

	s.now = s.now.Add(models.DefaultLedgerClaimTTL)
	issued, _, err := s.service.Anchor(s.ctx, registrar, id)
	s.Require().NoError(err)
	s.Equal(models.StatusIssued, issued.Status)
	s.Nil(issued.LedgerClaim)
}
