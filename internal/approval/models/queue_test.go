package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"certledger/internal/audit"
	"certledger/pkg/domain"
	dErrors "certledger/pkg/domain-errors"
)

var (
	validator = domain.Actor{ID: "val-1", Role: domain.RoleValidator}
	approver  = domain.Actor{ID: "app-1", Role: domain.RoleApprover}
	head      = domain.Actor{ID: "head-1", Role: domain.RoleDepartmentHead}
	t0        = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
)

const maxResubmissions = 3

type QueueEntrySuite struct {
	suite.Suite
	entry QueueEntry
}

func TestQueueEntrySuite(t *testing.T) {
	suite.Run(t, new(QueueEntrySuite))
}

func (s *QueueEntrySuite) SetupTest() {
	s.entry = NewQueueEntry(domain.NewCertificateID(), t0)
}

func (s *QueueEntrySuite) approve(e QueueEntry, step Step, actor domain.Actor) QueueEntry {
	next, _, err := e.Decide(step, Decision{Outcome: StepApproved, Actor: actor, At: t0}, maxResubmissions)
	s.Require().NoError(err)
	return next
}

func (s *QueueEntrySuite) TestNewEntryIsPending() {
	s.Equal(EntryPending, s.entry.Status())
	step, ok := s.entry.CurrentStep()
	s.True(ok)
	s.Equal(StepValidation, step)
	s.False(s.entry.IsReadyForIssuance())
	s.True(s.entry.RejectionHistory.CanResubmit)
}

func (s *QueueEntrySuite) TestStrictPipelineOrder() {
	s.Run("approval before validation is refused", func() {
		_, _, err := s.entry.Decide(StepApproval, Decision{Outcome: StepApproved, Actor: approver, At: t0}, maxResubmissions)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
	})

	s.Run("sign-off before approval is refused", func() {
		e := s.approve(s.entry, StepValidation, validator)
		_, _, err := e.Decide(StepSignOff, Decision{Outcome: StepApproved, Actor: head, At: t0}, maxResubmissions)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
	})

	s.Run("in-order approvals make the entry ready", func() {
		e := s.approve(s.entry, StepValidation, validator)
		e = s.approve(e, StepApproval, approver)
		s.False(e.IsReadyForIssuance())
		e = s.approve(e, StepSignOff, head)
		s.True(e.IsReadyForIssuance())
		s.Equal(EntryApproved, e.Status())
		_, ok := e.CurrentStep()
		s.False(ok)
	})
}

func (s *QueueEntrySuite) TestRoleEnforcement() {
	_, _, err := s.entry.Decide(StepValidation, Decision{Outcome: StepApproved, Actor: approver, At: t0}, maxResubmissions)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))

	_, _, err = s.entry.Decide(StepValidation, Decision{Outcome: StepApproved, At: t0}, maxResubmissions)
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func (s *QueueEntrySuite) TestDecideIsPure() {
	next, entry, err := s.entry.Decide(StepValidation, Decision{Outcome: StepApproved, Actor: validator, Comments: " ok ", At: t0}, maxResubmissions)
	s.Require().NoError(err)
	s.Equal(StepPending, s.entry.Validation.Status, "receiver untouched")
	s.Equal(StepApproved, next.Validation.Status)
	s.Equal("ok", next.Validation.Comments)
	s.Equal(audit.ActionValidated, entry.Action)
	s.Equal("PENDING", entry.PreviousStatus)
	s.Equal("APPROVED", entry.NewStatus)
	s.Equal(domain.ActorID("val-1"), entry.Actor)
}

func (s *QueueEntrySuite) TestRejection() {
	s.Run("requires comments", func() {
		_, _, err := s.entry.Decide(StepValidation, Decision{Outcome: StepRejected, Actor: validator, At: t0}, maxResubmissions)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("halts the entry and records history", func() {
		e := s.approve(s.entry, StepValidation, validator)
		rejected, entry, err := e.Decide(StepApproval, Decision{Outcome: StepRejected, Comments: "grade mismatch", Actor: approver, At: t0}, maxResubmissions)
		s.Require().NoError(err)
		s.Equal(EntryRejected, rejected.Status())
		s.Equal(1, rejected.RejectionHistory.Count)
		s.Equal("grade mismatch", rejected.RejectionHistory.Reasons[0].Reason)
		s.Equal(StepApproval, rejected.RejectionHistory.Reasons[0].Step)
		s.Equal(audit.ActionRejected, entry.Action)

		_, _, err = rejected.Decide(StepApproval, Decision{Outcome: StepApproved, Actor: approver, At: t0}, maxResubmissions)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
	})

	s.Run("signature only at approval step", func() {
		_, _, err := s.entry.Decide(StepValidation, Decision{Outcome: StepApproved, Signature: "sig", Actor: validator, At: t0}, maxResubmissions)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *QueueEntrySuite) TestResubmissionLimit() {
	e := s.entry
	for i := 0; i < maxResubmissions; i++ {
		var err error
		e, _, err = e.Decide(StepValidation, Decision{Outcome: StepRejected, Comments: "missing field", Actor: validator, At: t0}, maxResubmissions)
		s.Require().NoError(err)
		if i < maxResubmissions-1 {
			s.True(e.RejectionHistory.CanResubmit)
			e, _, err = e.Resubmit(validator, t0)
			s.Require().NoError(err)
			s.True(e.RejectionHistory.Resubmitted)
			s.Equal(EntryPending, e.Status())
		}
	}
	s.False(e.RejectionHistory.CanResubmit)
	_, _, err := e.Resubmit(validator, t0)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
}

func (s *QueueEntrySuite) TestRevert() {
	e := s.approve(s.entry, StepValidation, validator)
	e = s.approve(e, StepApproval, approver)

	reverted, entry, err := e.Revert(head, "holder name misspelled", t0)
	s.Require().NoError(err)
	s.Equal(EntryPending, reverted.Status())
	s.Equal(StepPending, reverted.Validation.Status)
	s.Equal(0, reverted.RejectionHistory.Count, "revert is not a rejection")
	s.Equal(1, reverted.Corrections)
	s.Equal(audit.ActionReverted, entry.Action)

	_, _, err = e.Revert(head, "  ", t0)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *QueueEntrySuite) TestArchive() {
	_, _, err := s.entry.Archive(head, t0)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))

	e := s.approve(s.entry, StepValidation, validator)
	e = s.approve(e, StepApproval, approver)
	e = s.approve(e, StepSignOff, head)
	archived, _, err := e.Archive(head, t0)
	s.Require().NoError(err)
	s.True(archived.Archived)

	_, _, err = archived.Revert(head, "too late", t0)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
}

func TestRejectionHistoryIsCopiedOnTransition(t *testing.T) {
	e := NewQueueEntry(domain.NewCertificateID(), t0)
	rejected, _, err := e.Decide(StepValidation, Decision{Outcome: StepRejected, Comments: "dup", Actor: validator, At: t0}, maxResubmissions)
	require.NoError(t, err)
	again, _, err := rejected.Resubmit(validator, t0)
	require.NoError(t, err)
	again, _, err = again.Decide(StepValidation, Decision{Outcome: StepRejected, Comments: "dup again", Actor: validator, At: t0}, maxResubmissions)
	require.NoError(t, err)

	assert.Len(t, rejected.RejectionHistory.Reasons, 1)
	assert.Len(t, again.RejectionHistory.Reasons, 2)
}

func TestParseDecision(t *testing.T) {
	d, err := ParseDecision("APPROVE")
	require.NoError(t, err)
	assert.Equal(t, StepApproved, d)
	d, err = ParseDecision("REJECTED")
	require.NoError(t, err)
	assert.Equal(t, StepRejected, d)
	_, err = ParseDecision("maybe")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
}
