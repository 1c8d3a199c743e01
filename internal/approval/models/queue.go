package models

import (
	"strings"
	"time"

	"certledger/internal/audit"
	"certledger/pkg/domain"
	dErrors "certledger/pkg/domain-errors"
)

// StepRecord is the decision state of one approval step.
type StepRecord struct {
	Status    StepStatus     `json:"status"`
	Actor     domain.ActorID `json:"actor,omitempty"`
	DecidedAt *time.Time     `json:"decided_at,omitempty"`
	Comments  string         `json:"comments,omitempty"`
	// Signature is only meaningful on the approval step.
	Signature string `json:"signature,omitempty"`
}

// Rejection is one entry of the rejection history.
type Rejection struct {
	Step   Step           `json:"step"`
	Reason string         `json:"reason"`
	Actor  domain.ActorID `json:"actor"`
	At     time.Time      `json:"at"`
}

type RejectionHistory struct {
	Count       int         `json:"count"`
	Reasons     []Rejection `json:"reasons,omitempty"`
	Resubmitted bool        `json:"resubmitted"`
	CanResubmit bool        `json:"can_resubmit"`
}

// Decision is the input to one approval step.
type Decision struct {
	Outcome   StepStatus
	Comments  string
	Signature string
	Actor     domain.Actor
	At        time.Time
}

// QueueEntry tracks a pending certificate through validation, approval, and sign-off.
//
// Invariants:
//   - Status() is a pure function of the three step statuses
//   - Steps complete in order: approval cannot be decided until validation is
//     APPROVED, sign-off cannot be decided until approval is APPROVED
//   - Each step is decided by its own role (validator, approver, department_head)
//   - A REJECTED step halts the entry; only Resubmit restarts it, and only
//     while RejectionHistory.CanResubmit
//   - An archived entry accepts no further changes
//
// Transitions are value methods returning the next entry and the audit entry
// describing the change. The receiver is never modified.
type QueueEntry struct {
	CertificateID    domain.CertificateID `json:"certificate_id"`
	Validation       StepRecord           `json:"validation"`
	Approval         StepRecord           `json:"approval"`
	SignOff          StepRecord           `json:"sign_off"`
	RejectionHistory RejectionHistory     `json:"rejection_history"`
	Corrections      int                  `json:"corrections"`
	Archived         bool                 `json:"archived"`
	Version          int                  `json:"version"`
	CreatedAt        time.Time            `json:"created_at"`
	UpdatedAt        time.Time            `json:"updated_at"`
}

// NewQueueEntry opens the queue entry for a freshly submitted certificate.
func NewQueueEntry(certID domain.CertificateID, now time.Time) QueueEntry {
	return QueueEntry{
		CertificateID:    certID,
		Validation:       StepRecord{Status: StepPending},
		Approval:         StepRecord{Status: StepPending},
		SignOff:          StepRecord{Status: StepPending},
		RejectionHistory: RejectionHistory{CanResubmit: true},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// Status derives the overall status from the step records.
func (e QueueEntry) Status() EntryStatus {
	steps := [...]StepStatus{e.Validation.Status, e.Approval.Status, e.SignOff.Status}
	approved := 0
	for _, s := range steps {
		switch s {
		case StepRejected:
			return EntryRejected
		case StepApproved:
			approved++
		}
	}
	if approved == len(steps) {
		return EntryApproved
	}
	return EntryPending
}

// IsReadyForIssuance is true iff all three steps are APPROVED.
func (e QueueEntry) IsReadyForIssuance() bool {
	return e.Status() == EntryApproved
}

// CurrentStep returns the first step that is not yet APPROVED.
func (e QueueEntry) CurrentStep() (Step, bool) {
	for _, step := range Steps {
		if e.record(step).Status != StepApproved {
			return step, true
		}
	}
	return "", false
}

// Record returns a copy of the record for step.
func (e QueueEntry) Record(step Step) StepRecord {
	return e.record(step)
}

func (e QueueEntry) record(step Step) StepRecord {
	switch step {
	case StepValidation:
		return e.Validation
	case StepApproval:
		return e.Approval
	case StepSignOff:
		return e.SignOff
	}
	return StepRecord{}
}

func (e *QueueEntry) setRecord(step Step, r StepRecord) {
	switch step {
	case StepValidation:
		e.Validation = r
	case StepApproval:
		e.Approval = r
	case StepSignOff:
		e.SignOff = r
	}
}

// RequiredRole names the role allowed to decide step.
func RequiredRole(step Step) domain.Role {
	switch step {
	case StepValidation:
		return domain.RoleValidator
	case StepApproval:
		return domain.RoleApprover
	case StepSignOff:
		return domain.RoleDepartmentHead
	}
	return ""
}

func auditAction(step Step, outcome StepStatus) audit.Action {
	if outcome == StepRejected {
		return audit.ActionRejected
	}
	switch step {
	case StepValidation:
		return audit.ActionValidated
	case StepApproval:
		return audit.ActionApproved
	default:
		return audit.ActionSignedOff
	}
}

// CanDecide checks that step is the one awaiting a decision and that d is acceptable for it.
func (e QueueEntry) CanDecide(step Step, d Decision) error {
	if e.Archived {
		return dErrors.New(dErrors.CodeInvalidTransition, "approval entry is archived")
	}
	if e.Status() == EntryRejected {
		return dErrors.New(dErrors.CodeInvalidTransition, "approval entry was rejected; resubmit to restart")
	}
	current, ok := e.CurrentStep()
	if !ok {
		return dErrors.New(dErrors.CodeInvalidTransition, "all approval steps are already complete")
	}
	if step != current {
		return dErrors.Newf(dErrors.CodeInvalidTransition, "%s cannot be decided while %s is %s",
			step, current, e.record(current).Status)
	}
	if err := d.Actor.Require("decide "+string(step), RequiredRole(step)); err != nil {
		return err
	}
	switch d.Outcome {
	case StepApproved:
	case StepRejected:
		if strings.TrimSpace(d.Comments) == "" {
			return dErrors.New(dErrors.CodeValidation, "a rejection requires comments")
		}
	default:
		return dErrors.New(dErrors.CodeValidation, "decision must be APPROVED or REJECTED")
	}
	if d.Signature != "" && step != StepApproval {
		return dErrors.New(dErrors.CodeValidation, "a signature may only be attached at the approval step")
	}
	return nil
}

// Decide records d against the current step. maxResubmissions bounds how
// many rejections still allow a resubmission.
func (e QueueEntry) Decide(step Step, d Decision, maxResubmissions int) (QueueEntry, audit.Entry, error) {
	if err := e.CanDecide(step, d); err != nil {
		return e, audit.Entry{}, err
	}
	next := e.clone()
	at := d.At
	previous := e.record(step).Status
	next.setRecord(step, StepRecord{
		Status:    d.Outcome,
		Actor:     d.Actor.ID,
		DecidedAt: &at,
		Comments:  strings.TrimSpace(d.Comments),
		Signature: d.Signature,
	})
	if d.Outcome == StepRejected {
		next.RejectionHistory.Count++
		next.RejectionHistory.Reasons = append(next.RejectionHistory.Reasons, Rejection{
			Step:   step,
			Reason: strings.TrimSpace(d.Comments),
			Actor:  d.Actor.ID,
			At:     at,
		})
		next.RejectionHistory.CanResubmit = next.RejectionHistory.Count < maxResubmissions
	}
	next.UpdatedAt = at

	entry := audit.NewEntry(e.CertificateID, audit.SubjectApproval, string(step), auditAction(step, d.Outcome), d.Actor, at).
		WithStatus(string(previous), string(d.Outcome)).
		WithComments(next.record(step).Comments)
	return next, entry, nil
}

// Revert clears every step back to PENDING so the submission can be
// corrected. It does not count as a rejection.
func (e QueueEntry) Revert(actor domain.Actor, comments string, now time.Time) (QueueEntry, audit.Entry, error) {
	if e.Archived {
		return e, audit.Entry{}, dErrors.New(dErrors.CodeInvalidTransition, "approval entry is archived")
	}
	if e.Status() == EntryRejected {
		return e, audit.Entry{}, dErrors.New(dErrors.CodeInvalidTransition, "a rejected entry cannot be reverted; resubmit instead")
	}
	if strings.TrimSpace(comments) == "" {
		return e, audit.Entry{}, dErrors.New(dErrors.CodeValidation, "a revert requires comments describing the correction")
	}
	previous := e.Status()
	next := e.clone()
	next.resetSteps()
	next.Corrections++
	next.UpdatedAt = now

	entry := audit.NewEntry(e.CertificateID, audit.SubjectApproval, e.CertificateID.String(), audit.ActionReverted, actor, now).
		WithStatus(string(previous), string(next.Status())).
		WithComments(strings.TrimSpace(comments))
	return next, entry, nil
}

// CanResubmit checks that the entry may restart its pipeline.
func (e QueueEntry) CanResubmit() error {
	if e.Status() == EntryRejected && !e.RejectionHistory.CanResubmit {
		return dErrors.Newf(dErrors.CodeInvalidTransition, "resubmission limit reached after %d rejections", e.RejectionHistory.Count)
	}
	if e.Archived {
		return dErrors.New(dErrors.CodeInvalidTransition, "approval entry is archived")
	}
	return nil
}

// Resubmit clears all steps and starts a new approval cycle.
func (e QueueEntry) Resubmit(actor domain.Actor, now time.Time) (QueueEntry, audit.Entry, error) {
	if err := e.CanResubmit(); err != nil {
		return e, audit.Entry{}, err
	}
	previous := e.Status()
	next := e.clone()
	next.resetSteps()
	if previous == EntryRejected {
		next.RejectionHistory.Resubmitted = true
	}
	next.UpdatedAt = now

	entry := audit.NewEntry(e.CertificateID, audit.SubjectApproval, e.CertificateID.String(), audit.ActionResubmitted, actor, now).
		WithStatus(string(previous), string(next.Status()))
	return next, entry, nil
}

// Archive closes the entry once its certificate is issued or terminally rejected.
func (e QueueEntry) Archive(actor domain.Actor, now time.Time) (QueueEntry, audit.Entry, error) {
	if e.Archived {
		return e, audit.Entry{}, dErrors.New(dErrors.CodeInvalidTransition, "approval entry is already archived")
	}
	if e.Status() == EntryPending {
		return e, audit.Entry{}, dErrors.New(dErrors.CodeInvalidTransition, "a pending approval entry cannot be archived")
	}
	next := e.clone()
	next.Archived = true
	next.UpdatedAt = now
	entry := audit.NewEntry(e.CertificateID, audit.SubjectApproval, e.CertificateID.String(), audit.ActionArchived, actor, now).
		WithStatus(string(e.Status()), string(next.Status()))
	return next, entry, nil
}

func (e *QueueEntry) resetSteps() {
	e.Validation = StepRecord{Status: StepPending}
	e.Approval = StepRecord{Status: StepPending}
	e.SignOff = StepRecord{Status: StepPending}
}

// clone copies the entry including its rejection history slice.
func (e QueueEntry) clone() QueueEntry {
	next := e
	if e.RejectionHistory.Reasons != nil {
		next.RejectionHistory.Reasons = append([]Rejection(nil), e.RejectionHistory.Reasons...)
	}
	return next
}
