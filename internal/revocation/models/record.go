package models

import (
	"strings"
	"time"
	"unicode/utf8"

	approval "certledger/internal/approval/models"
	"certledger/internal/audit"
	"certledger/pkg/domain"
	dErrors "certledger/pkg/domain-errors"
	pkgstrings "certledger/pkg/platform/strings"
)

const (
	// MinDescriptionLength is measured in characters after trimming.
	MinDescriptionLength = 20
	maxDescriptionLength = 4000
	maxEvidenceItems     = 20
	maxEvidenceLength    = 512
	maxCommentsLength    = 2000
)

// DefaultAppealWindow is how long after execution an appeal may be filed.
const DefaultAppealWindow = 30 * 24 * time.Hour

// TierRecord is the decision state of one approval tier.
type TierRecord struct {
	Status    approval.StepStatus `json:"status"`
	Actor     domain.ActorID      `json:"actor,omitempty"`
	DecidedAt *time.Time          `json:"decided_at,omitempty"`
	Comments  string              `json:"comments,omitempty"`
}

// Execution is the ledger receipt of an executed revocation.
type Execution struct {
	TxID       string         `json:"tx_id"`
	BlockRef   string         `json:"block_ref"`
	FixedID    string         `json:"fixed_id"`
	ExecutedAt time.Time      `json:"executed_at"`
	ExecutedBy domain.ActorID `json:"executed_by"`
}

// Appeal is the single appeal a revocation may receive.
type Appeal struct {
	Grounds   string         `json:"grounds"`
	FiledBy   domain.ActorID `json:"filed_by"`
	FiledAt   time.Time      `json:"filed_at"`
	Outcome   AppealOutcome  `json:"outcome"`
	DecidedBy domain.ActorID `json:"decided_by,omitempty"`
	DecidedAt *time.Time     `json:"decided_at,omitempty"`
	Comments  string         `json:"comments,omitempty"`
}

// Record is a revocation request and its history.
//
// Invariants:
//   - Reason is one of the closed set and Description has at least
//     MinDescriptionLength characters
//   - each tier is decided once, by its own role, in any order
//   - a single REJECTED tier makes execution permanently impossible
//   - Execution is set only when every tier is APPROVED
//   - Appeal is set at most once, only within the window after execution,
//     and is decided at most once
type Record struct {
	ID             domain.RevocationID  `json:"id"`
	CertificateID  domain.CertificateID `json:"certificate_id"`
	Reason         Reason               `json:"reason"`
	Description    string               `json:"description"`
	Evidence       []string             `json:"evidence,omitempty"`
	InitiatedBy    domain.ActorID       `json:"initiated_by"`
	Department     TierRecord           `json:"department"`
	Registrar      TierRecord           `json:"registrar"`
	SuperAuthority TierRecord           `json:"super_authority"`
	Execution      *Execution           `json:"execution,omitempty"`
	Appeal         *Appeal              `json:"appeal,omitempty"`
	Version        int                  `json:"version"`
	CreatedAt      time.Time            `json:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at"`
}

// Request is the validated input of a new revocation.
type Request struct {
	CertificateID domain.CertificateID
	Reason        Reason
	Description   string
	Evidence      []string
}

func (r Request) Validate() error {
	if r.CertificateID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "certificate_id is required")
	}
	if !r.Reason.IsValid() {
		return dErrors.Newf(dErrors.CodeValidation, "unsupported revocation reason %q", r.Reason)
	}
	desc := strings.TrimSpace(r.Description)
	if utf8.RuneCountInString(desc) < MinDescriptionLength {
		return dErrors.Newf(dErrors.CodeValidation, "description must be at least %d characters", MinDescriptionLength)
	}
	if len(desc) > maxDescriptionLength {
		return dErrors.Newf(dErrors.CodeValidation, "description must be at most %d bytes", maxDescriptionLength)
	}
	if len(r.Evidence) > maxEvidenceItems {
		return dErrors.Newf(dErrors.CodeValidation, "at most %d evidence references are allowed", maxEvidenceItems)
	}
	for _, ref := range r.Evidence {
		ref = strings.TrimSpace(ref)
		if ref == "" || len(ref) > maxEvidenceLength {
			return dErrors.Newf(dErrors.CodeValidation, "evidence references must be non-empty and at most %d bytes", maxEvidenceLength)
		}
	}
	return nil
}

// NewRecord opens a revocation awaiting all three tiers.
func NewRecord(id domain.RevocationID, req Request, actor domain.Actor, now time.Time) (Record, audit.Entry, error) {
	if err := req.Validate(); err != nil {
		return Record{}, audit.Entry{}, err
	}
	pending := TierRecord{Status: approval.StepPending}
	r := Record{
		ID:             id,
		CertificateID:  req.CertificateID,
		Reason:         req.Reason,
		Description:    strings.TrimSpace(req.Description),
		Evidence:       pkgstrings.DedupeAndTrim(req.Evidence),
		InitiatedBy:    actor.ID,
		Department:     pending,
		Registrar:      pending,
		SuperAuthority: pending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	entry := r.entry(audit.ActionRevocationInitiated, actor, now, "", StatusPendingApproval).
		WithComments(string(req.Reason))
	return r, entry, nil
}

// Status derives the record state.
func (r Record) Status() Status {
	if r.Appeal != nil && r.Appeal.Outcome == AppealGranted {
		return StatusReverted
	}
	if r.Execution != nil {
		return StatusExecuted
	}
	approved := 0
	for _, t := range Tiers {
		switch r.Tier(t).Status {
		case approval.StepRejected:
			return StatusRejected
		case approval.StepApproved:
			approved++
		}
	}
	if approved == len(Tiers) {
		return StatusApproved
	}
	return StatusPendingApproval
}

func (r Record) Tier(t Tier) TierRecord {
	switch t {
	case TierDepartment:
		return r.Department
	case TierRegistrar:
		return r.Registrar
	case TierSuperAuthority:
		return r.SuperAuthority
	}
	return TierRecord{}
}

func (r *Record) setTier(t Tier, rec TierRecord) {
	switch t {
	case TierDepartment:
		r.Department = rec
	case TierRegistrar:
		r.Registrar = rec
	case TierSuperAuthority:
		r.SuperAuthority = rec
	}
}

// RequiredRole names the role that decides tier t.
func RequiredRole(t Tier) domain.Role {
	switch t {
	case TierDepartment:
		return domain.RoleDepartmentHead
	case TierRegistrar:
		return domain.RoleRegistrar
	case TierSuperAuthority:
		return domain.RoleSuperAdmin
	}
	return ""
}

// TierFor maps a role to the tier it decides.
func TierFor(role domain.Role) (Tier, bool) {
	for _, t := range Tiers {
		if RequiredRole(t) == role {
			return t, true
		}
	}
	return "", false
}

// Decide records one tier's decision. A rejection needs comments.
func (r Record) Decide(t Tier, outcome approval.StepStatus, comments string, actor domain.Actor, now time.Time) (Record, audit.Entry, error) {
	if status := r.Status(); status != StatusPendingApproval {
		return r, audit.Entry{}, dErrors.Newf(dErrors.CodeInvalidTransition, "revocation in status %s accepts no further decisions", status)
	}
	if err := actor.Require("decide the "+string(t)+" tier", RequiredRole(t)); err != nil {
		return r, audit.Entry{}, err
	}
	if r.Tier(t).Status != approval.StepPending {
		return r, audit.Entry{}, dErrors.Newf(dErrors.CodeInvalidTransition, "the %s tier was already decided", t)
	}
	comments = strings.TrimSpace(comments)
	if len(comments) > maxCommentsLength {
		return r, audit.Entry{}, dErrors.Newf(dErrors.CodeValidation, "comments must be at most %d characters", maxCommentsLength)
	}
	action := audit.ActionRevocationApproved
	switch outcome {
	case approval.StepApproved:
	case approval.StepRejected:
		if comments == "" {
			return r, audit.Entry{}, dErrors.New(dErrors.CodeValidation, "a rejection requires comments")
		}
		action = audit.ActionRevocationRejected
	default:
		return r, audit.Entry{}, dErrors.New(dErrors.CodeValidation, "decision must be APPROVED or REJECTED")
	}

	next := r.clone()
	at := now
	next.setTier(t, TierRecord{Status: outcome, Actor: actor.ID, DecidedAt: &at, Comments: comments})
	next.UpdatedAt = now
	entry := r.entry(action, actor, now, r.Status(), next.Status()).
		WithComments(string(t) + ": " + comments)
	return next, entry, nil
}

// CanExecute fails unless every tier approved and nothing was executed yet.
func (r Record) CanExecute() error {
	switch status := r.Status(); status {
	case StatusApproved:
		return nil
	case StatusRejected:
		return dErrors.New(dErrors.CodeInvalidTransition, "revocation was rejected and can never be executed")
	case StatusPendingApproval:
		return dErrors.New(dErrors.CodeInvalidTransition, "revocation requires department, registrar, and super authority approval")
	case StatusExecuted, StatusReverted:
		return dErrors.Newf(dErrors.CodeInvalidTransition, "revocation is already %s", status)
	default:
		return dErrors.Newf(dErrors.CodeInvariantViolation, "unknown revocation status %s", status)
	}
}

// Execute records the ledger receipt of the revocation event.
func (r Record) Execute(exec Execution, actor domain.Actor, now time.Time) (Record, audit.Entry, error) {
	if err := r.CanExecute(); err != nil {
		return r, audit.Entry{}, err
	}
	if exec.TxID == "" {
		return r, audit.Entry{}, dErrors.New(dErrors.CodeInvariantViolation, "a revocation cannot be executed without a ledger transaction")
	}
	next := r.clone()
	exec.ExecutedBy = actor.ID
	exec.ExecutedAt = now
	next.Execution = &exec
	next.UpdatedAt = now
	entry := r.entry(audit.ActionRevocationExecuted, actor, now, r.Status(), next.Status()).
		WithComments("tx " + exec.TxID)
	return next, entry, nil
}

// FileAppeal opens the one appeal a record may receive, while
// now - executedAt < window.
func (r Record) FileAppeal(grounds string, actor domain.Actor, now time.Time, window time.Duration) (Record, audit.Entry, error) {
	if r.Status() != StatusExecuted {
		return r, audit.Entry{}, dErrors.Newf(dErrors.CodeInvalidTransition, "only an executed revocation can be appealed, status is %s", r.Status())
	}
	if r.Appeal != nil {
		return r, audit.Entry{}, dErrors.New(dErrors.CodeInvalidTransition, "this revocation was already appealed")
	}
	if now.Sub(r.Execution.ExecutedAt) >= window {
		return r, audit.Entry{}, dErrors.Newf(dErrors.CodeInvalidTransition, "the appeal window of %s has closed", window)
	}
	grounds = strings.TrimSpace(grounds)
	if grounds == "" {
		return r, audit.Entry{}, dErrors.New(dErrors.CodeValidation, "appeal grounds are required")
	}
	if len(grounds) > maxDescriptionLength {
		return r, audit.Entry{}, dErrors.Newf(dErrors.CodeValidation, "appeal grounds must be at most %d bytes", maxDescriptionLength)
	}
	next := r.clone()
	next.Appeal = &Appeal{
		Grounds: grounds,
		FiledBy: actor.ID,
		FiledAt: now,
		Outcome: AppealPending,
	}
	next.UpdatedAt = now
	entry := r.entry(audit.ActionAppealFiled, actor, now, r.Status(), next.Status()).WithComments(grounds)
	return next, entry, nil
}

// DecideAppeal settles a pending appeal. Granting reverts the revocation.
func (r Record) DecideAppeal(grant bool, comments string, actor domain.Actor, now time.Time) (Record, audit.Entry, error) {
	if r.Appeal == nil {
		return r, audit.Entry{}, dErrors.New(dErrors.CodeInvalidTransition, "no appeal has been filed")
	}
	if r.Appeal.Outcome != AppealPending {
		return r, audit.Entry{}, dErrors.Newf(dErrors.CodeInvalidTransition, "the appeal was already %s", strings.ToLower(string(r.Appeal.Outcome)))
	}
	comments = strings.TrimSpace(comments)
	if len(comments) > maxCommentsLength {
		return r, audit.Entry{}, dErrors.Newf(dErrors.CodeValidation, "comments must be at most %d characters", maxCommentsLength)
	}
	next := r.clone()
	appeal := *r.Appeal
	at := now
	appeal.DecidedBy = actor.ID
	appeal.DecidedAt = &at
	appeal.Comments = comments
	action := audit.ActionAppealUpheld
	appeal.Outcome = AppealUpheld
	if grant {
		appeal.Outcome = AppealGranted
		action = audit.ActionAppealGranted
	}
	next.Appeal = &appeal
	next.UpdatedAt = now
	entry := r.entry(action, actor, now, r.Status(), next.Status()).WithComments(comments)
	return next, entry, nil
}

func (r Record) entry(action audit.Action, actor domain.Actor, now time.Time, from, to Status) audit.Entry {
	return audit.NewEntry(r.CertificateID, audit.SubjectRevocation, r.ID.String(), action, actor, now).
		WithStatus(string(from), string(to))
}

func (r Record) clone() Record {
	next := r
	next.Evidence = append([]string(nil), r.Evidence...)
	if r.Execution != nil {
		exec := *r.Execution
		next.Execution = &exec
	}
	if r.Appeal != nil {
		appeal := *r.Appeal
		next.Appeal = &appeal
	}
	return next
}
