package models

import (
	"strings"

	dErrors "certledger/pkg/domain-errors"
)

// Reason is the closed set of grounds for revoking a certificate.
type Reason string

const (
	ReasonAcademicMisconduct   Reason = "ACADEMIC_MISCONDUCT"
	ReasonFraudulentCredential Reason = "FRAUDULENT_CREDENTIALS"
	ReasonDataError            Reason = "DATA_ERROR"
	ReasonStudentRequest       Reason = "STUDENT_REQUEST"
	ReasonInstitutionRequest   Reason = "INSTITUTION_REQUEST"
	ReasonCompliance           Reason = "COMPLIANCE"
	ReasonVerificationFailure  Reason = "VERIFICATION_FAILURE"
	ReasonOther                Reason = "OTHER"
)

var reasons = map[Reason]bool{
	ReasonAcademicMisconduct:   true,
	ReasonFraudulentCredential: true,
	ReasonDataError:            true,
	ReasonStudentRequest:       true,
	ReasonInstitutionRequest:   true,
	ReasonCompliance:           true,
	ReasonVerificationFailure:  true,
	ReasonOther:                true,
}

func ParseReason(s string) (Reason, error) {
	r := Reason(strings.ToUpper(strings.TrimSpace(s)))
	if !reasons[r] {
		return "", dErrors.Newf(dErrors.CodeValidation, "unsupported revocation reason %q", s)
	}
	return r, nil
}

func (r Reason) IsValid() bool { return reasons[r] }

// Status is derived from the approval tiers, execution, and appeal.
type Status string

const (
	StatusPendingApproval Status = "PENDING_APPROVAL"
	StatusApproved        Status = "APPROVED"
	StatusRejected        Status = "REJECTED"
	StatusExecuted        Status = "EXECUTED"
	StatusReverted        Status = "REVERTED"
)

// IsOpen reports whether the record still blocks a new revocation of the
// same certificate.
func (s Status) IsOpen() bool {
	switch s {
	case StatusPendingApproval, StatusApproved:
		return true
	case StatusRejected, StatusExecuted, StatusReverted:
		return false
	}
	return false
}

// Tier is one of the three authorities whose approval execution requires.
type Tier string

const (
	TierDepartment     Tier = "department"
	TierRegistrar      Tier = "registrar"
	TierSuperAuthority Tier = "super_authority"
)

// Tiers lists every tier in display order. Decisions may arrive in any order.
var Tiers = []Tier{TierDepartment, TierRegistrar, TierSuperAuthority}

// AppealOutcome is the state of a filed appeal.
type AppealOutcome string

const (
	AppealPending AppealOutcome = "PENDING"
	AppealUpheld  AppealOutcome = "UPHELD"
	AppealGranted AppealOutcome = "GRANTED"
)
