package models

import dErrors "certledger/pkg/domain-errors"

// StepStatus is the outcome of a single approval step.
type StepStatus string

const (
	StepPending  StepStatus = "PENDING"
	StepApproved StepStatus = "APPROVED"
	StepRejected StepStatus = "REJECTED"
)

func (s StepStatus) IsValid() bool {
	switch s {
	case StepPending, StepApproved, StepRejected:
		return true
	}
	return false
}

// ParseDecision accepts the caller-facing decision names.
// APPROVE/APPROVED and REJECT/REJECTED are both accepted.
func ParseDecision(s string) (StepStatus, error) {
	switch s {
	case "APPROVE", "APPROVED":
		return StepApproved, nil
	case "REJECT", "REJECTED":
		return StepRejected, nil
	}
	return "", dErrors.Newf(dErrors.CodeValidation, "decision must be APPROVE or REJECT, got %q", s)
}

// Step names one stage of the approval pipeline.
type Step string

const (
	StepValidation Step = "validation"
	StepApproval   Step = "approval"
	StepSignOff    Step = "sign_off"
)

// Steps lists the pipeline in the order it must be completed.
var Steps = []Step{StepValidation, StepApproval, StepSignOff}

// EntryStatus is derived from the three step statuses and is never stored.
type EntryStatus string

const (
	EntryPending  EntryStatus = "PENDING"
	EntryApproved EntryStatus = "APPROVED"
	EntryRejected EntryStatus = "REJECTED"
)
