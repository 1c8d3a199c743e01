package models

import (
	"fmt"

	approval "certledger/internal/approval/models"
	dErrors "certledger/pkg/domain-errors"
)

// Status is the certificate lifecycle state. It is a closed set: values come
// from the constants below or from ParseStatus.
type Status string

const (
	StatusPendingL1       Status = "PENDING_L1"
	StatusPendingL2       Status = "PENDING_L2"
	StatusPendingL3       Status = "PENDING_L3"
	StatusIssued          Status = "ISSUED"
	StatusRejected        Status = "REJECTED"
	StatusNeedsCorrection Status = "NEEDS_CORRECTION"
	StatusRevoked         Status = "REVOKED"
	StatusExpired         Status = "EXPIRED"
)

// AllStatuses lists every lifecycle state.
var AllStatuses = []Status{
	StatusPendingL1, StatusPendingL2, StatusPendingL3,
	StatusIssued, StatusRejected, StatusNeedsCorrection,
	StatusRevoked, StatusExpired,
}

// transitions is the complete legal transition table.
var transitions = map[Status][]Status{
	StatusPendingL1:       {StatusPendingL2, StatusRejected, StatusNeedsCorrection},
	StatusPendingL2:       {StatusPendingL3, StatusRejected, StatusNeedsCorrection},
	StatusPendingL3:       {StatusIssued, StatusRejected, StatusNeedsCorrection},
	StatusRejected:        {StatusPendingL1},
	StatusNeedsCorrection: {StatusPendingL1},
	StatusIssued:          {StatusRevoked, StatusExpired},
	StatusRevoked:         {StatusIssued},
	StatusExpired:         nil,
}

func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if _, ok := transitions[st]; !ok {
		return "", dErrors.Newf(dErrors.CodeInvalidInput, "unknown certificate status %q", s)
	}
	return st, nil
}

func (s Status) String() string { return string(s) }

// CanTransitionTo reports whether next is a legal successor of s.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsPending is true while the certificate is inside the approval pipeline.
func (s Status) IsPending() bool {
	switch s {
	case StatusPendingL1, StatusPendingL2, StatusPendingL3:
		return true
	case StatusIssued, StatusRejected, StatusNeedsCorrection, StatusRevoked, StatusExpired:
		return false
	}
	return false
}

// PendingStep maps a pending status to the approval step it is waiting on.
func (s Status) PendingStep() (approval.Step, bool) {
	switch s {
	case StatusPendingL1:
		return approval.StepValidation, true
	case StatusPendingL2:
		return approval.StepApproval, true
	case StatusPendingL3:
		return approval.StepSignOff, true
	case StatusIssued, StatusRejected, StatusNeedsCorrection, StatusRevoked, StatusExpired:
		return "", false
	}
	return "", false
}

// TransitionError names the current and requested state of a refused transition.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot transition certificate from %s to %s", e.From, e.To)
}

func invalidTransition(from, to Status) error {
	te := &TransitionError{From: from, To: to}
	return dErrors.Wrap(te, dErrors.CodeInvalidTransition, te.Error())
}
