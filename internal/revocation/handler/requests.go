package handler

import (
	"strings"

	approval "certledger/internal/approval/models"
	"certledger/internal/revocation/models"
	"certledger/pkg/domain"
	dErrors "certledger/pkg/domain-errors"
)

const (
	maxCommentsLength = 2000
	maxGroundsLength  = 4000
)

// InitiateRequest is the body of POST /revocations.
type InitiateRequest struct {
	CertificateID string   `json:"certificate_id"`
	Reason        string   `json:"reason"`
	Description   string   `json:"description"`
	Evidence      []string `json:"evidence,omitempty"`

	certID domain.CertificateID
	reason models.Reason
}

// Validate parses the identifiers. Description and evidence rules live on
// the model so every entry point applies them.
func (r *InitiateRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	id, err := domain.ParseCertificateID(strings.TrimSpace(r.CertificateID))
	if err != nil {
		return err
	}
	reason, err := models.ParseReason(r.Reason)
	if err != nil {
		return err
	}
	r.certID, r.reason = id, reason
	return nil
}

// DecisionRequest is the body of POST /revocations/{id}/decisions.
type DecisionRequest struct {
	Decision string `json:"decision"`
	Comments string `json:"comments"`

	decision approval.StepStatus
}

func (r *DecisionRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if len(r.Comments) > maxCommentsLength {
		return dErrors.Newf(dErrors.CodeValidation, "comments must be at most %d characters", maxCommentsLength)
	}
	decision, err := approval.ParseDecision(strings.ToUpper(strings.TrimSpace(r.Decision)))
	if err != nil {
		return err
	}
	r.decision = decision
	r.Comments = strings.TrimSpace(r.Comments)
	return nil
}

// AppealRequest is the body of POST /revocations/{id}/appeal.
type AppealRequest struct {
	Grounds string `json:"grounds"`
}

func (r *AppealRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.Grounds = strings.TrimSpace(r.Grounds)
	if r.Grounds == "" {
		return dErrors.New(dErrors.CodeValidation, "grounds are required")
	}
	if len(r.Grounds) > maxGroundsLength {
		return dErrors.Newf(dErrors.CodeValidation, "grounds must be at most %d bytes", maxGroundsLength)
	}
	return nil
}

// AppealDecisionRequest is the body of POST /revocations/{id}/appeal/decision.
// Outcome is GRANTED or UPHELD.
type AppealDecisionRequest struct {
	Outcome  string `json:"outcome"`
	Comments string `json:"comments"`

	grant bool
}

func (r *AppealDecisionRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	switch models.AppealOutcome(strings.ToUpper(strings.TrimSpace(r.Outcome))) {
	case models.AppealGranted:
		r.grant = true
	case models.AppealUpheld:
		r.grant = false
	default:
		return dErrors.New(dErrors.CodeValidation, "outcome must be GRANTED or UPHELD")
	}
	if len(r.Comments) > maxCommentsLength {
		return dErrors.Newf(dErrors.CodeValidation, "comments must be at most %d characters", maxCommentsLength)
	}
	r.Comments = strings.TrimSpace(r.Comments)
	return nil
}
