package handler

import (
	"encoding/base64"
	"strings"
	"time"

	approval "certledger/internal/approval/models"
	"certledger/internal/certificate/models"
	"certledger/pkg/domain"
	dErrors "certledger/pkg/domain-errors"
)

const (
	maxCommentsLength  = 2000
	maxSignatureLength = 4096
)

// SubmitRequest is the body of POST /certificates.
type SubmitRequest struct {
	HolderID       string  `json:"holder_id"`
	HolderName     string  `json:"holder_name"`
	IssuerID       string  `json:"issuer_id"`
	CredentialName string  `json:"credential_name"`
	Grade          string  `json:"grade"`
	IssueDate      string  `json:"issue_date"`
	ExpiryDate     *string `json:"expiry_date,omitempty"`
	AuxiliaryRef   string  `json:"auxiliary_ref,omitempty"`
	ContentHash    string  `json:"content_hash,omitempty"`
	// Content is the base64-encoded certificate document.
	Content string `json:"content,omitempty"`

	attrs   models.Attributes
	content []byte
}

func (r *SubmitRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	issued, err := parseDate("issue_date", r.IssueDate)
	if err != nil {
		return err
	}
	r.attrs = models.Attributes{
		HolderID:       r.HolderID,
		HolderName:     r.HolderName,
		IssuerID:       r.IssuerID,
		CredentialName: r.CredentialName,
		Grade:          r.Grade,
		IssueDate:      issued,
		AuxiliaryRef:   r.AuxiliaryRef,
	}
	if r.ExpiryDate != nil && strings.TrimSpace(*r.ExpiryDate) != "" {
		expiry, err := parseDate("expiry_date", *r.ExpiryDate)
		if err != nil {
			return err
		}
		r.attrs.ExpiryDate = &expiry
	}
	r.attrs = r.attrs.Normalize()
	if err := r.attrs.Validate(); err != nil {
		return err
	}
	if r.Content != "" {
		raw, err := base64.StdEncoding.DecodeString(r.Content)
		if err != nil {
			return dErrors.New(dErrors.CodeValidation, "content must be base64 encoded")
		}
		r.content = raw
	}
	r.ContentHash = strings.TrimSpace(r.ContentHash)
	return nil
}

func (r *SubmitRequest) Attributes() models.Attributes { return r.attrs }

func (r *SubmitRequest) DecodedContent() []byte { return r.content }

func parseDate(field, v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, dErrors.Newf(dErrors.CodeValidation, "%s is required", field)
	}
	if t, err := time.Parse(time.DateOnly, v); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, dErrors.Newf(dErrors.CodeValidation, "%s must be a date (YYYY-MM-DD)", field)
}

// ProcessRequest is the body of POST /certificates/process.
type ProcessRequest struct {
	CertificateID string `json:"certificate_id"`
	Action        string `json:"action"`
	Comments      string `json:"comments"`
	Signature     string `json:"signature,omitempty"`

	certID   domain.CertificateID
	decision approval.StepStatus
}

func (r *ProcessRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if len(r.Comments) > maxCommentsLength {
		return dErrors.Newf(dErrors.CodeValidation, "comments must be at most %d characters", maxCommentsLength)
	}
	if len(r.Signature) > maxSignatureLength {
		return dErrors.Newf(dErrors.CodeValidation, "signature must be at most %d characters", maxSignatureLength)
	}
	id, err := domain.ParseCertificateID(strings.TrimSpace(r.CertificateID))
	if err != nil {
		return err
	}
	r.certID = id
	decision, err := approval.ParseDecision(strings.ToUpper(strings.TrimSpace(r.Action)))
	if err != nil {
		return err
	}
	r.decision = decision
	r.Comments = strings.TrimSpace(r.Comments)
	r.Signature = strings.TrimSpace(r.Signature)
	return nil
}

// RevertRequest is the body of POST /certificates/{id}/revert.
type RevertRequest struct {
	Comments string `json:"comments"`
}

func (r *RevertRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.Comments = strings.TrimSpace(r.Comments)
	if r.Comments == "" {
		return dErrors.New(dErrors.CodeValidation, "comments are required")
	}
	if len(r.Comments) > maxCommentsLength {
		return dErrors.Newf(dErrors.CodeValidation, "comments must be at most %d characters", maxCommentsLength)
	}
	return nil
}

// VerificationLogRequest is the body of POST /certificates/verification-log.
type VerificationLogRequest struct {
	Query         string `json:"query"`
	CertificateID string `json:"certificate_id,omitempty"`
	Outcome       string `json:"outcome"`
}

func (r *VerificationLogRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.Query = strings.TrimSpace(r.Query)
	if r.Query == "" && r.CertificateID == "" {
		return dErrors.New(dErrors.CodeValidation, "query or certificate_id is required")
	}
	if len(r.Query) > 256 || len(r.CertificateID) > 64 || len(r.Outcome) > 32 {
		return dErrors.New(dErrors.CodeValidation, "verification log fields are too long")
	}
	return nil
}
