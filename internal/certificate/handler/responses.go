package handler

import (
	"time"

	"certledger/internal/anchor"
	approval "certledger/internal/approval/models"
	"certledger/internal/audit"
	"certledger/internal/certificate/models"
	"certledger/internal/certificate/service"
)

// SubmitResponse is the HTTP response for POST /certificates.
type SubmitResponse struct {
	CertificateID string `json:"certificate_id"`
	Status        string `json:"status"`
	ContentHash   string `json:"content_hash"`
}

func FromSubmitted(c *models.Certificate) *SubmitResponse {
	return &SubmitResponse{
		CertificateID: c.ID.String(),
		Status:        c.Status.String(),
		ContentHash:   c.ContentHash,
	}
}

// CertificateResponse is the full certificate view.
type CertificateResponse struct {
	ID                string           `json:"id"`
	ContentHash       string           `json:"content_hash"`
	HolderID          string           `json:"holder_id"`
	HolderName        string           `json:"holder_name"`
	IssuerID          string           `json:"issuer_id"`
	CredentialName    string           `json:"credential_name"`
	Grade             string           `json:"grade"`
	IssueDate         string           `json:"issue_date"`
	ExpiryDate        string           `json:"expiry_date,omitempty"`
	AuxiliaryRef      string           `json:"auxiliary_ref,omitempty"`
	Status            string           `json:"status"`
	Anchor            *ReceiptResponse `json:"anchor,omitempty"`
	VerificationCount int64            `json:"verification_count"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// ReceiptResponse is the ledger receipt of an anchored certificate.
type ReceiptResponse struct {
	TxID       string    `json:"tx_id"`
	BlockRef   string    `json:"block_ref"`
	FixedID    string    `json:"fixed_id"`
	AnchoredAt time.Time `json:"anchored_at"`
}

func FromCertificate(c *models.Certificate) *CertificateResponse {
	if c == nil {
		return nil
	}
	resp := &CertificateResponse{
		ID:                c.ID.String(),
		ContentHash:       c.ContentHash,
		HolderID:          c.HolderID,
		HolderName:        c.HolderName,
		IssuerID:          c.IssuerID,
		CredentialName:    c.CredentialName,
		Grade:             c.Grade,
		IssueDate:         c.IssueDate.Format(time.DateOnly),
		AuxiliaryRef:      c.AuxiliaryRef,
		Status:            c.Status.String(),
		VerificationCount: c.VerificationCount,
		CreatedAt:         c.CreatedAt,
		UpdatedAt:         c.UpdatedAt,
	}
	if c.ExpiryDate != nil {
		resp.ExpiryDate = c.ExpiryDate.Format(time.DateOnly)
	}
	if c.AnchorRef != nil {
		resp.Anchor = &ReceiptResponse{
			TxID:       c.AnchorRef.TxID,
			BlockRef:   c.AnchorRef.BlockRef,
			FixedID:    c.AnchorRef.FixedID,
			AnchoredAt: c.AnchorRef.AnchoredAt,
		}
	}
	return resp
}

func fromReceipt(r *anchor.Receipt) *ReceiptResponse {
	if r == nil {
		return nil
	}
	return &ReceiptResponse{
		TxID:       r.TxID,
		BlockRef:   r.BlockRef,
		FixedID:    r.FixedID,
		AnchoredAt: r.AnchoredAt,
	}
}

// ProcessResponse is the HTTP response for POST /certificates/process.
type ProcessResponse struct {
	CertificateID  string               `json:"certificate_id"`
	Status         string               `json:"status"`
	ApprovalStatus string               `json:"approval_status"`
	Steps          map[string]StepState `json:"steps"`
	Anchor         *ReceiptResponse     `json:"anchor,omitempty"`
}

// StepState is one approval step as seen by the caller.
type StepState struct {
	Status    string     `json:"status"`
	Actor     string     `json:"actor,omitempty"`
	Comments  string     `json:"comments,omitempty"`
	DecidedAt *time.Time `json:"decided_at,omitempty"`
}

func FromProcessed(r *service.ProcessResult) *ProcessResponse {
	return &ProcessResponse{
		CertificateID:  r.Certificate.ID.String(),
		Status:         r.Certificate.Status.String(),
		ApprovalStatus: string(r.Entry.Status()),
		Steps: map[string]StepState{
			string(approval.StepValidation): stepState(r.Entry.Validation),
			string(approval.StepApproval):   stepState(r.Entry.Approval),
			string(approval.StepSignOff):    stepState(r.Entry.SignOff),
		},
		Anchor: fromReceipt(r.Receipt),
	}
}

func stepState(rec approval.StepRecord) StepState {
	return StepState{
		Status:    string(rec.Status),
		Actor:     rec.Actor.String(),
		Comments:  rec.Comments,
		DecidedAt: rec.DecidedAt,
	}
}

// AnchorResponse is the HTTP response for POST /certificates/{id}/anchor.
type AnchorResponse struct {
	CertificateID string           `json:"certificate_id"`
	Status        string           `json:"status"`
	Anchor        *ReceiptResponse `json:"anchor"`
}

// VerifyResponse is the public verification result. TamperedDetected is null
// when no content was available to compare.
type VerifyResponse struct {
	Query            string               `json:"query"`
	IsValid          bool                 `json:"is_valid"`
	TamperedDetected *bool                `json:"tampered_detected"`
	Integrity        string               `json:"integrity"`
	Status           string               `json:"status,omitempty"`
	Reason           string               `json:"reason,omitempty"`
	Certificate      *CertificateResponse `json:"certificate,omitempty"`
}

func FromVerification(r *service.VerificationResult) *VerifyResponse {
	resp := &VerifyResponse{
		Query:            r.Query,
		IsValid:          r.IsValid,
		TamperedDetected: r.TamperedDetected(),
		Integrity:        string(r.Integrity.Verdict),
		Reason:           r.Reason,
		Certificate:      FromCertificate(r.Certificate),
	}
	if r.Certificate != nil {
		resp.Status = r.Certificate.Status.String()
	}
	return resp
}

// AuditEntryResponse is one entry of a certificate's audit history.
type AuditEntryResponse struct {
	ID             string    `json:"id"`
	Subject        string    `json:"subject"`
	SubjectID      string    `json:"subject_id,omitempty"`
	Action         string    `json:"action"`
	Actor          string    `json:"actor"`
	Role           string    `json:"role,omitempty"`
	PreviousStatus string    `json:"previous_status,omitempty"`
	NewStatus      string    `json:"new_status,omitempty"`
	Comments       string    `json:"comments,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// AuditHistoryResponse is the HTTP response for GET /certificates/{id}/audit.
type AuditHistoryResponse struct {
	CertificateID string               `json:"certificate_id"`
	Entries       []AuditEntryResponse `json:"entries"`
}

func FromHistory(certID string, entries []audit.Entry) *AuditHistoryResponse {
	resp := &AuditHistoryResponse{CertificateID: certID, Entries: make([]AuditEntryResponse, 0, len(entries))}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, AuditEntryResponse{
			ID:             e.ID.String(),
			Subject:        string(e.Subject),
			SubjectID:      e.SubjectID,
			Action:         string(e.Action),
			Actor:          e.Actor.String(),
			Role:           e.Role.String(),
			PreviousStatus: e.PreviousStatus,
			NewStatus:      e.NewStatus,
			Comments:       e.Comments,
			Timestamp:      e.Timestamp,
		})
	}
	return resp
}
