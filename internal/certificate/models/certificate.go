package models

import (
	"strings"
	"time"
	"unicode/utf8"

	"certledger/internal/audit"
	"certledger/pkg/domain"
	dErrors "certledger/pkg/domain-errors"
)

const maxAttributeLength = 256

// DefaultLedgerClaimTTL outlasts one full anchoring attempt: lookup,
// estimate, submit and the re-query after a timeout.
const DefaultLedgerClaimTTL = time.Minute

// AnchorRef is the ledger receipt recorded when a certificate is anchored.
type AnchorRef struct {
	TxID       string    `json:"tx_id"`
	BlockRef   string    `json:"block_ref"`
	FixedID    string    `json:"fixed_id"`
	AnchoredAt time.Time `json:"anchored_at"`
}

// LedgerClaim marks a ledger call in flight for a certificate. Issuance and
// revocation execution both take it, so a certificate never has two
// concurrent submissions. A claim older than its TTL is treated as abandoned.
type LedgerClaim struct {
	Token     string    `json:"token"`
	Purpose   string    `json:"purpose"`
	ClaimedAt time.Time `json:"claimed_at"`
}

// Attributes are the subject attributes captured at submission.
type Attributes struct {
	HolderID       string     `json:"holder_id"`
	HolderName     string     `json:"holder_name"`
	IssuerID       string     `json:"issuer_id"`
	CredentialName string     `json:"credential_name"`
	Grade          string     `json:"grade"`
	IssueDate      time.Time  `json:"issue_date"`
	ExpiryDate     *time.Time `json:"expiry_date,omitempty"`
	AuxiliaryRef   string     `json:"auxiliary_ref,omitempty"`
}

// Validate checks required-field completeness and basic shape.
func (a Attributes) Validate() error {
	required := []struct {
		name, value string
	}{
		{"holder_id", a.HolderID},
		{"holder_name", a.HolderName},
		{"issuer_id", a.IssuerID},
		{"credential_name", a.CredentialName},
		{"grade", a.Grade},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			return dErrors.Newf(dErrors.CodeValidation, "%s is required", f.name)
		}
		if len(f.value) > maxAttributeLength || !utf8.ValidString(f.value) {
			return dErrors.Newf(dErrors.CodeValidation, "%s must be valid text of at most %d bytes", f.name, maxAttributeLength)
		}
	}
	if len(a.AuxiliaryRef) > maxAttributeLength {
		return dErrors.Newf(dErrors.CodeValidation, "auxiliary_ref must be at most %d bytes", maxAttributeLength)
	}
	if a.IssueDate.IsZero() {
		return dErrors.New(dErrors.CodeValidation, "issue_date is required")
	}
	if a.ExpiryDate != nil && !a.ExpiryDate.After(a.IssueDate) {
		return dErrors.New(dErrors.CodeValidation, "expiry_date must be after issue_date")
	}
	return nil
}

// Normalize trims whitespace and moves dates to UTC.
func (a Attributes) Normalize() Attributes {
	a.HolderID = strings.TrimSpace(a.HolderID)
	a.HolderName = strings.TrimSpace(a.HolderName)
	a.IssuerID = strings.TrimSpace(a.IssuerID)
	a.CredentialName = strings.TrimSpace(a.CredentialName)
	a.Grade = strings.TrimSpace(a.Grade)
	a.AuxiliaryRef = strings.TrimSpace(a.AuxiliaryRef)
	a.IssueDate = a.IssueDate.UTC()
	if a.ExpiryDate != nil {
		exp := a.ExpiryDate.UTC()
		a.ExpiryDate = &exp
	}
	return a
}

// Payload is the canonical content that the content hash covers.
type Payload struct {
	HolderID       string `json:"holder_id"`
	HolderName     string `json:"holder_name"`
	IssuerID       string `json:"issuer_id"`
	CredentialName string `json:"credential_name"`
	Grade          string `json:"grade"`
	IssueDate      string `json:"issue_date"`
	ExpiryDate     string `json:"expiry_date,omitempty"`
}

func (a Attributes) Payload() Payload {
	p := Payload{
		HolderID:       a.HolderID,
		HolderName:     a.HolderName,
		IssuerID:       a.IssuerID,
		CredentialName: a.CredentialName,
		Grade:          a.Grade,
		IssueDate:      a.IssueDate.UTC().Format(time.DateOnly),
	}
	if a.ExpiryDate != nil {
		p.ExpiryDate = a.ExpiryDate.UTC().Format(time.DateOnly)
	}
	return p
}

// Certificate is the aggregate root of the lifecycle.
//
// Invariants:
//   - ID and ContentHash are immutable once assigned
//   - Status only changes through the transition methods below, each of which
//     checks the transition table and returns a new value plus an audit entry
//   - AnchorRef is set exactly when the certificate first reaches ISSUED and
//     is kept through revocation and reinstatement
//   - LedgerClaim is held by at most one caller and is cleared when the
//     ledger call it guards is recorded
//   - Version is owned by the store and used for optimistic concurrency
type Certificate struct {
	ID          domain.CertificateID `json:"id"`
	ContentHash string               `json:"content_hash"`
	Attributes
	Status            Status       `json:"status"`
	AnchorRef         *AnchorRef   `json:"anchor_ref,omitempty"`
	LedgerClaim       *LedgerClaim `json:"ledger_claim,omitempty"`
	VerificationCount int64        `json:"verification_count"`
	Version           int          `json:"version"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

// NewCertificate builds a PENDING_L1 certificate. contentHash must already be normalized.
func NewCertificate(id domain.CertificateID, contentHash string, attrs Attributes, actor domain.Actor, now time.Time) (Certificate, audit.Entry, error) {
	attrs = attrs.Normalize()
	if err := attrs.Validate(); err != nil {
		return Certificate{}, audit.Entry{}, err
	}
	if contentHash == "" {
		return Certificate{}, audit.Entry{}, dErrors.New(dErrors.CodeValidation, "content_hash is required")
	}
	c := Certificate{
		ID:          id,
		ContentHash: contentHash,
		Attributes:  attrs,
		Status:      StatusPendingL1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	entry := audit.NewEntry(id, audit.SubjectCertificate, id.String(), audit.ActionSubmitted, actor, now).
		WithStatus("", string(StatusPendingL1))
	return c, entry, nil
}

func (c Certificate) IsIssued() bool { return c.Status == StatusIssued }

// IsAnchored reports whether the certificate carries a ledger receipt.
func (c Certificate) IsAnchored() bool { return c.AnchorRef != nil && c.AnchorRef.TxID != "" }

func (c Certificate) transition(to Status, action audit.Action, actor domain.Actor, comments string, now time.Time) (Certificate, audit.Entry, error) {
	if !c.Status.CanTransitionTo(to) {
		return c, audit.Entry{}, invalidTransition(c.Status, to)
	}
	next := c
	next.Status = to
	next.UpdatedAt = now
	entry := audit.NewEntry(c.ID, audit.SubjectCertificate, c.ID.String(), action, actor, now).
		WithStatus(string(c.Status), string(to)).
		WithComments(comments)
	return next, entry, nil
}

// Advance moves PENDING_L1 to PENDING_L2 and PENDING_L2 to PENDING_L3.
func (c Certificate) Advance(actor domain.Actor, comments string, now time.Time) (Certificate, audit.Entry, error) {
	var to Status
	var action audit.Action
	switch c.Status {
	case StatusPendingL1:
		to, action = StatusPendingL2, audit.ActionValidated
	case StatusPendingL2:
		to, action = StatusPendingL3, audit.ActionApproved
	case StatusPendingL3, StatusIssued, StatusRejected, StatusNeedsCorrection, StatusRevoked, StatusExpired:
		return c, audit.Entry{}, invalidTransition(c.Status, nextPending(c.Status))
	}
	return c.transition(to, action, actor, comments, now)
}

func nextPending(s Status) Status {
	if s == StatusPendingL3 {
		return StatusIssued
	}
	return StatusPendingL2
}

// Reject ends the current approval cycle.
func (c Certificate) Reject(actor domain.Actor, reason string, now time.Time) (Certificate, audit.Entry, error) {
	return c.transition(StatusRejected, audit.ActionRejected, actor, reason, now)
}

// Revert pushes a pending certificate back for correction.
func (c Certificate) Revert(actor domain.Actor, comments string, now time.Time) (Certificate, audit.Entry, error) {
	return c.transition(StatusNeedsCorrection, audit.ActionReverted, actor, comments, now)
}

// Resubmit restarts approval from PENDING_L1.
func (c Certificate) Resubmit(actor domain.Actor, now time.Time) (Certificate, audit.Entry, error) {
	return c.transition(StatusPendingL1, audit.ActionResubmitted, actor, "", now)
}

// Issue records the ledger receipt and moves PENDING_L3 to ISSUED.
func (c Certificate) Issue(ref AnchorRef, actor domain.Actor, now time.Time) (Certificate, audit.Entry, error) {
	if ref.TxID == "" {
		return c, audit.Entry{}, dErrors.New(dErrors.CodeInvariantViolation, "a certificate cannot be issued without a ledger transaction")
	}
	next, entry, err := c.transition(StatusIssued, audit.ActionIssued, actor, "", now)
	if err != nil {
		return c, audit.Entry{}, err
	}
	next.AnchorRef = &ref
	next.LedgerClaim = nil
	entry = entry.WithComments("tx " + ref.TxID)
	return next, entry, nil
}

// Revoke moves ISSUED to REVOKED. Only the revocation workflow calls this.
func (c Certificate) Revoke(actor domain.Actor, revocationID domain.RevocationID, now time.Time) (Certificate, audit.Entry, error) {
	next, entry, err := c.transition(StatusRevoked, audit.ActionRevoked, actor, "revocation "+revocationID.String(), now)
	if err != nil {
		return c, audit.Entry{}, err
	}
	next.LedgerClaim = nil
	return next, entry, nil
}

// Reinstate returns a REVOKED certificate to ISSUED after a granted appeal.
func (c Certificate) Reinstate(actor domain.Actor, revocationID domain.RevocationID, now time.Time) (Certificate, audit.Entry, error) {
	return c.transition(StatusIssued, audit.ActionReinstated, actor, "appeal granted on revocation "+revocationID.String(), now)
}

// ClaimLedger takes the in-flight ledger claim. It fails with
// CodeAnchorPending while another unexpired claim is held.
func (c Certificate) ClaimLedger(token, purpose string, now time.Time, ttl time.Duration) (Certificate, error) {
	if c.LedgerClaim != nil && now.Before(c.LedgerClaim.ClaimedAt.Add(ttl)) {
		return c, dErrors.Newf(dErrors.CodeAnchorPending,
			"a ledger call for this certificate is already in flight (%s); retry later", c.LedgerClaim.Purpose)
	}
	next := c
	next.LedgerClaim = &LedgerClaim{Token: token, Purpose: purpose, ClaimedAt: now}
	return next, nil
}

// ReleaseLedger drops the claim if token still owns it. ok is false when
// nothing changed.
func (c Certificate) ReleaseLedger(token string) (next Certificate, ok bool) {
	if c.LedgerClaim == nil || c.LedgerClaim.Token != token {
		return c, false
	}
	next = c
	next.LedgerClaim = nil
	return next, true
}

// IsExpiredAt reports whether an issued certificate is past its expiry date.
func (c Certificate) IsExpiredAt(now time.Time) bool {
	return c.Status == StatusIssued && c.ExpiryDate != nil && now.After(*c.ExpiryDate)
}

// ExpireIfDue applies the lazy ISSUED -> EXPIRED transition. ok is false when
// nothing changed.
func (c Certificate) ExpireIfDue(now time.Time) (next Certificate, entry audit.Entry, ok bool) {
	if !c.IsExpiredAt(now) {
		return c, audit.Entry{}, false
	}
	system := domain.SystemActor()
	next, entry, err := c.transition(StatusExpired, audit.ActionExpired, system, "", now)
	if err != nil {
		return c, audit.Entry{}, false
	}
	return next, entry, true
}

// RecordVerification counts a successful public lookup.
func (c Certificate) RecordVerification() Certificate {
	c.VerificationCount++
	return c
}
