package models

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certledger/internal/audit"
	"certledger/pkg/domain"
	dErrors "certledger/pkg/domain-errors"
)

var (
	issuer = domain.Actor{ID: "issuer-1", Role: domain.RoleIssuer}
	head   = domain.Actor{ID: "head-1", Role: domain.RoleDepartmentHead}
	now    = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
)

func validAttributes() Attributes {
	return Attributes{
		HolderID:       "S1",
		HolderName:     "Ada Lovelace",
		IssuerID:       "uni-1",
		CredentialName: "CS101",
		Grade:          "A",
		IssueDate:      time.Date(2026, 5, 30, 0, 0, 0, 0, time.UTC),
	}
}

func newPending(t *testing.T) Certificate {
	t.Helper()
	c, _, err := NewCertificate(domain.NewCertificateID(), "h1", validAttributes(), issuer, now)
	require.NoError(t, err)
	return c
}

func TestNewCertificate(t *testing.T) {
	t.Run("starts pending level 1", func(t *testing.T) {
		c, entry, err := NewCertificate(domain.NewCertificateID(), "h1", validAttributes(), issuer, now)
		require.NoError(t, err)
		assert.Equal(t, StatusPendingL1, c.Status)
		assert.Equal(t, audit.ActionSubmitted, entry.Action)
		assert.Equal(t, "PENDING_L1", entry.NewStatus)
		assert.Nil(t, c.AnchorRef)
	})

	t.Run("rejects missing fields", func(t *testing.T) {
		attrs := validAttributes()
		attrs.CredentialName = "  "
		_, _, err := NewCertificate(domain.NewCertificateID(), "h1", attrs, issuer, now)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("rejects expiry before issue", func(t *testing.T) {
		attrs := validAttributes()
		before := attrs.IssueDate.Add(-time.Hour)
		attrs.ExpiryDate = &before
		_, _, err := NewCertificate(domain.NewCertificateID(), "h1", attrs, issuer, now)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func TestTransitionTableIsComplete(t *testing.T) {
	for _, s := range AllStatuses {
		_, err := ParseStatus(string(s))
		assert.NoError(t, err, "status %s must be parseable", s)
	}
	_, err := ParseStatus("ACTIVE")
	assert.Error(t, err)
}

func TestLegalTransitions(t *testing.T) {
	legal := map[Status][]Status{
		StatusPendingL1:       {StatusPendingL2, StatusRejected, StatusNeedsCorrection},
		StatusPendingL2:       {StatusPendingL3, StatusRejected, StatusNeedsCorrection},
		StatusPendingL3:       {StatusIssued, StatusRejected, StatusNeedsCorrection},
		StatusRejected:        {StatusPendingL1},
		StatusNeedsCorrection: {StatusPendingL1},
		StatusIssued:          {StatusRevoked, StatusExpired},
		StatusRevoked:         {StatusIssued},
	}
	for _, from := range AllStatuses {
		for _, to := range AllStatuses {
			want := false
			for _, allowed := range legal[from] {
				if allowed == to {
					want = true
				}
			}
			assert.Equal(t, want, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
}

func TestApprovalProgression(t *testing.T) {
	c := newPending(t)

	c, entry, err := c.Advance(head, "", now)
	require.NoError(t, err)
	assert.Equal(t, StatusPendingL2, c.Status)
	assert.Equal(t, "PENDING_L1", entry.PreviousStatus)

	c, _, err = c.Advance(head, "", now)
	require.NoError(t, err)
	assert.Equal(t, StatusPendingL3, c.Status)

	_, _, err = c.Advance(head, "", now)
	var te *TransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, StatusPendingL3, te.From)
	assert.Equal(t, StatusIssued, te.To)
}

func TestIssue(t *testing.T) {
	c := newPending(t)

	_, _, err := c.Issue(AnchorRef{TxID: "0xabc"}, head, now)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidTransition), "cannot issue from PENDING_L1")

	c.Status = StatusPendingL3
	_, _, err = c.Issue(AnchorRef{}, head, now)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))

	issued, entry, err := c.Issue(AnchorRef{TxID: "0xabc", BlockRef: "42", AnchoredAt: now}, head, now)
	require.NoError(t, err)
	assert.Equal(t, StatusIssued, issued.Status)
	assert.Equal(t, "0xabc", issued.AnchorRef.TxID)
	assert.Equal(t, audit.ActionIssued, entry.Action)
	assert.Nil(t, c.AnchorRef, "receiver untouched")
}

func TestRevokeAndReinstate(t *testing.T) {
	c := newPending(t)
	revID := domain.NewRevocationID()

	_, _, err := c.Revoke(head, revID, now)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidTransition))

	c.Status = StatusIssued
	revoked, _, err := c.Revoke(head, revID, now)
	require.NoError(t, err)
	assert.Equal(t, StatusRevoked, revoked.Status)

	reinstated, entry, err := revoked.Reinstate(head, revID, now)
	require.NoError(t, err)
	assert.Equal(t, StatusIssued, reinstated.Status)
	assert.Equal(t, audit.ActionReinstated, entry.Action)
}

func TestExpireIfDue(t *testing.T) {
	c := newPending(t)
	exp := now.Add(24 * time.Hour)
	c.ExpiryDate = &exp
	c.Status = StatusIssued

	_, _, ok := c.ExpireIfDue(now)
	assert.False(t, ok)

	expired, entry, ok := c.ExpireIfDue(exp.Add(time.Second))
	require.True(t, ok)
	assert.Equal(t, StatusExpired, expired.Status)
	assert.Equal(t, audit.ActionExpired, entry.Action)

	pending := newPending(t)
	pending.ExpiryDate = &exp
	_, _, ok = pending.ExpireIfDue(exp.Add(time.Hour))
	assert.False(t, ok, "only issued certificates expire")
}

func TestRevertAndResubmit(t *testing.T) {
	c := newPending(t)
	reverted, _, err := c.Revert(head, "fix name", now)
	require.NoError(t, err)
	assert.Equal(t, StatusNeedsCorrection, reverted.Status)

	resubmitted, _, err := reverted.Resubmit(issuer, now)
	require.NoError(t, err)
	assert.Equal(t, StatusPendingL1, resubmitted.Status)

	rejected, _, err := c.Reject(head, "bad", now)
	require.NoError(t, err)
	_, _, err = rejected.Revert(head, "x", now)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidTransition))
}

func TestPayloadIsStable(t *testing.T) {
	a := validAttributes()
	b := validAttributes()
	b.IssueDate = b.IssueDate.Add(3 * time.Hour)
	assert.Equal(t, a.Payload(), b.Payload(), "payload keeps only the calendar date")
}

func TestLedgerClaim(t *testing.T) {
	ttl := time.Minute

	t.Run("one holder at a time", func(t *testing.T) {
		claimed, err := newPending(t).ClaimLedger("a", "issue", now, ttl)
		require.NoError(t, err)
		require.NotNil(t, claimed.LedgerClaim)
		assert.Equal(t, "a", claimed.LedgerClaim.Token)

		_, err = claimed.ClaimLedger("b", "issue", now.Add(30*time.Second), ttl)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeAnchorPending))
	})

	t.Run("an abandoned claim can be taken over", func(t *testing.T) {
		claimed, err := newPending(t).ClaimLedger("a", "issue", now, ttl)
		require.NoError(t, err)
		taken, err := claimed.ClaimLedger("b", "issue", now.Add(ttl), ttl)
		require.NoError(t, err)
		assert.Equal(t, "b", taken.LedgerClaim.Token)
	})

	t.Run("only the owner releases", func(t *testing.T) {
		claimed, err := newPending(t).ClaimLedger("a", "issue", now, ttl)
		require.NoError(t, err)
		_, ok := claimed.ReleaseLedger("b")
		assert.False(t, ok)
		released, ok := claimed.ReleaseLedger("a")
		assert.True(t, ok)
		assert.Nil(t, released.LedgerClaim)
	})

	t.Run("issuing clears the claim", func(t *testing.T) {
		c := newPending(t)
		c.Status = StatusPendingL3
		claimed, err := c.ClaimLedger("a", "issue", now, ttl)
		require.NoError(t, err)
		issued, _, err := claimed.Issue(AnchorRef{TxID: "0xtx"}, head, now)
		require.NoError(t, err)
		assert.Nil(t, issued.LedgerClaim)
	})
}
