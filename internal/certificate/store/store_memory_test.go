package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certledger/internal/certificate/models"
	"certledger/pkg/domain"
	"certledger/pkg/platform/sentinel"
)

func newCertificate(t *testing.T, hash string) models.Certificate {
	t.Helper()
	c, _, err := models.NewCertificate(domain.NewCertificateID(), hash, models.Attributes{
		HolderID:       "S-100",
		HolderName:     "Ada Lovelace",
		IssuerID:       "uni-1",
		CredentialName: "BSc Mathematics",
		Grade:          "First",
		IssueDate:      time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
	}, domain.Actor{ID: "issuer-1", Role: domain.RoleIssuer}, time.Now())
	require.NoError(t, err)
	return c
}

func TestInMemoryStore_Uniqueness(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	c := newCertificate(t, "aa")

	require.NoError(t, s.Create(ctx, c))
	assert.ErrorIs(t, s.Create(ctx, c), sentinel.ErrDuplicate, "same id")

	other := newCertificate(t, "aa")
	assert.ErrorIs(t, s.Create(ctx, other), sentinel.ErrDuplicate, "same content hash")

	got, err := s.FindByContentHash(ctx, "aa")
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)
	assert.Equal(t, 1, got.Version)
}

func TestInMemoryStore_UpdateAndTxIndex(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	c := newCertificate(t, "bb")
	require.NoError(t, s.Create(ctx, c))

	got, err := s.FindByID(ctx, c.ID)
	require.NoError(t, err)
	got.Status = models.StatusIssued
	got.AnchorRef = &models.AnchorRef{TxID: "0xtx"}
	require.NoError(t, s.Update(ctx, got))

	// stale writer loses
	assert.ErrorIs(t, s.Update(ctx, got), sentinel.ErrConflict)

	byTx, err := s.FindByTxID(ctx, "0xtx")
	require.NoError(t, err)
	assert.Equal(t, c.ID, byTx.ID)
	assert.Equal(t, 2, byTx.Version)

	_, err = s.FindByTxID(ctx, "0xother")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestInMemoryStore_VerificationCountSurvivesUpdate(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	c := newCertificate(t, "cc")
	require.NoError(t, s.Create(ctx, c))

	stale, err := s.FindByID(ctx, c.ID)
	require.NoError(t, err)
	require.NoError(t, s.IncrementVerificationCount(ctx, c.ID))
	require.NoError(t, s.IncrementVerificationCount(ctx, c.ID))

	require.NoError(t, s.Update(ctx, stale), "counter bumps do not change the version")
	got, err := s.FindByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.VerificationCount)

	assert.ErrorIs(t, s.IncrementVerificationCount(ctx, domain.NewCertificateID()), sentinel.ErrNotFound)
}
