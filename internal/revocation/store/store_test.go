package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	approval "certledger/internal/approval/models"
	"certledger/internal/revocation/models"
	"certledger/pkg/domain"
	"certledger/pkg/platform/sentinel"
)

var registrar = domain.Actor{ID: "reg-1", Role: domain.RoleRegistrar}

func newRecord(t *testing.T, certID domain.CertificateID) models.Record {
	t.Helper()
	r, _, err := models.NewRecord(domain.NewRevocationID(), models.Request{
		CertificateID: certID,
		Reason:        models.ReasonDataError,
		Description:   "grade was recorded against the wrong module",
		Evidence:      []string{"ticket-88"},
	}, registrar, time.Now())
	require.NoError(t, err)
	return r
}

func TestInMemoryStore_OneOpenRecordPerCertificate(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	certID := domain.NewCertificateID()

	first := newRecord(t, certID)
	require.NoError(t, s.Create(ctx, first))
	assert.ErrorIs(t, s.Create(ctx, newRecord(t, certID)), sentinel.ErrDuplicate)

	open, err := s.FindOpenByCertificate(ctx, certID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, open.ID)

	stored, err := s.FindByID(ctx, first.ID)
	require.NoError(t, err)
	rejected, _, err := stored.Decide(models.TierRegistrar, approval.StepRejected, "not enough evidence", registrar, time.Now())
	require.NoError(t, err)
	require.NoError(t, s.Update(ctx, rejected))

	_, err = s.FindOpenByCertificate(ctx, certID)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
	require.NoError(t, s.Create(ctx, newRecord(t, certID)), "a closed record does not block a new one")

	all, err := s.ListByCertificate(ctx, certID)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestInMemoryStore_UpdateChecksVersion(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	r := newRecord(t, domain.NewCertificateID())
	require.NoError(t, s.Create(ctx, r))

	stored, err := s.FindByID(ctx, r.ID)
	require.NoError(t, err)
	require.NoError(t, s.Update(ctx, stored))
	assert.ErrorIs(t, s.Update(ctx, stored), sentinel.ErrConflict)
}

func TestPostgresStore_CreateOpenDuplicate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO revocations").
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err = NewPostgres(db).Create(context.Background(), newRecord(t, domain.NewCertificateID()))
	assert.ErrorIs(t, err, sentinel.ErrDuplicate)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindByID(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	id := domain.NewRevocationID()
	certID := domain.NewCertificateID()
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{
		"id", "certificate_id", "reason", "description", "evidence", "initiated_by",
		"department", "registrar", "super_authority", "execution", "appeal",
		"version", "created_at", "updated_at",
	}).AddRow(id.String(), certID.String(), "FRAUDULENT_CREDENTIALS",
		"transcript was altered before submission", "{case-1,case-2}", "reg-1",
		[]byte(`{"status":"APPROVED","actor":"head-1"}`),
		[]byte(`{"status":"APPROVED","actor":"reg-1"}`),
		[]byte(`{"status":"APPROVED","actor":"root-1"}`),
		[]byte(`{"tx_id":"0xrev","block_ref":"9","executed_at":"2026-05-02T00:00:00Z","executed_by":"root-1"}`),
		nil,
		4, now, now)

	mock.ExpectQuery("SELECT (.+) FROM revocations").
		WithArgs(uuid.UUID(id)).
		WillReturnRows(rows)

	r, err := NewPostgres(db).FindByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, certID, r.CertificateID)
	assert.Equal(t, models.ReasonFraudulentCredential, r.Reason)
	assert.Equal(t, []string{"case-1", "case-2"}, r.Evidence)
	assert.Equal(t, models.StatusExecuted, r.Status())
	assert.Equal(t, "0xrev", r.Execution.TxID)
	assert.Nil(t, r.Appeal)
	assert.Equal(t, 4, r.Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindOpenNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	certID := domain.NewCertificateID()
	mock.ExpectQuery("SELECT (.+) FROM revocations").
		WithArgs(uuid.UUID(certID)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err = NewPostgres(db).FindOpenByCertificate(context.Background(), certID)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateVersionMismatch(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	r := newRecord(t, domain.NewCertificateID())
	r.Version = 2
	mock.ExpectExec("UPDATE revocations").
		WithArgs(uuid.UUID(r.ID), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), "PENDING_APPROVAL", sqlmock.AnyArg(), 2).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = NewPostgres(db).Update(context.Background(), r)
	assert.ErrorIs(t, err, sentinel.ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}
