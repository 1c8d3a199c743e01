package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"certledger/internal/revocation/models"
	"certledger/pkg/domain"
	"certledger/pkg/platform/sentinel"
	txcontext "certledger/pkg/platform/tx"
)

const uniqueViolation = "23505"

// PostgresStore persists records in the revocations table. Tier decisions,
// the execution receipt, and the appeal are JSONB; status is denormalized so
// the partial unique index on open revocations can enforce one per
// certificate.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) conn(ctx context.Context) dbConn {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const selectColumns = `
	SELECT id, certificate_id, reason, description, evidence, initiated_by,
		   department, registrar, super_authority, execution, appeal,
		   version, created_at, updated_at
	FROM revocations
`

type recordColumns struct {
	department, registrar, superAuthority []byte
	execution, appeal                     []byte
}

func marshalRecord(r models.Record) (recordColumns, error) {
	var (
		cols recordColumns
		err  error
	)
	if cols.department, err = json.Marshal(r.Department); err != nil {
		return cols, fmt.Errorf("marshal department tier: %w", err)
	}
	if cols.registrar, err = json.Marshal(r.Registrar); err != nil {
		return cols, fmt.Errorf("marshal registrar tier: %w", err)
	}
	if cols.superAuthority, err = json.Marshal(r.SuperAuthority); err != nil {
		return cols, fmt.Errorf("marshal super authority tier: %w", err)
	}
	if r.Execution != nil {
		if cols.execution, err = json.Marshal(r.Execution); err != nil {
			return cols, fmt.Errorf("marshal execution: %w", err)
		}
	}
	if r.Appeal != nil {
		if cols.appeal, err = json.Marshal(r.Appeal); err != nil {
			return cols, fmt.Errorf("marshal appeal: %w", err)
		}
	}
	return cols, nil
}

func (s *PostgresStore) Create(ctx context.Context, r models.Record) error {
	cols, err := marshalRecord(r)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO revocations (
			id, certificate_id, reason, description, evidence, initiated_by,
			department, registrar, super_authority, execution, appeal,
			status, version, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 1, $13, $14)
	`
	_, err = s.conn(ctx).ExecContext(ctx, query,
		uuid.UUID(r.ID), uuid.UUID(r.CertificateID), string(r.Reason), r.Description,
		pq.Array(r.Evidence), string(r.InitiatedBy),
		cols.department, cols.registrar, cols.superAuthority, cols.execution, cols.appeal,
		string(r.Status()), r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return sentinel.ErrDuplicate
		}
		return fmt.Errorf("insert revocation: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id domain.RevocationID) (models.Record, error) {
	row := s.conn(ctx).QueryRowContext(ctx, selectColumns+` WHERE id = $1`, uuid.UUID(id))
	r, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Record{}, sentinel.ErrNotFound
		}
		return models.Record{}, fmt.Errorf("find revocation: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) FindOpenByCertificate(ctx context.Context, certID domain.CertificateID) (models.Record, error) {
	row := s.conn(ctx).QueryRowContext(ctx,
		selectColumns+` WHERE certificate_id = $1 AND status IN ('PENDING_APPROVAL', 'APPROVED')`,
		uuid.UUID(certID))
	r, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Record{}, sentinel.ErrNotFound
		}
		return models.Record{}, fmt.Errorf("find open revocation: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) ListByCertificate(ctx context.Context, certID domain.CertificateID) ([]models.Record, error) {
	rows, err := s.conn(ctx).QueryContext(ctx,
		selectColumns+` WHERE certificate_id = $1 ORDER BY created_at ASC`, uuid.UUID(certID))
	if err != nil {
		return nil, fmt.Errorf("list revocations: %w", err)
	}
	defer rows.Close()

	var out []models.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan revocation: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list revocations: %w", err)
	}
	return out, nil
}

// Update writes r only if the stored version equals r.Version.
func (s *PostgresStore) Update(ctx context.Context, r models.Record) error {
	cols, err := marshalRecord(r)
	if err != nil {
		return err
	}
	query := `
		UPDATE revocations
		SET department = $2, registrar = $3, super_authority = $4,
			execution = $5, appeal = $6, status = $7, updated_at = $8,
			version = version + 1
		WHERE id = $1 AND version = $9
	`
	res, err := s.conn(ctx).ExecContext(ctx, query,
		uuid.UUID(r.ID),
		cols.department, cols.registrar, cols.superAuthority, cols.execution, cols.appeal,
		string(r.Status()), r.UpdatedAt, r.Version,
	)
	if err != nil {
		return fmt.Errorf("update revocation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update revocation: %w", err)
	}
	if n == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (models.Record, error) {
	var (
		r              models.Record
		id, certID     uuid.UUID
		reason, initBy string
		evidence       pq.StringArray
		cols           recordColumns
	)
	if err := row.Scan(
		&id, &certID, &reason, &r.Description, &evidence, &initBy,
		&cols.department, &cols.registrar, &cols.superAuthority, &cols.execution, &cols.appeal,
		&r.Version, &r.CreatedAt, &r.UpdatedAt,
	); err != nil {
		return models.Record{}, err
	}
	r.ID = domain.RevocationID(id)
	r.CertificateID = domain.CertificateID(certID)
	r.Reason = models.Reason(reason)
	r.InitiatedBy = domain.ActorID(initBy)
	if len(evidence) > 0 {
		r.Evidence = []string(evidence)
	}
	for _, part := range []struct {
		raw []byte
		dst any
	}{
		{cols.department, &r.Department},
		{cols.registrar, &r.Registrar},
		{cols.superAuthority, &r.SuperAuthority},
	} {
		if err := json.Unmarshal(part.raw, part.dst); err != nil {
			return models.Record{}, fmt.Errorf("unmarshal revocation tier: %w", err)
		}
	}
	if len(cols.execution) > 0 {
		r.Execution = &models.Execution{}
		if err := json.Unmarshal(cols.execution, r.Execution); err != nil {
			return models.Record{}, fmt.Errorf("unmarshal execution: %w", err)
		}
	}
	if len(cols.appeal) > 0 {
		r.Appeal = &models.Appeal{}
		if err := json.Unmarshal(cols.appeal, r.Appeal); err != nil {
			return models.Record{}, fmt.Errorf("unmarshal appeal: %w", err)
		}
	}
	return r, nil
}
