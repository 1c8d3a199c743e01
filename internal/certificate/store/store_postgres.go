package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"certledger/internal/certificate/models"
	"certledger/pkg/domain"
	"certledger/pkg/platform/sentinel"
	txcontext "certledger/pkg/platform/tx"
)

const uniqueViolation = "23505"

const selectColumns = `
	id, content_hash, holder_id, holder_name, issuer_id, credential_name, grade,
	issue_date, expiry_date, auxiliary_ref, status,
	tx_id, block_ref, fixed_id, anchored_at, ledger_claim,
	verification_count, version, created_at, updated_at
`

// PostgresStore persists certificates in the certificates table. Unique
// indexes on content_hash and tx_id back the duplicate checks.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) conn(ctx context.Context) dbConn {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) Create(ctx context.Context, c models.Certificate) error {
	ref := anchorColumns(c.AnchorRef)
	query := `
		INSERT INTO certificates (
			id, content_hash, holder_id, holder_name, issuer_id, credential_name, grade,
			issue_date, expiry_date, auxiliary_ref, status,
			tx_id, block_ref, fixed_id, anchored_at,
			verification_count, version, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, 0, 1, $16, $17)
	`
	_, err := s.conn(ctx).ExecContext(ctx, query,
		uuid.UUID(c.ID), c.ContentHash, c.HolderID, c.HolderName, c.IssuerID, c.CredentialName, c.Grade,
		c.IssueDate, c.ExpiryDate, c.AuxiliaryRef, string(c.Status),
		ref.txID, ref.blockRef, ref.fixedID, ref.anchoredAt,
		c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrDuplicate
		}
		return fmt.Errorf("insert certificate: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id domain.CertificateID) (models.Certificate, error) {
	return s.findOne(ctx, "id = $1", uuid.UUID(id))
}

func (s *PostgresStore) FindByContentHash(ctx context.Context, hash string) (models.Certificate, error) {
	return s.findOne(ctx, "content_hash = $1", hash)
}

func (s *PostgresStore) FindByTxID(ctx context.Context, txID string) (models.Certificate, error) {
	return s.findOne(ctx, "tx_id = $1", txID)
}

func (s *PostgresStore) findOne(ctx context.Context, where string, arg any) (models.Certificate, error) {
	query := `SELECT ` + selectColumns + ` FROM certificates WHERE ` + where
	c, err := scanCertificate(s.conn(ctx).QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Certificate{}, sentinel.ErrNotFound
		}
		return models.Certificate{}, fmt.Errorf("find certificate: %w", err)
	}
	return c, nil
}

// Update writes c only if the stored version equals c.Version. The
// verification counter is left untouched.
func (s *PostgresStore) Update(ctx context.Context, c models.Certificate) error {
	ref := anchorColumns(c.AnchorRef)
	claim, err := claimColumn(c.LedgerClaim)
	if err != nil {
		return err
	}
	query := `
		UPDATE certificates
		SET status = $2, tx_id = $3, block_ref = $4, fixed_id = $5, anchored_at = $6,
			ledger_claim = $7, updated_at = $8, version = version + 1
		WHERE id = $1 AND version = $9
	`
	res, err := s.conn(ctx).ExecContext(ctx, query,
		uuid.UUID(c.ID), string(c.Status),
		ref.txID, ref.blockRef, ref.fixedID, ref.anchoredAt,
		claim, c.UpdatedAt, c.Version,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrDuplicate
		}
		return fmt.Errorf("update certificate: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update certificate rows affected: %w", err)
	}
	if n == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

func (s *PostgresStore) IncrementVerificationCount(ctx context.Context, id domain.CertificateID) error {
	res, err := s.conn(ctx).ExecContext(ctx,
		`UPDATE certificates SET verification_count = verification_count + 1 WHERE id = $1`,
		uuid.UUID(id),
	)
	if err != nil {
		return fmt.Errorf("increment verification count: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("increment verification count rows affected: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) FindByHolderCredential(ctx context.Context, issuerID, holderID, credentialName string) ([]models.Certificate, error) {
	query := `SELECT ` + selectColumns + ` FROM certificates
		WHERE issuer_id = $1 AND holder_id = $2 AND credential_name = $3
		ORDER BY created_at`
	rows, err := s.query(ctx, query, issuerID, holderID, credentialName)
	if err != nil {
		return nil, fmt.Errorf("find certificates by holder: %w", err)
	}
	defer rows.Close()

	var out []models.Certificate
	for rows.Next() {
		c, err := scanCertificate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan certificate: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate certificates: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if tx, ok := txcontext.From(ctx); ok {
		return tx.QueryContext(ctx, query, args...)
	}
	return s.db.QueryContext(ctx, query, args...)
}

type anchorCols struct {
	txID, blockRef, fixedID sql.NullString
	anchoredAt              sql.NullTime
}

func anchorColumns(ref *models.AnchorRef) anchorCols {
	if ref == nil {
		return anchorCols{}
	}
	return anchorCols{
		txID:       sql.NullString{String: ref.TxID, Valid: ref.TxID != ""},
		blockRef:   sql.NullString{String: ref.BlockRef, Valid: ref.BlockRef != ""},
		fixedID:    sql.NullString{String: ref.FixedID, Valid: ref.FixedID != ""},
		anchoredAt: sql.NullTime{Time: ref.AnchoredAt, Valid: !ref.AnchoredAt.IsZero()},
	}
}

func claimColumn(claim *models.LedgerClaim) (any, error) {
	if claim == nil {
		return nil, nil
	}
	raw, err := json.Marshal(claim)
	if err != nil {
		return nil, fmt.Errorf("marshal ledger claim: %w", err)
	}
	return raw, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCertificate(row rowScanner) (models.Certificate, error) {
	var (
		c      models.Certificate
		id     uuid.UUID
		status string
		expiry sql.NullTime
		aux    sql.NullString
		ref    anchorCols
		claim  []byte
	)
	err := row.Scan(
		&id, &c.ContentHash, &c.HolderID, &c.HolderName, &c.IssuerID, &c.CredentialName, &c.Grade,
		&c.IssueDate, &expiry, &aux, &status,
		&ref.txID, &ref.blockRef, &ref.fixedID, &ref.anchoredAt, &claim,
		&c.VerificationCount, &c.Version, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return models.Certificate{}, err
	}
	c.ID = domain.CertificateID(id)
	c.AuxiliaryRef = aux.String
	if expiry.Valid {
		t := expiry.Time.UTC()
		c.ExpiryDate = &t
	}
	if c.Status, err = models.ParseStatus(status); err != nil {
		return models.Certificate{}, err
	}
	if ref.txID.Valid {
		c.AnchorRef = &models.AnchorRef{
			TxID:       ref.txID.String,
			BlockRef:   ref.blockRef.String,
			FixedID:    ref.fixedID.String,
			AnchoredAt: ref.anchoredAt.Time,
		}
	}
	if len(claim) > 0 {
		c.LedgerClaim = &models.LedgerClaim{}
		if err := json.Unmarshal(claim, c.LedgerClaim); err != nil {
			return models.Certificate{}, fmt.Errorf("unmarshal ledger claim: %w", err)
		}
	}
	c.IssueDate = c.IssueDate.UTC()
	return c, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
