package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"certledger/internal/approval/models"
	"certledger/pkg/domain"
	"certledger/pkg/platform/sentinel"
	txcontext "certledger/pkg/platform/tx"
)

const uniqueViolation = "23505"

// PostgresStore persists queue entries in the approval_queue table. Step
// records and the rejection history are stored as JSONB.
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

type entryColumns struct {
	validation, approval, signOff, history []byte
}

func marshalEntry(e models.QueueEntry) (entryColumns, error) {
	var (
		cols entryColumns
		err  error
	)
	if cols.validation, err = json.Marshal(e.Validation); err != nil {
		return cols, fmt.Errorf("marshal validation step: %w", err)
	}
	if cols.approval, err = json.Marshal(e.Approval); err != nil {
		return cols, fmt.Errorf("marshal approval step: %w", err)
	}
	if cols.signOff, err = json.Marshal(e.SignOff); err != nil {
		return cols, fmt.Errorf("marshal sign-off step: %w", err)
	}
	if cols.history, err = json.Marshal(e.RejectionHistory); err != nil {
		return cols, fmt.Errorf("marshal rejection history: %w", err)
	}
	return cols, nil
}

func (s *PostgresStore) Create(ctx context.Context, entry models.QueueEntry) error {
	cols, err := marshalEntry(entry)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO approval_queue (
			certificate_id, validation, approval, sign_off, rejection_history,
			corrections, archived, version, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 1, $8, $9)
	`
	_, err = s.conn(ctx).ExecContext(ctx, query,
		uuid.UUID(entry.CertificateID),
		cols.validation, cols.approval, cols.signOff, cols.history,
		entry.Corrections, entry.Archived, entry.CreatedAt, entry.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return sentinel.ErrDuplicate
		}
		return fmt.Errorf("insert approval entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByCertificate(ctx context.Context, certID domain.CertificateID) (models.QueueEntry, error) {
	query := `
		SELECT certificate_id, validation, approval, sign_off, rejection_history,
			   corrections, archived, version, created_at, updated_at
		FROM approval_queue
		WHERE certificate_id = $1
	`
	var (
		entry models.QueueEntry
		id    uuid.UUID
		cols  entryColumns
	)
	err := s.conn(ctx).QueryRowContext(ctx, query, uuid.UUID(certID)).Scan(
		&id, &cols.validation, &cols.approval, &cols.signOff, &cols.history,
		&entry.Corrections, &entry.Archived, &entry.Version, &entry.CreatedAt, &entry.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.QueueEntry{}, sentinel.ErrNotFound
		}
		return models.QueueEntry{}, fmt.Errorf("find approval entry: %w", err)
	}
	entry.CertificateID = domain.CertificateID(id)
	for _, part := range []struct {
		raw []byte
		dst any
	}{
		{cols.validation, &entry.Validation},
		{cols.approval, &entry.Approval},
		{cols.signOff, &entry.SignOff},
		{cols.history, &entry.RejectionHistory},
	} {
		if err := json.Unmarshal(part.raw, part.dst); err != nil {
			return models.QueueEntry{}, fmt.Errorf("unmarshal approval entry: %w", err)
		}
	}
	return entry, nil
}

// Update writes entry only if the stored version equals entry.Version.
func (s *PostgresStore) Update(ctx context.Context, entry models.QueueEntry) error {
	cols, err := marshalEntry(entry)
	if err != nil {
		return err
	}
	query := `
		UPDATE approval_queue
		SET validation = $2, approval = $3, sign_off = $4, rejection_history = $5,
			corrections = $6, archived = $7, updated_at = $8, version = version + 1
		WHERE certificate_id = $1 AND version = $9
	`
	res, err := s.conn(ctx).ExecContext(ctx, query,
		uuid.UUID(entry.CertificateID),
		cols.validation, cols.approval, cols.signOff, cols.history,
		entry.Corrections, entry.Archived, entry.UpdatedAt, entry.Version,
	)
	if err != nil {
		return fmt.Errorf("update approval entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update approval entry: %w", err)
	}
	if n == 0 {
		return sentinel.ErrConflict
	}
	return nil
}
