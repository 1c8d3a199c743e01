package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"certledger/internal/audit"
	"certledger/pkg/domain"
	txcontext "certledger/pkg/platform/tx"
)

// Store implements audit.Store on the append-only audit_entries table.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const insertEntry = `
	INSERT INTO audit_entries (
		id, certificate_id, subject, subject_id, action, actor_id, role,
		occurred_at, previous_status, new_status, comments, request_id
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	ON CONFLICT (id) DO NOTHING
`

// Append inserts entries in order. Re-appending an entry id is a no-op.
func (s *Store) Append(ctx context.Context, entries ...audit.Entry) error {
	exec := s.execer(ctx)
	for _, e := range entries {
		_, err := exec.ExecContext(ctx, insertEntry,
			uuid.UUID(e.ID),
			uuid.UUID(e.CertificateID),
			string(e.Subject),
			e.SubjectID,
			string(e.Action),
			string(e.Actor),
			string(e.Role),
			e.Timestamp,
			e.PreviousStatus,
			e.NewStatus,
			e.Comments,
			e.RequestID,
		)
		if err != nil {
			return fmt.Errorf("insert audit entry: %w", err)
		}
	}
	return nil
}

// ListByCertificate returns entries for a certificate, oldest first.
func (s *Store) ListByCertificate(ctx context.Context, certID domain.CertificateID) ([]audit.Entry, error) {
	query := `
		SELECT id, certificate_id, subject, subject_id, action, actor_id, role,
			   occurred_at, previous_status, new_status, comments, request_id
		FROM audit_entries
		WHERE certificate_id = $1
		ORDER BY seq ASC
	`
	rows, err := s.db.QueryContext(ctx, query, uuid.UUID(certID))
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []audit.Entry
	for rows.Next() {
		var (
			e               audit.Entry
			entryID, certID uuid.UUID
			subject, action string
			actor, role     string
		)
		if err := rows.Scan(
			&entryID, &certID, &subject, &e.SubjectID, &action, &actor, &role,
			&e.Timestamp, &e.PreviousStatus, &e.NewStatus, &e.Comments, &e.RequestID,
		); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.ID = domain.AuditEntryID(entryID)
		e.CertificateID = domain.CertificateID(certID)
		e.Subject = audit.Subject(subject)
		e.Action = audit.Action(action)
		e.Actor = domain.ActorID(actor)
		e.Role = domain.Role(role)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return entries, nil
}
