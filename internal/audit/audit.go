// Package audit is the append-only trail shared by the certificate, approval,
// and revocation workflows.
//
// Entries are written to the Store inside the same transaction as the state
// change that produced them, so a rolled-back transition leaves no trace.
// After commit the trail fans entries out to Sinks (Kafka); sink failures are
// logged and never fail the business operation.
package audit

import (
	"context"
	"log/slog"
	"time"

	"certledger/pkg/domain"
	dErrors "certledger/pkg/domain-errors"
)

// Subject names the kind of record an entry describes.
type Subject string

const (
	SubjectCertificate Subject = "certificate"
	SubjectApproval    Subject = "approval"
	SubjectRevocation  Subject = "revocation"
)

// Action is the state-changing operation recorded.
type Action string

const (
	ActionSubmitted   Action = "submitted"
	ActionValidated   Action = "validated"
	ActionApproved    Action = "approved"
	ActionSignedOff   Action = "signed_off"
	ActionRejected    Action = "rejected"
	ActionReverted    Action = "reverted"
	ActionResubmitted Action = "resubmitted"
	ActionAnchored    Action = "anchored"
	ActionIssued      Action = "issued"
	ActionExpired     Action = "expired"
	ActionArchived    Action = "archived"

	ActionRevocationInitiated Action = "revocation_initiated"
	ActionRevocationApproved  Action = "revocation_approved"
	ActionRevocationRejected  Action = "revocation_rejected"
	ActionRevocationExecuted  Action = "revocation_executed"
	ActionRevoked             Action = "revoked"
	ActionAppealFiled         Action = "appeal_filed"
	ActionAppealUpheld        Action = "appeal_upheld"
	ActionAppealGranted       Action = "appeal_granted"
	ActionReinstated          Action = "reinstated"
)

// Entry is one immutable audit record.
type Entry struct {
	ID             domain.AuditEntryID
	CertificateID  domain.CertificateID
	Subject        Subject
	SubjectID      string
	Action         Action
	Actor          domain.ActorID
	Role           domain.Role
	Timestamp      time.Time
	PreviousStatus string
	NewStatus      string
	Comments       string
	RequestID      string
}

// NewEntry stamps an entry for a certificate-level change made by actor at now.
func NewEntry(certID domain.CertificateID, subject Subject, subjectID string, action Action, actor domain.Actor, now time.Time) Entry {
	return Entry{
		ID:            domain.NewAuditEntryID(),
		CertificateID: certID,
		Subject:       subject,
		SubjectID:     subjectID,
		Action:        action,
		Actor:         actor.ID,
		Role:          actor.Role,
		Timestamp:     now,
	}
}

// WithStatus records the transition the entry describes.
func (e Entry) WithStatus(previous, next string) Entry {
	e.PreviousStatus = previous
	e.NewStatus = next
	return e
}

// WithComments attaches free text (decision comments, reasons).
func (e Entry) WithComments(comments string) Entry {
	e.Comments = comments
	return e
}

// Store persists entries. Implementations must never update or delete.
type Store interface {
	Append(ctx context.Context, entries ...Entry) error
	ListByCertificate(ctx context.Context, certID domain.CertificateID) ([]Entry, error)
}

// Sink receives committed entries for downstream consumers.
type Sink interface {
	Publish(ctx context.Context, entries ...Entry) error
}

// Trail records entries and fans them out after commit.
type Trail struct {
	store   Store
	sinks   []Sink
	logger  *slog.Logger
	metrics *Metrics
}

type Option func(*Trail)

func WithLogger(logger *slog.Logger) Option {
	return func(t *Trail) {
		t.logger = logger
	}
}

func WithSink(sink Sink) Option {
	return func(t *Trail) {
		if sink != nil {
			t.sinks = append(t.sinks, sink)
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(t *Trail) {
		t.metrics = m
	}
}

func New(store Store, opts ...Option) *Trail {
	t := &Trail{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Append persists entries. This is fail-closed: callers run it inside their
// transaction and must abort when it errors.
func (t *Trail) Append(ctx context.Context, entries ...Entry) error {
	if len(entries) == 0 {
		return nil
	}
	for i := range entries {
		if entries[i].Action == "" {
			return dErrors.New(dErrors.CodeInvariantViolation, "audit entry requires an action")
		}
		if entries[i].ID == (domain.AuditEntryID{}) {
			entries[i].ID = domain.NewAuditEntryID()
		}
	}
	if err := t.store.Append(ctx, entries...); err != nil {
		t.metrics.IncPersistFailures()
		t.logger.ErrorContext(ctx, "audit append failed",
			"entries", len(entries),
			"error", err,
		)
		return dErrors.Wrap(err, dErrors.CodeInternal, "audit persistence failed")
	}
	t.metrics.AddAppended(len(entries))
	return nil
}

// Publish fans committed entries out to every sink. Failures are logged only.
func (t *Trail) Publish(ctx context.Context, entries ...Entry) {
	if len(entries) == 0 {
		return
	}
	for _, sink := range t.sinks {
		if err := sink.Publish(ctx, entries...); err != nil {
			t.metrics.IncPublishFailures()
			t.logger.WarnContext(ctx, "audit fan-out failed",
				"entries", len(entries),
				"error", err,
			)
		}
	}
}

// History returns every entry recorded for a certificate, oldest first.
func (t *Trail) History(ctx context.Context, certID domain.CertificateID) ([]Entry, error) {
	entries, err := t.store.ListByCertificate(ctx, certID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load audit trail")
	}
	return entries, nil
}
