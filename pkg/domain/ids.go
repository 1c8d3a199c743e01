package domain

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	dErrors "certledger/pkg/domain-errors"
)

// Typed identifiers keep certificate, revocation, and audit ids from being
// passed where another kind is expected.
type (
	CertificateID uuid.UUID
	RevocationID  uuid.UUID
	AuditEntryID  uuid.UUID
)

// ActorID identifies a caller as reported by the identity provider. It is
// opaque to the core.
type ActorID string

const maxActorIDLength = 128

func NewCertificateID() CertificateID { return CertificateID(uuid.New()) }
func NewRevocationID() RevocationID   { return RevocationID(uuid.New()) }
func NewAuditEntryID() AuditEntryID   { return AuditEntryID(uuid.New()) }

func (id CertificateID) String() string { return uuid.UUID(id).String() }
func (id RevocationID) String() string  { return uuid.UUID(id).String() }
func (id AuditEntryID) String() string  { return uuid.UUID(id).String() }

func (id CertificateID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id RevocationID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }

func (id CertificateID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id RevocationID) MarshalText() ([]byte, error)  { return []byte(id.String()), nil }
func (id AuditEntryID) MarshalText() ([]byte, error)  { return []byte(id.String()), nil }

func (id *CertificateID) UnmarshalText(b []byte) error {
	parsed, err := ParseCertificateID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id *RevocationID) UnmarshalText(b []byte) error {
	parsed, err := ParseRevocationID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParseCertificateID validates a certificate id from external input.
func ParseCertificateID(s string) (CertificateID, error) {
	u, err := parseUUID(s, "certificate id")
	return CertificateID(u), err
}

// ParseRevocationID validates a revocation id from external input.
func ParseRevocationID(s string) (RevocationID, error) {
	u, err := parseUUID(s, "revocation id")
	return RevocationID(u), err
}

// ParseAuditEntryID validates an audit entry id from external input.
func ParseAuditEntryID(s string) (AuditEntryID, error) {
	u, err := parseUUID(s, "audit entry id")
	return AuditEntryID(u), err
}

func parseUUID(s, label string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" cannot be empty")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+label)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" cannot be nil")
	}
	return u, nil
}

// ParseActorID validates an actor id handed over by the identity layer.
// Invariant: non-empty, valid UTF-8, printable, at most 128 bytes.
func ParseActorID(s string) (ActorID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "actor id cannot be empty")
	}
	if len(s) > maxActorIDLength || !utf8.ValidString(s) {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid actor id")
	}
	for _, r := range s {
		if !unicode.IsPrint(r) {
			return "", dErrors.New(dErrors.CodeInvalidInput, "invalid actor id")
		}
	}
	return ActorID(s), nil
}

func (a ActorID) String() string { return string(a) }
