// Package integrity recomputes content hashes and compares them with stored ones.
//
// A mismatch is a verification outcome, not an error: callers receive a
// Result whose Verdict says whether the content is intact, tampered, or could
// not be checked because the bytes are stored off-system.
package integrity

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/gowebpki/jcs"

	dErrors "certledger/pkg/domain-errors"
)

// Verdict is the outcome of an integrity check.
type Verdict string

const (
	VerdictIntact   Verdict = "intact"
	VerdictTampered Verdict = "tampered"
	// VerdictUnknown means no content was available to hash.
	VerdictUnknown Verdict = "unknown"
)

// HashLength is the hex length of a SHA-256 digest.
const HashLength = sha256.Size * 2

type Result struct {
	Verdict        Verdict
	RecomputedHash string
}

func (r Result) Intact() bool   { return r.Verdict == VerdictIntact }
func (r Result) Tampered() bool { return r.Verdict == VerdictTampered }

// Verify recomputes SHA-256 over raw and compares it with storedHash.
// A nil raw slice yields VerdictUnknown; an empty non-nil slice is hashed.
func Verify(storedHash string, raw []byte) Result {
	if raw == nil {
		return Result{Verdict: VerdictUnknown}
	}
	recomputed := Sum(raw)
	expected := NormalizeHash(storedHash)
	if subtle.ConstantTimeCompare([]byte(recomputed), []byte(expected)) == 1 {
		return Result{Verdict: VerdictIntact, RecomputedHash: recomputed}
	}
	return Result{Verdict: VerdictTampered, RecomputedHash: recomputed}
}

// Sum returns the lower-case hex SHA-256 of raw.
func Sum(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// NormalizeHash lower-cases h and strips an optional 0x prefix.
func NormalizeHash(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	return strings.TrimPrefix(h, "0x")
}

// IsWellFormed reports whether h (after normalization) is 64 hex characters.
func IsWellFormed(h string) bool {
	h = NormalizeHash(h)
	if len(h) != HashLength {
		return false
	}
	_, err := hex.DecodeString(h)
	return err == nil
}

// ParseHash normalizes a declared content hash and rejects malformed values.
func ParseHash(h string) (string, error) {
	if !IsWellFormed(h) {
		return "", dErrors.New(dErrors.CodeValidation, "content_hash must be 64 hexadecimal characters")
	}
	return NormalizeHash(h), nil
}

// Canonicalize renders payload as RFC 8785 canonical JSON.
func Canonicalize(payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "payload is not serializable")
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "payload cannot be canonicalized")
	}
	return canonical, nil
}

// CanonicalHash hashes the canonical JSON form of payload, so field order and
// whitespace never change the hash of the same logical content.
func CanonicalHash(payload any) (string, error) {
	canonical, err := Canonicalize(payload)
	if err != nil {
		return "", err
	}
	return Sum(canonical), nil
}
