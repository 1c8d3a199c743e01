package anchor

import (
	"encoding/hex"
	"math"
	"math/bits"

	"golang.org/x/crypto/sha3"

	"certledger/internal/integrity"
	"certledger/pkg/domain"
)

// FixedWidthID returns the 32-byte hex identifier the ledger keys anchors by.
// A well-formed content hash is used as is; anything else is replaced by
// Keccak-256 of the certificate id so the identifier stays deterministic.
func FixedWidthID(contentHash string, certID domain.CertificateID) string {
	if integrity.IsWellFormed(contentHash) {
		return "0x" + integrity.NormalizeHash(contentHash)
	}
	return keccakHex(certID.String())
}

// RevocationFixedID derives the identifier of a revocation event.
func RevocationFixedID(revocationID domain.RevocationID) string {
	return keccakHex("revocation:" + revocationID.String())
}

func keccakHex(s string) string {
	h := sha3.NewLegacyKeccak256()
	_, _ = h.Write([]byte(s))
	return "0x" + hex.EncodeToString(h.Sum(nil))
}

// ApplyMargin adds percent on top of estimate, rounding up. The result
// saturates at math.MaxUint64 instead of wrapping.
func ApplyMargin(estimate, percent uint64) uint64 {
	hi, lo := bits.Mul64(estimate, percent)
	if hi >= 100 {
		return math.MaxUint64
	}
	margin, rem := bits.Div64(hi, lo, 100)
	var roundUp uint64
	if rem > 0 {
		roundUp = 1
	}
	margin, c1 := bits.Add64(margin, roundUp, 0)
	limit, c2 := bits.Add64(estimate, margin, 0)
	if c1|c2 != 0 {
		return math.MaxUint64
	}
	return limit
}
