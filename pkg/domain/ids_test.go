package domain

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "certledger/pkg/domain-errors"
)

// TestParseUUID_Invariants validates the parsing invariant:
// "IDs must be valid, non-empty, non-nil UUIDs"
func TestParseUUID_Invariants(t *testing.T) {
	t.Run("rejects empty string", func(t *testing.T) {
		_, err := ParseCertificateID("")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects invalid format", func(t *testing.T) {
		_, err := ParseCertificateID("not-a-uuid")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects nil UUID", func(t *testing.T) {
		_, err := ParseCertificateID(uuid.Nil.String())
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("accepts valid UUID", func(t *testing.T) {
		validUUID := uuid.New()
		id, err := ParseCertificateID(validUUID.String())
		require.NoError(t, err)
		assert.Equal(t, CertificateID(validUUID), id)
	})
}

func TestParseID_SecurityInvariants(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"SQL injection attempt", "'; DROP TABLE certificates;--", true},
		{"Path traversal", "../../../etc/passwd", true},
		{"Null byte injection", "550e8400\x00-e29b-41d4-a716-446655440000", true},
		{"Oversized input", strings.Repeat("a", 1000), true},
		{"Empty string", "", true},
		{"Nil UUID", uuid.Nil.String(), true},
		{"Uppercase valid UUID", "550E8400-E29B-41D4-A716-446655440000", false},
		{"Valid UUID lowercase", "550e8400-e29b-41d4-a716-446655440000", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRevocationID(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestParseActorID(t *testing.T) {
	t.Run("trims and accepts", func(t *testing.T) {
		a, err := ParseActorID("  registrar-7 ")
		require.NoError(t, err)
		assert.Equal(t, ActorID("registrar-7"), a)
	})

	t.Run("rejects control characters", func(t *testing.T) {
		_, err := ParseActorID("bob\x00")
		require.Error(t, err)
	})

	t.Run("rejects oversized", func(t *testing.T) {
		_, err := ParseActorID(strings.Repeat("x", 129))
		require.Error(t, err)
	})
}

func TestActorRequire(t *testing.T) {
	actor := Actor{ID: "v-1", Role: RoleValidator}

	require.NoError(t, actor.Require("validate", RoleValidator))

	err := actor.Require("approve", RoleApprover)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden))

	err = Actor{}.Require("approve", RoleApprover)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole("registrar")
	require.NoError(t, err)
	assert.Equal(t, RoleRegistrar, r)
	assert.True(t, r.IsAuthority())

	_, err = ParseRole("janitor")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))

	assert.False(t, RoleHolder.IsAuthority())
}
