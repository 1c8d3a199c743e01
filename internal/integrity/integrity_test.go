package integrity

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "certledger/pkg/domain-errors"
)

// sha256("hello")
const helloHash = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"

func TestVerify(t *testing.T) {
	t.Run("intact content", func(t *testing.T) {
		res := Verify(helloHash, []byte("hello"))
		assert.Equal(t, VerdictIntact, res.Verdict)
		assert.Equal(t, helloHash, res.RecomputedHash)
	})

	t.Run("upper case and 0x prefix are normalized", func(t *testing.T) {
		res := Verify("0x"+strings.ToUpper(helloHash), []byte("hello"))
		assert.True(t, res.Intact())
	})

	t.Run("single changed byte is tampered", func(t *testing.T) {
		res := Verify(helloHash, []byte("hellp"))
		assert.True(t, res.Tampered())
		assert.NotEqual(t, helloHash, res.RecomputedHash)
	})

	t.Run("nil content is unknown, not intact", func(t *testing.T) {
		res := Verify(helloHash, nil)
		assert.Equal(t, VerdictUnknown, res.Verdict)
		assert.Empty(t, res.RecomputedHash)
	})

	t.Run("empty content is hashed", func(t *testing.T) {
		res := Verify(helloHash, []byte{})
		assert.Equal(t, VerdictTampered, res.Verdict)
		assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", res.RecomputedHash)
	})

	t.Run("malformed stored hash never matches", func(t *testing.T) {
		assert.True(t, Verify("zz", []byte("hello")).Tampered())
	})
}

func TestParseHash(t *testing.T) {
	h, err := ParseHash("0X" + strings.ToUpper(helloHash))
	require.NoError(t, err)
	assert.Equal(t, helloHash, h)

	_, err = ParseHash("abc")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))

	_, err = ParseHash(strings.Repeat("g", 64))
	assert.Error(t, err)
}

func TestCanonicalHash(t *testing.T) {
	a := map[string]any{"name": "Ada", "grade": "A", "course": "Math"}
	b := map[string]any{"course": "Math", "grade": "A", "name": "Ada"}

	ha, err := CanonicalHash(a)
	require.NoError(t, err)
	hb, err := CanonicalHash(b)
	require.NoError(t, err)
	assert.Equal(t, ha, hb)
	assert.True(t, IsWellFormed(ha))

	c := map[string]any{"course": "Math", "grade": "B", "name": "Ada"}
	hc, err := CanonicalHash(c)
	require.NoError(t, err)
	assert.NotEqual(t, ha, hc)
}

func TestVerify_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("verification is deterministic", prop.ForAll(
		func(stored string, content string) bool {
			first := Verify(stored, []byte(content))
			second := Verify(stored, []byte(content))
			return first == second
		},
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.Property("hash of content always verifies intact", prop.ForAll(
		func(content string) bool {
			return Verify(Sum([]byte(content)), []byte(content)).Intact()
		},
		gen.AnyString(),
	))

	properties.Property("appending a byte is always detected", prop.ForAll(
		func(content string) bool {
			return Verify(Sum([]byte(content)), []byte(content+"x")).Tampered()
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}
