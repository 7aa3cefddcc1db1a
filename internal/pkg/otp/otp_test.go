package otp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golang.org/x/crypto/bcrypt"
)

func TestGenerate_SixDigits(t *testing.T) {
	plaintext, hash, err := Generate(bcrypt.MinCost)
	require.NoError(t, err)

	assert.Len(t, plaintext, Length)
	for _, r := range plaintext {
		assert.True(t, r >= '0' && r <= '9', "code must be numeric, got %q", plaintext)
	}
	assert.NotEqual(t, plaintext, hash)
	assert.NotContains(t, hash, plaintext)
}

func TestMatches_RoundTrip(t *testing.T) {
	plaintext, hash, err := Generate(bcrypt.MinCost)
	require.NoError(t, err)

	assert.True(t, Matches(plaintext, hash))
	assert.False(t, Matches("000000", hash) && plaintext != "000000")
}

func TestMatches_WrongCode(t *testing.T) {
	_, hash, err := Generate(bcrypt.MinCost)
	require.NoError(t, err)

	assert.False(t, Matches("not-a-code", hash))
}

func TestGenerate_CodesVary(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 10; i++ {
		plaintext, _, err := Generate(bcrypt.MinCost)
		require.NoError(t, err)
		seen[plaintext] = true
	}
	// 10 draws from a 10^6 space colliding into one value would mean a
	// broken random source.
	assert.Greater(t, len(seen), 1)
}
