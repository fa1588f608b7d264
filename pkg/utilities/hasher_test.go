package utilities

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func testHasher() BcryptHasher {
	return BcryptHasher{Cost: bcrypt.MinCost, Now: func() time.Time { return time.Unix(1_700_000_000, 0) }}
}

func TestGenerateToken(t *testing.T) {
	h := testHasher()
	a, err := h.GenerateToken()
	require.NoError(t, err)
	b, err := h.GenerateToken()
	require.NoError(t, err)

	assert.Len(t, a.Value, 64)
	assert.NotEqual(t, a.Value, b.Value)
	assert.Equal(t, int64(1_700_000_000), a.IssuedAt)
}

func TestHashAndVerify(t *testing.T) {
	h := testHasher()
	hash, err := h.Hash("s3cret")
	require.NoError(t, err)
	assert.NotEqual(t, "s3cret", hash)

	ok, err := h.Verify("s3cret", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Verify("wrong", hash)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerify_InvalidHash(t *testing.T) {
	_, err := testHasher().Verify("x", "not-a-bcrypt-hash")
	var hashErr *HashingError
	require.ErrorAs(t, err, &hashErr)
}

func TestHash_RejectsOverlongInput(t *testing.T) {
	_, err := testHasher().Hash(strings.Repeat("a", 73))
	var hashErr *HashingError
	require.ErrorAs(t, err, &hashErr)
}

func TestBcryptHasher_DefaultCost(t *testing.T) {
	assert.Equal(t, DefaultBcryptCost, BcryptHasher{}.cost())
	assert.Equal(t, 4, BcryptHasher{Cost: 4}.cost())
}
