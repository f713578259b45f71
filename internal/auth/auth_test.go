package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newTestTokenManager(now func() time.Time) *TokenManager {
	return NewTokenManager(TokenConfig{
		AccessSecret:  "test-access-secret",
		AccessTTL:     time.Hour,
		RefreshSecret: "test-refresh-secret",
		RefreshTTL:    24 * time.Hour,
		Now:           now,
	})
}

func TestPasswordHasher_VerifyRejectsMutations(t *testing.T) {
	t.Parallel()

	h := NewPasswordHasher(bcrypt.MinCost)
	const password = "Passw0rd"

	hash, err := h.Hash(password)
	require.NoError(t, err)
	assert.NotEqual(t, password, hash)
	assert.True(t, h.Verify(hash, password))

	for i := range len(password) {
		mutated := []byte(password)
		mutated[i]++
		assert.False(t, h.Verify(hash, string(mutated)), "mutation at %d accepted", i)
	}
	assert.False(t, h.Verify(hash, password[:len(password)-1]))
	assert.False(t, h.Verify(hash, password+"x"))
	assert.False(t, h.Verify("", password))
}

func TestPasswordHasher_SaltsEachHash(t *testing.T) {
	t.Parallel()

	h := NewPasswordHasher(bcrypt.MinCost)
	a, err := h.Hash("Passw0rd")
	require.NoError(t, err)
	b, err := h.Hash("Passw0rd")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	_, err = h.Hash("")
	require.Error(t, err)
}

func TestPasswordHasher_CostFallback(t *testing.T) {
	t.Parallel()

	assert.Equal(t, bcrypt.DefaultCost, NewPasswordHasher(0).cost)
	assert.Equal(t, 12, NewPasswordHasher(12).cost)
}

func TestTokenManager_RoundTrip(t *testing.T) {
	t.Parallel()

	m := newTestTokenManager(nil)

	access, err := m.IssueAccessToken("user-1")
	require.NoError(t, err)
	sub, err := m.ParseAccessToken(access)
	require.NoError(t, err)
	assert.Equal(t, "user-1", sub)

	refresh, err := m.IssueRefreshToken("user-1")
	require.NoError(t, err)
	sub, err = m.ParseRefreshToken(refresh)
	require.NoError(t, err)
	assert.Equal(t, "user-1", sub)
}

func TestTokenManager_TokensAreUnique(t *testing.T) {
	t.Parallel()

	fixed := time.Now()
	m := newTestTokenManager(func() time.Time { return fixed })

	a, err := m.IssueRefreshToken("user-1")
	require.NoError(t, err)
	b, err := m.IssueRefreshToken("user-1")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestTokenManager_KeysAreSeparate(t *testing.T) {
	t.Parallel()

	m := newTestTokenManager(nil)

	access, err := m.IssueAccessToken("user-1")
	require.NoError(t, err)
	refresh, err := m.IssueRefreshToken("user-1")
	require.NoError(t, err)

	_, err = m.ParseRefreshToken(access)
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = m.ParseAccessToken(refresh)
	assert.ErrorIs(t, err, ErrInvalidToken)

	// Same secret on both sides must still be rejected by the use claim.
	shared := NewTokenManager(TokenConfig{AccessSecret: "same", RefreshSecret: "same"})
	access, err = shared.IssueAccessToken("user-1")
	require.NoError(t, err)
	_, err = shared.ParseRefreshToken(access)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenManager_Expired(t *testing.T) {
	t.Parallel()

	issuedAt := time.Now().Add(-2 * time.Hour)
	past := newTestTokenManager(func() time.Time { return issuedAt })
	access, err := past.IssueAccessToken("user-1")
	require.NoError(t, err)

	current := newTestTokenManager(nil)
	_, err = current.ParseAccessToken(access)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.True(t, errors.Is(err, jwt.ErrTokenExpired))
}

func TestTokenManager_RejectsGarbageAndForeignSigners(t *testing.T) {
	t.Parallel()

	m := newTestTokenManager(nil)
	_, err := m.ParseAccessToken("not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)

	other := NewTokenManager(TokenConfig{AccessSecret: "other", RefreshSecret: "other-refresh"})
	foreign, err := other.IssueAccessToken("user-1")
	require.NoError(t, err)
	_, err = m.ParseAccessToken(foreign)
	assert.ErrorIs(t, err, ErrInvalidToken)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{Use: useAccess})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = m.ParseAccessToken(unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = m.IssueAccessToken(" ")
	require.Error(t, err)
}

func TestResetToken(t *testing.T) {
	t.Parallel()

	raw, hash, err := NewResetToken()
	require.NoError(t, err)
	assert.Len(t, raw, 2*resetTokenBytes)
	assert.Equal(t, HashResetToken(raw), hash)
	assert.NotEqual(t, raw, hash)

	raw2, _, err := NewResetToken()
	require.NoError(t, err)
	assert.NotEqual(t, raw, raw2)
}
