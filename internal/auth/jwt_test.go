package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *JWTManager {
	t.Helper()
	m, err := NewJWTManager("test-secret", time.Hour)
	require.NoError(t, err)
	return m
}

func TestNewJWTManagerRequiresSecret(t *testing.T) {
	_, err := NewJWTManager("", time.Hour)
	assert.ErrorIs(t, err, ErrEmptySecret)

	m, err := NewJWTManager("s", 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultTokenDuration, m.TokenDuration())
}

func TestGenerateAndValidateToken(t *testing.T) {
	m := newTestManager(t)

	token, err := m.GenerateToken("ops", []string{"alice"})
	require.NoError(t, err)

	claims, err := m.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Subject)
	assert.Equal(t, []string{"alice"}, claims.Accounts)
	assert.True(t, claims.CanAccess("alice"))
	assert.False(t, claims.CanAccess("bob"))
}

func TestWildcardAccounts(t *testing.T) {
	claims := &Claims{Accounts: []string{AllAccounts}}
	assert.True(t, claims.CanAccess("anyone"))
	assert.False(t, (&Claims{}).CanAccess("anyone"))
}

func TestExpiredToken(t *testing.T) {
	m := newTestManager(t)
	issued := time.Now().Add(-2 * time.Hour)
	m.now = func() time.Time { return issued }
	token, err := m.GenerateToken("ops", nil)
	require.NoError(t, err)

	m.now = time.Now
	_, err = m.ValidateToken(token)
	assert.Equal(t, ErrTokenExpired, err)
}

func TestRejectsForeignTokens(t *testing.T) {
	m := newTestManager(t)

	other, err := NewJWTManager("other-secret", time.Hour)
	require.NoError(t, err)
	foreign, err := other.GenerateToken("ops", nil)
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	wrongIssuer, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "someone-else",
			Audience:  []string{tokenAudience},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	for name, token := range map[string]string{
		"wrong secret": foreign,
		"alg none":     none,
		"wrong issuer": wrongIssuer,
		"garbage":      "not.a.token",
	} {
		_, err := m.ValidateToken(token)
		assert.Equal(t, ErrInvalidToken, err, name)
	}
}
