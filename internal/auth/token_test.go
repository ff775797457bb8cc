package auth

import (
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

func TestTokenRoundTrip(t *testing.T) {
	tm := NewTokenManager("secret", 30)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tm.now = func() time.Time { return now }

	token, exp, err := tm.GenerateToken("u1", domain.UserRoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, now.Add(30*time.Minute), exp)

	claims, err := tm.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, domain.UserRoleAdmin, claims.Role)
	assert.Equal(t, "u1", claims.Subject)
	assert.Equal(t, TokenIssuer, claims.Issuer)
}

func TestTokenExpires(t *testing.T) {
	tm := NewTokenManager("secret", 1)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tm.now = func() time.Time { return now }
	token, _, err := tm.GenerateToken("u1", domain.UserRoleAgent)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = tm.ParseToken(token)
	assert.Error(t, err)
}

func TestTokenRejectsForeignSignatures(t *testing.T) {
	tm := NewTokenManager("secret", 5)

	other, _, err := NewTokenManager("other", 5).GenerateToken("u1", domain.UserRoleAgent)
	require.NoError(t, err)
	_, err = tm.ParseToken(other)
	assert.Error(t, err)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{UserID: "u1"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = tm.ParseToken(unsigned)
	assert.Error(t, err)

	exp := jwt.NewNumericDate(time.Now().Add(time.Minute))
	noUser, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		Role:             domain.UserRoleAgent,
		RegisteredClaims: jwt.RegisteredClaims{Issuer: TokenIssuer, ExpiresAt: exp},
	}).SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = tm.ParseToken(noUser)
	assert.ErrorIs(t, err, errInvalidClaims)

	foreignIssuer, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		UserID:           "u1",
		Role:             domain.UserRoleAgent,
		RegisteredClaims: jwt.RegisteredClaims{Issuer: "someone-else", ExpiresAt: exp},
	}).SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = tm.ParseToken(foreignIssuer)
	assert.Error(t, err)

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		UserID:           "u1",
		Role:             domain.UserRoleAgent,
		RegisteredClaims: jwt.RegisteredClaims{Issuer: TokenIssuer},
	}).SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = tm.ParseToken(noExpiry)
	assert.Error(t, err)
}
