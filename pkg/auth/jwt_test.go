package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	InitJWT("test-secret")

	token, err := GenerateToken(42, "casey", 1)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, uint(42), claims.UserID)
	assert.Equal(t, "casey", claims.Username)
	assert.Equal(t, "tourflow", claims.Issuer)
}

func TestExpiredTokenIsRejected(t *testing.T) {
	InitJWT("test-secret")

	token, err := GenerateToken(7, "old", -1)
	require.NoError(t, err)

	_, err = ParseToken(token)
	assert.Error(t, err)
}

func TestTokenSignedWithOtherSecretIsRejected(t *testing.T) {
	InitJWT("first-secret")
	token, err := GenerateToken(7, "drifter", 1)
	require.NoError(t, err)

	InitJWT("second-secret")
	_, err = ParseToken(token)
	assert.Error(t, err)
}

func TestGarbageTokenIsRejected(t *testing.T) {
	InitJWT("test-secret")

	_, err := ParseToken("not.a.token")
	assert.Error(t, err)
}
