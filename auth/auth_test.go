package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) {
	t.Helper()
	err := Initialize(Config{
		Username: "admin",
		Password: "correct horse battery staple",
		Secret:   "test-secret",
		TokenTTL: time.Hour,
	})
	require.NoError(t, err)
}

func TestValidateCredentials(t *testing.T) {
	setup(t)

	assert.True(t, ValidateCredentials("admin", "correct horse battery staple"))
	assert.False(t, ValidateCredentials("admin", "wrong password"))
	assert.False(t, ValidateCredentials("somebody", "correct horse battery staple"))
	assert.False(t, ValidateCredentials("", ""))
}

func TestTokenRoundtrip(t *testing.T) {
	setup(t)

	token, err := GenerateToken("admin")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	userID, err := ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "admin", userID)
}

func TestInvalidateTokenRevokes(t *testing.T) {
	setup(t)

	token, err := GenerateToken("admin")
	require.NoError(t, err)

	InvalidateToken(token)

	_, err = ValidateToken(token)
	assert.Error(t, err)
}

func TestValidateTokenRejectsUnknown(t *testing.T) {
	setup(t)

	_, err := ValidateToken("never-issued")
	assert.Error(t, err)
}

func TestValidateTokenRejectsForeignSignature(t *testing.T) {
	setup(t)
	token, err := GenerateToken("admin")
	require.NoError(t, err)

	// Rotating the secret invalidates previously signed tokens even though
	// they are still in the issued set.
	require.NoError(t, Initialize(Config{
		Username: "admin",
		Password: "correct horse battery staple",
		Secret:   "rotated-secret",
		TokenTTL: time.Hour,
	}))

	_, err = ValidateToken(token)
	assert.Error(t, err)
}
