package services

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthService_IssueAndValidate(t *testing.T) {
	auth := NewAuthService("secret", "roomsignal", time.Hour)

	token, expiresAt, err := auth.IssueJoinToken("R", "Alice")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)

	claims, err := auth.ValidateJoinToken(token)
	require.NoError(t, err)
	assert.EqualValues(t, "R", claims.RoomID)
	assert.Equal(t, "Alice", claims.DisplayName)
	assert.Equal(t, expiresAt.Unix(), claims.ExpiresAt.Unix())
}

func TestAuthService_RejectsForeignSecretAndIssuer(t *testing.T) {
	auth := NewAuthService("secret", "roomsignal", time.Hour)

	other := NewAuthService("other-secret", "roomsignal", time.Hour)
	token, _, err := other.IssueJoinToken("R", "Mallory")
	require.NoError(t, err)
	_, err = auth.ValidateJoinToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	wrongIssuer := NewAuthService("secret", "someone-else", time.Hour)
	token, _, err = wrongIssuer.IssueJoinToken("R", "Mallory")
	require.NoError(t, err)
	_, err = auth.ValidateJoinToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = auth.ValidateJoinToken("not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthService_Expired(t *testing.T) {
	auth := NewAuthService("secret", "roomsignal", time.Minute).(*authService)
	issued := time.Now().Add(-time.Hour)
	auth.now = func() time.Time { return issued }
	token, _, err := auth.IssueJoinToken("R", "Alice")
	require.NoError(t, err)

	auth.now = time.Now
	_, err = auth.ValidateJoinToken(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestAuthService_RejectsNoneAlgorithm(t *testing.T) {
	auth := NewAuthService("secret", "roomsignal", time.Hour)

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"room_id": "R", "iss": "roomsignal"})
	token, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = auth.ValidateJoinToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
