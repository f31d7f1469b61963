package services_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wager-core/internal/services"
)

func TestJWTService(t *testing.T) {
	_, err := services.NewJWTService("", time.Hour)
	assert.Error(t, err)

	svc, err := services.NewJWTService("secret", time.Hour)
	require.NoError(t, err)

	token, issued, err := svc.GenerateToken(42)
	require.NoError(t, err)
	assert.NotEmpty(t, issued.SessionID)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), claims.UserID)
	assert.Equal(t, issued.SessionID, claims.SessionID)

	other, err := services.NewJWTService("other-secret", time.Hour)
	require.NoError(t, err)
	_, err = other.ValidateToken(token)
	assert.Error(t, err)

	_, err = svc.ValidateToken("not-a-token")
	assert.Error(t, err)
}

func TestJWTServiceExpiry(t *testing.T) {
	svc, err := services.NewJWTService("secret", time.Nanosecond)
	require.NoError(t, err)

	token, _, err := svc.GenerateToken(42)
	require.NoError(t, err)
	time.Sleep(1100 * time.Millisecond)

	_, err = svc.ValidateToken(token)
	assert.Error(t, err)
}
