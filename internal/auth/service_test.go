package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatrelay/internal/config"
	"chatrelay/internal/errs"
)

var secret = []byte("test-secret")

func newTestService() *Service {
	return NewService(&config.Config{JWT: config.JWTConfig{Secret: secret}})
}

func TestValidateToken(t *testing.T) {
	svc := newTestService()

	token, err := Sign(secret, "alice", "Alice", time.Hour)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.UserID)
	assert.Equal(t, "Alice", claims.DisplayName)
}

func TestValidateToken_Rejects(t *testing.T) {
	svc := newTestService()

	expired, err := Sign(secret, "alice", "", -time.Minute)
	require.NoError(t, err)
	forged, err := Sign([]byte("other"), "alice", "", time.Hour)
	require.NoError(t, err)
	noUser, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(secret)
	require.NoError(t, err)

	for name, token := range map[string]string{
		"expired": expired,
		"forged":  forged,
		"no user": noUser,
		"garbage": "not-a-token",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := svc.ValidateToken(token)
			require.Error(t, err)
			assert.True(t, errs.Is(err, errs.ErrUnauthorized))
		})
	}
}

func TestValidateToken_SubjectFallback(t *testing.T) {
	svc := newTestService()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "bob",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(secret)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "bob", claims.UserID)
}

func TestFromRequest(t *testing.T) {
	svc := newTestService()
	token, err := Sign(secret, "carol", "", time.Hour)
	require.NoError(t, err)

	r := httptest.NewRequest("GET", "/ws?token="+token, nil)
	claims, err := svc.FromRequest(r)
	require.NoError(t, err)
	assert.Equal(t, "carol", claims.UserID)

	r = httptest.NewRequest("GET", "/conversations", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	claims, err = svc.FromRequest(r)
	require.NoError(t, err)
	assert.Equal(t, "carol", claims.UserID)

	_, err = svc.FromRequest(httptest.NewRequest("GET", "/conversations", nil))
	assert.True(t, errs.Is(err, errs.ErrUnauthorized))
}
