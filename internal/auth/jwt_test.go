package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearth-security/hearth-server/internal/apperr"
	"github.com/hearth-security/hearth-server/internal/config"
)

func TestJWTManager_RoundTrip(t *testing.T) {
	m := NewJWTManager(&config.JWTConfig{Secret: "user-secret", AccessTokenTTL: time.Hour})

	userID := uuid.New()
	spaceID := uuid.New()
	token, err := m.GenerateToken(userID, &spaceID, false)
	require.NoError(t, err)

	claims, err := m.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.True(t, claims.CanAccessSpace(spaceID))
	assert.False(t, claims.CanAccessSpace(uuid.New()))
}

func TestJWTManager_Rejects(t *testing.T) {
	m := NewJWTManager(&config.JWTConfig{Secret: "user-secret", AccessTokenTTL: time.Hour})
	other := NewJWTManager(&config.JWTConfig{Secret: "other", AccessTokenTTL: time.Hour})
	expired := NewJWTManager(&config.JWTConfig{Secret: "user-secret", AccessTokenTTL: -time.Minute})

	token, err := other.GenerateToken(uuid.New(), nil, true)
	require.NoError(t, err)
	_, err = m.ValidateToken(token)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	token, err = expired.GenerateToken(uuid.New(), nil, true)
	require.NoError(t, err)
	_, err = m.ValidateToken(token)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}

func TestServiceAuth(t *testing.T) {
	a := NewServiceAuth(&config.InternalConfig{Secret: "shared", TokenTTL: time.Minute})

	token, err := a.GenerateServiceToken("device-gateway")
	require.NoError(t, err)

	service, err := a.ValidateServiceToken(token)
	require.NoError(t, err)
	assert.Equal(t, "device-gateway", service)

	// A user token signed with the same secret lacks the internal audience.
	users := NewJWTManager(&config.JWTConfig{Secret: "shared", AccessTokenTTL: time.Hour})
	userToken, err := users.GenerateToken(uuid.New(), nil, true)
	require.NoError(t, err)
	_, err = a.ValidateServiceToken(userToken)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}

func TestServiceMiddleware(t *testing.T) {
	a := NewServiceAuth(&config.InternalConfig{Secret: "shared", TokenTTL: time.Minute})

	var seen string
	handler := ServiceMiddleware(a, func(w http.ResponseWriter, err error) {
		w.WriteHeader(apperr.HTTPStatus(err))
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = ServiceFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req.Header.Set("Authorization", "Basic abc")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := a.GenerateServiceToken("device-gateway")
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "device-gateway", seen)
}
