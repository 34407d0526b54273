package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bunkerm/mqadmin/pkg/logging"
)

var testSecret = []byte("test-secret-0123456789abcdef")

func newVerifier() *JWTVerifier {
	return NewJWTVerifier(testSecret, "mqadmin-test")
}

func signFor(t *testing.T, role Role, ttl time.Duration) string {
	t.Helper()
	v := newVerifier()
	token, err := v.SignToken(Identity{UID: "u-1", Email: "ops@example.com", Role: role}, ttl)
	require.NoError(t, err)
	return token
}

func TestVerifyValidToken(t *testing.T) {
	v := newVerifier()
	token := signFor(t, RoleModerator, time.Minute)

	id, err := v.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "u-1", id.UID)
	assert.Equal(t, "ops@example.com", id.Email)
	assert.Equal(t, RoleModerator, id.Role)
	assert.True(t, id.CanManage())
	assert.True(t, id.CanViewStats())
}

func TestVerifyExpiredToken(t *testing.T) {
	v := newVerifier()
	token := signFor(t, RoleAdmin, -time.Minute)

	_, err := v.Verify(context.Background(), token)
	require.ErrorIs(t, err, ErrExpiredToken)
}

func TestVerifyWrongSecret(t *testing.T) {
	other := NewJWTVerifier([]byte("a-completely-different-secret"), "mqadmin-test")
	token := signFor(t, RoleAdmin, time.Minute)

	_, err := other.Verify(context.Background(), token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyGarbage(t *testing.T) {
	v := newVerifier()
	_, err := v.Verify(context.Background(), "not-a-jwt")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyDefaultsToUserRole(t *testing.T) {
	v := newVerifier()
	token, err := v.SignToken(Identity{UID: "u-2"}, time.Minute)
	require.NoError(t, err)

	id, err := v.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, RoleUser, id.Role)
	assert.False(t, id.CanViewStats())
}

func TestRoleCovers(t *testing.T) {
	tests := []struct {
		role     Role
		required Role
		want     bool
	}{
		{RoleAdmin, RoleAdmin, true},
		{RoleAdmin, RoleViewer, true},
		{RoleModerator, RoleAdmin, false},
		{RoleModerator, RoleViewer, true},
		{RoleViewer, RoleViewer, true},
		{RoleViewer, RoleModerator, false},
		{RoleUser, RoleViewer, false},
		{Role("something-else"), RoleViewer, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.role.Covers(tt.required),
			"%s covers %s", tt.role, tt.required)
	}
}

func TestMiddlewareTiers(t *testing.T) {
	v := newVerifier()
	mw := NewMiddleware(v, logging.Nop())

	var gotIdentity Identity
	handler := mw.Require(RoleViewer, func(w http.ResponseWriter, r *http.Request) {
		gotIdentity, _ = IdentityFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	t.Run("no credentials", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler(rec, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("viewer allowed", func(t *testing.T) {
		rec := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
		r.Header.Set("Authorization", "Bearer "+signFor(t, RoleViewer, time.Minute))
		handler(rec, r)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, RoleViewer, gotIdentity.Role)
	})

	t.Run("user denied", func(t *testing.T) {
		rec := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
		r.Header.Set("Authorization", "Bearer "+signFor(t, RoleUser, time.Minute))
		handler(rec, r)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("expired token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
		r.Header.Set("Authorization", "Bearer "+signFor(t, RoleViewer, -time.Minute))
		handler(rec, r)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "token_expired")
	})
}
