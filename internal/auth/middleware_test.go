package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddleware(t *testing.T) {
	user := testUser()
	authority := newTestAuthority(newFakeUserSource(user), newFakeCache())

	access, err := authority.IssueAccess(user)
	require.NoError(t, err)

	var seen Identity
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFromContext(r.Context())
		require.True(t, ok)
		seen = identity
		w.WriteHeader(http.StatusNoContent)
	})
	handler := Middleware(authority, next)

	t.Run("valid cookie", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/files", nil)
		req.AddCookie(&http.Cookie{Name: AccessTokenCookie, Value: access})
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, Identity{UserID: "u1", Username: "alice"}, seen)
	})

	t.Run("missing cookie", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/files", nil)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("garbage cookie", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/files", nil)
		req.AddCookie(&http.Cookie{Name: AccessTokenCookie, Value: "not-a-token"})
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("refresh token is not an access token", func(t *testing.T) {
		pair, err := authority.IssueSession(t.Context(), user)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/files", nil)
		req.AddCookie(&http.Cookie{Name: AccessTokenCookie, Value: pair.RefreshToken})
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestLoginRateLimiter(t *testing.T) {
	limiter := NewLoginRateLimiter(3, time.Minute)
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	hit := func(ip string) int {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
		req.RemoteAddr = ip
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, hit("10.0.0.1:1234"))
	}
	assert.Equal(t, http.StatusTooManyRequests, hit("10.0.0.1:1234"))

	// Other clients are unaffected.
	assert.Equal(t, http.StatusOK, hit("10.0.0.2:1234"))
}
