package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHandlerUnderTest() *Handler {
	service, _, _ := newTestService()
	return NewHandler(service, time.Minute, time.Hour)
}

func credentialsBody(username, password string) *strings.Reader {
	return strings.NewReader(`{"username":"` + username + `","password":"` + password + `"}`)
}

func cookieByName(t *testing.T, rec *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()
	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == name {
			return cookie
		}
	}
	t.Fatalf("cookie %q not set", name)
	return nil
}

func TestRegisterSetsSessionCookies(t *testing.T) {
	handler := newHandlerUnderTest()

	req := httptest.NewRequest(http.MethodPost, "/auth/register", credentialsBody("alice", "s3cret-password"))
	rec := httptest.NewRecorder()
	handler.Register(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	access := cookieByName(t, rec, AccessTokenCookie)
	assert.NotEmpty(t, access.Value)
	assert.True(t, access.HttpOnly)
	assert.Equal(t, 60, access.MaxAge)

	refresh := cookieByName(t, rec, RefreshTokenCookie)
	assert.NotEmpty(t, refresh.Value)
	assert.Equal(t, 3600, refresh.MaxAge)
}

func TestRegisterValidation(t *testing.T) {
	handler := newHandlerUnderTest()

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"username":`},
		{"unknown field", `{"username":"alice","password":"s3cret-password","admin":true}`},
		{"short username", `{"username":"ab","password":"s3cret-password"}`},
		{"illegal username chars", `{"username":"al ice","password":"s3cret-password"}`},
		{"short password", `{"username":"alice","password":"short"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/auth/register", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			handler.Register(rec, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestRegisterDuplicateReturnsConflict(t *testing.T) {
	handler := newHandlerUnderTest()

	first := httptest.NewRecorder()
	handler.Register(first, httptest.NewRequest(http.MethodPost, "/auth/register", credentialsBody("alice", "s3cret-password")))
	require.Equal(t, http.StatusCreated, first.Code)

	second := httptest.NewRecorder()
	handler.Register(second, httptest.NewRequest(http.MethodPost, "/auth/register", credentialsBody("alice", "other-password")))
	assert.Equal(t, http.StatusConflict, second.Code)
}

func TestLoginWrongPasswordReturns401(t *testing.T) {
	handler := newHandlerUnderTest()

	rec := httptest.NewRecorder()
	handler.Register(rec, httptest.NewRequest(http.MethodPost, "/auth/register", credentialsBody("alice", "s3cret-password")))
	require.Equal(t, http.StatusCreated, rec.Code)

	login := httptest.NewRecorder()
	handler.Login(login, httptest.NewRequest(http.MethodPost, "/auth/login", credentialsBody("alice", "wrong-password")))
	assert.Equal(t, http.StatusUnauthorized, login.Code)
}

func TestRefreshRotatesAccessCookie(t *testing.T) {
	handler := newHandlerUnderTest()

	registered := httptest.NewRecorder()
	handler.Register(registered, httptest.NewRequest(http.MethodPost, "/auth/register", credentialsBody("alice", "s3cret-password")))
	require.Equal(t, http.StatusCreated, registered.Code)
	refresh := cookieByName(t, registered, RefreshTokenCookie)

	req := httptest.NewRequest(http.MethodGet, "/auth/refresh", nil)
	req.AddCookie(refresh)
	rec := httptest.NewRecorder()
	handler.Refresh(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	access := cookieByName(t, rec, AccessTokenCookie)
	assert.NotEmpty(t, access.Value)
}

func TestRefreshWithoutCookie(t *testing.T) {
	handler := newHandlerUnderTest()

	rec := httptest.NewRecorder()
	handler.Refresh(rec, httptest.NewRequest(http.MethodGet, "/auth/refresh", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogoutClearsCookiesAndRevokes(t *testing.T) {
	handler := newHandlerUnderTest()

	registered := httptest.NewRecorder()
	handler.Register(registered, httptest.NewRequest(http.MethodPost, "/auth/register", credentialsBody("alice", "s3cret-password")))
	require.Equal(t, http.StatusCreated, registered.Code)
	refresh := cookieByName(t, registered, RefreshTokenCookie)

	logoutReq := httptest.NewRequest(http.MethodGet, "/auth/logout", nil)
	logoutReq.AddCookie(refresh)
	logoutRec := httptest.NewRecorder()
	handler.Logout(logoutRec, logoutReq)

	require.Equal(t, http.StatusNoContent, logoutRec.Code)
	cleared := cookieByName(t, logoutRec, RefreshTokenCookie)
	assert.Empty(t, cleared.Value)
	assert.Equal(t, -1, cleared.MaxAge)

	// The revoked token no longer refreshes.
	refreshReq := httptest.NewRequest(http.MethodGet, "/auth/refresh", nil)
	refreshReq.AddCookie(refresh)
	refreshRec := httptest.NewRecorder()
	handler.Refresh(refreshRec, refreshReq)
	assert.Equal(t, http.StatusUnauthorized, refreshRec.Code)
}
