package auth

import (
	"encoding/json"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"

	"fileshare/internal/apperr"
)

var usernameRegex = regexp.MustCompile(`^[a-z0-9_.-]{3,32}$`)

const maxJSONBodyBytes = 1 << 20

const (
	AccessTokenCookie  = "access_token"
	RefreshTokenCookie = "refresh_token"
)

type Handler struct {
	service    *Service
	refreshTTL time.Duration
	accessTTL  time.Duration
}

func NewHandler(service *Service, accessTTL, refreshTTL time.Duration) *Handler {
	return &Handler{service: service, accessTTL: accessTTL, refreshTTL: refreshTTL}
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	body, ok := parseCredentials(w, r)
	if !ok {
		return
	}

	user, pair, err := h.service.Register(r.Context(), body.Username, body.Password)
	if err != nil {
		writeServiceError(w, err, "failed to register")
		return
	}

	h.setSessionCookies(w, pair)
	writeJSON(w, http.StatusCreated, map[string]string{"user_id": user.ID})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	body, ok := parseCredentials(w, r)
	if !ok {
		return
	}

	user, pair, err := h.service.Login(r.Context(), body.Username, body.Password)
	if err != nil {
		writeServiceError(w, err, "failed to login")
		return
	}

	h.setSessionCookies(w, pair)
	writeJSON(w, http.StatusOK, map[string]string{"user_id": user.ID})
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	user, access, err := h.service.Refresh(r.Context(), refreshTokenFromRequest(r))
	if err != nil {
		writeServiceError(w, err, "failed to refresh session")
		return
	}

	h.setCookie(w, AccessTokenCookie, access, h.accessTTL)
	writeJSON(w, http.StatusOK, map[string]string{"user_id": user.ID})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Logout(r.Context(), refreshTokenFromRequest(r)); err != nil {
		writeServiceError(w, err, "failed to logout")
		return
	}

	h.clearSessionCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	if _, err := h.service.LogoutAll(r.Context(), refreshTokenFromRequest(r)); err != nil {
		writeServiceError(w, err, "failed to logout everywhere")
		return
	}

	h.clearSessionCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) setSessionCookies(w http.ResponseWriter, pair TokenPair) {
	h.setCookie(w, AccessTokenCookie, pair.AccessToken, h.accessTTL)
	h.setCookie(w, RefreshTokenCookie, pair.RefreshToken, h.refreshTTL)
}

func (h *Handler) clearSessionCookies(w http.ResponseWriter) {
	h.setCookie(w, AccessTokenCookie, "", -time.Second)
	h.setCookie(w, RefreshTokenCookie, "", -time.Second)
}

func (h *Handler) setCookie(w http.ResponseWriter, name, value string, ttl time.Duration) {
	cookie := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	if ttl > 0 {
		cookie.MaxAge = int(ttl.Seconds())
	} else {
		cookie.MaxAge = -1
	}
	http.SetCookie(w, cookie)
}

func refreshTokenFromRequest(r *http.Request) string {
	cookie, err := r.Cookie(RefreshTokenCookie)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func parseCredentials(w http.ResponseWriter, r *http.Request) (credentialsRequest, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var body credentialsRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return credentialsRequest{}, false
	}

	body.Username = strings.TrimSpace(body.Username)
	body.Password = strings.TrimSpace(body.Password)
	if !usernameRegex.MatchString(strings.ToLower(body.Username)) {
		writeError(w, http.StatusBadRequest, "username format is invalid")
		return credentialsRequest{}, false
	}
	if len(body.Password) < 8 || len(body.Password) > 200 {
		writeError(w, http.StatusBadRequest, "password format is invalid")
		return credentialsRequest{}, false
	}

	return body, true
}

func writeServiceError(w http.ResponseWriter, err error, fallback string) {
	switch apperr.KindOf(err) {
	case apperr.KindUnauthenticated:
		writeError(w, http.StatusUnauthorized, "invalid credentials")
	case apperr.KindConflict:
		writeError(w, http.StatusConflict, "username already taken")
	case apperr.KindTransient:
		writeError(w, http.StatusServiceUnavailable, "temporarily unavailable, retry")
	default:
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, fallback)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
