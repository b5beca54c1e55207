package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"fileshare/internal/apperr"
)

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour
)

// UserSource is the slice of the credential store the token authority
// needs: identity lookup for the epoch check and the epoch bump for
// global logout.
type UserSource interface {
	GetByID(ctx context.Context, id string) (User, error)
	AdvanceSessionEpoch(ctx context.Context, userID string, now time.Time) error
}

// TokenAuthority mints and validates the two token kinds. Access
// tokens are stateless and valid until natural expiry. Refresh tokens
// are registered in the revocation cache and additionally checked
// against the owning user's session epoch, because the cache TTL and
// the JWT TTL can race around a global logout.
type TokenAuthority struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	users         UserSource
	cache         RevocationCache
}

func NewTokenAuthority(accessSecret, refreshSecret string, users UserSource, cache RevocationCache) *TokenAuthority {
	return &TokenAuthority{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     defaultAccessTTL,
		refreshTTL:    defaultRefreshTTL,
		users:         users,
		cache:         cache,
	}
}

func (a *TokenAuthority) WithTTLs(accessTTL, refreshTTL time.Duration) *TokenAuthority {
	if accessTTL > 0 {
		a.accessTTL = accessTTL
	}
	if refreshTTL > 0 {
		a.refreshTTL = refreshTTL
	}
	return a
}

// IssueSession mints an access/refresh pair for the user and registers
// the refresh token in the revocation cache with the refresh TTL.
func (a *TokenAuthority) IssueSession(ctx context.Context, user User) (TokenPair, error) {
	access, err := a.IssueAccess(user)
	if err != nil {
		return TokenPair{}, err
	}

	refresh, err := a.issueRefresh(user)
	if err != nil {
		return TokenPair{}, err
	}

	if err := a.cache.Put(ctx, refresh, user.ID, a.refreshTTL); err != nil {
		return TokenPair{}, err
	}

	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// IssueAccess mints a short-lived access token alone, used on refresh.
func (a *TokenAuthority) IssueAccess(user User) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(a.accessTTL)),
		},
		UserID:   user.ID,
		Username: user.Username,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.accessSecret)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

// issueRefresh carries a jti so that two sessions opened within the
// same second still get distinct tokens, and distinct cache keys.
func (a *TokenAuthority) issueRefresh(user User) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.refreshTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		UserID:   user.ID,
		Username: user.Username,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.refreshSecret)
	if err != nil {
		return "", fmt.Errorf("sign refresh token: %w", err)
	}
	return signed, nil
}

// ValidateAccess verifies signature and expiry of an access token. No
// revocation lookup happens here: access tokens stay valid until they
// expire naturally.
func (a *TokenAuthority) ValidateAccess(token string) (Claims, error) {
	return a.parse(token, a.accessSecret)
}

// ValidateRefresh verifies a refresh token end to end: cache liveness
// (covers logout and natural TTL expiry), signature and expiry, then
// the session-epoch watermark (covers global logout of tokens whose
// cache entry has not yet expired). Returns the owning user.
func (a *TokenAuthority) ValidateRefresh(ctx context.Context, token string) (User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return User{}, apperr.New(apperr.KindUnauthenticated, "missing refresh token")
	}

	live, err := a.cache.Exists(ctx, token)
	if err != nil {
		return User{}, err
	}
	if !live {
		return User{}, apperr.New(apperr.KindUnauthenticated, "refresh token revoked or expired")
	}

	claims, err := a.parse(token, a.refreshSecret)
	if err != nil {
		return User{}, err
	}

	user, err := a.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if apperr.IsKind(err, apperr.KindNotFound) {
			return User{}, apperr.Wrap(apperr.KindUnauthenticated, "refresh token user unknown", err)
		}
		return User{}, err
	}

	// iat is second-truncated by the JWT codec while the stored epoch
	// keeps sub-second precision; compare at the coarser precision so a
	// token minted in the same second as the watermark stays valid.
	if claims.IssuedAt == nil || claims.IssuedAt.Time.Before(user.SessionEpoch.Truncate(time.Second)) {
		return User{}, apperr.New(apperr.KindUnauthenticated, "refresh token predates session epoch")
	}

	return user, nil
}

// Revoke deletes the refresh token's cache entry. Idempotent.
func (a *TokenAuthority) Revoke(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}
	return a.cache.Del(ctx, token)
}

// RevokeAll advances the user's session epoch to now. Outstanding
// cache entries stay until their TTL but fail the epoch check, so
// every refresh token issued before this instant is dead.
func (a *TokenAuthority) RevokeAll(ctx context.Context, userID string) error {
	return a.users.AdvanceSessionEpoch(ctx, userID, time.Now().UTC())
}

func (a *TokenAuthority) parse(token string, secret []byte) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, apperr.New(apperr.KindUnauthenticated, "missing token")
	}

	claims := Claims{}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Claims{}, apperr.Wrap(apperr.KindUnauthenticated, "invalid or expired token", err)
	}
	if !parsed.Valid || claims.UserID == "" {
		return Claims{}, apperr.New(apperr.KindUnauthenticated, "invalid token claims")
	}

	return claims, nil
}
