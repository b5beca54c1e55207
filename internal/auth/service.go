package auth

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"fileshare/internal/apperr"
)

// UserStore is the credential-store surface the service needs.
// *Repository implements it; tests substitute fakes.
type UserStore interface {
	Create(ctx context.Context, username, passwordHash string) (User, error)
	GetByUsername(ctx context.Context, username string) (User, error)
}

type Service struct {
	users  UserStore
	tokens *TokenAuthority
}

func NewService(users UserStore, tokens *TokenAuthority) *Service {
	return &Service{users: users, tokens: tokens}
}

// Register creates the user and opens a session in one step, as the
// wire contract expects both cookies on a successful registration.
func (s *Service) Register(ctx context.Context, username, password string) (User, TokenPair, error) {
	username = strings.TrimSpace(strings.ToLower(username))
	password = strings.TrimSpace(password)
	if username == "" || password == "" {
		return User{}, TokenPair{}, apperr.New(apperr.KindUnauthenticated, "invalid credentials")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, TokenPair{}, err
	}

	user, err := s.users.Create(ctx, username, string(hash))
	if err != nil {
		return User{}, TokenPair{}, err
	}

	pair, err := s.tokens.IssueSession(ctx, user)
	if err != nil {
		return User{}, TokenPair{}, err
	}

	return user, pair, nil
}

func (s *Service) Login(ctx context.Context, username, password string) (User, TokenPair, error) {
	username = strings.TrimSpace(strings.ToLower(username))
	password = strings.TrimSpace(password)
	if username == "" || password == "" {
		return User{}, TokenPair{}, apperr.New(apperr.KindUnauthenticated, "invalid credentials")
	}

	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if apperr.IsKind(err, apperr.KindNotFound) {
			return User{}, TokenPair{}, apperr.Wrap(apperr.KindUnauthenticated, "invalid credentials", err)
		}
		return User{}, TokenPair{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return User{}, TokenPair{}, apperr.Wrap(apperr.KindUnauthenticated, "invalid credentials", err)
		}
		return User{}, TokenPair{}, err
	}

	pair, err := s.tokens.IssueSession(ctx, user)
	if err != nil {
		return User{}, TokenPair{}, err
	}

	return user, pair, nil
}

// Refresh validates the refresh token and mints a new access token.
// The refresh token itself stays valid until logout or TTL.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (User, string, error) {
	user, err := s.tokens.ValidateRefresh(ctx, refreshToken)
	if err != nil {
		return User{}, "", err
	}

	access, err := s.tokens.IssueAccess(user)
	if err != nil {
		return User{}, "", err
	}

	return user, access, nil
}

// Logout requires a live refresh token, then revokes it. Revocation is
// idempotent; a second logout with the same token fails validation.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if _, err := s.tokens.ValidateRefresh(ctx, refreshToken); err != nil {
		return err
	}
	return s.tokens.Revoke(ctx, refreshToken)
}

// LogoutAll invalidates every session of the token's owner via the
// epoch watermark, including the presented token itself.
func (s *Service) LogoutAll(ctx context.Context, refreshToken string) (User, error) {
	user, err := s.tokens.ValidateRefresh(ctx, refreshToken)
	if err != nil {
		return User{}, err
	}
	if err := s.tokens.RevokeAll(ctx, user.ID); err != nil {
		return User{}, err
	}
	return user, nil
}
