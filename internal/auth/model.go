package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type User struct {
	ID           string
	Username     string
	PasswordHash string
	// SessionEpoch is the only field mutated after creation: refresh
	// tokens issued before it are invalid regardless of their TTL.
	SessionEpoch time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// Claims is the signed payload of both token kinds. Access tokens
// carry {user_id, username, exp}; refresh tokens additionally carry
// the standard iat claim, compared against the user's session epoch.
type Claims struct {
	jwt.RegisteredClaims
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}
