package file

import (
	"fmt"
	"time"
)

// Tier is a user's permission grade on a file, transported on the wire
// as one of the literal strings below.
type Tier string

const (
	TierOwner Tier = "owner"
	TierEdit  Tier = "edit"
	TierRead  Tier = "read"
)

func ParseTier(value string) (Tier, error) {
	switch Tier(value) {
	case TierOwner, TierEdit, TierRead:
		return Tier(value), nil
	default:
		return "", fmt.Errorf("invalid permission tier %q", value)
	}
}

type File struct {
	ID        string    `json:"id"`
	Name      string    `json:"file_name"`
	Size      int64     `json:"file_size"`
	Path      string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Grant is the (user, file, tier) relation row. Every live file has
// exactly one grant at TierOwner.
type Grant struct {
	UserID string `json:"user_id"`
	FileID string `json:"file_id"`
	Tier   Tier   `json:"access_type"`
}

// UserFile pairs a file with the caller's tier, for listings.
type UserFile struct {
	File File `json:"file"`
	Tier Tier `json:"access_type"`
}

// UserGrant pairs a grant holder with their tier, for access info.
type UserGrant struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Tier     Tier   `json:"access_type"`
}
