package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"fileshare/internal/apperr"
)

const pgUniqueViolation = "23505"

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Create(ctx context.Context, username, passwordHash string) (User, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return User{}, fmt.Errorf("generate user id: %w", err)
	}

	now := time.Now().UTC()
	user := User{
		ID:           id.String(),
		Username:     username,
		PasswordHash: passwordHash,
		SessionEpoch: now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO users (id, username, password_hash, session_epoch, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
	`, user.ID, user.Username, user.PasswordHash, user.SessionEpoch, now)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return User{}, apperr.Wrap(apperr.KindConflict, "username already taken", err)
		}
		return User{}, fmt.Errorf("insert user: %w", err)
	}

	return user, nil
}

func (r *Repository) GetByUsername(ctx context.Context, username string) (User, error) {
	return r.get(ctx, `
		SELECT id, username, password_hash, session_epoch, created_at, updated_at
		FROM users
		WHERE username = $1
	`, username)
}

func (r *Repository) GetByID(ctx context.Context, id string) (User, error) {
	return r.get(ctx, `
		SELECT id, username, password_hash, session_epoch, created_at, updated_at
		FROM users
		WHERE id = $1
	`, id)
}

func (r *Repository) get(ctx context.Context, query, arg string) (User, error) {
	var user User
	err := r.db.QueryRowContext(ctx, query, arg).
		Scan(&user.ID, &user.Username, &user.PasswordHash, &user.SessionEpoch, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, apperr.Wrap(apperr.KindNotFound, "user not found", err)
		}
		return User{}, fmt.Errorf("query user: %w", err)
	}

	user.SessionEpoch = user.SessionEpoch.UTC()
	return user, nil
}

// Exists reports whether a user id is known, used by the permission
// ledger to validate grant targets.
func (r *Repository) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)
	`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check user exists: %w", err)
	}
	return exists, nil
}

// AdvanceSessionEpoch moves the user's epoch watermark to now,
// logically invalidating every refresh token issued before this
// instant without touching the revocation cache.
func (r *Repository) AdvanceSessionEpoch(ctx context.Context, userID string, now time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET session_epoch = $2, updated_at = $2
		WHERE id = $1
	`, userID, now.UTC())
	if err != nil {
		return fmt.Errorf("advance session epoch: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("session epoch rows affected: %w", err)
	}
	if affected == 0 {
		return apperr.New(apperr.KindNotFound, "user not found")
	}

	return nil
}
