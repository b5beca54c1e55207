package file

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"fileshare/internal/apperr"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// CreateWithOwner inserts the file record and its owner grant in one
// transaction: both rows or neither.
func (r *Repository) CreateWithOwner(ctx context.Context, ownerID, name string) (File, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return File{}, fmt.Errorf("generate file id: %w", err)
	}

	now := time.Now().UTC()
	f := File{
		ID:        id.String(),
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return File{}, fmt.Errorf("begin create file tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO files (id, file_name, file_size, file_path, created_at, updated_at)
		VALUES ($1, $2, 0, '', $3, $3)
	`, f.ID, f.Name, now); err != nil {
		return File{}, fmt.Errorf("insert file: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO user_files (user_id, file_id, access_type)
		VALUES ($1, $2, $3)
	`, ownerID, f.ID, TierOwner); err != nil {
		return File{}, fmt.Errorf("insert owner grant: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return File{}, fmt.Errorf("commit create file tx: %w", err)
	}

	return f, nil
}

func (r *Repository) File(ctx context.Context, fileID string) (File, error) {
	var f File
	err := r.db.QueryRowContext(ctx, `
		SELECT id, file_name, file_size, file_path, created_at, updated_at
		FROM files
		WHERE id = $1
	`, fileID).Scan(&f.ID, &f.Name, &f.Size, &f.Path, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return File{}, apperr.Wrap(apperr.KindNotFound, "file not found", err)
		}
		return File{}, fmt.Errorf("query file: %w", err)
	}

	return f, nil
}

// Exists reports whether a file record is present, used by the
// orphan-bytes reconciliation sweep.
func (r *Repository) Exists(ctx context.Context, fileID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM files WHERE id = $1)
	`, fileID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check file exists: %w", err)
	}
	return exists, nil
}

func (r *Repository) Grant(ctx context.Context, userID, fileID string) (Grant, error) {
	var g Grant
	err := r.db.QueryRowContext(ctx, `
		SELECT user_id, file_id, access_type
		FROM user_files
		WHERE user_id = $1 AND file_id = $2
	`, userID, fileID).Scan(&g.UserID, &g.FileID, &g.Tier)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Grant{}, apperr.Wrap(apperr.KindNotFound, "grant not found", err)
		}
		return Grant{}, fmt.Errorf("query grant: %w", err)
	}

	return g, nil
}

// UpsertGrant creates or updates the target's grant. The update never
// touches a row at owner tier: a transfer that committed after the
// caller's owner check would otherwise be demoted here, leaving the
// file ownerless.
func (r *Repository) UpsertGrant(ctx context.Context, userID, fileID string, tier Tier) (Grant, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO user_files (user_id, file_id, access_type)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, file_id)
		DO UPDATE SET access_type = EXCLUDED.access_type
		WHERE user_files.access_type <> 'owner'
	`, userID, fileID, tier)
	if err != nil {
		return Grant{}, fmt.Errorf("upsert grant: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return Grant{}, fmt.Errorf("upsert grant rows affected: %w", err)
	}
	if affected == 0 {
		// The target holds the owner grant, so the actor lost theirs to
		// a concurrent transfer.
		return Grant{}, apperr.New(apperr.KindUnauthorized, "owner permission required")
	}

	return Grant{UserID: userID, FileID: fileID, Tier: tier}, nil
}

// TransferOwnership demotes the current owner to edit and promotes the
// target to owner as one atomic unit. The FOR UPDATE lock on the
// actor's grant row serializes racing transfers on the same file, so
// the file never observably has zero or two owners.
func (r *Repository) TransferOwnership(ctx context.Context, actorID, targetID, fileID string) (Grant, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Grant{}, fmt.Errorf("begin ownership transfer tx: %w", err)
	}
	defer tx.Rollback()

	var tier Tier
	err = tx.QueryRowContext(ctx, `
		SELECT access_type
		FROM user_files
		WHERE user_id = $1 AND file_id = $2
		FOR UPDATE
	`, actorID, fileID).Scan(&tier)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Grant{}, apperr.Wrap(apperr.KindNotFound, "grant not found", err)
		}
		return Grant{}, fmt.Errorf("lock owner grant: %w", err)
	}
	if tier != TierOwner {
		// A concurrent transfer won the race after the service-level
		// check passed.
		return Grant{}, apperr.New(apperr.KindUnauthorized, "owner permission required")
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE user_files
		SET access_type = $3
		WHERE user_id = $1 AND file_id = $2
	`, actorID, fileID, TierEdit); err != nil {
		return Grant{}, fmt.Errorf("demote owner: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO user_files (user_id, file_id, access_type)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, file_id)
		DO UPDATE SET access_type = EXCLUDED.access_type
	`, targetID, fileID, TierOwner); err != nil {
		return Grant{}, fmt.Errorf("promote new owner: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Grant{}, fmt.Errorf("commit ownership transfer tx: %w", err)
	}

	return Grant{UserID: targetID, FileID: fileID, Tier: TierOwner}, nil
}

// DeleteGrant removes the target's grant. The owner row is shielded at
// the SQL level so a revoke racing an ownership transfer cannot strip
// the freshly promoted owner.
func (r *Repository) DeleteGrant(ctx context.Context, userID, fileID string) error {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM user_files
		WHERE user_id = $1 AND file_id = $2 AND access_type <> 'owner'
	`, userID, fileID)
	if err != nil {
		return fmt.Errorf("delete grant: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete grant rows affected: %w", err)
	}
	if affected == 0 {
		var tier Tier
		err := r.db.QueryRowContext(ctx, `
			SELECT access_type
			FROM user_files
			WHERE user_id = $1 AND file_id = $2
		`, userID, fileID).Scan(&tier)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return apperr.New(apperr.KindNotFound, "grant not found")
		case err != nil:
			return fmt.Errorf("recheck grant: %w", err)
		default:
			return apperr.New(apperr.KindForbidden, "cannot revoke the owner grant")
		}
	}

	return nil
}

func (r *Repository) ListForUser(ctx context.Context, userID string) ([]UserFile, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT f.id, f.file_name, f.file_size, f.file_path, f.created_at, f.updated_at, uf.access_type
		FROM user_files uf
		JOIN files f ON f.id = uf.file_id
		WHERE uf.user_id = $1
		ORDER BY f.created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query user files: %w", err)
	}
	defer rows.Close()

	files := make([]UserFile, 0)
	for rows.Next() {
		var uf UserFile
		if err := rows.Scan(&uf.File.ID, &uf.File.Name, &uf.File.Size, &uf.File.Path,
			&uf.File.CreatedAt, &uf.File.UpdatedAt, &uf.Tier); err != nil {
			return nil, fmt.Errorf("scan user file: %w", err)
		}
		files = append(files, uf)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user files: %w", err)
	}

	return files, nil
}

func (r *Repository) GrantsForFile(ctx context.Context, fileID string) ([]UserGrant, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT uf.user_id, u.username, uf.access_type
		FROM user_files uf
		JOIN users u ON u.id = uf.user_id
		WHERE uf.file_id = $1
		ORDER BY u.username ASC
	`, fileID)
	if err != nil {
		return nil, fmt.Errorf("query file grants: %w", err)
	}
	defer rows.Close()

	grants := make([]UserGrant, 0)
	for rows.Next() {
		var g UserGrant
		if err := rows.Scan(&g.UserID, &g.Username, &g.Tier); err != nil {
			return nil, fmt.Errorf("scan file grant: %w", err)
		}
		grants = append(grants, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate file grants: %w", err)
	}

	return grants, nil
}

func (r *Repository) Rename(ctx context.Context, fileID, name string) (File, error) {
	var f File
	err := r.db.QueryRowContext(ctx, `
		UPDATE files
		SET file_name = $2, updated_at = $3
		WHERE id = $1
		RETURNING id, file_name, file_size, file_path, created_at, updated_at
	`, fileID, name, time.Now().UTC()).
		Scan(&f.ID, &f.Name, &f.Size, &f.Path, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return File{}, apperr.Wrap(apperr.KindNotFound, "file not found", err)
		}
		return File{}, fmt.Errorf("rename file: %w", err)
	}

	return f, nil
}

// SetContent records the decompressed size and storage path after an
// upload or content replace, optionally renaming in the same step.
func (r *Repository) SetContent(ctx context.Context, fileID, name string, size int64, path string) (File, error) {
	var f File
	err := r.db.QueryRowContext(ctx, `
		UPDATE files
		SET file_name = COALESCE(NULLIF($2, ''), file_name),
		    file_size = $3,
		    file_path = $4,
		    updated_at = $5
		WHERE id = $1
		RETURNING id, file_name, file_size, file_path, created_at, updated_at
	`, fileID, name, size, path, time.Now().UTC()).
		Scan(&f.ID, &f.Name, &f.Size, &f.Path, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return File{}, apperr.Wrap(apperr.KindNotFound, "file not found", err)
		}
		return File{}, fmt.Errorf("record file content: %w", err)
	}

	return f, nil
}

// DeleteCascade removes every grant for the file and then the file
// record itself, atomically.
func (r *Repository) DeleteCascade(ctx context.Context, fileID string) (File, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return File{}, fmt.Errorf("begin delete file tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM user_files WHERE file_id = $1
	`, fileID); err != nil {
		return File{}, fmt.Errorf("delete file grants: %w", err)
	}

	var f File
	err = tx.QueryRowContext(ctx, `
		DELETE FROM files
		WHERE id = $1
		RETURNING id, file_name, file_size, file_path, created_at, updated_at
	`, fileID).Scan(&f.ID, &f.Name, &f.Size, &f.Path, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return File{}, apperr.Wrap(apperr.KindNotFound, "file not found", err)
		}
		return File{}, fmt.Errorf("delete file: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return File{}, fmt.Errorf("commit delete file tx: %w", err)
	}

	return f, nil
}
