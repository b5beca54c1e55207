package file

import (
	"context"

	"fileshare/internal/apperr"
	"fileshare/internal/observability"
)

// Ledger is the persistent permission-ledger surface. *Repository
// implements it; tests substitute fakes.
type Ledger interface {
	CreateWithOwner(ctx context.Context, ownerID, name string) (File, error)
	File(ctx context.Context, fileID string) (File, error)
	Grant(ctx context.Context, userID, fileID string) (Grant, error)
	UpsertGrant(ctx context.Context, userID, fileID string, tier Tier) (Grant, error)
	TransferOwnership(ctx context.Context, actorID, targetID, fileID string) (Grant, error)
	DeleteGrant(ctx context.Context, userID, fileID string) error
	ListForUser(ctx context.Context, userID string) ([]UserFile, error)
	GrantsForFile(ctx context.Context, fileID string) ([]UserGrant, error)
	Rename(ctx context.Context, fileID, name string) (File, error)
	SetContent(ctx context.Context, fileID, name string, size int64, path string) (File, error)
	DeleteCascade(ctx context.Context, fileID string) (File, error)
}

// UserDirectory answers existence checks for grant targets.
type UserDirectory interface {
	Exists(ctx context.Context, userID string) (bool, error)
}

// ByteStore is the streaming store's deletion hook; invoked after the
// metadata cascade when a file is deleted.
type ByteStore interface {
	Delete(fileID string) error
}

type Service struct {
	ledger Ledger
	users  UserDirectory
	bytes  ByteStore
	logger *observability.Logger
}

func NewService(ledger Ledger, users UserDirectory, bytes ByteStore, logger *observability.Logger) *Service {
	return &Service{ledger: ledger, users: users, bytes: bytes, logger: logger}
}

// Create makes the file record and its owner grant for the actor.
func (s *Service) Create(ctx context.Context, actorID, name string) (File, error) {
	return s.ledger.CreateWithOwner(ctx, actorID, name)
}

// FinishUpload records name, decompressed size and storage path once
// the byte stream has been fully written.
func (s *Service) FinishUpload(ctx context.Context, fileID, name string, size int64, path string) (File, error) {
	return s.ledger.SetContent(ctx, fileID, name, size, path)
}

// AuthorizeRead resolves the actor's grant on the file; any tier
// suffices. A caller without a grant learns nothing beyond NotFound.
func (s *Service) AuthorizeRead(ctx context.Context, actorID, fileID string) (File, error) {
	if _, err := s.ledger.Grant(ctx, actorID, fileID); err != nil {
		return File{}, err
	}
	return s.ledger.File(ctx, fileID)
}

// AuthorizeWrite is AuthorizeRead plus a tier check: read-only holders
// may not replace content or rename.
func (s *Service) AuthorizeWrite(ctx context.Context, actorID, fileID string) (File, error) {
	grant, err := s.ledger.Grant(ctx, actorID, fileID)
	if err != nil {
		return File{}, err
	}
	if grant.Tier == TierRead {
		return File{}, apperr.New(apperr.KindUnauthorized, "edit permission required")
	}
	return s.ledger.File(ctx, fileID)
}

// GrantOrChange creates or updates the target's grant. Granting owner
// transfers ownership: the actor is demoted to edit and the target
// promoted in one atomic unit, preserving the single-owner invariant.
func (s *Service) GrantOrChange(ctx context.Context, actorID, targetID, fileID string, tier Tier) (Grant, error) {
	if err := s.checkOwnerAction(ctx, actorID, targetID, fileID); err != nil {
		return Grant{}, err
	}

	if tier == TierOwner {
		return s.ledger.TransferOwnership(ctx, actorID, targetID, fileID)
	}
	return s.ledger.UpsertGrant(ctx, targetID, fileID, tier)
}

// RevokeGrant removes the target's grant. The owner grant is never
// revocable through this path; it only moves via ownership transfer or
// disappears with the file.
func (s *Service) RevokeGrant(ctx context.Context, actorID, targetID, fileID string) (Grant, error) {
	if err := s.checkOwnerAction(ctx, actorID, targetID, fileID); err != nil {
		return Grant{}, err
	}

	target, err := s.ledger.Grant(ctx, targetID, fileID)
	if err != nil {
		return Grant{}, err
	}
	if target.Tier == TierOwner {
		return Grant{}, apperr.New(apperr.KindForbidden, "cannot revoke the owner grant")
	}

	if err := s.ledger.DeleteGrant(ctx, targetID, fileID); err != nil {
		return Grant{}, err
	}
	return target, nil
}

func (s *Service) checkOwnerAction(ctx context.Context, actorID, targetID, fileID string) error {
	if targetID == actorID {
		return apperr.New(apperr.KindForbidden, "cannot change your own permission")
	}

	grant, err := s.ledger.Grant(ctx, actorID, fileID)
	if err != nil {
		return err
	}
	if grant.Tier != TierOwner {
		return apperr.New(apperr.KindUnauthorized, "owner permission required")
	}

	exists, err := s.users.Exists(ctx, targetID)
	if err != nil {
		return err
	}
	if !exists {
		return apperr.New(apperr.KindNotFound, "target user not found")
	}

	return nil
}

// Rename changes the display name; read-only holders are refused.
func (s *Service) Rename(ctx context.Context, actorID, fileID, newName string) (File, error) {
	grant, err := s.ledger.Grant(ctx, actorID, fileID)
	if err != nil {
		return File{}, err
	}
	if grant.Tier == TierRead {
		return File{}, apperr.New(apperr.KindUnauthorized, "edit permission required")
	}

	return s.ledger.Rename(ctx, fileID, newName)
}

// Delete cascades: every grant, then the file record, then the backing
// bytes. A bytes-removal failure after the metadata commit is logged
// and left for out-of-band reconciliation; the deletion stands.
func (s *Service) Delete(ctx context.Context, actorID, fileID string) (File, error) {
	grant, err := s.ledger.Grant(ctx, actorID, fileID)
	if err != nil {
		return File{}, err
	}
	if grant.Tier != TierOwner {
		return File{}, apperr.New(apperr.KindUnauthorized, "owner permission required")
	}

	deleted, err := s.ledger.DeleteCascade(ctx, fileID)
	if err != nil {
		return File{}, err
	}

	if err := s.bytes.Delete(fileID); err != nil {
		if apperr.IsKind(err, apperr.KindNotFound) {
			s.logger.Info("file_bytes_already_absent", map[string]any{"file_id": fileID})
		} else {
			s.logger.Error("file_bytes_delete_failed", map[string]any{
				"file_id": fileID,
				"error":   err.Error(),
			})
		}
	}

	return deleted, nil
}

func (s *Service) ListForUser(ctx context.Context, userID string) ([]UserFile, error) {
	return s.ledger.ListForUser(ctx, userID)
}

// GrantInfo returns the file and every grant on it. The actor must
// hold some grant on the file.
func (s *Service) GrantInfo(ctx context.Context, actorID, fileID string) (File, []UserGrant, error) {
	if _, err := s.ledger.Grant(ctx, actorID, fileID); err != nil {
		return File{}, nil, err
	}

	f, err := s.ledger.File(ctx, fileID)
	if err != nil {
		return File{}, nil, err
	}

	grants, err := s.ledger.GrantsForFile(ctx, fileID)
	if err != nil {
		return File{}, nil, err
	}

	return f, grants, nil
}
