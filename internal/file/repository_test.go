package file

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fileshare/internal/apperr"
)

func newMockRepository(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRepository(db), mock
}

func TestCreateWithOwner(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO files").
		WithArgs(sqlmock.AnyArg(), "report.pdf", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO user_files").
		WithArgs("userA", sqlmock.AnyArg(), TierOwner).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	f, err := repo.CreateWithOwner(context.Background(), "userA", "report.pdf")
	require.NoError(t, err)
	assert.Equal(t, "report.pdf", f.Name)
	assert.NotEmpty(t, f.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateWithOwnerRollsBackOnGrantFailure(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO files").
		WithArgs(sqlmock.AnyArg(), "report.pdf", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO user_files").
		WithArgs("userA", sqlmock.AnyArg(), TierOwner).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, err := repo.CreateWithOwner(context.Background(), "userA", "report.pdf")
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransferOwnership(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT access_type").
		WithArgs("userA", "f1").
		WillReturnRows(sqlmock.NewRows([]string{"access_type"}).AddRow("owner"))
	mock.ExpectExec("UPDATE user_files").
		WithArgs("userA", "f1", TierEdit).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO user_files").
		WithArgs("userB", "f1", TierOwner).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	grant, err := repo.TransferOwnership(context.Background(), "userA", "userB", "f1")
	require.NoError(t, err)
	assert.Equal(t, Grant{UserID: "userB", FileID: "f1", Tier: TierOwner}, grant)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransferOwnershipLostRace(t *testing.T) {
	repo, mock := newMockRepository(t)

	// The actor's grant was demoted by a concurrent transfer between
	// the service check and the row lock.
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT access_type").
		WithArgs("userA", "f1").
		WillReturnRows(sqlmock.NewRows([]string{"access_type"}).AddRow("edit"))
	mock.ExpectRollback()

	_, err := repo.TransferOwnership(context.Background(), "userA", "userB", "f1")
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransferOwnershipNoGrant(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT access_type").
		WithArgs("userA", "f1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := repo.TransferOwnership(context.Background(), "userA", "userB", "f1")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGrantNotFound(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectQuery("SELECT user_id, file_id, access_type").
		WithArgs("userA", "f1").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.Grant(context.Background(), "userA", "f1")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestUpsertGrantRefusesOwnerDemotion(t *testing.T) {
	repo, mock := newMockRepository(t)

	// Zero rows affected: the target's existing row is at owner tier,
	// promoted by a transfer that committed after the caller's check.
	mock.ExpectExec("INSERT INTO user_files").
		WithArgs("userB", "f1", TierRead).
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := repo.UpsertGrant(context.Background(), "userB", "f1", TierRead)
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteGrantNotFound(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectExec("DELETE FROM user_files").
		WithArgs("userB", "f1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT access_type").
		WithArgs("userB", "f1").
		WillReturnError(sql.ErrNoRows)

	err := repo.DeleteGrant(context.Background(), "userB", "f1")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestDeleteGrantShieldsOwnerRow(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectExec("DELETE FROM user_files").
		WithArgs("userB", "f1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT access_type").
		WithArgs("userB", "f1").
		WillReturnRows(sqlmock.NewRows([]string{"access_type"}).AddRow("owner"))

	err := repo.DeleteGrant(context.Background(), "userB", "f1")
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteCascade(t *testing.T) {
	repo, mock := newMockRepository(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM user_files").
		WithArgs("f1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectQuery("DELETE FROM files").
		WithArgs("f1").
		WillReturnRows(sqlmock.NewRows(
			[]string{"id", "file_name", "file_size", "file_path", "created_at", "updated_at"}).
			AddRow("f1", "report.pdf", int64(2048), "/data/f1", now, now))
	mock.ExpectCommit()

	f, err := repo.DeleteCascade(context.Background(), "f1")
	require.NoError(t, err)
	assert.Equal(t, "f1", f.ID)
	assert.Equal(t, int64(2048), f.Size)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryListForUser(t *testing.T) {
	repo, mock := newMockRepository(t)
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT f.id").
		WithArgs("userA").
		WillReturnRows(sqlmock.NewRows(
			[]string{"id", "file_name", "file_size", "file_path", "created_at", "updated_at", "access_type"}).
			AddRow("f2", "b.txt", int64(10), "/data/f2", now, now, "read").
			AddRow("f1", "a.txt", int64(20), "/data/f1", now, now, "owner"))

	files, err := repo.ListForUser(context.Background(), "userA")
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, TierRead, files[0].Tier)
	assert.Equal(t, "a.txt", files[1].File.Name)
}

func TestSetContentMissingFile(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectQuery("UPDATE files").
		WithArgs("f1", "", int64(99), "/data/f1", sqlmock.AnyArg()).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.SetContent(context.Background(), "f1", "", 99, "/data/f1")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}
