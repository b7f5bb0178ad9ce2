package rbac_test

import (
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zerodna/cms-authz/internal/rbac"
)

func newMockStore(t *testing.T) (*rbac.PGStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return rbac.NewPGStore(mock), mock
}

func TestPGStoreHasRolePermission(t *testing.T) {
	store, mock := newMockStore(t)
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs(int64(7), "posts", "publish", at).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := store.HasRolePermission(ctx, 7, "posts", "publish", at)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGStoreGetUserMissing(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`FROM users WHERE id = \$1`).
		WithArgs(int64(404)).
		WillReturnError(pgx.ErrNoRows)

	_, ok, err := store.GetUser(ctx, 404)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGStoreCreateUserConflict(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`INSERT INTO users`).
		WithArgs("alice", "alice@example.com", "hash", pgxmock.AnyArg(), pgxmock.AnyArg(), true).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "users_username_key"})

	_, err := store.CreateUser(ctx, rbac.NewUser{Username: "alice", Email: "alice@example.com"}, "hash")
	require.ErrorIs(t, err, rbac.ErrConflict)
	assert.Contains(t, err.Error(), "users_username_key")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGStoreUpsertUserRoleMissingReference(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`INSERT INTO user_roles`).
		WithArgs(int64(1), int64(99), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23503"})

	_, err := store.UpsertUserRole(ctx, rbac.UserRoleAssignment{UserID: 1, RoleID: 99})
	assert.ErrorIs(t, err, rbac.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGStoreReplaceUserRolesRunsInTransaction(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	mock.ExpectExec(`DELETE FROM user_roles WHERE user_id = \$1 AND NOT`).
		WithArgs(int64(5), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(`INSERT INTO user_roles`).
		WithArgs(int64(5), int64(2), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(`FROM user_roles WHERE user_id = \$1 ORDER BY role_id`).
		WithArgs(int64(5)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "role_id", "assigned_at", "assigned_by", "expires_at"}).
			AddRow(int64(10), int64(5), int64(2), now, nil, nil))
	mock.ExpectCommit()

	out, err := store.ReplaceUserRoles(ctx, 5, []int64{2}, nil)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, int64(2), out[0].RoleID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGStoreReplaceUserRolesRollsBack(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	mock.ExpectExec(`DELETE FROM user_roles`).
		WithArgs(int64(5), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec(`INSERT INTO user_roles`).
		WithArgs(int64(5), int64(99), pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23503"})
	mock.ExpectRollback()

	_, err := store.ReplaceUserRoles(ctx, 5, []int64{99}, nil)
	assert.ErrorIs(t, err, rbac.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGStorePurgeExpired(t *testing.T) {
	store, mock := newMockStore(t)
	at := time.Now()

	mock.ExpectQuery(`WITH purged_roles AS`).
		WithArgs(at).
		WillReturnRows(pgxmock.NewRows([]string{"user_id"}).AddRow(int64(3)).AddRow(int64(8)))

	ids, err := store.PurgeExpired(ctx, at)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 8}, ids)
	require.NoError(t, mock.ExpectationsWereMet())
}
