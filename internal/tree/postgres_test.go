package tree

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockSQL(t *testing.T) (*SQL, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSQL(sqlx.NewDb(db, "postgres")), mock
}

func TestSQLGetRebuildsSubtree(t *testing.T) {
	backend, mock := newMockSQL(t)

	rows := sqlmock.NewRows([]string{"path", "value"}).
		AddRow("chats/a_b/m1/message", []byte(`"hola"`)).
		AddRow("chats/a_b/m1/read", []byte(`false`)).
		AddRow("chats/a_b/m1/timestamp", []byte(`1700000000123`))
	mock.ExpectQuery(`SELECT path, value FROM tree_nodes WHERE path = $1 OR path LIKE $2 ESCAPE '\'`).
		WithArgs("chats/a_b", `chats/a\_b/%`).
		WillReturnRows(rows)

	value, ok, err := backend.Get(context.Background(), "chats/a_b")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, map[string]any{
		"m1": map[string]any{"message": "hola", "read": false, "timestamp": int64(1700000000123)},
	}, value)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLGetMissing(t *testing.T) {
	backend, mock := newMockSQL(t)

	mock.ExpectQuery(`SELECT path, value FROM tree_nodes WHERE path = $1 OR path LIKE $2 ESCAPE '\'`).
		WithArgs("users/u1", "users/u1/%").
		WillReturnRows(sqlmock.NewRows([]string{"path", "value"}))

	value, ok, err := backend.Get(context.Background(), "users/u1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, value)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLSetReplacesSubtreeInTransaction(t *testing.T) {
	backend, mock := newMockSQL(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM tree_nodes WHERE path = $1 OR path LIKE $2 ESCAPE '\'`).
		WithArgs("users/u1", "users/u1/%").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`DELETE FROM tree_nodes WHERE path = ANY($1)`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO tree_nodes (path, value) VALUES ($1, $2)`).
		WithArgs("users/u1/phone", []byte(`"555"`)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO tree_nodes (path, value) VALUES ($1, $2)`).
		WithArgs("users/u1/username", []byte(`"ana"`)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := backend.Set(context.Background(), "users/u1", map[string]any{"username": "ana", "phone": "555"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLRemoveOnlyDeletes(t *testing.T) {
	backend, mock := newMockSQL(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM tree_nodes WHERE path = $1 OR path LIKE $2 ESCAPE '\'`).
		WithArgs("chats/a_b/m1", `chats/a\_b/m1/%`).
		WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectCommit()

	require.NoError(t, backend.Remove(context.Background(), "chats/a_b/m1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMergeRollsBackOnError(t *testing.T) {
	backend, mock := newMockSQL(t)
	boom := errors.New("conn reset")

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM tree_nodes WHERE path = $1 OR path LIKE $2 ESCAPE '\'`).
		WithArgs("chats/a_b/m1/read", `chats/a\_b/m1/read/%`).
		WillReturnError(boom)
	mock.ExpectRollback()

	err := backend.Merge(context.Background(), "chats/a_b", map[string]any{"m1/read": true})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLSetStampsInsideTransaction(t *testing.T) {
	backend, mock := newMockSQL(t)

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock(hashtext($1))`).
		WithArgs("chats/a_b").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT (EXTRACT(EPOCH FROM clock_timestamp()) * 1000)::BIGINT`).
		WillReturnRows(sqlmock.NewRows([]string{"now"}).AddRow(int64(1700000000777)))
	mock.ExpectExec(`DELETE FROM tree_nodes WHERE path = $1 OR path LIKE $2 ESCAPE '\'`).
		WithArgs("chats/a_b/m1", `chats/a\_b/m1/%`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`DELETE FROM tree_nodes WHERE path = ANY($1)`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO tree_nodes (path, value) VALUES ($1, $2)`).
		WithArgs("chats/a_b/m1/timestamp", []byte(`1700000000777`)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	value, err := normalize(map[string]any{"timestamp": ServerTimestamp})
	require.NoError(t, err)
	require.NoError(t, backend.Set(context.Background(), "chats/a_b/m1", value))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMergeExistingSkipsDeletedParent(t *testing.T) {
	backend, mock := newMockSQL(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT path FROM tree_nodes WHERE path LIKE $1 ESCAPE '\' FOR UPDATE`).
		WithArgs(`chats/a\_b/m1/%`).
		WillReturnRows(sqlmock.NewRows([]string{"path"}).AddRow("chats/a_b/m1/read"))
	mock.ExpectExec(`DELETE FROM tree_nodes WHERE path LIKE $1 ESCAPE '\'`).
		WithArgs(`chats/a\_b/m1/read/%`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO tree_nodes (path, value) VALUES ($1, $2) ON CONFLICT (path) DO UPDATE SET value = EXCLUDED.value`).
		WithArgs("chats/a_b/m1/read", []byte(`true`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT path FROM tree_nodes WHERE path LIKE $1 ESCAPE '\' FOR UPDATE`).
		WithArgs(`chats/a\_b/m2/%`).
		WillReturnRows(sqlmock.NewRows([]string{"path"}))
	mock.ExpectCommit()

	n, err := backend.MergeExisting(context.Background(), "chats/a_b", map[string]any{"m1/read": true, "m2/read": true})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLClock(t *testing.T) {
	backend, mock := newMockSQL(t)

	mock.ExpectQuery(`SELECT (EXTRACT(EPOCH FROM clock_timestamp()) * 1000)::BIGINT`).
		WillReturnRows(sqlmock.NewRows([]string{"now"}).AddRow(int64(1700000000999)))

	now, err := backend.Clock(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000999), now)
}

func TestTreeOverSQLWrapsUnavailable(t *testing.T) {
	backend, mock := newMockSQL(t)
	mock.ExpectQuery(`SELECT path, value FROM tree_nodes`).WillReturnError(errors.New("dial tcp: refused"))

	_, err := New(backend).Read(context.Background(), "")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestAncestorsOf(t *testing.T) {
	assert.Equal(t, []string{"chats", "chats/a_b"}, ancestorsOf("chats/a_b/m1"))
	assert.Empty(t, ancestorsOf("users"))
}
