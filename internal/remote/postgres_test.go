package remote

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresStore(sqlx.NewDb(db, "postgres"), nil), mock
}

func TestPostgresSelectScopedBySchool(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta(
		`SELECT id, school_id, data, created_at, updated_at FROM "students" WHERE school_id = $1 ORDER BY created_at, id`)).
		WithArgs("school-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "school_id", "data", "created_at", "updated_at"}).
			AddRow("s1", "school-1", []byte(`{"id":"s1"}`), now, now))

	records, err := store.Select(context.Background(), "students", "school-1", Filter{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "s1", records[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSelectAppliesEqFilter(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(
		`SELECT id, school_id, data, created_at, updated_at FROM "students" WHERE school_id = $1 AND data->>'class_name' = $2 ORDER BY created_at, id`)).
		WithArgs("school-1", "JSS1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "school_id", "data", "created_at", "updated_at"}))

	_, err := store.Select(context.Background(), "students", "school-1", Filter{
		Eq: map[string]string{"class_name": "JSS1"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpsertOnConflict(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`(?s)INSERT INTO "students" .*ON CONFLICT \(id\) DO UPDATE`).
		WithArgs("s1", "school-1", []byte(`{"id":"s1"}`), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Insert(context.Background(), "students", Record{
		ID:       "s1",
		SchoolID: "school-1",
		Data:     []byte(`{"id":"s1"}`),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateSharesUpsertPath(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`(?s)INSERT INTO "students" .*ON CONFLICT \(id\) DO UPDATE`).
		WithArgs("s1", "school-1", []byte(`{"id":"s1"}`), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Update(context.Background(), "students", Record{
		ID:       "s1",
		SchoolID: "school-1",
		Data:     []byte(`{"id":"s1"}`),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDeleteMissingSucceeds(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "students" WHERE id = $1`)).
		WithArgs("gone").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Delete(context.Background(), "students", "gone")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRejectsUnknownTables(t *testing.T) {
	store, _ := newMockStore(t)
	ctx := context.Background()

	_, err := store.Select(ctx, "users; DROP TABLE students", "school-1", Filter{})
	assert.Error(t, err)
	assert.Error(t, store.Insert(ctx, "nope", Record{ID: "x"}))
	assert.Error(t, store.Delete(ctx, "nope", "x"))
}
