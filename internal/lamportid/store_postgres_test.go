package lamportid_test

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"lamport/internal/lamportid"
)

func newMockAllocator(t *testing.T) (*lamportid.PostgresAllocator, sqlmock.Sqlmock, time.Time) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return lamportid.NewPostgres(db, lamportid.WithClock(func() time.Time { return now })), mock, now
}

func TestPostgresAllocator_IssueAndIncrement(t *testing.T) {
	a, mock, now := newMockAllocator(t)

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE lamport_id")).
		WithArgs(now).
		WillReturnRows(sqlmock.NewRows([]string{"issued"}).AddRow(int64(41)))

	issued, err := a.IssueAndIncrement(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(41), issued)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAllocator_IssueWithoutRow(t *testing.T) {
	a, mock, now := newMockAllocator(t)

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE lamport_id")).
		WithArgs(now).
		WillReturnError(sql.ErrNoRows)

	_, err := a.IssueAndIncrement(context.Background())
	require.ErrorIs(t, err, lamportid.ErrNotInitialized)
}

func TestPostgresAllocator_IssueDatabaseError(t *testing.T) {
	a, mock, now := newMockAllocator(t)
	dbErr := errors.New("connection reset")

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE lamport_id")).
		WithArgs(now).
		WillReturnError(dbErr)

	_, err := a.IssueAndIncrement(context.Background())
	require.ErrorIs(t, err, dbErr)
	require.NotErrorIs(t, err, lamportid.ErrNotInitialized)
}

func TestPostgresAllocator_Current(t *testing.T) {
	a, mock, _ := newMockAllocator(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT current_value FROM lamport_id WHERE id = 1")).
		WillReturnRows(sqlmock.NewRows([]string{"current_value"}).AddRow(int64(7)))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT current_value FROM lamport_id WHERE id = 1")).
		WillReturnRows(sqlmock.NewRows([]string{"current_value"}))

	v, err := a.Current(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(7), v)

	_, err = a.Current(context.Background())
	require.ErrorIs(t, err, lamportid.ErrNotInitialized)
}

func TestPostgresAllocator_Seed(t *testing.T) {
	a, mock, now := newMockAllocator(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO lamport_id")).
		WithArgs(int64(1), now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO lamport_id")).
		WithArgs(int64(1), now).
		WillReturnResult(sqlmock.NewResult(0, 0))

	created, err := a.Seed(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, created)

	created, err = a.Seed(context.Background(), 1)
	require.NoError(t, err)
	require.False(t, created)
	require.NoError(t, mock.ExpectationsWereMet())
}
