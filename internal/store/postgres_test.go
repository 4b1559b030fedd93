package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/riskcheck/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

var testWindow = time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC)

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS quota_windows`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetAndIncrement_Admitted(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`INSERT INTO quota_windows .* ON CONFLICT`).
		WithArgs("free|single-check|u1", testWindow, pgxmock.AnyArg(), 3).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(2))

	ok, count, err := s.GetAndIncrement(context.Background(), "free|single-check|u1", testWindow, 3)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetAndIncrement_Denied(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`INSERT INTO quota_windows`).
		WithArgs("k", testWindow, pgxmock.AnyArg(), 3).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(`SELECT count FROM quota_windows WHERE key = \$1 AND window_start = \$2`).
		WithArgs("k", testWindow).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(3))

	ok, count, err := s.GetAndIncrement(context.Background(), "k", testWindow, 3)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 3, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetAndIncrement_ZeroMaxSkipsWrite(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT count FROM quota_windows`).
		WithArgs("k", testWindow).
		WillReturnError(pgx.ErrNoRows)

	ok, count, err := s.GetAndIncrement(context.Background(), "k", testWindow, 0)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetAndIncrement_Error(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`INSERT INTO quota_windows`).
		WithArgs("k", testWindow, pgxmock.AnyArg(), 3).
		WillReturnError(errors.New("connection refused"))

	_, _, err := s.GetAndIncrement(context.Background(), "k", testWindow, 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "increment window")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetUsage(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT COALESCE\(SUM\(count\), 0\) FROM quota_windows`).
		WithArgs("k", testWindow, testWindow.Add(time.Hour)).
		WillReturnRows(pgxmock.NewRows([]string{"sum"}).AddRow(7))

	total, err := s.GetUsage(context.Background(), "k", testWindow, testWindow.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 7, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_PurgeWindows(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`DELETE FROM quota_windows WHERE window_start < \$1`).
		WithArgs(testWindow).
		WillReturnResult(pgxmock.NewResult("DELETE", 4))

	n, err := s.PurgeWindows(context.Background(), testWindow)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AddReport(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO scam_reports`).
		WithArgs(pgxmock.AnyArg(), "@fake", "impersonation", "", "", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	r, err := s.AddReport(context.Background(), model.ScamReport{Identifier: "@Fake", Category: "impersonation"})
	require.NoError(t, err)
	assert.Equal(t, "@fake", r.Identifier)
	assert.NotEmpty(t, r.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LookupReports(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	reported := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT id, identifier, category, description, source, reported_at FROM scam_reports`).
		WithArgs([]string{"@fake", "0xabc"}).
		WillReturnRows(pgxmock.NewRows([]string{"id", "identifier", "category", "description", "source", "reported_at"}).
			AddRow("r1", "@fake", "impersonation", "pretends to be support", "community", reported))

	got, err := s.LookupReports(context.Background(), []string{"@Fake", "0xABC"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "impersonation", got[0].Category)
	assert.Equal(t, reported, got[0].ReportedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LookupReports_Empty(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	got, err := s.LookupReports(context.Background(), []string{" "})
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}
