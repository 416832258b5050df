package utils

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type TestMetric struct {
	Column1 string
}

func newMockDatabase(t *testing.T) (*Database, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewDatabase(sqlx.NewDb(db, "sqlmock")), mock
}

func TestDatabase_Close(t *testing.T) {
	database, mock := newMockDatabase(t)

	database.Close()

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDatabase_PingContext(t *testing.T) {
	database, mock := newMockDatabase(t)
	mock.ExpectPing().WillReturnError(assert.AnError)

	assert.ErrorIs(t, database.PingContext(context.Background()), assert.AnError)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDatabase_QueryxContext(t *testing.T) {
	database, mock := newMockDatabase(t)
	mock.ExpectQuery("^SELECT \\* FROM test_table$").WillReturnRows(sqlmock.NewRows([]string{"column1"}).AddRow("value1"))

	rows, err := database.QueryxContext(context.Background(), "SELECT * FROM test_table")
	require.NoError(t, err)
	rows.Close()

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOpenDB(t *testing.T) {
	tests := []struct {
		name    string
		dsn     string
		wantErr bool
	}{
		{name: "Successful open", dsn: "user:password@tcp(127.0.0.1:3306)/dbname", wantErr: false},
		{name: "Invalid DSN", dsn: "invalid_dsn", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, err := OpenDB(tt.dsn, 5)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, db)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, db)
			db.Close()
		})
	}
}

func TestCollectMetrics(t *testing.T) {
	tests := []struct {
		name        string
		mockRows    *sqlmock.Rows
		mockError   error
		expected    []TestMetric
		expectError bool
	}{
		{
			name:     "Successful query",
			mockRows: sqlmock.NewRows([]string{"column1"}).AddRow("value1").AddRow("value2"),
			expected: []TestMetric{{Column1: "value1"}, {Column1: "value2"}},
		},
		{
			name:        "Query error",
			mockError:   assert.AnError,
			expectError: true,
		},
		{
			name:        "StructScan error",
			mockRows:    sqlmock.NewRows([]string{"unknown_column"}).AddRow("value1"),
			expectError: true,
		},
		{
			name:        "Rows error",
			mockRows:    sqlmock.NewRows([]string{"column1"}).AddRow("value1").RowError(0, assert.AnError),
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			database, mock := newMockDatabase(t)
			if tt.mockRows != nil {
				mock.ExpectQuery("SELECT \\* FROM test_table").WillReturnRows(tt.mockRows)
			} else {
				mock.ExpectQuery("SELECT \\* FROM test_table").WillReturnError(tt.mockError)
			}

			result, err := CollectMetrics[TestMetric](context.Background(), database, "SELECT * FROM test_table")
			if tt.expectError {
				assert.Error(t, err)
				assert.Empty(t, result)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tt.expected, result)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}
