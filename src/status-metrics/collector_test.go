package statusmetrics

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	arguments "github.com/newrelic/nri-mysql-collector/src/args"
	"github.com/newrelic/nri-mysql-collector/src/dbutils"
	"github.com/newrelic/nri-mysql-collector/src/models"
	"github.com/newrelic/nri-mysql-collector/src/registry"
	utils "github.com/newrelic/nri-mysql-collector/src/slow-query-monitoring/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var collectedAt = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

type MockStatusStore struct {
	mock.Mock
}

func (m *MockStatusStore) UpsertCommandStatus(ctx context.Context, status models.CommandStatus) error {
	return m.Called(status).Error(0)
}

func (m *MockStatusStore) CommandStatus(ctx context.Context, instance string) (models.CommandStatus, error) {
	args := m.Called(instance)
	return args.Get(0).(models.CommandStatus), args.Error(1)
}

func (m *MockStatusStore) InsertIOStatus(ctx context.Context, status models.IOStatus) error {
	return m.Called(status).Error(0)
}

func (m *MockStatusStore) IOStatus(ctx context.Context, instance string) ([]models.IOStatus, error) {
	args := m.Called(instance)
	return args.Get(0).([]models.IOStatus), args.Error(1)
}

type poolFunc func(ctx context.Context, instance registry.InstanceDescriptor) (utils.DataSource, error)

func (f poolFunc) Get(ctx context.Context, instance registry.InstanceDescriptor) (utils.DataSource, error) {
	return f(ctx, instance)
}

type listRegistry []registry.InstanceDescriptor

func (r listRegistry) List(context.Context) ([]registry.InstanceDescriptor, error) {
	return r, nil
}

func statusRows(pairs ...interface{}) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"Variable_name", "Value"})
	for i := 0; i < len(pairs); i += 2 {
		rows.AddRow(pairs[i], pairs[i+1])
	}
	return rows
}

func newCollector(t *testing.T, st *MockStatusStore) (*Collector, sqlmock.Sqlmock) {
	t.Helper()
	db, sqlMock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	database := utils.NewDatabase(sqlx.NewDb(db, "sqlmock"))

	c := NewCollector(arguments.ArgumentList{}, listRegistry{{InstanceName: "db1"}}, poolFunc(
		func(context.Context, registry.InstanceDescriptor) (utils.DataSource, error) { return database, nil },
	), st)
	c.now = func() time.Time { return collectedAt }
	return c, sqlMock
}

func TestCollectInstance(t *testing.T) {
	st := &MockStatusStore{}
	c, sqlMock := newCollector(t, st)

	sqlMock.ExpectQuery(regexp.QuoteMeta(UptimeQuery)).WillReturnRows(statusRows("Uptime", "7200"))
	sqlMock.ExpectQuery(regexp.QuoteMeta(CommandStatusQuery)).
		WillReturnRows(statusRows("Com_select", "7200", "Com_insert", "1800", "Com_stmt_fetch", "12"))
	sqlMock.ExpectQuery(regexp.QuoteMeta(IOStatusQuery)).
		WillReturnRows(statusRows("Created_tmp_tables", "720"))

	st.On("UpsertCommandStatus", models.CommandStatus{
		InstanceName: "db1",
		Timestamp:    collectedAt,
		Commands: []models.CommandCounter{
			{Command: "select", Total: 7200, AvgForHours: 3600, AvgForSeconds: 1, Percentage: 80},
			{Command: "insert", Total: 1800, AvgForHours: 900, AvgForSeconds: 0.25, Percentage: 20},
		},
	}).Return(nil)
	st.On("InsertIOStatus", models.IOStatus{
		InstanceName: "db1",
		Timestamp:    collectedAt,
		Counters:     []models.CommandCounter{{Command: "Created_tmp_tables", Total: 720, AvgForHours: 360, AvgForSeconds: 0.1}},
	}).Return(nil)

	require.NoError(t, c.CollectInstance(context.Background(), registry.InstanceDescriptor{InstanceName: "db1"}))
	st.AssertExpectations(t)
	assert.NoError(t, sqlMock.ExpectationsWereMet())
}

func TestCollectInstanceUptimeError(t *testing.T) {
	st := &MockStatusStore{}
	c, sqlMock := newCollector(t, st)
	sqlMock.ExpectQuery(regexp.QuoteMeta(UptimeQuery)).WillReturnError(assert.AnError)

	err := c.CollectInstance(context.Background(), registry.InstanceDescriptor{InstanceName: "db1"})
	assert.ErrorIs(t, err, assert.AnError)
	st.AssertNotCalled(t, "UpsertCommandStatus", mock.Anything)
}

func TestCollectInstanceMissingUptime(t *testing.T) {
	st := &MockStatusStore{}
	c, sqlMock := newCollector(t, st)
	sqlMock.ExpectQuery(regexp.QuoteMeta(UptimeQuery)).WillReturnRows(statusRows())

	err := c.CollectInstance(context.Background(), registry.InstanceDescriptor{InstanceName: "db1"})
	assert.ErrorIs(t, err, ErrUptimeNotFound)
}

func TestRunSkipsUnavailableInstances(t *testing.T) {
	st := &MockStatusStore{}
	c := NewCollector(arguments.ArgumentList{IgnoredInstances: `["db2"]`}, listRegistry{{InstanceName: "db1"}, {InstanceName: "db2"}}, poolFunc(
		func(_ context.Context, instance registry.InstanceDescriptor) (utils.DataSource, error) {
			assert.Equal(t, "db1", instance.InstanceName)
			return nil, dbutils.ErrInstanceUnavailable
		},
	), st)

	c.Run(context.Background())
	st.AssertNotCalled(t, "UpsertCommandStatus", mock.Anything)
}
