package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/newrelic/nri-mysql-collector/src/models"
	constants "github.com/newrelic/nri-mysql-collector/src/slow-query-monitoring/constants"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS slow_queries (
		id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
		instance VARCHAR(255) NOT NULL,
		db VARCHAR(255) NOT NULL DEFAULT '',
		pid BIGINT NOT NULL,
		user VARCHAR(255) NOT NULL DEFAULT '',
		host VARCHAR(255) NOT NULL DEFAULT '',
		time BIGINT NOT NULL,
		sql_text MEDIUMTEXT NOT NULL,
		start DATETIME NOT NULL,
		` + "`end`" + ` DATETIME NOT NULL,
		UNIQUE KEY dedup_key (instance, pid, start),
		KEY start_idx (start)
	)`,
	`CREATE TABLE IF NOT EXISTS command_status (
		instance_name VARCHAR(255) NOT NULL PRIMARY KEY,
		timestamp DATETIME NOT NULL,
		command_status JSON NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS disk_usage (
		id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
		instance_name VARCHAR(255) NOT NULL,
		timestamp DATETIME NOT NULL,
		command_status JSON NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS aurora_cluster_info (
		db_instance_identifier VARCHAR(255) NOT NULL PRIMARY KEY,
		region VARCHAR(64) NOT NULL,
		info JSON NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS aurora_metrics (
		id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
		region VARCHAR(64) NOT NULL,
		instance_name VARCHAR(255) NOT NULL,
		metric_name VARCHAR(128) NOT NULL,
		value DOUBLE NOT NULL,
		timestamp DATETIME NOT NULL
	)`,
}

const (
	insertSlowQuery = "INSERT INTO slow_queries (instance, db, pid, user, host, time, sql_text, start, `end`) " +
		"VALUES (:instance, :db, :pid, :user, :host, :time, :sql_text, :start, :end)"
	selectSlowQueries = "SELECT instance, db, pid, user, host, time, sql_text, start, `end` FROM slow_queries " +
		"WHERE start >= ? AND start <= ? AND (? = '' OR instance = ?) ORDER BY start DESC"
	selectStatistics = `SELECT instance, db, user, COUNT(*) AS count, MAX(time) AS max_time,
		CAST(SUM(time) AS SIGNED) AS total_time FROM slow_queries GROUP BY instance, db, user ORDER BY instance, db, user`
	upsertCommandStatus = `INSERT INTO command_status (instance_name, timestamp, command_status) VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE timestamp = VALUES(timestamp), command_status = VALUES(command_status)`
	selectCommandStatus = `SELECT instance_name, timestamp, command_status FROM command_status WHERE instance_name = ?`
	insertIOStatus      = `INSERT INTO disk_usage (instance_name, timestamp, command_status) VALUES (?, ?, ?)`
	selectIOStatus      = `SELECT instance_name, timestamp, command_status FROM disk_usage WHERE instance_name = ? ORDER BY timestamp DESC`
	upsertClusterInfo   = `INSERT INTO aurora_cluster_info (db_instance_identifier, region, info) VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE region = VALUES(region), info = VALUES(info)`
	selectClusterInfos = `SELECT info FROM aurora_cluster_info ORDER BY db_instance_identifier`
	selectMetricSamples = `SELECT region, instance_name, metric_name, value, timestamp FROM aurora_metrics
		WHERE metric_name = ? AND timestamp >= ? AND timestamp <= ?`
	insertMetricSample = `INSERT INTO aurora_metrics (region, instance_name, metric_name, value, timestamp)
		VALUES (:region, :instance_name, :metric_name, :value, :timestamp)`
)

// erDupEntry is the server error of a unique key violation.
const erDupEntry = 1062

// MySQLStore keeps collected data in a MySQL database of its own.
type MySQLStore struct {
	db *sqlx.DB
}

// OpenMySQLStore forces parseTime and UTC on the DSN so that DATETIME columns round trip as time.Time.
func OpenMySQLStore(ctx context.Context, dsn string) (*MySQLStore, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("error parsing store DSN: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC

	db, err := sqlx.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("error opening store: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, constants.StoreTimeoutDuration)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to store: %w", err)
	}
	return NewMySQLStore(db), nil
}

func NewMySQLStore(db *sqlx.DB) *MySQLStore {
	return &MySQLStore{db: db}
}

func (s *MySQLStore) EnsureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, constants.StoreTimeoutDuration)
	defer cancel()

	for _, statement := range schema {
		if _, err := s.db.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("error creating store schema: %w", err)
		}
	}
	return nil
}

func (s *MySQLStore) InsertIfAbsent(ctx context.Context, query models.CompletedQuery) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.StoreTimeoutDuration)
	defer cancel()

	query.Start = query.Start.UTC()
	query.End = query.End.UTC()
	_, err := s.db.NamedExecContext(ctx, insertSlowQuery, query)
	if isDuplicateEntry(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("error inserting slow query: %w", err)
	}
	return true, nil
}

func isDuplicateEntry(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == erDupEntry
}

func (s *MySQLStore) Statistics(ctx context.Context) ([]models.SlowQueryStat, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.StoreTimeoutDuration)
	defer cancel()

	stats := []models.SlowQueryStat{}
	if err := s.db.SelectContext(ctx, &stats, selectStatistics); err != nil {
		return nil, fmt.Errorf("error aggregating slow queries: %w", err)
	}
	return stats, nil
}

func (s *MySQLStore) Query(ctx context.Context, instance string, from, to time.Time) ([]models.CompletedQuery, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.StoreTimeoutDuration)
	defer cancel()

	queries := []models.CompletedQuery{}
	if err := s.db.SelectContext(ctx, &queries, selectSlowQueries, from.UTC(), to.UTC(), instance, instance); err != nil {
		return nil, fmt.Errorf("error querying slow queries: %w", err)
	}
	return queries, nil
}

func (s *MySQLStore) UpsertCommandStatus(ctx context.Context, status models.CommandStatus) error {
	ctx, cancel := context.WithTimeout(ctx, constants.StoreTimeoutDuration)
	defer cancel()

	commands, err := json.Marshal(status.Commands)
	if err != nil {
		return fmt.Errorf("error encoding command status: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, upsertCommandStatus, status.InstanceName, status.Timestamp.UTC(), commands); err != nil {
		return fmt.Errorf("error upserting command status: %w", err)
	}
	return nil
}

func (s *MySQLStore) CommandStatus(ctx context.Context, instance string) (models.CommandStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.StoreTimeoutDuration)
	defer cancel()

	var row struct {
		InstanceName string    `db:"instance_name"`
		Timestamp    time.Time `db:"timestamp"`
		Commands     []byte    `db:"command_status"`
	}
	err := s.db.GetContext(ctx, &row, selectCommandStatus, instance)
	if errors.Is(err, sql.ErrNoRows) {
		return models.CommandStatus{}, fmt.Errorf("command status of %s: %w", instance, ErrNotFound)
	}
	if err != nil {
		return models.CommandStatus{}, fmt.Errorf("error reading command status: %w", err)
	}

	status := models.CommandStatus{InstanceName: row.InstanceName, Timestamp: row.Timestamp}
	if err := json.Unmarshal(row.Commands, &status.Commands); err != nil {
		return models.CommandStatus{}, fmt.Errorf("error decoding command status: %w", err)
	}
	return status, nil
}

func (s *MySQLStore) InsertIOStatus(ctx context.Context, status models.IOStatus) error {
	ctx, cancel := context.WithTimeout(ctx, constants.StoreTimeoutDuration)
	defer cancel()

	counters, err := json.Marshal(status.Counters)
	if err != nil {
		return fmt.Errorf("error encoding IO status: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, insertIOStatus, status.InstanceName, status.Timestamp.UTC(), counters); err != nil {
		return fmt.Errorf("error inserting IO status: %w", err)
	}
	return nil
}

func (s *MySQLStore) IOStatus(ctx context.Context, instance string) ([]models.IOStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.StoreTimeoutDuration)
	defer cancel()

	var rows []struct {
		InstanceName string    `db:"instance_name"`
		Timestamp    time.Time `db:"timestamp"`
		Counters     []byte    `db:"command_status"`
	}
	if err := s.db.SelectContext(ctx, &rows, selectIOStatus, instance); err != nil {
		return nil, fmt.Errorf("error reading IO status: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("IO status of %s: %w", instance, ErrNotFound)
	}

	samples := make([]models.IOStatus, 0, len(rows))
	for _, row := range rows {
		sample := models.IOStatus{InstanceName: row.InstanceName, Timestamp: row.Timestamp}
		if err := json.Unmarshal(row.Counters, &sample.Counters); err != nil {
			return nil, fmt.Errorf("error decoding IO status: %w", err)
		}
		samples = append(samples, sample)
	}
	return samples, nil
}

func (s *MySQLStore) UpsertClusterInfo(ctx context.Context, info models.ClusterInfo) error {
	ctx, cancel := context.WithTimeout(ctx, constants.StoreTimeoutDuration)
	defer cancel()

	document, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("error encoding cluster info: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, upsertClusterInfo, info.DBInstanceIdentifier, info.Region, document); err != nil {
		return fmt.Errorf("error upserting cluster info: %w", err)
	}
	return nil
}

func (s *MySQLStore) InsertMetricSamples(ctx context.Context, samples []models.MetricSample) error {
	if len(samples) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, constants.StoreTimeoutDuration)
	defer cancel()

	if _, err := s.db.NamedExecContext(ctx, insertMetricSample, samples); err != nil {
		return fmt.Errorf("error inserting metric samples: %w", err)
	}
	return nil
}

func (s *MySQLStore) ClusterInfos(ctx context.Context) ([]models.ClusterInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.StoreTimeoutDuration)
	defer cancel()

	var documents [][]byte
	if err := s.db.SelectContext(ctx, &documents, selectClusterInfos); err != nil {
		return nil, fmt.Errorf("error reading cluster info: %w", err)
	}

	infos := make([]models.ClusterInfo, 0, len(documents))
	for _, document := range documents {
		var info models.ClusterInfo
		if err := json.Unmarshal(document, &info); err != nil {
			return nil, fmt.Errorf("error decoding cluster info: %w", err)
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func (s *MySQLStore) MetricSamples(ctx context.Context, metric string, instances []string, from, to time.Time) ([]models.MetricSample, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.StoreTimeoutDuration)
	defer cancel()

	query, args := selectMetricSamples, []interface{}{metric, from.UTC(), to.UTC()}
	if len(instances) > 0 {
		var err error
		query, args, err = sqlx.In(query+" AND instance_name IN (?)", metric, from.UTC(), to.UTC(), instances)
		if err != nil {
			return nil, fmt.Errorf("error building metric query: %w", err)
		}
	}

	samples := []models.MetricSample{}
	if err := s.db.SelectContext(ctx, &samples, s.db.Rebind(query+" ORDER BY timestamp"), args...); err != nil {
		return nil, fmt.Errorf("error reading metric samples: %w", err)
	}
	return samples, nil
}

func (s *MySQLStore) Close(context.Context) error {
	return s.db.Close()
}
