package utils

import (
	"context"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	constants "github.com/newrelic/nri-mysql-collector/src/slow-query-monitoring/constants"
)

type DataSource interface {
	Close()
	PingContext(ctx context.Context) error
	QueryxContext(ctx context.Context, query string, args ...interface{}) (*sqlx.Rows, error)
}

type Database struct {
	source *sqlx.DB
}

// OpenDB opens a pooled connection set. No connection is made until the pool is used.
func OpenDB(dsn string, poolSize int) (DataSource, error) {
	source, err := sqlx.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening DSN: %w", err)
	}
	if poolSize > 0 {
		source.SetMaxOpenConns(poolSize)
		source.SetMaxIdleConns(poolSize)
	}

	return NewDatabase(source), nil
}

func NewDatabase(source *sqlx.DB) *Database {
	return &Database{source: source}
}

func (db *Database) Close() {
	db.source.Close()
}

func (db *Database) PingContext(ctx context.Context) error {
	return db.source.PingContext(ctx)
}

// QueryxContext method implementation
func (db *Database) QueryxContext(ctx context.Context, query string, args ...interface{}) (*sqlx.Rows, error) {
	return db.source.QueryxContext(ctx, query, args...)
}

// CollectMetrics runs a query under the default timeout and struct-scans every row
func CollectMetrics[T any](ctx context.Context, db DataSource, preparedQuery string, preparedArgs ...interface{}) ([]T, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.TimeoutDuration)
	defer cancel()

	rows, err := db.QueryxContext(ctx, preparedQuery, preparedArgs...)
	if err != nil {
		return []T{}, err
	}
	defer rows.Close()

	var metrics []T
	for rows.Next() {
		var metric T
		if err := rows.StructScan(&metric); err != nil {
			return []T{}, err
		}
		metrics = append(metrics, metric)
	}
	if err := rows.Err(); err != nil {
		return []T{}, err
	}

	return metrics, nil
}
