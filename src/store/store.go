// Package store persists collected data. Completed slow queries are written at most once per
// (instance, pid, start).
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	arguments "github.com/newrelic/nri-mysql-collector/src/args"
	"github.com/newrelic/nri-mysql-collector/src/models"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrUnknownBackend = errors.New("unknown store backend")
	ErrMissingAddress = errors.New("persistence store address is not configured")
)

// SlowQuerySink is shared by every instance loop and the read API; implementations must be safe
// for concurrent use.
type SlowQuerySink interface {
	// InsertIfAbsent reports false without error when a record with the same dedup key exists.
	InsertIfAbsent(ctx context.Context, query models.CompletedQuery) (bool, error)
	// Query returns records whose start lies in [from, to], newest first. An empty instance means all.
	Query(ctx context.Context, instance string, from, to time.Time) ([]models.CompletedQuery, error)
	// Statistics groups every record by instance, db and user.
	Statistics(ctx context.Context) ([]models.SlowQueryStat, error)
}

type StatusStore interface {
	UpsertCommandStatus(ctx context.Context, status models.CommandStatus) error
	CommandStatus(ctx context.Context, instance string) (models.CommandStatus, error)
	InsertIOStatus(ctx context.Context, status models.IOStatus) error
	// IOStatus returns every IO sample of an instance, newest first, or ErrNotFound.
	IOStatus(ctx context.Context, instance string) ([]models.IOStatus, error)
}

type AuroraStore interface {
	UpsertClusterInfo(ctx context.Context, info models.ClusterInfo) error
	InsertMetricSamples(ctx context.Context, samples []models.MetricSample) error
	ClusterInfos(ctx context.Context) ([]models.ClusterInfo, error)
	// MetricSamples returns samples of one metric taken within [from, to] for the given instances,
	// oldest first.
	MetricSamples(ctx context.Context, metric string, instances []string, from, to time.Time) ([]models.MetricSample, error)
}

// Store is a complete persistence backend.
type Store interface {
	SlowQuerySink
	StatusStore
	AuroraStore
	// EnsureSchema creates the unique constraints the write paths depend on.
	EnsureSchema(ctx context.Context) error
	Close(ctx context.Context) error
}

// Open connects to the backend selected by the arguments.
func Open(ctx context.Context, args arguments.ArgumentList) (Store, error) {
	switch args.StoreBackend {
	case "", "mongodb":
		if args.MongodbURI == "" {
			return nil, fmt.Errorf("%w: mongodb_uri", ErrMissingAddress)
		}
		s, err := OpenMongoStore(ctx, args.MongodbURI, args.MongodbDBName, CollectionsFromArgs(args))
		if err != nil {
			return nil, err
		}
		return s, nil
	case "mysql":
		if args.StoreDSN == "" {
			return nil, fmt.Errorf("%w: store_dsn", ErrMissingAddress)
		}
		s, err := OpenMySQLStore(ctx, args.StoreDSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, args.StoreBackend)
	}
}
