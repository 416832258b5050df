package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/newrelic/infra-integrations-sdk/v3/log"
	arguments "github.com/newrelic/nri-mysql-collector/src/args"
	"github.com/newrelic/nri-mysql-collector/src/models"
	constants "github.com/newrelic/nri-mysql-collector/src/slow-query-monitoring/constants"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

// Collections names the collection of every kind of document.
type Collections struct {
	SlowQueries   string
	CommandStatus string
	DiskUsage     string
	AuroraInfo    string
	AuroraMetrics string
	Instances     string
}

func CollectionsFromArgs(args arguments.ArgumentList) Collections {
	return Collections{
		SlowQueries:   args.MongodbSlowlogCollection,
		CommandStatus: args.MongodbStatusCollection,
		DiskUsage:     args.MongodbDiskUsageCollection,
		AuroraInfo:    args.MongodbAuroraInfoCollection,
		AuroraMetrics: args.MongodbAuroraMetricsCollection,
		Instances:     args.MongodbInstanceCollection,
	}
}

type MongoStore struct {
	client      *mongo.Client
	database    *mongo.Database
	collections Collections
}

func OpenMongoStore(ctx context.Context, uri, database string, collections Collections) (*MongoStore, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("error connecting to MongoDB: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, constants.StoreTimeoutDuration)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("error pinging MongoDB: %w", err)
	}
	log.Info("Connected to MongoDB database %s", database)

	return &MongoStore{
		client:      client,
		database:    client.Database(database),
		collections: collections,
	}, nil
}

// Collection gives access to a collection of the store database, e.g. the instance registry.
func (s *MongoStore) Collection(name string) *mongo.Collection {
	return s.database.Collection(name)
}

func (s *MongoStore) EnsureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, constants.StoreTimeoutDuration)
	defer cancel()

	indexes := []struct {
		collection string
		model      mongo.IndexModel
	}{
		{s.collections.SlowQueries, mongo.IndexModel{Keys: dedupKeys(), Options: options.Index().SetUnique(true).SetName("dedup_key")}},
		{s.collections.SlowQueries, mongo.IndexModel{Keys: bson.D{{Key: "start", Value: -1}}}},
		{s.collections.CommandStatus, mongo.IndexModel{Keys: bson.D{{Key: "instance_name", Value: 1}}, Options: options.Index().SetUnique(true)}},
		{s.collections.AuroraInfo, mongo.IndexModel{Keys: bson.D{{Key: "DBInstanceIdentifier", Value: 1}}, Options: options.Index().SetUnique(true)}},
	}
	for _, index := range indexes {
		if _, err := s.database.Collection(index.collection).Indexes().CreateOne(ctx, index.model); err != nil {
			return fmt.Errorf("error creating index on %s: %w", index.collection, err)
		}
	}
	return nil
}

func dedupKeys() bson.D {
	return bson.D{{Key: "instance", Value: 1}, {Key: "pid", Value: 1}, {Key: "start", Value: 1}}
}

func dedupFilter(query models.CompletedQuery) bson.D {
	return bson.D{
		{Key: "instance", Value: query.Instance},
		{Key: "pid", Value: query.PID},
		{Key: "start", Value: query.Start.UTC()},
	}
}

// rangeFilter selects records starting within [from, to], optionally of one instance.
func rangeFilter(instance string, from, to time.Time) bson.D {
	filter := bson.D{{Key: "start", Value: bson.D{
		{Key: "$gte", Value: from.UTC()},
		{Key: "$lte", Value: to.UTC()},
	}}}
	if instance != "" {
		filter = append(filter, bson.E{Key: "instance", Value: instance})
	}
	return filter
}

// insertOnlyUpdate writes the whole record when the upsert inserts and nothing when the key exists.
func insertOnlyUpdate(query models.CompletedQuery) bson.D {
	query.Start = query.Start.UTC()
	query.End = query.End.UTC()
	return bson.D{{Key: "$setOnInsert", Value: query}}
}

// statisticsPipeline groups records by instance, db and user.
func statisticsPipeline() mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: bson.D{
				{Key: "instance", Value: "$instance"},
				{Key: "db", Value: "$db"},
				{Key: "user", Value: "$user"},
			}},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "max_time", Value: bson.D{{Key: "$max", Value: "$time"}}},
			{Key: "total_time", Value: bson.D{{Key: "$sum", Value: "$time"}}},
		}}},
		{{Key: "$project", Value: bson.D{
			{Key: "_id", Value: 0},
			{Key: "instance", Value: "$_id.instance"},
			{Key: "db", Value: "$_id.db"},
			{Key: "user", Value: "$_id.user"},
			{Key: "count", Value: 1},
			{Key: "max_time", Value: 1},
			{Key: "total_time", Value: 1},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "instance", Value: 1}, {Key: "db", Value: 1}, {Key: "user", Value: 1}}}},
	}
}

// metricFilter selects samples of one metric within [from, to]; no instances means all of them.
func metricFilter(metric string, instances []string, from, to time.Time) bson.D {
	filter := bson.D{
		{Key: "metric_name", Value: metric},
		{Key: "timestamp", Value: bson.D{
			{Key: "$gte", Value: from.UTC()},
			{Key: "$lte", Value: to.UTC()},
		}},
	}
	if len(instances) > 0 {
		filter = append(filter, bson.E{Key: "instance_name", Value: bson.D{{Key: "$in", Value: instances}}})
	}
	return filter
}

func (s *MongoStore) InsertIfAbsent(ctx context.Context, query models.CompletedQuery) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.StoreTimeoutDuration)
	defer cancel()

	result, err := s.database.Collection(s.collections.SlowQueries).UpdateOne(ctx,
		dedupFilter(query),
		insertOnlyUpdate(query),
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		// a concurrent upsert of the same key loses against the unique index
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, fmt.Errorf("error inserting slow query: %w", err)
	}
	return result.UpsertedCount == 1, nil
}

func (s *MongoStore) Query(ctx context.Context, instance string, from, to time.Time) ([]models.CompletedQuery, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.StoreTimeoutDuration)
	defer cancel()

	cursor, err := s.database.Collection(s.collections.SlowQueries).Find(ctx,
		rangeFilter(instance, from, to),
		options.Find().SetSort(bson.D{{Key: "start", Value: -1}}).SetProjection(bson.D{{Key: "_id", Value: 0}}),
	)
	if err != nil {
		return nil, fmt.Errorf("error querying slow queries: %w", err)
	}
	defer cursor.Close(ctx)

	queries := []models.CompletedQuery{}
	if err := cursor.All(ctx, &queries); err != nil {
		return nil, fmt.Errorf("error decoding slow queries: %w", err)
	}
	return queries, nil
}

func (s *MongoStore) Statistics(ctx context.Context) ([]models.SlowQueryStat, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.StoreTimeoutDuration)
	defer cancel()

	cursor, err := s.database.Collection(s.collections.SlowQueries).Aggregate(ctx, statisticsPipeline())
	if err != nil {
		return nil, fmt.Errorf("error aggregating slow queries: %w", err)
	}
	defer cursor.Close(ctx)

	stats := []models.SlowQueryStat{}
	if err := cursor.All(ctx, &stats); err != nil {
		return nil, fmt.Errorf("error decoding slow query statistics: %w", err)
	}
	return stats, nil
}

func (s *MongoStore) UpsertCommandStatus(ctx context.Context, status models.CommandStatus) error {
	ctx, cancel := context.WithTimeout(ctx, constants.StoreTimeoutDuration)
	defer cancel()

	_, err := s.database.Collection(s.collections.CommandStatus).ReplaceOne(ctx,
		bson.D{{Key: "instance_name", Value: status.InstanceName}},
		status,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("error upserting command status: %w", err)
	}
	return nil
}

func (s *MongoStore) CommandStatus(ctx context.Context, instance string) (models.CommandStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.StoreTimeoutDuration)
	defer cancel()

	var status models.CommandStatus
	err := s.database.Collection(s.collections.CommandStatus).
		FindOne(ctx, bson.D{{Key: "instance_name", Value: instance}}).
		Decode(&status)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.CommandStatus{}, fmt.Errorf("command status of %s: %w", instance, ErrNotFound)
	}
	if err != nil {
		return models.CommandStatus{}, fmt.Errorf("error reading command status: %w", err)
	}
	return status, nil
}

func (s *MongoStore) InsertIOStatus(ctx context.Context, status models.IOStatus) error {
	ctx, cancel := context.WithTimeout(ctx, constants.StoreTimeoutDuration)
	defer cancel()

	if _, err := s.database.Collection(s.collections.DiskUsage).InsertOne(ctx, status); err != nil {
		return fmt.Errorf("error inserting IO status: %w", err)
	}
	return nil
}

func (s *MongoStore) IOStatus(ctx context.Context, instance string) ([]models.IOStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.StoreTimeoutDuration)
	defer cancel()

	cursor, err := s.database.Collection(s.collections.DiskUsage).Find(ctx,
		bson.D{{Key: "instance_name", Value: instance}},
		options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}}).SetProjection(bson.D{{Key: "_id", Value: 0}}),
	)
	if err != nil {
		return nil, fmt.Errorf("error reading IO status: %w", err)
	}
	defer cursor.Close(ctx)

	var samples []models.IOStatus
	if err := cursor.All(ctx, &samples); err != nil {
		return nil, fmt.Errorf("error decoding IO status: %w", err)
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("IO status of %s: %w", instance, ErrNotFound)
	}
	return samples, nil
}

func (s *MongoStore) UpsertClusterInfo(ctx context.Context, info models.ClusterInfo) error {
	ctx, cancel := context.WithTimeout(ctx, constants.StoreTimeoutDuration)
	defer cancel()

	_, err := s.database.Collection(s.collections.AuroraInfo).ReplaceOne(ctx,
		bson.D{{Key: "DBInstanceIdentifier", Value: info.DBInstanceIdentifier}},
		info,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("error upserting cluster info: %w", err)
	}
	return nil
}

func (s *MongoStore) InsertMetricSamples(ctx context.Context, samples []models.MetricSample) error {
	if len(samples) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, constants.StoreTimeoutDuration)
	defer cancel()

	if _, err := s.database.Collection(s.collections.AuroraMetrics).InsertMany(ctx, samples); err != nil {
		return fmt.Errorf("error inserting metric samples: %w", err)
	}
	return nil
}

func (s *MongoStore) ClusterInfos(ctx context.Context) ([]models.ClusterInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.StoreTimeoutDuration)
	defer cancel()

	cursor, err := s.database.Collection(s.collections.AuroraInfo).Find(ctx, bson.D{},
		options.Find().SetSort(bson.D{{Key: "DBInstanceIdentifier", Value: 1}}).SetProjection(bson.D{{Key: "_id", Value: 0}}),
	)
	if err != nil {
		return nil, fmt.Errorf("error reading cluster info: %w", err)
	}
	defer cursor.Close(ctx)

	infos := []models.ClusterInfo{}
	if err := cursor.All(ctx, &infos); err != nil {
		return nil, fmt.Errorf("error decoding cluster info: %w", err)
	}
	return infos, nil
}

func (s *MongoStore) MetricSamples(ctx context.Context, metric string, instances []string, from, to time.Time) ([]models.MetricSample, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.StoreTimeoutDuration)
	defer cancel()

	cursor, err := s.database.Collection(s.collections.AuroraMetrics).Find(ctx,
		metricFilter(metric, instances, from, to),
		options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}}).SetProjection(bson.D{{Key: "_id", Value: 0}}),
	)
	if err != nil {
		return nil, fmt.Errorf("error reading metric samples: %w", err)
	}
	defer cursor.Close(ctx)

	samples := []models.MetricSample{}
	if err := cursor.All(ctx, &samples); err != nil {
		return nil, fmt.Errorf("error decoding metric samples: %w", err)
	}
	return samples, nil
}

func (s *MongoStore) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, constants.StoreTimeoutDuration)
	defer cancel()
	return s.client.Disconnect(ctx)
}
