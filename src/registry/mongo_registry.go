package registry

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MongoRegistry reads instances from a MongoDB collection, one document per instance.
type MongoRegistry struct {
	collection *mongo.Collection
}

func NewMongoRegistry(collection *mongo.Collection) *MongoRegistry {
	return &MongoRegistry{collection: collection}
}

func (r *MongoRegistry) List(ctx context.Context) ([]InstanceDescriptor, error) {
	cursor, err := r.collection.Find(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("error listing instances: %w", err)
	}
	defer cursor.Close(ctx)

	var instances []InstanceDescriptor
	if err := cursor.All(ctx, &instances); err != nil {
		return nil, fmt.Errorf("error decoding instances: %w", err)
	}
	for i := range instances {
		instances[i] = instances[i].withDefaults()
	}
	return instances, nil
}

func (r *MongoRegistry) Save(ctx context.Context, instance InstanceDescriptor) error {
	if instance.InstanceName == "" {
		return ErrMissingName
	}
	instance = instance.withDefaults()

	_, err := r.collection.ReplaceOne(ctx, matchFilter(instance), instance, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("error saving instance %s: %w", instance.InstanceName, err)
	}
	return nil
}

func (r *MongoRegistry) Delete(ctx context.Context, name string) error {
	result, err := r.collection.DeleteOne(ctx, bson.D{{Key: "instance_name", Value: name}})
	if err != nil {
		return fmt.Errorf("error deleting instance %s: %w", name, err)
	}
	if result.DeletedCount == 0 {
		return fmt.Errorf("%w: %s", ErrInstanceNotFound, name)
	}
	return nil
}

func matchFilter(instance InstanceDescriptor) bson.D {
	return bson.D{{Key: "$or", Value: bson.A{
		bson.D{{Key: "instance_name", Value: instance.InstanceName}},
		bson.D{{Key: "host", Value: instance.Host}},
	}}}
}
