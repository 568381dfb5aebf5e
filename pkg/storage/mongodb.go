package storage

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cuemby/pipewatch/pkg/log"
	"github.com/cuemby/pipewatch/pkg/types"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Collection names
const (
	collPipelines = "pipelines"
	collBuilds    = "builds"
	collFailures  = "failed_builds"
)

// DefaultMongoDatabase is used when neither the URI nor the options name a database
const DefaultMongoDatabase = "cicd-dashboard"

// MongoStore implements Store interface using MongoDB collections
type MongoStore struct {
	client    *mongo.Client
	pipelines *mongo.Collection
	builds    *mongo.Collection
	failures  *mongo.Collection
}

// NewMongoStore connects to MongoDB, waits for the server with exponential
// backoff and ensures the unique indexes exist.
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	if uri == "" {
		return nil, errors.New("mongo uri is required")
	}

	// Decode embedded documents as bson.M so pipeline metadata round-trips as plain maps
	reg := bson.NewRegistryBuilder().
		RegisterTypeMapEntry(bsontype.EmbeddedDocument, reflect.TypeOf(bson.M{})).
		Build()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri).SetRegistry(reg))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}

	logger := log.WithComponent("storage")
	ping := func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return client.Ping(pingCtx, readpref.Primary())
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn().Err(err).Dur("retry_in", wait).Msg("MongoDB not reachable yet")
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5), ctx)
	if err := backoff.RetryNotify(ping, policy, notify); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to reach mongo: %w", err)
	}

	if database == "" {
		database = DefaultMongoDatabase
	}
	db := client.Database(database)
	s := &MongoStore{
		client:    client,
		pipelines: db.Collection(collPipelines),
		builds:    db.Collection(collBuilds),
		failures:  db.Collection(collFailures),
	}

	if err := s.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

// EnsureIndexes creates the uniqueness and query indexes
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	buildKey := bson.D{
		bson.E{Key: "pipeline_name", Value: 1},
		bson.E{Key: "build_number", Value: -1},
	}

	indexes := map[*mongo.Collection][]mongo.IndexModel{
		s.pipelines: {
			{Keys: bson.D{bson.E{Key: "name", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		s.builds: {
			{Keys: buildKey, Options: options.Index().SetUnique(true).SetName("pipeline_name_1_build_number_-1")},
			{Keys: bson.D{bson.E{Key: "timestamp", Value: -1}}, Options: options.Index().SetName("timestamp_-1")},
			{Keys: bson.D{bson.E{Key: "status", Value: 1}}, Options: options.Index().SetName("status_1")},
		},
		s.failures: {
			{Keys: buildKey, Options: options.Index().SetUnique(true)},
		},
	}

	for coll, models := range indexes {
		if _, err := coll.Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("failed to create indexes on %s: %w", coll.Name(), err)
		}
	}
	return nil
}

// Close disconnects the client
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// Ping checks the primary is reachable
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

func buildFilter(pipeline string, number int64) bson.M {
	return bson.M{"pipeline_name": pipeline, "build_number": number}
}

func pipelineFilter(pipeline string) bson.M {
	if pipeline == "" {
		return bson.M{}
	}
	return bson.M{"pipeline_name": pipeline}
}

func upsert(ctx context.Context, coll *mongo.Collection, filter bson.M, doc interface{}) error {
	_, err := coll.UpdateOne(ctx, filter, bson.M{"$set": doc}, options.Update().SetUpsert(true))
	return err
}

// Pipeline operations
func (s *MongoStore) UpsertPipeline(ctx context.Context, pipeline *types.Pipeline) error {
	if err := upsert(ctx, s.pipelines, bson.M{"name": pipeline.Name}, pipeline); err != nil {
		return writeFailed("pipeline "+pipeline.Name, err)
	}
	return nil
}

func (s *MongoStore) GetPipeline(ctx context.Context, name string) (*types.Pipeline, error) {
	var pipeline types.Pipeline
	err := s.pipelines.FindOne(ctx, bson.M{"name": name}).Decode(&pipeline)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("pipeline %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &pipeline, nil
}

func (s *MongoStore) ListPipelines(ctx context.Context) ([]*types.Pipeline, error) {
	cursor, err := s.pipelines.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{bson.E{Key: "name", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var pipelines []*types.Pipeline
	if err := cursor.All(ctx, &pipelines); err != nil {
		return nil, err
	}
	return pipelines, nil
}

// Build operations
func (s *MongoStore) UpsertBuild(ctx context.Context, build *types.Build) error {
	if err := upsert(ctx, s.builds, buildFilter(build.PipelineName, build.BuildNumber), build); err != nil {
		return writeFailed("build "+build.Key().String(), err)
	}
	return nil
}

func (s *MongoStore) FindBuild(ctx context.Context, pipeline string, number int64) (*types.Build, error) {
	var build types.Build
	err := s.builds.FindOne(ctx, buildFilter(pipeline, number)).Decode(&build)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("build %s#%d: %w", pipeline, number, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &build, nil
}

func (s *MongoStore) findBuilds(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*types.Build, error) {
	cursor, err := s.builds.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var builds []*types.Build
	if err := cursor.All(ctx, &builds); err != nil {
		return nil, err
	}
	return builds, nil
}

func (s *MongoStore) ListBuilds(ctx context.Context, pipeline string, limit int) ([]*types.Build, error) {
	opts := options.Find().SetSort(bson.D{bson.E{Key: "build_number", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return s.findBuilds(ctx, pipelineFilter(pipeline), opts)
}

func (s *MongoStore) BuildsSince(ctx context.Context, pipeline string, since time.Time) ([]*types.Build, error) {
	filter := pipelineFilter(pipeline)
	filter["timestamp"] = bson.M{"$gte": since}
	return s.findBuilds(ctx, filter, options.Find())
}

func (s *MongoStore) RecentFailures(ctx context.Context, pipeline string, limit int) ([]*types.Build, error) {
	filter := pipelineFilter(pipeline)
	filter["status"] = types.BuildStatusFailure
	opts := options.Find().SetSort(bson.D{bson.E{Key: "timestamp", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return s.findBuilds(ctx, filter, opts)
}

// Failure operations
func (s *MongoStore) UpsertFailure(ctx context.Context, key types.BuildKey, record *types.FailureRecord) error {
	if err := upsert(ctx, s.failures, buildFilter(key.PipelineName, key.BuildNumber), record); err != nil {
		return writeFailed("failure "+key.String(), err)
	}
	return nil
}

func (s *MongoStore) DeleteFailure(ctx context.Context, key types.BuildKey) error {
	if _, err := s.failures.DeleteOne(ctx, buildFilter(key.PipelineName, key.BuildNumber)); err != nil {
		return writeFailed("failure "+key.String(), err)
	}
	return nil
}

func (s *MongoStore) ListFailures(ctx context.Context) ([]*types.FailureRecord, error) {
	cursor, err := s.failures.Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	var records []*types.FailureRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// RebuildFailures re-derives failed_builds from builds. Records for builds that
// are no longer FAILURE are removed; current failures are upserted.
func (s *MongoStore) RebuildFailures(ctx context.Context) (int, error) {
	failed, err := s.findBuilds(ctx, bson.M{"status": types.BuildStatusFailure}, options.Find())
	if err != nil {
		return 0, err
	}

	keep := make(bson.A, 0, len(failed))
	for _, build := range failed {
		if err := s.UpsertFailure(ctx, build.Key(), types.NewFailureRecord(build)); err != nil {
			return 0, err
		}
		keep = append(keep, bson.M{"pipeline_name": build.PipelineName, "build_number": build.BuildNumber})
	}

	stale := bson.M{}
	if len(keep) > 0 {
		stale = bson.M{"$nor": keep}
	}
	if _, err := s.failures.DeleteMany(ctx, stale); err != nil {
		return 0, writeFailed("rebuild failures", err)
	}
	return len(failed), nil
}
