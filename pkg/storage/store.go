package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/pipewatch/pkg/types"
)

var (
	// ErrNotFound is returned by lookups when no record matches the key
	ErrNotFound = errors.New("not found")
	// ErrWriteFailed wraps every rejected write
	ErrWriteFailed = errors.New("store write failed")
)

// Store defines the interface for pipeline state storage.
// Every write is an idempotent upsert or delete by natural key.
type Store interface {
	// Pipelines
	UpsertPipeline(ctx context.Context, pipeline *types.Pipeline) error
	GetPipeline(ctx context.Context, name string) (*types.Pipeline, error)
	ListPipelines(ctx context.Context) ([]*types.Pipeline, error)

	// Builds
	UpsertBuild(ctx context.Context, build *types.Build) error
	FindBuild(ctx context.Context, pipeline string, number int64) (*types.Build, error)
	ListBuilds(ctx context.Context, pipeline string, limit int) ([]*types.Build, error)
	BuildsSince(ctx context.Context, pipeline string, since time.Time) ([]*types.Build, error)
	RecentFailures(ctx context.Context, pipeline string, limit int) ([]*types.Build, error)

	// Unresolved failures
	UpsertFailure(ctx context.Context, key types.BuildKey, record *types.FailureRecord) error
	DeleteFailure(ctx context.Context, key types.BuildKey) error
	ListFailures(ctx context.Context) ([]*types.FailureRecord, error)
	RebuildFailures(ctx context.Context) (int, error)

	// Utility
	Ping(ctx context.Context) error
	Close() error
}

// Driver names accepted by Open
const (
	DriverBolt  = "bolt"
	DriverMongo = "mongo"
)

// Options selects and configures a Store implementation
type Options struct {
	Driver        string
	DataDir       string
	MongoURI      string
	MongoDatabase string
}

// Open returns the Store selected by opts.Driver
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Driver {
	case DriverBolt, "":
		return NewBoltStore(opts.DataDir)
	case DriverMongo:
		return NewMongoStore(ctx, opts.MongoURI, opts.MongoDatabase)
	default:
		return nil, fmt.Errorf("unknown store driver: %s", opts.Driver)
	}
}

func writeFailed(what string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrWriteFailed, what, err)
}
