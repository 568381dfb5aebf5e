package storage

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/cuemby/pipewatch/pkg/types"
	bolt "go.etcd.io/bbolt"
)

// DBFileName is the name of the BoltDB file inside the data directory
const DBFileName = "pipewatch.db"

var (
	// Bucket names
	bucketPipelines = []byte("pipelines")
	bucketBuilds    = []byte("builds")
	bucketFailures  = []byte("failed_builds")
)

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	dbPath := filepath.Join(dataDir, DBFileName)

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketPipelines, bucketBuilds, bucketFailures} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Ping verifies the database is open
func (s *BoltStore) Ping(ctx context.Context) error {
	return s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketBuilds) == nil {
			return fmt.Errorf("bucket %s missing", bucketBuilds)
		}
		return nil
	})
}

// BuildKey encodes (pipeline, number) so that a pipeline's builds are
// contiguous and ordered by number: name, 0x00, big-endian number.
func BuildKey(pipeline string, number int64) []byte {
	key := make([]byte, 0, len(pipeline)+9)
	key = append(key, pipeline...)
	key = append(key, 0)
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(number))
	return append(key, n[:]...)
}

func pipelinePrefix(pipeline string) []byte {
	return append([]byte(pipeline), 0)
}

func put(tx *bolt.Tx, bucket, key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return tx.Bucket(bucket).Put(key, data)
}

// Pipeline operations
func (s *BoltStore) UpsertPipeline(ctx context.Context, pipeline *types.Pipeline) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketPipelines, []byte(pipeline.Name), pipeline)
	})
	if err != nil {
		return writeFailed("pipeline "+pipeline.Name, err)
	}
	return nil
}

func (s *BoltStore) GetPipeline(ctx context.Context, name string) (*types.Pipeline, error) {
	var pipeline types.Pipeline
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketPipelines).Get([]byte(name))
		if data == nil {
			return fmt.Errorf("pipeline %s: %w", name, ErrNotFound)
		}
		return json.Unmarshal(data, &pipeline)
	})
	if err != nil {
		return nil, err
	}
	return &pipeline, nil
}

func (s *BoltStore) ListPipelines(ctx context.Context) ([]*types.Pipeline, error) {
	var pipelines []*types.Pipeline
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPipelines).ForEach(func(k, v []byte) error {
			var pipeline types.Pipeline
			if err := json.Unmarshal(v, &pipeline); err != nil {
				return err
			}
			pipelines = append(pipelines, &pipeline)
			return nil
		})
	})
	return pipelines, err
}

// Build operations
func (s *BoltStore) UpsertBuild(ctx context.Context, build *types.Build) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketBuilds, BuildKey(build.PipelineName, build.BuildNumber), build)
	})
	if err != nil {
		return writeFailed("build "+build.Key().String(), err)
	}
	return nil
}

func (s *BoltStore) FindBuild(ctx context.Context, pipeline string, number int64) (*types.Build, error) {
	var build types.Build
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketBuilds).Get(BuildKey(pipeline, number))
		if data == nil {
			return fmt.Errorf("build %s#%d: %w", pipeline, number, ErrNotFound)
		}
		return json.Unmarshal(data, &build)
	})
	if err != nil {
		return nil, err
	}
	return &build, nil
}

// scanBuilds visits the builds of one pipeline, or all builds when pipeline is empty
func (s *BoltStore) scanBuilds(pipeline string, fn func(b *types.Build)) error {
	return s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketBuilds).Cursor()

		var k, v []byte
		var prefix []byte
		if pipeline == "" {
			k, v = c.First()
		} else {
			prefix = pipelinePrefix(pipeline)
			k, v = c.Seek(prefix)
		}

		for ; k != nil; k, v = c.Next() {
			if prefix != nil && !bytes.HasPrefix(k, prefix) {
				break
			}
			var build types.Build
			if err := json.Unmarshal(v, &build); err != nil {
				return err
			}
			fn(&build)
		}
		return nil
	})
}

// ListBuilds returns a pipeline's builds by descending build number
func (s *BoltStore) ListBuilds(ctx context.Context, pipeline string, limit int) ([]*types.Build, error) {
	var builds []*types.Build
	if err := s.scanBuilds(pipeline, func(b *types.Build) { builds = append(builds, b) }); err != nil {
		return nil, err
	}

	sort.SliceStable(builds, func(i, j int) bool {
		return builds[i].BuildNumber > builds[j].BuildNumber
	})
	if limit > 0 && len(builds) > limit {
		builds = builds[:limit]
	}
	return builds, nil
}

func (s *BoltStore) BuildsSince(ctx context.Context, pipeline string, since time.Time) ([]*types.Build, error) {
	var builds []*types.Build
	err := s.scanBuilds(pipeline, func(b *types.Build) {
		if !b.Timestamp.Before(since) {
			builds = append(builds, b)
		}
	})
	return builds, err
}

func (s *BoltStore) RecentFailures(ctx context.Context, pipeline string, limit int) ([]*types.Build, error) {
	var builds []*types.Build
	err := s.scanBuilds(pipeline, func(b *types.Build) {
		if b.Status == types.BuildStatusFailure {
			builds = append(builds, b)
		}
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(builds, func(i, j int) bool {
		return builds[i].Timestamp.After(builds[j].Timestamp)
	})
	if limit > 0 && len(builds) > limit {
		builds = builds[:limit]
	}
	return builds, nil
}

// Failure operations
func (s *BoltStore) UpsertFailure(ctx context.Context, key types.BuildKey, record *types.FailureRecord) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketFailures, BuildKey(key.PipelineName, key.BuildNumber), record)
	})
	if err != nil {
		return writeFailed("failure "+key.String(), err)
	}
	return nil
}

// DeleteFailure removes the failure record; deleting an absent key is not an error
func (s *BoltStore) DeleteFailure(ctx context.Context, key types.BuildKey) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketFailures).Delete(BuildKey(key.PipelineName, key.BuildNumber))
	})
	if err != nil {
		return writeFailed("failure "+key.String(), err)
	}
	return nil
}

func (s *BoltStore) ListFailures(ctx context.Context) ([]*types.FailureRecord, error) {
	var records []*types.FailureRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketFailures).ForEach(func(k, v []byte) error {
			var record types.FailureRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return err
			}
			records = append(records, &record)
			return nil
		})
	})
	return records, err
}

// RebuildFailures re-derives the failure set from builds in a single transaction
func (s *BoltStore) RebuildFailures(ctx context.Context) (int, error) {
	count := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		var err error
		count, err = RebuildFailuresTx(tx)
		return err
	})
	if err != nil {
		return 0, writeFailed("rebuild failures", err)
	}
	return count, nil
}

// RebuildFailuresTx replaces the failed_builds bucket with a mirror of every
// FAILURE build. It is exported for offline tools that hold their own handle.
func RebuildFailuresTx(tx *bolt.Tx) (int, error) {
	if tx.Bucket(bucketFailures) != nil {
		if err := tx.DeleteBucket(bucketFailures); err != nil {
			return 0, err
		}
	}
	if _, err := tx.CreateBucket(bucketFailures); err != nil {
		return 0, err
	}

	builds := tx.Bucket(bucketBuilds)
	if builds == nil {
		return 0, nil
	}

	count := 0
	err := builds.ForEach(func(k, v []byte) error {
		var build types.Build
		if err := json.Unmarshal(v, &build); err != nil {
			return err
		}
		if build.Status != types.BuildStatusFailure {
			return nil
		}
		count++
		return put(tx, bucketFailures, k, types.NewFailureRecord(&build))
	})
	return count, err
}

// CountFailuresTx returns the number of FAILURE builds and of failure records
func CountFailuresTx(tx *bolt.Tx) (failedBuilds, records int, err error) {
	if b := tx.Bucket(bucketFailures); b != nil {
		records = b.Stats().KeyN
	}
	builds := tx.Bucket(bucketBuilds)
	if builds == nil {
		return 0, records, nil
	}
	err = builds.ForEach(func(k, v []byte) error {
		var build types.Build
		if err := json.Unmarshal(v, &build); err != nil {
			return err
		}
		if build.Status == types.BuildStatusFailure {
			failedBuilds++
		}
		return nil
	})
	return failedBuilds, records, err
}
