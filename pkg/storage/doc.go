/*
Package storage persists pipeline state: pipelines, builds and the set of
unresolved failures.

Two implementations satisfy the Store interface. BoltStore keeps everything
in a single embedded BoltDB file and needs no external services; MongoStore
writes to the collections the dashboard already reads (pipelines, builds,
failed_builds).

# Keys

Every write is an upsert or delete by natural key, so replaying a
reconciliation cycle never duplicates a record:

	pipelines      name
	builds         (pipeline_name, build_number)
	failed_builds  (pipeline_name, build_number)

In BoltDB the build key is the pipeline name, a 0x00 separator and the build
number as a big-endian uint64. A prefix scan therefore visits exactly one
pipeline's builds in number order, and "build-A" never matches "build-AB".

# Failure set

failed_builds mirrors every build whose latest known status is FAILURE. It
carries no information of its own: RebuildFailures recomputes it from builds
and is safe to run at any time.

# Usage

	store, err := storage.Open(ctx, storage.Options{
		Driver:  storage.DriverBolt,
		DataDir: "/var/lib/pipewatch",
	})
	if err != nil {
		return err
	}
	defer store.Close()

	builds, err := store.ListBuilds(ctx, "build-A", 50)

Lookups return an error wrapping ErrNotFound when nothing matches, and every
rejected write wraps ErrWriteFailed.
*/
package storage
