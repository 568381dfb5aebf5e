/*
Package types defines the data model shared by every pipewatch package.

# Records

Three record kinds are persisted by the storage package:

  - Pipeline: a named job on the CI server, keyed by Name. Refreshed every
    reconciliation cycle and never deleted.
  - Build: one execution of a pipeline, keyed by (PipelineName, BuildNumber).
    The key is assigned upstream and never changes; the record is refreshed
    until its status becomes terminal.
  - FailureRecord: a mirror of a Build whose latest status is FAILURE. The set
    of failure records is a materialized view over builds: it is written only
    by the reconciler and can be rebuilt from builds at any time.

Snapshot is computed on demand by the insights package and never stored.

# Units

Durations on Build are seconds (float64). Jenkins reports milliseconds; the
conversion happens once, in the reconciler's normalization step. Timestamps are
stored in UTC.
*/
package types
