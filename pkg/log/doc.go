/*
Package log provides structured logging for pipewatch using zerolog.

The package holds a single global zerolog.Logger that every component derives a
child logger from. Child loggers attach the fields operators filter on when a
cycle misbehaves: the component name, the pipeline, the build number and the
reconciliation cycle ID.

# Configuration

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
	})

JSONOutput selects newline-delimited JSON (for log shippers); otherwise a
human-readable console writer with RFC3339 timestamps is used. Unknown levels
fall back to info. Output defaults to stdout.

# Component Loggers

	logger := log.WithComponent("reconciler")
	logger.Info().Int("pipelines", n).Msg("Cycle completed")

	blog := log.WithBuild("build-A", 42)
	blog.Error().Err(err).Msg("Failed to upsert build")

# Log Output Examples

Console:

	2026-10-18T10:30:00Z INF Cycle completed component=reconciler cycle_id=5b1c... pipelines=3 new_builds=1

JSON:

	{"level":"error","pipeline":"build-A","build_number":42,"error":"write failed: ...","time":"2026-10-18T10:30:00Z","message":"Failed to upsert build"}

# Conventions

  - Unit-level failures inside a cycle are logged at error level with .Err(err)
    and never returned to the scheduler.
  - Per-build processing is logged at debug level; cycles at info level.
  - Secrets (SMTP password, Jenkins token) are never logged.
*/
package log
