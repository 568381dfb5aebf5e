/*
Package reconciler mirrors the CI server's pipelines and builds into the
store and announces newly observed outcomes.

# Cycle

RunCycle performs one pass:

 1. List pipelines. A failure here aborts the cycle before anything is written.
 2. For each pipeline, fetch its metadata and upsert the pipeline record.
    Missing or unreachable metadata skips only the pipeline record.
 3. Fetch the most recent builds (Config.BuildLimit) and normalize them:
    milliseconds become seconds, a missing result becomes UNKNOWN and a
    missing triggering user becomes "admin".
 4. For each build, look it up, upsert it, then add it to or remove it from
    the failure set according to its status.
 5. Builds seen for the first time are announced: SUCCESS and FAILURE go to
    the Notifier, other statuses are stored silently. Failure notifications
    carry the pipeline's rolling statistics and its three most recent failures.

Every write is an upsert or delete by natural key, so running the same cycle
twice changes nothing but LastUpdated and never notifies twice.

# Fault isolation

A failing pipeline or build is logged, counted in
pipewatch_reconciliation_errors_total and collected in CycleReport.Err; the
rest of the cycle continues. A panic is recovered and returned as an error.

# Concurrency

Cycles never overlap. A call made while another cycle runs returns
ErrCycleInProgress immediately.

	rec := reconciler.NewReconciler(jenkinsClient, store, dispatcher, reconciler.Config{
		BuildLimit: 100,
		WindowDays: 30,
	}, reconciler.WithBroker(broker))

	report, err := rec.RunCycle(ctx)
*/
package reconciler
