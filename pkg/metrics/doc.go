/*
Package metrics provides Prometheus instrumentation and process health for
pipewatch.

All collectors are package-level variables registered with the default
Prometheus registry at init, and exposed through Handler on /metrics.

# Metrics

Builds:

	pipewatch_builds_total{status}            counter, one per observed outcome change
	pipewatch_build_duration_seconds          histogram of finished build durations
	pipewatch_pipelines_active                pipelines listed by the CI server last cycle

Store:

	pipewatch_pipelines_stored                pipeline records in the store
	pipewatch_failures_unresolved             records in the failure set

Reconciliation:

	pipewatch_reconciliation_duration_seconds
	pipewatch_reconciliation_cycles_total
	pipewatch_reconciliation_errors_total{stage}

Notifications and API:

	pipewatch_notifications_total{channel,result}
	pipewatch_api_requests_total{route,status}
	pipewatch_api_request_duration_seconds{route}

The build counter only moves when a build is first seen or its stored status
changes, so re-polling an unchanged build never inflates it.

# Health

Components report their state through RegisterComponent and UpdateComponent.
Critical components (store and scheduler by default) make the process
unhealthy and not ready; a failing non-critical component such as the CI
server only degrades it.

	metrics.RegisterComponent(metrics.ComponentStore, true, "")
	metrics.UpdateComponent(metrics.ComponentJenkins, false, err.Error())

	router.Handle("/ready", metrics.ReadyHandler())

# Collector

Collector samples the store on an interval and refreshes the store gauges and
the store health component.

# Timing

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ReconciliationDuration)
*/
package metrics
