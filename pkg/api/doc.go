/*
Package api serves pipewatch's HTTP interface.

Routes:

	GET  /health                         store (required) and CI server (optional) status
	GET  /ready, /live                   readiness and liveness probes
	GET  /metrics                        Prometheus exposition
	GET  /api/pipelines                  stored pipelines
	GET  /api/pipelines/{name}           one pipeline, 404 when unknown
	GET  /api/pipelines/{name}/builds    builds by descending number (?limit=50)
	GET  /api/pipelines/{name}/metrics   rolling statistics (?days=30)
	GET  /api/metrics/overall            rolling statistics for all pipelines
	GET  /api/advice                     statistics, recent failures, advice and links
	GET  /api/failed-builds              unresolved failures
	GET  /api/jenkins-node-health        CI server reachability and job names
	POST /api/trigger-collection         run one cycle now, 409 while one is running
	POST /api/email/advice               email the advice digest
	GET  /ws                             live event stream

Read routes only read the store. Errors are returned as {"error": "..."}.
Every request is counted in pipewatch_api_requests_total, labelled with its
route template rather than its path.
*/
package api
