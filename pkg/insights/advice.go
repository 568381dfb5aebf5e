package insights

import (
	"fmt"

	"github.com/cuemby/pipewatch/pkg/types"
	"github.com/samber/lo"
)

// Thresholds that select advice
const (
	UnstableSuccessRate = 80.0
	TargetSuccessRate   = 95.0
	SlowBuildSeconds    = 600.0
	WarmBuildSeconds    = 300.0
)

// Advice lines, in the order they can be emitted
const (
	AdviceFlakyTests        = "Investigate flaky tests; quarantine or fix consistently failing suites."
	AdviceRetryTransient    = "Enable 'retry' on transient steps (network/artifact fetch)."
	AdviceEarlyFail         = "Add early-fail guards and clearer stage-level timeouts."
	AdviceOwnership         = "Track recent failures by owner; enforce code owners for critical stages."
	AdviceParallelize       = "Parallelize test execution (e.g., split by timing, sharding)."
	AdviceCacheDependencies = "Cache dependencies (npm/pip/maven) and Docker layers across builds."
	AdviceSkipUnchanged     = "Skip unchanged stages via checksum-based or path-based triggers."
	AdviceBaseImages        = "Pre-build base images and reuse across jobs to cut cold-start time."
	AdviceInspectConsole    = "Examine last failed build console and stage timings for hotspots."
	AdviceAlertOwners       = "Add alerts to the owning Slack channel for immediate triage."
	AdviceHealthy           = "Pipelines are healthy. Maintain by monitoring alerts and keeping caches warm."
)

// GenerateAdvice maps a snapshot and the recent failures to remediation
// steps. The output is deterministic and never empty.
func GenerateAdvice(snapshot *types.Snapshot, recentFailures []*types.Build) []string {
	var s types.Snapshot
	if snapshot != nil {
		s = *snapshot
	}

	var advice []string

	switch {
	case s.SuccessRate < UnstableSuccessRate:
		advice = append(advice, AdviceFlakyTests, AdviceRetryTransient, AdviceEarlyFail)
	case s.SuccessRate < TargetSuccessRate:
		advice = append(advice, AdviceOwnership)
	}

	switch {
	case s.AvgDuration > SlowBuildSeconds:
		advice = append(advice, AdviceParallelize, AdviceCacheDependencies, AdviceSkipUnchanged)
	case s.AvgDuration > WarmBuildSeconds:
		advice = append(advice, AdviceBaseImages)
	}

	if len(recentFailures) > 0 {
		advice = append(advice, AdviceInspectConsole, AdviceAlertOwners)
	}

	if len(advice) == 0 {
		advice = append(advice, AdviceHealthy)
	}
	return advice
}

// Resource is a titled link shown next to advice
type Resource struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// MaxConsoleLinks caps the failure console links in GenerateResources
const MaxConsoleLinks = 3

var curatedResources = []Resource{
	{Title: "Jenkins Pipeline: Troubleshooting", URL: "https://www.jenkins.io/doc/book/pipeline/troubleshooting/"},
	{Title: "Jenkins Declarative Pipeline Syntax", URL: "https://www.jenkins.io/doc/book/pipeline/syntax/"},
	{Title: "Retry step for transient failures", URL: "https://www.jenkins.io/doc/pipeline/steps/workflow-basic-steps/#retry-retry-the-body-up-to-n-times"},
	{Title: "Parallel stages to speed up builds", URL: "https://www.jenkins.io/doc/book/pipeline/syntax/#parallel"},
	{Title: "Archiving and test reports (JUnit)", URL: "https://www.jenkins.io/doc/pipeline/steps/junit/"},
	{Title: "Caching dependencies and Docker layers", URL: "https://docs.docker.com/build/cache/"},
	{Title: "Stash/Unstash to reuse workspace data", URL: "https://www.jenkins.io/doc/pipeline/steps/workflow-basic-steps/#stash-stash-some-files-to-be-used-later-by-unstash"},
}

// GenerateResources returns console links for the most recent failures
// followed by curated documentation links.
func GenerateResources(recentFailures []*types.Build) []Resource {
	withURL := lo.Filter(recentFailures, func(b *types.Build, _ int) bool {
		return b.URL != ""
	})
	if len(withURL) > MaxConsoleLinks {
		withURL = withURL[:MaxConsoleLinks]
	}

	resources := lo.Map(withURL, func(b *types.Build, _ int) Resource {
		return Resource{
			Title: fmt.Sprintf("Console log: %s #%d", b.PipelineName, b.BuildNumber),
			URL:   ConsoleURL(b.URL),
		}
	})
	return append(resources, curatedResources...)
}

// ConsoleURL returns the console log URL for a build URL
func ConsoleURL(buildURL string) string {
	if buildURL == "" {
		return ""
	}
	if buildURL[len(buildURL)-1] != '/' {
		buildURL += "/"
	}
	return buildURL + "console"
}
