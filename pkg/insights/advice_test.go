package insights

import (
	"testing"

	"github.com/cuemby/pipewatch/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestGenerateAdviceUnstableAndSlow(t *testing.T) {
	advice := GenerateAdvice(&types.Snapshot{SuccessRate: 70, AvgDuration: 700}, nil)

	assert.Equal(t, []string{
		AdviceFlakyTests,
		AdviceRetryTransient,
		AdviceEarlyFail,
		AdviceParallelize,
		AdviceCacheDependencies,
		AdviceSkipUnchanged,
	}, advice)
}

func TestGenerateAdviceThresholds(t *testing.T) {
	failures := []*types.Build{{PipelineName: "build-A", BuildNumber: 3, Status: types.BuildStatusFailure}}

	tests := []struct {
		name     string
		snapshot *types.Snapshot
		failures []*types.Build
		want     []string
	}{
		{
			name:     "healthy",
			snapshot: &types.Snapshot{SuccessRate: 100, AvgDuration: 120},
			want:     []string{AdviceHealthy},
		},
		{
			name:     "below target rate",
			snapshot: &types.Snapshot{SuccessRate: 90, AvgDuration: 120},
			want:     []string{AdviceOwnership},
		},
		{
			name:     "exactly unstable threshold",
			snapshot: &types.Snapshot{SuccessRate: 80, AvgDuration: 0},
			want:     []string{AdviceOwnership},
		},
		{
			name:     "exactly target rate",
			snapshot: &types.Snapshot{SuccessRate: 95},
			want:     []string{AdviceHealthy},
		},
		{
			name:     "warm builds",
			snapshot: &types.Snapshot{SuccessRate: 99, AvgDuration: 450},
			want:     []string{AdviceBaseImages},
		},
		{
			name:     "exactly slow threshold",
			snapshot: &types.Snapshot{SuccessRate: 99, AvgDuration: 600},
			want:     []string{AdviceBaseImages},
		},
		{
			name:     "exactly warm threshold",
			snapshot: &types.Snapshot{SuccessRate: 99, AvgDuration: 300},
			want:     []string{AdviceHealthy},
		},
		{
			name:     "recent failures only",
			snapshot: &types.Snapshot{SuccessRate: 99},
			failures: failures,
			want:     []string{AdviceInspectConsole, AdviceAlertOwners},
		},
		{
			name:     "empty snapshot",
			snapshot: &types.Snapshot{},
			want:     []string{AdviceFlakyTests, AdviceRetryTransient, AdviceEarlyFail},
		},
		{
			name:     "nil snapshot",
			snapshot: nil,
			failures: failures,
			want:     []string{AdviceFlakyTests, AdviceRetryTransient, AdviceEarlyFail, AdviceInspectConsole, AdviceAlertOwners},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GenerateAdvice(tt.snapshot, tt.failures))
		})
	}
}

func TestGenerateAdviceDeterministic(t *testing.T) {
	snapshot := &types.Snapshot{SuccessRate: 85, AvgDuration: 350}
	assert.Equal(t, GenerateAdvice(snapshot, nil), GenerateAdvice(snapshot, nil))
}

func TestGenerateResources(t *testing.T) {
	failures := []*types.Build{
		{PipelineName: "build-A", BuildNumber: 5, URL: "http://ci/job/build-A/5/"},
		{PipelineName: "build-A", BuildNumber: 4, URL: ""},
		{PipelineName: "build-B", BuildNumber: 9, URL: "http://ci/job/build-B/9"},
		{PipelineName: "build-A", BuildNumber: 3, URL: "http://ci/job/build-A/3/"},
		{PipelineName: "build-A", BuildNumber: 2, URL: "http://ci/job/build-A/2/"},
	}

	resources := GenerateResources(failures)
	assert.Len(t, resources, MaxConsoleLinks+len(curatedResources))

	assert.Equal(t, Resource{Title: "Console log: build-A #5", URL: "http://ci/job/build-A/5/console"}, resources[0])
	assert.Equal(t, Resource{Title: "Console log: build-B #9", URL: "http://ci/job/build-B/9/console"}, resources[1])
	assert.Equal(t, "Console log: build-A #3", resources[2].Title)
	assert.Equal(t, "Jenkins Pipeline: Troubleshooting", resources[3].Title)
}

func TestGenerateResourcesWithoutFailures(t *testing.T) {
	assert.Equal(t, curatedResources, GenerateResources(nil))
}
