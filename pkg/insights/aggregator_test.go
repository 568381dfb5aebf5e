package insights

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cuemby/pipewatch/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	builds []*types.Build
	err    error
	calls  int
}

func (f *fakeReader) BuildsSince(ctx context.Context, pipeline string, since time.Time) ([]*types.Build, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	var out []*types.Build
	for _, b := range f.builds {
		if (pipeline == "" || b.PipelineName == pipeline) && !b.Timestamp.Before(since) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *fakeReader) RecentFailures(ctx context.Context, pipeline string, limit int) ([]*types.Build, error) {
	var out []*types.Build
	for _, b := range f.builds {
		if b.Status == types.BuildStatusFailure && (pipeline == "" || b.PipelineName == pipeline) {
			out = append(out, b)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func build(pipeline string, number int64, status types.BuildStatus, duration float64, age time.Duration) *types.Build {
	return &types.Build{
		PipelineName: pipeline,
		BuildNumber:  number,
		Status:       status,
		Duration:     duration,
		Timestamp:    fixedNow.Add(-age),
	}
}

func newTestAggregator(reader BuildReader) *Aggregator {
	return NewAggregator(reader, Options{Now: func() time.Time { return fixedNow }})
}

func TestComputeMetrics(t *testing.T) {
	reader := &fakeReader{builds: []*types.Build{
		build("build-A", 1, types.BuildStatusSuccess, 100, time.Hour),
		build("build-A", 2, types.BuildStatusSuccess, 200, time.Hour),
		build("build-A", 3, types.BuildStatusFailure, 300, time.Hour),
	}}

	snapshot, err := newTestAggregator(reader).ComputeMetrics(context.Background(), "build-A", 30)
	require.NoError(t, err)

	assert.Equal(t, 3, snapshot.Total)
	assert.Equal(t, 2, snapshot.Success)
	assert.Equal(t, 1, snapshot.Failure)
	assert.InDelta(t, 66.67, snapshot.SuccessRate, 0.01)
	assert.InDelta(t, 200.0, snapshot.AvgDuration, 0.0001)
	assert.Equal(t, "build-A", snapshot.Pipeline)
	assert.Equal(t, 30, snapshot.WindowDays)
}

func TestComputeMetricsEmptyWindow(t *testing.T) {
	reader := &fakeReader{builds: []*types.Build{
		build("build-A", 1, types.BuildStatusSuccess, 100, 40*24*time.Hour),
	}}

	snapshot, err := newTestAggregator(reader).ComputeMetrics(context.Background(), "", 30)
	require.NoError(t, err)

	assert.Equal(t, 0, snapshot.Total)
	assert.Equal(t, 0, snapshot.Success)
	assert.Equal(t, 0, snapshot.Failure)
	assert.Equal(t, 0.0, snapshot.SuccessRate)
	assert.Equal(t, 0.0, snapshot.AvgDuration)
}

func TestComputeMetricsIgnoresZeroDurations(t *testing.T) {
	reader := &fakeReader{builds: []*types.Build{
		build("build-A", 1, types.BuildStatusSuccess, 120, time.Hour),
		build("build-A", 2, types.BuildStatusUnknown, 0, time.Minute),
	}}

	snapshot, err := newTestAggregator(reader).ComputeMetrics(context.Background(), "build-A", 30)
	require.NoError(t, err)

	assert.Equal(t, 2, snapshot.Total)
	assert.Equal(t, 0, snapshot.Failure)
	assert.InDelta(t, 50.0, snapshot.SuccessRate, 0.0001)
	assert.InDelta(t, 120.0, snapshot.AvgDuration, 0.0001)
}

func TestComputeMetricsDefaultsWindow(t *testing.T) {
	snapshot, err := newTestAggregator(&fakeReader{}).ComputeMetrics(context.Background(), "", 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultWindowDays, snapshot.WindowDays)
}

func TestComputeMetricsStoreError(t *testing.T) {
	reader := &fakeReader{err: errors.New("connection refused")}

	_, err := newTestAggregator(reader).ComputeMetrics(context.Background(), "", 30)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestCachedMetrics(t *testing.T) {
	reader := &fakeReader{builds: []*types.Build{
		build("build-A", 1, types.BuildStatusSuccess, 100, time.Hour),
	}}
	agg := newTestAggregator(reader)
	ctx := context.Background()

	first, err := agg.CachedMetrics(ctx, "build-A", 7)
	require.NoError(t, err)
	first.Total = 99

	second, err := agg.CachedMetrics(ctx, "build-A", 7)
	require.NoError(t, err)
	assert.Equal(t, 1, second.Total)
	assert.Equal(t, 1, reader.calls)

	_, err = agg.CachedMetrics(ctx, "build-A", 30)
	require.NoError(t, err)
	assert.Equal(t, 2, reader.calls)
}
