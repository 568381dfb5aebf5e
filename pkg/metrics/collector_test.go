package metrics

import (
	"context"
	"errors"
	"testing"

	"github.com/cuemby/pipewatch/pkg/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

type fakeState struct {
	pingErr   error
	pipelines []*types.Pipeline
	failures  []*types.FailureRecord
}

func (f *fakeState) ListPipelines(ctx context.Context) ([]*types.Pipeline, error) {
	return f.pipelines, nil
}

func (f *fakeState) ListFailures(ctx context.Context) ([]*types.FailureRecord, error) {
	return f.failures, nil
}

func (f *fakeState) Ping(ctx context.Context) error {
	return f.pingErr
}

func TestCollectorCollect(t *testing.T) {
	healthChecker = newHealthChecker()
	state := &fakeState{
		pipelines: []*types.Pipeline{{Name: "build-A"}, {Name: "build-B"}},
		failures:  []*types.FailureRecord{{Build: types.Build{PipelineName: "build-A", BuildNumber: 42}}},
	}

	NewCollector(state, 0).collect()

	assert.Equal(t, float64(2), testutil.ToFloat64(PipelinesStored))
	assert.Equal(t, float64(1), testutil.ToFloat64(FailuresUnresolved))
	assert.True(t, healthChecker.components[ComponentStore].Healthy)
}

func TestCollectorStoreDown(t *testing.T) {
	healthChecker = newHealthChecker()
	state := &fakeState{pingErr: errors.New("connection refused")}

	NewCollector(state, 0).collect()

	comp := healthChecker.components[ComponentStore]
	assert.False(t, comp.Healthy)
	assert.Equal(t, "connection refused", comp.Message)
}
