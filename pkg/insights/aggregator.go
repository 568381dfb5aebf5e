package insights

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/pipewatch/pkg/types"
	"github.com/patrickmn/go-cache"
	"github.com/samber/lo"
)

const (
	// DefaultWindowDays is the trailing window used when none is given
	DefaultWindowDays = 30
	// DefaultCacheTTL bounds how stale a cached snapshot can be
	DefaultCacheTTL = 15 * time.Second
)

// BuildReader is the read side of the store the aggregator needs
type BuildReader interface {
	BuildsSince(ctx context.Context, pipeline string, since time.Time) ([]*types.Build, error)
	RecentFailures(ctx context.Context, pipeline string, limit int) ([]*types.Build, error)
}

// Options configures an Aggregator
type Options struct {
	CacheTTL time.Duration
	Now      func() time.Time
}

// Aggregator computes rolling build statistics from the store
type Aggregator struct {
	store BuildReader
	cache *cache.Cache
	now   func() time.Time
}

// NewAggregator creates an aggregator over the given store
func NewAggregator(store BuildReader, opts Options) *Aggregator {
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Aggregator{
		store: store,
		cache: cache.New(ttl, 2*ttl),
		now:   now,
	}
}

// ComputeMetrics summarizes builds whose timestamp falls inside the trailing
// window. An empty pipeline name covers all pipelines. A window with no
// builds yields a zero snapshot, not an error.
func (a *Aggregator) ComputeMetrics(ctx context.Context, pipeline string, windowDays int) (*types.Snapshot, error) {
	if windowDays <= 0 {
		windowDays = DefaultWindowDays
	}
	since := a.now().UTC().Add(-time.Duration(windowDays) * 24 * time.Hour)

	builds, err := a.store.BuildsSince(ctx, pipeline, since)
	if err != nil {
		return nil, fmt.Errorf("failed to read builds since %s: %w", since.Format(time.RFC3339), err)
	}

	snapshot := Summarize(builds)
	snapshot.Pipeline = pipeline
	snapshot.WindowDays = windowDays
	return snapshot, nil
}

// CachedMetrics serves ComputeMetrics through a short-lived cache
func (a *Aggregator) CachedMetrics(ctx context.Context, pipeline string, windowDays int) (*types.Snapshot, error) {
	key := fmt.Sprintf("%s/%d", pipeline, windowDays)
	if v, ok := a.cache.Get(key); ok {
		cached := *v.(*types.Snapshot)
		return &cached, nil
	}

	snapshot, err := a.ComputeMetrics(ctx, pipeline, windowDays)
	if err != nil {
		return nil, err
	}
	stored := *snapshot
	a.cache.Set(key, &stored, cache.DefaultExpiration)
	return snapshot, nil
}

// RecentFailures returns FAILURE builds, newest first
func (a *Aggregator) RecentFailures(ctx context.Context, pipeline string, limit int) ([]*types.Build, error) {
	failures, err := a.store.RecentFailures(ctx, pipeline, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read recent failures: %w", err)
	}
	return failures, nil
}

// Summarize computes counts, success rate and mean duration for a set of builds.
// The mean only covers builds with a non-zero duration.
func Summarize(builds []*types.Build) *types.Snapshot {
	snapshot := &types.Snapshot{Total: len(builds)}
	if len(builds) == 0 {
		return snapshot
	}

	snapshot.Success = len(lo.Filter(builds, func(b *types.Build, _ int) bool {
		return b.Status == types.BuildStatusSuccess
	}))
	snapshot.Failure = len(lo.Filter(builds, func(b *types.Build, _ int) bool {
		return b.Status == types.BuildStatusFailure
	}))
	snapshot.SuccessRate = float64(snapshot.Success) / float64(snapshot.Total) * 100

	durations := lo.FilterMap(builds, func(b *types.Build, _ int) (float64, bool) {
		return b.Duration, b.Duration != 0
	})
	if len(durations) > 0 {
		snapshot.AvgDuration = lo.Sum(durations) / float64(len(durations))
	}
	return snapshot
}
