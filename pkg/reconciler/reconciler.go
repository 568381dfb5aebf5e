package reconciler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/cuemby/pipewatch/pkg/events"
	"github.com/cuemby/pipewatch/pkg/insights"
	"github.com/cuemby/pipewatch/pkg/jenkins"
	"github.com/cuemby/pipewatch/pkg/log"
	"github.com/cuemby/pipewatch/pkg/metrics"
	"github.com/cuemby/pipewatch/pkg/storage"
	"github.com/cuemby/pipewatch/pkg/types"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
)

// ErrCycleInProgress is returned when a cycle is requested while another one runs
var ErrCycleInProgress = errors.New("reconciliation cycle already in progress")

const (
	DefaultBuildLimit = 100
	DefaultWindowDays = insights.DefaultWindowDays

	// failureContextLimit is the number of recent failures attached to a failure notification
	failureContextLimit = 3
)

// Error stages recorded in pipewatch_reconciliation_errors_total
const (
	stageListPipelines  = "list_pipelines"
	stageMetadata       = "metadata"
	stageUpsertPipeline = "upsert_pipeline"
	stageFetchBuilds    = "fetch_builds"
	stageFindBuild      = "find_build"
	stageUpsertBuild    = "upsert_build"
	stageFailureSet     = "failure_set"
	stagePanic          = "panic"
)

// Upstream is the CI server the reconciler polls
type Upstream interface {
	ListPipelines(ctx context.Context) ([]jenkins.Job, error)
	GetPipelineMetadata(ctx context.Context, name string) (map[string]interface{}, error)
	GetRecentBuilds(ctx context.Context, name string, limit int) ([]jenkins.Build, error)
}

// Notifier receives newly observed build outcomes. Implementations must not block.
type Notifier interface {
	NotifyBuildSuccess(ctx context.Context, build *types.Build)
	NotifyBuildFailure(ctx context.Context, build *types.Build, snapshot *types.Snapshot, recentFailures []*types.Build)
	NotifyBuildRecovered(ctx context.Context, build *types.Build)
}

// Publisher receives state change events
type Publisher interface {
	Publish(event *events.Event) bool
}

// Config tunes a reconciliation cycle
type Config struct {
	// BuildLimit is the number of most recent builds fetched per pipeline
	BuildLimit int
	// WindowDays is the statistics window attached to failure notifications
	WindowDays int
	// NotifyRecovered announces stored failures that are re-fetched as SUCCESS
	NotifyRecovered bool
}

// CycleReport summarizes one reconciliation cycle
type CycleReport struct {
	ID                string    `json:"id"`
	StartedAt         time.Time `json:"started_at"`
	FinishedAt        time.Time `json:"finished_at"`
	PipelinesSeen     int       `json:"pipelines_seen"`
	PipelinesUpserted int       `json:"pipelines_upserted"`
	BuildsProcessed   int       `json:"builds_processed"`
	NewBuilds         int       `json:"new_builds"`
	Notifications     int       `json:"notifications"`
	FailuresSet       int       `json:"failures_set"`
	FailuresCleared   int       `json:"failures_cleared"`
	Errors            []string  `json:"errors,omitempty"`

	// Err aggregates every unit-level failure of the cycle
	Err error `json:"-"`
}

// Duration returns how long the cycle ran
func (r *CycleReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Reconciler mirrors the CI server's pipelines and builds into the store
type Reconciler struct {
	upstream   Upstream
	store      storage.Store
	notifier   Notifier
	aggregator *insights.Aggregator
	broker     Publisher
	cfg        Config
	now        func() time.Time

	mu sync.Mutex
}

// Option customizes a Reconciler
type Option func(*Reconciler)

// WithBroker publishes cycle events to p
func WithBroker(p Publisher) Option {
	return func(r *Reconciler) { r.broker = p }
}

// WithClock replaces the wall clock
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// NewReconciler creates a new reconciler
func NewReconciler(upstream Upstream, store storage.Store, notifier Notifier, cfg Config, opts ...Option) *Reconciler {
	if cfg.BuildLimit <= 0 {
		cfg.BuildLimit = DefaultBuildLimit
	}
	if cfg.WindowDays <= 0 {
		cfg.WindowDays = DefaultWindowDays
	}

	r := &Reconciler{
		upstream: upstream,
		store:    store,
		notifier: notifier,
		cfg:      cfg,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.aggregator = insights.NewAggregator(store, insights.Options{Now: r.now})
	return r
}

// cycle carries the state of one running cycle
type cycle struct {
	report *CycleReport
	errs   *multierror.Error
	logger zerolog.Logger
}

func (c *cycle) fail(stage string, err error) {
	metrics.ReconciliationErrorsTotal.WithLabelValues(stage).Inc()
	c.errs = multierror.Append(c.errs, err)
}

// RunCycle performs one reconciliation cycle. It returns ErrCycleInProgress
// without side effects when another cycle is running, and an error when the
// pipeline list cannot be fetched. Failures of single pipelines or builds do
// not abort the cycle; they are aggregated in the report's Err.
func (r *Reconciler) RunCycle(ctx context.Context) (report *CycleReport, err error) {
	if !r.mu.TryLock() {
		return nil, ErrCycleInProgress
	}
	defer r.mu.Unlock()

	timer := metrics.NewTimer()
	c := &cycle{
		report: &CycleReport{
			ID:        uuid.New().String(),
			StartedAt: r.now().UTC(),
		},
	}
	c.logger = log.WithCycleID(c.report.ID).With().Str("component", "reconciler").Logger()
	report = c.report

	defer func() {
		if p := recover(); p != nil {
			c.fail(stagePanic, fmt.Errorf("panic during reconciliation: %v", p))
			c.logger.Error().
				Interface("panic", p).
				Str("stack", string(debug.Stack())).
				Msg("Recovered from panic in reconciliation cycle")
			err = fmt.Errorf("reconciliation cycle %s panicked: %v", report.ID, p)
		}

		report.FinishedAt = r.now().UTC()
		report.Err = c.errs.ErrorOrNil()
		if report.Err != nil {
			for _, e := range c.errs.Errors {
				report.Errors = append(report.Errors, e.Error())
			}
		}

		timer.ObserveDuration(metrics.ReconciliationDuration)
		metrics.ReconciliationCyclesTotal.Inc()
		r.publish(events.EventCycleCompleted, "", fmt.Sprintf("cycle %s completed", report.ID), map[string]string{
			"cycle_id":   report.ID,
			"new_builds": fmt.Sprint(report.NewBuilds),
			"errors":     fmt.Sprint(len(report.Errors)),
		})
	}()

	jobs, err := r.upstream.ListPipelines(ctx)
	if err != nil {
		err = fmt.Errorf("failed to list pipelines: %w", err)
		c.fail(stageListPipelines, err)
		metrics.UpdateComponent(metrics.ComponentJenkins, false, err.Error())
		c.logger.Error().Err(err).Msg("Aborting reconciliation cycle")
		return report, err
	}
	metrics.UpdateComponent(metrics.ComponentJenkins, true, "")
	report.PipelinesSeen = len(jobs)

	for _, job := range jobs {
		if ctxErr := ctx.Err(); ctxErr != nil {
			c.errs = multierror.Append(c.errs, fmt.Errorf("cycle interrupted: %w", ctxErr))
			c.logger.Warn().Err(ctxErr).Msg("Reconciliation cycle interrupted")
			break
		}
		r.reconcilePipeline(ctx, c, job)
	}

	metrics.PipelinesActive.Set(float64(len(jobs)))

	c.logger.Info().
		Int("pipelines", report.PipelinesSeen).
		Int("builds", report.BuildsProcessed).
		Int("new_builds", report.NewBuilds).
		Int("notifications", report.Notifications).
		Int("errors", len(c.errs.WrappedErrors())).
		Dur("duration", timer.Duration()).
		Msg("Reconciliation cycle completed")

	return report, nil
}

// reconcilePipeline upserts one pipeline and processes its recent builds
func (r *Reconciler) reconcilePipeline(ctx context.Context, c *cycle, job jenkins.Job) {
	logger := c.logger.With().Str("pipeline", job.Name).Logger()

	info, err := r.upstream.GetPipelineMetadata(ctx, job.Name)
	switch {
	case err != nil:
		c.fail(stageMetadata, fmt.Errorf("pipeline %s: failed to fetch metadata: %w", job.Name, err))
		logger.Warn().Err(err).Msg("Failed to fetch pipeline metadata, skipping pipeline upsert")
	case info == nil:
		logger.Debug().Msg("No pipeline metadata, skipping pipeline upsert")
	default:
		pipeline := &types.Pipeline{
			Name:        job.Name,
			URL:         job.URL,
			Color:       job.Color,
			LastUpdated: r.now().UTC(),
			Info:        info,
		}
		if err := r.store.UpsertPipeline(ctx, pipeline); err != nil {
			c.fail(stageUpsertPipeline, fmt.Errorf("pipeline %s: %w", job.Name, err))
			logger.Error().Err(err).Msg("Failed to store pipeline")
		} else {
			c.report.PipelinesUpserted++
			r.publish(events.EventPipelineUpdated, job.Name, fmt.Sprintf("pipeline %s updated", job.Name), map[string]string{
				"color": job.Color,
			})
		}
	}

	builds, err := r.upstream.GetRecentBuilds(ctx, job.Name, r.cfg.BuildLimit)
	if err != nil {
		c.fail(stageFetchBuilds, fmt.Errorf("pipeline %s: failed to fetch builds: %w", job.Name, err))
		logger.Error().Err(err).Msg("Failed to fetch builds, skipping pipeline")
		return
	}

	for i := range builds {
		build := NormalizeBuild(job.Name, &builds[i], r.now())
		if err := r.reconcileBuild(ctx, c, build); err != nil {
			logger.Error().Err(err).Int64("build_number", build.BuildNumber).Msg("Failed to reconcile build")
			continue
		}
		c.report.BuildsProcessed++
	}
}

// reconcileBuild stores one normalized build, maintains the failure set and
// fires notifications for builds seen for the first time
func (r *Reconciler) reconcileBuild(ctx context.Context, c *cycle, build *types.Build) error {
	key := build.Key()

	existing, err := r.store.FindBuild(ctx, build.PipelineName, build.BuildNumber)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		err = fmt.Errorf("build %s: lookup failed: %w", key, err)
		c.fail(stageFindBuild, err)
		return err
	}
	isNew := existing == nil
	statusChanged := !isNew && existing.Status != build.Status

	if err := r.store.UpsertBuild(ctx, build); err != nil {
		err = fmt.Errorf("build %s: %w", key, err)
		c.fail(stageUpsertBuild, err)
		return err
	}

	// A failed failure-set write is reported after the first-sight handling
	// below, since the stored build is no longer new on the next cycle.
	wasFailure := !isNew && existing.Status == types.BuildStatusFailure
	failureSetErr := r.syncFailureSet(ctx, c, build, wasFailure)

	if isNew || statusChanged {
		metrics.BuildsTotal.WithLabelValues(string(build.Status)).Inc()
		if build.Duration > 0 {
			metrics.BuildDuration.Observe(build.Duration)
		}
	}

	meta := map[string]string{
		"build_number": fmt.Sprint(build.BuildNumber),
		"status":       string(build.Status),
	}
	switch {
	case isNew:
		c.report.NewBuilds++
		r.publish(events.EventBuildNew, build.PipelineName, fmt.Sprintf("%s %s", key, build.Status), meta)
	case statusChanged:
		meta["previous_status"] = string(existing.Status)
		r.publish(events.EventBuildUpdated, build.PipelineName, fmt.Sprintf("%s %s -> %s", key, existing.Status, build.Status), meta)
	}

	if isNew {
		r.notifyNew(ctx, c, build)
	} else if wasFailure && build.Status == types.BuildStatusSuccess {
		r.publish(events.EventBuildRecovered, build.PipelineName, fmt.Sprintf("%s recovered", key), meta)
		if r.cfg.NotifyRecovered && r.notifier != nil {
			r.notifier.NotifyBuildRecovered(ctx, build)
			c.report.Notifications++
		}
	}
	return failureSetErr
}

// syncFailureSet keeps the failure record of build in line with its status
func (r *Reconciler) syncFailureSet(ctx context.Context, c *cycle, build *types.Build, wasFailure bool) error {
	key := build.Key()
	if build.Status == types.BuildStatusFailure {
		if err := r.store.UpsertFailure(ctx, key, types.NewFailureRecord(build)); err != nil {
			err = fmt.Errorf("build %s: failed to record failure: %w", key, err)
			c.fail(stageFailureSet, err)
			return err
		}
		if !wasFailure {
			c.report.FailuresSet++
		}
		return nil
	}

	if err := r.store.DeleteFailure(ctx, key); err != nil {
		err = fmt.Errorf("build %s: failed to clear failure: %w", key, err)
		c.fail(stageFailureSet, err)
		return err
	}
	if wasFailure {
		c.report.FailuresCleared++
	}
	return nil
}

func (r *Reconciler) notifyNew(ctx context.Context, c *cycle, build *types.Build) {
	if r.notifier == nil {
		return
	}

	switch build.Status {
	case types.BuildStatusSuccess:
		r.notifier.NotifyBuildSuccess(ctx, build)
		c.report.Notifications++

	case types.BuildStatusFailure:
		logger := c.logger.With().Str("build", build.Key().String()).Logger()

		snapshot, err := r.aggregator.ComputeMetrics(ctx, build.PipelineName, r.cfg.WindowDays)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to compute metrics for failure notification")
		}
		recent, err := r.aggregator.RecentFailures(ctx, build.PipelineName, failureContextLimit)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to read recent failures for failure notification")
		}

		r.publish(events.EventBuildFailed, build.PipelineName, fmt.Sprintf("%s failed", build.Key()), map[string]string{
			"build_number": fmt.Sprint(build.BuildNumber),
			"url":          build.URL,
		})
		r.notifier.NotifyBuildFailure(ctx, build, snapshot, recent)
		c.report.Notifications++
	}
}

func (r *Reconciler) publish(t events.EventType, pipeline, message string, meta map[string]string) {
	if r.broker == nil {
		return
	}
	ev := events.NewEvent(t, pipeline, message)
	for k, v := range meta {
		ev.Metadata[k] = v
	}
	r.broker.Publish(ev)
}

// NormalizeBuild converts a raw upstream build to the stored form: a missing
// result becomes UNKNOWN, milliseconds become seconds, the epoch timestamp
// becomes UTC time and a missing triggering user becomes the default user.
func NormalizeBuild(pipeline string, raw *jenkins.Build, now time.Time) *types.Build {
	status := types.BuildStatusUnknown
	if raw.Result != nil && *raw.Result != "" {
		status = types.BuildStatus(*raw.Result)
	}

	user := raw.TriggeredBy()
	if user == "" {
		user = types.DefaultTriggeredBy
	}

	return &types.Build{
		PipelineName:      pipeline,
		BuildNumber:       raw.Number,
		URL:               raw.URL,
		Timestamp:         time.UnixMilli(raw.Timestamp).UTC(),
		Status:            status,
		Duration:          float64(raw.Duration) / 1000,
		EstimatedDuration: float64(raw.EstimatedDuration) / 1000,
		User:              user,
		LastUpdated:       now.UTC(),
	}
}
