package types

import (
	"fmt"
	"time"
)

// BuildStatus is the upstream result of a build. Jenkins reports any string here
// (ABORTED, UNSTABLE, NOT_BUILT...), so only the values the poller acts on are named.
type BuildStatus string

const (
	BuildStatusSuccess BuildStatus = "SUCCESS"
	BuildStatusFailure BuildStatus = "FAILURE"
	BuildStatusUnknown BuildStatus = "UNKNOWN"
)

// IsTerminal reports whether the status will not change on a later poll
func (s BuildStatus) IsTerminal() bool {
	return s == BuildStatusSuccess || s == BuildStatusFailure
}

// DefaultTriggeredBy is recorded when upstream does not report who started a build
const DefaultTriggeredBy = "admin"

// Pipeline is a named, recurring job defined on the CI server
type Pipeline struct {
	Name        string                 `json:"name" bson:"name"`
	URL         string                 `json:"url" bson:"url"`
	Color       string                 `json:"color" bson:"color"`
	LastUpdated time.Time              `json:"last_updated" bson:"last_updated"`
	Info        map[string]interface{} `json:"info,omitempty" bson:"info,omitempty"`
}

// Build is one execution of a pipeline, identified by (PipelineName, BuildNumber)
type Build struct {
	PipelineName      string      `json:"pipeline_name" bson:"pipeline_name"`
	BuildNumber       int64       `json:"build_number" bson:"build_number"`
	URL               string      `json:"url" bson:"url"`
	Timestamp         time.Time   `json:"timestamp" bson:"timestamp"`
	Status            BuildStatus `json:"status" bson:"status"`
	Duration          float64     `json:"duration" bson:"duration"`                     // seconds
	EstimatedDuration float64     `json:"estimated_duration" bson:"estimated_duration"` // seconds
	User              string      `json:"user" bson:"user"`
	LastUpdated       time.Time   `json:"last_updated" bson:"last_updated"`
}

// Key returns the natural key of the build
func (b *Build) Key() BuildKey {
	return BuildKey{PipelineName: b.PipelineName, BuildNumber: b.BuildNumber}
}

// BuildKey identifies a build across the store
type BuildKey struct {
	PipelineName string `json:"pipeline_name" bson:"pipeline_name"`
	BuildNumber  int64  `json:"build_number" bson:"build_number"`
}

func (k BuildKey) String() string {
	return fmt.Sprintf("%s#%d", k.PipelineName, k.BuildNumber)
}

// FailureRecord mirrors a build whose latest known status is FAILURE.
// It carries no fields of its own and can always be rebuilt from builds.
type FailureRecord struct {
	Build `bson:",inline"`
}

// NewFailureRecord mirrors a build into the unresolved-failure set
func NewFailureRecord(b *Build) *FailureRecord {
	return &FailureRecord{Build: *b}
}

// Snapshot holds rolling build statistics over a trailing window
type Snapshot struct {
	Pipeline    string  `json:"pipeline,omitempty"`
	WindowDays  int     `json:"window_days"`
	Total       int     `json:"total"`
	Success     int     `json:"success"`
	Failure     int     `json:"failure"`
	SuccessRate float64 `json:"success_rate"`
	AvgDuration float64 `json:"avg_duration"`
}
