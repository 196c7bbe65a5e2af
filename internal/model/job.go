package model

import (
	"fmt"
	"time"

	"jobrunner/internal/errs"
)

// JobType distinguishes the two execution pipelines a job can take.
type JobType string

const (
	JobScript  JobType = "script"
	JobSession JobType = "session"
)

// OverlapPolicy governs what happens when a scheduled fire would start a
// job that is already running.
type OverlapPolicy string

const (
	OverlapSkip  OverlapPolicy = "skip"
	OverlapQueue OverlapPolicy = "queue"
	OverlapAllow OverlapPolicy = "allow"
)

// Job is a persistent declaration of work, triggered on a cron schedule or
// manually.
type Job struct {
	ID              string        `json:"id"`
	Name            string        `json:"name"`
	Schedule        string        `json:"schedule"`
	Script          string        `json:"script"`
	Type            JobType       `json:"type"`
	Description     string        `json:"description,omitempty"`
	Enabled         bool          `json:"enabled"`
	TimeoutMs       *int64        `json:"timeoutMs,omitempty"`
	OverlapPolicy   OverlapPolicy `json:"overlapPolicy"`
	OnFailureChanID string        `json:"onFailureChannelId,omitempty"`
	OnSuccessChanID string        `json:"onSuccessChannelId,omitempty"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`

	// Populated by read paths that join against the runs table; not a
	// persisted column.
	LastStatus RunStatus  `json:"lastStatus,omitempty"`
	LastRunAt  *time.Time `json:"lastRunAt,omitempty"`
}

// Validate enforces the closed set of job-schema constraints named in
// spec.md §7 (ConfigError surface).
func (j *Job) Validate() error {
	switch j.Type {
	case JobScript, JobSession:
	default:
		return errs.Config("job.Validate", fmt.Errorf("invalid job type %q", j.Type))
	}
	switch j.OverlapPolicy {
	case OverlapSkip, OverlapQueue, OverlapAllow, "":
	default:
		return errs.Config("job.Validate", fmt.Errorf("invalid overlap policy %q", j.OverlapPolicy))
	}
	if j.ID == "" {
		return errs.Config("job.Validate", fmt.Errorf("id is required"))
	}
	if j.Script == "" {
		return errs.Config("job.Validate", fmt.Errorf("script is required"))
	}
	return nil
}
