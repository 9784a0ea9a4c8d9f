package stores

import (
	"time"

	"github.com/cfdeploy/cfdeploy/pkg/engine"
)

// DeploymentStatus represents the status of a deployment run
type DeploymentStatus string

const (
	DeploymentStatusRunning   DeploymentStatus = "running"
	DeploymentStatusSucceeded DeploymentStatus = "succeeded"
	DeploymentStatusFailed    DeploymentStatus = "failed"
	DeploymentStatusCancelled DeploymentStatus = "cancelled"
)

// IsTerminal reports whether the deployment has finished.
func (s DeploymentStatus) IsTerminal() bool {
	return s == DeploymentStatusSucceeded || s == DeploymentStatusFailed || s == DeploymentStatusCancelled
}

// Deployment is the bookkeeping row of one deployment. A resumed deployment
// reuses its row.
type Deployment struct {
	ID             string           `json:"id"`
	DescriptorPath string           `json:"descriptor_path"`
	Status         DeploymentStatus `json:"status"`
	StartedAt      time.Time        `json:"started_at"`
	CompletedAt    *time.Time       `json:"completed_at,omitempty"`
	FailedStep     *string          `json:"failed_step,omitempty"`
	Error          *string          `json:"error,omitempty"`
	PlatformTimeMS int64            `json:"platform_time_ms"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// Completion is what is recorded when a deployment run ends.
type Completion struct {
	Status       DeploymentStatus
	FailedStep   string
	Error        string
	PlatformTime time.Duration
}

// StepRecord is the persisted state of one step instance as read back from
// its variables.
type StepRecord struct {
	StepName       string       `json:"step_name"`
	Phase          engine.Phase `json:"phase"`
	StartTimestamp time.Time    `json:"start_timestamp,omitzero"`
}
