package engine

import (
	"encoding/json"
	"time"
)

// StepRecord is the persisted execution state of one step instance.
type StepRecord struct {
	// StepName uniquely identifies the step instance within its deployment.
	StepName string `json:"step_name"`

	// Phase is the lifecycle position reached by the last invocation.
	Phase Phase `json:"phase"`

	// StartTimestamp is when the current time budget window opened.
	// The zero value means the window has not been opened yet.
	StartTimestamp time.Time `json:"start_timestamp,omitzero"`

	// Timeout is the budget for one window. Non-positive disables the budget.
	Timeout time.Duration `json:"timeout"`
}

// Elapsed returns the time spent in the current budget window as of now.
func (r *StepRecord) Elapsed(now time.Time) time.Duration {
	if r.StartTimestamp.IsZero() {
		return 0
	}
	return now.Sub(r.StartTimestamp)
}

// Result is what a step operation returns from one invocation.
type Result struct {
	// Status tells the executor which phase comes next.
	Status Status

	// Err is the cause when Status is StatusFailed, and optionally the
	// reason for StatusRetry.
	Err error
}

// Done is the successful result.
func Done() Result { return Result{Status: StatusDone} }

// Poll asks to be invoked again to observe asynchronous progress.
func Poll() Result { return Result{Status: StatusPoll} }

// Retry asks for a fresh execution with a new time budget.
func Retry(err error) Result { return Result{Status: StatusRetry, Err: err} }

// Failed reports a permanent failure.
func Failed(err error) Result { return Result{Status: StatusFailed, Err: err} }

// ResultFromError maps an operation error to a result: nil is done, retryable
// platform errors retry, anything else fails.
func ResultFromError(err error) Result {
	switch {
	case err == nil:
		return Done()
	case IsRetryable(err):
		return Retry(err)
	default:
		return Failed(err)
	}
}

// Outcome is what the runner reports to the scheduler after one invocation.
type Outcome struct {
	// StepName is the step instance that was invoked.
	StepName string `json:"step_name"`

	// Phase is the phase the step landed in.
	Phase Phase `json:"phase"`

	// Err is the failure cause for PhaseFailed, or the retry reason.
	Err error `json:"-"`
}

// Scope addresses variables of one deployment. An empty StepName addresses
// deployment-level variables shared by all steps.
type Scope struct {
	DeploymentID string `json:"deployment_id"`
	StepName     string `json:"step_name,omitempty"`
}

// DeploymentScope returns the deployment-level scope.
func DeploymentScope(deploymentID string) Scope {
	return Scope{DeploymentID: deploymentID}
}

// StepScope returns the scope private to one step instance.
func StepScope(deploymentID, stepName string) Scope {
	return Scope{DeploymentID: deploymentID, StepName: stepName}
}

// Event represents a step lifecycle event appended to the deployment log.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// DeploymentID is the deployment the event belongs to.
	DeploymentID string `json:"deployment_id"`

	// StepName is the step instance the event refers to, if any.
	StepName string `json:"step_name,omitempty"`

	// Type is the event type.
	Type EventType `json:"type"`

	// Phase is the step phase after the invocation that produced the event.
	Phase Phase `json:"phase,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Data contains event-specific structured data.
	Data json.RawMessage `json:"data,omitempty"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`
}
