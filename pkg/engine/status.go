package engine

import (
	"encoding/json"
	"fmt"
)

// Phase is the lifecycle position of a step. It is persisted between
// invocations so that a step resumed after suspension knows where it was.
type Phase string

const (
	// PhaseInit is the phase of a step that has never been invoked.
	PhaseInit Phase = "INIT"

	// PhaseRunning is held while the step's operation executes.
	PhaseRunning Phase = "RUNNING"

	// PhasePolling indicates the step started asynchronous work and must be
	// invoked again to observe its progress.
	PhasePolling Phase = "POLLING"

	// PhaseRetrying indicates the step asked to be executed again from scratch.
	PhaseRetrying Phase = "RETRYING"

	// PhaseDone indicates the step completed successfully.
	PhaseDone Phase = "DONE"

	// PhaseFailed indicates the step failed permanently or timed out.
	PhaseFailed Phase = "FAILED"
)

var phaseTransitions = map[Phase][]Phase{
	PhaseInit:     {PhaseRunning, PhaseFailed},
	PhaseRunning:  {PhaseDone, PhasePolling, PhaseRetrying, PhaseFailed},
	PhasePolling:  {PhaseRunning, PhaseFailed},
	PhaseRetrying: {PhaseRunning, PhaseFailed},
}

// IsTerminal returns true if no further invocation may change the phase.
func (p Phase) IsTerminal() bool {
	return p == PhaseDone || p == PhaseFailed
}

// IsFreshStart returns true if entering a step in this phase opens a new time
// budget window.
func (p Phase) IsFreshStart() bool {
	return p == PhaseInit || p == PhaseRetrying
}

// CanTransitionTo reports whether next may follow p.
func (p Phase) CanTransitionTo(next Phase) bool {
	for _, allowed := range phaseTransitions[p] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Validate checks if the phase is valid.
func (p Phase) Validate() error {
	switch p {
	case PhaseInit, PhaseRunning, PhasePolling, PhaseRetrying, PhaseDone, PhaseFailed:
		return nil
	default:
		return fmt.Errorf("invalid step phase: %s", p)
	}
}

// MarshalJSON implements json.Marshaler.
func (p Phase) MarshalJSON() ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(string(p))
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *Phase) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	phase := Phase(s)
	if err := phase.Validate(); err != nil {
		return err
	}
	*p = phase
	return nil
}

// Status is what a step operation reports back after one invocation.
type Status string

const (
	// StatusDone means the operation finished its work.
	StatusDone Status = "DONE"

	// StatusPoll means asynchronous work is in flight; invoke again later.
	StatusPoll Status = "POLL"

	// StatusRetry means the operation should be repeated with a fresh budget.
	StatusRetry Status = "RETRY"

	// StatusFailed means the operation cannot succeed.
	StatusFailed Status = "FAILED"
)

// Phase returns the phase a step enters after its operation reports s.
func (s Status) Phase() Phase {
	switch s {
	case StatusDone:
		return PhaseDone
	case StatusPoll:
		return PhasePolling
	case StatusRetry:
		return PhaseRetrying
	default:
		return PhaseFailed
	}
}

// Validate checks if the status is valid.
func (s Status) Validate() error {
	switch s {
	case StatusDone, StatusPoll, StatusRetry, StatusFailed:
		return nil
	default:
		return fmt.Errorf("invalid step status: %s", s)
	}
}

// EventType represents the type of a step lifecycle event.
type EventType string

const (
	// EventStepStarted is emitted when a step opens a new time budget window.
	EventStepStarted EventType = "step.started"

	// EventStepPolling is emitted when a step waits on asynchronous work.
	EventStepPolling EventType = "step.polling"

	// EventStepRetrying is emitted when a step asks to be retried.
	EventStepRetrying EventType = "step.retrying"

	// EventStepCompleted is emitted when a step finishes successfully.
	EventStepCompleted EventType = "step.completed"

	// EventStepFailed is emitted when a step fails.
	EventStepFailed EventType = "step.failed"

	// EventStepTimedOut is emitted when a step exhausts its time budget.
	EventStepTimedOut EventType = "step.timed_out"

	// EventDeploymentStarted is emitted when a deployment begins.
	EventDeploymentStarted EventType = "deployment.started"

	// EventDeploymentCompleted is emitted when every step of a deployment is done.
	EventDeploymentCompleted EventType = "deployment.completed"

	// EventDeploymentFailed is emitted when a deployment stops on a failed step.
	EventDeploymentFailed EventType = "deployment.failed"
)

// Severity returns the log severity level for this event type.
func (e EventType) Severity() string {
	switch e {
	case EventStepFailed, EventStepTimedOut, EventDeploymentFailed:
		return "error"
	case EventStepRetrying:
		return "warning"
	default:
		return "info"
	}
}

// EventForPhase returns the event emitted when a step lands in phase p.
func EventForPhase(p Phase, timedOut bool) EventType {
	switch {
	case timedOut:
		return EventStepTimedOut
	case p == PhaseDone:
		return EventStepCompleted
	case p == PhasePolling:
		return EventStepPolling
	case p == PhaseRetrying:
		return EventStepRetrying
	default:
		return EventStepFailed
	}
}
