package engine

import (
	"context"
	"time"
)

// Step is one idempotent unit of a deployment flow.
type Step interface {
	// Name uniquely identifies the step instance within its deployment,
	// e.g. "bind-service[web/db]".
	Name() string

	// Kind is the step type shared by all instances, e.g. "bind-service".
	// Metrics and timeout configuration are keyed by kind.
	Kind() string

	// Timeout is the time budget of one execution window.
	Timeout() time.Duration

	// Execute performs one invocation. It must be safe to call again after a
	// crash, a retry or a poll.
	Execute(ctx context.Context) Result
}

// Operation is the callable the executor guards with a step record.
type Operation func(ctx context.Context) Result

// VariableStore persists typed step and deployment variables across
// suspension. Values are opaque encoded bytes.
type VariableStore interface {
	// GetVariable returns the stored value and whether it was present.
	GetVariable(ctx context.Context, scope Scope, name string) ([]byte, bool, error)

	// SetVariable stores a value, replacing any previous one.
	SetVariable(ctx context.Context, scope Scope, name string, value []byte) error

	// DeleteVariables removes every variable of a deployment.
	DeleteVariables(ctx context.Context, deploymentID string) error
}

// EventSink receives step lifecycle events.
type EventSink interface {
	// AppendEvent records an event. Failures are logged by the caller and do
	// not affect the step outcome.
	AppendEvent(ctx context.Context, event *Event) error
}

// Clock returns the current time. Tests inject a controllable clock.
type Clock func() time.Time
