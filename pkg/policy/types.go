package policy

import (
	"time"

	"github.com/cfdeploy/cfdeploy/pkg/bindings"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for warnings that should be reviewed.
	SeverityWarning Severity = "warning"

	// SeverityError is for errors that should block operations.
	SeverityError Severity = "error"

	// SeverityCritical is for critical violations that must be addressed immediately.
	SeverityCritical Severity = "critical"
)

// Blocks reports whether a violation of this severity denies the operation.
func (s Severity) Blocks() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name" yaml:"name"`

	// Description provides a human-readable description.
	Description string `json:"description" yaml:"description"`

	// Rego contains the Rego policy code. Violations are read from the
	// deny set of its package.
	Rego string `json:"rego" yaml:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity" yaml:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty" yaml:"tags,omitempty"`

	// Metadata contains additional policy metadata.
	Metadata map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Violation represents a single policy violation.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Application and Service identify the binding the violation refers to.
	Application string `json:"application,omitempty"`
	Service     string `json:"service,omitempty"`

	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// Result represents the result of policy evaluation.
type Result struct {
	// Allowed is false when any violation blocks the operation.
	Allowed bool `json:"allowed"`

	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists non-blocking violations and evaluation failures.
	Warnings []string `json:"warnings,omitempty"`

	EvaluatedPolicies []string      `json:"evaluated_policies"`
	Duration          time.Duration `json:"duration"`
}

// Operation names the kind of binding change under evaluation.
type Operation string

const (
	OperationBind   Operation = "bind"
	OperationUnbind Operation = "unbind"
	OperationRebind Operation = "rebind"
	OperationNone   Operation = "none"
)

// OperationOf classifies a binding decision.
func OperationOf(d bindings.Decision) Operation {
	switch {
	case d.ShouldBind && d.ShouldUnbind:
		return OperationRebind
	case d.ShouldBind:
		return OperationBind
	case d.ShouldUnbind:
		return OperationUnbind
	default:
		return OperationNone
	}
}

// Input is the document policies see as input.
type Input struct {
	Action  bindings.Action `json:"action"`
	Context Context         `json:"context"`
}

// Context provides context information for policy evaluation.
type Context struct {
	Operation Operation `json:"operation"`
	Timestamp time.Time `json:"timestamp"`
}
