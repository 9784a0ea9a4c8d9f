package steps

import (
	"github.com/cfdeploy/cfdeploy/pkg/bindings"
	"github.com/cfdeploy/cfdeploy/pkg/engine"
)

// Deployment level variables, instantiated per application and service with
// Named.
var (
	// VarBindingDecision holds the binding decision of an application and service.
	VarBindingDecision = engine.Var[bindings.Decision]("binding")

	// VarBindingUpdated records whether the binding of an application and
	// service changes.
	VarBindingUpdated = engine.Var[bool]("binding-updated")

	// VarServicesChanged aggregates the binding flags of an application.
	VarServicesChanged = engine.Var[bool]("services-changed")

	// VarApplicationChanged records whether an application was created or had
	// its attributes updated.
	VarApplicationChanged = engine.Var[bool]("app-changed")
)

// Step level variables.
var (
	// VarStartRequested is set once the start of an application was requested.
	VarStartRequested = engine.Var[bool]("start.requested")

	// VarTaskGUID is the task a hook step started.
	VarTaskGUID = engine.Var[string]("task.guid")
)
