// Package platform defines the controller API used by deployment steps and
// provides a REST implementation and an instrumenting wrapper.
package platform

import (
	"context"
)

// Client is an authenticated connection to the controller, scoped to one
// target. Implementations must be safe for concurrent use.
type Client interface {
	// GetApplication returns the application or a not-found error.
	GetApplication(ctx context.Context, name string) (*Application, error)

	// CreateApplication creates an application and returns its live state.
	CreateApplication(ctx context.Context, app *Application) (*Application, error)

	// UpdateApplication updates instances, memory and environment.
	UpdateApplication(ctx context.Context, app *Application) (*Application, error)

	// DeleteApplication deletes the application.
	DeleteApplication(ctx context.Context, name string) error

	// StartApplication requests the application to start; it returns before
	// instances are running.
	StartApplication(ctx context.Context, name string) error

	// StopApplication stops all instances.
	StopApplication(ctx context.Context, name string) error

	// GetServiceInstance returns the named service instance.
	GetServiceInstance(ctx context.Context, name string) (*ServiceInstance, error)

	// GetServiceBindings returns all application bindings of a service instance.
	GetServiceBindings(ctx context.Context, serviceInstanceGUID string) ([]ServiceBinding, error)

	// GetServiceBindingParameters returns the parameters a binding was created
	// with. Controllers without the capability answer with an unsupported error.
	GetServiceBindingParameters(ctx context.Context, bindingGUID string) (map[string]any, error)

	// BindService binds the application to the service with parameters.
	BindService(ctx context.Context, appName, serviceName string, parameters map[string]any) error

	// UnbindService removes the binding between application and service.
	UnbindService(ctx context.Context, appName, serviceName string) error

	// GetServiceKeys lists the keys of a service instance.
	GetServiceKeys(ctx context.Context, serviceName string) ([]ServiceKey, error)

	// CreateServiceKey creates a key on a service instance.
	CreateServiceKey(ctx context.Context, key ServiceKey) error

	// DeleteServiceKey deletes a key from a service instance.
	DeleteServiceKey(ctx context.Context, serviceName, keyName string) error

	// RunTask starts a task in the application's environment.
	RunTask(ctx context.Context, appName string, task Task) (*Task, error)

	// GetTask returns the current state of a task.
	GetTask(ctx context.Context, taskGUID string) (*Task, error)
}

// Operation names used for timing and metrics.
const (
	OpGetApplication              = "Get Application"
	OpCreateApplication           = "Create Application"
	OpUpdateApplication           = "Update Application"
	OpDeleteApplication           = "Delete Application"
	OpStartApplication            = "Start Application"
	OpStopApplication             = "Stop Application"
	OpGetServiceInstance          = "Get Service Instance"
	OpGetServiceBindings          = "Get Service Bindings"
	OpGetServiceBindingParameters = "Get Service Binding Parameters"
	OpBindService                 = "Bind Service"
	OpUnbindService               = "Unbind Service"
	OpGetServiceKeys              = "Get Service Keys"
	OpCreateServiceKey            = "Create Service Key"
	OpDeleteServiceKey            = "Delete Service Key"
	OpRunTask                     = "Run Task"
	OpGetTask                     = "Get Task"
)
