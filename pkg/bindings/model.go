// Package bindings decides how the service bindings of an application change
// during a deployment.
package bindings

import "slices"

// UpdatePolicy controls how existing live state is treated.
type UpdatePolicy struct {
	// KeepExistingBindings leaves bindings that the descriptor does not
	// declare untouched instead of removing them.
	KeepExistingBindings bool `yaml:"keep-existing-bindings" json:"keep_existing_bindings"`
}

// Service is a service instance declared by the deployment.
type Service struct {
	// Name is the name of the service instance on the platform.
	Name string `yaml:"name" json:"name" validate:"required"`

	// ResourceName is the descriptor resource the instance was created from.
	// Parameters are keyed by it.
	ResourceName string `yaml:"resource" json:"resource_name,omitempty"`

	// Optional services may fail to bind without failing the deployment.
	Optional bool `yaml:"optional" json:"optional,omitempty"`

	// Tags are carried to policy evaluation.
	Tags []string `yaml:"tags,omitempty" json:"tags,omitempty"`
}

// Resource returns ResourceName, or Name when no resource name is set.
func (s Service) Resource() string {
	if s.ResourceName != "" {
		return s.ResourceName
	}
	return s.Name
}

// FindService returns the declared service with the given name.
func FindService(services []Service, name string) (Service, bool) {
	i := slices.IndexFunc(services, func(s Service) bool { return s.Name == name })
	if i < 0 {
		return Service{}, false
	}
	return services[i], true
}

// Application is the desired state of one application as far as bindings
// are concerned.
type Application struct {
	Name       string `yaml:"name" json:"name"`
	ModuleName string `yaml:"module" json:"module_name"`

	// Services lists the service instances the application binds to.
	Services []string `yaml:"services" json:"services,omitempty"`

	// BindingParameters holds descriptor inline parameters by resource name.
	BindingParameters map[string]map[string]any `yaml:"binding-parameters,omitempty" json:"binding_parameters,omitempty"`

	UpdatePolicy UpdatePolicy `yaml:"update-policy" json:"update_policy"`
}

// Declares reports whether the application binds to service.
func (a *Application) Declares(service string) bool {
	return slices.Contains(a.Services, service)
}

// Decision is the outcome for one (application, service) pair. Both flags
// set means unbind then bind; both clear means leave the binding alone.
type Decision struct {
	ServiceName       string         `json:"service_name"`
	ShouldBind        bool           `json:"should_bind"`
	ShouldUnbind      bool           `json:"should_unbind"`
	BindingParameters map[string]any `json:"binding_parameters,omitempty"`
}

// Changed reports whether the decision modifies the binding.
func (d Decision) Changed() bool {
	return d.ShouldBind || d.ShouldUnbind
}

// String names the action, for logs.
func (d Decision) String() string {
	switch {
	case d.ShouldUnbind && d.ShouldBind:
		return "rebind"
	case d.ShouldUnbind:
		return "unbind"
	case d.ShouldBind:
		return "bind"
	}
	return "keep"
}
