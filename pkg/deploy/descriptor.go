// Package deploy turns a resolved deployment descriptor into the ordered flow
// of steps that the scheduler executes.
package deploy

import (
	"fmt"
	"os"
	"slices"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/cfdeploy/cfdeploy/pkg/bindings"
	"github.com/cfdeploy/cfdeploy/pkg/engine"
	"github.com/cfdeploy/cfdeploy/pkg/hooks"
	"github.com/cfdeploy/cfdeploy/pkg/platform"
)

// Descriptor is a fully resolved deployment: every application with its
// attributes, bindings and hooks, and the service instances it uses.
type Descriptor struct {
	// ID identifies the deployment. Variables and step records are scoped
	// by it, so resuming a deployment requires the same ID.
	ID string `yaml:"id" validate:"required"`

	Strategy hooks.Strategy `yaml:"strategy,omitempty" validate:"omitempty,oneof=default blue-green zero-downtime"`
	Subject  hooks.Subject  `yaml:"subject,omitempty" validate:"omitempty,oneof=live idle"`

	// Space and ArchiveID locate the uploaded archive holding binding
	// parameter files; ArchiveIndex maps dependency names to its entries.
	Space        string                `yaml:"space,omitempty"`
	ArchiveID    string                `yaml:"archive-id,omitempty"`
	ArchiveIndex bindings.ArchiveIndex `yaml:"archive-index,omitempty"`

	Applications []Application      `yaml:"applications" validate:"required,min=1,dive"`
	Services     []bindings.Service `yaml:"services,omitempty" validate:"dive"`
	ServiceKeys  []ServiceKeys      `yaml:"service-keys,omitempty" validate:"dive"`

	// DeleteServiceKeys allows removing and recreating existing keys.
	DeleteServiceKeys bool `yaml:"delete-service-keys,omitempty"`
}

// Application is one application of the descriptor.
type Application struct {
	Name      string            `yaml:"name" validate:"required"`
	Module    string            `yaml:"module,omitempty"`
	Instances int               `yaml:"instances,omitempty" validate:"gte=0"`
	MemoryMB  int               `yaml:"memory-mb,omitempty" validate:"gte=0"`
	Env       map[string]string `yaml:"env,omitempty"`

	Services          []string                  `yaml:"services,omitempty"`
	BindingParameters map[string]map[string]any `yaml:"binding-parameters,omitempty"`
	UpdatePolicy      bindings.UpdatePolicy     `yaml:"update-policy,omitempty"`

	Hooks []hooks.Hook `yaml:"hooks,omitempty" validate:"dive"`
}

// ServiceKeys is the desired set of keys of one service instance.
type ServiceKeys struct {
	Service string    `yaml:"service" validate:"required"`
	Keys    []KeySpec `yaml:"keys" validate:"dive"`
}

// KeySpec is one desired service key.
type KeySpec struct {
	Name       string         `yaml:"name" validate:"required"`
	Parameters map[string]any `yaml:"parameters,omitempty"`
}

var validate = validator.New()

// LoadDescriptor reads and validates a YAML descriptor file.
func LoadDescriptor(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read descriptor: %w", err)
	}
	return ParseDescriptor(data)
}

// ParseDescriptor decodes and validates a YAML descriptor.
func ParseDescriptor(data []byte) (*Descriptor, error) {
	var d Descriptor
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, engine.NewPermanentError("failed to decode descriptor", err).WithCode(engine.ErrCodeValidation)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// Validate checks struct constraints and the rules tags cannot express:
// unique application names, known hook phases and unique hook names per
// application.
func (d *Descriptor) Validate() error {
	if err := validate.Struct(d); err != nil {
		return invalid("descriptor validation failed", err)
	}

	seen := make(map[string]bool, len(d.Applications))
	for _, app := range d.Applications {
		if seen[app.Name] {
			return invalid(fmt.Sprintf("duplicate application %q", app.Name), nil)
		}
		seen[app.Name] = true

		hookNames := make(map[string]bool, len(app.Hooks))
		for _, h := range app.Hooks {
			if hookNames[h.Name] {
				return invalid(fmt.Sprintf("duplicate hook %q in application %q", h.Name, app.Name), nil)
			}
			hookNames[h.Name] = true
			for _, p := range h.Phases {
				if err := p.Validate(); err != nil {
					return invalid(fmt.Sprintf("hook %q of application %q", h.Name, app.Name), err)
				}
			}
		}
	}

	services := make(map[string]bool, len(d.Services))
	for _, s := range d.Services {
		if services[s.Name] {
			return invalid(fmt.Sprintf("duplicate service %q", s.Name), nil)
		}
		services[s.Name] = true
	}
	return nil
}

func invalid(message string, err error) error {
	return engine.NewPermanentError(message, err).WithCode(engine.ErrCodeValidation)
}

// HookContext returns the strategy and subject hooks are resolved for.
func (d *Descriptor) HookContext() hooks.Context {
	return hooks.Context{Strategy: d.Strategy, Subject: d.Subject}
}

// Archive returns the location of binding parameter files.
func (d *Descriptor) Archive() bindings.Archive {
	return bindings.Archive{Space: d.Space, ID: d.ArchiveID, Index: d.ArchiveIndex}
}

// ApplicationNames returns the names of the descriptor's applications.
func (d *Descriptor) ApplicationNames() []string {
	names := make([]string, len(d.Applications))
	for i, app := range d.Applications {
		names[i] = app.Name
	}
	return names
}

// Platform returns the attributes the controller stores for the application.
func (a Application) Platform() platform.Application {
	return platform.Application{
		Name:      a.Name,
		Instances: a.Instances,
		MemoryMB:  a.MemoryMB,
		Env:       a.Env,
	}
}

// Bindings returns the binding view of the application.
func (a Application) Bindings() *bindings.Application {
	module := a.Module
	if module == "" {
		module = a.Name
	}
	return &bindings.Application{
		Name:              a.Name,
		ModuleName:        module,
		Services:          slices.Clone(a.Services),
		BindingParameters: a.BindingParameters,
		UpdatePolicy:      a.UpdatePolicy,
	}
}

// PlatformKeys returns the desired keys as keys of the service.
func (s ServiceKeys) PlatformKeys() []platform.ServiceKey {
	keys := make([]platform.ServiceKey, len(s.Keys))
	for i, k := range s.Keys {
		keys[i] = platform.ServiceKey{Name: k.Name, ServiceName: s.Service, Parameters: k.Parameters}
	}
	return keys
}
