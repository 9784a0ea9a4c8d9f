package deploy

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/cfdeploy/cfdeploy/pkg/engine"
	"github.com/cfdeploy/cfdeploy/pkg/hooks"
	"github.com/cfdeploy/cfdeploy/pkg/platform"
	"github.com/cfdeploy/cfdeploy/pkg/steps"
)

// LiveState is what the controller reported for the applications a
// deployment touches. Applications present here but absent from the
// descriptor are undeployed.
type LiveState struct {
	Applications map[string]*platform.Application
}

// ReadLiveState reads the named applications. Applications that do not exist
// are left out.
func ReadLiveState(ctx context.Context, client platform.Client, names ...string) (LiveState, error) {
	live := LiveState{Applications: make(map[string]*platform.Application, len(names))}
	for _, name := range names {
		app, err := client.GetApplication(ctx, name)
		if platform.IsNotFound(err) {
			continue
		}
		if err != nil {
			return LiveState{}, fmt.Errorf("failed to read application %s: %w", name, err)
		}
		live.Applications[name] = app
	}
	return live, nil
}

// Flow is the ordered list of steps of one deployment. Steps run one at a
// time in this order.
type Flow struct {
	Deployment *steps.Deployment
	Steps      []engine.Step
}

// StepNames returns the names of the flow's steps in order.
func (f *Flow) StepNames() []string {
	names := make([]string, len(f.Steps))
	for i, s := range f.Steps {
		names[i] = s.Name()
	}
	return names
}

// Planner expands descriptors into flows.
type Planner struct {
	resolver *hooks.Resolver
}

// NewPlanner creates a planner resolving hook phases with resolver. A nil
// resolver uses the default rules.
func NewPlanner(resolver *hooks.Resolver) *Planner {
	if resolver == nil {
		resolver = hooks.NewResolver()
	}
	return &Planner{resolver: resolver}
}

// Plan builds the flow of desc for deployment d. d takes its ID, services
// and archive from the descriptor.
//
// Per application the flow creates or updates the application, decides,
// unbinds and binds every service in the union of desired and live
// services, aggregates the binding changes and then restarts the
// application with its hooks placed around the stop and the start. Service
// keys follow. Live applications missing from the descriptor are stopped and
// deleted last.
func (p *Planner) Plan(d *steps.Deployment, desc *Descriptor, live LiveState) (*Flow, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	d.ID = desc.ID
	d.Services = desc.Services
	d.Archive = desc.Archive()

	flow := &Flow{Deployment: d}
	hctx := desc.HookContext()

	for _, app := range desc.Applications {
		planned, err := p.planApplication(d, app, live.Applications[app.Name], hctx)
		if err != nil {
			return nil, err
		}
		flow.Steps = append(flow.Steps, planned...)
	}

	for _, sk := range desc.ServiceKeys {
		flow.Steps = append(flow.Steps, steps.NewUpdateServiceKeys(d, sk.Service, sk.PlatformKeys(), desc.DeleteServiceKeys))
	}

	desired := desc.ApplicationNames()
	for _, name := range slices.Sorted(maps.Keys(live.Applications)) {
		if slices.Contains(desired, name) {
			continue
		}
		stop := steps.NewStopApplication(d, name)
		stop.Always = true
		flow.Steps = append(flow.Steps, stop, steps.NewDeleteApplication(d, name))
	}
	return flow, nil
}

func (p *Planner) planApplication(d *steps.Deployment, app Application, live *platform.Application, hctx hooks.Context) ([]engine.Step, error) {
	bindingApp := app.Bindings()
	services := serviceUnion(app.Services, live)

	out := []engine.Step{steps.NewCreateOrUpdateApplication(d, app.Platform())}
	for _, svc := range services {
		out = append(out,
			steps.NewDetermineBindUnbind(d, bindingApp, svc),
			steps.NewUnbindService(d, app.Name, svc),
			steps.NewBindService(d, app.Name, svc),
		)
	}
	out = append(out, steps.NewDetermineServicesChanged(d, app.Name, services))

	hookSteps := func(canonical []hooks.Phase) ([]engine.Step, error) {
		invocations, err := hooks.Select(app.Hooks, p.resolver.Resolve(canonical, hctx))
		if err != nil {
			return nil, fmt.Errorf("failed to plan hooks of application %s: %w", app.Name, err)
		}
		planned := make([]engine.Step, len(invocations))
		for i, inv := range invocations {
			planned[i] = steps.NewExecuteHook(d, app.Name, inv)
		}
		return planned, nil
	}

	beforeStop := slices.Concat(hooks.BeforeUnmapRoutesPhases(hctx), hooks.BeforeStopPhases(hctx))
	for _, stage := range []struct {
		phases []hooks.Phase
		anchor engine.Step
	}{
		{beforeStop, steps.NewStopApplication(d, app.Name)},
		{hooks.AfterStopPhases(hctx), nil},
		{hooks.BeforeStartPhases(hctx), steps.NewStartApplication(d, app.Name)},
		{hooks.AfterStartPhases(hctx), nil},
	} {
		planned, err := hookSteps(stage.phases)
		if err != nil {
			return nil, err
		}
		out = append(out, planned...)
		if stage.anchor != nil {
			out = append(out, stage.anchor)
		}
	}
	return out, nil
}

// serviceUnion returns the sorted union of the desired services and the
// services bound to the live application.
func serviceUnion(desired []string, live *platform.Application) []string {
	union := slices.Clone(desired)
	if live != nil {
		union = append(union, live.Services...)
	}
	slices.Sort(union)
	return slices.Compact(union)
}
