package steps

import (
	"context"
	"fmt"
	"maps"

	"github.com/cfdeploy/cfdeploy/pkg/engine"
	"github.com/cfdeploy/cfdeploy/pkg/platform"
)

// CreateOrUpdateApplication makes the application exist with the desired
// attributes. Services are bound by later steps.
type CreateOrUpdateApplication struct {
	base
	app platform.Application
}

// NewCreateOrUpdateApplication creates the step for app.
func NewCreateOrUpdateApplication(d *Deployment, app platform.Application) *CreateOrUpdateApplication {
	return &CreateOrUpdateApplication{base: newBase(d, KindCreateOrUpdateApplication, app.Name), app: app}
}

// Execute implements engine.Step.
func (s *CreateOrUpdateApplication) Execute(ctx context.Context) engine.Result {
	logger := s.logger()
	client, err := s.d.Client(ctx, logger)
	if err != nil {
		return engine.ResultFromError(err)
	}

	desired := s.app
	desired.Services = nil

	live, err := client.GetApplication(ctx, s.app.Name)
	if err != nil && !platform.IsNotFound(err) {
		return result(err, "could not read application %q", s.app.Name)
	}

	changed := true
	if live == nil {
		logger.Info().Msgf("Creating application %q", s.app.Name)
		_, err = client.CreateApplication(ctx, &desired)
		if err != nil {
			return result(err, "could not create application %q", s.app.Name)
		}
	} else {
		changed = attributesChanged(live, &desired)
		if changed {
			logger.Info().Msgf("Updating application %q", s.app.Name)
			if _, err = client.UpdateApplication(ctx, &desired); err != nil {
				return result(err, "could not update application %q", s.app.Name)
			}
		} else {
			logger.Info().Msgf("Application %q is up to date", s.app.Name)
		}
	}

	if err := engine.SetVariable(ctx, s.d.Store, s.d.scope(), VarApplicationChanged.Named(s.app.Name), changed); err != nil {
		return engine.Retry(err)
	}
	return engine.Done()
}

func attributesChanged(live, desired *platform.Application) bool {
	return live.Instances != desired.Instances ||
		live.MemoryMB != desired.MemoryMB ||
		!maps.Equal(live.Env, desired.Env)
}

// restartNeeded reports whether the application or any of its bindings
// changed during this deployment.
func restartNeeded(ctx context.Context, d *Deployment, app string) (bool, error) {
	changed, err := engine.GetVariable(ctx, d.Store, d.scope(), VarApplicationChanged.Named(app))
	if err != nil || changed {
		return changed, err
	}
	return engine.GetVariable(ctx, d.Store, d.scope(), VarServicesChanged.Named(app))
}

// StopApplication stops the application when it has to be restarted.
type StopApplication struct {
	base
	app string

	// Always stops regardless of changes, for applications being removed.
	Always bool
}

// NewStopApplication creates the step for app.
func NewStopApplication(d *Deployment, app string) *StopApplication {
	return &StopApplication{base: newBase(d, KindStopApplication, app), app: app}
}

// Execute implements engine.Step.
func (s *StopApplication) Execute(ctx context.Context) engine.Result {
	logger := s.logger()
	if !s.Always {
		needed, err := restartNeeded(ctx, s.d, s.app)
		if err != nil {
			return engine.Retry(err)
		}
		if !needed {
			logger.Info().Msgf("Application %q is unchanged, not stopping it", s.app)
			return engine.Done()
		}
	}

	client, err := s.d.Client(ctx, logger)
	if err != nil {
		return engine.ResultFromError(err)
	}
	live, err := client.GetApplication(ctx, s.app)
	if err != nil {
		return result(err, "could not read application %q", s.app)
	}
	if live.State == platform.StateStopped {
		return engine.Done()
	}
	logger.Info().Msgf("Stopping application %q", s.app)
	return result(client.StopApplication(ctx, s.app), "could not stop application %q", s.app)
}

// StartApplication requests a start and polls until the application runs.
type StartApplication struct {
	base
	app string
}

// NewStartApplication creates the step for app.
func NewStartApplication(d *Deployment, app string) *StartApplication {
	return &StartApplication{base: newBase(d, KindStartApplication, app), app: app}
}

// Execute implements engine.Step.
func (s *StartApplication) Execute(ctx context.Context) engine.Result {
	logger := s.logger()
	scope := s.d.stepScope(s.name)

	client, err := s.d.Client(ctx, logger)
	if err != nil {
		return engine.ResultFromError(err)
	}

	requested, err := engine.GetVariable(ctx, s.d.Store, scope, VarStartRequested)
	if err != nil {
		return engine.Retry(err)
	}
	if requested {
		return s.poll(ctx, client)
	}

	live, err := client.GetApplication(ctx, s.app)
	if err != nil {
		return result(err, "could not read application %q", s.app)
	}
	needed, err := restartNeeded(ctx, s.d, s.app)
	if err != nil {
		return engine.Retry(err)
	}
	if !needed && live.State == platform.StateStarted {
		logger.Info().Msgf("Application %q is unchanged and running", s.app)
		return engine.Done()
	}

	logger.Info().Msgf("Starting application %q", s.app)
	if err := client.StartApplication(ctx, s.app); err != nil {
		return result(err, "could not start application %q", s.app)
	}
	if err := engine.SetVariable(ctx, s.d.Store, scope, VarStartRequested, true); err != nil {
		return engine.Retry(err)
	}
	return engine.Poll()
}

func (s *StartApplication) poll(ctx context.Context, client platform.Client) engine.Result {
	live, err := client.GetApplication(ctx, s.app)
	if err != nil {
		return result(err, "could not read application %q", s.app)
	}
	switch live.State {
	case platform.StateStarted:
		logger := s.logger()
		logger.Info().Msgf("Application %q started", s.app)
		return engine.Done()
	case platform.StateCrashed:
		return engine.Failed(engine.NewPermanentError(
			fmt.Sprintf("application %q crashed while starting", s.app), nil).WithApplication(s.app))
	default:
		return engine.Poll()
	}
}

// DeleteApplication removes an application that is no longer deployed.
type DeleteApplication struct {
	base
	app string
}

// NewDeleteApplication creates the step for app.
func NewDeleteApplication(d *Deployment, app string) *DeleteApplication {
	return &DeleteApplication{base: newBase(d, KindDeleteApplication, app), app: app}
}

// Execute implements engine.Step.
func (s *DeleteApplication) Execute(ctx context.Context) engine.Result {
	logger := s.logger()
	client, err := s.d.Client(ctx, logger)
	if err != nil {
		return engine.ResultFromError(err)
	}
	logger.Info().Msgf("Deleting application %q", s.app)
	err = client.DeleteApplication(ctx, s.app)
	if platform.IsNotFound(err) {
		logger.Warn().Msgf("Application %q was already deleted", s.app)
		return engine.Done()
	}
	return result(err, "could not delete application %q", s.app)
}
