package bindings

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/cfdeploy/cfdeploy/pkg/platform"
)

// Request is the input of one binding decision.
type Request struct {
	// Application is the desired application.
	Application *Application

	// Service is the service instance the decision is about. It may be
	// declared by the application, bound live, or both.
	Service string

	// Services are the service instances declared by the deployment.
	Services []Service

	// Archive locates parameter files.
	Archive Archive

	// Live is the current application. When nil it is read through the client.
	Live *platform.Application
}

// Engine computes binding decisions. It keeps no state between calls.
type Engine struct {
	params *ParameterSource
	logger zerolog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates a decision engine.
func NewEngine(params *ParameterSource, opts ...Option) *Engine {
	e := &Engine{params: params, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Decide computes whether the application's binding to req.Service must be
// created, removed, replaced or kept. The only side effects are reads.
func (e *Engine) Decide(ctx context.Context, client platform.Client, req Request) (Decision, error) {
	app := req.Application
	d := Decision{ServiceName: req.Service}
	logger := e.logger.With().Str("app", app.Name).Str("service", req.Service).Logger()
	logger.Debug().Msg("Determining bind and unbind operations")

	if !app.Declares(req.Service) {
		if app.UpdatePolicy.KeepExistingBindings {
			logger.Info().Msgf("Keeping existing binding of application %q to service %q", app.Name, req.Service)
			return d, nil
		}
		d.ShouldUnbind = true
		return d, nil
	}

	live := req.Live
	if live == nil {
		var err error
		if live, err = client.GetApplication(ctx, app.Name); err != nil {
			return Decision{}, err
		}
	}

	desired, err := e.params.Desired(ctx, req.Archive, app, req.Services, req.Service)
	if err != nil {
		return Decision{}, err
	}
	logger.Debug().Interface("parameters", desired).Msg("Resolved binding parameters")

	if !live.HasService(req.Service) {
		d.ShouldBind = true
		d.BindingParameters = desired
		return d, nil
	}

	current, known, err := LiveParameters(ctx, client, live, req.Service, logger)
	if err != nil {
		return Decision{}, err
	}
	// Unknown live parameters never trigger a rebind, even if they drifted.
	if known && !EqualParameters(current, desired) {
		d.ShouldBind = true
		d.ShouldUnbind = true
		d.BindingParameters = desired
		return d, nil
	}

	logger.Info().Msgf("Will not rebind application %q to service %q", app.Name, req.Service)
	return d, nil
}
