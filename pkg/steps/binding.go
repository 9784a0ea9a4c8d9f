package steps

import (
	"context"
	"fmt"

	"github.com/cfdeploy/cfdeploy/pkg/bindings"
	"github.com/cfdeploy/cfdeploy/pkg/engine"
	"github.com/cfdeploy/cfdeploy/pkg/platform"
)

// DetermineBindUnbind decides how the binding between an application and a
// service changes and stores the decision for the unbind and bind steps.
type DetermineBindUnbind struct {
	base
	app     *bindings.Application
	service string
}

// NewDetermineBindUnbind creates the step for the pair app, service.
func NewDetermineBindUnbind(d *Deployment, app *bindings.Application, service string) *DetermineBindUnbind {
	return &DetermineBindUnbind{base: newBase(d, KindDetermineBindUnbind, app.Name, service), app: app, service: service}
}

// Execute implements engine.Step.
func (s *DetermineBindUnbind) Execute(ctx context.Context) engine.Result {
	logger := s.logger()
	client, err := s.d.Client(ctx, logger)
	if err != nil {
		return engine.ResultFromError(err)
	}

	decision, err := s.d.Bindings.Decide(ctx, client, bindings.Request{
		Application: s.app,
		Service:     s.service,
		Services:    s.d.Services,
		Archive:     s.d.Archive,
	})
	if err != nil {
		return s.fail(err)
	}
	logger.Info().Str("action", decision.String()).Msgf("Binding of application %q to service %q: %s", s.app.Name, s.service, decision)

	if decision.Changed() && s.d.Gate != nil {
		action, err := s.action(ctx, client, decision)
		if err != nil {
			return s.fail(err)
		}
		if err := s.d.Gate.Allow(ctx, action); err != nil {
			return s.fail(err)
		}
	}

	scope := s.d.scope()
	if err := engine.SetVariable(ctx, s.d.Store, scope, VarBindingDecision.Named(s.app.Name, s.service), decision); err != nil {
		return engine.Retry(err)
	}
	if err := engine.SetVariable(ctx, s.d.Store, scope, VarBindingUpdated.Named(s.app.Name, s.service), decision.Changed()); err != nil {
		return engine.Retry(err)
	}
	return engine.Done()
}

func (s *DetermineBindUnbind) fail(err error) engine.Result {
	return result(err, "error while determining bind and unbind operations of application %q to service %q",
		s.app.Name, s.service)
}

// action describes the decision for the policy gate. Tags come from the live
// service instance so that undeclared services are covered too.
func (s *DetermineBindUnbind) action(ctx context.Context, client platform.Client, decision bindings.Decision) (bindings.Action, error) {
	action := bindings.Action{
		DeploymentID: s.d.ID,
		Application:  s.app.Name,
		Service:      s.service,
		Declared:     s.app.Declares(s.service),
		Decision:     decision,
	}
	if svc, ok := bindings.FindService(s.d.Services, s.service); ok {
		action.ServiceTags = append(action.ServiceTags, svc.Tags...)
	}
	instance, err := client.GetServiceInstance(ctx, s.service)
	switch {
	case err == nil:
		action.ServiceTags = append(action.ServiceTags, instance.Tags...)
	case !platform.IsNotFound(err):
		return bindings.Action{}, err
	}
	return action, nil
}

func loadDecision(ctx context.Context, d *Deployment, app, service string) (bindings.Decision, bool, error) {
	return engine.LookupVariable(ctx, d.Store, d.scope(), VarBindingDecision.Named(app, service))
}

// UnbindService removes a binding when the stored decision asks for it.
type UnbindService struct {
	base
	app     string
	service string
}

// NewUnbindService creates the step for the pair app, service.
func NewUnbindService(d *Deployment, app, service string) *UnbindService {
	return &UnbindService{base: newBase(d, KindUnbindService, app, service), app: app, service: service}
}

// Execute implements engine.Step.
func (s *UnbindService) Execute(ctx context.Context) engine.Result {
	logger := s.logger()
	decision, ok, err := loadDecision(ctx, s.d, s.app, s.service)
	if err != nil {
		return engine.Retry(err)
	}
	if !ok {
		return failed("no binding decision for application %q and service %q", s.app, s.service)
	}
	if !decision.ShouldUnbind {
		return engine.Done()
	}

	client, err := s.d.Client(ctx, logger)
	if err != nil {
		return engine.ResultFromError(err)
	}
	logger.Info().Msgf("Unbinding application %q from service %q", s.app, s.service)
	err = client.UnbindService(ctx, s.app, s.service)
	if platform.IsNotFound(err) {
		logger.Warn().Msgf("Application %q is not bound to service %q", s.app, s.service)
		return engine.Done()
	}
	return result(err, "could not unbind application %q from service %q", s.app, s.service)
}

// BindService creates a binding when the stored decision asks for it.
type BindService struct {
	base
	app     string
	service string
}

// NewBindService creates the step for the pair app, service.
func NewBindService(d *Deployment, app, service string) *BindService {
	return &BindService{base: newBase(d, KindBindService, app, service), app: app, service: service}
}

// Execute implements engine.Step.
func (s *BindService) Execute(ctx context.Context) engine.Result {
	logger := s.logger()
	decision, ok, err := loadDecision(ctx, s.d, s.app, s.service)
	if err != nil {
		return engine.Retry(err)
	}
	if !ok {
		return failed("no binding decision for application %q and service %q", s.app, s.service)
	}
	if !decision.ShouldBind {
		return engine.Done()
	}

	client, err := s.d.Client(ctx, logger)
	if err != nil {
		return engine.ResultFromError(err)
	}
	logger.Info().Msgf("Binding application %q to service %q", s.app, s.service)
	err = client.BindService(ctx, s.app, s.service, decision.BindingParameters)
	if err == nil {
		return engine.Done()
	}

	if svc, _ := bindings.FindService(s.d.Services, s.service); svc.Optional {
		logger.Warn().Err(err).Msgf("Could not bind application %q to optional service %q", s.app, s.service)
		return engine.Done()
	}
	msg := fmt.Sprintf("could not bind application %q to service %q", s.app, s.service)
	if engine.IsRetryable(err) {
		return engine.Retry(engine.Wrap(err, msg))
	}
	return engine.Failed(engine.NewPermanentError(msg, err).WithApplication(s.app).WithService(s.service))
}

// DetermineServicesChanged folds the binding flags of an application into
// one flag read by the stop and start steps.
type DetermineServicesChanged struct {
	base
	app      string
	services []string
}

// NewDetermineServicesChanged creates the step for app over services.
func NewDetermineServicesChanged(d *Deployment, app string, services []string) *DetermineServicesChanged {
	return &DetermineServicesChanged{base: newBase(d, KindDetermineServicesChanged, app), app: app, services: services}
}

// Execute implements engine.Step.
func (s *DetermineServicesChanged) Execute(ctx context.Context) engine.Result {
	scope := s.d.scope()
	changed := false
	for _, svc := range s.services {
		updated, err := engine.GetVariable(ctx, s.d.Store, scope, VarBindingUpdated.Named(s.app, svc))
		if err != nil {
			return engine.Retry(err)
		}
		changed = changed || updated
	}
	if err := engine.SetVariable(ctx, s.d.Store, scope, VarServicesChanged.Named(s.app), changed); err != nil {
		return engine.Retry(err)
	}
	logger := s.logger()
	logger.Debug().Bool("changed", changed).Msgf("Service bindings of application %q determined", s.app)
	return engine.Done()
}
