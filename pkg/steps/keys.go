package steps

import (
	"context"

	"github.com/cfdeploy/cfdeploy/pkg/bindings"
	"github.com/cfdeploy/cfdeploy/pkg/engine"
	"github.com/cfdeploy/cfdeploy/pkg/platform"
)

// UpdateServiceKeys brings the keys of a service instance to the desired set.
type UpdateServiceKeys struct {
	base
	service   string
	keys      []platform.ServiceKey
	canDelete bool
}

// NewUpdateServiceKeys creates the step for service. Existing keys that are
// not desired are only removed when canDelete is set.
func NewUpdateServiceKeys(d *Deployment, service string, keys []platform.ServiceKey, canDelete bool) *UpdateServiceKeys {
	return &UpdateServiceKeys{
		base:      newBase(d, KindUpdateServiceKeys, service),
		service:   service,
		keys:      keys,
		canDelete: canDelete,
	}
}

// Execute implements engine.Step. The difference is recomputed on every
// invocation, so a retry continues where a failed attempt stopped.
func (s *UpdateServiceKeys) Execute(ctx context.Context) engine.Result {
	logger := s.logger()
	client, err := s.d.Client(ctx, logger)
	if err != nil {
		return engine.ResultFromError(err)
	}

	existing, err := client.GetServiceKeys(ctx, s.service)
	if err != nil {
		return result(err, "could not read service keys of service %q", s.service)
	}
	desired := make([]platform.ServiceKey, len(s.keys))
	for i, k := range s.keys {
		k.ServiceName = s.service
		desired[i] = k
	}
	actions := bindings.DiffServiceKeys(desired, existing, s.canDelete)

	for _, k := range actions.Skipped {
		logger.Warn().Msgf("Service key %q of service %q should be updated or deleted, but deletion is not allowed", k.Name, s.service)
	}
	for _, k := range actions.Delete {
		logger.Info().Msgf("Deleting service key %q of service %q", k.Name, s.service)
		if err := client.DeleteServiceKey(ctx, s.service, k.Name); err != nil && !platform.IsNotFound(err) {
			return result(err, "could not delete service key %q of service %q", k.Name, s.service)
		}
	}
	for _, k := range actions.Update {
		logger.Info().Msgf("Updating service key %q of service %q", k.Name, s.service)
		if err := client.DeleteServiceKey(ctx, s.service, k.Name); err != nil && !platform.IsNotFound(err) {
			return result(err, "could not delete service key %q of service %q", k.Name, s.service)
		}
		if err := client.CreateServiceKey(ctx, k); err != nil {
			return result(err, "could not create service key %q of service %q", k.Name, s.service)
		}
	}
	for _, k := range actions.Create {
		logger.Info().Msgf("Creating service key %q of service %q", k.Name, s.service)
		if err := client.CreateServiceKey(ctx, k); err != nil {
			return result(err, "could not create service key %q of service %q", k.Name, s.service)
		}
	}
	return engine.Done()
}
