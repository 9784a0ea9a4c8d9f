// Package steps implements the step operations of a deployment flow. Every
// step is an engine.Step: it reads what it needs from the variable store,
// performs at most a few controller calls and reports whether it is done,
// must be polled, retried or has failed.
package steps

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/cfdeploy/cfdeploy/pkg/bindings"
	"github.com/cfdeploy/cfdeploy/pkg/clients"
	"github.com/cfdeploy/cfdeploy/pkg/engine"
	"github.com/cfdeploy/cfdeploy/pkg/performance"
	"github.com/cfdeploy/cfdeploy/pkg/platform"
	"github.com/cfdeploy/cfdeploy/pkg/telemetry"
)

// DefaultTimeout is the budget of steps without a configured timeout.
const DefaultTimeout = time.Hour

// Timeouts holds step budgets by step kind.
type Timeouts struct {
	Default time.Duration
	ByKind  map[string]time.Duration
}

// For returns the budget of kind.
func (t Timeouts) For(kind string) time.Duration {
	if d, ok := t.ByKind[kind]; ok {
		return d
	}
	if t.Default != 0 {
		return t.Default
	}
	return DefaultTimeout
}

// ClientSource hands out the shared platform client of a target.
type ClientSource interface {
	Get(ctx context.Context, key clients.Key) (platform.Client, error)
}

// Deployment is what the steps of one deployment share. Steps borrow a
// client per invocation and never keep it.
type Deployment struct {
	ID  string
	Key clients.Key

	Clients ClientSource
	Store   engine.VariableStore

	Bindings *bindings.Engine
	Gate     bindings.Gate
	Archive  bindings.Archive
	Services []bindings.Service

	Recorder *performance.Recorder
	Session  *performance.Session
	Timeouts Timeouts

	Logger  zerolog.Logger
	Metrics *telemetry.Metrics
	Tracer  *telemetry.Tracer
}

// Client returns the deployment's client, instrumented so that every call is
// recorded against the deployment's performance session.
func (d *Deployment) Client(ctx context.Context, logger zerolog.Logger) (platform.Client, error) {
	c, err := d.Clients.Get(ctx, d.Key)
	if err != nil {
		return nil, err
	}
	return platform.Instrument(c, platform.Observer{
		Recorder: d.Recorder,
		Session:  d.Session,
		Metrics:  d.Metrics,
		Tracer:   d.Tracer,
		Logger:   logger,
	}), nil
}

func (d *Deployment) scope() engine.Scope {
	return engine.DeploymentScope(d.ID)
}

func (d *Deployment) stepScope(step string) engine.Scope {
	return engine.StepScope(d.ID, step)
}
