package platform

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/cfdeploy/cfdeploy/pkg/performance"
	"github.com/cfdeploy/cfdeploy/pkg/telemetry"
)

// Observer receives the timing of every controller call made through an
// instrumented client. All fields are optional.
type Observer struct {
	Recorder *performance.Recorder
	Session  *performance.Session
	Metrics  *telemetry.Metrics
	Tracer   *telemetry.Tracer
	Logger   zerolog.Logger
}

// InstrumentedClient decorates a Client with per-call timing.
type InstrumentedClient struct {
	next Client
	obs  Observer
}

// Instrument wraps c so that each call is recorded against obs.Session. The
// wrapper is cheap; create one per step invocation around a shared client.
func Instrument(c Client, obs Observer) *InstrumentedClient {
	return &InstrumentedClient{next: c, obs: obs}
}

// Unwrap returns the decorated client.
func (c *InstrumentedClient) Unwrap() Client {
	return c.next
}

func (c *InstrumentedClient) observe(ctx context.Context, op string, call func(context.Context) error) error {
	ctx, span := c.obs.Tracer.StartPlatformSpan(ctx, op)
	defer span.End()

	start := time.Now()
	err := call(ctx)
	elapsed := time.Since(start)

	c.obs.Recorder.Record(c.obs.Session, op, elapsed)
	c.obs.Metrics.RecordPlatformCall(op, elapsed, err)
	if err != nil {
		telemetry.RecordError(span, err)
	}
	c.obs.Logger.Debug().Msgf("Controller operation %q has taken %d ms", op, elapsed.Milliseconds())
	return err
}

// GetApplication implements Client.
func (c *InstrumentedClient) GetApplication(ctx context.Context, name string) (app *Application, err error) {
	err = c.observe(ctx, OpGetApplication, func(ctx context.Context) error {
		app, err = c.next.GetApplication(ctx, name)
		return err
	})
	return app, err
}

// CreateApplication implements Client.
func (c *InstrumentedClient) CreateApplication(ctx context.Context, app *Application) (live *Application, err error) {
	err = c.observe(ctx, OpCreateApplication, func(ctx context.Context) error {
		live, err = c.next.CreateApplication(ctx, app)
		return err
	})
	return live, err
}

// UpdateApplication implements Client.
func (c *InstrumentedClient) UpdateApplication(ctx context.Context, app *Application) (live *Application, err error) {
	err = c.observe(ctx, OpUpdateApplication, func(ctx context.Context) error {
		live, err = c.next.UpdateApplication(ctx, app)
		return err
	})
	return live, err
}

// DeleteApplication implements Client.
func (c *InstrumentedClient) DeleteApplication(ctx context.Context, name string) error {
	return c.observe(ctx, OpDeleteApplication, func(ctx context.Context) error {
		return c.next.DeleteApplication(ctx, name)
	})
}

// StartApplication implements Client.
func (c *InstrumentedClient) StartApplication(ctx context.Context, name string) error {
	return c.observe(ctx, OpStartApplication, func(ctx context.Context) error {
		return c.next.StartApplication(ctx, name)
	})
}

// StopApplication implements Client.
func (c *InstrumentedClient) StopApplication(ctx context.Context, name string) error {
	return c.observe(ctx, OpStopApplication, func(ctx context.Context) error {
		return c.next.StopApplication(ctx, name)
	})
}

// GetServiceInstance implements Client.
func (c *InstrumentedClient) GetServiceInstance(ctx context.Context, name string) (si *ServiceInstance, err error) {
	err = c.observe(ctx, OpGetServiceInstance, func(ctx context.Context) error {
		si, err = c.next.GetServiceInstance(ctx, name)
		return err
	})
	return si, err
}

// GetServiceBindings implements Client.
func (c *InstrumentedClient) GetServiceBindings(ctx context.Context, serviceInstanceGUID string) (bindings []ServiceBinding, err error) {
	err = c.observe(ctx, OpGetServiceBindings, func(ctx context.Context) error {
		bindings, err = c.next.GetServiceBindings(ctx, serviceInstanceGUID)
		return err
	})
	return bindings, err
}

// GetServiceBindingParameters implements Client.
func (c *InstrumentedClient) GetServiceBindingParameters(ctx context.Context, bindingGUID string) (params map[string]any, err error) {
	err = c.observe(ctx, OpGetServiceBindingParameters, func(ctx context.Context) error {
		params, err = c.next.GetServiceBindingParameters(ctx, bindingGUID)
		return err
	})
	return params, err
}

// BindService implements Client.
func (c *InstrumentedClient) BindService(ctx context.Context, appName, serviceName string, parameters map[string]any) error {
	return c.observe(ctx, OpBindService, func(ctx context.Context) error {
		return c.next.BindService(ctx, appName, serviceName, parameters)
	})
}

// UnbindService implements Client.
func (c *InstrumentedClient) UnbindService(ctx context.Context, appName, serviceName string) error {
	return c.observe(ctx, OpUnbindService, func(ctx context.Context) error {
		return c.next.UnbindService(ctx, appName, serviceName)
	})
}

// GetServiceKeys implements Client.
func (c *InstrumentedClient) GetServiceKeys(ctx context.Context, serviceName string) (keys []ServiceKey, err error) {
	err = c.observe(ctx, OpGetServiceKeys, func(ctx context.Context) error {
		keys, err = c.next.GetServiceKeys(ctx, serviceName)
		return err
	})
	return keys, err
}

// CreateServiceKey implements Client.
func (c *InstrumentedClient) CreateServiceKey(ctx context.Context, key ServiceKey) error {
	return c.observe(ctx, OpCreateServiceKey, func(ctx context.Context) error {
		return c.next.CreateServiceKey(ctx, key)
	})
}

// DeleteServiceKey implements Client.
func (c *InstrumentedClient) DeleteServiceKey(ctx context.Context, serviceName, keyName string) error {
	return c.observe(ctx, OpDeleteServiceKey, func(ctx context.Context) error {
		return c.next.DeleteServiceKey(ctx, serviceName, keyName)
	})
}

// RunTask implements Client.
func (c *InstrumentedClient) RunTask(ctx context.Context, appName string, task Task) (started *Task, err error) {
	err = c.observe(ctx, OpRunTask, func(ctx context.Context) error {
		started, err = c.next.RunTask(ctx, appName, task)
		return err
	})
	return started, err
}

// GetTask implements Client.
func (c *InstrumentedClient) GetTask(ctx context.Context, taskGUID string) (task *Task, err error) {
	err = c.observe(ctx, OpGetTask, func(ctx context.Context) error {
		task, err = c.next.GetTask(ctx, taskGUID)
		return err
	})
	return task, err
}
