package platform

import "context"

type correlationKey struct{}

// WithCorrelationID returns a context whose controller requests are tagged
// with id.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the correlation tag carried by ctx, if any.
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

// CorrelatedClient tags every call made through it with one deployment's
// correlation ID. Shared clients are cached without a tag; each deployment
// gets its own CorrelatedClient around them.
type CorrelatedClient struct {
	next Client
	id   string
}

// Correlate wraps c so that its calls carry id. An empty id returns c.
func Correlate(c Client, id string) Client {
	if id == "" {
		return c
	}
	return &CorrelatedClient{next: c, id: id}
}

// Unwrap returns the shared client.
func (c *CorrelatedClient) Unwrap() Client {
	return c.next
}

func (c *CorrelatedClient) tag(ctx context.Context) context.Context {
	return WithCorrelationID(ctx, c.id)
}

// GetApplication implements Client.
func (c *CorrelatedClient) GetApplication(ctx context.Context, name string) (*Application, error) {
	return c.next.GetApplication(c.tag(ctx), name)
}

// CreateApplication implements Client.
func (c *CorrelatedClient) CreateApplication(ctx context.Context, app *Application) (*Application, error) {
	return c.next.CreateApplication(c.tag(ctx), app)
}

// UpdateApplication implements Client.
func (c *CorrelatedClient) UpdateApplication(ctx context.Context, app *Application) (*Application, error) {
	return c.next.UpdateApplication(c.tag(ctx), app)
}

// DeleteApplication implements Client.
func (c *CorrelatedClient) DeleteApplication(ctx context.Context, name string) error {
	return c.next.DeleteApplication(c.tag(ctx), name)
}

// StartApplication implements Client.
func (c *CorrelatedClient) StartApplication(ctx context.Context, name string) error {
	return c.next.StartApplication(c.tag(ctx), name)
}

// StopApplication implements Client.
func (c *CorrelatedClient) StopApplication(ctx context.Context, name string) error {
	return c.next.StopApplication(c.tag(ctx), name)
}

// GetServiceInstance implements Client.
func (c *CorrelatedClient) GetServiceInstance(ctx context.Context, name string) (*ServiceInstance, error) {
	return c.next.GetServiceInstance(c.tag(ctx), name)
}

// GetServiceBindings implements Client.
func (c *CorrelatedClient) GetServiceBindings(ctx context.Context, serviceInstanceGUID string) ([]ServiceBinding, error) {
	return c.next.GetServiceBindings(c.tag(ctx), serviceInstanceGUID)
}

// GetServiceBindingParameters implements Client.
func (c *CorrelatedClient) GetServiceBindingParameters(ctx context.Context, bindingGUID string) (map[string]any, error) {
	return c.next.GetServiceBindingParameters(c.tag(ctx), bindingGUID)
}

// BindService implements Client.
func (c *CorrelatedClient) BindService(ctx context.Context, appName, serviceName string, parameters map[string]any) error {
	return c.next.BindService(c.tag(ctx), appName, serviceName, parameters)
}

// UnbindService implements Client.
func (c *CorrelatedClient) UnbindService(ctx context.Context, appName, serviceName string) error {
	return c.next.UnbindService(c.tag(ctx), appName, serviceName)
}

// GetServiceKeys implements Client.
func (c *CorrelatedClient) GetServiceKeys(ctx context.Context, serviceName string) ([]ServiceKey, error) {
	return c.next.GetServiceKeys(c.tag(ctx), serviceName)
}

// CreateServiceKey implements Client.
func (c *CorrelatedClient) CreateServiceKey(ctx context.Context, key ServiceKey) error {
	return c.next.CreateServiceKey(c.tag(ctx), key)
}

// DeleteServiceKey implements Client.
func (c *CorrelatedClient) DeleteServiceKey(ctx context.Context, serviceName, keyName string) error {
	return c.next.DeleteServiceKey(c.tag(ctx), serviceName, keyName)
}

// RunTask implements Client.
func (c *CorrelatedClient) RunTask(ctx context.Context, appName string, task Task) (*Task, error) {
	return c.next.RunTask(c.tag(ctx), appName, task)
}

// GetTask implements Client.
func (c *CorrelatedClient) GetTask(ctx context.Context, taskGUID string) (*Task, error) {
	return c.next.GetTask(c.tag(ctx), taskGUID)
}
