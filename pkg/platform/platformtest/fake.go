// Package platformtest provides an in-memory controller for tests.
package platformtest

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"sync"

	"github.com/cfdeploy/cfdeploy/pkg/engine"
	"github.com/cfdeploy/cfdeploy/pkg/platform"
)

// Client is a platform.Client backed by maps. The zero value is not usable;
// call NewClient.
type Client struct {
	mu sync.Mutex

	apps     map[string]*platform.Application
	services map[string]*platform.ServiceInstance
	bindings map[string]map[string]map[string]any // app -> service -> parameters
	keys     map[string][]platform.ServiceKey
	tasks    map[string]*platform.Task
	calls    []string
	failures map[string][]error
	nextGUID int

	// ParametersUnsupported makes GetServiceBindingParameters answer with an
	// unsupported error.
	ParametersUnsupported bool

	// StartPolls is how many GetApplication calls report a starting
	// application before StartState is reached.
	StartPolls int

	// StartState is the state an application reaches after StartApplication.
	// Defaults to STARTED.
	StartState string

	// TaskPolls is how many GetTask calls report RUNNING before TaskState.
	TaskPolls int

	// TaskState is the final task state. Defaults to SUCCEEDED.
	TaskState string

	pendingStart map[string]int
	pendingTask  map[string]int
}

var _ platform.Client = (*Client)(nil)

// NewClient creates an empty fake controller.
func NewClient() *Client {
	return &Client{
		apps:         make(map[string]*platform.Application),
		services:     make(map[string]*platform.ServiceInstance),
		bindings:     make(map[string]map[string]map[string]any),
		keys:         make(map[string][]platform.ServiceKey),
		tasks:        make(map[string]*platform.Task),
		failures:     make(map[string][]error),
		pendingStart: make(map[string]int),
		pendingTask:  make(map[string]int),
	}
}

// AddApplication seeds an application.
func (c *Client) AddApplication(app platform.Application) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if app.GUID == "" {
		app.GUID = c.guid("app")
	}
	if app.State == "" {
		app.State = platform.StateStopped
	}
	c.apps[app.Name] = &app
}

// AddService seeds a service instance.
func (c *Client) AddService(svc platform.ServiceInstance) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if svc.GUID == "" {
		svc.GUID = c.guid("svc")
	}
	c.services[svc.Name] = &svc
}

// AddBinding seeds a binding between an existing application and service.
func (c *Client) AddBinding(app, service string, params map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bind(app, service, params)
}

// AddServiceKey seeds a service key.
func (c *Client) AddServiceKey(key platform.ServiceKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if key.GUID == "" {
		key.GUID = c.guid("key")
	}
	c.keys[key.ServiceName] = append(c.keys[key.ServiceName], key)
}

// FailNext queues errors returned by the next calls of op, one per call.
func (c *Client) FailNext(op string, errs ...error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[op] = append(c.failures[op], errs...)
}

// Calls returns the operation names invoked so far, in order.
func (c *Client) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.calls)
}

// CallCount returns how often op was invoked.
func (c *Client) CallCount(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, call := range c.calls {
		if call == op {
			n++
		}
	}
	return n
}

// Application returns a copy of the stored application.
func (c *Client) Application(name string) (platform.Application, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	app, ok := c.apps[name]
	if !ok {
		return platform.Application{}, false
	}
	return *app, true
}

// Binding returns the parameters of a binding.
func (c *Client) Binding(app, service string) (map[string]any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	params, ok := c.bindings[app][service]
	return params, ok
}

// ServiceKeys returns the stored keys of a service.
func (c *Client) ServiceKeys(service string) []platform.ServiceKey {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.keys[service])
}

// enter records the call and pops a queued failure. Callers hold c.mu.
func (c *Client) enter(op string) error {
	c.calls = append(c.calls, op)
	if q := c.failures[op]; len(q) > 0 {
		c.failures[op] = q[1:]
		return q[0]
	}
	return nil
}

func (c *Client) guid(prefix string) string {
	c.nextGUID++
	return prefix + "-" + strconv.Itoa(c.nextGUID)
}

func (c *Client) bind(app, service string, params map[string]any) {
	if c.bindings[app] == nil {
		c.bindings[app] = make(map[string]map[string]any)
	}
	c.bindings[app][service] = maps.Clone(params)
	if a, ok := c.apps[app]; ok && !a.HasService(service) {
		a.Services = append(a.Services, service)
		slices.Sort(a.Services)
	}
}

func notFound(kind, name string) error {
	return engine.NewPermanentError(fmt.Sprintf("%s %q not found", kind, name), platform.ErrNotFound).
		WithCode(engine.ErrCodeNotFound)
}

// GetApplication implements platform.Client.
func (c *Client) GetApplication(_ context.Context, name string) (*platform.Application, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter(platform.OpGetApplication); err != nil {
		return nil, err
	}
	app, ok := c.apps[name]
	if !ok {
		return nil, notFound("application", name)
	}
	if n, pending := c.pendingStart[name]; pending {
		if n > 0 {
			c.pendingStart[name] = n - 1
			cp := *app
			cp.State = platform.StateStopped
			return &cp, nil
		}
		delete(c.pendingStart, name)
	}
	cp := *app
	cp.Services = slices.Clone(app.Services)
	cp.Env = maps.Clone(app.Env)
	return &cp, nil
}

// CreateApplication implements platform.Client.
func (c *Client) CreateApplication(_ context.Context, app *platform.Application) (*platform.Application, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter(platform.OpCreateApplication); err != nil {
		return nil, err
	}
	if _, ok := c.apps[app.Name]; ok {
		return nil, engine.NewConflictError(fmt.Sprintf("application %q already exists", app.Name), nil)
	}
	cp := *app
	cp.GUID = c.guid("app")
	cp.State = platform.StateStopped
	cp.Services = nil
	c.apps[cp.Name] = &cp
	out := cp
	return &out, nil
}

// UpdateApplication implements platform.Client.
func (c *Client) UpdateApplication(_ context.Context, app *platform.Application) (*platform.Application, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter(platform.OpUpdateApplication); err != nil {
		return nil, err
	}
	cur, ok := c.apps[app.Name]
	if !ok {
		return nil, notFound("application", app.Name)
	}
	cur.Instances = app.Instances
	cur.MemoryMB = app.MemoryMB
	cur.Env = maps.Clone(app.Env)
	out := *cur
	return &out, nil
}

// DeleteApplication implements platform.Client.
func (c *Client) DeleteApplication(_ context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter(platform.OpDeleteApplication); err != nil {
		return err
	}
	if _, ok := c.apps[name]; !ok {
		return notFound("application", name)
	}
	delete(c.apps, name)
	delete(c.bindings, name)
	return nil
}

// StartApplication implements platform.Client.
func (c *Client) StartApplication(_ context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter(platform.OpStartApplication); err != nil {
		return err
	}
	app, ok := c.apps[name]
	if !ok {
		return notFound("application", name)
	}
	app.State = platform.StateStarted
	if c.StartState != "" {
		app.State = c.StartState
	}
	if c.StartPolls > 0 {
		c.pendingStart[name] = c.StartPolls
	}
	return nil
}

// StopApplication implements platform.Client.
func (c *Client) StopApplication(_ context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter(platform.OpStopApplication); err != nil {
		return err
	}
	app, ok := c.apps[name]
	if !ok {
		return notFound("application", name)
	}
	app.State = platform.StateStopped
	return nil
}

// GetServiceInstance implements platform.Client.
func (c *Client) GetServiceInstance(_ context.Context, name string) (*platform.ServiceInstance, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter(platform.OpGetServiceInstance); err != nil {
		return nil, err
	}
	svc, ok := c.services[name]
	if !ok {
		return nil, notFound("service instance", name)
	}
	cp := *svc
	return &cp, nil
}

// GetServiceBindings implements platform.Client. Binding GUIDs have the form
// "<app>/<service>".
func (c *Client) GetServiceBindings(_ context.Context, serviceInstanceGUID string) ([]platform.ServiceBinding, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter(platform.OpGetServiceBindings); err != nil {
		return nil, err
	}
	var service string
	for name, svc := range c.services {
		if svc.GUID == serviceInstanceGUID {
			service = name
		}
	}
	var out []platform.ServiceBinding
	for _, appName := range slices.Sorted(maps.Keys(c.bindings)) {
		if _, ok := c.bindings[appName][service]; !ok {
			continue
		}
		var appGUID string
		if app, ok := c.apps[appName]; ok {
			appGUID = app.GUID
		}
		out = append(out, platform.ServiceBinding{
			GUID:                appName + "/" + service,
			AppGUID:             appGUID,
			ServiceInstanceGUID: serviceInstanceGUID,
		})
	}
	return out, nil
}

// GetServiceBindingParameters implements platform.Client.
func (c *Client) GetServiceBindingParameters(_ context.Context, bindingGUID string) (map[string]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter(platform.OpGetServiceBindingParameters); err != nil {
		return nil, err
	}
	if c.ParametersUnsupported {
		return nil, engine.NewUnsupportedError("binding parameters are not supported", nil)
	}
	for app, services := range c.bindings {
		for service, params := range services {
			if app+"/"+service == bindingGUID {
				return maps.Clone(params), nil
			}
		}
	}
	return nil, notFound("binding", bindingGUID)
}

// BindService implements platform.Client.
func (c *Client) BindService(_ context.Context, appName, serviceName string, parameters map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter(platform.OpBindService); err != nil {
		return err
	}
	if _, ok := c.apps[appName]; !ok {
		return notFound("application", appName)
	}
	if _, ok := c.services[serviceName]; !ok {
		return notFound("service instance", serviceName)
	}
	c.bind(appName, serviceName, parameters)
	return nil
}

// UnbindService implements platform.Client.
func (c *Client) UnbindService(_ context.Context, appName, serviceName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter(platform.OpUnbindService); err != nil {
		return err
	}
	if _, ok := c.bindings[appName][serviceName]; !ok {
		return notFound("binding", appName+"/"+serviceName)
	}
	delete(c.bindings[appName], serviceName)
	if app, ok := c.apps[appName]; ok {
		app.Services = slices.DeleteFunc(app.Services, func(s string) bool { return s == serviceName })
	}
	return nil
}

// GetServiceKeys implements platform.Client.
func (c *Client) GetServiceKeys(_ context.Context, serviceName string) ([]platform.ServiceKey, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter(platform.OpGetServiceKeys); err != nil {
		return nil, err
	}
	return slices.Clone(c.keys[serviceName]), nil
}

// CreateServiceKey implements platform.Client.
func (c *Client) CreateServiceKey(_ context.Context, key platform.ServiceKey) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter(platform.OpCreateServiceKey); err != nil {
		return err
	}
	key.GUID = c.guid("key")
	c.keys[key.ServiceName] = append(c.keys[key.ServiceName], key)
	return nil
}

// DeleteServiceKey implements platform.Client.
func (c *Client) DeleteServiceKey(_ context.Context, serviceName, keyName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter(platform.OpDeleteServiceKey); err != nil {
		return err
	}
	before := len(c.keys[serviceName])
	c.keys[serviceName] = slices.DeleteFunc(c.keys[serviceName], func(k platform.ServiceKey) bool {
		return k.Name == keyName
	})
	if len(c.keys[serviceName]) == before {
		return notFound("service key", keyName)
	}
	return nil
}

// RunTask implements platform.Client.
func (c *Client) RunTask(_ context.Context, appName string, task platform.Task) (*platform.Task, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter(platform.OpRunTask); err != nil {
		return nil, err
	}
	if _, ok := c.apps[appName]; !ok {
		return nil, notFound("application", appName)
	}
	task.GUID = c.guid("task")
	task.State = platform.TaskRunning
	c.tasks[task.GUID] = &task
	c.pendingTask[task.GUID] = c.TaskPolls
	out := task
	return &out, nil
}

// GetTask implements platform.Client.
func (c *Client) GetTask(_ context.Context, taskGUID string) (*platform.Task, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter(platform.OpGetTask); err != nil {
		return nil, err
	}
	task, ok := c.tasks[taskGUID]
	if !ok {
		return nil, notFound("task", taskGUID)
	}
	if n := c.pendingTask[taskGUID]; n > 0 {
		c.pendingTask[taskGUID] = n - 1
	} else if !task.Done() {
		task.State = platform.TaskSucceeded
		if c.TaskState != "" {
			task.State = c.TaskState
		}
	}
	out := *task
	return &out, nil
}
