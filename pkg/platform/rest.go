package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/cfdeploy/cfdeploy/pkg/engine"
)

// CorrelationHeader carries the correlation tag of the deployment on every request.
const CorrelationHeader = "X-Correlation-ID"

const maxErrorBody = 4 << 10

// RESTFactory creates RESTClients authenticated with OAuth2 tokens. Tokens
// that carry a refresh token are refreshed transparently by the transport.
type RESTFactory struct {
	// BaseURL is the controller API root, e.g. https://api.example.com.
	BaseURL string

	// OAuth is used to refresh expired tokens. When nil, tokens are used as is.
	OAuth *oauth2.Config

	// HTTPClient is the base client under the OAuth2 transport.
	HTTPClient *http.Client

	// Timeout bounds each request.
	Timeout time.Duration

	// UserAgent is sent with every request.
	UserAgent string
}

// NewClient creates a client for target. The target space is resolved eagerly
// so that an unknown organization or space fails here rather than in a step.
func (f *RESTFactory) NewClient(ctx context.Context, token *oauth2.Token, target Target) (Client, error) {
	// Refreshes happen long after ctx has ended, so the transport gets its own.
	base := context.Background()
	if f.HTTPClient != nil {
		base = context.WithValue(base, oauth2.HTTPClient, f.HTTPClient)
	}

	var ts oauth2.TokenSource
	if f.OAuth != nil {
		ts = f.OAuth.TokenSource(base, token)
	} else {
		ts = oauth2.StaticTokenSource(token)
	}
	hc := oauth2.NewClient(base, ts)
	hc.Timeout = f.Timeout

	c := &RESTClient{
		baseURL:   strings.TrimRight(f.BaseURL, "/"),
		http:      hc,
		target:    target,
		userAgent: f.UserAgent,
	}
	if err := c.resolveSpace(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// RESTClient talks to a v3-style controller API over JSON.
type RESTClient struct {
	baseURL   string
	http      *http.Client
	target    Target
	spaceGUID string
	userAgent string
}

type relationship struct {
	Data struct {
		GUID string `json:"guid"`
	} `json:"data"`
}

func rel(guid string) relationship {
	var r relationship
	r.Data.GUID = guid
	return r
}

type namedResource struct {
	GUID  string   `json:"guid"`
	Name  string   `json:"name"`
	State string   `json:"state,omitempty"`
	Tags  []string `json:"tags,omitempty"`
}

type bindingResource struct {
	GUID          string `json:"guid"`
	Name          string `json:"name,omitempty"`
	Relationships struct {
		App             relationship `json:"app"`
		ServiceInstance relationship `json:"service_instance"`
	} `json:"relationships"`
}

type list[T any] struct {
	Resources []T `json:"resources"`
	Included  struct {
		ServiceInstances []namedResource `json:"service_instances"`
	} `json:"included"`
}

type processResource struct {
	Instances  int `json:"instances"`
	MemoryInMB int `json:"memory_in_mb"`
}

type taskResource struct {
	GUID    string `json:"guid"`
	Name    string `json:"name"`
	Command string `json:"command"`
	State   string `json:"state"`
}

func (t taskResource) task() *Task {
	return &Task{GUID: t.GUID, Name: t.Name, Command: t.Command, State: t.State}
}

func (c *RESTClient) resolveSpace(ctx context.Context) error {
	switch {
	case c.target.SpaceID != "":
		c.spaceGUID = c.target.SpaceID
		return nil
	case c.target.Org == "" && c.target.Space == "":
		return nil
	}

	org, err := first[namedResource](ctx, c, "Get Organization", "/v3/organizations",
		url.Values{"names": {c.target.Org}})
	if err != nil {
		return err
	}
	space, err := first[namedResource](ctx, c, "Get Space", "/v3/spaces",
		url.Values{"names": {c.target.Space}, "organization_guids": {org.GUID}})
	if err != nil {
		return err
	}
	c.spaceGUID = space.GUID
	return nil
}

// GetApplication implements Client.
func (c *RESTClient) GetApplication(ctx context.Context, name string) (*Application, error) {
	res, err := c.findApp(ctx, name)
	if err != nil {
		return nil, err
	}
	app := &Application{GUID: res.GUID, Name: res.Name, State: res.State}

	var proc processResource
	if err := c.do(ctx, OpGetApplication, http.MethodGet, "/v3/apps/"+res.GUID+"/processes/web", nil, nil, &proc); err != nil {
		return nil, err
	}
	app.Instances = proc.Instances
	app.MemoryMB = proc.MemoryInMB

	var bindings list[bindingResource]
	q := url.Values{"type": {"app"}, "app_guids": {res.GUID}, "include": {"service_instance"}}
	if err := c.do(ctx, OpGetApplication, http.MethodGet, "/v3/service_credential_bindings", q, nil, &bindings); err != nil {
		return nil, err
	}
	for _, si := range bindings.Included.ServiceInstances {
		app.Services = append(app.Services, si.Name)
	}
	return app, nil
}

// CreateApplication implements Client.
func (c *RESTClient) CreateApplication(ctx context.Context, app *Application) (*Application, error) {
	body := map[string]any{
		"name": app.Name,
		"relationships": map[string]any{
			"space": rel(c.spaceGUID),
		},
	}
	if len(app.Env) > 0 {
		body["environment_variables"] = app.Env
	}
	var created namedResource
	if err := c.do(ctx, OpCreateApplication, http.MethodPost, "/v3/apps", nil, body, &created); err != nil {
		return nil, err
	}
	if err := c.scale(ctx, OpCreateApplication, created.GUID, app); err != nil {
		return nil, err
	}
	return c.GetApplication(ctx, app.Name)
}

// UpdateApplication implements Client.
func (c *RESTClient) UpdateApplication(ctx context.Context, app *Application) (*Application, error) {
	res, err := c.findApp(ctx, app.Name)
	if err != nil {
		return nil, err
	}
	if len(app.Env) > 0 {
		body := map[string]any{"var": app.Env}
		if err := c.do(ctx, OpUpdateApplication, http.MethodPatch, "/v3/apps/"+res.GUID+"/environment_variables", nil, body, nil); err != nil {
			return nil, err
		}
	}
	if err := c.scale(ctx, OpUpdateApplication, res.GUID, app); err != nil {
		return nil, err
	}
	return c.GetApplication(ctx, app.Name)
}

func (c *RESTClient) scale(ctx context.Context, op, guid string, app *Application) error {
	body := map[string]any{}
	if app.Instances > 0 {
		body["instances"] = app.Instances
	}
	if app.MemoryMB > 0 {
		body["memory_in_mb"] = app.MemoryMB
	}
	if len(body) == 0 {
		return nil
	}
	return c.do(ctx, op, http.MethodPost, "/v3/apps/"+guid+"/processes/web/actions/scale", nil, body, nil)
}

// DeleteApplication implements Client.
func (c *RESTClient) DeleteApplication(ctx context.Context, name string) error {
	res, err := c.findApp(ctx, name)
	if err != nil {
		return err
	}
	return c.do(ctx, OpDeleteApplication, http.MethodDelete, "/v3/apps/"+res.GUID, nil, nil, nil)
}

// StartApplication implements Client.
func (c *RESTClient) StartApplication(ctx context.Context, name string) error {
	return c.appAction(ctx, OpStartApplication, name, "start")
}

// StopApplication implements Client.
func (c *RESTClient) StopApplication(ctx context.Context, name string) error {
	return c.appAction(ctx, OpStopApplication, name, "stop")
}

func (c *RESTClient) appAction(ctx context.Context, op, name, action string) error {
	res, err := c.findApp(ctx, name)
	if err != nil {
		return err
	}
	return c.do(ctx, op, http.MethodPost, "/v3/apps/"+res.GUID+"/actions/"+action, nil, nil, nil)
}

// GetServiceInstance implements Client.
func (c *RESTClient) GetServiceInstance(ctx context.Context, name string) (*ServiceInstance, error) {
	res, err := first[namedResource](ctx, c, OpGetServiceInstance, "/v3/service_instances",
		url.Values{"names": {name}, "space_guids": {c.spaceGUID}})
	if err != nil {
		return nil, err
	}
	return &ServiceInstance{GUID: res.GUID, Name: res.Name, Tags: res.Tags}, nil
}

// GetServiceBindings implements Client.
func (c *RESTClient) GetServiceBindings(ctx context.Context, serviceInstanceGUID string) ([]ServiceBinding, error) {
	var out list[bindingResource]
	q := url.Values{"type": {"app"}, "service_instance_guids": {serviceInstanceGUID}}
	if err := c.do(ctx, OpGetServiceBindings, http.MethodGet, "/v3/service_credential_bindings", q, nil, &out); err != nil {
		return nil, err
	}
	bindings := make([]ServiceBinding, 0, len(out.Resources))
	for _, b := range out.Resources {
		bindings = append(bindings, ServiceBinding{
			GUID:                b.GUID,
			AppGUID:             b.Relationships.App.Data.GUID,
			ServiceInstanceGUID: b.Relationships.ServiceInstance.Data.GUID,
		})
	}
	return bindings, nil
}

// GetServiceBindingParameters implements Client.
func (c *RESTClient) GetServiceBindingParameters(ctx context.Context, bindingGUID string) (map[string]any, error) {
	params := map[string]any{}
	path := "/v3/service_credential_bindings/" + bindingGUID + "/parameters"
	if err := c.do(ctx, OpGetServiceBindingParameters, http.MethodGet, path, nil, nil, &params); err != nil {
		if IsUnsupported(err) {
			return nil, engine.NewUnsupportedError("binding parameters cannot be retrieved", err)
		}
		return nil, err
	}
	return params, nil
}

// BindService implements Client.
func (c *RESTClient) BindService(ctx context.Context, appName, serviceName string, parameters map[string]any) error {
	app, err := c.findApp(ctx, appName)
	if err != nil {
		return err
	}
	si, err := c.GetServiceInstance(ctx, serviceName)
	if err != nil {
		return err
	}
	body := map[string]any{
		"type": "app",
		"relationships": map[string]any{
			"app":              rel(app.GUID),
			"service_instance": rel(si.GUID),
		},
	}
	if len(parameters) > 0 {
		body["parameters"] = parameters
	}
	return c.do(ctx, OpBindService, http.MethodPost, "/v3/service_credential_bindings", nil, body, nil)
}

// UnbindService implements Client. A missing binding is not an error.
func (c *RESTClient) UnbindService(ctx context.Context, appName, serviceName string) error {
	app, err := c.findApp(ctx, appName)
	if err != nil {
		return err
	}
	si, err := c.GetServiceInstance(ctx, serviceName)
	if err != nil {
		return err
	}
	bindings, err := c.GetServiceBindings(ctx, si.GUID)
	if err != nil {
		return err
	}
	for _, b := range bindings {
		if b.AppGUID == app.GUID {
			return c.do(ctx, OpUnbindService, http.MethodDelete, "/v3/service_credential_bindings/"+b.GUID, nil, nil, nil)
		}
	}
	return nil
}

// GetServiceKeys implements Client.
func (c *RESTClient) GetServiceKeys(ctx context.Context, serviceName string) ([]ServiceKey, error) {
	si, err := c.GetServiceInstance(ctx, serviceName)
	if err != nil {
		return nil, err
	}
	var out list[bindingResource]
	q := url.Values{"type": {"key"}, "service_instance_guids": {si.GUID}}
	if err := c.do(ctx, OpGetServiceKeys, http.MethodGet, "/v3/service_credential_bindings", q, nil, &out); err != nil {
		return nil, err
	}
	keys := make([]ServiceKey, 0, len(out.Resources))
	for _, k := range out.Resources {
		key := ServiceKey{GUID: k.GUID, Name: k.Name, ServiceName: serviceName}
		params, err := c.GetServiceBindingParameters(ctx, k.GUID)
		switch {
		case err == nil:
			key.Parameters = params
		case !engine.IsUnsupported(err):
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// CreateServiceKey implements Client.
func (c *RESTClient) CreateServiceKey(ctx context.Context, key ServiceKey) error {
	si, err := c.GetServiceInstance(ctx, key.ServiceName)
	if err != nil {
		return err
	}
	body := map[string]any{
		"type": "key",
		"name": key.Name,
		"relationships": map[string]any{
			"service_instance": rel(si.GUID),
		},
	}
	if len(key.Parameters) > 0 {
		body["parameters"] = key.Parameters
	}
	return c.do(ctx, OpCreateServiceKey, http.MethodPost, "/v3/service_credential_bindings", nil, body, nil)
}

// DeleteServiceKey implements Client. A missing key is not an error.
func (c *RESTClient) DeleteServiceKey(ctx context.Context, serviceName, keyName string) error {
	si, err := c.GetServiceInstance(ctx, serviceName)
	if err != nil {
		return err
	}
	var out list[bindingResource]
	q := url.Values{"type": {"key"}, "names": {keyName}, "service_instance_guids": {si.GUID}}
	if err := c.do(ctx, OpDeleteServiceKey, http.MethodGet, "/v3/service_credential_bindings", q, nil, &out); err != nil {
		return err
	}
	for _, k := range out.Resources {
		if err := c.do(ctx, OpDeleteServiceKey, http.MethodDelete, "/v3/service_credential_bindings/"+k.GUID, nil, nil, nil); err != nil {
			return err
		}
	}
	return nil
}

// RunTask implements Client.
func (c *RESTClient) RunTask(ctx context.Context, appName string, task Task) (*Task, error) {
	app, err := c.findApp(ctx, appName)
	if err != nil {
		return nil, err
	}
	var out taskResource
	body := map[string]any{"name": task.Name, "command": task.Command}
	if err := c.do(ctx, OpRunTask, http.MethodPost, "/v3/apps/"+app.GUID+"/tasks", nil, body, &out); err != nil {
		return nil, err
	}
	return out.task(), nil
}

// GetTask implements Client.
func (c *RESTClient) GetTask(ctx context.Context, taskGUID string) (*Task, error) {
	var out taskResource
	if err := c.do(ctx, OpGetTask, http.MethodGet, "/v3/tasks/"+taskGUID, nil, nil, &out); err != nil {
		return nil, err
	}
	return out.task(), nil
}

func (c *RESTClient) findApp(ctx context.Context, name string) (*namedResource, error) {
	return first[namedResource](ctx, c, OpGetApplication, "/v3/apps",
		url.Values{"names": {name}, "space_guids": {c.spaceGUID}})
}

// first returns the first resource of a filtered list, or a not-found error.
func first[T any](ctx context.Context, c *RESTClient, op, path string, q url.Values) (*T, error) {
	var out list[T]
	if err := c.do(ctx, op, http.MethodGet, path, q, nil, &out); err != nil {
		return nil, err
	}
	if len(out.Resources) == 0 {
		return nil, engine.NewPermanentError(
			fmt.Sprintf("%s: no match for %s", op, q.Encode()), ErrNotFound).
			WithCode(engine.ErrCodeNotFound)
	}
	return &out.Resources[0], nil
}

func (c *RESTClient) do(ctx context.Context, op, method, path string, q url.Values, body, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode %s request: %w", op, err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if id := CorrelationID(ctx); id != "" {
		req.Header.Set(CorrelationHeader, id)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return engine.NewTransientError(fmt.Sprintf("controller operation %q failed", op), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return classify(op, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return fmt.Errorf("failed to decode %s response: %w", op, err)
	}
	return nil
}
