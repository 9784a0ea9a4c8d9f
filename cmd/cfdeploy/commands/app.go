package commands

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/cfdeploy/cfdeploy/pkg/bindings"
	"github.com/cfdeploy/cfdeploy/pkg/clients"
	"github.com/cfdeploy/cfdeploy/pkg/config"
	"github.com/cfdeploy/cfdeploy/pkg/content"
	"github.com/cfdeploy/cfdeploy/pkg/engine"
	"github.com/cfdeploy/cfdeploy/pkg/platform"
	"github.com/cfdeploy/cfdeploy/pkg/policy"
	"github.com/cfdeploy/cfdeploy/pkg/scheduler"
	"github.com/cfdeploy/cfdeploy/pkg/stores"
	"github.com/cfdeploy/cfdeploy/pkg/telemetry"
)

// app holds the components built from the configuration. Commands build
// only the parts they need.
type app struct {
	cfg     *config.Config
	tel     *telemetry.Telemetry
	logger  zerolog.Logger
	closers []func() error
}

func newApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	tel, err := telemetry.New(&cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	return &app{cfg: cfg, tel: tel, logger: tel.Logger}, nil
}

// Close releases everything opened by the app in reverse order.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	errs = append(errs, a.tel.Shutdown(ctx))
	return errors.Join(errs...)
}

// openStore opens and migrates the SQLite store.
func (a *app) openStore(ctx context.Context) (*stores.SQLiteStore, error) {
	store, err := stores.NewSQLiteStore(a.cfg.StoreConfig())
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, store.Close)

	if err := store.Migrate(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// tokenStore opens the configured token store. A non-empty token is stored
// for identity first.
func (a *app) tokenStore(ctx context.Context, identity, token string) (clients.TokenStore, error) {
	var tok *oauth2.Token
	if token != "" {
		tok = &oauth2.Token{AccessToken: token, TokenType: "bearer"}
	}

	switch a.cfg.Tokens.Backend {
	case "redis":
		store, err := clients.NewRedisTokenStore(ctx, clients.RedisOptions{
			Addr:     a.cfg.Tokens.RedisAddr,
			Password: a.cfg.Tokens.RedisPassword,
			DB:       a.cfg.Tokens.RedisDB,
			Prefix:   a.cfg.Tokens.RedisPrefix,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, store.Close)
		if tok != nil {
			if err := store.Put(ctx, identity, tok); err != nil {
				return nil, err
			}
		}
		return store, nil

	default:
		store := clients.NewMemoryTokenStore()
		if tok != nil {
			store.Put(identity, tok)
		}
		return store, nil
	}
}

// clientRegistry creates the client registry backed by the REST adapter.
func (a *app) clientRegistry(tokens clients.TokenStore) *clients.Registry {
	ctl := a.cfg.Controller

	httpClient := &http.Client{}
	if ctl.SkipSSLValidation {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for test controllers
		httpClient.Transport = transport
	}

	factory := &platform.RESTFactory{
		BaseURL:    ctl.URL,
		HTTPClient: httpClient,
		Timeout:    ctl.Timeout,
		UserAgent:  ctl.UserAgent,
	}
	if ctl.TokenURL != "" {
		factory.OAuth = &oauth2.Config{
			ClientID:     ctl.ClientID,
			ClientSecret: ctl.ClientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: ctl.TokenURL},
		}
	}

	return clients.NewRegistry(factory, tokens, a.cfg.ClientCache(),
		clients.WithLogger(telemetry.Component(a.logger, "clients")),
		clients.WithMetrics(a.tel.Metrics),
	)
}

// contentProvider opens the configured archive storage.
func (a *app) contentProvider(ctx context.Context) (content.Provider, error) {
	switch a.cfg.Content.Backend {
	case "minio":
		provider, err := content.NewMinIOProvider(*a.cfg.Content.MinIO)
		if err != nil {
			return nil, err
		}
		if err := provider.HealthCheck(ctx); err != nil {
			return nil, fmt.Errorf("archive storage unavailable: %w", err)
		}
		return provider, nil
	default:
		return content.NewDirProvider(a.cfg.Content.Directory), nil
	}
}

// bindingEngine creates the decision engine reading parameter files from
// the configured storage.
func (a *app) bindingEngine(ctx context.Context) (*bindings.Engine, error) {
	provider, err := a.contentProvider(ctx)
	if err != nil {
		return nil, err
	}
	params := bindings.NewParameterSource(provider, a.cfg.Content.MaxFileSize)
	return bindings.NewEngine(params, bindings.WithLogger(telemetry.Component(a.logger, "bindings"))), nil
}

// policyGate creates the binding policy gate, or nil when policies are
// disabled. With watching enabled, policies reload until ctx is done.
func (a *app) policyGate(ctx context.Context) (bindings.Gate, error) {
	if !a.cfg.Policy.Enabled {
		return nil, nil
	}

	eng, err := policy.NewEngine(a.logger)
	if err != nil {
		return nil, err
	}
	if len(a.cfg.Policy.Paths) == 0 {
		return eng, nil
	}

	if err := eng.LoadPolicies(ctx, a.cfg.Policy.Paths); err != nil {
		return nil, err
	}

	if a.cfg.Policy.Watch {
		loader := policy.NewLoader(a.logger)
		err := loader.Watch(ctx, a.cfg.Policy.Paths, func(policies []policy.Policy) error {
			return eng.AddPolicies(ctx, policies)
		})
		if err != nil {
			return nil, err
		}
	}

	return eng, nil
}

// runner creates the step runner persisting into store.
func (a *app) runner(store *stores.SQLiteStore) *engine.Runner {
	return engine.NewRunner(store, store,
		engine.WithLogger(telemetry.Component(a.logger, "runner")),
		engine.WithMetrics(a.tel.Metrics),
		engine.WithTracer(a.tel.Tracer),
	)
}

// scheduler creates the scheduler releasing clients into registry.
func (a *app) scheduler(runner *engine.Runner, registry *clients.Registry) *scheduler.Scheduler {
	return scheduler.New(runner, a.cfg.Scheduler(),
		scheduler.WithReleaser(registry),
		scheduler.WithLogger(a.logger),
		scheduler.WithMetrics(a.tel.Metrics),
		scheduler.WithTracer(a.tel.Tracer),
	)
}
