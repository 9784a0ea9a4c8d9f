package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/cfdeploy/cfdeploy/pkg/clients"
	"github.com/cfdeploy/cfdeploy/pkg/scheduler"
	"github.com/cfdeploy/cfdeploy/pkg/steps"
	"github.com/cfdeploy/cfdeploy/pkg/stores"
	"github.com/cfdeploy/cfdeploy/pkg/telemetry"
)

// EnvPrefix prefixes environment variables that override file settings.
const EnvPrefix = "CFDEPLOY_"

// DefaultMaxFileSize caps archive entries read for binding parameters.
const DefaultMaxFileSize = 1 << 20

var validate = validator.New()

// Default returns the configuration used when no file is given.
func Default() *Config {
	sched := scheduler.DefaultConfig()
	cache := clients.DefaultConfig()

	return &Config{
		Controller: ControllerConfig{
			URL:       "http://localhost:9022",
			Timeout:   30 * time.Second,
			UserAgent: "cfdeploy",
		},
		Clients: ClientsConfig{
			CacheSize: cache.Size,
			CacheTTL:  cache.TTL,
		},
		Steps: StepsConfig{
			DefaultTimeout: steps.DefaultTimeout,
			PollInterval:   sched.PollInterval,
			MaxRetries:     sched.MaxRetries,
			Parallelism:    sched.Parallelism,
			BaseDelay:      sched.BaseDelay,
			MaxDelay:       sched.MaxDelay,
		},
		Store: StoreConfig{
			Path: "cfdeploy.db",
		},
		Tokens: TokensConfig{
			Backend:     "memory",
			RedisPrefix: "cfdeploy:token:",
		},
		Content: ContentConfig{
			Backend:     "dir",
			Directory:   "uploads",
			MaxFileSize: DefaultMaxFileSize,
		},
		Telemetry: *telemetry.DefaultConfig(),
	}
}

// Load reads the configuration file at path on top of the defaults, applies
// environment overrides and validates the result. An empty path loads the
// defaults only.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyEnv overrides settings from CFDEPLOY_ prefixed variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}

	str("CONTROLLER_URL", &c.Controller.URL)
	str("TOKEN_URL", &c.Controller.TokenURL)
	str("CLIENT_ID", &c.Controller.ClientID)
	str("CLIENT_SECRET", &c.Controller.ClientSecret)
	str("STORE_PATH", &c.Store.Path)
	str("TOKENS_BACKEND", &c.Tokens.Backend)
	str("REDIS_ADDR", &c.Tokens.RedisAddr)
	str("REDIS_PASSWORD", &c.Tokens.RedisPassword)
	str("CONTENT_DIR", &c.Content.Directory)
	str("LOG_LEVEL", &c.Telemetry.Logging.Level)
	str("LOG_FORMAT", &c.Telemetry.Logging.Format)

	if v, ok := lookup(EnvPrefix + "PARALLELISM"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %sPARALLELISM %q: %w", EnvPrefix, v, err)
		}
		c.Steps.Parallelism = n
	}

	if v, ok := lookup(EnvPrefix + "SKIP_SSL_VALIDATION"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %sSKIP_SSL_VALIDATION %q: %w", EnvPrefix, v, err)
		}
		c.Controller.SkipSSLValidation = b
	}

	return nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", describe(err))
	}

	if c.Content.Backend == "minio" {
		if err := validate.Struct(c.Content.MinIO); err != nil {
			return fmt.Errorf("invalid configuration: content.minio: %w", describe(err))
		}
	}

	if _, ok := c.Steps.Timeouts[""]; ok {
		return fmt.Errorf("invalid configuration: steps.timeouts has an empty step kind")
	}

	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: telemetry: %w", err)
	}

	return nil
}

// describe turns validator errors into one readable message.
func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s", field, fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s failed %s", field, fe.Tag()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}

// ClientCache returns the client registry cache bounds.
func (c *Config) ClientCache() clients.Config {
	return clients.Config{Size: c.Clients.CacheSize, TTL: c.Clients.CacheTTL}
}

// Scheduler returns the scheduler pacing.
func (c *Config) Scheduler() scheduler.Config {
	return scheduler.Config{
		Parallelism:  c.Steps.Parallelism,
		PollInterval: c.Steps.PollInterval,
		MaxRetries:   c.Steps.MaxRetries,
		BaseDelay:    c.Steps.BaseDelay,
		MaxDelay:     c.Steps.MaxDelay,
	}
}

// StepTimeouts returns the step budgets.
func (c *Config) StepTimeouts() steps.Timeouts {
	return steps.Timeouts{Default: c.Steps.DefaultTimeout, ByKind: c.Steps.Timeouts}
}

// StoreConfig returns the SQLite store settings.
func (c *Config) StoreConfig() stores.Config {
	return stores.Config{Path: c.Store.Path, MaxOpenConns: c.Store.MaxOpenConns}
}
