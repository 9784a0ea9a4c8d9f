package config

import (
	"time"

	"github.com/cfdeploy/cfdeploy/pkg/content"
	"github.com/cfdeploy/cfdeploy/pkg/telemetry"
)

// Config is the complete cfdeploy configuration.
type Config struct {
	Controller ControllerConfig `yaml:"controller"`
	Clients    ClientsConfig    `yaml:"clients"`
	Steps      StepsConfig      `yaml:"steps"`
	Store      StoreConfig      `yaml:"store"`
	Tokens     TokensConfig     `yaml:"tokens"`
	Content    ContentConfig    `yaml:"content"`
	Policy     PolicyConfig     `yaml:"policy"`

	// Telemetry is validated by telemetry.Config.Validate.
	Telemetry telemetry.Config `yaml:"telemetry" validate:"-"`
}

// ControllerConfig locates the cloud controller and its token endpoint.
type ControllerConfig struct {
	// URL is the controller API root.
	URL string `yaml:"url" validate:"required,url"`

	// TokenURL is the OAuth2 token endpoint used to refresh expired tokens.
	// Tokens are used as stored when it is empty.
	TokenURL     string `yaml:"token_url" validate:"omitempty,url"`
	ClientID     string `yaml:"client_id" validate:"required_with=TokenURL"`
	ClientSecret string `yaml:"client_secret"`

	// Timeout bounds each controller request.
	Timeout time.Duration `yaml:"timeout" validate:"min=0"`

	SkipSSLValidation bool   `yaml:"skip_ssl_validation"`
	UserAgent         string `yaml:"user_agent"`
}

// ClientsConfig bounds the client registry cache.
type ClientsConfig struct {
	CacheSize int           `yaml:"cache_size" validate:"min=1"`
	CacheTTL  time.Duration `yaml:"cache_ttl" validate:"min=0"`
}

// StepsConfig holds step budgets and the scheduler pacing.
type StepsConfig struct {
	// DefaultTimeout is the budget of step kinds without an entry in
	// Timeouts. Zero means steps.DefaultTimeout. Negative budgets, and zero
	// entries in Timeouts, disable the timeout.
	DefaultTimeout time.Duration `yaml:"default_timeout"`

	// Timeouts holds budgets by step kind, e.g. "start-app".
	Timeouts map[string]time.Duration `yaml:"timeouts"`

	PollInterval time.Duration `yaml:"poll_interval" validate:"gt=0"`
	MaxRetries   int           `yaml:"max_retries" validate:"min=0"`
	Parallelism  int           `yaml:"parallelism" validate:"min=1"`
	BaseDelay    time.Duration `yaml:"base_delay" validate:"gt=0"`
	MaxDelay     time.Duration `yaml:"max_delay" validate:"gtefield=BaseDelay"`
}

// StoreConfig locates the SQLite database.
type StoreConfig struct {
	Path         string `yaml:"path" validate:"required"`
	MaxOpenConns int    `yaml:"max_open_conns" validate:"min=0"`
}

// TokensConfig selects where user tokens are kept.
type TokensConfig struct {
	Backend string `yaml:"backend" validate:"oneof=memory redis"`

	RedisAddr     string `yaml:"redis_addr" validate:"required_if=Backend redis"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db" validate:"min=0"`
	RedisPrefix   string `yaml:"redis_prefix"`
}

// ContentConfig selects where uploaded archives are read from.
type ContentConfig struct {
	Backend string `yaml:"backend" validate:"oneof=dir minio"`

	// Directory is the root of the dir backend.
	Directory string `yaml:"directory" validate:"required_if=Backend dir"`

	MinIO *content.MinIOConfig `yaml:"minio" validate:"required_if=Backend minio"`

	// MaxFileSize caps archive entries read for binding parameters.
	MaxFileSize int64 `yaml:"max_file_size" validate:"min=0"`
}

// PolicyConfig lists binding policy sources.
type PolicyConfig struct {
	Enabled bool     `yaml:"enabled"`
	Paths   []string `yaml:"paths" validate:"dive,required"`

	// Watch reloads policies when files under Paths change.
	Watch bool `yaml:"watch"`
}
