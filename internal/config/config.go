// Package config loads the application configuration from defaults, an
// optional YAML file, the environment (including a .env file) and command-line
// flags, in increasing order of priority, and resolves the single database URI
// the application connects to.
package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	env "github.com/caarlos0/env/v6"
	validator "github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultSecretKey is the insecure development fallback for SECRET_KEY.
	DefaultSecretKey = "dev-secret-key-change-in-production"

	// SQLiteFileName is the database file used by both SQLite targets.
	SQLiteFileName = "emergency.db"

	// SQLiteURIPrefix prefixes a filesystem path to form a SQLite URI.
	SQLiteURIPrefix = "sqlite:///"

	postgresScheme   = "postgres://"
	postgresqlScheme = "postgresql://"
)

// Deployment targets.
const (
	TargetLocal  = "local"
	TargetRender = "render"
	TargetVercel = "vercel"
)

// Config holds every setting of the service.
type Config struct {
	RunAddr  string `env:"SERVER_ADDRESS" yaml:"server_address" validate:"hostname_port"`
	LogLevel string `env:"LOG_LEVEL" yaml:"log_level" validate:"loglevel"`

	SecretKey string `env:"SECRET_KEY" yaml:"secret_key" validate:"required"`

	// Render and Vercel are set by the hosting platforms. Only presence matters.
	Render string `env:"RENDER" yaml:"-"`
	Vercel string `env:"VERCEL" yaml:"-"`

	DatabaseURL           string `env:"DATABASE_URL" yaml:"database_url"`
	PostgresURLNonPooling string `env:"POSTGRES_URL_NON_POOLING" yaml:"postgres_url_non_pooling"`
	ServerlessDataDir     string `env:"SERVERLESS_DATA_DIR" yaml:"serverless_data_dir"`

	// DatabaseURI is resolved from the fields above, never read directly.
	DatabaseURI string `env:"-" yaml:"-" validate:"required"`

	DBConnectionTimeout time.Duration `env:"DB_CONNECTION_TIMEOUT" yaml:"db_connection_timeout" validate:"gt=0"`

	AuthCookieName  string        `env:"AUTH_COOKIE_NAME" yaml:"auth_cookie_name" validate:"required"`
	SessionLifetime time.Duration `env:"SESSION_LIFETIME" yaml:"session_lifetime" validate:"gt=0"`
	SecureCookies   bool          `env:"SECURE_COOKIES" yaml:"secure_cookies"`

	TrustedSubnet string `env:"TRUSTED_SUBNET" yaml:"trusted_subnet" validate:"omitempty,cidr"`

	// TrustedProxies are the reverse proxies allowed to set X-Real-IP and
	// X-Forwarded-For. Without them the peer address identifies the client.
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:"," yaml:"trusted_proxies" validate:"dive,cidr"`

	LoginRateLimit float64 `env:"LOGIN_RATE_LIMIT" yaml:"login_rate_limit" validate:"gt=0"`
	LoginRateBurst int     `env:"LOGIN_RATE_BURST" yaml:"login_rate_burst" validate:"gte=1"`

	LocationFlushInterval time.Duration `env:"LOCATION_FLUSH_INTERVAL" yaml:"location_flush_interval" validate:"gt=0"`
	LocationQueueCapacity int           `env:"LOCATION_QUEUE_CAPACITY" yaml:"location_queue_capacity" validate:"gte=1"`

	ConfigFile string `env:"-" yaml:"-"`
}

var defaultConfig = Config{
	RunAddr:               ":8080",
	LogLevel:              "info",
	SecretKey:             DefaultSecretKey,
	ServerlessDataDir:     os.TempDir(),
	DBConnectionTimeout:   10 * time.Second,
	AuthCookieName:        "emergency_session",
	SessionLifetime:       24 * time.Hour,
	LoginRateLimit:        1,
	LoginRateBurst:        5,
	LocationFlushInterval: time.Second,
	LocationQueueCapacity: 1024,
}

// Default returns a copy of the built-in defaults with the database URI resolved.
func Default() *Config {
	cfg := defaultConfig
	cfg.DatabaseURI = ResolveDatabaseURI(&cfg)
	return &cfg
}

// Target names the deployment environment the process runs in.
func (c *Config) Target() string {
	switch {
	case c.Vercel != "":
		return TargetVercel
	case c.Render != "":
		return TargetRender
	default:
		return TargetLocal
	}
}

// IsServerless reports whether the filesystem is read-only except for the
// serverless data directory.
func (c *Config) IsServerless() bool {
	return c.Vercel != ""
}

// NormalizePostgresURL rewrites the legacy postgres:// scheme to postgresql://
// and leaves every other URL untouched.
func NormalizePostgresURL(url string) string {
	if strings.HasPrefix(url, postgresScheme) {
		return postgresqlScheme + strings.TrimPrefix(url, postgresScheme)
	}
	return url
}

// ResolveDatabaseURI picks exactly one database URI by fixed precedence:
// the non-pooling Postgres URL, then DATABASE_URL on Render, then a SQLite
// file in the serverless data directory on Vercel, then a local SQLite file.
func ResolveDatabaseURI(c *Config) string {
	switch {
	case c.PostgresURLNonPooling != "":
		return NormalizePostgresURL(c.PostgresURLNonPooling)
	case c.Render != "" && c.DatabaseURL != "":
		return NormalizePostgresURL(c.DatabaseURL)
	case c.Vercel != "":
		dir := c.ServerlessDataDir
		if dir == "" {
			dir = os.TempDir()
		}
		return SQLiteURIPrefix + filepath.Join(dir, SQLiteFileName)
	default:
		return SQLiteURIPrefix + SQLiteFileName
	}
}

// InitOption customizes New.
type InitOption func(*initOptions)

type initOptions struct {
	flagSet       *pflag.FlagSet
	disableDotEnv bool
}

// WithFlagSet makes New apply the flags registered by RegisterFlags on fs.
// Only flags changed on the command line override other sources.
func WithFlagSet(fs *pflag.FlagSet) InitOption {
	return func(options *initOptions) {
		options.flagSet = fs
	}
}

// WithDisableDotEnv skips loading the .env file.
func WithDisableDotEnv(disable bool) InitOption {
	return func(options *initOptions) {
		options.disableDotEnv = disable
	}
}

// RegisterFlags declares the configuration flags on fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.StringP("addr", "a", defaultConfig.RunAddr, "address and port to run server")
	fs.StringP("log-level", "l", defaultConfig.LogLevel, "logger level")
	fs.String("config", "", "path to a YAML configuration file")
}

// New builds the configuration. Priority: flags > environment > YAML file > defaults.
func New(optionsProto ...InitOption) (*Config, error) {
	options := &initOptions{}
	for _, protoOption := range optionsProto {
		protoOption(options)
	}

	if !options.disableDotEnv {
		if err := godotenv.Load(); err != nil {
			log.Printf("Unable to load .env file: %v", err)
		}
	}

	cfg := defaultConfig

	cfg.ConfigFile = os.Getenv("CONFIG")
	if options.flagSet != nil && options.flagSet.Changed("config") {
		cfg.ConfigFile, _ = options.flagSet.GetString("config")
	}
	if cfg.ConfigFile != "" {
		if err := cfg.loadFile(cfg.ConfigFile); err != nil {
			return nil, err
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("in internal/config/config.go/New(): error while `env.Parse()` calling: %w", err)
	}

	if options.flagSet != nil {
		if err := cfg.applyFlags(options.flagSet); err != nil {
			return nil, err
		}
	}

	cfg.DatabaseURI = ResolveDatabaseURI(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("in internal/config/config.go/loadFile(): error while `os.ReadFile()` calling: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("in internal/config/config.go/loadFile(): error while `yaml.Unmarshal()` calling: %w", err)
	}
	return nil
}

func (c *Config) applyFlags(fs *pflag.FlagSet) error {
	var err error
	if fs.Changed("addr") {
		if c.RunAddr, err = fs.GetString("addr"); err != nil {
			return err
		}
	}
	if fs.Changed("log-level") {
		if c.LogLevel, err = fs.GetString("log-level"); err != nil {
			return err
		}
	}
	return nil
}

func validateLogLevel(fieldLevel validator.FieldLevel) bool {
	allowedLogLevels := map[string]bool{
		"debug":  true,
		"info":   true,
		"warn":   true,
		"error":  true,
		"dpanic": true,
		"panic":  true,
		"fatal":  true,
	}

	return allowedLogLevels[fieldLevel.Field().String()]
}

func (c *Config) validate() error {
	validate := validator.New()

	if err := validate.RegisterValidation("loglevel", validateLogLevel); err != nil {
		return err
	}

	return validate.Struct(c)
}
