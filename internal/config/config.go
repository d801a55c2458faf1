// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads gatekeeper configuration from defaults, an optional
// YAML file, command-line flags and the environment, in that order.
package config

import (
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/holomush/gatekeeper/internal/logging"
	"github.com/holomush/gatekeeper/internal/xdg"
)

// EnvPrefix prefixes every environment override, e.g. GATEKEEPER_JWT_SECRET.
const EnvPrefix = "GATEKEEPER_"

// MinSecretLength is the shortest accepted JWT signing secret, in bytes.
const MinSecretLength = 32

// Storage drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Mail providers.
const (
	MailProviderSendGrid = "sendgrid"
	MailProviderLog      = "log"
)

// Config is the complete service configuration.
type Config struct {
	HTTP    HTTPConfig    `koanf:"http" envPrefix:"HTTP_"`
	Metrics MetricsConfig `koanf:"metrics" envPrefix:"METRICS_"`
	Log     LogConfig     `koanf:"log" envPrefix:"LOG_"`
	Storage StorageConfig `koanf:"storage" envPrefix:"STORAGE_"`
	JWT     JWTConfig     `koanf:"jwt" envPrefix:"JWT_"`
	Reset   ResetConfig   `koanf:"reset" envPrefix:"RESET_"`
	Mail    MailConfig    `koanf:"mail" envPrefix:"MAIL_"`
	Tracing TracingConfig `koanf:"tracing" envPrefix:"TRACING_"`
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Addr string `koanf:"addr" env:"ADDR"`
	// CORSOrigins empty allows any origin.
	CORSOrigins []string `koanf:"cors_origins" env:"CORS_ORIGINS" envSeparator:","`
}

// MetricsConfig configures the observability listener. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr" env:"ADDR"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Format string `koanf:"format" env:"FORMAT"`
	Level  string `koanf:"level" env:"LEVEL"`
}

// StorageConfig selects and locates the user store.
type StorageConfig struct {
	Driver          string `koanf:"driver" env:"DRIVER"`
	DatabaseURL     string `koanf:"database_url" env:"DATABASE_URL"`
	SQLitePath      string `koanf:"sqlite_path" env:"SQLITE_PATH"`
	ConnectAttempts uint64 `koanf:"connect_attempts" env:"CONNECT_ATTEMPTS"`
	// AutoMigrate applies pending Postgres migrations at startup.
	AutoMigrate bool `koanf:"auto_migrate" env:"AUTO_MIGRATE"`
}

// JWTConfig configures session token signing.
type JWTConfig struct {
	Secret    string        `koanf:"secret" env:"SECRET"`
	ExpiresIn time.Duration `koanf:"expires_in" env:"EXPIRES_IN"`
	Issuer    string        `koanf:"issuer" env:"ISSUER"`
}

// ResetConfig configures the password reset flow.
type ResetConfig struct {
	TTL time.Duration `koanf:"ttl" env:"TTL"`
	// ClientURL is the web client base; links go to {ClientURL}/reset-password/{token}.
	ClientURL string `koanf:"client_url" env:"CLIENT_URL"`
}

// MailConfig configures reset link delivery.
type MailConfig struct {
	Provider       string `koanf:"provider" env:"PROVIDER"`
	Async          bool   `koanf:"async" env:"ASYNC"`
	Workers        int    `koanf:"workers" env:"WORKERS"`
	QueueSize      int    `koanf:"queue_size" env:"QUEUE_SIZE"`
	SendGridAPIKey string `koanf:"sendgrid_api_key" env:"SENDGRID_API_KEY"`
	FromName       string `koanf:"from_name" env:"FROM_NAME"`
	FromEmail      string `koanf:"from_email" env:"FROM_EMAIL"`
}

// TracingConfig configures OTLP span export. An empty endpoint disables it.
type TracingConfig struct {
	OTLPEndpoint string `koanf:"otlp_endpoint" env:"OTLP_ENDPOINT"`
}

// defaults holds every default value, keyed by koanf path.
var defaults = map[string]any{
	"http.addr":                ":5000",
	"http.cors_origins":        []string{},
	"metrics.addr":             "127.0.0.1:9100",
	"log.format":               "json",
	"log.level":                "info",
	"storage.driver":           DriverPostgres,
	"storage.database_url":     "",
	"storage.sqlite_path":      defaultSQLitePath(),
	"storage.connect_attempts": uint64(5),
	"storage.auto_migrate":     true,
	"jwt.secret":               "",
	"jwt.expires_in":           "168h",
	"jwt.issuer":               "gatekeeper",
	"reset.ttl":                "1h",
	"reset.client_url":         "http://localhost:5173",
	"mail.provider":            MailProviderLog,
	"mail.async":               true,
	"mail.workers":             2,
	"mail.queue_size":          128,
	"mail.sendgrid_api_key":    "",
	"mail.from_name":           "Gatekeeper",
	"mail.from_email":          "",
	"tracing.otlp_endpoint":    "",
}

// defaultSQLitePath places the SQLite store under XDG_DATA_HOME, or the
// working directory when no home directory is known.
func defaultSQLitePath() string {
	path, err := xdg.SQLitePath()
	if err != nil {
		return "gatekeeper.db"
	}
	return path
}

// RegisterFlags adds the command-line overrides Load understands. Flag names
// are koanf paths, e.g. --storage.driver.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("http.addr", defaults["http.addr"].(string), "API listen address")
	fs.String("metrics.addr", defaults["metrics.addr"].(string), "metrics and health listen address (empty disables)")
	fs.String("log.format", defaults["log.format"].(string), "log format (json or text)")
	fs.String("log.level", defaults["log.level"].(string), "log level (debug, info, warn, error)")
	fs.String("storage.driver", defaults["storage.driver"].(string), "user store (postgres or sqlite)")
	fs.String("storage.sqlite_path", defaults["storage.sqlite_path"].(string), "SQLite database file")
	fs.String("mail.provider", defaults["mail.provider"].(string), "reset link delivery (sendgrid or log)")
}

// Default returns the configuration with no file, flags or environment applied.
func Default() *Config {
	cfg, err := load("", nil, func(*Config) error { return nil })
	if err != nil {
		// defaults is static; failing here is a programming error.
		panic(err)
	}
	return cfg
}

// Load reads configuration from path (optional), flags (optional) and the
// process environment, then validates it.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	cfg, err := Read(path, flags)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read is Load without validation, for commands that need only part of
// the configuration.
func Read(path string, flags *pflag.FlagSet) (*Config, error) {
	return load(path, flags, applyEnv)
}

func load(path string, flags *pflag.FlagSet, overlay func(*Config) error) (*Config, error) {
	k := koanf.New(".")
	for key, val := range defaults {
		if err := k.Set(key, val); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("key", key).Wrap(err)
		}
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
		}
	}

	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("operation", "unmarshal").Wrap(err)
	}

	if err := overlay(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overlays GATEKEEPER_* variables, then falls back to the
// conventional DATABASE_URL when no database URL is configured.
func applyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return oops.Code("CONFIG_LOAD_FAILED").With("source", "env").Wrap(err)
	}

	var fallback struct {
		DatabaseURL string `env:"DATABASE_URL"`
	}
	if err := env.Parse(&fallback); err != nil {
		return oops.Code("CONFIG_LOAD_FAILED").With("source", "env").Wrap(err)
	}
	if cfg.Storage.DatabaseURL == "" {
		cfg.Storage.DatabaseURL = fallback.DatabaseURL
	}
	return nil
}

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var problems []string
	add := func(p string) { problems = append(problems, p) }

	if strings.TrimSpace(c.HTTP.Addr) == "" {
		add("http.addr is required")
	}

	switch c.Log.Format {
	case "json", "text":
	default:
		add("log.format must be json or text")
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		add("log.level must be debug, info, warn or error")
	}

	switch c.Storage.Driver {
	case DriverPostgres:
		if c.Storage.DatabaseURL == "" {
			add("storage.database_url is required for the postgres driver")
		}
	case DriverSQLite:
		if c.Storage.SQLitePath == "" {
			add("storage.sqlite_path is required for the sqlite driver")
		}
	default:
		add("storage.driver must be postgres or sqlite")
	}

	if len(c.JWT.Secret) < MinSecretLength {
		add("jwt.secret must be at least 32 bytes")
	}
	if c.JWT.ExpiresIn <= 0 {
		add("jwt.expires_in must be positive")
	}

	if c.Reset.TTL <= 0 {
		add("reset.ttl must be positive")
	}
	if u, err := url.Parse(c.Reset.ClientURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		add("reset.client_url must be an absolute http(s) URL")
	}

	switch c.Mail.Provider {
	case MailProviderLog:
	case MailProviderSendGrid:
		if c.Mail.SendGridAPIKey == "" {
			add("mail.sendgrid_api_key is required for the sendgrid provider")
		}
		if c.Mail.FromEmail == "" {
			add("mail.from_email is required for the sendgrid provider")
		}
	default:
		add("mail.provider must be sendgrid or log")
	}
	if c.Mail.Async && (c.Mail.Workers < 1 || c.Mail.QueueSize < 1) {
		add("mail.workers and mail.queue_size must be positive when mail.async is set")
	}

	if len(problems) == 0 {
		return nil
	}
	return oops.Code("CONFIG_INVALID").
		With("problems", problems).
		Errorf("invalid configuration: %s", strings.Join(problems, "; "))
}
