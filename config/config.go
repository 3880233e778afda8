// Package config loads server settings from an optional YAML file, a .env
// file and SAUTH_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. SAUTH_HTTP_ADDR.
const EnvPrefix = "SAUTH"

// StorageBackend selects where codes and refresh tokens live.
type StorageBackend string

const (
	StorageMemory   StorageBackend = "memory"
	StorageRedis    StorageBackend = "redis"
	StorageMongoDB  StorageBackend = "mongodb"
	StoragePostgres StorageBackend = "postgres"
	StorageBolt     StorageBackend = "bolt"
)

// RegistryBackend selects where clients and users are read from.
type RegistryBackend string

const (
	RegistrySeed    RegistryBackend = "seed"
	RegistryMongoDB RegistryBackend = "mongodb"
)

// KeySource selects where the RSA signing key comes from.
type KeySource string

const (
	KeySourceGenerate KeySource = "generate"
	KeySourceFile     KeySource = "file"
	KeySourceAWS      KeySource = "aws"
)

// Config holds all configuration for the authorization server.
type Config struct {
	HTTPAddr        string        `mapstructure:"http_addr"`
	LogLevel        string        `mapstructure:"log_level"`
	LogPretty       bool          `mapstructure:"log_pretty"`
	Issuer          string        `mapstructure:"issuer"`
	AccessTokenTTL  time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL time.Duration `mapstructure:"refresh_token_ttl"`
	AuthCodeTTL     time.Duration `mapstructure:"auth_code_ttl"`
	GCInterval      time.Duration `mapstructure:"gc_interval"`

	Storage  StorageConfig  `mapstructure:"storage"`
	Registry RegistryConfig `mapstructure:"registry"`
	Keys     KeysConfig     `mapstructure:"keys"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
}

type StorageConfig struct {
	Backend  StorageBackend `mapstructure:"backend"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Mongo    MongoConfig    `mapstructure:"mongo"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Bolt     BoltConfig     `mapstructure:"bolt"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type MongoConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

type BoltConfig struct {
	Path string `mapstructure:"path"`
}

type RegistryConfig struct {
	Backend  RegistryBackend `mapstructure:"backend"`
	SeedFile string          `mapstructure:"seed_file"`
}

type KeysConfig struct {
	Source         KeySource `mapstructure:"source"`
	PrivateKeyPath string    `mapstructure:"private_key_path"`
	AWSSecretID    string    `mapstructure:"aws_secret_id"`
	AWSRegion      string    `mapstructure:"aws_region"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_pretty", false)
	v.SetDefault("issuer", "http://localhost:8080")
	v.SetDefault("access_token_ttl", "12h")
	v.SetDefault("refresh_token_ttl", "720h")
	v.SetDefault("auth_code_ttl", "5m")
	v.SetDefault("gc_interval", "1m")

	v.SetDefault("storage.backend", string(StorageMemory))
	v.SetDefault("storage.redis.addr", "localhost:6379")
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.prefix", "sauth")
	v.SetDefault("storage.mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("storage.mongo.database", "shadow_auth")
	v.SetDefault("storage.postgres.dsn", "postgres://localhost:5432/shadow_auth?sslmode=disable")
	v.SetDefault("storage.bolt.path", "data/shadow-auth.db")

	v.SetDefault("registry.backend", string(RegistrySeed))
	v.SetDefault("registry.seed_file", "")

	v.SetDefault("keys.source", string(KeySourceGenerate))
	v.SetDefault("keys.private_key_path", "")
	v.SetDefault("keys.aws_secret_id", "")
	v.SetDefault("keys.aws_region", "")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "shadow-auth")
}

// Load reads the configuration. An explicit configFile must exist; otherwise
// authserver.yaml is searched in the working directory, /etc/shadow-auth/
// and $HOME/.shadow-auth, and its absence is not an error.
func Load(configFile string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error reading .env file: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("authserver")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/shadow-auth/")
		v.AddConfigPath("$HOME/.shadow-auth")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	var errs []error

	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("http_addr must be set"))
	}
	if c.Issuer != "" {
		if u, err := url.Parse(c.Issuer); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("issuer %q is not an absolute URL", c.Issuer))
		}
	}

	for name, d := range map[string]time.Duration{
		"access_token_ttl":  c.AccessTokenTTL,
		"refresh_token_ttl": c.RefreshTokenTTL,
		"auth_code_ttl":     c.AuthCodeTTL,
		"gc_interval":       c.GCInterval,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}

	switch c.Storage.Backend {
	case StorageMemory, StorageRedis, StorageMongoDB, StoragePostgres, StorageBolt:
	default:
		errs = append(errs, fmt.Errorf("unknown storage backend %q", c.Storage.Backend))
	}

	switch c.Registry.Backend {
	case RegistrySeed, RegistryMongoDB:
	default:
		errs = append(errs, fmt.Errorf("unknown registry backend %q", c.Registry.Backend))
	}

	switch c.Keys.Source {
	case KeySourceGenerate:
	case KeySourceFile:
		if c.Keys.PrivateKeyPath == "" {
			errs = append(errs, errors.New("keys.private_key_path is required for the file key source"))
		}
	case KeySourceAWS:
		if c.Keys.AWSSecretID == "" {
			errs = append(errs, errors.New("keys.aws_secret_id is required for the aws key source"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown key source %q", c.Keys.Source))
	}

	return errors.Join(errs...)
}
