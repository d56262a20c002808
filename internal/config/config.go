// Package config loads the server configuration from defaults, an optional YAML file and the
// environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	DriverMongo     = "mongo"
	DriverFirestore = "firestore"
	DriverMemory    = "memory"
)

// ConfigFileEnv names the variable holding the path of the optional YAML file.
const ConfigFileEnv = "CONFIG_FILE"

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Store     StoreConfig     `koanf:"store"`
	Mongo     MongoConfig     `koanf:"mongo"`
	Firestore FirestoreConfig `koanf:"firestore"`
	Auth      AuthConfig      `koanf:"auth"`
	Log       LogConfig       `koanf:"log"`
	Metrics   MetricsConfig   `koanf:"metrics"`
}

type ServerConfig struct {
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	// AllowedOrigin is the one cross-origin browser client trusted with credentials. Empty
	// allows same-origin clients only.
	AllowedOrigin string `koanf:"allowed_origin"`
}

type StoreConfig struct {
	Driver string `koanf:"driver"`
}

type MongoConfig struct {
	URI      Secret `koanf:"uri"`
	Database string `koanf:"database"`
}

type FirestoreConfig struct {
	ProjectID       string `koanf:"project_id"`
	CredentialsFile string `koanf:"credentials_file"`
}

type AuthConfig struct {
	JWTSecret      Secret        `koanf:"jwt_secret"`
	TokenTTL       time.Duration `koanf:"token_ttl"`
	GoogleClientID string        `koanf:"google_client_id"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path"`
}

var defaults = []byte(`
server:
  port: 8080
  read_timeout: 10s
  write_timeout: 10s
  shutdown_timeout: 15s
store:
  driver: mongo
mongo:
  uri: mongodb://localhost:27017
  database: family_shopping
auth:
  token_ttl: 168h
log:
  level: info
  format: text
metrics:
  enabled: true
  path: /metrics
`)

// Variables kept from earlier deployments. A namespaced variable overrides its legacy twin.
var legacyEnv = map[string]string{
	"PORT":             "server.port",
	"MONGODB_URI":      "mongo.uri",
	"MONGODB_DATABASE": "mongo.database",
	"GOOGLE_CLIENT_ID": "auth.google_client_id",
	"JWT_SECRET":       "auth.jwt_secret",
}

var sections = map[string]bool{
	"server": true, "store": true, "mongo": true, "firestore": true,
	"auth": true, "log": true, "metrics": true,
}

// Load reads a local .env file when present, then builds the configuration from the file named
// by CONFIG_FILE and the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	return LoadWithFile(os.Getenv(ConfigFileEnv))
}

// LoadWithFile builds the configuration from defaults, the YAML file at configPath (skipped when
// empty) and the environment.
//
// Environment variables map by their first underscore: SERVER_ALLOWED_ORIGIN sets
// server.allowed_origin.
func LoadWithFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(rawbytes.Provider(defaults), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath != "" {
		content, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.ProviderWithValue("", ".", func(key, value string) (string, any) {
		if value == "" {
			return "", nil
		}
		return legacyEnv[key], value
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}
	if err := k.Load(env.ProviderWithValue("", ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Store.Driver = strings.ToLower(strings.TrimSpace(cfg.Store.Driver))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// envKey turns SECTION_FIELD_NAME into section.field_name. Empty variables and variables outside
// the known sections are dropped.
func envKey(key, value string) (string, any) {
	parts := strings.SplitN(strings.ToLower(key), "_", 2)
	if value == "" || len(parts) != 2 || parts[1] == "" || !sections[parts[0]] {
		return "", nil
	}
	return parts[0] + "." + parts[1], value
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	switch c.Store.Driver {
	case DriverMongo:
		if !c.Mongo.URI.IsSet() || c.Mongo.Database == "" {
			return errors.New("mongo.uri and mongo.database are required for the mongo driver")
		}
	case DriverFirestore:
		if c.Firestore.ProjectID == "" {
			return errors.New("firestore.project_id is required for the firestore driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("store.driver must be one of mongo, firestore, memory, got %q", c.Store.Driver)
	}
	if !c.Auth.JWTSecret.IsSet() {
		return errors.New("auth.jwt_secret is required")
	}
	if c.Auth.TokenTTL <= 0 {
		return errors.New("auth.token_ttl must be positive")
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /, got %q", c.Metrics.Path)
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}
