// Package config loads the settings of the ogm tools from ogm.yaml and
// OGM_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/conduit-lang/ogm/pkg/ogm/transaction"
)

const (
	// FileName is the config file name without extension.
	FileName = "ogm"
	// EnvPrefix prefixes the environment overrides, e.g. OGM_NEO4J_URI.
	EnvPrefix = "OGM"
)

const (
	BackendMemory = "memory"
	BackendBadger = "badger"
	BackendSQLite = "sqlite"
	BackendNeo4j  = "neo4j"
)

// Backends lists the supported backend names.
var Backends = []string{BackendMemory, BackendBadger, BackendSQLite, BackendNeo4j}

var (
	// ErrUnknownBackend is returned for a backend outside Backends.
	ErrUnknownBackend = errors.New("unknown backend")
	// ErrInvalid is returned when a setting fails validation.
	ErrInvalid = errors.New("invalid configuration")
)

// Config represents the ogm configuration
type Config struct {
	Backend        string                  `mapstructure:"backend" yaml:"backend"`
	NamespaceAware bool                    `mapstructure:"namespace_aware" yaml:"namespace_aware"`
	Neo4j          Neo4jConfig             `mapstructure:"neo4j" yaml:"neo4j"`
	Badger         BadgerConfig            `mapstructure:"badger" yaml:"badger"`
	SQLite         SQLiteConfig            `mapstructure:"sqlite" yaml:"sqlite"`
	Log            LogConfig               `mapstructure:"log" yaml:"log"`
	Retry          transaction.RetryConfig `mapstructure:"retry" yaml:"retry"`
}

// Neo4jConfig represents the Neo4j connection
type Neo4jConfig struct {
	URI      string `mapstructure:"uri" yaml:"uri"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
	Database string `mapstructure:"database" yaml:"database"`
}

// BadgerConfig represents the BadgerDB store
type BadgerConfig struct {
	Path       string `mapstructure:"path" yaml:"path"`
	InMemory   bool   `mapstructure:"in_memory" yaml:"in_memory"`
	SyncWrites bool   `mapstructure:"sync_writes" yaml:"sync_writes"`
}

// SQLiteConfig represents the SQLite store
type SQLiteConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// LogConfig represents logging
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Backend: BackendMemory,
		Neo4j:   Neo4jConfig{URI: "neo4j://localhost:7687", Username: "neo4j"},
		Badger:  BadgerConfig{Path: ".ogm/badger"},
		SQLite:  SQLiteConfig{Path: ".ogm/graph.db"},
		Log:     LogConfig{Level: "info", Format: "console"},
		Retry:   *transaction.DefaultRetryConfig(),
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("backend", d.Backend)
	v.SetDefault("namespace_aware", d.NamespaceAware)
	v.SetDefault("neo4j.uri", d.Neo4j.URI)
	v.SetDefault("neo4j.username", d.Neo4j.Username)
	v.SetDefault("neo4j.password", "")
	v.SetDefault("neo4j.database", "")
	v.SetDefault("badger.path", d.Badger.Path)
	v.SetDefault("badger.in_memory", false)
	v.SetDefault("badger.sync_writes", false)
	v.SetDefault("sqlite.path", d.SQLite.Path)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("retry.max_retries", d.Retry.MaxRetries)
	v.SetDefault("retry.base_backoff", d.Retry.BaseBackoff)
}

// Load reads the configuration. With an empty path ogm.yaml is looked up
// in the working directory and then in $HOME/.ogm; a missing file is not
// an error. Environment variables override the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".ogm"))
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings of the selected backend and the log setup.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendMemory:
	case BackendBadger:
		if !c.Badger.InMemory && c.Badger.Path == "" {
			return fmt.Errorf("%w: badger.path is required unless badger.in_memory is set", ErrInvalid)
		}
	case BackendSQLite:
		if c.SQLite.Path == "" {
			return fmt.Errorf("%w: sqlite.path is required", ErrInvalid)
		}
	case BackendNeo4j:
		if c.Neo4j.URI == "" {
			return fmt.Errorf("%w: neo4j.uri is required", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBackend, c.Backend)
	}

	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: log.level: %v", ErrInvalid, err)
	}
	if !slices.Contains([]string{"json", "console"}, c.Log.Format) {
		return fmt.Errorf("%w: log.format must be json or console, got %q", ErrInvalid, c.Log.Format)
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("%w: retry.max_retries must not be negative", ErrInvalid)
	}
	return nil
}

// Write stores c as YAML at path, creating the directory.
func (c *Config) Write(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// Redacted returns a copy safe to print.
func (c *Config) Redacted() *Config {
	out := *c
	if out.Neo4j.Password != "" {
		out.Neo4j.Password = "****"
	}
	return &out
}
