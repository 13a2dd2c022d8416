// Package config loads the schemacat command-line configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/andreyvit/schemacat"
)

// Environment variables overriding the file configuration.
const (
	EnvDB     = "SCHEMACAT_DB"
	EnvSeqURL = "SCHEMACAT_SEQ_URL"
)

// Config holds the CLI configuration.
type Config struct {
	DB      DBConfig      `yaml:"db"`
	Catalog CatalogConfig `yaml:"catalog"`
	Log     LogConfig     `yaml:"log"`
}

// DBConfig describes the Bolt store.
type DBConfig struct {
	// Path is the database file
	Path string `yaml:"path"`

	// Timeout is how long to wait for the file lock
	Timeout time.Duration `yaml:"timeout"`

	// MaxRetries bounds replays of conflicting transactions
	MaxRetries int `yaml:"max_retries"`
}

type CatalogConfig struct {
	// Root is the directory bucket holding the tables
	Root string `yaml:"root"`
}

type LogConfig struct {
	// Level is one of debug, info, warn, error
	Level string `yaml:"level"`

	// SeqURL enables shipping logs to a Seq server
	SeqURL string `yaml:"seq_url"`
}

func Default() *Config {
	return &Config{
		DB: DBConfig{
			Path:       "schemacat.db",
			Timeout:    time.Second,
			MaxRetries: 10,
		},
		Catalog: CatalogConfig{
			Root: "tables",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load returns the defaults overlaid with the YAML file at path (if path is
// non-empty) and then with the environment. A .env file in the working
// directory is loaded into the environment first when present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	c := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := c.Parse(data); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	c.ApplyEnv(os.LookupEnv)
	return c, nil
}

// Parse overlays YAML data onto c. Unknown keys are rejected.
func (c *Config) Parse(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv overrides settings from environment variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvDB); ok && v != "" {
		c.DB.Path = v
	}
	if v, ok := lookup(EnvSeqURL); ok {
		c.Log.SeqURL = v
	}
}

func (c *Config) Validate() error {
	if c.DB.Path == "" {
		return fmt.Errorf("db.path is required")
	}
	if c.DB.MaxRetries < 0 {
		return fmt.Errorf("db.max_retries must not be negative, got %d", c.DB.MaxRetries)
	}
	if c.DB.Timeout < 0 {
		return fmt.Errorf("db.timeout must not be negative, got %v", c.DB.Timeout)
	}
	if c.Catalog.Root == "" {
		return fmt.Errorf("catalog.root is required")
	}
	if err := schemacat.ValidateNamespaceName(c.Catalog.Root); err != nil {
		return fmt.Errorf("catalog.root: %w", err)
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// SlogLevel parses Level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("invalid log.level %q (must be debug, info, warn, or error)", l.Level)
	}
	return level, nil
}
