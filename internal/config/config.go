package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Storage backends understood by the App.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// DefaultStorageKey is the storage key the account state blob lives under.
const DefaultStorageKey = "my-app-data"

// ErrInvalidConfig is wrapped by every Validate failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds the application configuration.
// Values come from defaults, then an optional YAML file, then environment variables.
type Config struct {
	// DataDir is the directory the file and sqlite backends keep their data in.
	// Default: ./data
	DataDir string `yaml:"data_dir"`

	// StorageBackend selects the key-value storage: file, sqlite or memory.
	// Default: file
	StorageBackend string `yaml:"storage_backend"`

	// StorageKey is the key the account state is persisted under.
	// Default: my-app-data
	StorageKey string `yaml:"storage_key"`

	// LogLevel controls the verbosity of logging (debug, info, warn, error).
	// Default: warn
	LogLevel string `yaml:"log_level"`

	// LogFormat is either console or json.
	// Default: console
	LogFormat string `yaml:"log_format"`

	// path of the YAML file that was read, empty if none
	file string
}

func newDefault() *Config {
	return &Config{
		DataDir:        "./data",
		StorageBackend: BackendFile,
		StorageKey:     DefaultStorageKey,
		LogLevel:       "warn",
		LogFormat:      "console",
	}
}

// Load builds a Config. path names a YAML file; when empty, ACCSTORE_CONFIG is
// consulted. A missing file is not an error, an unparsable one is.
func Load(path string) (*Config, error) {
	cfg := newDefault()

	if path == "" {
		path = os.Getenv("ACCSTORE_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			var fileCfg Config
			if err := yaml.Unmarshal(data, &fileCfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
			cfg.applyFile(&fileCfg)
			cfg.file = path
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyFile(file *Config) {
	if file.DataDir != "" {
		c.DataDir = file.DataDir
	}
	if file.StorageBackend != "" {
		c.StorageBackend = file.StorageBackend
	}
	if file.StorageKey != "" {
		c.StorageKey = file.StorageKey
	}
	if file.LogLevel != "" {
		c.LogLevel = file.LogLevel
	}
	if file.LogFormat != "" {
		c.LogFormat = file.LogFormat
	}
}

func (c *Config) applyEnv() {
	if dataDir := os.Getenv("DATA_DIR"); dataDir != "" {
		c.DataDir = dataDir
	}
	if backend := os.Getenv("STORAGE_BACKEND"); backend != "" {
		c.StorageBackend = strings.ToLower(strings.TrimSpace(backend))
	}
	if key := os.Getenv("STORAGE_KEY"); key != "" {
		c.StorageKey = key
	}
	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.LogLevel = logLevel
	}
	if logFormat := os.Getenv("LOG_FORMAT"); logFormat != "" {
		c.LogFormat = logFormat
	}
}

// File returns the path of the YAML file the config was read from, if any.
func (c *Config) File() string {
	return c.file
}

// Validate performs basic validation on the configuration.
func (c *Config) Validate() error {
	switch c.StorageBackend {
	case BackendFile, BackendSQLite:
		if c.DataDir == "" {
			return fmt.Errorf("%w: DATA_DIR cannot be empty for the %s backend", ErrInvalidConfig, c.StorageBackend)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("%w: unknown STORAGE_BACKEND %q (want file, sqlite or memory)", ErrInvalidConfig, c.StorageBackend)
	}
	if c.StorageKey == "" {
		return fmt.Errorf("%w: STORAGE_KEY cannot be empty", ErrInvalidConfig)
	}
	if c.LogFormat != "console" && c.LogFormat != "json" {
		return fmt.Errorf("%w: unknown LOG_FORMAT %q (want console or json)", ErrInvalidConfig, c.LogFormat)
	}
	return nil
}
