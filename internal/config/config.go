// Package config provides configuration for timeaudit.
// Configuration is loaded from (highest to lowest priority):
// 1. Command-line flags (applied by the CLI)
// 2. Environment variables (TIMEAUDIT_*)
// 3. Config file ($TIMEAUDIT_CONFIG or ~/.timeaudit/config.yaml)
// 4. Defaults
package config

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kimhsiao/timeaudit/internal/errors"
	"github.com/kimhsiao/timeaudit/internal/logging"
)

// Store kinds for the local queue slot.
const (
	StoreSQLite = "sqlite"
	StoreFile   = "file"
	StoreMemory = "memory"
)

// Remote kinds.
const (
	RemotePostgres = "postgres"
	RemoteREST     = "rest"
	RemoteMemory   = "memory"
)

// Config holds all timeaudit configuration.
type Config struct {
	// DataDir holds the local queue store (default: ~/.timeaudit).
	DataDir string `yaml:"data_dir" json:"data_dir"`

	// Store selects the slot backend: sqlite (default), file or memory.
	Store string `yaml:"store" json:"store"`

	// SlotKey names the slot holding the queue.
	SlotKey string `yaml:"slot_key" json:"slot_key"`

	// OwnerID is the signed-in user. Empty means nobody is signed in and
	// nothing can be submitted or synced.
	OwnerID string `yaml:"owner_id" json:"owner_id"`

	// Timezone is the IANA zone used for day boundaries (default: local).
	Timezone string `yaml:"timezone" json:"timezone"`

	Remote RemoteConfig `yaml:"remote" json:"remote"`

	// RetryInterval is how often undelivered activities are retried.
	RetryInterval time.Duration `yaml:"retry_interval" json:"retry_interval"`

	// HTTPAddr is the listen address of `timeaudit serve`.
	HTTPAddr string `yaml:"http_addr" json:"http_addr"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`
}

// RemoteConfig selects and configures the remote store.
type RemoteConfig struct {
	Kind        string        `yaml:"kind" json:"kind"`
	DSN         string        `yaml:"dsn" json:"-"`
	URL         string        `yaml:"url" json:"url,omitempty"`
	APIKey      string        `yaml:"api_key" json:"-"`
	AccessToken string        `yaml:"access_token" json:"-"`
	Timeout     time.Duration `yaml:"timeout" json:"timeout"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DataDir:       defaultDataDir(),
		Store:         StoreSQLite,
		SlotKey:       "time_audit_pending_activities",
		Remote:        RemoteConfig{Kind: RemoteMemory, Timeout: 10 * time.Second},
		RetryInterval: 30 * time.Second,
		HTTPAddr:      "127.0.0.1:8787",
		LogLevel:      "info",
	}
}

// Load reads the config file (if any) over the defaults, then applies
// environment overrides.
func Load() (*Config, error) {
	return LoadFromPath(Path())
}

// LoadFromPath is Load with an explicit file. A missing file is not an error.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case stderrors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, errors.Wrap(errors.ErrConfigInvalid, "failed to read config file", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, errors.Wrap(errors.ErrConfigInvalid, fmt.Sprintf("failed to parse %s", path), err)
			}
		}
	}

	applyEnv(cfg)
	cfg.DataDir = expandHome(cfg.DataDir)
	return cfg, nil
}

// Path returns the config file location.
func Path() string {
	if override := strings.TrimSpace(os.Getenv("TIMEAUDIT_CONFIG")); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".timeaudit", "config.yaml")
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	switch c.Store {
	case StoreSQLite, StoreFile:
		if strings.TrimSpace(c.DataDir) == "" {
			return errors.New(errors.ErrConfigInvalid, "data_dir is required for the "+c.Store+" store")
		}
	case StoreMemory:
	default:
		return errors.New(errors.ErrConfigInvalid, fmt.Sprintf("unknown store %q", c.Store))
	}

	switch c.Remote.Kind {
	case RemotePostgres:
		if strings.TrimSpace(c.Remote.DSN) == "" {
			return errors.New(errors.ErrConfigInvalid, "remote.dsn is required for the postgres remote")
		}
	case RemoteREST:
		if strings.TrimSpace(c.Remote.URL) == "" {
			return errors.New(errors.ErrConfigInvalid, "remote.url is required for the rest remote")
		}
	case RemoteMemory:
	default:
		return errors.New(errors.ErrConfigInvalid, fmt.Sprintf("unknown remote kind %q", c.Remote.Kind))
	}

	if c.RetryInterval <= 0 {
		return errors.New(errors.ErrConfigInvalid, "retry_interval must be positive")
	}
	if strings.TrimSpace(c.SlotKey) == "" {
		return errors.New(errors.ErrConfigInvalid, "slot_key is required")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return errors.New(errors.ErrConfigInvalid, fmt.Sprintf("unknown log_level %q", c.LogLevel))
	}
	return nil
}

// Location returns the configured time zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, errors.Wrap(errors.ErrConfigInvalid, fmt.Sprintf("unknown timezone %q", c.Timezone), err)
	}
	return loc, nil
}

// applyEnv applies environment variable overrides.
func applyEnv(cfg *Config) {
	mergeStr(&cfg.DataDir, os.Getenv("TIMEAUDIT_DATA_DIR"))
	mergeStr(&cfg.Store, os.Getenv("TIMEAUDIT_STORE"))
	mergeStr(&cfg.SlotKey, os.Getenv("TIMEAUDIT_SLOT_KEY"))
	mergeStr(&cfg.OwnerID, os.Getenv("TIMEAUDIT_OWNER_ID"))
	mergeStr(&cfg.Timezone, os.Getenv("TIMEAUDIT_TIMEZONE"))
	mergeStr(&cfg.Remote.Kind, os.Getenv("TIMEAUDIT_REMOTE_KIND"))
	mergeStr(&cfg.Remote.DSN, os.Getenv("TIMEAUDIT_REMOTE_DSN"))
	mergeStr(&cfg.Remote.URL, os.Getenv("TIMEAUDIT_REMOTE_URL"))
	mergeStr(&cfg.Remote.APIKey, os.Getenv("TIMEAUDIT_REMOTE_API_KEY"))
	mergeStr(&cfg.Remote.AccessToken, os.Getenv("TIMEAUDIT_REMOTE_ACCESS_TOKEN"))
	mergeStr(&cfg.HTTPAddr, os.Getenv("TIMEAUDIT_HTTP_ADDR"))
	mergeStr(&cfg.LogLevel, os.Getenv("TIMEAUDIT_LOG_LEVEL"))
	cfg.Remote.Timeout = durationEnv("TIMEAUDIT_REMOTE_TIMEOUT", cfg.Remote.Timeout)
	cfg.RetryInterval = durationEnv("TIMEAUDIT_RETRY_INTERVAL", cfg.RetryInterval)
}

// mergeStr overwrites dst with src when src is non-empty.
func mergeStr(dst *string, src string) {
	if src = strings.TrimSpace(src); src != "" {
		*dst = src
	}
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		logging.Warn("Invalid duration in environment, using fallback", map[string]interface{}{
			"name":     name,
			"value":    raw,
			"fallback": fallback.String(),
		})
		return fallback
	}
	return value
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".timeaudit"
	}
	return filepath.Join(home, ".timeaudit")
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
