package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"sigs.k8s.io/yaml"

	"github.com/johnayeni/mws-restaurant-reviews-app/internal/host"
)

// Defaults.
const (
	DefaultServerURL         = "http://localhost:1337"
	DefaultCacheSize         = 30
	DefaultMaxSyncAttempts   = 3
	DefaultRetryInterval     = 30 * time.Second
	DefaultReplayConcurrency = 4
)

// Environment overrides.
const (
	EnvServerURL = "REVIEWSYNC_SERVER_URL"
	EnvDataDir   = "REVIEWSYNC_DATA_DIR"
	EnvConfig    = "REVIEWSYNC_CONFIG"
)

const appDirName = "reviewsync"

// Duration reads "30s"-style strings as well as plain seconds.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case float64:
		*d = Duration(time.Duration(v * float64(time.Second)))
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		*d = Duration(parsed)
	case nil:
		*d = 0
	default:
		return fmt.Errorf("invalid duration %s", string(data))
	}
	return nil
}

// Config is the user configuration file.
type Config struct {
	ServerURL         string   `json:"server_url,omitempty"`
	DataDir           string   `json:"data_dir,omitempty"`
	CacheSize         int      `json:"cache_size,omitempty"`
	MaxSyncAttempts   int      `json:"max_sync_attempts,omitempty"`
	RetryInterval     Duration `json:"retry_interval,omitempty"`
	ReplayConcurrency int      `json:"replay_concurrency,omitempty"`
	Notifications     string   `json:"notifications,omitempty"`
}

// DefaultConfig returns a config with every field set to its default.
func DefaultConfig() Config {
	return Config{
		ServerURL:         DefaultServerURL,
		DataDir:           DefaultDataDir(),
		CacheSize:         DefaultCacheSize,
		MaxSyncAttempts:   DefaultMaxSyncAttempts,
		RetryInterval:     Duration(DefaultRetryInterval),
		ReplayConcurrency: DefaultReplayConcurrency,
		Notifications:     string(host.PermissionDefault),
	}
}

// ConfigPath returns where the config file lives.
func ConfigPath() string {
	if path := os.Getenv(EnvConfig); path != "" {
		return path
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(".", appDirName, "config.yaml")
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, appDirName, "config.yaml")
}

// DefaultDataDir returns where the local store lives when not configured.
func DefaultDataDir() string {
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(".", appDirName)
		}
		base = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(base, appDirName)
}

// StorePath returns the SQLite file inside the data dir.
func (c Config) StorePath() string {
	return filepath.Join(c.DataDir, "cache.db")
}

// ReadConfigFile reads path as YAML or JSON. A missing file yields an empty
// config and found=false.
func ReadConfigFile(path string) (Config, bool, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, false, nil
		}
		return cfg, false, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, true, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, true, nil
}

// LoadConfig reads path, fills defaults and applies environment overrides.
func LoadConfig(path string) (Config, error) {
	cfg, _, err := ReadConfigFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg = cfg.withDefaults()
	if v := strings.TrimSpace(os.Getenv(EnvServerURL)); v != "" {
		cfg.ServerURL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvDataDir)); v != "" {
		cfg.DataDir = v
	}
	return cfg, cfg.Validate()
}

// WriteConfig writes cfg to path atomically.
func WriteConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Validate rejects values the sync core cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.CacheSize <= 0 {
		errs = append(errs, fmt.Errorf("cache_size must be positive"))
	}
	if c.MaxSyncAttempts <= 0 {
		errs = append(errs, fmt.Errorf("max_sync_attempts must be positive"))
	}
	if c.ReplayConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("replay_concurrency must be positive"))
	}
	if c.RetryInterval <= 0 {
		errs = append(errs, fmt.Errorf("retry_interval must be positive"))
	}
	if _, err := host.ParsePermission(c.Notifications); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ServerURL == "" {
		c.ServerURL = d.ServerURL
	}
	if c.DataDir == "" {
		c.DataDir = d.DataDir
	}
	if c.CacheSize == 0 {
		c.CacheSize = d.CacheSize
	}
	if c.MaxSyncAttempts == 0 {
		c.MaxSyncAttempts = d.MaxSyncAttempts
	}
	if c.RetryInterval == 0 {
		c.RetryInterval = d.RetryInterval
	}
	if c.ReplayConcurrency == 0 {
		c.ReplayConcurrency = d.ReplayConcurrency
	}
	if c.Notifications == "" {
		c.Notifications = d.Notifications
	}
	return c
}

var settableKeys = map[string]func(*Config, string) error{
	"server_url": func(c *Config, v string) error { c.ServerURL = v; return nil },
	"data_dir":   func(c *Config, v string) error { c.DataDir = v; return nil },
	"cache_size": func(c *Config, v string) error { return setInt(&c.CacheSize, v) },
	"max_sync_attempts": func(c *Config, v string) error {
		return setInt(&c.MaxSyncAttempts, v)
	},
	"replay_concurrency": func(c *Config, v string) error {
		return setInt(&c.ReplayConcurrency, v)
	},
	"retry_interval": func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		c.RetryInterval = Duration(d)
		return nil
	},
	"notifications": func(c *Config, v string) error {
		p, err := host.ParsePermission(v)
		if err != nil {
			return err
		}
		c.Notifications = string(p)
		return nil
	},
}

// ConfigKeys lists the keys accepted by SetConfigValue.
func ConfigKeys() []string {
	keys := make([]string, 0, len(settableKeys))
	for key := range settableKeys {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// SetConfigValue updates one key in the file at path, keeping other fields.
func SetConfigValue(path, key, value string) (Config, error) {
	set, ok := settableKeys[key]
	if !ok {
		return Config{}, fmt.Errorf("unknown config key %q (valid: %s)", key, strings.Join(ConfigKeys(), ", "))
	}
	cfg, _, err := ReadConfigFile(path)
	if err != nil {
		return Config{}, err
	}
	if err := set(&cfg, strings.TrimSpace(value)); err != nil {
		return Config{}, fmt.Errorf("%s: %w", key, err)
	}
	if err := cfg.withDefaults().Validate(); err != nil {
		return Config{}, err
	}
	if err := WriteConfig(path, cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setInt(dst *int, value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("expected a number, got %q", value)
	}
	*dst = n
	return nil
}

// FilePermissions persists the notification permission in the config file.
type FilePermissions struct {
	Path string
}

func (f FilePermissions) LoadPermission() (host.Permission, error) {
	cfg, _, err := ReadConfigFile(f.Path)
	if err != nil {
		return host.PermissionDefault, err
	}
	return host.ParsePermission(cfg.Notifications)
}

func (f FilePermissions) SavePermission(p host.Permission) error {
	_, err := SetConfigValue(f.Path, "notifications", string(p))
	return err
}
