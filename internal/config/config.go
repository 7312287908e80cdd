// Package config loads and stores the objsync CLI settings kept under
// ~/.config/objsync.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/marcus/objsync/pkg/remote"
)

const (
	jsonFile = "config.json"
	yamlFile = "config.yaml"
	lockFile = "config.json.lock"

	defaultStorage = "sqlite"
)

// ErrUnknownKey is returned by Get and Set for keys the config does not have.
var ErrUnknownKey = errors.New("unknown config key")

// StorageConfig selects where session state (the current user) is kept.
type StorageConfig struct {
	Driver string `json:"driver,omitempty" yaml:"driver,omitempty"` // sqlite, bolt or memory
	Path   string `json:"path,omitempty" yaml:"path,omitempty"`
}

// Config is the CLI config stored at ~/.config/objsync/config.json.
type Config struct {
	ServerURL          string        `json:"server_url" yaml:"server_url"`
	MountPath          string        `json:"mount_path,omitempty" yaml:"mount_path,omitempty"`
	AppID              string        `json:"app_id" yaml:"app_id"`
	RESTKey            string        `json:"rest_key,omitempty" yaml:"rest_key,omitempty"`
	MasterKey          string        `json:"master_key,omitempty" yaml:"master_key,omitempty"`
	Timeout            string        `json:"timeout,omitempty" yaml:"timeout,omitempty"` // duration string, default "30s"
	RevocableSessions  *bool         `json:"revocable_sessions,omitempty" yaml:"revocable_sessions,omitempty"`
	IdempotentRequests bool          `json:"idempotent_requests,omitempty" yaml:"idempotent_requests,omitempty"`
	Storage            StorageConfig `json:"storage" yaml:"storage"`
}

// Dir returns the config directory, creating it if necessary.
// OBJSYNC_CONFIG_DIR overrides ~/.config/objsync.
func Dir() (string, error) {
	dir := os.Getenv("OBJSYNC_CONFIG_DIR")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("get home dir: %w", err)
		}
		dir = filepath.Join(home, ".config", "objsync")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("create config dir: %w", err)
	}
	return dir, nil
}

// Load reads the config from Dir and applies environment overrides.
func Load() (*Config, error) {
	dir, err := Dir()
	if err != nil {
		return nil, err
	}
	return LoadDir(dir)
}

// LoadDir reads config.json (comments and trailing commas allowed) or, if
// absent, config.yaml from dir, then applies OBJSYNC_* overrides.
func LoadDir(dir string) (*Config, error) {
	cfg, err := readFile(dir)
	if err != nil {
		return nil, err
	}
	cfg.applyEnv()
	return cfg, nil
}

func readFile(dir string) (*Config, error) {
	var cfg Config
	data, err := os.ReadFile(filepath.Join(dir, jsonFile))
	if err == nil {
		if err := json.Unmarshal(jsonc.ToJSON(data), &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", jsonFile, err)
		}
		return &cfg, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}

	data, err = os.ReadFile(filepath.Join(dir, yamlFile))
	if err != nil {
		if os.IsNotExist(err) {
			return &cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", yamlFile, err)
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	overrides := []struct {
		env string
		dst *string
	}{
		{"OBJSYNC_SERVER_URL", &c.ServerURL},
		{"OBJSYNC_APP_ID", &c.AppID},
		{"OBJSYNC_REST_KEY", &c.RESTKey},
		{"OBJSYNC_MASTER_KEY", &c.MasterKey},
		{"OBJSYNC_MOUNT_PATH", &c.MountPath},
		{"OBJSYNC_TIMEOUT", &c.Timeout},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.env); v != "" {
			*o.dst = v
		}
	}
}

// Save writes cfg to Dir/config.json.
func Save(cfg *Config) error {
	dir, err := Dir()
	if err != nil {
		return err
	}
	return SaveDir(dir, cfg)
}

// SaveDir writes cfg to dir/config.json using an atomic write (temp file +
// rename). The file holds keys, so it is created 0600.
func SaveDir(dir string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "config-*.json.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}

	return os.Rename(tmpName, filepath.Join(dir, jsonFile))
}

// Update loads the file config of dir (without env overrides), applies fn
// and saves it, holding an exclusive lock on the config for the duration.
func Update(dir string, fn func(*Config) error) error {
	return withConfigLock(dir, func() error {
		cfg, err := readFile(dir)
		if err != nil {
			return err
		}
		if err := fn(cfg); err != nil {
			return err
		}
		return SaveDir(dir, cfg)
	})
}

// withConfigLock serializes access to config.json using flock
func withConfigLock(dir string, fn func() error) error {
	f, err := os.OpenFile(filepath.Join(dir, lockFile), os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		return err
	}
	defer syscall.Flock(int(f.Fd()), syscall.LOCK_UN)

	return fn()
}

// TimeoutDuration parses Timeout. Empty means the client default.
func (c *Config) TimeoutDuration() (time.Duration, error) {
	if c.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout %q: %w", c.Timeout, err)
	}
	return d, nil
}

// ClientConfig converts the settings into a remote.Config.
func (c *Config) ClientConfig() (remote.Config, error) {
	timeout, err := c.TimeoutDuration()
	if err != nil {
		return remote.Config{}, err
	}
	rc := remote.Config{
		AppID:              c.AppID,
		RESTKey:            c.RESTKey,
		MasterKey:          c.MasterKey,
		ServerURL:          c.ServerURL,
		MountPath:          c.MountPath,
		IdempotentRequests: c.IdempotentRequests,
		Timeout:            timeout,
		RevocableSessions:  true,
	}
	if c.RevocableSessions != nil {
		rc.RevocableSessions = *c.RevocableSessions
	}
	return rc, nil
}

// StorageDriver returns the configured storage driver, defaulting to sqlite.
func (c *Config) StorageDriver() string {
	if c.Storage.Driver == "" {
		return defaultStorage
	}
	return c.Storage.Driver
}

// StoragePath returns the storage file path, defaulting to a file in dir
// named after the driver.
func (c *Config) StoragePath(dir string) string {
	if c.Storage.Path != "" {
		return c.Storage.Path
	}
	switch c.StorageDriver() {
	case "bolt":
		return filepath.Join(dir, "state.bolt")
	default:
		return filepath.Join(dir, "state.db")
	}
}

// secretKeys are masked by Get unless reveal is set.
var secretKeys = map[string]bool{"rest_key": true, "master_key": true}

func (c *Config) fields() map[string]*string {
	return map[string]*string{
		"server_url":     &c.ServerURL,
		"mount_path":     &c.MountPath,
		"app_id":         &c.AppID,
		"rest_key":       &c.RESTKey,
		"master_key":     &c.MasterKey,
		"timeout":        &c.Timeout,
		"storage.driver": &c.Storage.Driver,
		"storage.path":   &c.Storage.Path,
	}
}

// Keys lists the settable keys in order.
func Keys() []string {
	keys := make([]string, 0, 10)
	for k := range (&Config{}).fields() {
		keys = append(keys, k)
	}
	keys = append(keys, "revocable_sessions", "idempotent_requests")
	sort.Strings(keys)
	return keys
}

// Get returns the value of key as a string. Secrets are masked unless
// reveal is true.
func (c *Config) Get(key string, reveal bool) (string, error) {
	switch key {
	case "revocable_sessions":
		if c.RevocableSessions == nil {
			return "", nil
		}
		return strconv.FormatBool(*c.RevocableSessions), nil
	case "idempotent_requests":
		return strconv.FormatBool(c.IdempotentRequests), nil
	}
	p, ok := c.fields()[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	if secretKeys[key] && !reveal && *p != "" {
		return mask(*p), nil
	}
	return *p, nil
}

// Set assigns value to key, validating typed keys.
func (c *Config) Set(key, value string) error {
	switch key {
	case "revocable_sessions", "idempotent_requests":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%s must be true or false", key)
		}
		if key == "idempotent_requests" {
			c.IdempotentRequests = b
		} else {
			c.RevocableSessions = &b
		}
		return nil
	case "timeout":
		if value != "" {
			if _, err := time.ParseDuration(value); err != nil {
				return fmt.Errorf("invalid timeout %q: %w", value, err)
			}
		}
	case "storage.driver":
		switch value {
		case "", "sqlite", "bolt", "memory":
		default:
			return fmt.Errorf("storage.driver must be sqlite, bolt or memory")
		}
	case "server_url":
		if value != "" && !strings.HasPrefix(value, "http://") && !strings.HasPrefix(value, "https://") {
			return fmt.Errorf("server_url must start with http:// or https://")
		}
	}
	p, ok := c.fields()[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	*p = value
	return nil
}

func mask(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}
