// Package config loads tada settings from defaults, TOML files, the
// environment and command line overrides, in that order.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	BackendRemote = "remote"
	BackendLocal  = "local"
)

// Default values.
const (
	DefaultBackend         = BackendRemote
	DefaultDataDir         = "~/.tada"
	DefaultLogLevel        = "warn"
	DefaultTheme           = "auto"
	DefaultStoreFile       = "todos.json"
	DefaultCacheDriver     = "sqlite"
	DefaultCacheFile       = "cache.db"
	DefaultCredentialsFile = "credentials.json"
	DefaultSecretFile      = "session.key"
	DefaultTokenEnv        = "TADA_TOKEN"
	DefaultSessionTTL      = 30 * 24 * time.Hour

	ProjectFileName = "tada.toml"
)

// Config is the full tada configuration.
type Config struct {
	Backend  string `toml:"backend"`
	DataDir  string `toml:"data_dir"`
	LogLevel string `toml:"log_level"`
	Theme    string `toml:"theme"`

	Store StoreConfig `toml:"store"`
	Cache CacheConfig `toml:"cache"`
	Auth  AuthConfig  `toml:"auth"`
}

// StoreConfig configures the document store used by the remote backend.
type StoreConfig struct {
	File  string `toml:"file"`
	Watch bool   `toml:"watch"`
}

// CacheConfig configures the relational cache used by the local backend.
type CacheConfig struct {
	Driver string `toml:"driver"`
	DSN    string `toml:"dsn"`
}

// AuthConfig configures sessions.
type AuthConfig struct {
	Secret          string        `toml:"secret"`
	SecretFile      string        `toml:"secret_file"`
	SessionTTL      time.Duration `toml:"session_ttl"`
	CredentialsFile string        `toml:"credentials_file"`
	TokenEnv        string        `toml:"token_env"`
}

// Overrides are values given on the command line.
type Overrides struct {
	Backend  string
	LogLevel string
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Backend:  DefaultBackend,
		DataDir:  DefaultDataDir,
		LogLevel: DefaultLogLevel,
		Theme:    DefaultTheme,
		Store: StoreConfig{
			File:  DefaultStoreFile,
			Watch: true,
		},
		Cache: CacheConfig{
			Driver: DefaultCacheDriver,
		},
		Auth: AuthConfig{
			SecretFile:      DefaultSecretFile,
			SessionTTL:      DefaultSessionTTL,
			CredentialsFile: DefaultCredentialsFile,
			TokenEnv:        DefaultTokenEnv,
		},
	}
}

// Load builds the configuration. When file is set it replaces the project
// file lookup; the user file is always read if present.
func Load(file string, o Overrides) (*Config, error) {
	cfg := Default()

	if userFile := findUserConfigFile(); userFile != "" {
		if err := loadConfigFile(cfg, userFile); err != nil {
			return nil, fmt.Errorf("loading user config file %s: %w", userFile, err)
		}
	}

	if file == "" {
		file = findProjectConfigFile()
	}
	if file != "" {
		if err := loadConfigFile(cfg, file); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", file, err)
		}
	}

	if err := loadFromEnv(cfg); err != nil {
		return nil, err
	}

	if o.Backend != "" {
		cfg.Backend = o.Backend
	}
	if o.LogLevel != "" {
		cfg.LogLevel = o.LogLevel
	}

	if err := cfg.finalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadConfigFile(cfg *Config, path string) error {
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
	}
	return nil
}

func loadFromEnv(cfg *Config) error {
	strs := map[string]*string{
		"TADA_BACKEND":          &cfg.Backend,
		"TADA_DATA_DIR":         &cfg.DataDir,
		"TADA_LOG_LEVEL":        &cfg.LogLevel,
		"TADA_THEME":            &cfg.Theme,
		"TADA_STORE_FILE":       &cfg.Store.File,
		"TADA_CACHE_DRIVER":     &cfg.Cache.Driver,
		"TADA_CACHE_DSN":        &cfg.Cache.DSN,
		"TADA_AUTH_SECRET":      &cfg.Auth.Secret,
		"TADA_CREDENTIALS_FILE": &cfg.Auth.CredentialsFile,
	}
	for key, dst := range strs {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	if v := os.Getenv("TADA_STORE_WATCH"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("TADA_STORE_WATCH: %w", err)
		}
		cfg.Store.Watch = b
	}
	if v := os.Getenv("TADA_SESSION_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("TADA_SESSION_TTL: %w", err)
		}
		cfg.Auth.SessionTTL = d
	}
	return nil
}

// finalize validates and resolves relative paths against DataDir.
func (c *Config) finalize() error {
	switch c.Backend {
	case BackendRemote, BackendLocal:
	default:
		return fmt.Errorf("unknown backend %q (want %s or %s)", c.Backend, BackendRemote, BackendLocal)
	}
	if c.Auth.SessionTTL <= 0 {
		return fmt.Errorf("session_ttl must be positive, got %s", c.Auth.SessionTTL)
	}

	c.DataDir = expandPath(c.DataDir)
	c.Store.File = c.resolve(c.Store.File)
	c.Auth.CredentialsFile = c.resolve(c.Auth.CredentialsFile)
	c.Auth.SecretFile = c.resolve(c.Auth.SecretFile)
	if c.Cache.DSN == "" && c.Cache.Driver == DefaultCacheDriver {
		c.Cache.DSN = filepath.Join(c.DataDir, DefaultCacheFile)
	}
	return nil
}

func (c *Config) resolve(p string) string {
	if p == "" {
		return ""
	}
	p = expandPath(p)
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.DataDir, p)
}

// expandPath expands ~ and environment variables.
func expandPath(p string) string {
	if p == "" {
		return p
	}
	expanded := os.ExpandEnv(p)
	if expanded == "~" || strings.HasPrefix(expanded, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return expanded
		}
		return filepath.Join(home, strings.TrimPrefix(expanded[1:], "/"))
	}
	return expanded
}

func findProjectConfigFile() string {
	for _, name := range []string{ProjectFileName, "." + ProjectFileName} {
		if _, err := os.Stat(name); err == nil {
			return name
		}
	}
	return ""
}

func findUserConfigFile() string {
	dir := userConfigDir()
	if dir == "" {
		return ""
	}
	p := filepath.Join(dir, "tada", "config.toml")
	if _, err := os.Stat(p); err == nil {
		return p
	}
	return ""
}

func userConfigDir() string {
	if runtime.GOOS != "windows" && runtime.GOOS != "darwin" {
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return xdg
		}
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return dir
}
