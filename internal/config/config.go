// Package config handles spawn configuration using Viper.
//
// Configuration sources (in priority order):
//  1. Environment variables (SPAWN_*)
//  2. Config file ($XDG_CONFIG_HOME/spawn/config.yaml)
//  3. Built-in defaults
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/musher-dev/spawn/internal/launch"
	"github.com/musher-dev/spawn/internal/paths"
)

const (
	KeyLaunchMode        = "launch.mode"
	KeyLaunchHelperPath  = "launch.helper_path"
	KeySessionsDir       = "sessions.dir"
	KeySessionsRetention = "sessions.retention"

	// DefaultLaunchMode is used when neither env nor file names a mode.
	DefaultLaunchMode = "helper"
	// DefaultSessionsRetention is how long recorded sessions are kept by
	// 'spawn sessions prune'.
	DefaultSessionsRetention = 30 * 24 * time.Hour
)

var knownKeys = []string{KeyLaunchHelperPath, KeyLaunchMode, KeySessionsDir, KeySessionsRetention}

// Config holds the spawn configuration.
type Config struct {
	v    *viper.Viper
	file string
}

// Load reads configuration from all sources. A missing config file is not
// an error; an unreadable one is reported on stderr and skipped.
func Load() *Config {
	v := viper.New()

	v.SetDefault(KeyLaunchMode, DefaultLaunchMode)
	v.SetDefault(KeyLaunchHelperPath, "")
	v.SetDefault(KeySessionsDir, "")
	v.SetDefault(KeySessionsRetention, DefaultSessionsRetention.String())

	cfg := &Config{v: v}

	if file, err := paths.ConfigFile(); err == nil {
		cfg.file = file
		v.SetConfigFile(file)
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("SPAWN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfg.file != "" {
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				fmt.Fprintf(os.Stderr, "Warning: error reading config file: %v\n", err)
			}
		}
	}

	return cfg
}

// Keys lists the settings spawn understands.
func Keys() []string {
	return slices.Clone(knownKeys)
}

// File returns the config file path, empty if none could be resolved.
func (c *Config) File() string {
	return c.file
}

// Get returns a configuration value.
func (c *Config) Get(key string) any {
	return c.v.Get(key)
}

// GetString returns a configuration value as string.
func (c *Config) GetString(key string) string {
	return c.v.GetString(key)
}

// Set validates, stores, and persists a configuration value.
func (c *Config) Set(key, value string) error {
	if !slices.Contains(knownKeys, key) {
		return fmt.Errorf("unknown config key %q (known: %s)", key, strings.Join(knownKeys, ", "))
	}

	switch key {
	case KeyLaunchMode:
		if _, err := launch.ParseMode(value); err != nil {
			return err
		}
	case KeySessionsRetention:
		if _, err := parseRetention(value); err != nil {
			return err
		}
	}

	if c.file == "" {
		return fmt.Errorf("no config file location")
	}

	c.v.Set(key, value)

	if err := os.MkdirAll(filepath.Dir(c.file), 0o700); err != nil {
		return err
	}

	return c.v.WriteConfigAs(c.file)
}

// All returns all configuration as a map.
func (c *Config) All() map[string]any {
	return c.v.AllSettings()
}

// LaunchMode returns the configured launch strategy.
func (c *Config) LaunchMode() (launch.Mode, error) {
	return launch.ParseMode(c.GetString(KeyLaunchMode))
}

// HelperPath returns the configured helper binary, empty for the default.
func (c *Config) HelperPath() string {
	return c.GetString(KeyLaunchHelperPath)
}

// SessionsDir returns where recorded sessions are stored.
func (c *Config) SessionsDir() (string, error) {
	if dir := c.GetString(KeySessionsDir); dir != "" {
		return dir, nil
	}

	return paths.SessionsDir()
}

// SessionsRetention returns the prune window for recorded sessions.
func (c *Config) SessionsRetention() (time.Duration, error) {
	return parseRetention(c.GetString(KeySessionsRetention))
}

func parseRetention(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid retention %q: %w", s, err)
	}

	if d <= 0 {
		return 0, fmt.Errorf("retention must be positive, got %s", d)
	}

	return d, nil
}
