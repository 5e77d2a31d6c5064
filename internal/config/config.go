// Package config provides configuration management for attomail.
package config

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultPath is the configuration file used when none is compiled in.
const DefaultPath = "/etc/attomail.toml"

// FileConfig is the top-level wrapper for the shared configuration file.
// This allows attomail to share a file with other infodancer mail tools.
type FileConfig struct {
	Attomail Config `toml:"attomail" yaml:"attomail"`
}

// Config holds the complete delivery configuration.
type Config struct {
	// Maildir is the absolute path of the recipient's Maildir/new directory.
	Maildir string `toml:"maildir" yaml:"maildir"`
	// UserName owns the Maildir; deliveries run as this user.
	UserName       string        `toml:"user_name" yaml:"user_name"`
	LogLevel       string        `toml:"log_level" yaml:"log_level"`
	CreateMaildirs *bool         `toml:"create_maildirs" yaml:"create_maildirs"`
	Metrics        MetricsConfig `toml:"metrics" yaml:"metrics"`
}

// MetricsConfig holds configuration for Prometheus metrics.
type MetricsConfig struct {
	// Textfile is written in the Prometheus text format after each delivery.
	// It must be writable by UserName. Empty disables metrics.
	Textfile string `toml:"textfile" yaml:"textfile"`
}

// Default returns a Config with sensible default values.
func Default() Config {
	return Config{
		LogLevel: "warn",
	}
}

// ShouldCreateMaildirs returns whether a missing Maildir skeleton should be
// created. Defaults to true when not explicitly set.
func (c *Config) ShouldCreateMaildirs() bool {
	if c.CreateMaildirs == nil {
		return true
	}
	return *c.CreateMaildirs
}

// Validate checks that the configuration is valid and returns an error if not.
// Only presence is checked here; the Maildir path's shape is validated by the
// delivery pipeline.
func (c *Config) Validate() error {
	if c.Maildir == "" {
		return errors.New("maildir is required")
	}

	if c.UserName == "" {
		return errors.New("user_name is required")
	}

	if strings.ContainsAny(c.UserName, " \t\r\n") {
		return fmt.Errorf("user_name %q contains whitespace", c.UserName)
	}

	return nil
}
