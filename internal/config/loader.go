package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Flags holds command-line values that override the configuration file.
type Flags struct {
	LogLevel string
}

// Load parses a configuration file and returns the Config. Files ending in
// .yaml or .yml are read as YAML; everything else as TOML.
// Unlike a server, a delivery cannot fall back to defaults: a missing file
// is an error.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config file: %w", err)
	}

	var fileConfig FileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &fileConfig)
	default:
		err = toml.Unmarshal(data, &fileConfig)
	}
	if err != nil {
		return cfg, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	// Merge file config into defaults
	cfg = mergeConfig(cfg, fileConfig.Attomail)

	return cfg, nil
}

// ApplyFlags merges command-line flag values into the config.
// Non-empty flag values override config file values.
func ApplyFlags(cfg Config, f *Flags) Config {
	if f == nil {
		return cfg
	}

	if f.LogLevel != "" {
		cfg.LogLevel = f.LogLevel
	}

	return cfg
}

// LoadAndValidate loads path, applies environment overrides and validates
// the result.
func LoadAndValidate(path string) (Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	cfg = ApplyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return cfg, nil
}

// mergeConfig merges non-zero values from src into dst.
func mergeConfig(dst, src Config) Config {
	if src.Maildir != "" {
		dst.Maildir = src.Maildir
	}

	if src.UserName != "" {
		dst.UserName = src.UserName
	}

	if src.LogLevel != "" {
		dst.LogLevel = src.LogLevel
	}

	// CreateMaildirs is a pointer so an explicit false survives the merge
	if src.CreateMaildirs != nil {
		dst.CreateMaildirs = src.CreateMaildirs
	}

	if src.Metrics.Textfile != "" {
		dst.Metrics.Textfile = src.Metrics.Textfile
	}

	return dst
}
