package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// Loader handles loading and merging configurations from multiple sources
type Loader struct {
	precedence ConfigPrecedence
	validator  *Validator
	fs         afero.Fs
	getenv     func(string) string
}

// NewLoader creates a new configuration loader reading from the OS filesystem
func NewLoader(precedence ConfigPrecedence) *Loader {
	return NewLoaderFs(precedence, afero.NewOsFs(), os.Getenv)
}

// NewLoaderFs creates a loader over fs with getenv as the environment source.
func NewLoaderFs(precedence ConfigPrecedence, fs afero.Fs, getenv func(string) string) *Loader {
	if getenv == nil {
		getenv = func(string) string { return "" }
	}
	return &Loader{
		precedence: precedence,
		validator:  NewValidator(),
		fs:         fs,
		getenv:     getenv,
	}
}

// Load loads configuration from all sources and merges them
func (l *Loader) Load() (*Config, error) {
	config := DefaultConfig()

	sources := []struct {
		path   string
		source ConfigSource
	}{
		{l.precedence.SystemConfig, SourceSystem},
		{l.precedence.UserConfig, SourceUser},
		{l.precedence.ProjectConfig, SourceProject},
		{l.precedence.LocalConfig, SourceLocal},
	}

	for _, src := range sources {
		if src.path == "" {
			continue
		}

		if cfg, err := l.loadFile(src.path); err == nil {
			config = mergeConfigs(config, cfg)
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load %s config from %s: %w", src.source, src.path, err)
		}
	}

	if l.precedence.EnvironmentPrefix != "" {
		if err := l.applyEnvironmentOverrides(config); err != nil {
			return nil, err
		}
	}

	if config.API.APIKey == "" && config.API.APIKeyEnvVar != "" {
		config.API.APIKey = l.getenv(config.API.APIKeyEnvVar)
	}

	if err := l.validator.Validate(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// LoadFile loads and validates a single configuration file on top of the defaults
func (l *Loader) LoadFile(path string) (*Config, error) {
	cfg, err := l.loadFile(path)
	if err != nil {
		return nil, err
	}
	config := mergeConfigs(DefaultConfig(), cfg)
	if err := l.validator.Validate(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return config, nil
}

func (l *Loader) loadFile(path string) (*Config, error) {
	data, err := afero.ReadFile(l.fs, path)
	if err != nil {
		return nil, err
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}

	return &config, nil
}

// SaveFile saves configuration to a file
func (l *Loader) SaveFile(config *Config, path string) error {
	if err := l.validator.Validate(config); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	if err := l.fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// The file may hold an API key.
	if err := afero.WriteFile(l.fs, path, data, 0600); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	return nil
}

// mergeConfigs merges two configurations with the second taking precedence
func mergeConfigs(base, override *Config) *Config {
	result := *base

	if override.Version != "" {
		result.Version = override.Version
	}

	// Database
	if override.Database.Driver != "" {
		result.Database.Driver = override.Database.Driver
	}
	if override.Database.DSN != "" {
		result.Database.DSN = override.Database.DSN
	}
	if override.Database.AutoMigrate != nil {
		v := *override.Database.AutoMigrate
		result.Database.AutoMigrate = &v
	}

	// API
	if override.API.BaseURL != "" {
		result.API.BaseURL = override.API.BaseURL
	}
	if override.API.APIKey != "" {
		result.API.APIKey = override.API.APIKey
	}
	if override.API.APIKeyEnvVar != "" {
		result.API.APIKeyEnvVar = override.API.APIKeyEnvVar
	}
	if override.API.Model != "" {
		result.API.Model = override.API.Model
	}
	if override.API.Timeout != 0 {
		result.API.Timeout = override.API.Timeout
	}
	if override.API.RetryCount != 0 {
		result.API.RetryCount = override.API.RetryCount
	}
	if override.API.RetryDelay != 0 {
		result.API.RetryDelay = override.API.RetryDelay
	}

	// Recorder
	if override.Recorder.UserID != "" {
		result.Recorder.UserID = override.Recorder.UserID
	}
	if override.Recorder.RecordPrompt {
		result.Recorder.RecordPrompt = true
	}
	if override.Recorder.StoreTimeout != 0 {
		result.Recorder.StoreTimeout = override.Recorder.StoreTimeout
	}

	// Logging
	if override.Logging.Level != "" {
		result.Logging.Level = override.Logging.Level
	}
	if override.Logging.Format != "" {
		result.Logging.Format = override.Logging.Format
	}

	return &result
}

// applyEnvironmentOverrides applies environment variable overrides to config
func (l *Loader) applyEnvironmentOverrides(config *Config) error {
	prefix := l.precedence.EnvironmentPrefix + "_"

	str := map[string]*string{
		"DB_DRIVER":  &config.Database.Driver,
		"DB_DSN":     &config.Database.DSN,
		"API_KEY":    &config.API.APIKey,
		"BASE_URL":   &config.API.BaseURL,
		"MODEL":      &config.API.Model,
		"USER_ID":    &config.Recorder.UserID,
		"LOG_LEVEL":  &config.Logging.Level,
		"LOG_FORMAT": &config.Logging.Format,
	}
	for name, dst := range str {
		if v := l.getenv(prefix + name); v != "" {
			*dst = v
		}
	}

	if v := l.getenv(prefix + "RECORD_PROMPT"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %sRECORD_PROMPT: %w", prefix, err)
		}
		config.Recorder.RecordPrompt = b
	}
	if v := l.getenv(prefix + "AUTO_MIGRATE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %sAUTO_MIGRATE: %w", prefix, err)
		}
		config.Database.AutoMigrate = &b
	}
	if v := l.getenv(prefix + "STORE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %sSTORE_TIMEOUT: %w", prefix, err)
		}
		config.Recorder.StoreTimeout = d
	}
	return nil
}
