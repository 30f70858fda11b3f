package config

import (
	"time"
)

// Config represents the complete configuration for chathistory
type Config struct {
	// Version of the configuration format
	Version string `json:"version"`

	// Database holds the chat history store connection
	Database DatabaseConfig `json:"database"`

	// API configuration for the OpenAI-compatible provider
	API APIConfig `json:"api"`

	// Recorder configuration
	Recorder RecorderConfig `json:"recorder"`

	// Logging configuration
	Logging LoggingConfig `json:"logging"`
}

// DatabaseConfig selects the SQL backend
type DatabaseConfig struct {
	// Driver is one of sqlite, postgres or mysql
	Driver string `json:"driver" validate:"required,driver"`

	// DSN is the driver specific data source name. For sqlite it is a file path.
	DSN string `json:"dsn" validate:"required"`

	// AutoMigrate applies pending migrations on startup. Defaults to true.
	AutoMigrate *bool `json:"auto_migrate,omitempty"`
}

// ShouldMigrate reports whether migrations run on startup.
func (d DatabaseConfig) ShouldMigrate() bool {
	return d.AutoMigrate == nil || *d.AutoMigrate
}

// APIConfig holds provider connection settings
type APIConfig struct {
	BaseURL string `json:"base_url,omitempty" validate:"omitempty,url"`

	// APIKey is used directly when set
	APIKey string `json:"api_key,omitempty"`

	// APIKeyEnvVar names the environment variable holding the key when APIKey is empty
	APIKeyEnvVar string `json:"api_key_env_var,omitempty"`

	Model      string        `json:"model" validate:"required"`
	Timeout    time.Duration `json:"timeout" validate:"gte=0"`
	RetryCount int           `json:"retry_count" validate:"gte=0,lte=10"`
	RetryDelay time.Duration `json:"retry_delay" validate:"gte=0"`
}

// RecorderConfig tunes how calls are recorded
type RecorderConfig struct {
	// UserID is stored on chats created by this process
	UserID string `json:"user_id,omitempty"`

	// RecordPrompt stores the final user message of each prompt
	RecordPrompt bool `json:"record_prompt"`

	// StoreTimeout bounds each persistence step
	StoreTimeout time.Duration `json:"store_timeout" validate:"gte=0"`
}

// LoggingConfig defines logging configuration
type LoggingConfig struct {
	// Level is the minimum log level (debug, info, warn, error)
	Level string `json:"level,omitempty" validate:"omitempty,log_level"`

	// Format is the output format (text, json)
	Format string `json:"format,omitempty" validate:"omitempty,log_format"`
}

// ConfigPrecedence defines the order of configuration loading
type ConfigPrecedence struct {
	// SystemConfig path
	SystemConfig string

	// UserConfig path
	UserConfig string

	// ProjectConfig path
	ProjectConfig string

	// LocalConfig path
	LocalConfig string

	// EnvironmentPrefix for env var overrides
	EnvironmentPrefix string
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
	Value   interface{}
}

func (e ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// ConfigSource indicates where a configuration value came from
type ConfigSource string

const (
	SourceDefault     ConfigSource = "default"
	SourceSystem      ConfigSource = "system"
	SourceUser        ConfigSource = "user"
	SourceProject     ConfigSource = "project"
	SourceLocal       ConfigSource = "local"
	SourceEnvironment ConfigSource = "environment"
)
