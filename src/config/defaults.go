package config

import (
	"time"
)

// DefaultConfig returns a default configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Version: "1.0",
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    GetDefaultDatabasePath(),
		},
		API: APIConfig{
			BaseURL:      "https://openrouter.ai/api/v1",
			APIKeyEnvVar: "OPENROUTER_API_KEY",
			Model:        "openai/gpt-4o-mini",
			Timeout:      5 * time.Minute,
			RetryCount:   3,
			RetryDelay:   time.Second,
		},
		Recorder: RecorderConfig{
			StoreTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
