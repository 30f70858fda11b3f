package config

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/adrg/xdg"
)

const appName = "chathistory"

// GetDefaultDatabasePath returns the default sqlite database path under XDG_STATE_HOME.
func GetDefaultDatabasePath() string {
	return filepath.Join(xdg.StateHome, appName, "chathistory.db")
}

// GetConfigPaths returns the configuration file paths to check
func GetConfigPaths() ConfigPrecedence {
	userConfigPath := filepath.Join(xdg.ConfigHome, appName, "config.json")

	// System config path varies by OS
	systemConfigPath := filepath.Join("/etc", appName, "config.json")
	if runtime.GOOS == "windows" {
		systemConfigPath = filepath.Join(os.Getenv("PROGRAMDATA"), appName, "config.json")
	}

	return ConfigPrecedence{
		SystemConfig:      systemConfigPath,
		UserConfig:        userConfigPath,
		ProjectConfig:     filepath.Join("."+appName, "config.json"),
		LocalConfig:       filepath.Join("."+appName, "config.local.json"),
		EnvironmentPrefix: "CHATHISTORY",
	}
}
