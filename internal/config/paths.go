package config

import (
	"os"
	"path/filepath"
)

// UserConfigPath returns the path to the user-level config file.
// This follows the XDG Base Directory Specification:
// - Linux: ~/.config/specforge/config.yml
// - macOS: ~/Library/Application Support/specforge/config.yml
// - Windows: %APPDATA%\specforge\config.yml
//
// If XDG_CONFIG_HOME is set, it will be respected on Linux.
func UserConfigPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "specforge", "config.yml"), nil
}

// UserConfigDir returns the path to the user-level config directory.
func UserConfigDir() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "specforge"), nil
}

// ProjectConfigPath returns the path to the project-level config file.
// This is always .specforge/config.yml relative to the repo root.
func ProjectConfigPath() string {
	return filepath.Join(".specforge", "config.yml")
}

// ProjectConfigDir returns the path to the project-level config directory.
func ProjectConfigDir() string {
	return ".specforge"
}

// LegacyProjectConfigPath returns the path to the legacy project-level JSON
// config file, kept readable so older checkouts keep working.
func LegacyProjectConfigPath() string {
	return filepath.Join(".specforge", "config.json")
}
