// Package config handles configuration loading and validation for the
// realitycam verification core.
package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// PlatformDataDir returns the platform-specific data directory.
//
// Platform paths:
//   - macOS:   ~/Library/Application Support/realitycam/
//   - Linux:   ~/.local/share/realitycam/
//   - Windows: %APPDATA%\realitycam\
//
// Falls back to ~/.realitycam if platform detection fails.
func PlatformDataDir() string {
	switch runtime.GOOS {
	case "darwin":
		return macOSDataDir()
	case "linux":
		return linuxDataDir()
	case "windows":
		return windowsDataDir()
	default:
		return fallbackDataDir()
	}
}

// PlatformConfigDir returns the platform-specific config directory.
//
// Platform paths:
//   - macOS:   ~/Library/Application Support/realitycam/
//   - Linux:   ~/.config/realitycam/
//   - Windows: %APPDATA%\realitycam\
func PlatformConfigDir() string {
	switch runtime.GOOS {
	case "darwin":
		return macOSDataDir() // macOS uses same dir for config and data
	case "linux":
		return linuxConfigDir()
	case "windows":
		return windowsDataDir() // Windows uses same dir for config and data
	default:
		return fallbackDataDir()
	}
}

// PlatformLogDir returns the platform-specific log directory.
//
// Platform paths:
//   - macOS:   ~/Library/Logs/realitycam/
//   - Linux:   ~/.local/share/realitycam/logs/
//   - Windows: %LOCALAPPDATA%\realitycam\logs\
func PlatformLogDir() string {
	switch runtime.GOOS {
	case "darwin":
		return macOSLogDir()
	case "linux":
		return filepath.Join(linuxDataDir(), "logs")
	case "windows":
		return windowsLogDir()
	default:
		return filepath.Join(fallbackDataDir(), "logs")
	}
}

// macOS-specific paths

func macOSDataDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, "Library", "Application Support", "realitycam")
}

func macOSLogDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, "Library", "Logs", "realitycam")
}

// Linux-specific paths following XDG Base Directory Specification

func linuxDataDir() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "realitycam")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "realitycam")
}

func linuxConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "realitycam")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "realitycam")
}

// Windows-specific paths

func windowsDataDir() string {
	if appData := os.Getenv("APPDATA"); appData != "" {
		return filepath.Join(appData, "realitycam")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "AppData", "Roaming", "realitycam")
}

func windowsLogDir() string {
	if localAppData := os.Getenv("LOCALAPPDATA"); localAppData != "" {
		return filepath.Join(localAppData, "realitycam", "logs")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "AppData", "Local", "realitycam", "logs")
}

func fallbackDataDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".realitycam")
}

// DefaultPaths returns all default paths for a platform.
type DefaultPaths struct {
	DataDir   string
	ConfigDir string
	LogDir    string

	ConfigFile     string
	DatabaseFile   string
	SigningKeyFile string
	PublicKeyFile  string
	PIDFile        string
}

// GetDefaultPaths returns all default paths for the current platform.
func GetDefaultPaths() *DefaultPaths {
	dataDir := PlatformDataDir()
	configDir := PlatformConfigDir()
	logDir := PlatformLogDir()

	return &DefaultPaths{
		DataDir:   dataDir,
		ConfigDir: configDir,
		LogDir:    logDir,

		ConfigFile:     filepath.Join(configDir, "config.toml"),
		DatabaseFile:   filepath.Join(dataDir, "realitycam.db"),
		SigningKeyFile: filepath.Join(dataDir, "evidence_signing_key"),
		PublicKeyFile:  filepath.Join(dataDir, "evidence_signing_key.pub"),
		PIDFile:        filepath.Join(dataDir, "realitycamd.pid"),
	}
}

// SupportedConfigFormats returns the config file extensions FindConfigFile
// searches for. Only TOML is listed; the loader also parses JSON and YAML
// files when given their path directly.
func SupportedConfigFormats() []string {
	return []string{"toml"}
}

// FindConfigFile searches for a config file in standard locations: the
// current directory, then the platform config directory.
func FindConfigFile() string {
	paths := GetDefaultPaths()

	searchDirs := []string{".", paths.ConfigDir}
	for _, dir := range searchDirs {
		for _, ext := range SupportedConfigFormats() {
			path := filepath.Join(dir, "config."+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}
