package config

import (
	"os"
	"path/filepath"
	"runtime"
)

const appName = "gestureguard"

// SupportedConfigFormats lists the config file extensions, without the dot,
// in the order FindConfigFile tries them.
func SupportedConfigFormats() []string {
	return []string{"toml", "json", "yaml", "yml"}
}

// PlatformDataDir is where the database, models and logs live by default:
// ~/Library/Application Support on macOS, $XDG_DATA_HOME (or
// ~/.local/share) on Linux, %APPDATA% on Windows and ~/.gestureguard
// elsewhere.
func PlatformDataDir() string {
	home := homeDir()
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", appName)
	case "linux":
		return filepath.Join(envOr("XDG_DATA_HOME", filepath.Join(home, ".local", "share")), appName)
	case "windows":
		return filepath.Join(envOr("APPDATA", filepath.Join(home, "AppData", "Roaming")), appName)
	}
	return filepath.Join(home, "."+appName)
}

// PlatformConfigDir follows XDG on Linux and shares the data directory
// elsewhere.
func PlatformConfigDir() string {
	if runtime.GOOS != "linux" {
		return PlatformDataDir()
	}
	return filepath.Join(envOr("XDG_CONFIG_HOME", filepath.Join(homeDir(), ".config")), appName)
}

// FindConfigFile returns the first config.<ext> found in the working
// directory, the config directory or the data directory, or "".
func FindConfigFile() string {
	for _, dir := range []string{".", PlatformConfigDir(), PlatformDataDir()} {
		for _, ext := range SupportedConfigFormats() {
			p := filepath.Join(dir, "config."+ext)
			if info, err := os.Stat(p); err == nil && !info.IsDir() {
				return p
			}
		}
	}
	return ""
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func homeDir() string {
	if h := os.Getenv("HOME"); h != "" {
		return h
	}
	h, _ := os.UserHomeDir()
	return h
}
