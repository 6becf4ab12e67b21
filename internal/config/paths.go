package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// Platform identifiers.
const (
	platformLinux  = "linux"
	platformDarwin = "darwin"
)

// Application directory name used across all platforms.
const appName = "eta-fetcher"

// Config file name.
const configFileName = "config.toml"

// Subdirectories of the data dir.
const (
	stateDirName  = "state"
	tokenDirName  = "tokens"
	dbDirName     = "db"
	stateFileExt  = ".toml"
	tokenFileExt  = ".json"
	sqliteFileExt = ".db"
)

// DefaultConfigDir returns the platform-specific directory for config files.
// On Linux, respects XDG_CONFIG_HOME (defaults to ~/.config/eta-fetcher).
// On macOS, uses ~/Library/Application Support/eta-fetcher.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		return xdgDir("XDG_CONFIG_HOME", home, ".config")
	case platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		return filepath.Join(home, ".config", appName)
	}
}

// DefaultDataDir returns the platform-specific directory for state files,
// token caches and default SQLite databases.
// On Linux, respects XDG_DATA_HOME (defaults to ~/.local/share/eta-fetcher).
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		return xdgDir("XDG_DATA_HOME", home, filepath.Join(".local", "share"))
	case platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		return filepath.Join(home, ".local", "share", appName)
	}
}

func xdgDir(envVar, home, fallback string) string {
	if xdg := os.Getenv(envVar); xdg != "" {
		return filepath.Join(xdg, appName)
	}

	return filepath.Join(home, fallback, appName)
}

// DefaultConfigPath returns the full path to the default config file.
func DefaultConfigPath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, configFileName)
}

// StatePath returns the engine state file for an account.
func StatePath(dataDir, account string) string {
	return filepath.Join(dataDir, stateDirName, account+stateFileExt)
}

// TokenPath returns the token cache file for an account.
func TokenPath(dataDir, account string) string {
	return filepath.Join(dataDir, tokenDirName, account+tokenFileExt)
}

// DatabaseDSN returns the account's configured database, or a SQLite file
// in the data dir when none is configured.
func DatabaseDSN(dataDir string, a Account) string {
	if a.Database != "" {
		return a.Database
	}

	return filepath.Join(dataDir, dbDirName, a.Name+sqliteFileExt)
}
