package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig  = "ETA_FETCHER_CONFIG"
	EnvDataDir = "ETA_FETCHER_DATA_DIR"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string // ETA_FETCHER_CONFIG: override config file path
	DataDir    string // ETA_FETCHER_DATA_DIR: override state/token/database directory
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		DataDir:    os.Getenv(EnvDataDir),
	}
}
