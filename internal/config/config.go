// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for eta-fetcher. It supports a layered
// override chain (defaults -> config file -> environment -> CLI flags) and
// owns the per-account state files the sync engine writes back after each
// run.
package config

import (
	"sort"
	"time"
)

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	LogLevel string             `toml:"log_level"`
	API      APIConfig          `toml:"api"`
	Sync     SyncConfig         `toml:"sync"`
	Notify   NotifyConfig       `toml:"notify"`
	Metrics  MetricsConfig      `toml:"metrics"`
	Accounts map[string]Account `toml:"account"`
}

// APIConfig controls the registry client: endpoints, request spacing and the
// retry budget.
type APIConfig struct {
	BaseURL            string `toml:"base_url"`
	TokenURL           string `toml:"token_url"`
	MinRequestInterval string `toml:"min_request_interval"`
	RequestTimeout     string `toml:"request_timeout"`
	MaxAttempts        int    `toml:"max_attempts"`
	RateLimitWait      string `toml:"rate_limit_wait"`
	PageSize           int    `toml:"page_size"`
	TokenRefreshMargin string `toml:"token_refresh_margin"`
}

// SyncConfig controls the engine and the scheduler.
type SyncConfig struct {
	Timezone              string `toml:"timezone"`
	DefaultLookbackDays   int    `toml:"default_lookback_days"`
	MaxConcurrentAccounts int    `toml:"max_concurrent_accounts"`
	WatchInterval         string `toml:"watch_interval"`
}

// NotifyConfig enables publishing progress events to NATS. An empty URL
// disables it.
type NotifyConfig struct {
	NATSURL string `toml:"nats_url"`
	Subject string `toml:"subject"`
}

// MetricsConfig controls the Prometheus textfile export. An empty path
// disables it.
type MetricsConfig struct {
	Textfile string `toml:"textfile"`
}

// Account is one registry client whose documents are synced into its own
// database. Name is the [account.<name>] key and is filled in by Load.
type Account struct {
	Name              string `toml:"-"`
	ClientID          string `toml:"client_id"`
	ClientSecret      string `toml:"client_secret"`
	TaxID             string `toml:"tax_id"`
	Database          string `toml:"database"`
	OldestInvoiceDate string `toml:"oldest_invoice_date"`
	Disabled          bool   `toml:"disabled"`
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings.
type CLIOverrides struct {
	ConfigPath string
	DataDir    string
	LogLevel   string
}

// AccountList returns the configured accounts sorted by name, skipping
// disabled ones.
func (c *Config) AccountList() []Account {
	names := make([]string, 0, len(c.Accounts))
	for name := range c.Accounts {
		names = append(names, name)
	}

	sort.Strings(names)

	out := make([]Account, 0, len(names))

	for _, name := range names {
		a := c.Accounts[name]
		if a.Disabled {
			continue
		}

		a.Name = name
		out = append(out, a)
	}

	return out
}

// Location returns the time zone day windows are computed in. Callers use it
// after Validate, so a load failure falls back to UTC.
func (s SyncConfig) Location() *time.Location {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}

	return loc
}

// WatchEvery returns the parsed watch interval.
func (s SyncConfig) WatchEvery() time.Duration {
	return mustDuration(s.WatchInterval)
}

// MinInterval returns the parsed minimum request spacing.
func (a APIConfig) MinInterval() time.Duration {
	return mustDuration(a.MinRequestInterval)
}

// Timeout returns the parsed per-request timeout.
func (a APIConfig) Timeout() time.Duration {
	return mustDuration(a.RequestTimeout)
}

// ThrottleWait returns the parsed default 429 wait.
func (a APIConfig) ThrottleWait() time.Duration {
	return mustDuration(a.RateLimitWait)
}

// RefreshMargin returns the parsed token refresh margin.
func (a APIConfig) RefreshMargin() time.Duration {
	return mustDuration(a.TokenRefreshMargin)
}

// mustDuration parses a duration already checked by Validate.
func mustDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}

	return d
}
