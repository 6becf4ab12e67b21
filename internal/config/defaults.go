package config

// Default values for configuration options. These are layer 0 of the
// override chain and match the registry's documented limits.
const (
	defaultLogLevel              = "info"
	defaultBaseURL               = "https://api.invoicing.eta.gov.eg"
	defaultTokenURL              = "https://id.eta.gov.eg/connect/token"
	defaultMinRequestInterval    = "600ms"
	defaultRequestTimeout        = "20s"
	defaultMaxAttempts           = 5
	defaultRateLimitWait         = "5s"
	defaultPageSize              = 100
	defaultTokenRefreshMargin    = "5m"
	defaultTimezone              = "Africa/Cairo"
	defaultLookbackDays          = 30
	defaultMaxConcurrentAccounts = 0
	defaultWatchInterval         = "15m"
	defaultNotifySubject         = "eta.sync"
)

// DefaultConfig returns a Config populated with all default values.
// This is used both as the starting point for TOML decoding (so unset
// fields retain defaults) and as the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: defaultLogLevel,
		API: APIConfig{
			BaseURL:            defaultBaseURL,
			TokenURL:           defaultTokenURL,
			MinRequestInterval: defaultMinRequestInterval,
			RequestTimeout:     defaultRequestTimeout,
			MaxAttempts:        defaultMaxAttempts,
			RateLimitWait:      defaultRateLimitWait,
			PageSize:           defaultPageSize,
			TokenRefreshMargin: defaultTokenRefreshMargin,
		},
		Sync: SyncConfig{
			Timezone:              defaultTimezone,
			DefaultLookbackDays:   defaultLookbackDays,
			MaxConcurrentAccounts: defaultMaxConcurrentAccounts,
			WatchInterval:         defaultWatchInterval,
		},
		Notify: NotifyConfig{
			Subject: defaultNotifySubject,
		},
		Accounts: make(map[string]Account),
	}
}
