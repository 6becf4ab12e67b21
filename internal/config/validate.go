package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/MSBasha93/ETA-Invetcher/internal/invoice"
	"github.com/MSBasha93/ETA-Invetcher/internal/store"
)

// Validation range constants.
const (
	minPageSize        = 1
	maxPageSize        = 100
	minAttempts        = 1
	maxAttempts        = 20
	minLookbackDays    = 1
	minRequestInterval = 0
	minWatchInterval   = time.Minute
)

// accountNamePattern keeps account names safe for file names and NATS
// subject tokens.
var accountNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate checks all configuration values and returns all errors found,
// so users can fix every issue in one pass.
func Validate(cfg *Config) error {
	var errs []error

	if !validLogLevels[strings.ToLower(cfg.LogLevel)] {
		errs = append(errs, fmt.Errorf("log_level: must be one of debug, info, warn, error; got %q", cfg.LogLevel))
	}

	errs = append(errs, validateAPI(&cfg.API)...)
	errs = append(errs, validateSync(&cfg.Sync)...)
	errs = append(errs, validateAccounts(cfg.Accounts)...)

	return errors.Join(errs...)
}

func validateAPI(a *APIConfig) []error {
	var errs []error

	if a.BaseURL == "" {
		errs = append(errs, errors.New("api.base_url: must not be empty"))
	}

	if a.TokenURL == "" {
		errs = append(errs, errors.New("api.token_url: must not be empty"))
	}

	errs = appendDurationErr(errs, "api.min_request_interval", a.MinRequestInterval, minRequestInterval)
	errs = appendDurationErr(errs, "api.request_timeout", a.RequestTimeout, time.Second)
	errs = appendDurationErr(errs, "api.rate_limit_wait", a.RateLimitWait, 0)
	errs = appendDurationErr(errs, "api.token_refresh_margin", a.TokenRefreshMargin, 0)

	if a.MaxAttempts < minAttempts || a.MaxAttempts > maxAttempts {
		errs = append(errs, fmt.Errorf("api.max_attempts: must be between %d and %d, got %d", minAttempts, maxAttempts, a.MaxAttempts))
	}

	if a.PageSize < minPageSize || a.PageSize > maxPageSize {
		errs = append(errs, fmt.Errorf("api.page_size: must be between %d and %d, got %d", minPageSize, maxPageSize, a.PageSize))
	}

	return errs
}

func validateSync(s *SyncConfig) []error {
	var errs []error

	if _, err := time.LoadLocation(s.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("sync.timezone: %w", err))
	}

	if s.DefaultLookbackDays < minLookbackDays {
		errs = append(errs, fmt.Errorf("sync.default_lookback_days: must be at least %d, got %d", minLookbackDays, s.DefaultLookbackDays))
	}

	if s.MaxConcurrentAccounts < 0 {
		errs = append(errs, fmt.Errorf("sync.max_concurrent_accounts: must not be negative, got %d", s.MaxConcurrentAccounts))
	}

	errs = appendDurationErr(errs, "sync.watch_interval", s.WatchInterval, minWatchInterval)

	return errs
}

func validateAccounts(accounts map[string]Account) []error {
	var errs []error

	for name, a := range accounts {
		prefix := "account." + name

		if !accountNamePattern.MatchString(name) {
			errs = append(errs, fmt.Errorf("%s: name may only contain letters, digits, '-' and '_'", prefix))
		}

		if a.ClientID == "" {
			errs = append(errs, fmt.Errorf("%s.client_id: must not be empty", prefix))
		}

		if a.ClientSecret == "" {
			errs = append(errs, fmt.Errorf("%s.client_secret: must not be empty", prefix))
		}

		if a.Database != "" {
			if _, _, err := store.ParseDSN(a.Database); err != nil {
				errs = append(errs, fmt.Errorf("%s.database: %w", prefix, err))
			}
		}

		if a.OldestInvoiceDate != "" {
			if _, err := invoice.ParseDay(a.OldestInvoiceDate); err != nil {
				errs = append(errs, fmt.Errorf("%s.oldest_invoice_date: %w", prefix, err))
			}
		}
	}

	return errs
}

func appendDurationErr(errs []error, key, value string, minimum time.Duration) []error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return append(errs, fmt.Errorf("%s: invalid duration %q", key, value))
	}

	if d < minimum {
		return append(errs, fmt.Errorf("%s: must be at least %s, got %s", key, minimum, d))
	}

	return errs
}
