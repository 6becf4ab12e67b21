package config

import (
	"errors"
	"fmt"
	"slices"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// knownKeys lists the valid keys per section. The empty section holds the
// top-level keys.
var knownKeys = map[string][]string{
	"":        {"account", "api", "log_level", "metrics", "notify", "sync"},
	"api":     {"base_url", "max_attempts", "min_request_interval", "page_size", "rate_limit_wait", "request_timeout", "token_refresh_margin", "token_url"},
	"sync":    {"default_lookback_days", "max_concurrent_accounts", "timezone", "watch_interval"},
	"notify":  {"nats_url", "subject"},
	"metrics": {"textfile"},
	"account": {"client_id", "client_secret", "database", "disabled", "oldest_invoice_date", "tax_id"},
}

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns
// an error with "did you mean?" suggestions for each unknown key.
func checkUnknownKeys(md *toml.MetaData) error {
	undecoded := md.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}

	var errs []error

	for _, key := range undecoded {
		section, field := splitKey(key)
		errs = append(errs, unknownKeyError(section, field, key.String()))
	}

	return errors.Join(errs...)
}

// splitKey maps an undecoded key to its section and leaf field. Account
// keys are "account.<name>.<field>".
func splitKey(key toml.Key) (string, string) {
	switch {
	case len(key) == 1:
		return "", key[0]
	case key[0] == "account" && len(key) >= 3:
		return "account", key[2]
	default:
		return key[0], key[1]
	}
}

func unknownKeyError(section, field, full string) error {
	known, ok := knownKeys[section]
	if !ok {
		return fmt.Errorf("unknown config section %q", section)
	}

	if suggestion := closestMatch(field, known); suggestion != "" {
		return fmt.Errorf("unknown config key %q: did you mean %q?", full, suggestion)
	}

	return fmt.Errorf("unknown config key %q", full)
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range slices.Sorted(slices.Values(known)) {
		d := levenshtein(unknown, k)
		if d < bestDist {
			bestDist = d
			best = k
		}
	}

	if bestDist <= maxLevenshteinDistance {
		return best
	}

	return ""
}

// levenshtein computes the edit distance between two strings.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	// Use single-row optimization to avoid allocating a full matrix.
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = min(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}
