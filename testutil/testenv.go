// Package testutil provides shared environment helpers for the E2E suite.
// It depends only on stdlib so that E2E tests, which drive the built binary
// and cannot import internal/, can use it.
package testutil

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Environment consumed by the E2E suite.
const (
	EnvClientID       = "ETA_E2E_CLIENT_ID"
	EnvClientSecret   = "ETA_E2E_CLIENT_SECRET"
	EnvBaseURL        = "ETA_E2E_BASE_URL"
	EnvTokenURL       = "ETA_E2E_TOKEN_URL"
	EnvAllowedClients = "ETA_E2E_ALLOWED_CLIENTS"
)

// LoadDotEnv reads KEY=VALUE pairs from a .env file at the given path.
// Missing file is not an error (CI sets env vars directly).
// Existing env vars take precedence over .env values.
func LoadDotEnv(envPath string) {
	f, err := os.Open(envPath)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}

		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), "\"'")

		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}

// Credentials are the taxpayer credentials the E2E suite syncs with.
type Credentials struct {
	ClientID     string
	ClientSecret string
	BaseURL      string // empty means the production default
	TokenURL     string
}

// RequireCredentials reads the E2E credentials and crashes the process when
// they are missing or the client id is not in ETA_E2E_ALLOWED_CLIENTS. The
// allowlist keeps a stray .env from syncing a production taxpayer.
func RequireCredentials() Credentials {
	creds := Credentials{
		ClientID:     os.Getenv(EnvClientID),
		ClientSecret: os.Getenv(EnvClientSecret),
		BaseURL:      os.Getenv(EnvBaseURL),
		TokenURL:     os.Getenv(EnvTokenURL),
	}

	for key, value := range map[string]string{EnvClientID: creds.ClientID, EnvClientSecret: creds.ClientSecret} {
		if value == "" {
			fatalf("FATAL: %s not set\nSet it in .env or as an environment variable.\n", key)
		}
	}

	allowlist := os.Getenv(EnvAllowedClients)
	if allowlist == "" {
		fatalf("FATAL: %s not set\nExample: %s=<client id>[,<client id>...]\n", EnvAllowedClients, EnvAllowedClients)
	}

	if !InAllowlist(allowlist, creds.ClientID) {
		fatalf("FATAL: %s=%q is not in %s=%q\n", EnvClientID, creds.ClientID, EnvAllowedClients, allowlist)
	}

	return creds
}

// InAllowlist reports whether id is one of the comma-separated entries.
func InAllowlist(allowlist, id string) bool {
	for _, a := range strings.Split(allowlist, ",") {
		if strings.TrimSpace(a) == id {
			return true
		}
	}

	return false
}

// FindModuleRoot walks up from the current directory to find go.mod.
// Returns the fallback if the root is not found.
func FindModuleRoot(fallback string) string {
	dir, err := os.Getwd()
	if err != nil {
		return fallback
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return fallback
		}

		dir = parent
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format, args...)
	os.Exit(1)
}
