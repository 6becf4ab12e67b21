package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MSBasha93/ETA-Invetcher/internal/config"
)

func TestLogLevel(t *testing.T) {
	tests := []struct {
		name     string
		cfgLevel string
		flags    CLIFlags
		want     slog.Level
	}{
		{"default", "", CLIFlags{}, slog.LevelInfo},
		{"config debug", "debug", CLIFlags{}, slog.LevelDebug},
		{"config warn", "warn", CLIFlags{}, slog.LevelWarn},
		{"config error", "error", CLIFlags{}, slog.LevelError},
		{"verbose beats config", "error", CLIFlags{Verbose: true}, slog.LevelDebug},
		{"quiet beats config", "debug", CLIFlags{Quiet: true}, slog.LevelError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolved := &config.Resolved{Config: config.DefaultConfig()}
			resolved.LogLevel = tt.cfgLevel

			assert.Equal(t, tt.want, logLevel(resolved, tt.flags))
		})
	}
}

func TestLogLevel_NilConfig(t *testing.T) {
	assert.Equal(t, slog.LevelInfo, logLevel(nil, CLIFlags{}))
	assert.Equal(t, slog.LevelError, logLevel(nil, CLIFlags{Quiet: true}))
}

func TestNewLogHandler_TextOnTerminalJSONOtherwise(t *testing.T) {
	var text, js bytes.Buffer

	slog.New(newLogHandler(&text, true, slog.LevelInfo)).Info("hello", slog.String("account", "acme"))
	slog.New(newLogHandler(&js, false, slog.LevelInfo)).Info("hello", slog.String("account", "acme"))

	assert.Contains(t, text.String(), "account=acme")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(js.Bytes(), &rec))
	assert.Equal(t, "hello", rec["msg"])
	assert.Equal(t, "acme", rec["account"])

	h := newLogHandler(&js, false, slog.LevelWarn)
	assert.False(t, h.Enabled(context.Background(), slog.LevelInfo))
}

func TestMustCLIContext_PanicsWithoutRootPreRun(t *testing.T) {
	assert.Panics(t, func() { mustCLIContext(context.Background()) })
}

func TestNewRootCmd_Subcommands(t *testing.T) {
	cmd := newRootCmd()

	expected := []string{"sync", "status", "probe", "auth", "db", "account", "config", "reload"}
	for _, name := range expected {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, sub.Name())
	}

	for _, path := range [][]string{{"auth", "test"}, {"db", "test"}, {"db", "create"}, {"account", "list"}, {"config", "show"}} {
		sub, _, err := cmd.Find(path)
		require.NoError(t, err)
		assert.Equal(t, path[1], sub.Name())
	}
}

func TestNewRootCmd_PersistentFlags(t *testing.T) {
	cmd := newRootCmd()

	for _, name := range []string{"config", "data-dir", "json", "verbose", "quiet"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), "expected persistent flag %q", name)
	}
}

func TestNewRootCmd_VerboseQuietExclusive(t *testing.T) {
	_, err := execute(t, "--verbose", "--quiet", "account", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "none of the others can be")
}

func TestNewRootCmd_LoadsConfigIntoContext(t *testing.T) {
	dataDir := t.TempDir()
	cfgPath := writeTestConfig(t, "http://127.0.0.1:1",
		testAccount{name: "acme", clientID: "cid-acme", secret: "s"},
		testAccount{name: "globex", clientID: "cid-globex", secret: "s", database: "postgres://eta:hunter2@db/globex"},
	)

	out, err := execute(t, "--config", cfgPath, "--data-dir", dataDir, "--json", "account", "list")
	require.NoError(t, err)

	var entries []accountListEntry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 2)

	assert.Equal(t, "acme", entries[0].Name)
	assert.Equal(t, filepath.Join(dataDir, "db", "acme.db"), entries[0].Database)
	assert.Equal(t, "globex", entries[1].Name)
	assert.NotContains(t, entries[1].Database, "hunter2")
}

func TestNewRootCmd_InvalidConfigFails(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("[sync]\ntimezon = \"UTC\"\n"), 0o600))

	_, err := execute(t, "--config", cfgPath, "--data-dir", t.TempDir(), "account", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loading config")
	assert.Contains(t, err.Error(), "timezone")
}

func TestNewRootCmd_EnvDataDir(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv(config.EnvDataDir, dataDir)
	t.Setenv(config.EnvConfig, writeTestConfig(t, "http://127.0.0.1:1", testAccount{name: "acme", clientID: "c", secret: "s"}))

	out, err := execute(t, "--json", "account", "list")
	require.NoError(t, err)
	assert.Contains(t, out, filepath.Join(dataDir, "db", "acme.db"))
}
