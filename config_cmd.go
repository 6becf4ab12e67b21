package main

import (
	"fmt"
	"io"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/MSBasha93/ETA-Invetcher/internal/config"
	"github.com/MSBasha93/ETA-Invetcher/internal/store"
)

const redacted = "********"

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Display effective configuration after all overrides, secrets redacted",
		RunE:  runConfigShow,
	})

	return cmd
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	cfg := redactConfig(cc.Cfg.Config)

	if cc.Flags.JSON {
		return printJSON(os.Stdout, cfg)
	}

	return renderEffective(os.Stdout, cc.Cfg.Path, cc.Cfg.DataDir, cfg)
}

// redactConfig returns a copy with client secrets and database passwords
// masked.
func redactConfig(cfg *config.Config) *config.Config {
	out := *cfg
	out.Accounts = make(map[string]config.Account, len(cfg.Accounts))

	for name, a := range cfg.Accounts {
		if a.ClientSecret != "" {
			a.ClientSecret = redacted
		}

		if a.Database != "" {
			a.Database = store.Redact(a.Database)
		}

		out.Accounts[name] = a
	}

	return &out
}

func renderEffective(w io.Writer, path, dataDir string, cfg *config.Config) error {
	fmt.Fprintf(w, "# config file: %s\n# data dir:    %s\n\n", path, dataDir)

	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("rendering config: %w", err)
	}

	return nil
}
