package main

import (
	"fmt"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/MSBasha93/ETA-Invetcher/internal/config"
	"github.com/MSBasha93/ETA-Invetcher/internal/store"
)

func newAccountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Inspect configured accounts",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List configured accounts and where their documents are stored",
		RunE:  runAccountList,
	})

	return cmd
}

// accountListEntry is the JSON schema for `account list --json`.
type accountListEntry struct {
	Name     string `json:"name"`
	ClientID string `json:"client_id"`
	TaxID    string `json:"tax_id,omitempty"`
	Database string `json:"database"`
	Disabled bool   `json:"disabled,omitempty"`
}

func runAccountList(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	entries := listAccounts(cc.Cfg)
	if cc.Flags.JSON {
		return printJSON(os.Stdout, entries)
	}

	if len(entries) == 0 {
		cc.Statusf("No accounts configured in %s\n", cc.Cfg.Path)
		return nil
	}

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		state := "enabled"
		if e.Disabled {
			state = "disabled"
		}

		rows = append(rows, []string{e.Name, e.ClientID, e.TaxID, state, e.Database})
	}

	printTable(os.Stdout, []string{"NAME", "CLIENT ID", "TAX ID", "STATE", "DATABASE"}, rows)

	return nil
}

// listAccounts includes disabled accounts, sorted by name, with database
// credentials redacted.
func listAccounts(cfg *config.Resolved) []accountListEntry {
	names := make([]string, 0, len(cfg.Accounts))
	for name := range cfg.Accounts {
		names = append(names, name)
	}

	slices.Sort(names)

	entries := make([]accountListEntry, 0, len(names))
	for _, name := range names {
		a := cfg.Accounts[name]
		a.Name = name
		entries = append(entries, accountListEntry{
			Name:     name,
			ClientID: a.ClientID,
			TaxID:    a.TaxID,
			Database: store.Redact(config.DatabaseDSN(cfg.DataDir, a)),
			Disabled: a.Disabled,
		})
	}

	return entries
}

// selectAccounts returns the named accounts, or every enabled account when
// names is empty. Naming a disabled account selects it anyway.
func selectAccounts(cfg *config.Config, names []string) ([]config.Account, error) {
	if len(names) == 0 {
		accounts := cfg.AccountList()
		if len(accounts) == 0 {
			return nil, fmt.Errorf("no enabled accounts configured")
		}

		return accounts, nil
	}

	accounts := make([]config.Account, 0, len(names))
	for _, name := range names {
		a, ok := cfg.Accounts[name]
		if !ok {
			return nil, fmt.Errorf("account %q not found in config", name)
		}

		a.Name = name
		accounts = append(accounts, a)
	}

	return accounts, nil
}
