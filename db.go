package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/MSBasha93/ETA-Invetcher/internal/config"
	"github.com/MSBasha93/ETA-Invetcher/internal/invoice"
	"github.com/MSBasha93/ETA-Invetcher/internal/store"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Check or create account databases",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "test [account...]",
		Short: "Connect to each account database and apply pending migrations",
		RunE:  runDBTest,
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "create <account>",
		Short: "Create the account's PostgreSQL database on its server",
		Long: `Connect to the "postgres" maintenance database on the server named in the
account's DSN and create the account database. An existing database is
reported, not treated as an error. SQLite databases are created on first use
and need no separate step.`,
		Args: cobra.ExactArgs(1),
		RunE: runDBCreate,
	})

	return cmd
}

// dbResult is the JSON schema for one account in `db test --json`.
type dbResult struct {
	Account  string `json:"account"`
	Backend  string `json:"backend"`
	Database string `json:"database"`
	OK       bool   `json:"ok"`
	Received int    `json:"received"`
	Sent     int    `json:"sent"`
	Error    string `json:"error,omitempty"`
}

func runDBTest(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())

	accounts, err := selectAccounts(cc.Cfg.Config, args)
	if err != nil {
		return err
	}

	results := make([]dbResult, 0, len(accounts))
	failed := 0

	for _, acct := range accounts {
		res := testDatabase(cmd.Context(), cc, acct)
		if !res.OK {
			failed++
		}

		results = append(results, res)
	}

	if cc.Flags.JSON {
		if err := printJSON(os.Stdout, results); err != nil {
			return err
		}
	} else {
		for _, r := range results {
			if r.OK {
				fmt.Printf("%s: ok (%s %s, %d received, %d sent)\n", r.Account, r.Backend, r.Database, r.Received, r.Sent)
			} else {
				fmt.Printf("%s: failed (%s): %s\n", r.Account, r.Database, r.Error)
			}
		}
	}

	if failed > 0 {
		return errAccountsFailed
	}

	return nil
}

func testDatabase(ctx context.Context, cc *CLIContext, acct config.Account) dbResult {
	dsn := config.DatabaseDSN(cc.Cfg.DataDir, acct)
	res := dbResult{Account: acct.Name, Database: store.Redact(dsn)}

	kind, _, err := store.ParseDSN(dsn)
	if err != nil {
		res.Error = err.Error()
		return res
	}

	res.Backend = string(kind)

	backend, err := store.Open(ctx, dsn, cc.Logger)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	defer backend.Close()

	if err := backend.Ping(ctx); err != nil {
		res.Error = err.Error()
		return res
	}

	if res.Received, err = backend.Count(ctx, invoice.Inbound); err != nil {
		res.Error = err.Error()
		return res
	}

	if res.Sent, err = backend.Count(ctx, invoice.Outbound); err != nil {
		res.Error = err.Error()
		return res
	}

	res.OK = true

	return res
}

func runDBCreate(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())

	accounts, err := selectAccounts(cc.Cfg.Config, args)
	if err != nil {
		return err
	}

	dsn := config.DatabaseDSN(cc.Cfg.DataDir, accounts[0])

	kind, _, err := store.ParseDSN(dsn)
	if err != nil {
		return err
	}

	if kind != store.KindPostgres {
		cc.Statusf("%s uses SQLite (%s); it is created on first sync.\n", accounts[0].Name, dsn)
		return nil
	}

	created, err := store.CreateDatabase(cmd.Context(), dsn)
	if err != nil {
		return err
	}

	if created {
		cc.Statusf("Created database %s.\n", store.Redact(dsn))
	} else {
		cc.Statusf("Database %s already exists.\n", store.Redact(dsn))
	}

	return nil
}
