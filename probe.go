package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/MSBasha93/ETA-Invetcher/internal/config"
	"github.com/MSBasha93/ETA-Invetcher/internal/invoice"
)

func newProbeCmd() *cobra.Command {
	var save bool

	cmd := &cobra.Command{
		Use:   "probe <account>",
		Short: "Find the newest and oldest document dates in the registry",
		Long: `Search backwards through 30-day windows to locate the newest document
(within 90 days) and the oldest one (within about five years).

With --save the oldest date is stored in the account's state file and used
as the start of the first sync instead of the default lookback.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProbe(cmd, args[0], save)
		},
	}

	cmd.Flags().BoolVar(&save, "save", false, "store the oldest date as the account's first sync day")

	return cmd
}

// probeResult is the JSON schema for `probe --json`.
type probeResult struct {
	Account string `json:"account"`
	Newest  string `json:"newest,omitempty"`
	Oldest  string `json:"oldest,omitempty"`
	Saved   bool   `json:"saved"`
}

func runProbe(cmd *cobra.Command, name string, save bool) error {
	cc := mustCLIContext(cmd.Context())
	ctx := shutdownContext(cmd.Context(), cc.Logger)

	accounts, err := selectAccounts(cc.Cfg.Config, []string{name})
	if err != nil {
		return err
	}

	sess := NewAccountSession(cc.Cfg, accounts[0], &http.Client{Timeout: cc.Cfg.API.Timeout()}, cc.Logger)
	now := time.Now()
	loc := cc.Cfg.Sync.Location()
	result := probeResult{Account: name}

	cc.Statusf("Probing %s for the newest document...\n", name)

	newest, found, err := sess.Client.FindNewest(ctx, now)
	if err != nil {
		return fmt.Errorf("probing newest document: %w", err)
	}

	if found {
		result.Newest = formatTime(newest, loc)
	}

	cc.Statusf("Probing %s for the oldest document...\n", name)

	oldest, found, err := sess.Client.FindOldest(ctx, now)
	if err != nil {
		return fmt.Errorf("probing oldest document: %w", err)
	}

	if found {
		result.Oldest = formatTime(oldest, loc)

		if save {
			if err := config.NewStateDir(cc.Cfg.DataDir).SetOldestInvoiceDate(name, invoice.DayOf(oldest.In(loc))); err != nil {
				return err
			}

			result.Saved = true
		}
	}

	if cc.Flags.JSON {
		return printJSON(os.Stdout, result)
	}

	printProbe(result)

	return nil
}

func printProbe(r probeResult) {
	newest, oldest := r.Newest, r.Oldest
	if newest == "" {
		newest = "none in the last 90 days"
	}

	if oldest == "" {
		oldest = "none found"
	}

	fmt.Printf("Newest document: %s\n", newest)
	fmt.Printf("Oldest document: %s\n", oldest)

	if r.Saved {
		fmt.Printf("Saved %s as the first sync day for %s.\n", r.Oldest[:len(invoice.DateLayout)], r.Account)
	}
}
