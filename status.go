package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/MSBasha93/ETA-Invetcher/internal/config"
	"github.com/MSBasha93/ETA-Invetcher/internal/invoice"
	"github.com/MSBasha93/ETA-Invetcher/internal/store"
	"github.com/MSBasha93/ETA-Invetcher/internal/sync"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [account...]",
		Short: "Show cursor, retry queue and skipped windows per account",
		Long: `Display the sync position of each account.

Reads the state file and the account's database. A SQLite database that does
not exist yet is reported as never synced rather than created.`,
		RunE: runStatus,
	}
}

// accountStatus is the JSON schema for one account in `status --json`.
type accountStatus struct {
	Account           string               `json:"account"`
	Database          string               `json:"database"`
	Synced            bool                 `json:"synced"`
	Cursor            *time.Time           `json:"cursor,omitempty"`
	CursorUUID        string               `json:"cursor_uuid,omitempty"`
	Received          int                  `json:"received"`
	Sent              int                  `json:"sent"`
	OldestInvoiceDate string               `json:"oldest_invoice_date,omitempty"`
	RetryQueue        []invoice.RetryEntry `json:"retry_queue"`
	SkippedWindows    []string             `json:"skipped_windows"`
	StateUpdatedAt    *time.Time           `json:"state_updated_at,omitempty"`
	Error             string               `json:"error,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())

	accounts, err := selectAccounts(cc.Cfg.Config, args)
	if err != nil {
		return err
	}

	states := config.NewStateDir(cc.Cfg.DataDir)
	statuses := make([]accountStatus, 0, len(accounts))

	for _, acct := range accounts {
		statuses = append(statuses, buildAccountStatus(cmd.Context(), cc.Cfg.DataDir, states, acct, cc.Logger))
	}

	if cc.Flags.JSON {
		return printJSON(os.Stdout, statuses)
	}

	printStatusText(statuses, cc.Cfg.Sync.Location())

	return nil
}

func buildAccountStatus(ctx context.Context, dataDir string, states *config.StateDir, acct config.Account, logger *slog.Logger) accountStatus {
	dsn := config.DatabaseDSN(dataDir, acct)
	st := accountStatus{
		Account:        acct.Name,
		Database:       store.Redact(dsn),
		RetryQueue:     []invoice.RetryEntry{},
		SkippedWindows: []string{},
	}

	state, err := states.LoadState(acct.Name)
	if err != nil {
		st.Error = err.Error()
		return st
	}

	st.RetryQueue = append(st.RetryQueue, state.RetryQueue...)
	for _, w := range state.SkippedWindows {
		st.SkippedWindows = append(st.SkippedWindows, w.String())
	}

	if oldest, err := config.OldestInvoiceDate(acct, state); err == nil && !oldest.IsZero() {
		st.OldestInvoiceDate = oldest.Format(invoice.DateLayout)
	}

	if !state.UpdatedAt.IsZero() {
		updated := state.UpdatedAt
		st.StateUpdatedAt = &updated
	}

	if err := readStoreStatus(ctx, dsn, acct, &st, logger); err != nil {
		st.Error = err.Error()
	}

	return st
}

// readStoreStatus fills the cursor and document counts. A missing SQLite
// file means the account never synced.
func readStoreStatus(ctx context.Context, dsn string, acct config.Account, st *accountStatus, logger *slog.Logger) error {
	kind, target, err := store.ParseDSN(dsn)
	if err != nil {
		return err
	}

	if kind == store.KindSQLite {
		if _, err := os.Stat(target); errors.Is(err, os.ErrNotExist) {
			return nil
		}
	}

	backend, err := store.Open(ctx, dsn, logger)
	if err != nil {
		return err
	}
	defer backend.Close()

	cursor, ok, err := backend.GetCursor(ctx, sync.CursorKey(acct))
	if err != nil {
		return err
	}

	if ok {
		st.Synced = true
		st.Cursor = &cursor.Timestamp
		st.CursorUUID = cursor.UUID
	}

	if st.Received, err = backend.Count(ctx, invoice.Inbound); err != nil {
		return err
	}

	if st.Sent, err = backend.Count(ctx, invoice.Outbound); err != nil {
		return err
	}

	return nil
}

func printStatusText(statuses []accountStatus, loc *time.Location) {
	for i, st := range statuses {
		if i > 0 {
			fmt.Println()
		}

		fmt.Printf("Account: %s\n", st.Account)
		fmt.Printf("  Database:        %s\n", st.Database)

		if st.Cursor != nil {
			fmt.Printf("  Cursor:          %s (%s)\n", formatTime(*st.Cursor, loc), st.CursorUUID)
		} else {
			fmt.Printf("  Cursor:          never synced\n")
		}

		fmt.Printf("  Documents:       %d received, %d sent\n", st.Received, st.Sent)

		if st.OldestInvoiceDate != "" {
			fmt.Printf("  Oldest invoice:  %s\n", st.OldestInvoiceDate)
		}

		fmt.Printf("  Retry queue:     %d\n", len(st.RetryQueue))
		fmt.Printf("  Skipped windows: %d\n", len(st.SkippedWindows))

		for _, w := range st.SkippedWindows {
			fmt.Printf("    %s\n", w)
		}

		if st.Error != "" {
			fmt.Printf("  Error:           %s\n", st.Error)
		}
	}
}
