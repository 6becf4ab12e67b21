package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func newAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Check registry credentials",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "test [account...]",
		Short: "Exchange fresh tokens for the given accounts (default: all enabled)",
		RunE:  runAuthTest,
	})

	return cmd
}

// authResult is the JSON schema for one account in `auth test --json`.
type authResult struct {
	Account   string     `json:"account"`
	OK        bool       `json:"ok"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Error     string     `json:"error,omitempty"`
}

func runAuthTest(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := shutdownContext(cmd.Context(), cc.Logger)

	accounts, err := selectAccounts(cc.Cfg.Config, args)
	if err != nil {
		return err
	}

	httpClient := &http.Client{Timeout: cc.Cfg.API.Timeout()}
	results := make([]authResult, 0, len(accounts))
	failed := 0

	for _, acct := range accounts {
		sess := NewAccountSession(cc.Cfg, acct, httpClient, cc.Logger)
		res := authResult{Account: acct.Name}

		if err := sess.Auth.Test(ctx); err != nil {
			res.Error = err.Error()
			failed++
		} else {
			expiry := sess.Auth.Expiry()
			res.OK = true
			res.ExpiresAt = &expiry
		}

		results = append(results, res)
	}

	if cc.Flags.JSON {
		if err := printJSON(os.Stdout, results); err != nil {
			return err
		}
	} else {
		loc := cc.Cfg.Sync.Location()

		for _, r := range results {
			if r.OK {
				fmt.Printf("%s: ok, token valid until %s\n", r.Account, formatTime(*r.ExpiresAt, loc))
			} else {
				fmt.Printf("%s: failed: %s\n", r.Account, r.Error)
			}
		}
	}

	if failed > 0 {
		return errAccountsFailed
	}

	return nil
}
