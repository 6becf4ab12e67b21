package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/MSBasha93/ETA-Invetcher/internal/sync"
)

// reportJSON is the JSON schema for one account in `sync --json`.
type reportJSON struct {
	Account        string  `json:"account"`
	Phase          string  `json:"phase"`
	Error          string  `json:"error,omitempty"`
	From           string  `json:"from,omitempty"`
	To             string  `json:"to,omitempty"`
	NewDocuments   int     `json:"new_documents"`
	Resolved       int     `json:"resolved"`
	StatusUpdates  int     `json:"status_updates"`
	RetryQueue     int     `json:"retry_queue"`
	SkippedWindows int     `json:"skipped_windows"`
	DaysProcessed  int     `json:"days_processed"`
	CursorAdvanced bool    `json:"cursor_advanced"`
	DurationSecs   float64 `json:"duration_seconds"`
}

func reportsJSON(reports []*sync.AccountReport) []reportJSON {
	out := make([]reportJSON, 0, len(reports))

	for _, r := range reports {
		entry := reportJSON{Account: r.Account, Phase: r.Phase().String()}
		if r.Err != nil {
			entry.Error = r.Err.Error()
		}

		if rep := r.Report; rep != nil {
			entry.From = formatDay(rep.From)
			entry.To = formatDay(rep.To)
			entry.NewDocuments = rep.NewDocuments
			entry.Resolved = rep.Resolved
			entry.StatusUpdates = rep.StatusUpdates
			entry.RetryQueue = rep.RetryQueue
			entry.SkippedWindows = rep.SkippedWindows
			entry.DaysProcessed = rep.DaysProcessed
			entry.CursorAdvanced = rep.CursorAdvanced
			entry.DurationSecs = rep.Duration.Seconds()
		}

		out = append(out, entry)
	}

	return out
}

// printReports writes one row per account, then the error of every failed
// account on its own line.
func printReports(w io.Writer, reports []*sync.AccountReport) {
	headers := []string{"ACCOUNT", "PHASE", "RANGE", "NEW", "UPDATED", "RETRY", "SKIPPED", "DURATION"}
	rows := make([][]string, 0, len(reports))

	var failed []*sync.AccountReport

	for _, r := range reports {
		if r.Err != nil {
			failed = append(failed, r)
		}

		rep := r.Report
		if rep == nil {
			rows = append(rows, []string{r.Account, r.Phase().String(), "-", "-", "-", "-", "-", "-"})
			continue
		}

		rows = append(rows, []string{
			r.Account,
			r.Phase().String(),
			formatDay(rep.From) + ".." + formatDay(rep.To),
			strconv.Itoa(rep.NewDocuments),
			strconv.Itoa(rep.StatusUpdates),
			strconv.Itoa(rep.RetryQueue),
			strconv.Itoa(rep.SkippedWindows),
			formatDuration(rep.Duration),
		})
	}

	printTable(w, headers, rows)

	if len(failed) > 0 {
		fmt.Fprintln(w)
	}

	for _, r := range failed {
		fmt.Fprintf(w, "%s: %v\n", r.Account, r.Err)
	}
}
