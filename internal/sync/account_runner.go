package sync

import (
	"context"
	"fmt"
	"time"
)

// Backoff durations for consecutive failures in watch mode.
// Threshold: 3 consecutive failures before any backoff is applied.
const (
	backoffThreshold = 3
	backoffMaxCap    = 1 * time.Hour
)

// backoffSteps maps consecutive failure counts (starting at the threshold)
// to their backoff durations: 3→1m, 4→5m, 5→15m, 6+→1h.
var backoffSteps = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	backoffMaxCap,
}

// AccountReport is the terminal result of one account in a scheduler run.
// Report is set whenever the engine got far enough to produce one, even
// when Err is also set.
type AccountReport struct {
	Account string
	Report  *SyncReport
	Err     error
}

// Phase returns the report's terminal phase, PhaseFailed when there is no
// report.
func (r *AccountReport) Phase() Phase {
	if r.Report == nil {
		return PhaseFailed
	}

	return r.Report.Phase
}

// AccountRunner runs one account's sync with panic recovery, so a panic or
// error in one account never reaches the others.
type AccountRunner struct {
	account string
}

// run executes fn with panic recovery. fn is a closure binding
// engine.RunOnce so tests can exercise recovery without real engines.
func (ar *AccountRunner) run(ctx context.Context, fn func(context.Context) (*SyncReport, error)) (result *AccountReport) {
	result = &AccountReport{Account: ar.account}

	defer func() {
		if r := recover(); r != nil {
			result.Report = nil
			result.Err = fmt.Errorf("sync: panic in account %s: %v", ar.account, r)
		}
	}()

	report, err := fn(ctx)
	result.Report = report
	result.Err = err

	return result
}

// backoffDuration returns the backoff duration for the given number of
// consecutive failures. Returns 0 for fewer than backoffThreshold failures.
func backoffDuration(failures int) time.Duration {
	if failures < backoffThreshold {
		return 0
	}

	idx := failures - backoffThreshold
	if idx >= len(backoffSteps) {
		return backoffMaxCap
	}

	return backoffSteps[idx]
}
