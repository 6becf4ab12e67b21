// Package sync implements the per-account synchronization engine for
// eta-fetcher and the scheduler that runs it for many accounts at once.
// One run walks a fixed phase sequence: retry the failures of earlier runs,
// reconcile statuses that may still change remotely, discover new documents
// day by day, then persist the cursor and the failure queues.
package sync

import (
	"context"
	"time"

	"github.com/MSBasha93/ETA-Invetcher/internal/config"
	"github.com/MSBasha93/ETA-Invetcher/internal/eta"
	"github.com/MSBasha93/ETA-Invetcher/internal/invoice"
	"github.com/MSBasha93/ETA-Invetcher/internal/store"
)

// DocumentAPI is the registry surface the engine needs. Satisfied by
// *eta.Client.
type DocumentAPI interface {
	Search(ctx context.Context, q eta.SearchQuery) (*eta.SearchPage, error)
	Document(ctx context.Context, uuid string) (*invoice.Document, error)
}

// Authenticator obtains a bearer token. Satisfied by *eta.Session.
type Authenticator interface {
	Token(ctx context.Context) (string, error)
}

// Store is the storage surface the engine needs. Satisfied by both
// store backends.
type Store interface {
	ExistsBatch(ctx context.Context, ids []string, partition invoice.Direction) (map[string]bool, error)
	Begin(ctx context.Context) (store.Tx, error)
	UpdateStatus(ctx context.Context, uuid, status, reason string, partition invoice.Direction) error
	GetCursor(ctx context.Context, account string) (store.Cursor, bool, error)
	SetCursor(ctx context.Context, account string, c store.Cursor) error
	MutableDocuments(ctx context.Context, partition invoice.Direction, now time.Time) ([]store.MutableDoc, error)
	Close() error
}

// StateSaver persists the engine-written half of the account record.
// Satisfied by *config.StateDir.
type StateSaver interface {
	SaveState(account string, st config.State) error
}

// Recorder receives run counters. A nil Recorder records nothing.
type Recorder interface {
	DocumentsStored(account string, partition invoice.Direction, n int)
	StatusUpdated(account string, n int)
	QueueSizes(account string, retry, skipped int)
	RunFinished(account string, phase string, d time.Duration)
}

// Phase is the engine's position in its run sequence.
type Phase int

// Phases in the order a run walks them. Done, Cancelled and Failed are
// terminal.
const (
	PhaseIdle Phase = iota
	PhaseInit
	PhaseRetryQueue
	PhaseReconcile
	PhaseDiscovery
	PhaseFinalize
	PhaseDone
	PhaseCancelled
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseInit:
		return "init"
	case PhaseRetryQueue:
		return "retry_queue"
	case PhaseReconcile:
		return "reconcile"
	case PhaseDiscovery:
		return "discovery"
	case PhaseFinalize:
		return "finalize"
	case PhaseDone:
		return "done"
	case PhaseCancelled:
		return "cancelled"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether a run in this phase has ended.
func (p Phase) Terminal() bool {
	return p == PhaseDone || p == PhaseCancelled || p == PhaseFailed
}

// RunOpts holds per-run options for RunOnce. Zero From/To fall back to the
// cursor-derived start and today.
type RunOpts struct {
	From time.Time
	To   time.Time
}

// SyncReport summarizes one account run.
type SyncReport struct {
	Account string
	RunID   string
	Phase   Phase

	From time.Time
	To   time.Time

	NewDocuments   int
	Resolved       int // retry entries and windows cleared this run
	StatusUpdates  int
	RetryQueue     int
	SkippedWindows int
	DaysProcessed  int
	CursorAdvanced bool

	Duration time.Duration
}
