package sync

import (
	"context"
	"time"
)

// EventKind classifies an Event.
type EventKind int

// Event kinds.
const (
	EventLog EventKind = iota
	EventProgress
	EventAccountStatus
	EventComplete
)

func (k EventKind) String() string {
	switch k {
	case EventLog:
		return "log"
	case EventProgress:
		return "progress"
	case EventAccountStatus:
		return "account_status"
	case EventComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// Event is one progress notification. Every engine of a scheduler run
// writes into the same channel, which the caller owns and drains.
type Event struct {
	Kind    EventKind
	Account string
	RunID   string
	Time    time.Time

	Message string
	Percent float64
	Phase   Phase

	// Set on the terminal AccountStatus event only.
	Report *SyncReport
	Err    error
}

// emitter stamps and sends events for one account run. A nil channel drops
// everything.
type emitter struct {
	ch      chan<- Event
	account string
	runID   string
	nowFunc func() time.Time
}

// send delivers an informational event, giving up when ctx ends.
func (em *emitter) send(ctx context.Context, ev Event) {
	if em == nil || em.ch == nil {
		return
	}

	em.stamp(&ev)

	select {
	case em.ch <- ev:
	case <-ctx.Done():
	}
}

func (em *emitter) stamp(ev *Event) {
	if ev.Account == "" {
		ev.Account = em.account
	}

	if ev.RunID == "" {
		ev.RunID = em.runID
	}

	ev.Time = em.nowFunc()
}

func (em *emitter) log(ctx context.Context, msg string) {
	em.send(ctx, Event{Kind: EventLog, Message: msg})
}

func (em *emitter) progress(ctx context.Context, phase Phase, pct float64, msg string) {
	em.send(ctx, Event{Kind: EventProgress, Phase: phase, Percent: pct, Message: msg})
}

func (em *emitter) phase(ctx context.Context, p Phase) {
	em.send(ctx, Event{Kind: EventAccountStatus, Phase: p, Message: p.String()})
}
