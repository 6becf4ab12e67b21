// Package notify forwards sync progress events to NATS so dashboards and
// other consumers can follow long backfills.
package notify

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/MSBasha93/ETA-Invetcher/internal/invoice"
	"github.com/MSBasha93/ETA-Invetcher/internal/sync"
)

const flushTimeout = 5 * time.Second

// allAccounts is the subject token for events that belong to no account.
const allAccounts = "all"

// conn is the slice of *nats.Conn the publisher uses.
type conn interface {
	PublishMsg(m *nats.Msg) error
	FlushTimeout(timeout time.Duration) error
	Close()
}

// NATSPublisher publishes every event as JSON on
// <subject>.<account>.<kind>.
type NATSPublisher struct {
	nc      conn
	subject string
	logger  *slog.Logger
}

// Connect dials url and returns a publisher rooted at subject.
func Connect(url, subject string, logger *slog.Logger) (*NATSPublisher, error) {
	if subject == "" {
		return nil, errors.New("notify: empty subject")
	}

	nc, err := nats.Connect(url,
		nats.Name("eta-fetcher"),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("notify: connecting to %s: %w", url, err)
	}

	return newPublisher(nc, subject, logger), nil
}

func newPublisher(nc conn, subject string, logger *slog.Logger) *NATSPublisher {
	return &NATSPublisher{nc: nc, subject: subject, logger: logger}
}

// payload is the wire form of an event.
type payload struct {
	Kind    string    `json:"kind"`
	Account string    `json:"account,omitempty"`
	RunID   string    `json:"run_id,omitempty"`
	Time    time.Time `json:"time"`
	Message string    `json:"message,omitempty"`
	Percent float64   `json:"percent,omitempty"`
	Phase   string    `json:"phase,omitempty"`
	Error   string    `json:"error,omitempty"`
	Report  *report   `json:"report,omitempty"`
}

type report struct {
	From           string  `json:"from"`
	To             string  `json:"to"`
	NewDocuments   int     `json:"new_documents"`
	Resolved       int     `json:"resolved"`
	StatusUpdates  int     `json:"status_updates"`
	RetryQueue     int     `json:"retry_queue"`
	SkippedWindows int     `json:"skipped_windows"`
	DaysProcessed  int     `json:"days_processed"`
	CursorAdvanced bool    `json:"cursor_advanced"`
	DurationSecs   float64 `json:"duration_seconds"`
}

// Subject returns the subject ev is published on.
func (p *NATSPublisher) Subject(ev sync.Event) string {
	account := ev.Account
	if account == "" {
		account = allAccounts
	}

	return p.subject + "." + account + "." + ev.Kind.String()
}

// Publish sends one event. Log events are forwarded too.
func (p *NATSPublisher) Publish(ev sync.Event) error {
	data, err := json.Marshal(toPayload(ev))
	if err != nil {
		return fmt.Errorf("notify: encoding event: %w", err)
	}

	msg := nats.NewMsg(p.Subject(ev))
	msg.Data = data

	if ev.RunID != "" {
		// JetStream deduplicates on this header when a stream captures the subject.
		msg.Header.Set(nats.MsgIdHdr, ev.RunID+"-"+strconv.FormatInt(ev.Time.UnixNano(), 10)+"-"+ev.Kind.String())
	}

	if err := p.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("notify: publishing to %s: %w", msg.Subject, err)
	}

	return nil
}

// Close flushes pending messages and closes the connection.
func (p *NATSPublisher) Close() {
	if err := p.nc.FlushTimeout(flushTimeout); err != nil {
		p.logger.Warn("flushing NATS connection", slog.String("error", err.Error()))
	}

	p.nc.Close()
}

func toPayload(ev sync.Event) payload {
	out := payload{
		Kind:    ev.Kind.String(),
		Account: ev.Account,
		RunID:   ev.RunID,
		Time:    ev.Time.UTC(),
		Message: ev.Message,
		Percent: ev.Percent,
	}

	if ev.Kind == sync.EventProgress || ev.Kind == sync.EventAccountStatus {
		out.Phase = ev.Phase.String()
	}

	if ev.Err != nil {
		out.Error = ev.Err.Error()
	}

	if r := ev.Report; r != nil {
		out.Report = &report{
			From:           r.From.Format(invoice.DateLayout),
			To:             r.To.Format(invoice.DateLayout),
			NewDocuments:   r.NewDocuments,
			Resolved:       r.Resolved,
			StatusUpdates:  r.StatusUpdates,
			RetryQueue:     r.RetryQueue,
			SkippedWindows: r.SkippedWindows,
			DaysProcessed:  r.DaysProcessed,
			CursorAdvanced: r.CursorAdvanced,
			DurationSecs:   r.Duration.Seconds(),
		}
	}

	return out
}
