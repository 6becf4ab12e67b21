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
	"github.com/MSBasha93/ETA-Invetcher/internal/metrics"
	"github.com/MSBasha93/ETA-Invetcher/internal/notify"
	"github.com/MSBasha93/ETA-Invetcher/internal/sync"
)

// eventBuffer lets engines run ahead of a slow terminal or NATS link.
const eventBuffer = 256

// errAccountsFailed marks a sync where at least one account failed. Each
// failure has already been printed.
var errAccountsFailed = errors.New("one or more accounts failed")

type syncFlags struct {
	from     string
	to       string
	watch    bool
	interval time.Duration
}

func newSyncCmd() *cobra.Command {
	var flags syncFlags

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Pull new and changed documents for every enabled account",
		Long: `Run one sync cycle for every enabled account, concurrently.

Each account resumes from its cursor: queued retries first, then status
reconciliation of documents still inside their cancel/reject window, then
day-by-day discovery of received and sent documents up to today.

Use --from/--to to sync an explicit date range instead. Use --watch to keep
running, repeating the cycle every sync.watch_interval and reloading the
config when the file changes or on SIGHUP (see 'eta-fetcher reload').`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSync(cmd.Context(), mustCLIContext(cmd.Context()), flags)
		},
	}

	cmd.Flags().StringVar(&flags.from, "from", "", "first day to sync (YYYY-MM-DD), overrides the cursor")
	cmd.Flags().StringVar(&flags.to, "to", "", "last day to sync (YYYY-MM-DD), defaults to today")
	cmd.Flags().BoolVar(&flags.watch, "watch", false, "keep syncing every watch interval")
	cmd.Flags().DurationVar(&flags.interval, "interval", 0, "override sync.watch_interval in watch mode")

	cmd.MarkFlagsMutuallyExclusive("watch", "from")
	cmd.MarkFlagsMutuallyExclusive("watch", "to")

	return cmd
}

// parseRange turns --from/--to into run options. Either may be empty.
func parseRange(from, to string) (sync.RunOpts, error) {
	var opts sync.RunOpts

	if from != "" {
		day, err := invoice.ParseDay(from)
		if err != nil {
			return opts, fmt.Errorf("--from: %w", err)
		}

		opts.From = day
	}

	if to != "" {
		day, err := invoice.ParseDay(to)
		if err != nil {
			return opts, fmt.Errorf("--to: %w", err)
		}

		opts.To = day
	}

	if !opts.From.IsZero() && !opts.To.IsZero() && opts.From.After(opts.To) {
		return opts, fmt.Errorf("--from %s is after --to %s", from, to)
	}

	return opts, nil
}

func runSync(ctx context.Context, cc *CLIContext, flags syncFlags) error {
	opts, err := parseRange(flags.from, flags.to)
	if err != nil {
		return err
	}

	cfg := cc.Cfg
	if len(cfg.AccountList()) == 0 {
		return fmt.Errorf("no enabled accounts in %s", cfg.Path)
	}

	ctx = shutdownContext(ctx, cc.Logger)

	sink := newEventSink(cc, flags.watch)
	defer sink.close()

	var recorder sync.Recorder
	if sink.metrics != nil {
		recorder = sink.metrics
	}

	events := make(chan sync.Event, eventBuffer)
	drained := make(chan struct{})

	go func() {
		defer close(drained)

		for ev := range events {
			sink.handle(ev)
		}
	}()

	orchCfg := &sync.OrchestratorConfig{
		Holder:  config.NewHolder(cfg.Config, cfg.Path),
		DataDir: cfg.DataDir,
		Events:  events,
		Metrics: recorder,
		Logger:  cc.Logger,
	}

	if flags.watch {
		err = runWatch(ctx, cc, orchCfg, flags.interval)
		close(events)
		<-drained

		return err
	}

	reports := sync.NewOrchestrator(orchCfg).RunOnce(ctx, opts)
	close(events)
	<-drained

	if cc.Flags.JSON {
		if err := printJSON(os.Stdout, reportsJSON(reports)); err != nil {
			return err
		}
	} else {
		printReports(os.Stdout, reports)
	}

	for _, r := range reports {
		if r.Err != nil {
			return errAccountsFailed
		}
	}

	return nil
}

func runWatch(ctx context.Context, cc *CLIContext, orchCfg *sync.OrchestratorConfig, interval time.Duration) error {
	release, err := acquireWatchLock(watchPIDPath(cc.Cfg.DataDir))
	if err != nil {
		return err
	}
	defer release()

	reloads := make(chan struct{}, 1)
	forwardHangups(ctx, reloads)

	if _, statErr := os.Stat(cc.Cfg.Path); statErr == nil {
		if err := newConfigWatcher(cc.Cfg.Path, reloads, cc.Logger).Start(ctx); err != nil {
			cc.Logger.Warn("config file watching disabled", slog.String("error", err.Error()))
		}
	}

	orchCfg.Reload = reloads

	cc.Statusf("Watching %d account(s); press Ctrl-C to stop.\n", len(cc.Cfg.AccountList()))

	return sync.NewOrchestrator(orchCfg).RunWatch(ctx, sync.WatchOpts{Interval: interval})
}

// eventSink consumes the orchestrator's event stream: terminal output,
// optional NATS forwarding and the metrics textfile.
type eventSink struct {
	cc       *CLIContext
	watch    bool
	lastPct  map[string]int
	notifier eventPublisher
	metrics  *metrics.Registry
	textfile string
}

// eventPublisher is the part of notify.NATSPublisher the sink uses.
type eventPublisher interface {
	Publish(ev sync.Event) error
	Close()
}

func newEventSink(cc *CLIContext, watch bool) *eventSink {
	s := &eventSink{cc: cc, watch: watch, lastPct: make(map[string]int)}

	if n := cc.Cfg.Notify; n.NATSURL != "" {
		pub, err := notify.Connect(n.NATSURL, n.Subject, cc.Logger)
		if err != nil {
			cc.Logger.Warn("event publishing disabled", slog.String("error", err.Error()))
		} else {
			s.notifier = pub
		}
	}

	if path := cc.Cfg.Metrics.Textfile; path != "" {
		s.metrics = metrics.New()
		s.textfile = path
	}

	return s
}

func (s *eventSink) handle(ev sync.Event) {
	if s.notifier != nil {
		if err := s.notifier.Publish(ev); err != nil {
			s.cc.Logger.Warn("publishing event", slog.String("error", err.Error()))
		}
	}

	switch ev.Kind {
	case sync.EventProgress:
		s.progress(ev)
	case sync.EventAccountStatus:
		if ev.Phase.Terminal() {
			delete(s.lastPct, ev.Account)

			if s.watch {
				s.cc.Statusf("%s\n", accountLine(ev))
			}
		}
	case sync.EventComplete:
		if s.watch {
			s.cc.Statusf("%s: %s\n", formatTime(ev.Time, s.cc.Cfg.Sync.Location()), ev.Message)
		}

		s.writeMetrics()
	case sync.EventLog:
		s.cc.Logger.Debug(ev.Message, slog.String("account", ev.Account))
	}
}

// progress prints at most one line per ten percent per account.
func (s *eventSink) progress(ev sync.Event) {
	step := int(ev.Percent) / 10
	if last, ok := s.lastPct[ev.Account]; ok && step <= last {
		return
	}

	s.lastPct[ev.Account] = step
	s.cc.Statusf("%s: %3.0f%% (%s)\n", ev.Account, ev.Percent, ev.Message)
}

func (s *eventSink) writeMetrics() {
	if s.metrics == nil {
		return
	}

	if err := s.metrics.WriteTextfile(s.textfile); err != nil {
		s.cc.Logger.Warn("metrics export failed", slog.String("error", err.Error()))
	}
}

func (s *eventSink) close() {
	if s.notifier != nil {
		s.notifier.Close()
	}
}

// accountLine summarizes one account's terminal event.
func accountLine(ev sync.Event) string {
	if ev.Err != nil {
		return fmt.Sprintf("%s: %s: %v", ev.Account, ev.Phase, ev.Err)
	}

	r := ev.Report
	if r == nil {
		return fmt.Sprintf("%s: %s", ev.Account, ev.Phase)
	}

	return fmt.Sprintf("%s: %s, %d new, %d status updates, %d queued for retry, %d skipped windows (%s)",
		ev.Account, ev.Phase, r.NewDocuments, r.StatusUpdates, r.RetryQueue, r.SkippedWindows,
		formatDuration(r.Duration))
}
