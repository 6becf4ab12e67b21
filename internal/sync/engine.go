package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/MSBasha93/ETA-Invetcher/internal/config"
	"github.com/MSBasha93/ETA-Invetcher/internal/invoice"
	"github.com/MSBasha93/ETA-Invetcher/internal/store"
)

// EngineConfig holds the options for NewEngine.
type EngineConfig struct {
	Account      config.Account
	State        config.State // as loaded before the run
	API          DocumentAPI
	Auth         Authenticator
	Store        Store
	States       StateSaver
	Location     *time.Location // day boundaries; nil means UTC
	PageSize     int
	LookbackDays int
	Events       chan<- Event // optional
	Metrics      Recorder     // optional
	Logger       *slog.Logger // already scoped to the account
}

// Engine runs the sync sequence for one account. Runs are strictly
// sequential; an Engine is not safe for concurrent RunOnce calls.
type Engine struct {
	account      config.Account
	state        config.State
	oldest       time.Time
	api          DocumentAPI
	auth         Authenticator
	store        Store
	states       StateSaver
	loc          *time.Location
	pageSize     int
	lookbackDays int
	events       chan<- Event
	metrics      Recorder
	logger       *slog.Logger

	nowFunc func() time.Time
}

// NewEngine validates cfg and returns an Engine.
func NewEngine(cfg *EngineConfig) (*Engine, error) {
	if cfg.API == nil || cfg.Auth == nil || cfg.Store == nil || cfg.States == nil {
		return nil, errors.New("sync: engine needs an API, an authenticator, a store and a state saver")
	}

	oldest, err := config.OldestInvoiceDate(cfg.Account, cfg.State)
	if err != nil {
		return nil, fmt.Errorf("sync: account %s: %w", cfg.Account.Name, err)
	}

	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		account:      cfg.Account,
		state:        cfg.State,
		oldest:       oldest,
		api:          cfg.API,
		auth:         cfg.Auth,
		store:        cfg.Store,
		states:       cfg.States,
		loc:          loc,
		pageSize:     cfg.PageSize,
		lookbackDays: cfg.LookbackDays,
		events:       cfg.Events,
		metrics:      cfg.Metrics,
		logger:       logger,
		nowFunc:      time.Now,
	}, nil
}

// Close releases the engine's store.
func (e *Engine) Close() error {
	return e.store.Close()
}

// State returns the account state as of the last finished run.
func (e *Engine) State() config.State {
	return e.state
}

func (e *Engine) cursorKey() string {
	return CursorKey(e.account)
}

// CursorKey identifies the account's cursor row: the API client id, which
// survives renaming the account in the config.
func CursorKey(a config.Account) string {
	if a.ClientID != "" {
		return a.ClientID
	}

	return a.Name
}

// run carries the mutable bookkeeping of one RunOnce call.
type run struct {
	report *SyncReport
	em     *emitter
	logger *slog.Logger
	writer *batchWriter
	newest *newestTracker

	cursor    store.Cursor
	hasCursor bool

	// Left over from the previous run's queues.
	retryLeft   []invoice.RetryEntry
	skippedLeft []invoice.Window

	// Added by this run.
	failures []invoice.RetryEntry
	skipped  []invoice.Window
}

// RunOnce executes one run: Init, RetryQueue, Reconcile, Discovery,
// Finalize. A cancelled run returns its report in PhaseCancelled with a nil
// error and persists nothing. A failed run returns its report in
// PhaseFailed together with the cause.
func (e *Engine) RunOnce(ctx context.Context, opts RunOpts) (*SyncReport, error) {
	started := e.nowFunc()
	runID := uuid.NewString()

	r := &run{
		report: &SyncReport{Account: e.account.Name, RunID: runID},
		em:     &emitter{ch: e.events, account: e.account.Name, runID: runID, nowFunc: e.nowFunc},
		logger: e.logger.With(slog.String("run_id", runID)),
		newest: &newestTracker{},
	}
	r.writer = &batchWriter{api: e.api, store: e.store, newest: r.newest, logger: r.logger}

	phase, err := e.runPhases(ctx, r, opts)

	r.report.Phase = phase
	r.report.Duration = e.nowFunc().Sub(started)

	if e.metrics != nil {
		e.metrics.RunFinished(e.account.Name, phase.String(), r.report.Duration)
	}

	attrs := []any{
		slog.String("phase", phase.String()),
		slog.Int("new_documents", r.report.NewDocuments),
		slog.Int("status_updates", r.report.StatusUpdates),
		slog.Int("retry_queue", r.report.RetryQueue),
		slog.Int("skipped_windows", r.report.SkippedWindows),
		slog.Duration("duration", r.report.Duration),
	}

	if err != nil {
		r.logger.Error("sync run failed", append(attrs, slog.String("error", err.Error()))...)

		return r.report, err
	}

	r.logger.Info("sync run finished", attrs...)

	return r.report, nil
}

func (e *Engine) runPhases(ctx context.Context, r *run, opts RunOpts) (Phase, error) {
	r.em.phase(ctx, PhaseInit)

	if err := e.initRun(ctx, r, opts); err != nil {
		if ctx.Err() != nil {
			return PhaseCancelled, nil
		}

		return PhaseFailed, err
	}

	r.em.phase(ctx, PhaseRetryQueue)

	if err := e.processQueues(ctx, r); err != nil {
		return PhaseFailed, err
	}

	if ctx.Err() != nil {
		return PhaseCancelled, nil
	}

	r.em.phase(ctx, PhaseReconcile)

	rec := &reconciler{api: e.api, store: e.store, logger: r.logger}

	updates, err := rec.run(ctx, e.nowFunc())
	r.report.StatusUpdates = updates

	if e.metrics != nil && updates > 0 {
		e.metrics.StatusUpdated(e.account.Name, updates)
	}

	if errors.Is(err, errAuthLost) {
		return PhaseFailed, err
	}

	if err != nil || ctx.Err() != nil {
		return PhaseCancelled, nil
	}

	r.em.phase(ctx, PhaseDiscovery)

	if err := e.discover(ctx, r); err != nil {
		if errors.Is(err, errAuthLost) {
			return PhaseFailed, err
		}

		return PhaseCancelled, nil
	}

	r.em.phase(ctx, PhaseFinalize)

	if err := e.finalize(context.WithoutCancel(ctx), r); err != nil {
		return PhaseFailed, err
	}

	return PhaseDone, nil
}

// initRun authenticates and loads the cursor.
func (e *Engine) initRun(ctx context.Context, r *run, opts RunOpts) error {
	if _, err := e.auth.Token(ctx); err != nil {
		return fmt.Errorf("sync: authenticating account %s: %w", e.account.Name, err)
	}

	cursor, ok, err := e.store.GetCursor(ctx, e.cursorKey())
	if err != nil {
		return fmt.Errorf("sync: loading cursor: %w", err)
	}

	r.cursor, r.hasCursor = cursor, ok
	r.report.From, r.report.To = runRange(cursor, ok, e.oldest, e.nowFunc(), e.loc, e.lookbackDays, opts)

	r.logger.Info("sync run started",
		slog.String("from", r.report.From.Format(invoice.DateLayout)),
		slog.String("to", r.report.To.Format(invoice.DateLayout)),
		slog.Bool("has_cursor", ok),
		slog.Int("retry_queue", len(e.state.RetryQueue)),
		slog.Int("skipped_windows", len(e.state.SkippedWindows)),
	)

	return nil
}

// processQueues retries the previous run's failed ids and failed windows.
// It returns errAuthLost when the credentials stop working.
func (e *Engine) processQueues(ctx context.Context, r *run) error {
	q := &retryQueue{store: e.store, writer: r.writer, taxID: e.account.TaxID, logger: r.logger}

	out := q.process(ctx, e.state.RetryQueue)
	r.retryLeft = out.Remaining
	r.report.Resolved += out.Resolved
	e.recordStored(r, out.Stored)

	if out.Err != nil {
		return out.Err
	}

	if len(e.state.RetryQueue) > 0 {
		r.em.log(ctx, fmt.Sprintf("retry queue: %d resolved, %d remaining", out.Resolved, len(out.Remaining)))
	}

	for i, w := range e.state.SkippedWindows {
		if ctx.Err() != nil {
			r.skippedLeft = append(r.skippedLeft, e.state.SkippedWindows[i:]...)

			return nil
		}

		if err := e.processWindow(ctx, r, w); err != nil {
			if errors.Is(err, errAuthLost) {
				return err
			}

			r.logger.Warn("skipped window still failing",
				slog.String("window", w.String()),
				slog.String("error", err.Error()),
			)

			r.skippedLeft = append(r.skippedLeft, w)

			continue
		}

		r.report.Resolved++
	}

	return nil
}

// discover walks every day of the run range, inbound then outbound. It
// returns ctx.Err() when cancelled and errAuthLost when the credentials
// stop working.
func (e *Engine) discover(ctx context.Context, r *run) error {
	days := invoice.Days(r.report.From, r.report.To)
	if r.report.From.After(r.report.To) {
		days = nil
	}

	for i, day := range days {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		for _, dir := range invoice.Directions {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			w := invoice.Window{Day: day, Direction: dir}

			if err := e.processWindow(ctx, r, w); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}

				if errors.Is(err, errAuthLost) {
					return err
				}

				r.logger.Warn("window skipped for retry",
					slog.String("window", w.String()),
					slog.String("error", err.Error()),
				)

				r.skipped = append(r.skipped, w)
			}
		}

		r.report.DaysProcessed++

		pct := float64(i+1) / float64(len(days)) * 100
		r.em.progress(ctx, PhaseDiscovery, pct, day.Format(invoice.DateLayout))
	}

	return ctx.Err()
}

// processWindow lists, filters and stores one window. The returned error is
// non-nil when listing failed, meaning the whole window must be retried, or
// when it wraps errAuthLost. Id-level failures go to the run's failure list
// instead.
func (e *Engine) processWindow(ctx context.Context, r *run, w invoice.Window) error {
	summaries, err := paginate(ctx, e.api, w, e.loc, e.pageSize, r.logger)
	if err != nil {
		if authFailure(err) {
			return fmt.Errorf("%w: %w", errAuthLost, err)
		}

		return err
	}

	ids := make([]string, len(summaries))
	for i, s := range summaries {
		ids[i] = s.UUID
	}

	pending, err := filterNew(ctx, e.store, ids, w.Direction)
	if err != nil {
		r.logger.Warn("existence check failed, queueing window documents",
			slog.String("window", w.String()),
			slog.String("error", err.Error()),
		)

		r.failures = append(r.failures, retryEntries(ids, w.Direction)...)

		return nil
	}

	if len(pending) == 0 {
		return nil
	}

	res := r.writer.write(ctx, pending, fixedPartition(w.Direction))
	if errors.Is(res.Err, errAuthLost) {
		return res.Err
	}

	e.recordStored(r, res.Stored)
	r.failures = append(r.failures, retryEntries(res.Failed, w.Direction)...)

	r.logger.Debug("window processed",
		slog.String("window", w.String()),
		slog.Int("listed", len(ids)),
		slog.Int("stored", len(res.Stored)),
		slog.Int("failed", len(res.Failed)),
	)

	return nil
}

func (e *Engine) recordStored(r *run, stored []storedDoc) {
	r.report.NewDocuments += len(stored)

	if e.metrics == nil {
		return
	}

	counts := make(map[invoice.Direction]int)
	for _, s := range stored {
		counts[s.Partition]++
	}

	for p, n := range counts {
		e.metrics.DocumentsStored(e.account.Name, p, n)
	}
}

// finalize advances the cursor and writes the queues. It runs once, only
// for runs that reached it without cancellation.
func (e *Engine) finalize(ctx context.Context, r *run) error {
	if newest, ok := r.newest.newest(); ok && (!r.hasCursor || newest.After(r.cursor)) {
		if err := e.store.SetCursor(ctx, e.cursorKey(), newest); err != nil {
			return fmt.Errorf("sync: saving cursor: %w", err)
		}

		r.report.CursorAdvanced = true
	}

	st := config.State{
		OldestInvoiceDate: e.state.OldestInvoiceDate,
		RetryQueue:        mergeEntries(r.retryLeft, r.failures),
		SkippedWindows:    mergeWindows(r.skippedLeft, r.skipped),
	}

	if err := e.states.SaveState(e.account.Name, st); err != nil {
		return fmt.Errorf("sync: saving state: %w", err)
	}

	e.state = st
	r.report.RetryQueue = len(st.RetryQueue)
	r.report.SkippedWindows = len(st.SkippedWindows)

	if e.metrics != nil {
		e.metrics.QueueSizes(e.account.Name, r.report.RetryQueue, r.report.SkippedWindows)
	}

	return nil
}

func retryEntries(ids []string, dir invoice.Direction) []invoice.RetryEntry {
	out := make([]invoice.RetryEntry, len(ids))
	for i, id := range ids {
		out[i] = invoice.RetryEntry{UUID: id, Direction: dir}
	}

	return out
}
