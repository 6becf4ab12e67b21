package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	gosync "sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MSBasha93/ETA-Invetcher/internal/config"
	"github.com/MSBasha93/ETA-Invetcher/internal/eta"
	"github.com/MSBasha93/ETA-Invetcher/internal/store"
)

// engineRunner is the interface the Orchestrator uses to run one account.
// Implemented by *Engine; tests inject fakes.
type engineRunner interface {
	RunOnce(ctx context.Context, opts RunOpts) (*SyncReport, error)
	Close() error
}

// engineFactoryFunc builds the engine for one account from the current
// config snapshot.
type engineFactoryFunc func(ctx context.Context, acct config.Account, cfg *config.Config) (engineRunner, error)

// OrchestratorConfig holds the inputs for creating an Orchestrator.
type OrchestratorConfig struct {
	Holder  *config.Holder
	DataDir string
	// HTTPClient is shared by token and API calls. Nil builds one per
	// account from the configured request timeout.
	HTTPClient *http.Client
	Events     chan<- Event // optional; owned and drained by the caller
	Metrics    Recorder     // optional
	Logger     *slog.Logger
	// Reload fires after the config file changed. Nil never fires.
	Reload <-chan struct{}
}

// WatchOpts holds options for RunWatch.
type WatchOpts struct {
	RunOpts
	// Interval between cycles. Zero uses sync.watch_interval.
	Interval time.Duration
}

// activeRun is one RunOnce or RunWatch call that Stop can cancel.
type activeRun struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Orchestrator runs every enabled account concurrently, one engine per
// account. It is always used, even for a single account.
type Orchestrator struct {
	cfg           *OrchestratorConfig
	engineFactory engineFactoryFunc // injectable for tests
	logger        *slog.Logger
	nowFunc       func() time.Time

	mu     gosync.Mutex
	active map[*activeRun]struct{}
}

// NewOrchestrator creates an Orchestrator with the real engine factory.
func NewOrchestrator(cfg *OrchestratorConfig) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	o := &Orchestrator{
		cfg:     cfg,
		logger:  logger,
		nowFunc: time.Now,
		active:  make(map[*activeRun]struct{}),
	}
	o.engineFactory = o.newEngine

	return o
}

// track registers a cancellable run. The returned func must be called when
// the run returns.
func (o *Orchestrator) track(ctx context.Context) (context.Context, func()) {
	runCtx, cancel := context.WithCancel(ctx)
	ar := &activeRun{cancel: cancel, done: make(chan struct{})}

	o.mu.Lock()
	o.active[ar] = struct{}{}
	o.mu.Unlock()

	return runCtx, func() {
		cancel()

		o.mu.Lock()
		delete(o.active, ar)
		o.mu.Unlock()

		close(ar.done)
	}
}

// Stop cancels every active run and waits until each has returned. Must not
// be called from inside a run.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	runs := make([]*activeRun, 0, len(o.active))

	for ar := range o.active {
		runs = append(runs, ar)
	}
	o.mu.Unlock()

	for _, ar := range runs {
		ar.cancel()
	}

	for _, ar := range runs {
		<-ar.done
	}
}

// RunOnce runs one cycle for every enabled account and returns when all of
// them reached a terminal state. Account errors are captured in the
// reports; RunOnce itself never fails. A Complete event follows the last
// account's terminal event.
func (o *Orchestrator) RunOnce(ctx context.Context, opts RunOpts) []*AccountReport {
	cfg := o.cfg.Holder.Config()

	return o.runCycle(ctx, cfg, cfg.AccountList(), opts)
}

func (o *Orchestrator) runCycle(ctx context.Context, cfg *config.Config, accounts []config.Account, opts RunOpts) []*AccountReport {
	ctx, untrack := o.track(ctx)
	defer untrack()

	o.logger.Info("orchestrator starting cycle",
		slog.Int("accounts", len(accounts)),
		slog.Int("max_concurrent", cfg.Sync.MaxConcurrentAccounts),
	)

	reports := make([]*AccountReport, len(accounts))

	var g errgroup.Group
	if cfg.Sync.MaxConcurrentAccounts > 0 {
		g.SetLimit(cfg.Sync.MaxConcurrentAccounts)
	}

	for i, acct := range accounts {
		g.Go(func() error {
			runner := &AccountRunner{account: acct.Name}
			reports[i] = runner.run(ctx, func(c context.Context) (*SyncReport, error) {
				return o.runAccount(c, acct, cfg, opts)
			})

			o.emitTerminal(reports[i])

			return nil
		})
	}

	_ = g.Wait()

	o.emit(Event{Kind: EventComplete, Message: completeMessage(reports)})
	o.logger.Info("orchestrator cycle complete", slog.Int("reports", len(reports)))

	return reports
}

func (o *Orchestrator) runAccount(ctx context.Context, acct config.Account, cfg *config.Config, opts RunOpts) (*SyncReport, error) {
	engine, err := o.engineFactory(ctx, acct, cfg)
	if err != nil {
		return nil, fmt.Errorf("sync: preparing account %s: %w", acct.Name, err)
	}

	defer func() {
		if closeErr := engine.Close(); closeErr != nil {
			o.logger.Warn("engine close error",
				slog.String("account", acct.Name),
				slog.String("error", closeErr.Error()),
			)
		}
	}()

	return engine.RunOnce(ctx, opts)
}

func (o *Orchestrator) emitTerminal(r *AccountReport) {
	ev := Event{
		Kind:    EventAccountStatus,
		Account: r.Account,
		Phase:   r.Phase(),
		Message: r.Phase().String(),
		Report:  r.Report,
		Err:     r.Err,
	}

	if r.Report != nil {
		ev.RunID = r.Report.RunID
	}

	o.emit(ev)
}

// emit sends a terminal event. These are never dropped, so the caller must
// keep draining until Complete.
func (o *Orchestrator) emit(ev Event) {
	if o.cfg.Events == nil {
		return
	}

	ev.Time = o.nowFunc()
	o.cfg.Events <- ev
}

func completeMessage(reports []*AccountReport) string {
	failed := 0

	for _, r := range reports {
		if r.Err != nil {
			failed++
		}
	}

	return fmt.Sprintf("%d accounts synced, %d failed", len(reports)-failed, failed)
}

// RunWatch repeats cycles every interval until ctx is cancelled or Stop is
// called. A config reload starts the next cycle at once with the new
// account set. Accounts that keep failing sit out cycles per
// backoffDuration. Returns nil on clean shutdown.
func (o *Orchestrator) RunWatch(ctx context.Context, opts WatchOpts) error {
	ctx, untrack := o.track(ctx)
	defer untrack()

	if len(o.cfg.Holder.Config().AccountList()) == 0 {
		return errors.New("sync: no accounts configured")
	}

	failures := make(map[string]int)
	resumeAt := make(map[string]time.Time)

	reload := o.cfg.Reload
	if reload == nil {
		reload = make(chan struct{})
	}

	for {
		cfg := o.cfg.Holder.Config()
		now := o.nowFunc()

		var due []config.Account

		for _, acct := range cfg.AccountList() {
			if until, ok := resumeAt[acct.Name]; ok && now.Before(until) {
				o.logger.Info("account in failure backoff, skipping cycle",
					slog.String("account", acct.Name),
					slog.Time("resume_at", until),
				)

				continue
			}

			due = append(due, acct)
		}

		for _, r := range o.runCycle(ctx, cfg, due, opts.RunOpts) {
			if r.Err == nil {
				delete(failures, r.Account)
				delete(resumeAt, r.Account)

				continue
			}

			failures[r.Account]++
			if wait := backoffDuration(failures[r.Account]); wait > 0 {
				resumeAt[r.Account] = o.nowFunc().Add(wait)
			}
		}

		interval := opts.Interval
		if interval <= 0 {
			interval = cfg.Sync.WatchEvery()
		}

		timer := time.NewTimer(interval)

		select {
		case <-ctx.Done():
			timer.Stop()
			o.logger.Info("orchestrator RunWatch stopped")

			return nil
		case <-timer.C:
		case <-reload:
			timer.Stop()
			o.reloadConfig()
		}
	}
}

func (o *Orchestrator) reloadConfig() {
	cfg, err := o.cfg.Holder.Reload()
	if err != nil {
		o.logger.Warn("config reload failed, keeping current config",
			slog.String("error", err.Error()),
		)

		return
	}

	o.logger.Info("config reloaded", slog.Int("accounts", len(cfg.AccountList())))
}

// newEngine is the production engine factory: one session, one client and
// one store per account.
func (o *Orchestrator) newEngine(ctx context.Context, acct config.Account, cfg *config.Config) (engineRunner, error) {
	logger := o.logger.With(slog.String("account", acct.Name))

	session := eta.NewSession(eta.SessionConfig{
		ClientID:      acct.ClientID,
		ClientSecret:  acct.ClientSecret,
		TokenURL:      cfg.API.TokenURL,
		RefreshMargin: cfg.API.RefreshMargin(),
		CachePath:     config.TokenPath(o.cfg.DataDir, acct.Name),
		HTTPClient:    o.cfg.HTTPClient,
	}, logger)

	client := eta.NewClient(ClientOptions(cfg.API, o.cfg.HTTPClient), session, logger)

	backend, err := store.Open(ctx, config.DatabaseDSN(o.cfg.DataDir, acct), logger)
	if err != nil {
		return nil, err
	}

	states := config.NewStateDir(o.cfg.DataDir)

	st, err := states.LoadState(acct.Name)
	if err != nil {
		backend.Close()
		return nil, err
	}

	engine, err := NewEngine(&EngineConfig{
		Account:      acct,
		State:        st,
		API:          client,
		Auth:         session,
		Store:        backend,
		States:       states,
		Location:     cfg.Sync.Location(),
		PageSize:     cfg.API.PageSize,
		LookbackDays: cfg.Sync.DefaultLookbackDays,
		Events:       o.cfg.Events,
		Metrics:      o.cfg.Metrics,
		Logger:       logger,
	})
	if err != nil {
		backend.Close()
		return nil, err
	}

	return engine, nil
}

// ClientOptions maps the [api] config section to client options. A zero
// min_request_interval disables spacing.
func ClientOptions(api config.APIConfig, httpClient *http.Client) eta.Options {
	interval := api.MinInterval()
	if interval == 0 {
		interval = -1
	}

	return eta.Options{
		BaseURL:        api.BaseURL,
		MinInterval:    interval,
		MaxAttempts:    api.MaxAttempts,
		RateLimitWait:  api.ThrottleWait(),
		RequestTimeout: api.Timeout(),
		HTTPClient:     httpClient,
	}
}
