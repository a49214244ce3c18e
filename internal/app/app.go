package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/rs/zerolog"

	"token-indexer/internal/alerting"
	"token-indexer/internal/api"
	"token-indexer/internal/config"
	"token-indexer/internal/dispatcher"
	"token-indexer/internal/fetcher"
	"token-indexer/internal/instrument"
	"token-indexer/internal/jobs"
	"token-indexer/internal/logging"
	"token-indexer/internal/observability"
	"token-indexer/internal/rollup"
	"token-indexer/internal/scheduler"
	"token-indexer/internal/service"
	"token-indexer/internal/storage"
)

const metricsNamespace = "token_indexer"

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logging.Component(logger, "app")}
}

// wiring holds everything one process needs to run invocations.
type wiring struct {
	instruments *instrument.Set
	store       storage.Gateway
	locker      storage.AdvisoryLocker
	metrics     *observability.Metrics
	dispatcher  *dispatcher.Dispatcher
	service     *service.Service
	closers     []func()
}

func (w *wiring) close() {
	for i := len(w.closers) - 1; i >= 0; i-- {
		w.closers[i]()
	}
}

func (a *App) newFetchers() (*fetcher.Price, *fetcher.Supply) {
	price := fetcher.NewPrice(fetcher.PriceOptions{
		BaseURL:   a.Config.Price.BaseURL,
		Timeout:   a.Config.Price.RequestTimeout,
		UserAgent: a.Config.Price.UserAgent,
	}, a.Logger)

	supply := fetcher.NewSupply(fetcher.SupplyOptions{
		RPCURL:  a.Config.Ledger.RPCURL,
		Timeout: a.Config.Ledger.RequestTimeout,
	}, a.Logger)

	return price, supply
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Enabled && a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, cfg.Timeout, a.Logger)
	}
	return nil
}

// openDatabase connects to PostgreSQL, applying migrations when configured.
func (a *App) openDatabase(ctx context.Context, set *instrument.Set) (*storage.Store, error) {
	if a.Config.Database.DSN == "" {
		return nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, err
	}

	if a.Config.Database.AutoMigrate {
		applied, err := storage.Migrate(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, err
		}
		if len(applied) > 0 {
			a.Logger.Info().Strs("migrations", applied).Msg("schema migrations applied")
		}
	}

	return storage.NewStore(pool, set.Addresses()...), nil
}

func (a *App) requireDatabase(ctx context.Context) (*storage.Store, *instrument.Set, error) {
	set, err := a.Config.InstrumentSet()
	if err != nil {
		return nil, nil, err
	}
	store, err := a.openDatabase(ctx, set)
	if err != nil {
		return nil, nil, err
	}
	if store == nil {
		return nil, nil, errors.New("database.dsn not configured")
	}
	return store, set, nil
}

func (a *App) rollupDefinitions() ([]rollup.Definition, error) {
	defs := make([]rollup.Definition, 0, len(a.Config.Rollups))
	for name, rc := range a.Config.Rollups {
		def, err := rollup.NewDefinition(name, rc.Source, rc.Destination, rc.Window, rc.DependsOn)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	rollup.SortDefinitions(defs)
	return defs, nil
}

// wire assembles store, fetchers, jobs, dispatcher and the cadence service.
func (a *App) wire(ctx context.Context) (*wiring, error) {
	w := &wiring{metrics: observability.NewMetrics(metricsNamespace)}

	set, err := a.Config.InstrumentSet()
	if err != nil {
		return nil, err
	}
	w.instruments = set

	pg, err := a.openDatabase(ctx, set)
	if err != nil {
		return nil, err
	}
	if pg != nil {
		w.store, w.locker = pg, pg
		w.closers = append(w.closers, pg.Close)
	} else {
		a.Logger.Warn().Msg("database.dsn not configured; using in-memory store")
		w.store = storage.NewMemoryStore(set.Addresses()...)
	}

	price, supply := a.newFetchers()
	w.closers = append(w.closers, supply.Close)

	defs, err := a.rollupDefinitions()
	if err != nil {
		w.close()
		return nil, err
	}

	registry, err := jobs.Build(jobs.Deps{
		Prices:      price,
		Supplies:    supply,
		Store:       w.store,
		Instruments: set,
		Source:      a.Config.Price.Source,
		Metrics:     w.metrics,
		Logger:      a.Logger,
	}, defs)
	if err != nil {
		w.close()
		return nil, err
	}

	w.dispatcher = dispatcher.New(a.Logger, w.metrics)
	schedulers := make([]*scheduler.Scheduler, 0, len(a.Config.Cadences))
	for _, name := range a.Config.CadenceNames() {
		cad := a.Config.Cadences[name]
		list, err := registry.Resolve(cad.Jobs)
		if err != nil {
			w.close()
			return nil, fmt.Errorf("cadence %s: %w", name, err)
		}
		if err := w.dispatcher.Register(name, list, cad.Cron); err != nil {
			w.close()
			return nil, err
		}
		sched, err := scheduler.New(scheduler.Options{
			Name:          name,
			Interval:      cad.Interval,
			AlignToBucket: a.Config.Scheduler.AlignToBucket,
			StartupDelay:  a.Config.Scheduler.StartupDelay,
		}, a.Logger)
		if err != nil {
			w.close()
			return nil, err
		}
		schedulers = append(schedulers, sched)
	}

	w.service, err = service.New(service.Options{
		AdvisoryLockKey: a.Config.Scheduler.AdvisoryLockKey,
		Environment:     a.Config.App.Environment,
	}, w.dispatcher, schedulers, w.locker, a.newNotifier(), a.Logger)
	if err != nil {
		w.close()
		return nil, err
	}
	return w, nil
}

// Run executes the cadence schedulers and the read API until interrupted.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	w, err := a.wire(ctx)
	if err != nil {
		return err
	}
	defer w.close()

	var g run.Group
	for _, cadence := range w.service.Cadences() {
		g.Add(actor(ctx, func(ctx context.Context) error {
			return w.service.RunCadence(ctx, cadence)
		}))
	}

	if a.Config.API.Enabled {
		opts := api.Options{
			ListenAddr:   a.Config.API.ListenAddr,
			LegacyErrors: a.Config.API.LegacyErrors,
			ReadTimeout:  a.Config.API.ReadTimeout,
		}
		if a.Config.API.Metrics {
			opts.Metrics = w.metrics.Handler()
		}
		server := api.New(opts, w.store, w.instruments, a.Logger)
		g.Add(actor(ctx, server.Run))
	}

	a.Logger.Info().Strs("cadences", w.service.Cadences()).Bool("api", a.Config.API.Enabled).Msg("starting indexer")
	err = g.Run()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("indexer terminated with error")
		return err
	}

	a.Logger.Info().Msg("indexer stopped")
	return nil
}

// actor adapts a context-driven runner into an oklog/run actor pair.
func actor(ctx context.Context, fn func(context.Context) error) (func() error, func(error)) {
	ctx, cancel := context.WithCancelCause(ctx)
	return func() error {
			return fn(ctx)
		}, func(err error) {
			cancel(err)
		}
}

// Trigger performs one invocation for the given cadence or cron alias and prints the report.
func (a *App) Trigger(ctx context.Context, trigger string, out io.Writer) (dispatcher.Report, error) {
	w, err := a.wire(ctx)
	if err != nil {
		return dispatcher.Report{}, err
	}
	defer w.close()

	report, err := w.service.Invoke(ctx, trigger)
	if err != nil {
		return report, err
	}
	fmt.Fprint(out, report.String())
	return report, nil
}

// Migrate applies the embedded schema.
func (a *App) Migrate(ctx context.Context, out io.Writer) error {
	store, _, err := a.requireDatabase(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	applied, err := storage.Migrate(ctx, store.Pool())
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		fmt.Fprintln(out, "schema up to date")
		return nil
	}
	for _, name := range applied {
		fmt.Fprintf(out, "applied %s\n", name)
	}
	return nil
}

// ExportOptions hold parameters for exporting one series.
type ExportOptions struct {
	Table      string
	Instrument string
	From       *time.Time
	To         *time.Time
	PNGPath    string
	CSVPath    string
	MaxPoints  int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Table      string
	Instrument string
	Limit      int
}
