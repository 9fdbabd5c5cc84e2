package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"offerwatch/internal/alerting"
	"offerwatch/internal/config"
	"offerwatch/internal/evaluator"
	"offerwatch/internal/fetcher"
	"offerwatch/internal/ledger"
	"offerwatch/internal/metrics"
	"offerwatch/internal/model"
	"offerwatch/internal/report"
	"offerwatch/internal/scheduler"
	"offerwatch/internal/service"
	"offerwatch/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) markets() []model.Market {
	out := make([]model.Market, 0, len(a.Config.Markets))
	for _, m := range a.Config.Markets {
		base, quote, _ := model.ParseMarketID(m.ID)
		out = append(out, model.Market{
			ID:    strings.ToLower(strings.TrimSpace(m.ID)),
			Title: m.MarketTitle(),
			Base:  base,
			Quote: quote,
		})
	}
	return out
}

func httpOptions(cfg config.HTTPSourceConfig) fetcher.HTTPOptions {
	return fetcher.HTTPOptions{
		BaseURL:   cfg.BaseURL,
		Timeout:   cfg.RequestTimeout,
		UserAgent: cfg.UserAgent,
	}
}

// newSources wires the upstream sources. The returned closer releases RPC connections.
func (a *App) newSources() (service.Sources, func()) {
	src := a.Config.Sources
	sources := service.Sources{
		Feed: fetcher.NewBisq(httpOptions(src.Bisq), a.Logger),
	}
	if src.FeeRate.Enabled {
		sources.FeeRate = fetcher.NewFeeRate(fetcher.FeeRateOptions{
			HTTPOptions: httpOptions(src.FeeRate.HTTPSourceConfig),
			Target:      src.FeeRate.Target,
		}, a.Logger)
	}

	available := make(map[string]fetcher.QuoteSource)
	closer := func() {}
	if src.Chainlink.Enabled {
		chainlink := fetcher.NewChainlink(fetcher.ChainlinkOptions{
			RPCURL:  src.Chainlink.RPCURL,
			Feeds:   src.Chainlink.Feeds,
			Timeout: src.Chainlink.RequestTimeout,
		}, a.Logger)
		available[chainlink.Name()] = chainlink
		closer = chainlink.Close
	}
	if src.BitcoinAverage.Enabled {
		ba := fetcher.NewBitcoinAverage(fetcher.BitcoinAverageOptions{
			HTTPOptions: httpOptions(src.BitcoinAverage.HTTPSourceConfig),
			PublicKey:   src.BitcoinAverage.PublicKey,
			SecretKey:   src.BitcoinAverage.SecretKey,
		}, a.Logger)
		available[ba.Name()] = ba
	}

	for _, name := range src.QuoteOrder {
		if qs, ok := available[strings.ToLower(name)]; ok {
			sources.Quotes = append(sources.Quotes, qs)
			delete(available, strings.ToLower(name))
		}
	}
	if len(sources.Quotes) == 0 {
		a.Logger.Warn().Msg("no quote source enabled; every market will be skipped")
	}
	return sources, closer
}

func (a *App) newNotifiers() map[string]alerting.Notifier {
	n := a.Config.Notifications
	notifiers := make(map[string]alerting.Notifier)
	if n.Email.Enabled {
		notifiers[config.ChannelEmail] = alerting.NewEmailNotifier(alerting.EmailOptions{
			Host:       n.Email.Host,
			Port:       n.Email.Port,
			Username:   n.Email.Username,
			Password:   n.Email.Password,
			From:       n.Email.From,
			RequireTLS: n.Email.RequireTLS,
			Timeout:    n.Email.RequestTimeout,
		}, a.Logger)
	}
	if n.Telegram.Enabled {
		notifiers[config.ChannelTelegram] = alerting.NewTelegramNotifier(alerting.TelegramOptions{
			BotToken:      n.Telegram.BotToken,
			DefaultChatID: n.Telegram.ChatID,
			APIBase:       n.Telegram.APIBase,
			Timeout:       n.Telegram.RequestTimeout,
			Silent:        n.Telegram.Silent,
		}, a.Logger)
	}
	return notifiers
}

func (a *App) criteria() []alerting.Criterion {
	out := make([]alerting.Criterion, 0, len(a.Config.Notifications.Criteria))
	for _, c := range a.Config.Notifications.Criteria {
		crit := alerting.Criterion{
			Name:           c.Name,
			PaymentMethods: c.PaymentMethods,
			MaxDistance:    c.MaxDistance,
			Channel:        c.Channel,
			Address:        c.Address,
		}
		for _, side := range c.Sides {
			s := model.Side(strings.ToLower(side))
			if s == config.SideBoth {
				crit.Sides = nil
				break
			}
			crit.Sides = append(crit.Sides, s)
		}
		// a blank telegram address means the default chat
		if crit.Channel == config.ChannelTelegram && crit.Address == "" {
			crit.Address = a.Config.Notifications.Telegram.ChatID
		}
		out = append(out, crit)
	}
	return out
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	if a.Config.Database.AutoMigrate {
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, nil, err
		}
	}
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// ledgerStore picks the configured backend. store may be nil unless the backend is postgres.
func (a *App) ledgerStore(store *storage.Store) (ledger.Store, func(), error) {
	switch a.Config.Ledger.Backend {
	case config.LedgerBackendPostgres:
		if store == nil {
			return nil, nil, errors.New("postgres ledger selected but database.dsn not configured")
		}
		return store.Ledger(), func() {}, nil
	case config.LedgerBackendRedis:
		rs := ledger.NewRedisStore(ledger.RedisOptions{
			Addr:     a.Config.Redis.Addr,
			Username: a.Config.Redis.Username,
			Password: a.Config.Redis.Password,
			DB:       a.Config.Redis.DB,
			Key:      a.Config.Ledger.RedisKey,
		})
		return rs, func() { _ = rs.Close() }, nil
	default:
		return ledger.NewFileStore(a.Config.Ledger.Path), func() {}, nil
	}
}

func (a *App) serviceOptions() service.Options {
	cfg := a.Config
	return service.Options{
		Markets: a.markets(),
		Evaluation: evaluator.Options{
			IgnoredPaymentMethods: cfg.Evaluation.IgnoredPaymentMethods,
			MinSaleValues:         cfg.Evaluation.MinSaleValues,
		},
		Reports: report.Options{
			MinThreshold: cfg.Reports.MinThreshold,
			MaxThreshold: cfg.Reports.MaxThreshold,
			PathTemplate: cfg.Reports.PathTemplate,
			Footer:       cfg.Reports.Footer,
		},
		ChartDir:       cfg.Reports.ChartDir,
		ChartThreshold: cfg.Reports.ChartThreshold,
		LockKey:        cfg.Scheduler.AdvisoryLockKey,
		MetricsFile:    cfg.Metrics.Textfile,
	}
}

// runtime holds everything one command needs, plus the cleanup for it.
type runtime struct {
	svc      *service.Service
	recorder *metrics.Recorder
	closers  []func()
}

func (r *runtime) close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

func (a *App) newRuntime(ctx context.Context, sched *scheduler.Scheduler) (*runtime, error) {
	rt := &runtime{recorder: metrics.New()}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	if store == nil {
		a.Logger.Debug().Msg("database.dsn not configured; run history disabled")
	}
	if closeStore != nil {
		rt.closers = append(rt.closers, closeStore)
	}

	ledgerStore, closeLedger, err := a.ledgerStore(store)
	if err != nil {
		rt.close()
		return nil, err
	}
	rt.closers = append(rt.closers, closeLedger)

	sources, closeSources := a.newSources()
	rt.closers = append(rt.closers, closeSources)

	var runs storage.RunStore
	if store != nil {
		runs = store
	}

	notify := service.Notifications{
		Criteria:  a.criteria(),
		Notifiers: a.newNotifiers(),
		Ledger:    ledgerStore,
	}
	rt.svc = service.New(a.serviceOptions(), sched, sources, notify, runs, rt.recorder, a.Logger)
	return rt, nil
}

// Report performs exactly one run and returns its outcome.
func (a *App) Report(ctx context.Context) (service.Summary, error) {
	rt, err := a.newRuntime(ctx, nil)
	if err != nil {
		return service.Summary{}, err
	}
	defer rt.close()

	return rt.svc.ProcessRun(ctx, time.Now().UTC())
}

// Watch executes scheduled runs until interrupted.
func (a *App) Watch(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
		RunOnStart:   a.Config.Scheduler.RunOnStart,
	}, a.Logger)

	rt, err := a.newRuntime(ctx, sched)
	if err != nil {
		return err
	}
	defer rt.close()

	metrics.Serve(ctx, a.Config.Metrics.Addr, rt.recorder.Registry(), a.Logger)

	a.Logger.Info().Dur("interval", a.Config.Scheduler.Interval).Msg("starting watch loop")
	err = rt.svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("watch terminated with error")
		return err
	}

	a.Logger.Info().Msg("watch loop stopped")
	return nil
}

// ChartOptions configure the chart command.
type ChartOptions struct {
	Dir         string
	Market      string
	MaxDistance float64
}

// Chart renders depth charts of the current books without writing reports or notifying.
func (a *App) Chart(ctx context.Context, opts ChartOptions) ([]string, error) {
	if opts.Dir == "" {
		return nil, errors.New("--dir is required")
	}
	if opts.MaxDistance <= 0 {
		opts.MaxDistance = a.Config.Reports.ChartThreshold
	}

	sources, closeSources := a.newSources()
	defer closeSources()

	svcOpts := a.serviceOptions()
	if opts.Market != "" {
		var filtered []model.Market
		for _, m := range svcOpts.Markets {
			if m.ID == strings.ToLower(opts.Market) {
				filtered = append(filtered, m)
			}
		}
		if len(filtered) == 0 {
			return nil, fmt.Errorf("market %q is not configured", opts.Market)
		}
		svcOpts.Markets = filtered
	}

	svc := service.New(svcOpts, nil, sources, service.Notifications{}, nil, nil, a.Logger)
	snap := svc.Collect(ctx, time.Now().UTC())
	if len(snap.Markets) == 0 {
		return nil, errors.New("no market could be collected; see log for details")
	}
	return svc.RenderCharts(snap, svc.NewEvaluator(snap), opts.Dir, opts.MaxDistance), nil
}

// ExportOptions hold parameters for exporting run history.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}
