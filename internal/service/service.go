package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"offerwatch/internal/alerting"
	"offerwatch/internal/evaluator"
	"offerwatch/internal/fees"
	"offerwatch/internal/fetcher"
	"offerwatch/internal/ledger"
	"offerwatch/internal/metrics"
	"offerwatch/internal/model"
	"offerwatch/internal/oracle"
	"offerwatch/internal/report"
	"offerwatch/internal/scheduler"
	"offerwatch/internal/storage"
)

// ErrLedgerSave marks a run whose ledger could not be persisted. It is fatal.
var ErrLedgerSave = errors.New("ledger save failed")

// Sources bundles the upstream data sources of a run.
type Sources struct {
	Quotes  []fetcher.QuoteSource
	Feed    fetcher.OfferFeed
	FeeRate fetcher.FeeRateFetcher
}

// Notifications bundles routing configuration.
type Notifications struct {
	Criteria  []alerting.Criterion
	Notifiers map[string]alerting.Notifier
	Ledger    ledger.Store
}

// Options tune a run.
type Options struct {
	Markets        []model.Market
	Evaluation     evaluator.Options
	Reports        report.Options
	ChartDir       string
	ChartThreshold float64
	LockKey        int64
	MetricsFile    string
}

// Summary describes one finished run.
type Summary struct {
	TakenAt             time.Time
	Markets             int
	FailedMarkets       []string
	Offers              int
	Evaluated           int
	Qualifying          int
	Reports             []string
	Charts              []string
	NotificationsSent   int
	NotificationsFailed int
	Duration            time.Duration
}

// Service orchestrates snapshot collection, report generation and routing.
type Service struct {
	scheduler *scheduler.Scheduler
	sources   Sources
	notify    Notifications
	runs      storage.RunStore
	locker    storage.AdvisoryLocker
	metrics   *metrics.Recorder
	opts      Options
	logger    zerolog.Logger
	now       func() time.Time
}

// New constructs the service. sched, runs and recorder may be nil.
func New(opts Options, sched *scheduler.Scheduler, sources Sources, notify Notifications, runs storage.RunStore, recorder *metrics.Recorder, logger zerolog.Logger) *Service {
	var locker storage.AdvisoryLocker
	if l, ok := runs.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		scheduler: sched,
		sources:   sources,
		notify:    notify,
		runs:      runs,
		locker:    locker,
		metrics:   recorder,
		opts:      opts,
		logger:    logger.With().Str("component", "service").Logger(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run begins the scheduled run loop. A ledger failure stops the loop and is returned.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	err := s.scheduler.Run(ctx, func(ctx context.Context, at time.Time) error {
		_, err := s.ProcessRun(ctx, at)
		if errors.Is(err, ErrLedgerSave) {
			cancel(err)
		}
		return err
	})
	if cause := context.Cause(ctx); cause != nil && errors.Is(cause, ErrLedgerSave) {
		return cause
	}
	return err
}

// ProcessRun 执行一次完整的报告生成。
func (s *Service) ProcessRun(ctx context.Context, at time.Time) (Summary, error) {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return Summary{}, err
	}
	if !proceed {
		s.logger.Info().Time("at", at).Msg("skip run because advisory lock held elsewhere")
		return Summary{}, nil
	}
	if unlock != nil {
		defer unlock()
	}

	summary, err := s.executeRun(ctx, at)
	if err != nil && s.metrics != nil {
		s.metrics.ObserveFailure()
	}
	return summary, err
}

// Collect fetches everything a run needs exactly once. Per-market failures are recorded in the
// snapshot and logged once; they never abort collection.
func (s *Service) Collect(ctx context.Context, at time.Time) *model.Snapshot {
	snap := model.NewSnapshot(at)
	quotes := oracle.New(s.sources.Quotes, s.logger)

	for _, market := range s.opts.Markets {
		if err := ctx.Err(); err != nil {
			snap.Fail(market.ID, err)
			continue
		}

		resolved, err := quotes.Resolve(ctx, market)
		if err != nil {
			snap.Fail(market.ID, err)
			continue
		}

		book, err := s.sources.Feed.FetchBook(ctx, market.ID)
		if err != nil {
			snap.Fail(market.ID, err)
			continue
		}

		trade, err := s.sources.Feed.FetchLastTrade(ctx, market.ID)
		if err != nil {
			s.logger.Warn().Err(err).Str("market", market.ID).Msg("last trade unavailable")
			trade = model.LastTrade{}
		}

		snap.Markets = append(snap.Markets, resolved)
		snap.Books[market.ID] = book
		snap.LastTrades[market.ID] = trade
	}

	for _, q := range quotes.Quotes() {
		snap.AddQuote(q)
	}

	if s.sources.FeeRate != nil {
		rate, err := s.sources.FeeRate.FetchFeeRate(ctx)
		if err != nil {
			s.logger.Warn().Err(err).Msg("fee rate unavailable; network fee assumed zero")
		} else {
			snap.FeeRate = rate
		}
	}

	for _, id := range snap.FailedMarkets() {
		s.logger.Warn().Err(snap.Failures[id]).Str("market", id).Msg("market skipped for this run")
	}
	s.logger.Info().Int("markets", len(snap.Markets)).
		Int("skipped", len(snap.Failures)).
		Int("offers", snap.OfferCount()).
		Int64("fee_rate", snap.FeeRate).
		Msg("snapshot collected")
	return snap
}

// NewEvaluator builds the evaluator for a snapshot's fee rate.
func (s *Service) NewEvaluator(snap *model.Snapshot) *evaluator.Evaluator {
	return evaluator.New(fees.NewEstimator(snap.FeeRate), s.opts.Evaluation)
}

func (s *Service) executeRun(ctx context.Context, at time.Time) (Summary, error) {
	started := s.now()
	snap := s.Collect(ctx, at)
	eval := s.NewEvaluator(snap)

	router := alerting.NewRouter(ctx, s.notify.Criteria, s.notify.Notifiers, s.notify.Ledger, s.logger)
	var sink report.OfferSink
	if len(s.notify.Criteria) > 0 {
		sink = router
	}

	gen := report.NewGenerator(eval, sink, s.opts.Reports, s.logger)
	res, genErr := gen.Generate(ctx, snap)

	// persist the ledger even if generation stopped part way
	if err := router.Flush(ctx); err != nil {
		return Summary{}, fmt.Errorf("%w: %w", ErrLedgerSave, err)
	}
	if genErr != nil {
		return Summary{}, fmt.Errorf("generate reports: %w", genErr)
	}

	summary := Summary{
		TakenAt:             snap.TakenAt,
		Markets:             len(snap.Markets),
		FailedMarkets:       snap.FailedMarkets(),
		Offers:              snap.OfferCount(),
		Evaluated:           res.Evaluated,
		Qualifying:          res.Qualifying,
		Reports:             res.Files,
		NotificationsSent:   router.Sent(),
		NotificationsFailed: len(router.Errors()),
	}

	if s.opts.ChartDir != "" {
		summary.Charts = s.RenderCharts(snap, eval, s.opts.ChartDir, s.opts.ChartThreshold)
	}

	summary.Duration = s.now().Sub(started)
	s.record(ctx, snap, summary)

	s.logger.Info().Time("at", at).
		Int("reports", len(summary.Reports)).
		Int("qualifying", summary.Qualifying).
		Int("notifications_sent", summary.NotificationsSent).
		Int("notifications_failed", summary.NotificationsFailed).
		Dur("duration", summary.Duration).
		Msg("run complete")
	return summary, nil
}

// RenderCharts writes one depth chart per market into dir and returns the written paths.
func (s *Service) RenderCharts(snap *model.Snapshot, eval *evaluator.Evaluator, dir string, maxDistance float64) []string {
	chart := report.NewDepthChart(eval, maxDistance)
	var paths []string
	for _, market := range snap.Markets {
		path := filepath.Join(dir, market.ID+".png")
		if err := chart.RenderFile(path, market, snap.Books[market.ID]); err != nil {
			if errors.Is(err, report.ErrNotEnoughOffers) {
				s.logger.Debug().Str("market", market.ID).Msg("not enough offers for a chart")
				continue
			}
			s.logger.Warn().Err(err).Str("market", market.ID).Msg("failed to render depth chart")
			continue
		}
		paths = append(paths, path)
	}
	return paths
}

func (s *Service) record(ctx context.Context, snap *model.Snapshot, summary Summary) {
	btcUSD := referencePrice(snap, "btc_usd")

	if s.runs != nil {
		run := storage.RunRecord{
			TakenAt:             summary.TakenAt,
			BTCUSD:              decimal.NewFromFloat(btcUSD),
			Markets:             summary.Markets,
			FailedMarkets:       summary.FailedMarkets,
			Offers:              summary.Offers,
			Qualifying:          summary.Qualifying,
			Reports:             len(summary.Reports),
			NotificationsSent:   summary.NotificationsSent,
			NotificationsFailed: summary.NotificationsFailed,
			Duration:            summary.Duration,
		}
		if _, err := s.runs.InsertRun(ctx, run); err != nil {
			s.logger.Error().Err(err).Msg("failed to persist run summary")
		}
	}

	if s.metrics == nil {
		return
	}
	for _, q := range snap.Quotes {
		s.metrics.SetReferencePrice(q.Pair.Key(), q.Price)
	}
	s.metrics.ObserveRun(metrics.RunStats{
		Evaluated:           summary.Evaluated,
		Qualifying:          summary.Qualifying,
		Reports:             len(summary.Reports),
		NotificationsSent:   summary.NotificationsSent,
		NotificationsFailed: summary.NotificationsFailed,
		SkippedMarkets:      summary.FailedMarkets,
		Duration:            summary.Duration,
		FinishedAt:          s.now(),
	})
	if s.opts.MetricsFile != "" {
		if err := s.metrics.WriteTextfile(s.opts.MetricsFile); err != nil {
			s.logger.Error().Err(err).Str("path", s.opts.MetricsFile).Msg("failed to write metrics textfile")
		}
	}
}

func referencePrice(snap *model.Snapshot, key string) float64 {
	for _, q := range snap.Quotes {
		if q.Pair.Key() == key {
			return q.Price
		}
	}
	return 0
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.opts.LockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.opts.LockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
