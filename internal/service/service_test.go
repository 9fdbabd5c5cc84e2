package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offerwatch/internal/alerting"
	"offerwatch/internal/fetcher"
	"offerwatch/internal/ledger"
	"offerwatch/internal/metrics"
	"offerwatch/internal/model"
	"offerwatch/internal/report"
	"offerwatch/internal/scheduler"
	"offerwatch/internal/storage"
)

var runAt = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type stubQuotes struct {
	prices map[string]float64
	calls  map[string]int
}

func (s *stubQuotes) Name() string { return "stub" }

func (s *stubQuotes) FetchQuote(_ context.Context, pair model.Pair) (float64, error) {
	s.calls[pair.Key()]++
	price, ok := s.prices[pair.Key()]
	if !ok {
		return 0, fetcher.ErrPairNotSupported
	}
	return price, nil
}

type countingFeed struct {
	books  map[string]model.Book
	calls  map[string]int
	trades map[string]int
}

func (f *countingFeed) FetchBook(_ context.Context, marketID string) (model.Book, error) {
	f.calls[marketID]++
	book, ok := f.books[marketID]
	if !ok {
		return model.Book{}, fetcher.ErrFeedUnavailable
	}
	return book, nil
}

func (f *countingFeed) FetchLastTrade(_ context.Context, marketID string) (model.LastTrade, error) {
	f.trades[marketID]++
	return model.LastTrade{}, errors.New("trades endpoint down")
}

type failingFeeRate struct{}

func (failingFeeRate) FetchFeeRate(context.Context) (int64, error) {
	return 0, errors.New("mempool down")
}

type recordingNotifier struct {
	offers []string
}

func (n *recordingNotifier) Notify(_ context.Context, _ string, note alerting.Notification) error {
	n.offers = append(n.offers, note.Offer.Offer.ID)
	return nil
}

type brokenLedger struct{}

func (brokenLedger) Load(context.Context) ([]string, error) { return nil, nil }
func (brokenLedger) Save(context.Context, []string) error   { return errors.New("disk full") }

type memoryRuns struct {
	runs     []storage.RunRecord
	lockHeld bool
}

func (m *memoryRuns) InsertRun(_ context.Context, run storage.RunRecord) (storage.RunRecord, error) {
	m.runs = append(m.runs, run)
	return run, nil
}

func (m *memoryRuns) ListRecentRuns(context.Context, int) ([]storage.RunRecord, error) {
	return m.runs, nil
}

func (m *memoryRuns) ListRunsBetween(context.Context, time.Time, time.Time) ([]storage.RunRecord, error) {
	return m.runs, nil
}

func (m *memoryRuns) DeleteRunsBefore(context.Context, time.Time) (int64, error) { return 0, nil }

func (m *memoryRuns) TryAdvisoryLock(context.Context, int64) (func(), bool, error) {
	if m.lockHeld {
		return nil, false, nil
	}
	return func() {}, true, nil
}

type fixture struct {
	quotes *stubQuotes
	feed   *countingFeed
	opts   Options
	dir    string
}

func newFixture(t *testing.T) *fixture {
	dir := t.TempDir()
	return &fixture{
		quotes: &stubQuotes{
			prices: map[string]float64{"btc_eur": 100, "ltc_usd": 50},
			calls:  map[string]int{},
		},
		feed: &countingFeed{
			books: map[string]model.Book{
				"btc_eur": {Sells: []model.Offer{
					{ID: "near-1", Price: 103, MinAmount: 0.01, Amount: 0.5, PaymentMethod: "SEPA", CreatedAt: runAt.Add(-time.Hour)},
					{ID: "far-1", Price: 110, MinAmount: 0.01, Amount: 1, PaymentMethod: "SEPA", CreatedAt: runAt.Add(-time.Hour)},
				}},
				"ltc_btc": {},
			},
			calls:  map[string]int{},
			trades: map[string]int{},
		},
		opts: Options{
			Markets: []model.Market{
				{ID: "btc_eur", Title: "Bitcoin Offers with EUR", Base: "btc", Quote: "eur"},
				{ID: "ltc_btc", Title: "Litecoin Offers with BTC", Base: "ltc", Quote: "btc"},
			},
			Reports: report.Options{PathTemplate: filepath.Join(dir, "offers_%d.txt")},
		},
		dir: dir,
	}
}

func (f *fixture) sources() Sources {
	return Sources{Quotes: []fetcher.QuoteSource{f.quotes}, Feed: f.feed, FeeRate: failingFeeRate{}}
}

func TestProcessRunFetchesOncePerRun(t *testing.T) {
	f := newFixture(t)
	svc := New(f.opts, nil, f.sources(), Notifications{}, nil, nil, zerolog.Nop())

	summary, err := svc.ProcessRun(context.Background(), runAt)
	require.NoError(t, err)

	assert.Len(t, summary.Reports, 100)
	assert.Equal(t, 1, f.feed.calls["btc_eur"])
	assert.Equal(t, 1, f.feed.trades["btc_eur"])
	assert.Equal(t, 1, f.quotes.calls["btc_eur"])
	assert.Equal(t, 1, f.quotes.calls["btc_usd"], "failed multiplier must be fetched once and cached")
	assert.Equal(t, 2, summary.Offers)
	// near qualifies from 3, far from 10
	assert.Equal(t, 98+91, summary.Qualifying)
}

func TestMultiplierFailureExcludesMarket(t *testing.T) {
	f := newFixture(t)
	svc := New(f.opts, nil, f.sources(), Notifications{}, nil, nil, zerolog.Nop())

	summary, err := svc.ProcessRun(context.Background(), runAt)
	require.NoError(t, err)

	assert.Equal(t, []string{"ltc_btc"}, summary.FailedMarkets)
	assert.Equal(t, 1, summary.Markets)
	assert.Zero(t, f.feed.calls["ltc_btc"], "market without multiplier must not hit the feed")

	text, err := os.ReadFile(summary.Reports[99])
	require.NoError(t, err)
	assert.Contains(t, string(text), "Bitcoin Offers with EUR\nNo trade found\n")
	assert.NotContains(t, string(text), "Litecoin")
}

func TestFeedFailureSkipsOnlyThatMarket(t *testing.T) {
	f := newFixture(t)
	f.quotes.prices["btc_chf"] = 90
	f.opts.Markets = append([]model.Market{{ID: "btc_chf", Title: "Bitcoin Offers with CHF", Base: "btc", Quote: "chf"}}, f.opts.Markets...)
	svc := New(f.opts, nil, f.sources(), Notifications{}, nil, nil, zerolog.Nop())

	summary, err := svc.ProcessRun(context.Background(), runAt)
	require.NoError(t, err)

	assert.Equal(t, 1, f.feed.calls["btc_chf"])
	assert.Zero(t, f.feed.trades["btc_chf"], "no trade lookup for a market without a book")
	assert.ElementsMatch(t, []string{"btc_chf", "ltc_btc"}, summary.FailedMarkets)
	assert.Equal(t, 1, summary.Markets)
	require.Len(t, summary.Reports, 100)

	text, err := os.ReadFile(summary.Reports[99])
	require.NoError(t, err)
	assert.NotContains(t, string(text), "Bitcoin Offers with CHF")
	assert.Contains(t, string(text), "Bitcoin Offers with EUR\nNo trade found\nSells\n\tID: near\n")
}

func TestCollectFeeRateFallsBackToZero(t *testing.T) {
	f := newFixture(t)
	svc := New(f.opts, nil, f.sources(), Notifications{}, nil, nil, zerolog.Nop())

	snap := svc.Collect(context.Background(), runAt)
	assert.Zero(t, snap.FeeRate)
	assert.Equal(t, runAt, snap.TakenAt)
	// the ltc reference quote resolved before its multiplier failed, so it is still shown
	require.Len(t, snap.Quotes, 2)
	assert.Equal(t, "btc_eur", snap.Quotes[0].Pair.Key())
	assert.Equal(t, "ltc_usd", snap.Quotes[1].Pair.Key())
}

func TestProcessRunNotifiesOncePerOffer(t *testing.T) {
	f := newFixture(t)
	notifier := &recordingNotifier{}
	notify := Notifications{
		Criteria:  []alerting.Criterion{{Name: "all", MaxDistance: 5, Channel: "telegram", Address: "@deals"}},
		Notifiers: map[string]alerting.Notifier{"telegram": notifier},
		Ledger:    ledger.NewFileStore(filepath.Join(f.dir, "sent.json")),
	}
	runs := &memoryRuns{}
	recorder := metrics.New()
	f.opts.MetricsFile = filepath.Join(f.dir, "offerwatch.prom")
	svc := New(f.opts, nil, f.sources(), notify, runs, recorder, zerolog.Nop())

	summary, err := svc.ProcessRun(context.Background(), runAt)
	require.NoError(t, err)
	assert.Equal(t, []string{"near-1"}, notifier.offers)
	assert.Equal(t, 1, summary.NotificationsSent)

	// second run over the same book must not notify again
	_, err = svc.ProcessRun(context.Background(), runAt.Add(time.Minute))
	require.NoError(t, err)
	assert.Len(t, notifier.offers, 1)

	require.Len(t, runs.runs, 2)
	assert.Equal(t, 1, runs.runs[0].NotificationsSent)
	assert.Equal(t, 0, runs.runs[1].NotificationsSent)
	assert.Equal(t, []string{"ltc_btc"}, runs.runs[0].FailedMarkets)
	assert.FileExists(t, f.opts.MetricsFile)
}

func TestLedgerSaveFailureIsFatal(t *testing.T) {
	f := newFixture(t)
	notify := Notifications{
		Criteria:  []alerting.Criterion{{MaxDistance: 5, Channel: "telegram", Address: "@deals"}},
		Notifiers: map[string]alerting.Notifier{"telegram": &recordingNotifier{}},
		Ledger:    brokenLedger{},
	}
	svc := New(f.opts, nil, f.sources(), notify, nil, nil, zerolog.Nop())

	_, err := svc.ProcessRun(context.Background(), runAt)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLedgerSave))
}

func TestWatchStopsOnLedgerFailure(t *testing.T) {
	f := newFixture(t)
	notify := Notifications{
		Criteria:  []alerting.Criterion{{MaxDistance: 5, Channel: "telegram", Address: "@deals"}},
		Notifiers: map[string]alerting.Notifier{"telegram": &recordingNotifier{}},
		Ledger:    brokenLedger{},
	}
	sched := scheduler.New(scheduler.Options{Interval: time.Hour, RunOnStart: true}, zerolog.Nop())
	svc := New(f.opts, sched, f.sources(), notify, nil, nil, zerolog.Nop())

	err := svc.Run(context.Background())
	assert.True(t, errors.Is(err, ErrLedgerSave), "got %v", err)
}

func TestRunSkippedWhenLockHeld(t *testing.T) {
	f := newFixture(t)
	f.opts.LockKey = 42
	runs := &memoryRuns{lockHeld: true}
	svc := New(f.opts, nil, f.sources(), Notifications{}, runs, nil, zerolog.Nop())

	summary, err := svc.ProcessRun(context.Background(), runAt)
	require.NoError(t, err)
	assert.Empty(t, summary.Reports)
	assert.Zero(t, f.feed.calls["btc_eur"])
	assert.Empty(t, runs.runs)
}

func TestRenderCharts(t *testing.T) {
	f := newFixture(t)
	svc := New(f.opts, nil, f.sources(), Notifications{}, nil, nil, zerolog.Nop())
	snap := svc.Collect(context.Background(), runAt)

	paths := svc.RenderCharts(snap, svc.NewEvaluator(snap), filepath.Join(f.dir, "charts"), 20)
	require.Equal(t, []string{filepath.Join(f.dir, "charts", "btc_eur.png")}, paths)
	assert.FileExists(t, paths[0])
}
