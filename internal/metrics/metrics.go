package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Recorder holds run metrics on a dedicated registry.
type Recorder struct {
	registry *prometheus.Registry

	runs                *prometheus.CounterVec
	offersEvaluated     prometheus.Counter
	offersQualifying    prometheus.Counter
	reportsWritten      prometheus.Counter
	notificationsSent   prometheus.Counter
	notificationsFailed prometheus.Counter
	marketsSkipped      *prometheus.CounterVec
	runDuration         prometheus.Histogram
	lastRun             prometheus.Gauge
	referencePrice      *prometheus.GaugeVec
}

// RunStats is what one report run contributes.
type RunStats struct {
	Evaluated           int
	Qualifying          int
	Reports             int
	NotificationsSent   int
	NotificationsFailed int
	SkippedMarkets      []string
	Duration            time.Duration
	FinishedAt          time.Time
}

// New registers all collectors on a fresh registry.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "offerwatch_runs_total",
			Help: "Report runs by outcome",
		}, []string{"outcome"}),
		offersEvaluated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "offerwatch_offers_evaluated_total",
			Help: "Offer evaluations across all thresholds",
		}),
		offersQualifying: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "offerwatch_offers_qualifying_total",
			Help: "Offer evaluations that passed every filter",
		}),
		reportsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "offerwatch_reports_written_total",
			Help: "Report files written",
		}),
		notificationsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "offerwatch_notifications_sent_total",
			Help: "Notifications delivered",
		}),
		notificationsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "offerwatch_notifications_failed_total",
			Help: "Notifications whose transport failed",
		}),
		marketsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "offerwatch_markets_skipped_total",
			Help: "Markets left out of a run because a source failed",
		}, []string{"market"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "offerwatch_run_duration_seconds",
			Help:    "Wall time of a report run",
			Buckets: prometheus.DefBuckets,
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "offerwatch_last_run_timestamp_seconds",
			Help: "Unix time of the last successful run",
		}),
		referencePrice: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "offerwatch_reference_price",
			Help: "Reference quote used by the last run",
		}, []string{"pair"}),
	}

	r.registry.MustRegister(
		r.runs,
		r.offersEvaluated,
		r.offersQualifying,
		r.reportsWritten,
		r.notificationsSent,
		r.notificationsFailed,
		r.marketsSkipped,
		r.runDuration,
		r.lastRun,
		r.referencePrice,
	)
	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ObserveRun records a completed run.
func (r *Recorder) ObserveRun(stats RunStats) {
	r.runs.WithLabelValues("ok").Inc()
	r.offersEvaluated.Add(float64(stats.Evaluated))
	r.offersQualifying.Add(float64(stats.Qualifying))
	r.reportsWritten.Add(float64(stats.Reports))
	r.notificationsSent.Add(float64(stats.NotificationsSent))
	r.notificationsFailed.Add(float64(stats.NotificationsFailed))
	for _, market := range stats.SkippedMarkets {
		r.marketsSkipped.WithLabelValues(market).Inc()
	}
	r.runDuration.Observe(stats.Duration.Seconds())
	if !stats.FinishedAt.IsZero() {
		r.lastRun.Set(float64(stats.FinishedAt.Unix()))
	}
}

// ObserveFailure counts a run that aborted.
func (r *Recorder) ObserveFailure() {
	r.runs.WithLabelValues("error").Inc()
}

// SetReferencePrice exports a quote such as btc_usd.
func (r *Recorder) SetReferencePrice(pair string, price float64) {
	r.referencePrice.WithLabelValues(pair).Set(price)
}

// WriteTextfile dumps the registry in the node-exporter textfile format.
func (r *Recorder) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.registry)
}

// Serve exposes /metrics and /healthz until ctx is cancelled.
func Serve(ctx context.Context, addr string, reg *prometheus.Registry, logger zerolog.Logger) {
	log := logger.With().Str("component", "metrics").Logger()
	if addr == "" {
		log.Info().Msg("metrics disabled: empty addr")
		return
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", Handler(reg))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("metrics server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics server error")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("metrics server shutdown error")
			return
		}
		log.Info().Msg("metrics server stopped")
	}()
}

// Handler serves reg, or the default gatherer when reg is nil.
func Handler(reg *prometheus.Registry) http.Handler {
	if reg == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}
