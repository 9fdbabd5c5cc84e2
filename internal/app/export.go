package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"offerwatch/internal/fsutil"
	"offerwatch/internal/storage"
)

// Export renders the run history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if opts.MaxPoints <= 0 {
		opts.MaxPoints = 1000
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-time.Duration(opts.MaxPoints) * a.Config.Scheduler.Interval)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	runs, err := store.ListRunsBetween(ctx, from, to)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		a.Logger.Info().Msg("no runs found for export window")
		return nil
	}

	downsampled := downsampleRuns(runs, opts.MaxPoints)
	a.Logger.Info().Int("total", len(runs)).Int("exported", len(downsampled)).Msg("exporting runs")

	if opts.CSVPath != "" {
		if err := writeRunsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeRunsPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleRuns(runs []storage.RunRecord, max int) []storage.RunRecord {
	if max <= 0 || len(runs) <= max {
		return runs
	}
	if max == 1 {
		return runs[len(runs)-1:]
	}

	result := make([]storage.RunRecord, 0, max)
	step := float64(len(runs)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(runs) {
			idx = len(runs) - 1
		}
		result = append(result, runs[idx])
	}
	return result
}

func writeRunsCSV(path string, runs []storage.RunRecord) error {
	if err := fsutil.EnsureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	header := []string{"taken_at", "btc_usd", "markets", "failed_markets", "offers", "qualifying", "reports", "notifications_sent", "notifications_failed", "duration_ms"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, run := range runs {
		record := []string{
			run.TakenAt.Format(time.RFC3339),
			run.BTCUSD.String(),
			strconv.Itoa(run.Markets),
			strings.Join(run.FailedMarkets, " "),
			strconv.Itoa(run.Offers),
			strconv.Itoa(run.Qualifying),
			strconv.Itoa(run.Reports),
			strconv.Itoa(run.NotificationsSent),
			strconv.Itoa(run.NotificationsFailed),
			strconv.FormatInt(run.Duration.Milliseconds(), 10),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeRunsPNG(path string, runs []storage.RunRecord) error {
	if len(runs) < 2 {
		return errors.New("need at least two runs to draw a chart")
	}
	if err := fsutil.EnsureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(runs))
	price := make([]float64, len(runs))
	offers := make([]float64, len(runs))
	qualifying := make([]float64, len(runs))

	for i, run := range runs {
		x[i] = run.TakenAt
		price[i] = run.BTCUSD.InexactFloat64()
		offers[i] = float64(run.Offers)
		qualifying[i] = float64(run.Qualifying)
	}

	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name: "BTC/USD",
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.0f")
			},
		},
		YAxisSecondary: chart.YAxis{
			Name: "Offers",
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.0f")
			},
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "BTC/USD",
				XValues: x,
				YValues: price,
			},
			chart.TimeSeries{
				Name:    "Offers",
				XValues: x,
				YValues: offers,
				YAxis:   chart.YAxisSecondary,
			},
			chart.TimeSeries{
				Name:    "Qualifying (all thresholds)",
				XValues: x,
				YValues: qualifying,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}
