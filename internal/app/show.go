package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"offerwatch/internal/storage"
)

// Show prints recent report runs.
func (a *App) Show(ctx context.Context, w io.Writer, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show runs")
	}
	if closeStore != nil {
		defer closeStore()
	}

	runs, err := store.ListRecentRuns(ctx, opts.Limit)
	if err != nil {
		return err
	}
	return writeRunsTable(w, runs)
}

func writeRunsTable(w io.Writer, runs []storage.RunRecord) error {
	if len(runs) == 0 {
		_, err := fmt.Fprintln(w, "no runs found")
		return err
	}

	writer := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tBTC/USD\tMarkets\tOffers\tQualifying\tSent\tFailed\tDuration\tSkipped")

	for _, run := range runs {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%d\t%d\t%d\t%d\t%d\t%s\t%s\n",
			run.TakenAt.UTC().Format(time.RFC3339),
			run.BTCUSD.StringFixed(2),
			run.Markets,
			run.Offers,
			run.Qualifying,
			run.NotificationsSent,
			run.NotificationsFailed,
			run.Duration.Round(time.Millisecond),
			sanitizeInline(strings.Join(run.FailedMarkets, ",")),
		)
	}

	return writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
