package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Fetch the offer book once and write every threshold report",
	RunE: func(cmd *cobra.Command, args []string) error {
		summary, err := getApp().Report(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "markets: %d, offers: %d, qualifying: %d\n", summary.Markets, summary.Offers, summary.Qualifying)
		if len(summary.FailedMarkets) > 0 {
			fmt.Fprintf(out, "skipped: %s\n", strings.Join(summary.FailedMarkets, ", "))
		}
		fmt.Fprintf(out, "reports: %d, notifications sent: %d, failed: %d\n", len(summary.Reports), summary.NotificationsSent, summary.NotificationsFailed)
		return nil
	},
}
