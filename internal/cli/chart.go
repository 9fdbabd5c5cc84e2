package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"offerwatch/internal/app"
)

var (
	chartDir         string
	chartMarket      string
	chartMaxDistance float64
)

var chartCmd = &cobra.Command{
	Use:   "chart",
	Short: "Render depth charts of the current offer books",
	RunE: func(cmd *cobra.Command, args []string) error {
		paths, err := getApp().Chart(cmd.Context(), app.ChartOptions{
			Dir:         chartDir,
			Market:      chartMarket,
			MaxDistance: chartMaxDistance,
		})
		if err != nil {
			return err
		}
		for _, p := range paths {
			fmt.Fprintln(cmd.OutOrStdout(), p)
		}
		return nil
	},
}

func init() {
	chartCmd.Flags().StringVar(&chartDir, "dir", "charts", "Directory to write PNG charts into")
	chartCmd.Flags().StringVar(&chartMarket, "market", "", "Only chart this market (e.g. btc_eur)")
	chartCmd.Flags().Float64Var(&chartMaxDistance, "max-distance", 0, "Distance window in percent (defaults to reports.chart_threshold)")
}
