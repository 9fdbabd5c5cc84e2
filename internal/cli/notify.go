package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var notifyTestCmd = &cobra.Command{
	Use:   "notify-test",
	Short: "Send one sample notification per configured criterion",
	RunE: func(cmd *cobra.Command, args []string) error {
		sent, err := getApp().NotifyTest(cmd.Context())
		fmt.Fprintf(cmd.OutOrStdout(), "sent %d test notification(s)\n", sent)
		return err
	},
}
