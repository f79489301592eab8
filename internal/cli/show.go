package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"merchant-status-alerts/internal/app"
)

var (
	showLimit  int
	showEmails bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent check records or alert emails",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Limit:  showLimit,
			Emails: showEmails,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of records to display")
	showCmd.Flags().BoolVar(&showEmails, "emails", false, "Show dispatched alert emails instead of checks")
}
