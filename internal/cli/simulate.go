package cli

import (
	"errors"

	"github.com/spf13/cobra"
)

var (
	simulateDisapproved int
	simulateLimited     int
	simulateSuspended   int
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Run the decision path against fabricated totals",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateDisapproved < 0 || simulateLimited < 0 || simulateSuspended < 0 {
			return errors.New("counts cannot be negative")
		}

		return getApp().SimulateAlert(cmd.Context(), simulateDisapproved, simulateLimited, simulateSuspended)
	},
}

func init() {
	simulateCmd.Flags().IntVar(&simulateDisapproved, "disapproved", 0, "Simulated disapproved product count")
	simulateCmd.Flags().IntVar(&simulateLimited, "limited", 0, "Simulated limited product count")
	simulateCmd.Flags().IntVar(&simulateSuspended, "suspended", 0, "Simulated suspended product count")
}
