package cli

import (
	"github.com/spf13/cobra"

	"token-watch/internal/app"
)

var (
	simulateMovePct float64
	simulateTicks   int
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Drive a threshold rule through synthetic ticks",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.SimulateOptions{
			PriceMovePct: simulateMovePct,
			Ticks:        simulateTicks,
		}
		return getApp().Simulate(cmd.Context(), opts)
	},
}

func init() {
	simulateCmd.Flags().Float64Var(&simulateMovePct, "move", 5, "Synthetic price move per tick (percent)")
	simulateCmd.Flags().IntVar(&simulateTicks, "ticks", 3, "Number of ticks to simulate")
}
