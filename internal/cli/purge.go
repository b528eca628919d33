package cli

import (
	"github.com/spf13/cobra"

	"token-watch/internal/app"
)

var (
	purgeDays int
)

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete events and observations past retention",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.PurgeOptions{
			Days: purgeDays,
		}
		return getApp().Purge(cmd.Context(), opts)
	},
}

func init() {
	purgeCmd.Flags().IntVar(&purgeDays, "days", 0, "Retention in days (defaults to config)")
}
