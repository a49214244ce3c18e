package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"token-indexer/internal/app"
)

var (
	showTable      string
	showInstrument string
	showLimit      int
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent rows of a series table",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Table:      showTable,
			Instrument: showInstrument,
			Limit:      showLimit,
		}

		return getApp().Show(cmd.Context(), opts, cmd.OutOrStdout())
	},
}

func init() {
	showCmd.Flags().StringVar(&showTable, "table", "prices", "Table: prices, market_caps, hourly_prices, daily_prices, daily_market_caps")
	showCmd.Flags().StringVar(&showInstrument, "instrument", "", "Instrument name or address (defaults to all)")
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Rows to display per instrument")
}
