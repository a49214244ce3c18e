package cli

import (
	"errors"

	"github.com/spf13/cobra"
)

var (
	triggerCadence string
	triggerStrict  bool
)

var triggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: "Run one invocation of a cadence, as an external scheduler would",
	Example: `  indexer trigger --cadence hourly
  indexer trigger --cadence "0 * * * *"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if triggerCadence == "" {
			return errors.New("--cadence is required")
		}
		report, err := getApp().Trigger(cmd.Context(), triggerCadence, cmd.OutOrStdout())
		if err != nil {
			return err
		}
		if triggerStrict && report.Failed() {
			return errors.New("one or more jobs did not complete")
		}
		return nil
	},
}

func init() {
	triggerCmd.Flags().StringVar(&triggerCadence, "cadence", "", "Cadence name or cron alias")
	triggerCmd.Flags().BoolVar(&triggerStrict, "strict", false, "Exit non-zero when any job fails")
}
